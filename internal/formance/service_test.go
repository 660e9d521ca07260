package formance

import (
	"math/big"
	"testing"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
)

// ---------- Unit tests for pure helpers (no Formance stack needed) ----------

func TestFormanceAsset(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"USDC", "USDC/6"},
		{"BTC", "BTC/8"},
		{"ETH", "ETH/18"},
		{"USD", "USD/2"},
		{"UNKNOWN", "UNKNOWN/6"}, // default precision
	}
	for _, tt := range tests {
		if got := formanceAsset(tt.symbol); got != tt.want {
			t.Errorf("formanceAsset(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

func TestPrecisionFor(t *testing.T) {
	if precisionFor("USDC") != 6 {
		t.Error("expected USDC precision 6")
	}
	if precisionFor("ETH") != 18 {
		t.Error("expected ETH precision 18")
	}
	if precisionFor("NGN") != 6 {
		t.Error("expected unknown precision default 6")
	}
}

func TestVolumeBalance(t *testing.T) {
	// Explicit balance wins.
	vols := map[string]shared.V2Volume{
		"USDC/6": {Balance: big.NewInt(250)},
	}
	if got := volumeBalance(vols, "USDC/6"); got.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("expected 250, got %s", got)
	}

	// Derived from input minus output.
	vols = map[string]shared.V2Volume{
		"USDC/6": {Input: big.NewInt(1000), Output: big.NewInt(300)},
	}
	if got := volumeBalance(vols, "USDC/6"); got.Cmp(big.NewInt(700)) != 0 {
		t.Errorf("expected 700, got %s", got)
	}

	// Missing asset.
	if got := volumeBalance(vols, "ETH/18"); got != nil {
		t.Errorf("expected nil for missing asset, got %s", got)
	}
}
