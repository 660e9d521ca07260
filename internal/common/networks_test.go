package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func writeNetworksFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "networks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write networks file: %v", err)
	}
	return path
}

func TestLoadNetworkConfigs(t *testing.T) {
	path := writeNetworksFile(t, `
networks:
  - name: ethereum-mainnet
    native_currency: ETH
    required_confirmations: 12
    min_transfer_unit: "0.000001"
    asset_decimals:
      ETH: 18
      USDC: 6
    token_contracts:
      USDC: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
    gas_fee_fallback: "0.01"
    gas_buffer_percent: 15
`)

	configs, err := LoadNetworkConfigs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected 1 network, got %d", len(configs))
	}

	n := configs[0]
	if n.Name != "ethereum-mainnet" || n.NativeCurrency != "ETH" {
		t.Errorf("unexpected network identity: %+v", n)
	}
	if n.RequiredConfirmations != 12 {
		t.Errorf("expected 12 confirmations, got %d", n.RequiredConfirmations)
	}
	if !n.MinTransferUnit.Equal(decimal.RequireFromString("0.000001")) {
		t.Errorf("unexpected min transfer unit %s", n.MinTransferUnit)
	}
	if n.AssetDecimals["USDC"] != 6 {
		t.Errorf("expected USDC decimals 6, got %d", n.AssetDecimals["USDC"])
	}
	if n.TokenContracts["USDC"] == "" {
		t.Error("expected USDC contract address")
	}
}

func TestLoadNetworkConfigs_DefaultsGasBuffer(t *testing.T) {
	path := writeNetworksFile(t, `
networks:
  - name: base-mainnet
    native_currency: ETH
    required_confirmations: 6
`)

	configs, err := LoadNetworkConfigs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if configs[0].GasBufferPercent != 15 {
		t.Errorf("expected default gas buffer 15, got %d", configs[0].GasBufferPercent)
	}
}

func TestLoadNetworkConfigs_RejectsMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing name", "networks:\n  - native_currency: ETH\n    required_confirmations: 6\n"},
		{"missing native currency", "networks:\n  - name: x\n    required_confirmations: 6\n"},
		{"zero confirmations", "networks:\n  - name: x\n    native_currency: ETH\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeNetworksFile(t, tc.content)
			if _, err := LoadNetworkConfigs(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestFindNetworkConfig(t *testing.T) {
	path := writeNetworksFile(t, `
networks:
  - name: ethereum-mainnet
    native_currency: ETH
    required_confirmations: 12
  - name: polygon-mainnet
    native_currency: POL
    required_confirmations: 30
`)

	configs, err := LoadNetworkConfigs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := FindNetworkConfig(configs, "polygon-mainnet")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found.NativeCurrency != "POL" {
		t.Errorf("wrong network returned: %+v", found)
	}

	if _, err := FindNetworkConfig(configs, "solana-mainnet"); err == nil {
		t.Error("expected error for unknown network")
	}
}
