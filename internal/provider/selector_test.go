package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"remit-settlement-go/internal/models"
)

// stubProvider is a minimal Provider for selection tests.
type stubProvider struct {
	name string
	caps models.ProviderCapabilities
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) InitiateDeposit(_ context.Context, _ models.TransferRequest) (*models.ProviderResponse, error) {
	return &models.ProviderResponse{Success: true, Status: models.ResponseStatusCompleted}, nil
}

func (s *stubProvider) InitiateWithdrawal(_ context.Context, _ models.TransferRequest) (*models.ProviderResponse, error) {
	return &models.ProviderResponse{Success: true, Status: models.ResponseStatusCompleted}, nil
}

func (s *stubProvider) TransactionStatus(_ context.Context, _ string) (*models.ProviderResponse, error) {
	return &models.ProviderResponse{Success: true, Status: models.ResponseStatusCompleted}, nil
}

func (s *stubProvider) SupportedCurrencies() []string { return s.caps.Currencies }

func (s *stubProvider) Capabilities() models.ProviderCapabilities { return s.caps }

func newStub(name string, priority int, currencies []string, opts ...func(*models.ProviderCapabilities)) *stubProvider {
	caps := models.ProviderCapabilities{
		ProviderId: name,
		Currencies: currencies,
		Operations: []models.OperationType{models.OperationDeposit, models.OperationWithdrawal},
		Active:     true,
		Priority:   priority,
	}
	for _, opt := range opts {
		opt(&caps)
	}
	return &stubProvider{name: name, caps: caps}
}

func setupSelector(providers ...*stubProvider) *Selector {
	registry := NewRegistry()
	for _, p := range providers {
		registry.Register(p.name, p)
	}
	return NewSelector(registry, nil)
}

func usdCriteria(amount float64) Criteria {
	return Criteria{
		Currency: "USD",
		Type:     models.OperationWithdrawal,
		Amount:   decimal.NewFromFloat(amount),
	}
}

func TestSelect_HighestPriorityWins(t *testing.T) {
	selector := setupSelector(
		newStub("bank", 10, []string{"USD", "EUR"}),
		newStub("custody", 50, []string{"USD"}),
		newStub("mpesa", 30, []string{"KES"}),
	)

	result, err := selector.Select(usdCriteria(100))
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if result.Provider.Name() != "custody" {
		t.Errorf("expected custody, got %s", result.Provider.Name())
	}
	if result.Reason != ReasonPriority {
		t.Errorf("unexpected reason %q", result.Reason)
	}
	if len(result.Fallbacks) != 1 || result.Fallbacks[0].Name() != "bank" {
		t.Errorf("expected single fallback bank, got %v", names(result.Fallbacks))
	}
}

func TestSelect_Deterministic(t *testing.T) {
	selector := setupSelector(
		newStub("bank", 10, []string{"USD"}),
		newStub("custody", 50, []string{"USD"}),
		newStub("wire", 25, []string{"USD"}),
	)

	first, err := selector.Select(usdCriteria(100))
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := selector.Select(usdCriteria(100))
		if err != nil {
			t.Fatalf("Select failed on iteration %d: %v", i, err)
		}
		if again.Provider.Name() != first.Provider.Name() {
			t.Fatalf("selection not deterministic: %s vs %s", again.Provider.Name(), first.Provider.Name())
		}
	}
}

func TestSelect_PriorityTieBreaksByRegistrationOrder(t *testing.T) {
	selector := setupSelector(
		newStub("first", 20, []string{"USD"}),
		newStub("second", 20, []string{"USD"}),
	)

	result, err := selector.Select(usdCriteria(100))
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if result.Provider.Name() != "first" {
		t.Errorf("expected registration order tie-break, got %s", result.Provider.Name())
	}
}

func TestSelect_PreferredProvider(t *testing.T) {
	selector := setupSelector(
		newStub("bank", 10, []string{"USD"}),
		newStub("custody", 50, []string{"USD"}),
	)

	criteria := usdCriteria(100)
	criteria.Preferred = "bank"

	result, err := selector.Select(criteria)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if result.Provider.Name() != "bank" {
		t.Errorf("expected preferred bank, got %s", result.Provider.Name())
	}
	if !result.WasPreferred {
		t.Error("expected WasPreferred to be set")
	}
	if result.Reason != ReasonPreferred {
		t.Errorf("unexpected reason %q", result.Reason)
	}
	// The eligible set is unchanged: custody becomes the fallback.
	if len(result.Fallbacks) != 1 || result.Fallbacks[0].Name() != "custody" {
		t.Errorf("expected fallback custody, got %v", names(result.Fallbacks))
	}
}

func TestSelect_PreferredIneligibleFallsBackToPriority(t *testing.T) {
	selector := setupSelector(
		newStub("bank", 10, []string{"USD"}),
		newStub("custody", 50, []string{"USD"}),
		newStub("mpesa", 99, []string{"KES"}),
	)

	criteria := usdCriteria(100)
	criteria.Preferred = "mpesa" // does not support USD

	result, err := selector.Select(criteria)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if result.Provider.Name() != "custody" {
		t.Errorf("expected custody, got %s", result.Provider.Name())
	}
	if result.WasPreferred {
		t.Error("ineligible preferred provider must not be marked preferred")
	}
}

func TestSelect_Filtering(t *testing.T) {
	withLimits := func(caps *models.ProviderCapabilities) {
		caps.Limits = map[string]models.CurrencyLimits{
			"USD": {Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(1000)},
		}
	}
	inactive := func(caps *models.ProviderCapabilities) { caps.Active = false }
	kenyaOnly := func(caps *models.ProviderCapabilities) { caps.Countries = []string{"KE"} }
	depositOnly := func(caps *models.ProviderCapabilities) {
		caps.Operations = []models.OperationType{models.OperationDeposit}
	}

	tests := []struct {
		name     string
		criteria Criteria
		want     string
		wantErr  bool
	}{
		{"amount below min excluded", usdCriteria(5), "plain", false},
		{"amount above max excluded", usdCriteria(5000), "plain", false},
		{"amount within limits included", usdCriteria(500), "limited", false},
		{
			"country restriction excludes",
			Criteria{Currency: "USD", Type: models.OperationWithdrawal, Amount: decimal.NewFromInt(50), Country: "NG"},
			"limited", false,
		},
		{
			"operation filter excludes",
			Criteria{Currency: "USD", Type: models.OperationRefund, Amount: decimal.NewFromInt(50)},
			"", true,
		},
		{
			"unknown currency",
			Criteria{Currency: "JPY", Type: models.OperationWithdrawal, Amount: decimal.NewFromInt(50)},
			"", true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selector := setupSelector(
				newStub("limited", 90, []string{"USD"}, withLimits),
				newStub("plain", 10, []string{"USD"}),
				newStub("disabled", 99, []string{"USD"}, inactive),
				newStub("kenya", 95, []string{"USD"}, kenyaOnly),
				newStub("deposits", 80, []string{"USD"}, depositOnly),
			)
			// The kenya provider only matters for the country case; exclude it
			// from criteria without country by restricting to KE.
			if tt.criteria.Country == "" {
				tt.criteria.Country = "GB"
			}

			result, err := selector.Select(tt.criteria)
			if tt.wantErr {
				if !errors.Is(err, ErrNoEligibleProvider) {
					t.Fatalf("expected ErrNoEligibleProvider, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Select failed: %v", err)
			}
			if tt.criteria.Type == models.OperationWithdrawal && result.Provider.Name() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, result.Provider.Name())
			}
		})
	}
}

func TestSelect_NoEligibleProviderDiagnostics(t *testing.T) {
	selector := setupSelector(newStub("bank", 10, []string{"USD"}))

	_, err := selector.Select(Criteria{
		Currency: "GHS",
		Type:     models.OperationWithdrawal,
		Amount:   decimal.NewFromInt(42),
	})
	if !errors.Is(err, ErrNoEligibleProvider) {
		t.Fatalf("expected ErrNoEligibleProvider, got %v", err)
	}
	for _, fragment := range []string{"GHS", "42", "withdrawal"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q missing diagnostic %q", err.Error(), fragment)
		}
	}
}

func names(providers []Provider) []string {
	out := make([]string, len(providers))
	for i, p := range providers {
		out[i] = p.Name()
	}
	return out
}
