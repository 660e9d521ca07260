package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"remit-settlement-go/internal/metrics"
	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/provider"
)

// scriptedProvider fails a fixed number of times before succeeding.
type scriptedProvider struct {
	name      string
	failures  int
	calls     int
	responses []*models.ProviderResponse // optional scripted responses, by call
}

func (s *scriptedProvider) Name() string { return s.name }

func (s *scriptedProvider) respond() (*models.ProviderResponse, error) {
	call := s.calls
	s.calls++
	if s.responses != nil && call < len(s.responses) {
		return s.responses[call], nil
	}
	if call < s.failures {
		return nil, fmt.Errorf("%s unavailable", s.name)
	}
	return &models.ProviderResponse{
		Success:      true,
		ProviderTxId: s.name + "-tx",
		Status:       models.ResponseStatusCompleted,
	}, nil
}

func (s *scriptedProvider) InitiateDeposit(_ context.Context, _ models.TransferRequest) (*models.ProviderResponse, error) {
	return s.respond()
}

func (s *scriptedProvider) InitiateWithdrawal(_ context.Context, _ models.TransferRequest) (*models.ProviderResponse, error) {
	return s.respond()
}

func (s *scriptedProvider) TransactionStatus(_ context.Context, _ string) (*models.ProviderResponse, error) {
	return s.respond()
}

func (s *scriptedProvider) SupportedCurrencies() []string { return []string{"USD"} }

func (s *scriptedProvider) Capabilities() models.ProviderCapabilities {
	return models.ProviderCapabilities{ProviderId: s.name, Active: true}
}

func testExecutor(providers ...*scriptedProvider) (*Executor, *metrics.Recorder) {
	registry := provider.NewRegistry()
	for _, p := range providers {
		registry.Register(p.name, p)
	}
	recorder := metrics.NewRecorder()
	return NewExecutor(registry, recorder), recorder
}

func testPolicy(fallbacks ...string) Policy {
	return Policy{
		MaxRetries:         2,
		BaseDelay:          time.Millisecond,
		ExponentialBackoff: true,
		Fallbacks:          fallbacks,
	}
}

func testRequest() models.TransferRequest {
	return models.TransferRequest{
		TransactionId: "tx-100",
		Amount:        decimal.NewFromInt(100),
		Currency:      "USD",
		Destination:   "acct-1",
	}
}

func withdrawalOp() Operation {
	return func(ctx context.Context, p provider.Provider) (*models.ProviderResponse, error) {
		return p.InitiateWithdrawal(ctx, testRequest())
	}
}

func TestExecuteWithRetry_FirstAttemptSucceeds(t *testing.T) {
	primary := &scriptedProvider{name: "bank"}
	executor, _ := testExecutor(primary)

	result, err := executor.ExecuteWithRetry(context.Background(), "bank",
		models.OperationWithdrawal, withdrawalOp(), testPolicy(), testRequest())
	if err != nil {
		t.Fatalf("ExecuteWithRetry failed: %v", err)
	}

	if result.Provider != "bank" {
		t.Errorf("expected bank, got %s", result.Provider)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", result.Attempts)
	}
	if result.Fallback {
		t.Error("primary success must not be marked fallback")
	}
	if len(result.Failures) != 0 {
		t.Errorf("expected no failures, got %v", result.Failures)
	}
}

func TestExecuteWithRetry_RetriesThenSucceeds(t *testing.T) {
	primary := &scriptedProvider{name: "bank", failures: 2}
	executor, _ := testExecutor(primary)

	result, err := executor.ExecuteWithRetry(context.Background(), "bank",
		models.OperationWithdrawal, withdrawalOp(), testPolicy(), testRequest())
	if err != nil {
		t.Fatalf("ExecuteWithRetry failed: %v", err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", result.Attempts)
	}
	if len(result.Failures) != 0 {
		t.Errorf("retried-then-succeeded provider must not appear in failures: %v", result.Failures)
	}
}

func TestExecuteWithRetry_FallbackExhaustion(t *testing.T) {
	// Provider A fails all retries; provider B succeeds immediately.
	a := &scriptedProvider{name: "bank", failures: 100}
	b := &scriptedProvider{name: "custody"}
	executor, _ := testExecutor(a, b)

	result, err := executor.ExecuteWithRetry(context.Background(), "bank",
		models.OperationWithdrawal, withdrawalOp(), testPolicy("custody"), testRequest())
	if err != nil {
		t.Fatalf("ExecuteWithRetry failed: %v", err)
	}

	if result.Provider != "custody" {
		t.Errorf("success must be attributed to custody, got %s", result.Provider)
	}
	if !result.Fallback {
		t.Error("expected fallback flag")
	}
	// Error list contains exactly A's failure, never B's.
	if len(result.Failures) != 1 {
		t.Fatalf("expected exactly 1 failure, got %d: %v", len(result.Failures), result.Failures)
	}
	if result.Failures[0].Provider != "bank" {
		t.Errorf("expected bank in failures, got %s", result.Failures[0].Provider)
	}
	// A was attempted MaxRetries+1 times, never more.
	if a.calls != 3 {
		t.Errorf("expected bank attempted 3 times, got %d", a.calls)
	}
}

func TestExecuteWithRetry_PendingIsTerminalSuccess(t *testing.T) {
	pending := &scriptedProvider{
		name: "mpesa",
		responses: []*models.ProviderResponse{
			{Success: true, ProviderTxId: "mp-1", Status: models.ResponseStatusPending},
		},
	}
	executor, _ := testExecutor(pending)

	result, err := executor.ExecuteWithRetry(context.Background(), "mpesa",
		models.OperationWithdrawal, withdrawalOp(), testPolicy(), testRequest())
	if err != nil {
		t.Fatalf("pending response must not be retried: %v", err)
	}
	if result.Attempts != 1 {
		t.Errorf("expected 1 attempt for pending, got %d", result.Attempts)
	}
	if result.Response.Status != models.ResponseStatusPending {
		t.Errorf("expected pending status, got %s", result.Response.Status)
	}
}

func TestExecuteWithRetry_FailedStatusIsError(t *testing.T) {
	rejected := &scriptedProvider{
		name: "bank",
		responses: []*models.ProviderResponse{
			{Success: false, Status: models.ResponseStatusFailed, ErrorCode: "INSUFFICIENT_FUNDS"},
			{Success: false, Status: models.ResponseStatusFailed, ErrorCode: "INSUFFICIENT_FUNDS"},
			{Success: false, Status: models.ResponseStatusFailed, ErrorCode: "INSUFFICIENT_FUNDS"},
		},
	}
	executor, _ := testExecutor(rejected)

	_, err := executor.ExecuteWithRetry(context.Background(), "bank",
		models.OperationWithdrawal, withdrawalOp(), testPolicy(), testRequest())
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("expected ErrAllProvidersExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "INSUFFICIENT_FUNDS") {
		t.Errorf("aggregate error should carry the provider error code: %v", err)
	}
}

func TestExecuteWithRetry_AllExhaustedListsEveryProvider(t *testing.T) {
	a := &scriptedProvider{name: "bank", failures: 100}
	b := &scriptedProvider{name: "custody", failures: 100}
	executor, _ := testExecutor(a, b)

	result, err := executor.ExecuteWithRetry(context.Background(), "bank",
		models.OperationWithdrawal, withdrawalOp(), testPolicy("custody"), testRequest())
	if !errors.Is(err, ErrAllProvidersExhausted) {
		t.Fatalf("expected ErrAllProvidersExhausted, got %v", err)
	}

	if len(result.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(result.Failures))
	}
	for _, name := range []string{"bank", "custody"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("aggregate error missing provider %s: %v", name, err)
		}
	}
}

func TestExecuteWithRetry_UnknownFallbackSkipped(t *testing.T) {
	a := &scriptedProvider{name: "bank", failures: 100}
	b := &scriptedProvider{name: "custody"}
	executor, _ := testExecutor(a, b)

	result, err := executor.ExecuteWithRetry(context.Background(), "bank",
		models.OperationWithdrawal, withdrawalOp(), testPolicy("ghost", "custody"), testRequest())
	if err != nil {
		t.Fatalf("ExecuteWithRetry failed: %v", err)
	}
	if result.Provider != "custody" {
		t.Errorf("expected custody, got %s", result.Provider)
	}
	// The unknown method is reported, not silently dropped.
	found := false
	for _, f := range result.Failures {
		if f.Provider == "ghost" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ghost in failures, got %v", result.Failures)
	}
}

func TestExecuteWithRetry_RecordsMetrics(t *testing.T) {
	primary := &scriptedProvider{name: "bank", failures: 1}
	executor, recorder := testExecutor(primary)

	_, err := executor.ExecuteWithRetry(context.Background(), "bank",
		models.OperationWithdrawal, withdrawalOp(), testPolicy(), testRequest())
	if err != nil {
		t.Fatalf("ExecuteWithRetry failed: %v", err)
	}

	stats := recorder.Stats("bank")
	if stats.Samples != 2 {
		t.Errorf("expected 2 samples, got %d", stats.Samples)
	}
	if stats.Successes != 1 || stats.Failures != 1 {
		t.Errorf("expected 1 success and 1 failure, got %+v", stats)
	}
}

func TestExecuteWithRetry_ContextCancelledDuringBackoff(t *testing.T) {
	primary := &scriptedProvider{name: "bank", failures: 100}
	executor, _ := testExecutor(primary)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := testPolicy()
	policy.BaseDelay = time.Hour // would hang without context abort

	_, err := executor.ExecuteWithRetry(ctx, "bank",
		models.OperationWithdrawal, withdrawalOp(), policy, testRequest())
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
}
