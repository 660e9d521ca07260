package database

import (
	"context"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/store"
)

func newTestTransfer(txId string) *models.BlockchainTransfer {
	return &models.BlockchainTransfer{
		TransactionId: txId,
		WalletId:      "wallet-1",
		Network:       "ethereum-mainnet",
		Currency:      "USDC",
		Amount:        decimal.RequireFromString("25.50"),
		FromAddress:   "0x1111111111111111111111111111111111111111",
		ToAddress:     "0x2222222222222222222222222222222222222222",
		Status:        models.TransferStatusPending,
	}
}

func TestTransferLifecycle(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := service.CreateTransfer(ctx, newTestTransfer("txn-1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := service.AttachTxHash(ctx, "txn-1", "0xabc123"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	got, err := service.GetTransfer(ctx, "txn-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.TransferStatusPending {
		t.Errorf("expected PENDING, got %s", got.Status)
	}
	if got.TxHash != "0xabc123" {
		t.Errorf("expected hash attached, got %q", got.TxHash)
	}
	if !got.Amount.Equal(decimal.RequireFromString("25.50")) {
		t.Errorf("amount round trip failed: %s", got.Amount.String())
	}

	if err := service.RecordCheck(ctx, "txn-1", 3, 7); err != nil {
		t.Fatalf("record check failed: %v", err)
	}
	got, _ = service.GetTransfer(ctx, "txn-1")
	if got.CheckAttempts != 3 || got.Confirmations != 7 {
		t.Errorf("expected attempts 3 confirmations 7, got %d/%d", got.CheckAttempts, got.Confirmations)
	}

	if err := service.MarkConfirmed(ctx, "txn-1", 12); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	got, _ = service.GetTransfer(ctx, "txn-1")
	if got.Status != models.TransferStatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", got.Status)
	}
	if got.Confirmations != 12 {
		t.Errorf("expected 12 confirmations, got %d", got.Confirmations)
	}
}

func TestDuplicateTransferRejected(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := service.CreateTransfer(ctx, newTestTransfer("txn-dup")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := service.CreateTransfer(ctx, newTestTransfer("txn-dup"))
	if !errors.Is(err, store.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := service.CreateTransfer(ctx, newTestTransfer("txn-term")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := service.MarkFailed(ctx, "txn-term", "confirmation timeout"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	if err := service.MarkConfirmed(ctx, "txn-term", 12); !errors.Is(err, store.ErrTransferNotPending) {
		t.Errorf("expected ErrTransferNotPending on confirm-after-fail, got %v", err)
	}
	if err := service.MarkFailed(ctx, "txn-term", "again"); !errors.Is(err, store.ErrTransferNotPending) {
		t.Errorf("expected ErrTransferNotPending on double fail, got %v", err)
	}
	if err := service.RecordCheck(ctx, "txn-term", 9, 0); !errors.Is(err, store.ErrTransferNotPending) {
		t.Errorf("expected ErrTransferNotPending on check-after-fail, got %v", err)
	}

	got, err := service.GetTransfer(ctx, "txn-term")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.TransferStatusFailed {
		t.Errorf("terminal state changed to %s", got.Status)
	}
	if got.FailureReason != "confirmation timeout" {
		t.Errorf("failure reason overwritten: %q", got.FailureReason)
	}
}

func TestPendingTransfersFiltersByNetworkAndStatus(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := newTestTransfer("txn-a")
	if err := service.CreateTransfer(ctx, first); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other := newTestTransfer("txn-b")
	other.Network = "base-mainnet"
	if err := service.CreateTransfer(ctx, other); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	done := newTestTransfer("txn-c")
	if err := service.CreateTransfer(ctx, done); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := service.MarkConfirmed(ctx, "txn-c", 12); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	pending, err := service.PendingTransfers(ctx, "ethereum-mainnet")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending transfer, got %d", len(pending))
	}
	if pending[0].TransactionId != "txn-a" {
		t.Errorf("expected txn-a, got %s", pending[0].TransactionId)
	}
}

func TestUnknownTransferNotFound(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := service.GetTransfer(context.Background(), "nope"); !errors.Is(err, store.ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
	if err := service.MarkConfirmed(context.Background(), "nope", 1); !errors.Is(err, store.ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

func TestCreateTransferReopensUnbroadcastFailure(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := service.CreateTransfer(ctx, newTestTransfer("txn-rerun")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	// Broadcast never happened, so the row fails without a hash.
	if err := service.MarkFailed(ctx, "txn-rerun", "broadcast failed: rpc error -32000: nonce too low"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// A re-submission of the same transaction must get a fresh PENDING row,
	// not a duplicate rejection.
	if err := service.CreateTransfer(ctx, newTestTransfer("txn-rerun")); err != nil {
		t.Fatalf("re-submission should reopen the transfer, got %v", err)
	}

	got, err := service.GetTransfer(ctx, "txn-rerun")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != models.TransferStatusPending {
		t.Errorf("expected PENDING after reopen, got %s", got.Status)
	}
	if got.FailureReason != "" {
		t.Errorf("expected failure reason cleared, got %q", got.FailureReason)
	}
	if got.CheckAttempts != 0 {
		t.Errorf("expected check attempts reset, got %d", got.CheckAttempts)
	}
}

func TestCreateTransferRejectsBroadcastFailure(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if err := service.CreateTransfer(ctx, newTestTransfer("txn-onchain")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := service.AttachTxHash(ctx, "txn-onchain", "0xabc123"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := service.MarkFailed(ctx, "txn-onchain", "confirmation timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// A hash means the transaction may exist on-chain; re-submitting the
	// same id would risk double-spending.
	err := service.CreateTransfer(ctx, newTestTransfer("txn-onchain"))
	if !errors.Is(err, store.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry for broadcast transfer, got %v", err)
	}
	got, _ := service.GetTransfer(ctx, "txn-onchain")
	if got.Status != models.TransferStatusFailed {
		t.Errorf("broadcast transfer must stay FAILED, got %s", got.Status)
	}
}

func TestFailedTransfersFiltersReasonAndHash(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Timed out after broadcasting: must be listed.
	if err := service.CreateTransfer(ctx, newTestTransfer("txn-late")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := service.AttachTxHash(ctx, "txn-late", "0xlate"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := service.MarkFailed(ctx, "txn-late", "confirmation timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// Timed out without ever broadcasting: nothing on-chain to re-check.
	if err := service.CreateTransfer(ctx, newTestTransfer("txn-nohash")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := service.MarkFailed(ctx, "txn-nohash", "confirmation timeout"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	// Failed for a different reason: excluded by the reason filter.
	if err := service.CreateTransfer(ctx, newTestTransfer("txn-reverted")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := service.AttachTxHash(ctx, "txn-reverted", "0xreverted"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := service.MarkFailed(ctx, "txn-reverted", "on-chain execution failed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := service.FailedTransfers(ctx, "ethereum-mainnet", "confirmation timeout")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 timed-out transfer, got %d", len(got))
	}
	if got[0].TransactionId != "txn-late" || got[0].TxHash != "0xlate" {
		t.Errorf("unexpected transfer listed: %+v", got[0])
	}
}
