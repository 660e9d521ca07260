package store

import (
	"context"
	"errors"
	"time"

	"remit-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrDuplicateEntry      = errors.New("duplicate ledger entry")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransferNotFound    = errors.New("blockchain transfer not found")
	ErrTransferNotPending  = errors.New("blockchain transfer is not pending")
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

// Ledger entry types. Reversal entries reference the original transaction so
// the credit-back path stays idempotent.
const (
	EntryTypeDebit    = "debit"
	EntryTypeCredit   = "credit"
	EntryTypeReversal = "reversal"
)

// Transaction statuses recorded against the owning ledger transaction.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// LedgerEntry is one posting against a wallet.
type LedgerEntry struct {
	Id            string
	WalletId      string
	Currency      string
	EntryType     string
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	ReferenceTxId string
	CreatedAt     time.Time
}

// CreditParams contains the parameters for crediting a wallet.
type CreditParams struct {
	WalletId      string
	Currency      string
	Amount        decimal.Decimal
	EntryType     string
	Description   string
	ReferenceTxId string
	Metadata      map[string]string
}

// DebitParams contains the parameters for debiting a wallet.
type DebitParams struct {
	WalletId      string
	Currency      string
	Amount        decimal.Decimal
	Description   string
	ReferenceTxId string
	Metadata      map[string]string
}

// StatusUpdate carries a terminal (or intermediate) status change for the
// ledger transaction that owns a transfer.
type StatusUpdate struct {
	Status       string
	CompletedAt  *time.Time
	FailedAt     *time.Time
	ErrorMessage string
	Metadata     map[string]string
}

// LedgerStore defines the wallet/ledger contract every backend (SQLite,
// Formance, ...) must satisfy. Reversal credits must be at-least-once safe:
// a second reversal for the same reference returns ErrDuplicateEntry.
type LedgerStore interface {
	CreditWallet(ctx context.Context, params CreditParams) (*LedgerEntry, error)
	DebitWallet(ctx context.Context, params DebitParams) (*LedgerEntry, error)
	GetWalletBalance(ctx context.Context, walletId, currency string) (decimal.Decimal, error)
	HasReversal(ctx context.Context, referenceTxId string) (bool, error)
	UpdateTransactionStatus(ctx context.Context, txId string, update StatusUpdate) error
	Close()
}

// TransferStore persists blockchain transfers through their lifecycle.
// Terminal transitions must be guarded: MarkConfirmed and MarkFailed return
// ErrTransferNotPending when the transfer already reached a terminal state.
// CreateTransfer must reopen a FAILED row that never broadcast (no hash) so
// a re-submission of the same transaction can reach the node again; every
// other duplicate returns ErrDuplicateEntry.
type TransferStore interface {
	CreateTransfer(ctx context.Context, transfer *models.BlockchainTransfer) error
	AttachTxHash(ctx context.Context, txId, txHash string) error
	GetTransfer(ctx context.Context, txId string) (*models.BlockchainTransfer, error)
	PendingTransfers(ctx context.Context, network string) ([]models.BlockchainTransfer, error)
	// FailedTransfers lists broadcast transfers that failed with the given
	// reason, for slow-path re-examination.
	FailedTransfers(ctx context.Context, network, reason string) ([]models.BlockchainTransfer, error)
	RecordCheck(ctx context.Context, txId string, attempts int, confirmations int64) error
	MarkConfirmed(ctx context.Context, txId string, confirmations int64) error
	MarkFailed(ctx context.Context, txId, reason string) error
}
