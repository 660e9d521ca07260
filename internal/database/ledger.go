/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"remit-settlement-go/internal/store"
)

// CreditWallet posts a credit entry and moves the balance atomically.
// Reversal credits are idempotent: the partial unique index on
// (reference_tx_id) for entry_type 'reversal' turns a replay into
// store.ErrDuplicateEntry.
func (s *Service) CreditWallet(ctx context.Context, params store.CreditParams) (*store.LedgerEntry, error) {
	entryType := params.EntryType
	if entryType == "" {
		entryType = store.EntryTypeCredit
	}
	return s.postEntry(ctx, postParams{
		walletId:      params.WalletId,
		currency:      params.Currency,
		entryType:     entryType,
		amount:        params.Amount,
		description:   params.Description,
		referenceTxId: params.ReferenceTxId,
	})
}

// DebitWallet posts a debit entry. The balance must cover the full amount;
// a shortfall returns store.ErrInsufficientBalance and posts nothing.
func (s *Service) DebitWallet(ctx context.Context, params store.DebitParams) (*store.LedgerEntry, error) {
	return s.postEntry(ctx, postParams{
		walletId:      params.WalletId,
		currency:      params.Currency,
		entryType:     store.EntryTypeDebit,
		amount:        params.Amount.Neg(),
		description:   params.Description,
		referenceTxId: params.ReferenceTxId,
	})
}

type postParams struct {
	walletId      string
	currency      string
	entryType     string
	amount        decimal.Decimal // signed: negative for debits
	description   string
	referenceTxId string
}

func (s *Service) postEntry(ctx context.Context, params postParams) (*store.LedgerEntry, error) {
	if params.amount.IsZero() {
		return nil, fmt.Errorf("entry amount cannot be zero")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var accountId, currentBalanceStr string
	var version int64
	err = tx.QueryRowContext(ctx, queryGetAccountBalance, params.walletId, params.currency).
		Scan(&accountId, &currentBalanceStr, &version)

	var currentBalance decimal.Decimal
	if err == sql.ErrNoRows {
		accountId = uuid.New().String()
		currentBalance = decimal.Zero
		version = 1
		if _, err := tx.ExecContext(ctx, queryInsertAccountBalance,
			accountId, params.walletId, params.currency, "0", 1); err != nil {
			return nil, fmt.Errorf("failed to create account balance: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get current balance: %w", err)
	} else {
		currentBalance, err = decimal.NewFromString(currentBalanceStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse current balance '%s': %w", currentBalanceStr, err)
		}
	}

	newBalance := currentBalance.Add(params.amount)
	if newBalance.IsNegative() {
		return nil, fmt.Errorf("%w: wallet %s has %s %s, debit of %s requested",
			store.ErrInsufficientBalance, params.walletId, currentBalance.String(),
			params.currency, params.amount.Neg().String())
	}

	entryId := uuid.New().String()
	_, err = tx.ExecContext(ctx, queryInsertLedgerEntry,
		entryId, params.walletId, params.currency, params.entryType,
		params.amount.Abs().String(), currentBalance.String(), newBalance.String(),
		params.description, params.referenceTxId)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: reversal for %s already posted",
				store.ErrDuplicateEntry, params.referenceTxId)
		}
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	result, err := tx.ExecContext(ctx, queryUpdateAccountBalance,
		newBalance.String(), entryId, params.walletId, params.currency, version)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("balance update failed: concurrent modification detected")
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Ledger entry posted",
		zap.String("entry_id", entryId),
		zap.String("wallet_id", params.walletId),
		zap.String("currency", params.currency),
		zap.String("entry_type", params.entryType),
		zap.String("old_balance", currentBalance.String()),
		zap.String("new_balance", newBalance.String()))

	return &store.LedgerEntry{
		Id:            entryId,
		WalletId:      params.walletId,
		Currency:      params.currency,
		EntryType:     params.entryType,
		Amount:        params.amount.Abs(),
		BalanceBefore: currentBalance,
		BalanceAfter:  newBalance,
		Description:   params.description,
		ReferenceTxId: params.referenceTxId,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// GetWalletBalance returns the current balance. A wallet with no entries has
// a zero balance, not an error.
func (s *Service) GetWalletBalance(ctx context.Context, walletId, currency string) (decimal.Decimal, error) {
	var accountId, balanceStr string
	var version int64
	err := s.db.QueryRowContext(ctx, queryGetAccountBalance, walletId, currency).
		Scan(&accountId, &balanceStr, &version)
	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance '%s': %w", balanceStr, err)
	}
	return balance, nil
}

// HasReversal reports whether a reversal entry already references the
// transaction.
func (s *Service) HasReversal(ctx context.Context, referenceTxId string) (bool, error) {
	var entryId string
	err := s.db.QueryRowContext(ctx, queryCheckReversal, referenceTxId).Scan(&entryId)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check reversal: %w", err)
	}
	return true, nil
}

// UpdateTransactionStatus upserts the status row for the owning ledger
// transaction.
func (s *Service) UpdateTransactionStatus(ctx context.Context, txId string, update store.StatusUpdate) error {
	var metadata []byte
	if len(update.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(update.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal status metadata: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, queryUpsertTransactionStatus,
		txId, update.Status, update.ErrorMessage,
		nullableTime(update.CompletedAt), nullableTime(update.FailedAt), string(metadata))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return nil
}

// TransactionStatus returns the recorded status for a ledger transaction.
func (s *Service) TransactionStatus(ctx context.Context, txId string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, queryGetTransactionStatus, txId).Scan(&status)
	if err == sql.ErrNoRows {
		return "", store.ErrTransferNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get transaction status: %w", err)
	}
	return status, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
