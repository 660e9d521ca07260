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
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/store"
)

// CreateTransfer records a new pending transfer. The transaction id is the
// primary key; a second transfer for the same ledger transaction is rejected
// with store.ErrDuplicateEntry. The one exception is a row that failed
// before it ever broadcast (FAILED, no hash): a re-submission of the same
// transaction reopens it as PENDING instead of being rejected, so retrying
// a failed broadcast can reach the node again.
func (s *Service) CreateTransfer(ctx context.Context, transfer *models.BlockchainTransfer) error {
	_, err := s.db.ExecContext(ctx, queryInsertTransfer,
		transfer.TransactionId, transfer.WalletId, transfer.Network, transfer.Currency,
		transfer.Amount.String(), transfer.FromAddress, transfer.ToAddress,
		string(models.TransferStatusPending))
	if err != nil {
		if isUniqueConstraintError(err) {
			return s.reopenFailedTransfer(ctx, transfer.TransactionId)
		}
		return fmt.Errorf("failed to create transfer: %w", err)
	}

	zap.L().Debug("Created pending transfer",
		zap.String("transaction_id", transfer.TransactionId),
		zap.String("network", transfer.Network),
		zap.String("amount", transfer.Amount.String()))
	return nil
}

// reopenFailedTransfer resets a hash-less FAILED row back to PENDING for a
// re-submission. Rows that broadcast (hash attached) or reached any other
// state stay immutable and surface as duplicates.
func (s *Service) reopenFailedTransfer(ctx context.Context, txId string) error {
	result, err := s.db.ExecContext(ctx, queryReopenFailedTransfer, txId)
	if err != nil {
		return fmt.Errorf("failed to reopen transfer: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: transfer for transaction %s already exists",
			store.ErrDuplicateEntry, txId)
	}

	zap.L().Info("Reopened unbroadcast transfer for re-submission",
		zap.String("transaction_id", txId))
	return nil
}

// AttachTxHash records the broadcast hash on a pending transfer.
func (s *Service) AttachTxHash(ctx context.Context, txId, txHash string) error {
	result, err := s.db.ExecContext(ctx, queryAttachTxHash, txHash, txId)
	if err != nil {
		return fmt.Errorf("failed to attach tx hash: %w", err)
	}
	return s.requirePendingRow(result, txId)
}

func (s *Service) GetTransfer(ctx context.Context, txId string) (*models.BlockchainTransfer, error) {
	row := s.db.QueryRowContext(ctx, queryGetTransfer, txId)
	transfer, err := scanTransfer(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", store.ErrTransferNotFound, txId)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return transfer, nil
}

// PendingTransfers returns every pending transfer on the network, oldest
// first.
func (s *Service) PendingTransfers(ctx context.Context, network string) ([]models.BlockchainTransfer, error) {
	rows, err := s.db.QueryContext(ctx, queryPendingTransfers, network)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transfers: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transfers []models.BlockchainTransfer
	for rows.Next() {
		transfer, err := scanTransfer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer rows: %w", err)
	}
	return transfers, nil
}

// FailedTransfers returns every broadcast transfer on the network that
// failed with the given reason, oldest first. Rows without a hash never had
// anything on-chain to observe and are excluded.
func (s *Service) FailedTransfers(ctx context.Context, network, reason string) ([]models.BlockchainTransfer, error) {
	rows, err := s.db.QueryContext(ctx, queryFailedTransfersByReason, network, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed transfers: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transfers []models.BlockchainTransfer
	for rows.Next() {
		transfer, err := scanTransfer(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer rows: %w", err)
	}
	return transfers, nil
}

// RecordCheck persists one settlement observation on a pending transfer.
func (s *Service) RecordCheck(ctx context.Context, txId string, attempts int, confirmations int64) error {
	result, err := s.db.ExecContext(ctx, queryRecordCheck, attempts, confirmations, txId)
	if err != nil {
		return fmt.Errorf("failed to record check: %w", err)
	}
	return s.requirePendingRow(result, txId)
}

// MarkConfirmed transitions PENDING -> CONFIRMED. The status guard in the
// statement makes terminal states immutable.
func (s *Service) MarkConfirmed(ctx context.Context, txId string, confirmations int64) error {
	result, err := s.db.ExecContext(ctx, queryMarkConfirmed, confirmations, txId)
	if err != nil {
		return fmt.Errorf("failed to mark transfer confirmed: %w", err)
	}
	return s.requirePendingRow(result, txId)
}

// MarkFailed transitions PENDING -> FAILED with the failure reason.
func (s *Service) MarkFailed(ctx context.Context, txId, reason string) error {
	result, err := s.db.ExecContext(ctx, queryMarkFailed, reason, txId)
	if err != nil {
		return fmt.Errorf("failed to mark transfer failed: %w", err)
	}
	return s.requirePendingRow(result, txId)
}

// requirePendingRow distinguishes "no such transfer" from "transfer already
// terminal" when a guarded update touched no rows.
func (s *Service) requirePendingRow(result sql.Result, txId string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRow("SELECT status FROM blockchain_transfers WHERE transaction_id = ?", txId).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", store.ErrTransferNotFound, txId)
	}
	if err != nil {
		return fmt.Errorf("failed to check transfer status: %w", err)
	}
	return fmt.Errorf("%w: %s is %s", store.ErrTransferNotPending, txId, status)
}

func scanTransfer(scan func(dest ...interface{}) error) (*models.BlockchainTransfer, error) {
	var t models.BlockchainTransfer
	var amountStr, status string
	var txHash, failureReason sql.NullString
	var lastCheckedAt sql.NullTime
	err := scan(&t.TransactionId, &t.WalletId, &t.Network, &t.Currency, &amountStr,
		&t.FromAddress, &t.ToAddress, &status, &txHash, &t.Confirmations,
		&t.CheckAttempts, &lastCheckedAt, &failureReason, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = models.TransferStatus(status)
	t.TxHash = txHash.String
	t.FailureReason = failureReason.String
	if lastCheckedAt.Valid {
		t.LastCheckedAt = lastCheckedAt.Time
	}
	t.Amount, err = decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount '%s': %w", amountStr, err)
	}
	return &t, nil
}
