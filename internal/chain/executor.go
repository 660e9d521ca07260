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

package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/store"
)

// TransferOptions carries the optional parts of a locked transfer execution.
type TransferOptions struct {
	// Currency of the transferred asset; defaults to the network's native
	// currency.
	Currency string
	// WalletId is the ledger wallet debited for this transfer, recorded on
	// the BlockchainTransfer so the settlement monitor can reverse it.
	WalletId string
	// SkipRetry disables network-level retry for this submission.
	SkipRetry bool
	Metadata  map[string]string
}

// TransferResult is returned after a successful broadcast.
type TransferResult struct {
	TransactionId string
	TxHash        string
	Amount        decimal.Decimal
	Destination   string
	SubmittedAt   time.Time
}

// ExecutorConfig contains configuration for the transfer executor.
type ExecutorConfig struct {
	Node         NodeClient
	Transfers    store.TransferStore
	Network      models.NetworkConfig
	FromAddress  string
	MaxRetries   int
	RetryEnabled bool
}

// Executor submits on-chain transfers under a per-transaction lock. The lock
// map is process-local: a restart clears all locks, which is accepted for a
// single-writer deployment (a multi-process deployment needs a shared lease
// keyed the same way).
type Executor struct {
	node         NodeClient
	transfers    store.TransferStore
	network      models.NetworkConfig
	fromAddress  string
	maxRetries   int
	retryEnabled bool

	mu sync.Mutex
	// locks holds the attempt counter for every transaction currently
	// executing a submission. Presence means locked.
	locks map[string]int

	// baseDelay is the retry backoff unit; shortened in tests.
	baseDelay time.Duration
}

func NewExecutor(cfg ExecutorConfig) *Executor {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Executor{
		node:         cfg.Node,
		transfers:    cfg.Transfers,
		network:      cfg.Network,
		fromAddress:  cfg.FromAddress,
		maxRetries:   maxRetries,
		retryEnabled: cfg.RetryEnabled,
		locks:        make(map[string]int),
		baseDelay:    time.Second,
	}
}

// ExecuteTransferWithLock validates and submits one on-chain transfer for the
// given transaction id. A second call for the same id fails immediately with
// ErrTransferInProgress while the first is in flight. The lock is released
// unconditionally on every path.
func (e *Executor) ExecuteTransferWithLock(ctx context.Context, txId, toAddress string, amount decimal.Decimal, opts TransferOptions) (*TransferResult, error) {
	currency := opts.Currency
	if currency == "" {
		currency = e.network.NativeCurrency
	}

	if err := e.acquireLock(txId); err != nil {
		return nil, err
	}
	defer e.releaseLock(txId)

	if err := e.validateTransfer(ctx, txId, toAddress, amount, currency); err != nil {
		return nil, err
	}

	transfer := &models.BlockchainTransfer{
		TransactionId: txId,
		WalletId:      opts.WalletId,
		Network:       e.network.Name,
		Currency:      currency,
		Amount:        amount,
		FromAddress:   e.fromAddress,
		ToAddress:     toAddress,
		Status:        models.TransferStatusPending,
	}
	if err := e.transfers.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to record pending transfer: %w", err)
	}

	txHash, err := e.submit(ctx, BroadcastParams{
		From:     e.fromAddress,
		To:       toAddress,
		Currency: currency,
		Amount:   amount,
	}, opts.SkipRetry)
	if err != nil {
		// A transfer that never broadcast has no hash for the monitor to
		// observe; terminate it here so it cannot linger as PENDING.
		if markErr := e.transfers.MarkFailed(ctx, txId, fmt.Sprintf("broadcast failed: %v", err)); markErr != nil {
			zap.L().Error("Failed to mark unbroadcast transfer failed",
				zap.String("transaction_id", txId),
				zap.Error(markErr))
		}
		return nil, err
	}

	if err := e.transfers.AttachTxHash(ctx, txId, txHash); err != nil {
		zap.L().Error("Broadcast succeeded but hash could not be recorded - requires manual reconciliation",
			zap.String("transaction_id", txId),
			zap.String("tx_hash", txHash),
			zap.Error(err))
		return nil, fmt.Errorf("transfer broadcast as %s but hash not recorded: %w", txHash, err)
	}

	zap.L().Info("On-chain transfer broadcast",
		zap.String("transaction_id", txId),
		zap.String("tx_hash", txHash),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
		zap.String("destination", toAddress))

	return &TransferResult{
		TransactionId: txId,
		TxHash:        txHash,
		Amount:        amount,
		Destination:   toAddress,
		SubmittedAt:   time.Now().UTC(),
	}, nil
}

// IsTransferInProgress reports whether a submission is currently in flight
// for the transaction id.
func (e *Executor) IsTransferInProgress(txId string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, locked := e.locks[txId]
	return locked
}

func (e *Executor) acquireLock(txId string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, locked := e.locks[txId]; locked {
		zap.L().Warn("Rejected concurrent transfer submission",
			zap.String("transaction_id", txId))
		return fmt.Errorf("%w: %s", ErrTransferInProgress, txId)
	}
	e.locks[txId]++
	return nil
}

func (e *Executor) releaseLock(txId string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, txId)
}

// validateTransfer collects every violation rather than stopping at the
// first. Format violations are checked before any network call; balance and
// gas checks only run once the request is structurally sound, so a malformed
// amount never costs an RPC round trip.
func (e *Executor) validateTransfer(ctx context.Context, txId, toAddress string, amount decimal.Decimal, currency string) error {
	var violations []string

	if toAddress == "" {
		violations = append(violations, "destination address is required")
	} else if !e.node.ValidateAddress(toAddress) {
		violations = append(violations, fmt.Sprintf("invalid %s address: %s", e.network.Name, toAddress))
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		violations = append(violations, fmt.Sprintf("amount must be greater than zero, got %s", amount.String()))
	} else if !e.network.MinTransferUnit.IsZero() && amount.LessThan(e.network.MinTransferUnit) {
		violations = append(violations, fmt.Sprintf("amount %s is below the network minimum %s",
			amount.String(), e.network.MinTransferUnit.String()))
	}

	decimals := e.decimalsFor(currency)
	if !amount.Shift(decimals).IsInteger() {
		violations = append(violations, fmt.Sprintf("amount %s exceeds %s precision of %d decimals",
			amount.String(), currency, decimals))
	}

	if len(violations) > 0 {
		return &ValidationError{TransactionId: txId, Violations: violations}
	}

	balance, err := e.node.TokenBalance(ctx, e.fromAddress, currency)
	if err != nil {
		return fmt.Errorf("unable to check %s balance: %w", currency, err)
	}
	if balance.LessThan(amount) {
		violations = append(violations, fmt.Sprintf("insufficient %s balance: have %s, need %s",
			currency, balance.String(), amount.String()))
	}

	requiredFee := e.estimateFeeWithBuffer(ctx, BroadcastParams{
		From:     e.fromAddress,
		To:       toAddress,
		Currency: currency,
		Amount:   amount,
	})
	nativeNeeded := requiredFee
	if currency == e.network.NativeCurrency {
		nativeNeeded = nativeNeeded.Add(amount)
	}

	nativeBalance, err := e.node.NativeBalance(ctx, e.fromAddress)
	if err != nil {
		return fmt.Errorf("unable to check %s balance: %w", e.network.NativeCurrency, err)
	}
	if nativeBalance.LessThan(nativeNeeded) {
		violations = append(violations, fmt.Sprintf("insufficient %s for gas: have %s, need %s (fee %s with buffer)",
			e.network.NativeCurrency, nativeBalance.String(), nativeNeeded.String(), requiredFee.String()))
	}

	if len(violations) > 0 {
		return &ValidationError{TransactionId: txId, Violations: violations}
	}
	return nil
}

// submit broadcasts with network-level retry: transient errors are retried
// with 2^attempt backoff, business rejections propagate immediately.
func (e *Executor) submit(ctx context.Context, params BroadcastParams, skipRetry bool) (string, error) {
	attempts := 1
	if e.retryEnabled && !skipRetry {
		attempts = e.maxRetries + 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := e.baseDelay * (1 << (attempt - 1))
			zap.L().Info("Retrying transfer broadcast",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		txHash, err := e.node.BroadcastTransfer(ctx, params)
		if err == nil {
			return txHash, nil
		}
		if !isRetryable(err) {
			return "", err
		}
		lastErr = err
	}

	return "", fmt.Errorf("broadcast failed after %d attempts: %w", attempts, lastErr)
}

// estimateFeeWithBuffer simulates the transfer cost and applies the safety
// buffer. A failed simulation falls back to the conservative fixed estimate
// rather than blocking the flow.
func (e *Executor) estimateFeeWithBuffer(ctx context.Context, params BroadcastParams) decimal.Decimal {
	fee, err := e.node.EstimateFee(ctx, params)
	if err != nil {
		zap.L().Warn("Gas simulation failed, using fallback estimate",
			zap.String("network", e.network.Name),
			zap.String("fallback", e.network.GasFeeFallback.String()),
			zap.Error(err))
		fee = e.network.GasFeeFallback
	}

	buffer := fee.Mul(decimal.NewFromInt(e.network.GasBufferPercent)).Div(decimal.NewFromInt(100))
	return fee.Add(buffer)
}

func (e *Executor) decimalsFor(currency string) int32 {
	if d, ok := e.network.AssetDecimals[currency]; ok {
		return d
	}
	return 18
}
