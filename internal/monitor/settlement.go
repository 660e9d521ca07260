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

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"remit-settlement-go/internal/chain"
	"remit-settlement-go/internal/events"
	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/store"
)

const (
	reasonTimeout         = "confirmation timeout"
	reasonExecutionFailed = "on-chain execution failed"

	// statusReversed marks the settlement event published when a debit is
	// credited back; it is an event status, not a transfer state.
	statusReversed = "REVERSED"
)

// Config contains configuration for the settlement monitor.
type Config struct {
	Node             chain.NodeClient
	Transfers        store.TransferStore
	Ledger           store.LedgerStore
	Publisher        events.Publisher
	Network          models.NetworkConfig
	PollInterval     time.Duration
	MaxCheckAttempts int
}

// Monitor polls pending on-chain transfers and drives them to a terminal
// state. It is the only writer of CONFIRMED and FAILED, and it owns the
// ledger consequences of both: completion metadata on confirmation, a
// reversal credit on failure.
type Monitor struct {
	node             chain.NodeClient
	transfers        store.TransferStore
	ledger           store.LedgerStore
	publisher        events.Publisher
	network          models.NetworkConfig
	pollInterval     time.Duration
	maxCheckAttempts int

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewMonitor(cfg Config) *Monitor {
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	maxCheckAttempts := cfg.MaxCheckAttempts
	if maxCheckAttempts <= 0 {
		maxCheckAttempts = 20
	}
	return &Monitor{
		node:             cfg.Node,
		transfers:        cfg.Transfers,
		ledger:           cfg.Ledger,
		publisher:        publisher,
		network:          cfg.Network,
		pollInterval:     pollInterval,
		maxCheckAttempts: maxCheckAttempts,
		stopChan:         make(chan struct{}),
		doneChan:         make(chan struct{}),
	}
}

// Start runs a recovery sweep over transfers left pending by a previous
// process, then begins the polling loop.
func (m *Monitor) Start(ctx context.Context) error {
	zap.L().Info("Starting settlement monitor",
		zap.String("network", m.network.Name),
		zap.Duration("poll_interval", m.pollInterval),
		zap.Int("max_check_attempts", m.maxCheckAttempts))

	recovered, err := m.CheckPendingTransfers(ctx)
	if err != nil {
		return fmt.Errorf("startup recovery sweep failed: %w", err)
	}
	zap.L().Info("Startup recovery sweep completed",
		zap.Int("pending_transfers", recovered))

	go m.pollLoop(ctx)
	return nil
}

// Stop gracefully stops the monitor and waits for in-flight checks.
func (m *Monitor) Stop() {
	zap.L().Info("Stopping settlement monitor")
	close(m.stopChan)
	<-m.doneChan
	zap.L().Info("Settlement monitor stopped")
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer close(m.doneChan)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.CheckPendingTransfers(ctx); err != nil {
				zap.L().Error("Settlement poll failed", zap.Error(err))
			}
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckPendingTransfers fetches every pending transfer and checks each one
// concurrently. One transfer's failure never blocks the others. Returns the
// number of transfers examined.
func (m *Monitor) CheckPendingTransfers(ctx context.Context) (int, error) {
	pending, err := m.transfers.PendingTransfers(ctx, m.network.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending transfers: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for _, transfer := range pending {
		wg.Add(1)
		go func(t models.BlockchainTransfer) {
			defer wg.Done()
			if err := m.checkTransfer(ctx, t); err != nil {
				zap.L().Error("Failed to check transfer",
					zap.String("transaction_id", t.TransactionId),
					zap.String("tx_hash", t.TxHash),
					zap.Error(err))
			}
		}(transfer)
	}
	wg.Wait()

	return len(pending), nil
}

// CheckLateConfirmations re-examines transfers that were failed by the
// check-attempt ceiling but had already broadcast. A timeout failure reverses
// the debit on the assumption the transaction died; if the chain confirms it
// afterwards, funds moved on-chain against a reversed ledger, which only an
// operator can resolve. This is the slow path behind that assumption: it runs
// on a schedule far coarser than the poll loop and raises an alert per
// divergence found, touching neither the terminal state nor the ledger.
// Returns the number of late confirmations detected.
func (m *Monitor) CheckLateConfirmations(ctx context.Context) (int, error) {
	timedOut, err := m.transfers.FailedTransfers(ctx, m.network.Name, reasonTimeout)
	if err != nil {
		return 0, fmt.Errorf("failed to list timed-out transfers: %w", err)
	}

	alerted := 0
	for _, t := range timedOut {
		receipt, err := m.node.TransactionReceipt(ctx, t.TxHash)
		if err != nil {
			zap.L().Warn("Receipt lookup failed on late-confirmation sweep",
				zap.String("transaction_id", t.TransactionId),
				zap.String("tx_hash", t.TxHash),
				zap.Error(err))
			continue
		}
		if receipt == nil || !receipt.Success {
			continue
		}

		head, err := m.node.BlockNumber(ctx)
		if err != nil {
			zap.L().Warn("Block height lookup failed on late-confirmation sweep",
				zap.String("transaction_id", t.TransactionId),
				zap.Error(err))
			continue
		}
		confirmations := int64(0)
		if head >= receipt.BlockNumber {
			confirmations = int64(head-receipt.BlockNumber) + 1
		}
		if confirmations < m.network.RequiredConfirmations {
			continue
		}

		zap.L().Error("ALERT: transfer confirmed on-chain after being marked failed - operator intervention required",
			zap.String("transaction_id", t.TransactionId),
			zap.String("tx_hash", t.TxHash),
			zap.String("wallet_id", t.WalletId),
			zap.String("amount", t.Amount.String()),
			zap.Int64("confirmations", confirmations))
		alerted++
	}

	return alerted, nil
}

// checkTransfer advances a single pending transfer by one observation.
func (m *Monitor) checkTransfer(ctx context.Context, t models.BlockchainTransfer) error {
	attempts := t.CheckAttempts + 1

	// A pending row without a hash means the broadcast outcome was lost
	// (crash between create and attach). There is nothing to look up; let
	// it age out through the same ceiling.
	if t.TxHash == "" {
		return m.recordOrTimeout(ctx, t, attempts, 0)
	}

	receipt, err := m.node.TransactionReceipt(ctx, t.TxHash)
	if err != nil {
		zap.L().Warn("Receipt lookup failed",
			zap.String("transaction_id", t.TransactionId),
			zap.String("tx_hash", t.TxHash),
			zap.Int("attempt", attempts),
			zap.Error(err))
		return m.recordOrTimeout(ctx, t, attempts, t.Confirmations)
	}

	// Not yet visible to the node.
	if receipt == nil {
		return m.recordOrTimeout(ctx, t, attempts, 0)
	}

	if !receipt.Success {
		return m.settleFailed(ctx, t, reasonExecutionFailed)
	}

	head, err := m.node.BlockNumber(ctx)
	if err != nil {
		zap.L().Warn("Block height lookup failed",
			zap.String("transaction_id", t.TransactionId),
			zap.Error(err))
		return m.recordOrTimeout(ctx, t, attempts, t.Confirmations)
	}

	confirmations := int64(0)
	if head >= receipt.BlockNumber {
		confirmations = int64(head-receipt.BlockNumber) + 1
	}

	if confirmations < m.network.RequiredConfirmations {
		zap.L().Debug("Transfer not yet confirmed",
			zap.String("transaction_id", t.TransactionId),
			zap.Int64("confirmations", confirmations),
			zap.Int64("required", m.network.RequiredConfirmations))
		return m.recordOrTimeout(ctx, t, attempts, confirmations)
	}

	return m.settleConfirmed(ctx, t, confirmations)
}

// recordOrTimeout persists the check attempt and fails the transfer once the
// attempt ceiling is reached.
func (m *Monitor) recordOrTimeout(ctx context.Context, t models.BlockchainTransfer, attempts int, confirmations int64) error {
	if attempts >= m.maxCheckAttempts {
		zap.L().Warn("Transfer exceeded check attempt ceiling",
			zap.String("transaction_id", t.TransactionId),
			zap.String("tx_hash", t.TxHash),
			zap.Int("attempts", attempts))
		return m.settleFailed(ctx, t, reasonTimeout)
	}
	return m.transfers.RecordCheck(ctx, t.TransactionId, attempts, confirmations)
}

// settleConfirmed marks the transfer CONFIRMED and completes the owning
// ledger transaction. A ledger failure after the transfer is confirmed is
// logged for manual reconciliation; the on-chain fact stands.
func (m *Monitor) settleConfirmed(ctx context.Context, t models.BlockchainTransfer, confirmations int64) error {
	if err := m.transfers.MarkConfirmed(ctx, t.TransactionId, confirmations); err != nil {
		if errors.Is(err, store.ErrTransferNotPending) {
			// The transfer timed out in an earlier poll and its ledger
			// transaction may already be reversed. Funds moved on-chain
			// anyway, which an operator must resolve.
			zap.L().Error("ALERT: transfer confirmed on-chain after being marked failed - operator intervention required",
				zap.String("transaction_id", t.TransactionId),
				zap.String("tx_hash", t.TxHash),
				zap.Int64("confirmations", confirmations))
			return nil
		}
		return fmt.Errorf("failed to mark transfer confirmed: %w", err)
	}

	now := time.Now().UTC()
	err := m.ledger.UpdateTransactionStatus(ctx, t.TransactionId, store.StatusUpdate{
		Status:      store.TxStatusCompleted,
		CompletedAt: &now,
		Metadata: map[string]string{
			"tx_hash":       t.TxHash,
			"confirmations": fmt.Sprintf("%d", confirmations),
			"network":       t.Network,
		},
	})
	if err != nil {
		zap.L().Error("Transfer confirmed but ledger completion failed - requires manual reconciliation",
			zap.String("transaction_id", t.TransactionId),
			zap.String("tx_hash", t.TxHash),
			zap.Error(err))
	}

	zap.L().Info("Transfer confirmed",
		zap.String("transaction_id", t.TransactionId),
		zap.String("tx_hash", t.TxHash),
		zap.String("amount", t.Amount.String()),
		zap.Int64("confirmations", confirmations))

	m.publish(ctx, t, string(models.TransferStatusConfirmed), confirmations, "")
	return nil
}

// settleFailed marks the transfer FAILED, fails the owning ledger
// transaction, and credits the debited amount back exactly once.
func (m *Monitor) settleFailed(ctx context.Context, t models.BlockchainTransfer, reason string) error {
	if err := m.transfers.MarkFailed(ctx, t.TransactionId, reason); err != nil {
		if errors.Is(err, store.ErrTransferNotPending) {
			zap.L().Debug("Transfer already terminal, skipping failure settlement",
				zap.String("transaction_id", t.TransactionId))
			return nil
		}
		return fmt.Errorf("failed to mark transfer failed: %w", err)
	}

	now := time.Now().UTC()
	err := m.ledger.UpdateTransactionStatus(ctx, t.TransactionId, store.StatusUpdate{
		Status:       store.TxStatusFailed,
		FailedAt:     &now,
		ErrorMessage: reason,
		Metadata: map[string]string{
			"tx_hash": t.TxHash,
			"network": t.Network,
		},
	})
	if err != nil {
		zap.L().Error("Transfer failed but ledger status update also failed - requires manual reconciliation",
			zap.String("transaction_id", t.TransactionId),
			zap.Error(err))
	}

	m.reverseDebit(ctx, t, reason)

	zap.L().Warn("Transfer failed",
		zap.String("transaction_id", t.TransactionId),
		zap.String("tx_hash", t.TxHash),
		zap.String("amount", t.Amount.String()),
		zap.String("reason", reason))

	m.publish(ctx, t, string(models.TransferStatusFailed), 0, reason)
	return nil
}

// reverseDebit credits the original debit back to the source wallet. The
// reversal references the transaction id, so a crash between the failure
// mark and the credit is safe to replay: the second attempt sees the
// existing reversal entry and does nothing.
func (m *Monitor) reverseDebit(ctx context.Context, t models.BlockchainTransfer, reason string) {
	if t.WalletId == "" {
		zap.L().Debug("No wallet recorded for failed transfer, skipping reversal",
			zap.String("transaction_id", t.TransactionId))
		return
	}

	exists, err := m.ledger.HasReversal(ctx, t.TransactionId)
	if err != nil {
		zap.L().Error("CRITICAL: could not determine reversal state - requires manual reconciliation",
			zap.String("transaction_id", t.TransactionId),
			zap.String("wallet_id", t.WalletId),
			zap.Error(err))
		return
	}
	if exists {
		zap.L().Debug("Reversal already recorded",
			zap.String("transaction_id", t.TransactionId))
		return
	}

	_, err = m.ledger.CreditWallet(ctx, store.CreditParams{
		WalletId:      t.WalletId,
		Currency:      t.Currency,
		Amount:        t.Amount,
		EntryType:     store.EntryTypeReversal,
		Description:   fmt.Sprintf("reversal of failed transfer: %s", reason),
		ReferenceTxId: t.TransactionId,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) {
			zap.L().Debug("Reversal already recorded",
				zap.String("transaction_id", t.TransactionId))
			return
		}
		zap.L().Error("CRITICAL: reversal credit failed - requires manual reconciliation",
			zap.String("transaction_id", t.TransactionId),
			zap.String("wallet_id", t.WalletId),
			zap.String("amount", t.Amount.String()),
			zap.Error(err))
		return
	}

	zap.L().Info("Reversed debited funds for failed transfer",
		zap.String("transaction_id", t.TransactionId),
		zap.String("wallet_id", t.WalletId),
		zap.String("amount", t.Amount.String()))

	m.publish(ctx, t, statusReversed, 0, reason)
}

func (m *Monitor) publish(ctx context.Context, t models.BlockchainTransfer, status string, confirmations int64, reason string) {
	err := m.publisher.PublishSettlement(ctx, events.SettlementEvent{
		TransactionId: t.TransactionId,
		TxHash:        t.TxHash,
		Network:       t.Network,
		Currency:      t.Currency,
		Amount:        t.Amount,
		Status:        status,
		Confirmations: confirmations,
		Reason:        reason,
	})
	if err != nil {
		zap.L().Warn("Failed to publish settlement event",
			zap.String("transaction_id", t.TransactionId),
			zap.Error(err))
	}
}
