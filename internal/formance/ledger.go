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

package formance

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"remit-settlement-go/internal/store"
)

// ---------------------------------------------------------------------------
// Numscript templates. All metadata is set inside the script via set_tx_meta()
// so each Formance transaction is fully self-describing.
// ---------------------------------------------------------------------------

const numscriptCredit = `vars {
  asset $asset
  number $amount
  account $wallet_id
  string $entry_type
  string $reference_tx_id
  string $description
}

send [$asset $amount] (
  source = @world
  destination = @wallets:$wallet_id
)

set_tx_meta("entry_type", $entry_type)
set_tx_meta("reference_tx_id", $reference_tx_id)
set_tx_meta("description", $description)
`

const numscriptReversal = `vars {
  asset $asset
  number $amount
  account $wallet_id
  string $reference_tx_id
  string $description
}

send [$asset $amount] (
  source = @settlement:pending allowing unbounded overdraft
  destination = @wallets:$wallet_id
)

set_tx_meta("entry_type", "reversal")
set_tx_meta("reference_tx_id", $reference_tx_id)
set_tx_meta("description", $description)
`

const numscriptDebit = `vars {
  asset $asset
  number $amount
  account $wallet_id
  string $reference_tx_id
  string $description
}

send [$asset $amount] (
  source = @wallets:$wallet_id
  destination = @settlement:pending
)

set_tx_meta("entry_type", "debit")
set_tx_meta("reference_tx_id", $reference_tx_id)
set_tx_meta("description", $description)
`

const numscriptSettle = `vars {
  asset $asset
  number $amount
  string $reference_tx_id
}

send [$asset $amount] (
  source = @settlement:pending allowing unbounded overdraft
  destination = @settlement:settled
)

set_tx_meta("entry_type", "settle")
set_tx_meta("reference_tx_id", $reference_tx_id)
`

// CreditWallet posts a credit to the wallet account. Reversal credits carry a
// deterministic reference, so a replay comes back as a CONFLICT, which is
// surfaced as store.ErrDuplicateEntry to match the backend contract.
func (s *Service) CreditWallet(ctx context.Context, params store.CreditParams) (*store.LedgerEntry, error) {
	entryType := params.EntryType
	if entryType == "" {
		entryType = store.EntryTypeCredit
	}

	script := numscriptCredit
	var reference *string
	if entryType == store.EntryTypeReversal {
		script = numscriptReversal
		reference = strPtr(params.ReferenceTxId + "-reversal")
	}

	smallAmt := params.Amount.Shift(int32(precisionFor(params.Currency))).BigInt().String()
	vars := map[string]string{
		"asset":           formanceAsset(params.Currency),
		"amount":          smallAmt,
		"wallet_id":       params.WalletId,
		"reference_tx_id": params.ReferenceTxId,
		"description":     params.Description,
	}
	if entryType != store.EntryTypeReversal {
		vars["entry_type"] = entryType
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: reference,
			Script: &shared.V2PostTransactionScript{
				Plain: script,
				Vars:  vars,
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			return nil, fmt.Errorf("%w: reversal for %s already posted",
				store.ErrDuplicateEntry, params.ReferenceTxId)
		}
		return nil, fmt.Errorf("error posting credit: %w", err)
	}

	zap.L().Info("Credit posted to Formance",
		zap.String("wallet_id", params.WalletId),
		zap.String("currency", params.Currency),
		zap.String("entry_type", entryType),
		zap.String("amount", params.Amount.String()))

	return s.entryResult(ctx, params.WalletId, params.Currency, entryType,
		params.Amount, params.Description, params.ReferenceTxId)
}

// DebitWallet moves funds from the wallet into the settlement pending
// account. The wallet account does not allow overdraft, so an uncovered
// debit is rejected by the ledger and mapped to store.ErrInsufficientBalance.
func (s *Service) DebitWallet(ctx context.Context, params store.DebitParams) (*store.LedgerEntry, error) {
	var reference *string
	if params.ReferenceTxId != "" {
		reference = strPtr(params.ReferenceTxId + "-debit")
	}

	smallAmt := params.Amount.Shift(int32(precisionFor(params.Currency))).BigInt().String()
	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: reference,
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptDebit,
				Vars: map[string]string{
					"asset":           formanceAsset(params.Currency),
					"amount":          smallAmt,
					"wallet_id":       params.WalletId,
					"reference_tx_id": params.ReferenceTxId,
					"description":     params.Description,
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			return nil, fmt.Errorf("%w: debit for %s already posted",
				store.ErrDuplicateEntry, params.ReferenceTxId)
		}
		if isInsufficientFundError(err) {
			return nil, fmt.Errorf("%w: wallet %s cannot cover %s %s",
				store.ErrInsufficientBalance, params.WalletId,
				params.Amount.String(), params.Currency)
		}
		return nil, fmt.Errorf("error posting debit: %w", err)
	}

	zap.L().Info("Debit posted to Formance",
		zap.String("wallet_id", params.WalletId),
		zap.String("currency", params.Currency),
		zap.String("amount", params.Amount.String()))

	return s.entryResult(ctx, params.WalletId, params.Currency, store.EntryTypeDebit,
		params.Amount, params.Description, params.ReferenceTxId)
}

// GetWalletBalance reads the wallet account volumes. An account the ledger
// has never seen has a zero balance.
func (s *Service) GetWalletBalance(ctx context.Context, walletId, currency string) (decimal.Decimal, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: "wallets:" + walletId,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("error getting wallet balance: %w", err)
	}

	fAsset := formanceAsset(currency)
	bal := volumeBalance(resp.V2AccountResponse.Data.Volumes, fAsset)
	if bal == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromBigInt(bal, -int32(precisionFor(currency))), nil
}

// HasReversal checks for the deterministic reversal reference.
func (s *Service) HasReversal(ctx context.Context, referenceTxId string) (bool, error) {
	tx, err := s.findByReference(ctx, referenceTxId+"-reversal")
	if err != nil {
		return false, err
	}
	return tx != nil, nil
}

// UpdateTransactionStatus attaches the settlement outcome to the original
// debit transaction as metadata. A completed settlement additionally moves
// the pending funds to the settled account.
func (s *Service) UpdateTransactionStatus(ctx context.Context, txId string, update store.StatusUpdate) error {
	tx, err := s.findByReference(ctx, txId+"-debit")
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("no ledger transaction found for %s", txId)
	}

	metadata := map[string]string{
		"settlement_status": update.Status,
	}
	if update.ErrorMessage != "" {
		metadata["settlement_error"] = update.ErrorMessage
	}
	if update.CompletedAt != nil {
		metadata["completed_at"] = update.CompletedAt.UTC().Format(time.RFC3339)
	}
	if update.FailedAt != nil {
		metadata["failed_at"] = update.FailedAt.UTC().Format(time.RFC3339)
	}
	for k, v := range update.Metadata {
		metadata[k] = v
	}

	_, err = s.client.Ledger.V2.AddMetadataOnTransaction(ctx, operations.V2AddMetadataOnTransactionRequest{
		Ledger:      s.ledger,
		ID:          tx.ID,
		RequestBody: metadata,
	})
	if err != nil {
		return fmt.Errorf("error updating transaction status: %w", err)
	}

	if update.Status == store.TxStatusCompleted && len(tx.Postings) > 0 {
		if err := s.settlePending(ctx, txId, tx.Postings[0]); err != nil {
			return err
		}
	}

	zap.L().Info("Transaction status updated in Formance",
		zap.String("tx_id", txId),
		zap.String("status", update.Status))
	return nil
}

// settlePending moves the debited amount from settlement:pending to
// settlement:settled. Idempotent through the deterministic reference.
func (s *Service) settlePending(ctx context.Context, txId string, posting shared.V2Posting) error {
	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(txId + "-settled"),
			Script: &shared.V2PostTransactionScript{
				Plain: numscriptSettle,
				Vars: map[string]string{
					"asset":           posting.Asset,
					"amount":          posting.Amount.String(),
					"reference_tx_id": txId,
				},
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			return nil // idempotent
		}
		return fmt.Errorf("error settling pending funds: %w", err)
	}
	return nil
}

// findByReference returns the transaction with the exact reference, or nil.
func (s *Service) findByReference(ctx context.Context, reference string) (*shared.V2Transaction, error) {
	pageSize := int64(1)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$match": map[string]any{"reference": reference},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error looking up reference %s: %w", reference, err)
	}
	if len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return nil, nil
	}
	return &resp.V2TransactionsCursorResponse.Cursor.Data[0], nil
}

// entryResult builds the LedgerEntry returned to callers. Formance owns the
// running balance, so before/after are reconstructed from the current value.
func (s *Service) entryResult(ctx context.Context, walletId, currency, entryType string, amount decimal.Decimal, description, referenceTxId string) (*store.LedgerEntry, error) {
	balance, err := s.GetWalletBalance(ctx, walletId, currency)
	if err != nil {
		zap.L().Warn("Could not read balance after posting", zap.Error(err))
		balance = decimal.Zero
	}

	before := balance.Sub(amount)
	if entryType == store.EntryTypeDebit {
		before = balance.Add(amount)
	}

	return &store.LedgerEntry{
		WalletId:      walletId,
		Currency:      currency,
		EntryType:     entryType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  balance,
		Description:   description,
		ReferenceTxId: referenceTxId,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func isInsufficientFundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumInsufficientFund
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}
