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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"remit-settlement-go/internal/common"
	"remit-settlement-go/internal/config"
	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/provider"
	"remit-settlement-go/internal/retry"
	"remit-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type transferFlags struct {
	walletId    string
	amount      decimal.Decimal
	currency    string
	destination string
	preferred   string
	country     string
}

func parseAndValidateFlags() (*transferFlags, error) {
	walletFlag := flag.String("wallet", "", "Sender wallet id (required)")
	amountFlag := flag.String("amount", "", "Amount to send (required)")
	currencyFlag := flag.String("currency", "", "Currency symbol, e.g. USDC or KES (required)")
	destinationFlag := flag.String("destination", "", "Destination: address, phone number, or account reference (required)")
	preferredFlag := flag.String("method", "", "Preferred payment method (optional)")
	countryFlag := flag.String("country", "", "Destination country code (optional)")
	flag.Parse()

	if *walletFlag == "" || *amountFlag == "" || *currencyFlag == "" || *destinationFlag == "" {
		return nil, fmt.Errorf("all flags are required: --wallet, --amount, --currency, --destination")
	}

	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	return &transferFlags{
		walletId:    *walletFlag,
		amount:      amount,
		currency:    *currencyFlag,
		destination: *destinationFlag,
		preferred:   *preferredFlag,
		country:     *countryFlag,
	}, nil
}

func main() {
	flags, err := parseAndValidateFlags()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if err := runTransfer(ctx, cfg, services, flags); err != nil {
		zap.L().Fatal("Transfer failed", zap.Error(err))
	}
}

func runTransfer(ctx context.Context, cfg *models.Config, services *common.Services, flags *transferFlags) error {
	txId := uuid.New().String()

	selection, err := services.Selector.Select(provider.Criteria{
		Currency:  flags.currency,
		Type:      models.OperationWithdrawal,
		Amount:    flags.amount,
		Preferred: flags.preferred,
		Country:   flags.country,
	})
	if err != nil {
		return fmt.Errorf("no provider can handle this transfer: %w", err)
	}

	zap.L().Info("Provider selected",
		zap.String("transaction_id", txId),
		zap.String("provider", selection.Provider.Name()),
		zap.String("reason", selection.Reason),
		zap.String("health", string(selection.Health)),
		zap.Int("fallbacks", len(selection.Fallbacks)))

	// Debit the sender before touching any rail. A failed or abandoned
	// transfer gets this posting reversed, never deleted.
	if _, err := services.Ledger.DebitWallet(ctx, store.DebitParams{
		WalletId:      flags.walletId,
		Currency:      flags.currency,
		Amount:        flags.amount,
		Description:   fmt.Sprintf("transfer to %s", flags.destination),
		ReferenceTxId: txId,
	}); err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return fmt.Errorf("wallet %s has insufficient %s balance: %w", flags.walletId, flags.currency, err)
		}
		return fmt.Errorf("unable to debit wallet: %w", err)
	}

	request := models.TransferRequest{
		TransactionId: txId,
		Amount:        flags.amount,
		Currency:      flags.currency,
		Destination:   flags.destination,
		Metadata:      map[string]string{"wallet_id": flags.walletId},
	}

	policy := retry.Policy{
		MaxRetries:         cfg.Retry.MaxRetries,
		BaseDelay:          cfg.Retry.BaseDelay,
		ExponentialBackoff: cfg.Retry.ExponentialBackoff,
		Fallbacks:          fallbackMethods(selection),
	}

	result, err := services.Retry.ExecuteWithRetry(ctx, selection.Provider.Name(), models.OperationWithdrawal,
		func(ctx context.Context, p provider.Provider) (*models.ProviderResponse, error) {
			return p.InitiateWithdrawal(ctx, request)
		}, policy, request)
	if err != nil {
		// Nothing was accepted by any rail, so the debit comes straight back.
		if revErr := reverseDebit(ctx, services.Ledger, txId, flags); revErr != nil {
			zap.L().Error("CRITICAL: failed to reverse debit after exhausted transfer, manual reconciliation required",
				zap.String("transaction_id", txId),
				zap.Error(revErr))
		}
		return err
	}

	zap.L().Info("Transfer accepted",
		zap.String("transaction_id", txId),
		zap.String("provider", result.Provider),
		zap.String("provider_tx_id", result.Response.ProviderTxId),
		zap.String("status", result.Response.Status),
		zap.Int("attempts", result.Attempts),
		zap.Bool("fallback", result.Fallback))

	fmt.Printf("\nTransfer %s accepted by %s (status: %s)\n", txId, result.Provider, result.Response.Status)
	if hash := result.Response.Metadata["tx_hash"]; hash != "" {
		fmt.Printf("On-chain hash: %s\n", hash)
	}
	return nil
}

func fallbackMethods(selection *provider.SelectionResult) []string {
	methods := make([]string, 0, len(selection.Fallbacks))
	for _, p := range selection.Fallbacks {
		methods = append(methods, p.Name())
	}
	return methods
}

func reverseDebit(ctx context.Context, ledger store.LedgerStore, txId string, flags *transferFlags) error {
	_, err := ledger.CreditWallet(ctx, store.CreditParams{
		WalletId:      flags.walletId,
		Currency:      flags.currency,
		Amount:        flags.amount,
		EntryType:     store.EntryTypeReversal,
		Description:   "reversal: no provider accepted the transfer",
		ReferenceTxId: txId,
	})
	if errors.Is(err, store.ErrDuplicateEntry) {
		return nil
	}
	return err
}
