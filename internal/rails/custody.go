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

package rails

import (
	"context"
	"fmt"
	"time"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/transactions"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/provider"
)

var _ provider.Provider = (*CustodyProvider)(nil)

// CustodyConfig configures the custodial rail.
type CustodyConfig struct {
	Credentials *credentials.Credentials
	PortfolioId string
	// WalletIds maps currency symbols to custody wallet ids.
	WalletIds map[string]string
	Priority  int
}

// CustodyProvider pays out from custodial wallets. Withdrawals are created
// through the custodian's API and settle asynchronously; the transaction id
// doubles as the idempotency key, so a retried initiation cannot double-pay.
type CustodyProvider struct {
	transactionsSvc transactions.TransactionsService
	portfolioId     string
	walletIds       map[string]string
	capabilities    models.ProviderCapabilities
}

func NewCustodyProvider(cfg CustodyConfig) (*CustodyProvider, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("custody credentials are required")
	}
	if cfg.PortfolioId == "" {
		return nil, fmt.Errorf("portfolio id is required")
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}
	restClient := client.NewRestClient(cfg.Credentials, httpClient)

	currencies := make([]string, 0, len(cfg.WalletIds))
	for currency := range cfg.WalletIds {
		currencies = append(currencies, currency)
	}

	return &CustodyProvider{
		transactionsSvc: transactions.NewTransactionsService(restClient),
		portfolioId:     cfg.PortfolioId,
		walletIds:       cfg.WalletIds,
		capabilities: models.ProviderCapabilities{
			ProviderId: "custody",
			Currencies: currencies,
			Operations: []models.OperationType{models.OperationWithdrawal, models.OperationTransfer},
			Fees: map[string]models.FeeSchedule{
				"USDC": {Percent: decimal.NewFromFloat(0.1)},
				"ETH":  {Percent: decimal.NewFromFloat(0.1)},
				"BTC":  {Percent: decimal.NewFromFloat(0.1)},
			},
			Active:   true,
			Priority: cfg.Priority,
			ProcessingTime: map[models.OperationType]time.Duration{
				models.OperationWithdrawal: 10 * time.Minute,
			},
		},
	}, nil
}

func (p *CustodyProvider) Name() string { return "custody" }

func (p *CustodyProvider) SupportedCurrencies() []string {
	return p.capabilities.Currencies
}

func (p *CustodyProvider) Capabilities() models.ProviderCapabilities {
	return p.capabilities
}

// InitiateDeposit is not offered on the custodial rail: inbound funds arrive
// through deposit addresses watched elsewhere, not through an API pull.
func (p *CustodyProvider) InitiateDeposit(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error) {
	return nil, fmt.Errorf("custody rail does not support deposits")
}

// InitiateWithdrawal creates an on-chain withdrawal from the custody wallet
// holding the requested currency.
func (p *CustodyProvider) InitiateWithdrawal(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transfer request: %w", err)
	}

	walletId, ok := p.walletIds[request.Currency]
	if !ok {
		return nil, fmt.Errorf("no custody wallet configured for %s", request.Currency)
	}

	response, err := p.transactionsSvc.CreateWalletWithdrawal(ctx, &transactions.CreateWalletWithdrawalRequest{
		PortfolioId:     p.portfolioId,
		SourceWalletId:  walletId,
		Amount:          request.Amount.String(),
		IdempotencyKey:  request.TransactionId,
		Symbol:          request.Currency,
		DestinationType: "DESTINATION_BLOCKCHAIN",
		BlockchainAddress: &model.BlockchainAddress{
			Address: request.Destination,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create custody withdrawal: %w", err)
	}

	zap.L().Info("Custody withdrawal created",
		zap.String("activity_id", response.ActivityId),
		zap.String("transaction_id", request.TransactionId),
		zap.String("currency", request.Currency),
		zap.String("amount", request.Amount.String()))

	return &models.ProviderResponse{
		Success:      true,
		ProviderTxId: response.ActivityId,
		Status:       models.ResponseStatusPending,
		Message:      "withdrawal accepted by custodian",
	}, nil
}

// TransactionStatus resolves the custodian's transaction state onto the
// shared vocabulary.
func (p *CustodyProvider) TransactionStatus(ctx context.Context, providerTxId string) (*models.ProviderResponse, error) {
	response, err := p.transactionsSvc.GetTransaction(ctx, &transactions.GetTransactionRequest{
		TransactionId: providerTxId,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get custody transaction: %w", err)
	}

	status := models.ResponseStatusPending
	success := true
	switch response.Transaction.Status {
	case "TRANSACTION_DONE":
		status = models.ResponseStatusCompleted
	case "TRANSACTION_CANCELLED", "TRANSACTION_REJECTED", "TRANSACTION_FAILED", "TRANSACTION_EXPIRED":
		status = models.ResponseStatusFailed
		success = false
	}

	return &models.ProviderResponse{
		Success:      success,
		ProviderTxId: providerTxId,
		Status:       status,
		Message:      response.Transaction.Status,
	}, nil
}
