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
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/provider"
)

var _ provider.Provider = (*BankProvider)(nil)

// BankConfig configures one banking partner connection.
type BankConfig struct {
	Name     string
	BaseURL  string
	APIKey   string
	Priority int
}

// BankProvider drives a banking-as-a-service partner. The destination in a
// TransferRequest is the beneficiary account reference the partner issued
// during onboarding. Bank transfers settle slowly, so every accepted request
// comes back pending.
type BankProvider struct {
	name         string
	client       *apiClient
	capabilities models.ProviderCapabilities
}

func NewBankProvider(cfg BankConfig) (*BankProvider, error) {
	if cfg.Name == "" {
		cfg.Name = "bank"
	}
	client, err := newAPIClient(cfg.BaseURL, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("unable to create %s client: %w", cfg.Name, err)
	}

	return &BankProvider{
		name:   cfg.Name,
		client: client,
		capabilities: models.ProviderCapabilities{
			ProviderId: cfg.Name,
			Currencies: []string{"USD", "EUR", "GBP", "NGN"},
			Operations: []models.OperationType{
				models.OperationDeposit,
				models.OperationWithdrawal,
				models.OperationRefund,
			},
			Limits: map[string]models.CurrencyLimits{
				"USD": {Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(1000000)},
				"EUR": {Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(1000000)},
				"GBP": {Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(1000000)},
				"NGN": {Min: decimal.NewFromInt(1000), Max: decimal.NewFromInt(100000000)},
			},
			Fees: map[string]models.FeeSchedule{
				"USD": {Fixed: decimal.NewFromFloat(0.25), Percent: decimal.NewFromFloat(0.5)},
				"EUR": {Fixed: decimal.NewFromFloat(0.25), Percent: decimal.NewFromFloat(0.5)},
				"GBP": {Fixed: decimal.NewFromFloat(0.20), Percent: decimal.NewFromFloat(0.5)},
				"NGN": {Fixed: decimal.NewFromInt(100), Percent: decimal.NewFromFloat(0.8)},
			},
			Active:   true,
			Priority: cfg.Priority,
			ProcessingTime: map[models.OperationType]time.Duration{
				models.OperationDeposit:    time.Hour,
				models.OperationWithdrawal: 24 * time.Hour,
			},
		},
	}, nil
}

func (p *BankProvider) Name() string { return p.name }

func (p *BankProvider) SupportedCurrencies() []string {
	return p.capabilities.Currencies
}

func (p *BankProvider) Capabilities() models.ProviderCapabilities {
	return p.capabilities
}

type bankTransferRequest struct {
	Reference        string            `json:"reference"`
	Amount           string            `json:"amount"`
	Currency         string            `json:"currency"`
	AccountReference string            `json:"account_reference"`
	Direction        string            `json:"direction"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

type bankTransferResponse struct {
	Id        string `json:"id"`
	State     string `json:"state"`
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

func (p *BankProvider) InitiateDeposit(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error) {
	return p.submit(ctx, request, "credit")
}

func (p *BankProvider) InitiateWithdrawal(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error) {
	return p.submit(ctx, request, "debit")
}

func (p *BankProvider) submit(ctx context.Context, request models.TransferRequest, direction string) (*models.ProviderResponse, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transfer request: %w", err)
	}

	var resp bankTransferResponse
	err := p.client.doJSON(ctx, http.MethodPost, "/v1/transfers", bankTransferRequest{
		Reference:        request.TransactionId,
		Amount:           request.Amount.String(),
		Currency:         request.Currency,
		AccountReference: request.Destination,
		Direction:        direction,
		Metadata:         request.Metadata,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s transfer failed: %w", p.name, err)
	}

	zap.L().Info("Bank transfer accepted",
		zap.String("provider", p.name),
		zap.String("transaction_id", request.TransactionId),
		zap.String("provider_tx_id", resp.Id),
		zap.String("state", resp.State))

	return mapBankResponse(&resp), nil
}

func (p *BankProvider) TransactionStatus(ctx context.Context, providerTxId string) (*models.ProviderResponse, error) {
	var resp bankTransferResponse
	err := p.client.doJSON(ctx, http.MethodGet, "/v1/transfers/"+providerTxId, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s status lookup failed: %w", p.name, err)
	}
	return mapBankResponse(&resp), nil
}

func mapBankResponse(resp *bankTransferResponse) *models.ProviderResponse {
	status := models.ResponseStatusPending
	success := true
	switch resp.State {
	case "settled", "completed":
		status = models.ResponseStatusCompleted
	case "failed", "returned", "cancelled":
		status = models.ResponseStatusFailed
		success = false
	}
	return &models.ProviderResponse{
		Success:      success,
		ProviderTxId: resp.Id,
		Status:       status,
		Message:      resp.Detail,
		ErrorCode:    resp.ErrorCode,
	}
}
