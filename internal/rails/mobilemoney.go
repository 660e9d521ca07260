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

var _ provider.Provider = (*MobileMoneyProvider)(nil)

// MobileMoneyConfig configures one mobile-money partner connection.
type MobileMoneyConfig struct {
	Name     string
	BaseURL  string
	APIKey   string
	Priority int
	// Countries the partner is licensed in (ISO 3166-1 alpha-2).
	Countries []string
}

// MobileMoneyProvider drives a mobile-money aggregator API. Collections pull
// funds from a subscriber's wallet (deposit); disbursements push funds out
// (withdrawal). The destination in a TransferRequest is the subscriber's
// phone number in E.164 form.
type MobileMoneyProvider struct {
	name         string
	client       *apiClient
	capabilities models.ProviderCapabilities
}

func NewMobileMoneyProvider(cfg MobileMoneyConfig) (*MobileMoneyProvider, error) {
	if cfg.Name == "" {
		cfg.Name = "mobile-money"
	}
	client, err := newAPIClient(cfg.BaseURL, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("unable to create %s client: %w", cfg.Name, err)
	}

	currencies := []string{"KES", "GHS", "NGN", "XOF", "UGX"}
	return &MobileMoneyProvider{
		name:   cfg.Name,
		client: client,
		capabilities: models.ProviderCapabilities{
			ProviderId: cfg.Name,
			Currencies: currencies,
			Operations: []models.OperationType{models.OperationDeposit, models.OperationWithdrawal},
			Limits: map[string]models.CurrencyLimits{
				"KES": {Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(300000)},
				"GHS": {Min: decimal.NewFromInt(1), Max: decimal.NewFromInt(50000)},
				"NGN": {Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(5000000)},
				"XOF": {Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(2000000)},
				"UGX": {Min: decimal.NewFromInt(500), Max: decimal.NewFromInt(5000000)},
			},
			Fees: map[string]models.FeeSchedule{
				"KES": {Percent: decimal.NewFromFloat(1.5), Min: decimal.NewFromInt(10)},
				"GHS": {Percent: decimal.NewFromFloat(1.5), Min: decimal.NewFromInt(1)},
				"NGN": {Percent: decimal.NewFromFloat(1.4), Min: decimal.NewFromInt(50)},
				"XOF": {Percent: decimal.NewFromFloat(1.8)},
				"UGX": {Percent: decimal.NewFromFloat(1.5)},
			},
			Active:    true,
			Priority:  cfg.Priority,
			Countries: cfg.Countries,
			ProcessingTime: map[models.OperationType]time.Duration{
				models.OperationDeposit:    30 * time.Second,
				models.OperationWithdrawal: 2 * time.Minute,
			},
		},
	}, nil
}

func (p *MobileMoneyProvider) Name() string { return p.name }

func (p *MobileMoneyProvider) SupportedCurrencies() []string {
	return p.capabilities.Currencies
}

func (p *MobileMoneyProvider) Capabilities() models.ProviderCapabilities {
	return p.capabilities
}

type mobileMoneyRequest struct {
	Reference   string            `json:"reference"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	PhoneNumber string            `json:"phone_number"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type mobileMoneyResponse struct {
	TransactionId string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	ErrorCode     string `json:"error_code"`
}

// InitiateDeposit starts a collection: the subscriber approves a push prompt
// on their handset, so the accepted request settles asynchronously.
func (p *MobileMoneyProvider) InitiateDeposit(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error) {
	return p.submit(ctx, "/v1/collections", request)
}

// InitiateWithdrawal starts a disbursement to the subscriber's wallet.
func (p *MobileMoneyProvider) InitiateWithdrawal(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error) {
	return p.submit(ctx, "/v1/disbursements", request)
}

func (p *MobileMoneyProvider) submit(ctx context.Context, path string, request models.TransferRequest) (*models.ProviderResponse, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transfer request: %w", err)
	}

	var resp mobileMoneyResponse
	err := p.client.doJSON(ctx, http.MethodPost, path, mobileMoneyRequest{
		Reference:   request.TransactionId,
		Amount:      request.Amount.String(),
		Currency:    request.Currency,
		PhoneNumber: request.Destination,
		Metadata:    request.Metadata,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}

	zap.L().Info("Mobile money request accepted",
		zap.String("provider", p.name),
		zap.String("transaction_id", request.TransactionId),
		zap.String("provider_tx_id", resp.TransactionId),
		zap.String("status", resp.Status))

	return mapMobileMoneyResponse(&resp), nil
}

func (p *MobileMoneyProvider) TransactionStatus(ctx context.Context, providerTxId string) (*models.ProviderResponse, error) {
	var resp mobileMoneyResponse
	err := p.client.doJSON(ctx, http.MethodGet, "/v1/transactions/"+providerTxId, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s status lookup failed: %w", p.name, err)
	}
	return mapMobileMoneyResponse(&resp), nil
}

// mapMobileMoneyResponse translates partner statuses onto the shared
// response vocabulary.
func mapMobileMoneyResponse(resp *mobileMoneyResponse) *models.ProviderResponse {
	status := models.ResponseStatusPending
	success := true
	switch resp.Status {
	case "SUCCESSFUL", "COMPLETED":
		status = models.ResponseStatusCompleted
	case "FAILED", "REJECTED", "EXPIRED":
		status = models.ResponseStatusFailed
		success = false
	}
	return &models.ProviderResponse{
		Success:      success,
		ProviderTxId: resp.TransactionId,
		Status:       status,
		Message:      resp.Message,
		ErrorCode:    resp.ErrorCode,
	}
}
