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
	"errors"
	"fmt"
	"time"

	"remit-settlement-go/internal/chain"
	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/provider"
	"remit-settlement-go/internal/store"
)

var _ provider.Provider = (*OnChainProvider)(nil)

// OnChainProvider settles withdrawals directly on-chain through the transfer
// executor. The provider transaction id is the ledger transaction id itself;
// status answers come from the transfer store, which the settlement monitor
// keeps current.
type OnChainProvider struct {
	executor     *chain.Executor
	transfers    store.TransferStore
	network      models.NetworkConfig
	capabilities models.ProviderCapabilities
}

func NewOnChainProvider(executor *chain.Executor, transfers store.TransferStore, network models.NetworkConfig, priority int) *OnChainProvider {
	currencies := []string{network.NativeCurrency}
	for currency := range network.TokenContracts {
		currencies = append(currencies, currency)
	}

	return &OnChainProvider{
		executor:  executor,
		transfers: transfers,
		network:   network,
		capabilities: models.ProviderCapabilities{
			ProviderId: "onchain",
			Currencies: currencies,
			Operations: []models.OperationType{models.OperationWithdrawal, models.OperationTransfer},
			Active:     true,
			Priority:   priority,
			ProcessingTime: map[models.OperationType]time.Duration{
				models.OperationWithdrawal: 5 * time.Minute,
			},
		},
	}
}

func (p *OnChainProvider) Name() string { return "onchain" }

func (p *OnChainProvider) SupportedCurrencies() []string {
	return p.capabilities.Currencies
}

func (p *OnChainProvider) Capabilities() models.ProviderCapabilities {
	return p.capabilities
}

// InitiateDeposit is not offered on-chain: inbound deposits are observed by
// address watchers, not initiated by the core.
func (p *OnChainProvider) InitiateDeposit(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error) {
	return nil, fmt.Errorf("on-chain rail does not support deposits")
}

// InitiateWithdrawal validates and broadcasts the transfer under the
// per-transaction lock. A validation rejection comes back as a failed
// response carrying every violation, not as a transport error; the caller
// decides whether re-attempting a deterministic rejection is worth it.
func (p *OnChainProvider) InitiateWithdrawal(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transfer request: %w", err)
	}

	result, err := p.executor.ExecuteTransferWithLock(ctx, request.TransactionId, request.Destination, request.Amount, chain.TransferOptions{
		Currency: request.Currency,
		WalletId: request.Metadata["wallet_id"],
		Metadata: request.Metadata,
	})
	if err != nil {
		var vErr *chain.ValidationError
		if errors.As(err, &vErr) {
			return &models.ProviderResponse{
				Success:   false,
				Status:    models.ResponseStatusFailed,
				Message:   vErr.Error(),
				ErrorCode: "validation_failed",
			}, nil
		}
		return nil, err
	}

	return &models.ProviderResponse{
		Success:      true,
		ProviderTxId: request.TransactionId,
		Status:       models.ResponseStatusPending,
		Message:      fmt.Sprintf("broadcast as %s", result.TxHash),
		Metadata: map[string]string{
			"tx_hash": result.TxHash,
			"network": p.network.Name,
		},
	}, nil
}

func (p *OnChainProvider) TransactionStatus(ctx context.Context, providerTxId string) (*models.ProviderResponse, error) {
	transfer, err := p.transfers.GetTransfer(ctx, providerTxId)
	if err != nil {
		return nil, fmt.Errorf("unable to get transfer: %w", err)
	}

	resp := &models.ProviderResponse{
		ProviderTxId: providerTxId,
		Metadata: map[string]string{
			"tx_hash":       transfer.TxHash,
			"network":       transfer.Network,
			"confirmations": fmt.Sprintf("%d", transfer.Confirmations),
		},
	}

	switch transfer.Status {
	case models.TransferStatusConfirmed:
		resp.Success = true
		resp.Status = models.ResponseStatusCompleted
	case models.TransferStatusFailed:
		resp.Status = models.ResponseStatusFailed
		resp.Message = transfer.FailureReason
	default:
		resp.Success = true
		resp.Status = models.ResponseStatusPending
	}
	return resp, nil
}
