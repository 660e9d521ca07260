package provider

import (
	"context"

	"remit-settlement-go/internal/models"
)

// Provider is the contract every payment rail adapter implements. Adapters
// are stateless aside from their own client configuration; capability
// snapshots are treated as read-only for the duration of a selection
// decision.
type Provider interface {
	Name() string
	InitiateDeposit(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error)
	InitiateWithdrawal(ctx context.Context, request models.TransferRequest) (*models.ProviderResponse, error)
	TransactionStatus(ctx context.Context, providerTxId string) (*models.ProviderResponse, error)
	SupportedCurrencies() []string
	Capabilities() models.ProviderCapabilities
}
