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

package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OperationType identifies the kind of provider operation being requested
type OperationType string

const (
	OperationDeposit    OperationType = "deposit"
	OperationWithdrawal OperationType = "withdrawal"
	OperationTransfer   OperationType = "transfer"
	OperationRefund     OperationType = "refund"
)

// Provider response statuses. "pending" is a terminal success from the
// caller's point of view: the provider accepted the request and settlement
// happens asynchronously.
const (
	ResponseStatusPending   = "pending"
	ResponseStatusCompleted = "completed"
	ResponseStatusFailed    = "failed"
)

// TransferRequest is the provider-agnostic description of a money movement.
// Destination is opaque to the core: a phone number for mobile money, an
// account reference for bank rails, an address for on-chain transfers.
// Immutable once constructed.
type TransferRequest struct {
	TransactionId string
	Amount        decimal.Decimal
	Currency      string
	Destination   string
	Metadata      map[string]string
}

// Validate checks the request invariants shared by every rail.
func (r TransferRequest) Validate() error {
	if r.TransactionId == "" {
		return fmt.Errorf("transaction id is required")
	}
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be greater than zero, got %s", r.Amount.String())
	}
	if r.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if r.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	return nil
}

// ProviderResponse is what every rail adapter returns for deposit,
// withdrawal, and status operations.
type ProviderResponse struct {
	Success      bool              `json:"success"`
	ProviderTxId string            `json:"provider_tx_id,omitempty"`
	Status       string            `json:"status"`
	Message      string            `json:"message,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Settled reports whether the response counts as a terminal success for the
// retry executor (completed, or accepted-and-pending).
func (r *ProviderResponse) Settled() bool {
	return r != nil && r.Success &&
		(r.Status == ResponseStatusCompleted || r.Status == ResponseStatusPending)
}
