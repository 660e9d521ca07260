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
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus is the lifecycle state of an on-chain transfer.
// Transitions are one-directional: PENDING -> CONFIRMED or PENDING -> FAILED.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "PENDING"
	TransferStatusConfirmed TransferStatus = "CONFIRMED"
	TransferStatusFailed    TransferStatus = "FAILED"
)

// BlockchainTransfer tracks one on-chain transfer from submission to
// settlement. Exactly one per ledger transaction; the relationship is set at
// creation and never reassigned. The executor creates it (status PENDING,
// empty hash), attaches the hash after broadcast, and the settlement monitor
// is the only writer of terminal states.
type BlockchainTransfer struct {
	TransactionId string
	WalletId      string // wallet debited for this transfer; empty if none
	Network       string
	Currency      string
	Amount        decimal.Decimal
	FromAddress   string
	ToAddress     string
	Status        TransferStatus
	TxHash        string // empty until broadcast
	Confirmations int64
	CheckAttempts int
	LastCheckedAt time.Time
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the transfer has reached a final state.
func (t *BlockchainTransfer) Terminal() bool {
	return t.Status == TransferStatusConfirmed || t.Status == TransferStatusFailed
}

// NetworkConfig describes one blockchain network the settlement core can
// submit to. Loaded from networks.yaml at startup.
type NetworkConfig struct {
	Name                  string
	NativeCurrency        string
	RequiredConfirmations int64
	// MinTransferUnit is the smallest amount the network will accept.
	MinTransferUnit decimal.Decimal
	// AssetDecimals maps currency symbols to their on-chain precision.
	// Amounts with more fractional digits are rejected before submission.
	AssetDecimals map[string]int32
	// TokenContracts maps non-native currency symbols to contract addresses.
	TokenContracts map[string]string
	// GasFeeFallback is the conservative native-currency fee estimate used
	// when simulation fails.
	GasFeeFallback decimal.Decimal
	// GasBufferPercent is the safety margin applied on top of the estimated
	// fee when checking the native balance (10-20 typical).
	GasBufferPercent int64
}
