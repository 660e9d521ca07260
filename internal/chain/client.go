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

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/net/http2"

	"remit-settlement-go/internal/models"
)

// BroadcastParams describes one transfer submission to the node.
type BroadcastParams struct {
	From     string
	To       string
	Currency string
	Amount   decimal.Decimal
}

// Receipt is the node's record of a mined transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
}

// NodeClient is the narrow contract the executor and settlement monitor need
// from a blockchain node. The wire protocol behind it is opaque to callers.
type NodeClient interface {
	ValidateAddress(address string) bool
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, address, currency string) (decimal.Decimal, error)
	EstimateFee(ctx context.Context, params BroadcastParams) (decimal.Decimal, error)
	BroadcastTransfer(ctx context.Context, params BroadcastParams) (string, error)
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// RPCClient talks JSON-RPC to an EVM node that manages the hot wallet's keys
// (eth_sendTransaction). Token transfers go through the ERC-20 transfer
// selector against the configured contract addresses.
type RPCClient struct {
	url        string
	httpClient http.Client
	network    models.NetworkConfig
	requestId  atomic.Int64
}

func NewRPCClient(url string, network models.NetworkConfig) (*RPCClient, error) {
	if url == "" {
		return nil, fmt.Errorf("rpc url cannot be empty")
	}

	httpClient, err := createCustomHttpClient()
	if err != nil {
		return nil, fmt.Errorf("unable to create custom http client: %w", err)
	}

	return &RPCClient{
		url:        url,
		httpClient: httpClient,
		network:    network,
	}, nil
}

func createCustomHttpClient() (http.Client, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 30 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   15 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConnsPerHost:   5,
		ExpectContinueTimeout: 5 * time.Second,
	}

	if err := http2.ConfigureTransport(tr); err != nil {
		return http.Client{}, err
	}

	return http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

type rpcRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	Id      int64         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call performs one JSON-RPC round trip. Transport failures come back as
// *NetworkError (retryable); node-level rejections as *RPCError (not
// retryable).
func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
		Id:      c.requestId.Add(1),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &NetworkError{Op: method, Err: fmt.Errorf("node returned status %d", resp.StatusCode)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &NetworkError{Op: method, Err: fmt.Errorf("failed to decode rpc response: %w", err)}
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to unmarshal rpc result for %s: %w", method, err)
		}
	}
	return nil
}

// ValidateAddress checks the network's address format (0x + 40 hex digits).
func (c *RPCClient) ValidateAddress(address string) bool {
	return addressPattern.MatchString(address)
}

func (c *RPCClient) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var hexBalance string
	if err := c.call(ctx, "eth_getBalance", []interface{}{address, "latest"}, &hexBalance); err != nil {
		return decimal.Zero, fmt.Errorf("unable to get native balance: %w", err)
	}
	return c.fromBaseUnits(hexBalance, c.network.NativeCurrency)
}

func (c *RPCClient) TokenBalance(ctx context.Context, address, currency string) (decimal.Decimal, error) {
	if currency == c.network.NativeCurrency {
		return c.NativeBalance(ctx, address)
	}

	contract, ok := c.network.TokenContracts[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("no token contract configured for %s on %s", currency, c.network.Name)
	}

	// balanceOf(address)
	data := "0x70a08231" + padAddress(address)
	var hexBalance string
	err := c.call(ctx, "eth_call", []interface{}{
		map[string]string{"to": contract, "data": data}, "latest",
	}, &hexBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to get %s balance: %w", currency, err)
	}
	return c.fromBaseUnits(hexBalance, currency)
}

// EstimateFee simulates the transfer and prices it at the current gas price,
// returning the cost in the native currency.
func (c *RPCClient) EstimateFee(ctx context.Context, params BroadcastParams) (decimal.Decimal, error) {
	txObject, err := c.transactionObject(params)
	if err != nil {
		return decimal.Zero, err
	}

	var hexGas string
	if err := c.call(ctx, "eth_estimateGas", []interface{}{txObject}, &hexGas); err != nil {
		return decimal.Zero, fmt.Errorf("gas simulation failed: %w", err)
	}

	var hexPrice string
	if err := c.call(ctx, "eth_gasPrice", []interface{}{}, &hexPrice); err != nil {
		return decimal.Zero, fmt.Errorf("gas price lookup failed: %w", err)
	}

	gas, err := hexToBig(hexGas)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := hexToBig(hexPrice)
	if err != nil {
		return decimal.Zero, err
	}

	wei := new(big.Int).Mul(gas, price)
	decimals := c.decimalsFor(c.network.NativeCurrency)
	return decimal.NewFromBigInt(wei, -decimals), nil
}

func (c *RPCClient) BroadcastTransfer(ctx context.Context, params BroadcastParams) (string, error) {
	txObject, err := c.transactionObject(params)
	if err != nil {
		return "", err
	}

	var txHash string
	if err := c.call(ctx, "eth_sendTransaction", []interface{}{txObject}, &txHash); err != nil {
		return "", fmt.Errorf("unable to broadcast transfer: %w", err)
	}
	return txHash, nil
}

// TransactionReceipt returns (nil, nil) when the hash is not yet visible
// on-chain; callers treat that as "check again later", not an error.
func (c *RPCClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var raw struct {
		TransactionHash string `json:"transactionHash"`
		BlockNumber     string `json:"blockNumber"`
		Status          string `json:"status"`
	}
	err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &raw)
	if err != nil {
		return nil, fmt.Errorf("unable to get transaction receipt: %w", err)
	}
	if raw.TransactionHash == "" {
		return nil, nil
	}

	blockNumber, err := hexToBig(raw.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("invalid block number in receipt: %w", err)
	}

	return &Receipt{
		TxHash:      raw.TransactionHash,
		BlockNumber: blockNumber.Uint64(),
		Success:     raw.Status == "0x1",
	}, nil
}

func (c *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var hexHeight string
	if err := c.call(ctx, "eth_blockNumber", []interface{}{}, &hexHeight); err != nil {
		return 0, fmt.Errorf("unable to get block number: %w", err)
	}
	height, err := hexToBig(hexHeight)
	if err != nil {
		return 0, err
	}
	return height.Uint64(), nil
}

// transactionObject builds the eth_sendTransaction / eth_estimateGas payload.
// Native currency moves value directly; tokens call transfer(to, amount) on
// the contract.
func (c *RPCClient) transactionObject(params BroadcastParams) (map[string]string, error) {
	if params.Currency == c.network.NativeCurrency {
		value, err := c.toBaseUnits(params.Amount, params.Currency)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"from":  params.From,
			"to":    params.To,
			"value": value,
		}, nil
	}

	contract, ok := c.network.TokenContracts[params.Currency]
	if !ok {
		return nil, fmt.Errorf("no token contract configured for %s on %s", params.Currency, c.network.Name)
	}

	amount, err := c.toBaseUnits(params.Amount, params.Currency)
	if err != nil {
		return nil, err
	}
	amountBig, err := hexToBig(amount)
	if err != nil {
		return nil, err
	}

	// transfer(address,uint256)
	data := "0xa9059cbb" + padAddress(params.To) + padUint(amountBig)
	return map[string]string{
		"from": params.From,
		"to":   contract,
		"data": data,
	}, nil
}

func (c *RPCClient) decimalsFor(currency string) int32 {
	if d, ok := c.network.AssetDecimals[currency]; ok {
		return d
	}
	return 18
}

func (c *RPCClient) toBaseUnits(amount decimal.Decimal, currency string) (string, error) {
	shifted := amount.Shift(c.decimalsFor(currency))
	if !shifted.IsInteger() {
		return "", fmt.Errorf("amount %s exceeds %s precision", amount.String(), currency)
	}
	return "0x" + shifted.BigInt().Text(16), nil
}

func (c *RPCClient) fromBaseUnits(hexValue, currency string) (decimal.Decimal, error) {
	value, err := hexToBig(hexValue)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(value, -c.decimalsFor(currency)), nil
}

func hexToBig(hexValue string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(hexValue, "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex value %q", hexValue)
	}
	return value, nil
}

func padAddress(address string) string {
	return strings.Repeat("0", 24) + strings.ToLower(strings.TrimPrefix(address, "0x"))
}

func padUint(value *big.Int) string {
	hex := value.Text(16)
	return strings.Repeat("0", 64-len(hex)) + hex
}
