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

package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"remit-settlement-go/internal/metrics"
	"remit-settlement-go/internal/models"
	"remit-settlement-go/internal/provider"
)

// ErrAllProvidersExhausted is returned when every provider in the sequence
// failed all its attempts.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")

// Operation is the provider call being retried (deposit or withdrawal).
type Operation func(ctx context.Context, p provider.Provider) (*models.ProviderResponse, error)

// Policy controls retries for one execution.
type Policy struct {
	MaxRetries         int
	BaseDelay          time.Duration
	ExponentialBackoff bool
	// Fallbacks are payment-method ids tried in order after the primary is
	// exhausted, typically from a SelectionResult.
	Fallbacks []string
}

// DefaultPolicy returns the standard retry policy: 2 retries per provider,
// 1s base delay, exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:         2,
		BaseDelay:          time.Second,
		ExponentialBackoff: true,
	}
}

// ProviderFailure records the last error for one exhausted provider.
type ProviderFailure struct {
	Provider string
	Err      error
}

func (f ProviderFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Provider, f.Err)
}

// Result is the outcome of ExecuteWithRetry. On success Response and
// Provider identify who settled the operation; Failures lists every provider
// exhausted before that (never the succeeding one).
type Result struct {
	Response *models.ProviderResponse
	Provider string
	Attempts int
	Fallback bool
	Failures []ProviderFailure
}

// Executor wraps provider operations with bounded retries and fallback
// traversal, recording every attempt in the metrics recorder.
type Executor struct {
	registry *provider.Registry
	recorder *metrics.Recorder
}

func NewExecutor(registry *provider.Registry, recorder *metrics.Recorder) *Executor {
	return &Executor{registry: registry, recorder: recorder}
}

// ExecuteWithRetry runs op against the primary provider and, on exhaustion,
// walks the fallback list. A response reporting success or pending status is
// terminal success. Returns an aggregate failure naming every provider tried
// and its last error when the whole sequence is exhausted.
func (e *Executor) ExecuteWithRetry(ctx context.Context, primary string, opType models.OperationType, op Operation, policy Policy, request models.TransferRequest) (*Result, error) {
	sequence := append([]string{primary}, policy.Fallbacks...)

	result := &Result{}
	for seqIdx, methodId := range sequence {
		p, err := e.registry.Get(methodId)
		if err != nil {
			result.Failures = append(result.Failures, ProviderFailure{Provider: methodId, Err: err})
			continue
		}

		isFallback := seqIdx > 0
		lastErr := e.attemptProvider(ctx, p, opType, op, policy, request, isFallback, result)
		if lastErr == nil {
			result.Provider = p.Name()
			result.Fallback = isFallback
			if isFallback {
				zap.L().Warn("Operation settled by fallback provider",
					zap.String("transaction_id", request.TransactionId),
					zap.String("provider", p.Name()),
					zap.String("primary", primary),
					zap.Int("providers_failed", len(result.Failures)))
			}
			return result, nil
		}

		result.Failures = append(result.Failures, ProviderFailure{Provider: p.Name(), Err: lastErr})
		zap.L().Warn("Provider exhausted, moving to next in sequence",
			zap.String("transaction_id", request.TransactionId),
			zap.String("provider", p.Name()),
			zap.Int("attempts_per_provider", policy.MaxRetries+1),
			zap.Error(lastErr))
	}

	summary := make([]string, len(result.Failures))
	for i, f := range result.Failures {
		summary[i] = f.String()
	}
	return result, fmt.Errorf("%w for transaction %s: [%s]",
		ErrAllProvidersExhausted, request.TransactionId, strings.Join(summary, "; "))
}

// attemptProvider runs up to MaxRetries+1 attempts against one provider,
// returning nil on terminal success and the last error on exhaustion. The
// successful response is written into result.
func (e *Executor) attemptProvider(ctx context.Context, p provider.Provider, opType models.OperationType, op Operation, policy Policy, request models.TransferRequest, isFallback bool, result *Result) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.backoff(ctx, policy, attempt); err != nil {
				return err
			}
		}

		started := time.Now()
		response, err := op(ctx, p)
		latency := time.Since(started)
		result.Attempts++

		if err == nil && response != nil && !response.Settled() {
			err = fmt.Errorf("provider %s rejected operation: status=%s code=%s message=%s",
				p.Name(), response.Status, response.ErrorCode, response.Message)
		}

		e.record(p.Name(), opType, request, err == nil, latency, err, isFallback)

		if err == nil {
			result.Response = response
			return nil
		}
		lastErr = err

		zap.L().Debug("Provider attempt failed",
			zap.String("transaction_id", request.TransactionId),
			zap.String("provider", p.Name()),
			zap.Int("attempt", attempt+1),
			zap.Duration("latency", latency),
			zap.Error(err))
	}

	return lastErr
}

// backoff sleeps baseDelay * 2^(attempt-1) (or flat baseDelay without
// exponential backoff), aborting early when the context is cancelled.
func (e *Executor) backoff(ctx context.Context, policy Policy, attempt int) error {
	delay := policy.BaseDelay
	if policy.ExponentialBackoff {
		delay = policy.BaseDelay * (1 << (attempt - 1))
	}

	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) record(providerName string, opType models.OperationType, request models.TransferRequest, success bool, latency time.Duration, err error, fallback bool) {
	if e.recorder == nil {
		return
	}
	sample := metrics.Sample{
		Provider:  providerName,
		Operation: opType,
		Currency:  request.Currency,
		Amount:    request.Amount,
		Success:   success,
		Latency:   latency,
		Fallback:  fallback,
		Timestamp: time.Now(),
	}
	if err != nil {
		sample.Error = err.Error()
	}
	e.recorder.Record(sample)
}
