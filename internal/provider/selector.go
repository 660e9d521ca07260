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

package provider

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"remit-settlement-go/internal/metrics"
	"remit-settlement-go/internal/models"
)

// ErrNoEligibleProvider is returned when no registered provider survives
// capability filtering.
var ErrNoEligibleProvider = errors.New("no eligible provider")

// Selection reasons surfaced in SelectionResult.Reason.
const (
	ReasonPreferred = "preferred provider eligible"
	ReasonPriority  = "highest priority among eligible"
)

// Criteria describes what the caller needs from a provider.
type Criteria struct {
	Currency  string
	Type      models.OperationType
	Amount    decimal.Decimal
	Preferred string // optional payment-method hint
	Country   string // optional ISO country code
}

// SelectionResult is the outcome of one selection decision. Produced fresh
// per request, never persisted.
type SelectionResult struct {
	Provider     Provider
	Reason       string
	WasPreferred bool
	// Fallbacks are the remaining eligible providers in priority order,
	// excluding the chosen one.
	Fallbacks []Provider
	// Health is the advisory classification of the chosen provider at
	// selection time. It does not block selection.
	Health metrics.Health
}

// Selector filters registered providers by capability and ranks them by
// priority. Health from the recorder is surfaced but advisory.
type Selector struct {
	registry *Registry
	recorder *metrics.Recorder
}

func NewSelector(registry *Registry, recorder *metrics.Recorder) *Selector {
	return &Selector{registry: registry, recorder: recorder}
}

type candidate struct {
	provider Provider
	caps     models.ProviderCapabilities
	// regIndex preserves registration order for the stable tie-break.
	regIndex int
}

// Select picks the primary provider for the criteria plus an ordered fallback
// list, or fails with ErrNoEligibleProvider carrying the attempted
// currency/amount/type for diagnostics.
func (s *Selector) Select(criteria Criteria) (*SelectionResult, error) {
	eligible := s.eligibleCandidates(criteria)
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%w: currency=%s amount=%s type=%s",
			ErrNoEligibleProvider, criteria.Currency, criteria.Amount.String(), criteria.Type)
	}

	// Priority descending; registration order breaks ties.
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].caps.Priority != eligible[j].caps.Priority {
			return eligible[i].caps.Priority > eligible[j].caps.Priority
		}
		return eligible[i].regIndex < eligible[j].regIndex
	})

	chosenIdx := 0
	reason := ReasonPriority
	wasPreferred := false

	if criteria.Preferred != "" {
		for i, c := range eligible {
			if c.provider.Name() == criteria.Preferred {
				chosenIdx = i
				reason = ReasonPreferred
				wasPreferred = true
				break
			}
		}
	}

	chosen := eligible[chosenIdx]
	fallbacks := make([]Provider, 0, len(eligible)-1)
	for i, c := range eligible {
		if i == chosenIdx {
			continue
		}
		fallbacks = append(fallbacks, c.provider)
	}

	var health metrics.Health = metrics.HealthHealthy
	if s.recorder != nil {
		health = s.recorder.Health(chosen.provider.Name())
	}

	zap.L().Info("Provider selected",
		zap.String("provider", chosen.provider.Name()),
		zap.String("reason", reason),
		zap.String("currency", criteria.Currency),
		zap.String("operation", string(criteria.Type)),
		zap.String("amount", criteria.Amount.String()),
		zap.Int("fallbacks", len(fallbacks)),
		zap.String("health", string(health)))

	return &SelectionResult{
		Provider:     chosen.provider,
		Reason:       reason,
		WasPreferred: wasPreferred,
		Fallbacks:    fallbacks,
		Health:       health,
	}, nil
}

func (s *Selector) eligibleCandidates(criteria Criteria) []candidate {
	var eligible []candidate
	for i, p := range s.registry.List() {
		caps := p.Capabilities()
		if !caps.Active {
			continue
		}
		if !caps.SupportsCurrency(criteria.Currency) {
			continue
		}
		if !caps.SupportsOperation(criteria.Type) {
			continue
		}
		if !caps.WithinLimits(criteria.Currency, criteria.Amount) {
			continue
		}
		if !caps.AllowsCountry(criteria.Country) {
			continue
		}
		eligible = append(eligible, candidate{provider: p, caps: caps, regIndex: i})
	}
	return eligible
}
