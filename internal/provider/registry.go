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
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrProviderNotFound is returned when a payment method has no registered provider.
var ErrProviderNotFound = errors.New("provider not found")

// Registry maps payment-method identifiers to provider implementations.
// Registration happens once at startup; reads are concurrent-safe.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string // registration order, used as the stable tie-break
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register stores a provider for the given payment method. Overwriting an
// existing registration is not fatal but usually indicates a duplicate
// registration bug, so it logs a warning.
func (r *Registry) Register(methodId string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[methodId]; exists {
		zap.L().Warn("Overwriting existing provider registration",
			zap.String("method", methodId),
			zap.String("provider", p.Name()))
	} else {
		r.order = append(r.order, methodId)
	}
	r.providers[methodId] = p
}

// Get returns the provider for the payment method, or ErrProviderNotFound
// listing the currently available methods.
func (r *Registry) Get(methodId string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[methodId]
	if !ok {
		available := make([]string, len(r.order))
		copy(available, r.order)
		sort.Strings(available)
		return nil, fmt.Errorf("%w: no provider for method %q (available: %s)",
			ErrProviderNotFound, methodId, strings.Join(available, ", "))
	}
	return p, nil
}

// List returns every registered provider in registration order.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.order))
	for _, methodId := range r.order {
		providers = append(providers, r.providers[methodId])
	}
	return providers
}
