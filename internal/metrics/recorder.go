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

package metrics

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"remit-settlement-go/internal/models"
)

// Health is the advisory classification derived from recent attempt outcomes.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthDown     Health = "down"
)

const (
	// maxSamplesPerProvider bounds the rolling buffer.
	maxSamplesPerProvider = 1000
	// healthWindow is the trailing window health is computed over.
	healthWindow = time.Hour
	// minSamplesForHealth is the evidence floor below which a provider is
	// assumed healthy.
	minSamplesForHealth = 5
)

// Sample records the outcome of one provider attempt. Advisory metadata only,
// never authoritative financial data.
type Sample struct {
	Provider  string
	Operation models.OperationType
	Currency  string
	Amount    decimal.Decimal
	Success   bool
	Latency   time.Duration
	Error     string
	Fallback  bool
	Timestamp time.Time
}

// ProviderStats summarizes one provider's trailing window.
type ProviderStats struct {
	Provider    string
	Health      Health
	Samples     int
	Successes   int
	Failures    int
	SuccessRate float64
	AvgLatency  time.Duration
}

// Recorder keeps a bounded rolling buffer of attempt samples per provider and
// derives a healthy/degraded/down classification over the trailing hour.
type Recorder struct {
	mu      sync.RWMutex
	buffers map[string][]Sample

	// now is stubbed in tests to control the window.
	now func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{
		buffers: make(map[string][]Sample),
		now:     time.Now,
	}
}

// Record appends a sample to the provider's buffer, evicting the oldest
// entries beyond the cap.
func (r *Recorder) Record(sample Sample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf := append(r.buffers[sample.Provider], sample)
	if len(buf) > maxSamplesPerProvider {
		buf = buf[len(buf)-maxSamplesPerProvider:]
	}
	r.buffers[sample.Provider] = buf

	if !sample.Success {
		zap.L().Debug("Recorded failed provider attempt",
			zap.String("provider", sample.Provider),
			zap.String("operation", string(sample.Operation)),
			zap.String("error", sample.Error),
			zap.Bool("fallback", sample.Fallback))
	}
}

// Health classifies the provider over the trailing window: fewer than 5
// samples means healthy (insufficient evidence), success rate below 50% means
// down, below 85% degraded, otherwise healthy.
func (r *Recorder) Health(provider string) Health {
	stats := r.Stats(provider)
	return stats.Health
}

// Stats returns the trailing-window summary for one provider.
func (r *Recorder) Stats(provider string) ProviderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.now().Add(-healthWindow)
	stats := ProviderStats{Provider: provider, Health: HealthHealthy}

	var totalLatency time.Duration
	for _, s := range r.buffers[provider] {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		stats.Samples++
		totalLatency += s.Latency
		if s.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
	}

	if stats.Samples == 0 {
		return stats
	}

	stats.SuccessRate = float64(stats.Successes) / float64(stats.Samples)
	stats.AvgLatency = totalLatency / time.Duration(stats.Samples)

	if stats.Samples < minSamplesForHealth {
		stats.Health = HealthHealthy
	} else if stats.SuccessRate < 0.50 {
		stats.Health = HealthDown
	} else if stats.SuccessRate < 0.85 {
		stats.Health = HealthDegraded
	}

	return stats
}

// Snapshot returns stats for every provider with at least one sample.
func (r *Recorder) Snapshot() map[string]ProviderStats {
	r.mu.RLock()
	providers := make([]string, 0, len(r.buffers))
	for p := range r.buffers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	snapshot := make(map[string]ProviderStats, len(providers))
	for _, p := range providers {
		snapshot[p] = r.Stats(p)
	}
	return snapshot
}
