/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package prefixcache

import (
	"context"
	"fmt"
	"time"

	"github.com/llm-d/llm-d-prefix-state-cache/pkg/kvstate"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/prefixcache/metrics"
)

// StoreConfig holds the configuration for the bounded state store.
// It may configure several backends such as listed within the struct.
// If multiple backends are configured, only the first one will be used.
type StoreConfig struct {
	// LRUConfig holds the configuration for the LRU store.
	LRUConfig *LRUStoreConfig `json:"lruConfig"`
	// CostAwareConfig holds the configuration for the cost-aware store.
	CostAwareConfig *CostAwareStoreConfig `json:"costAwareConfig"`

	// EnableMetrics toggles whether admissions/evictions/hits/misses are
	// recorded.
	EnableMetrics bool `json:"enableMetrics"`
	// MetricsLoggingInterval defines the interval at which metrics are
	// logged. If zero, metrics logging is disabled.
	// Requires `EnableMetrics` to be true.
	MetricsLoggingInterval time.Duration `json:"metricsLoggingInterval"`
}

// DefaultStoreConfig returns a default configuration for the bounded
// state store.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		LRUConfig:     DefaultLRUStoreConfig(),
		EnableMetrics: false,
	}
}

// Store defines the interface for a bounded per-row dense-state store.
//
// The trie itself grows without bound by design; the store is where the
// owning service keeps resumable dense states under a capacity policy.
// Store operations are thread-safe and can be performed concurrently.
type Store interface {
	// Put admits a row's dense state under its fingerprint key. It may
	// evict other states.
	Put(ctx context.Context, key uint64, state *kvstate.DenseState) error
	// Get retrieves a state by fingerprint, refreshing its recency.
	Get(ctx context.Context, key uint64) (*kvstate.DenseState, bool)
	// Peek retrieves a state by fingerprint without refreshing its
	// recency, so diagnostic reads do not disturb the eviction order.
	Peek(ctx context.Context, key uint64) (*kvstate.DenseState, bool)
	// Len returns the number of states currently held. Mostly useful for
	// debugging.
	Len() int
}

// NewStore creates a Store instance from the configured backend.
func NewStore(ctx context.Context, cfg *StoreConfig) (Store, error) {
	if cfg == nil {
		cfg = DefaultStoreConfig()
	}

	var store Store
	var err error

	switch {
	case cfg.LRUConfig != nil:
		store, err = NewLRUStore(cfg.LRUConfig, cfg.EnableMetrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create LRU store: %w", err)
		}
	case cfg.CostAwareConfig != nil:
		store, err = NewCostAwareStore(cfg.CostAwareConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create cost-aware store: %w", err)
		}
	default:
		return nil, fmt.Errorf("no valid store configuration provided")
	}

	// wrap in metrics only if enabled
	if cfg.EnableMetrics {
		store = NewInstrumentedStore(store)
		metrics.Register()
		if cfg.MetricsLoggingInterval > 0 {
			// this is non-blocking
			metrics.StartMetricsLogging(ctx, cfg.MetricsLoggingInterval)
		}
	}

	return store, nil
}
