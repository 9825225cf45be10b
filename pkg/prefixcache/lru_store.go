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

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-prefix-state-cache/pkg/kvstate"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/prefixcache/metrics"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/utils/logging"
)

// defaultLRUStoreSize bounds the number of resumable dense states kept.
// Dense states are large; capacity should be sized from accelerator
// memory and the model's context length, not key count alone.
const defaultLRUStoreSize = 256

// LRUStoreConfig holds the configuration for the LRUStore.
type LRUStoreConfig struct {
	// Size is the maximum number of dense states held before the least
	// recently used one is evicted.
	Size int `json:"size"`

	// OnEvict, if set, is called with every evicted state. The original
	// use is releasing accelerator memory tied to the state.
	OnEvict func(key uint64, state *kvstate.DenseState) `json:"-"`
}

// DefaultLRUStoreConfig returns a default configuration for the
// LRUStore.
func DefaultLRUStoreConfig() *LRUStoreConfig {
	return &LRUStoreConfig{
		Size: defaultLRUStoreSize,
	}
}

// LRUStore is a bounded dense-state store with LRU eviction.
type LRUStore struct {
	data *lru.Cache[uint64, *kvstate.DenseState]
}

var _ Store = &LRUStore{}

// NewLRUStore creates a new LRUStore instance. When countEvictions is
// set, evictions are recorded on the metrics collector in addition to
// the configured callback.
func NewLRUStore(cfg *LRUStoreConfig, countEvictions bool) (*LRUStore, error) {
	if cfg == nil {
		cfg = DefaultLRUStoreConfig()
	}

	onEvict := func(key uint64, state *kvstate.DenseState) {
		if countEvictions {
			metrics.Evictions.Inc()
		}
		if cfg.OnEvict != nil {
			cfg.OnEvict(key, state)
		}
	}

	cache, err := lru.NewWithEvict(cfg.Size, onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LRU store: %w", err)
	}

	return &LRUStore{data: cache}, nil
}

// Put admits a row's dense state under its fingerprint key. It may
// evict the least recently used state.
func (s *LRUStore) Put(ctx context.Context, key uint64, state *kvstate.DenseState) error {
	if state == nil {
		return fmt.Errorf("nil state provided for key %d", key)
	}

	evicted := s.data.Add(key, state)
	klog.FromContext(ctx).V(logging.TRACE).WithName("prefixcache.LRUStore.Put").
		Info("admitted state", "key", key, "evicted", evicted)

	return nil
}

// Get retrieves a state by fingerprint, refreshing its recency.
func (s *LRUStore) Get(_ context.Context, key uint64) (*kvstate.DenseState, bool) {
	return s.data.Get(key)
}

// Peek retrieves a state by fingerprint without updating its recency.
func (s *LRUStore) Peek(_ context.Context, key uint64) (*kvstate.DenseState, bool) {
	return s.data.Peek(key)
}

// Len returns the number of states currently held.
func (s *LRUStore) Len() int {
	return s.data.Len()
}
