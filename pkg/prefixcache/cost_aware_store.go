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

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-prefix-state-cache/pkg/kvstate"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/utils/logging"
)

const (
	defaultCostAwareNumCounters = 1e6 // keys tracked for admission decisions
	defaultCostAwareBufferItems = 64  // default buffer size for ristretto
	// float32 payload plus slice headers, per element
	bytesPerElement = 4
	sliceOverhead   = 24
)

// CostAwareStoreConfig holds the configuration for the CostAwareStore.
type CostAwareStoreConfig struct {
	// Size is the maximum memory the held states may occupy.
	// Supports human-readable formats like "2GiB", "500MiB", "1GB", etc.
	Size string `json:"size,omitempty"`
}

// DefaultCostAwareStoreConfig returns a default configuration for the
// CostAwareStore.
func DefaultCostAwareStoreConfig() *CostAwareStoreConfig {
	return &CostAwareStoreConfig{
		Size: "2GiB",
	}
}

// CostAwareStore is a bounded dense-state store that evicts on
// estimated byte cost rather than entry count, so a few very long rows
// cannot crowd out capacity accounting.
type CostAwareStore struct {
	data *ristretto.Cache[uint64, *kvstate.DenseState]
}

var _ Store = &CostAwareStore{}

// NewCostAwareStore creates a new CostAwareStore instance.
func NewCostAwareStore(cfg *CostAwareStoreConfig) (*CostAwareStore, error) {
	if cfg == nil {
		cfg = DefaultCostAwareStoreConfig()
	}

	sizeBytes, err := humanize.ParseBytes(cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cost-aware store: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config[uint64, *kvstate.DenseState]{
		NumCounters: defaultCostAwareNumCounters,
		MaxCost:     int64(sizeBytes), // #nosec G115
		BufferItems: defaultCostAwareBufferItems,
		Metrics:     true, // needed for Len accounting
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cost-aware store: %w", err)
	}

	return &CostAwareStore{data: cache}, nil
}

// Put admits a row's dense state at its estimated byte cost.
func (s *CostAwareStore) Put(ctx context.Context, key uint64, state *kvstate.DenseState) error {
	if state == nil {
		return fmt.Errorf("nil state provided for key %d", key)
	}

	cost := denseByteSize(state)
	s.data.Set(key, state, cost)
	s.data.Wait()

	klog.FromContext(ctx).V(logging.TRACE).WithName("prefixcache.CostAwareStore.Put").
		Info("admitted state", "key", key, "cost-bytes", cost)

	return nil
}

// Get retrieves a state by fingerprint.
func (s *CostAwareStore) Get(_ context.Context, key uint64) (*kvstate.DenseState, bool) {
	return s.data.Get(key)
}

// Peek retrieves a state by fingerprint. Ristretto has no recency list
// to preserve; reads only feed its frequency sketch, so Peek and Get
// coincide here.
func (s *CostAwareStore) Peek(ctx context.Context, key uint64) (*kvstate.DenseState, bool) {
	return s.Get(ctx, key)
}

// Len returns the number of states currently admitted.
func (s *CostAwareStore) Len() int {
	return int(s.data.Metrics.KeysAdded() - s.data.Metrics.KeysEvicted())
}

// denseByteSize estimates memory usage of a dense state for ristretto
// cost calculation. This is an approximation used for eviction
// decisions, not an exact accounting.
func denseByteSize(state *kvstate.DenseState) int64 {
	var total int64

	for _, layer := range state.Layers {
		total += tensorByteSize(layer.Keys)
		total += tensorByteSize(layer.Values)
	}

	return total
}

func tensorByteSize(tensor [][][][]float32) int64 {
	var total int64

	for _, row := range tensor {
		total += sliceOverhead
		for _, channel := range row {
			total += sliceOverhead
			for _, position := range channel {
				total += sliceOverhead + int64(len(position))*bytesPerElement
			}
		}
	}

	return total
}
