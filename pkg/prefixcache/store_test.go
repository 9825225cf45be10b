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

package prefixcache_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llm-d/llm-d-prefix-state-cache/pkg/kvstate"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/prefixcache"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/prefixcache/metrics"
)

// tinyDense builds a one-layer single-row dense state whose first
// element identifies it in assertions.
func tinyDense(marker float32) *kvstate.DenseState {
	return &kvstate.DenseState{
		Layers: map[int]kvstate.LayerKV{
			0: {
				Keys:   [][][][]float32{{{{marker, 1}, {marker, 2}}}},
				Values: [][][][]float32{{{{marker, 3}, {marker, 4}}}},
			},
		},
	}
}

func TestLRUStorePutGet(t *testing.T) {
	store, err := prefixcache.NewLRUStore(nil, false)
	require.NoError(t, err)

	ctx := t.Context()
	state := tinyDense(7)
	require.NoError(t, store.Put(ctx, 42, state))

	got, found := store.Get(ctx, 42)
	require.True(t, found)
	assert.Same(t, state, got)
	assert.Equal(t, 1, store.Len())

	_, found = store.Get(ctx, 43)
	assert.False(t, found)
}

func TestLRUStoreRejectsNilState(t *testing.T) {
	store, err := prefixcache.NewLRUStore(nil, false)
	require.NoError(t, err)

	assert.Error(t, store.Put(t.Context(), 1, nil))
}

func TestLRUStoreEvictionCallback(t *testing.T) {
	var evictedKeys []uint64
	store, err := prefixcache.NewLRUStore(&prefixcache.LRUStoreConfig{
		Size: 2,
		OnEvict: func(key uint64, state *kvstate.DenseState) {
			evictedKeys = append(evictedKeys, key)
			assert.NotNil(t, state)
		},
	}, false)
	require.NoError(t, err)

	ctx := t.Context()
	require.NoError(t, store.Put(ctx, 1, tinyDense(1)))
	require.NoError(t, store.Put(ctx, 2, tinyDense(2)))

	// Touch key 1 so key 2 is the LRU victim.
	_, found := store.Get(ctx, 1)
	require.True(t, found)

	require.NoError(t, store.Put(ctx, 3, tinyDense(3)))

	assert.Equal(t, []uint64{2}, evictedKeys)
	assert.Equal(t, 2, store.Len())

	_, found = store.Get(ctx, 2)
	assert.False(t, found)
	_, found = store.Get(ctx, 1)
	assert.True(t, found)
}

func TestLRUStorePeekKeepsEvictionOrder(t *testing.T) {
	var evictedKeys []uint64
	store, err := prefixcache.NewLRUStore(&prefixcache.LRUStoreConfig{
		Size: 2,
		OnEvict: func(key uint64, _ *kvstate.DenseState) {
			evictedKeys = append(evictedKeys, key)
		},
	}, false)
	require.NoError(t, err)

	ctx := t.Context()
	state := tinyDense(1)
	require.NoError(t, store.Put(ctx, 1, state))
	require.NoError(t, store.Put(ctx, 2, tinyDense(2)))

	// Peek reads key 1 without refreshing it, so it stays the LRU
	// victim where a Get would have saved it.
	got, found := store.Peek(ctx, 1)
	require.True(t, found)
	assert.Same(t, state, got)

	require.NoError(t, store.Put(ctx, 3, tinyDense(3)))
	assert.Equal(t, []uint64{1}, evictedKeys)

	_, found = store.Peek(ctx, 4)
	assert.False(t, found)
}

func TestCostAwareStorePutGet(t *testing.T) {
	store, err := prefixcache.NewCostAwareStore(nil)
	require.NoError(t, err)

	ctx := t.Context()
	state := tinyDense(9)
	require.NoError(t, store.Put(ctx, 7, state))

	got, found := store.Get(ctx, 7)
	require.True(t, found)
	assert.Same(t, state, got)
	assert.Equal(t, 1, store.Len())

	got, found = store.Peek(ctx, 7)
	require.True(t, found)
	assert.Same(t, state, got)
}

func TestCostAwareStoreBadSize(t *testing.T) {
	_, err := prefixcache.NewCostAwareStore(&prefixcache.CostAwareStoreConfig{Size: "lots"})
	assert.Error(t, err)
}

func TestNewStoreBackendSelection(t *testing.T) {
	ctx := t.Context()

	store, err := prefixcache.NewStore(ctx, nil)
	require.NoError(t, err)
	_, ok := store.(*prefixcache.LRUStore)
	assert.True(t, ok)

	store, err = prefixcache.NewStore(ctx, &prefixcache.StoreConfig{
		CostAwareConfig: prefixcache.DefaultCostAwareStoreConfig(),
	})
	require.NoError(t, err)
	_, ok = store.(*prefixcache.CostAwareStore)
	assert.True(t, ok)

	_, err = prefixcache.NewStore(ctx, &prefixcache.StoreConfig{})
	assert.Error(t, err)
}

func TestNewStoreInstrumented(t *testing.T) {
	store, err := prefixcache.NewStore(t.Context(), &prefixcache.StoreConfig{
		LRUConfig:     prefixcache.DefaultLRUStoreConfig(),
		EnableMetrics: true,
	})
	require.NoError(t, err)

	// The instrumented wrapper hides the backend type but preserves
	// behavior.
	_, isLRU := store.(*prefixcache.LRUStore)
	assert.False(t, isLRU)

	admissionsBefore := counterValue(t, metrics.Admissions)
	lookupsBefore := counterValue(t, metrics.LookupRequests)
	hitsBefore := counterValue(t, metrics.LookupHits)

	ctx := t.Context()
	require.NoError(t, store.Put(ctx, 5, tinyDense(5)))
	_, found := store.Get(ctx, 5)
	assert.True(t, found)
	_, found = store.Get(ctx, 6)
	assert.False(t, found)
	assert.Equal(t, 1, store.Len())

	assert.Equal(t, admissionsBefore+1, counterValue(t, metrics.Admissions))
	assert.Equal(t, lookupsBefore+2, counterValue(t, metrics.LookupRequests))
	assert.Equal(t, hitsBefore+1, counterValue(t, metrics.LookupHits))

	// Peek is a diagnostic read and stays off the lookup counters.
	_, found = store.Peek(ctx, 5)
	assert.True(t, found)
	assert.Equal(t, lookupsBefore+2, counterValue(t, metrics.LookupRequests))
	assert.Equal(t, hitsBefore+1, counterValue(t, metrics.LookupHits))
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, counter.Write(&m))
	return m.GetCounter().GetValue()
}
