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

// Package prefixcache is the owning service around the core state trie:
// one trie per model, a bounded store of resumable dense states, and
// the fingerprinting that keys it. The trie itself implements no
// eviction or capacity policy; growth control lives here.
package prefixcache

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-prefix-state-cache/pkg/kvstate"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/statetrie"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/utils"
	"github.com/llm-d/llm-d-prefix-state-cache/pkg/utils/logging"
)

// Config holds the configuration for the prefix-state cache.
type Config struct {
	StoreConfig       *StoreConfig       `json:"storeConfig"`
	FingerprintConfig *FingerprintConfig `json:"fingerprintConfig"`
}

// NewDefaultConfig returns a default configuration for the
// prefix-state cache.
func NewDefaultConfig() *Config {
	return &Config{
		StoreConfig:       DefaultStoreConfig(),
		FingerprintConfig: DefaultFingerprintConfig(),
	}
}

// Cache manages a collection of per-model prefix tries plus the bounded
// store of per-row dense states.
type Cache struct {
	mu    sync.RWMutex
	tries map[string]*statetrie.PrefixTrie[uint32, kvstate.TokenState] // Key: modelName

	store         Store
	fingerprinter *Fingerprinter
}

// NewCache creates a Cache given a Config.
func NewCache(ctx context.Context, config *Config) (*Cache, error) {
	if config == nil {
		config = NewDefaultConfig()
	}

	store, err := NewStore(ctx, config.StoreConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}

	return &Cache{
		tries:         make(map[string]*statetrie.PrefixTrie[uint32, kvstate.TokenState]),
		store:         store,
		fingerprinter: NewFingerprinter(config.FingerprintConfig),
	}, nil
}

// AddBatch splits a dense batch, inserts every row into the model's
// trie, and admits each row's single-row dense state into the bounded
// store under its fingerprint. Shape errors are detected up front, so a
// malformed batch caches nothing.
// The function assumes token rows will not be mutated after the call.
func (c *Cache) AddBatch(ctx context.Context, modelName string,
	tokenBatches [][]uint32, dense *kvstate.DenseState,
) error {
	traceLogger := klog.FromContext(ctx).V(logging.TRACE).WithName("prefixcache.AddBatch")

	cache, err := kvstate.Split(dense)
	if err != nil {
		return fmt.Errorf("failed to split dense state: %w", err)
	}
	if len(tokenBatches) != len(cache) {
		return fmt.Errorf("%w: %d token rows but %d state rows",
			kvstate.ErrShapeMismatch, len(tokenBatches), len(cache))
	}

	fingerprints, err := utils.SliceMapE(tokenBatches, func(tokens []uint32) (uint64, error) {
		return c.fingerprinter.Fingerprint(modelName, tokens)
	})
	if err != nil {
		return fmt.Errorf("failed to fingerprint batch: %w", err)
	}

	// Validate every row's shape before touching the trie or the store,
	// so a malformed row cannot leave a partially cached batch behind.
	rowStates := make([][]kvstate.TokenState, len(tokenBatches))
	for rowIdx, tokens := range tokenBatches {
		if len(tokens) == 0 {
			return fmt.Errorf("%w: row %d is empty", kvstate.ErrShapeMismatch, rowIdx)
		}

		states, err := kvstate.RowStates(cache, rowIdx, len(tokens))
		if err != nil {
			return err
		}
		rowStates[rowIdx] = states
	}

	trie := c.getOrCreateTrie(modelName)

	for rowIdx, tokens := range tokenBatches {
		if err := trie.Insert(tokens, rowStates[rowIdx]); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", rowIdx, err)
		}

		rowDense, err := kvstate.Unsplit(kvstate.SplitCache{0: cache[rowIdx]})
		if err != nil {
			return fmt.Errorf("failed to isolate row %d state: %w", rowIdx, err)
		}

		if err := c.store.Put(ctx, fingerprints[rowIdx], rowDense); err != nil {
			return fmt.Errorf("failed to admit row %d state: %w", rowIdx, err)
		}

		traceLogger.Info("cached row", "model", modelName, "row", rowIdx,
			"tokens", len(tokens), "fingerprint", fingerprints[rowIdx])
	}

	return nil
}

// Lookup returns the per-token states of the longest cached prefix of
// tokens for a model, along with the matched length. An unknown model
// or an uncached leading token yields a zero match, not an error.
func (c *Cache) Lookup(ctx context.Context, modelName string,
	tokens []uint32,
) ([]kvstate.TokenState, int) {
	trie, ok := c.getTrie(modelName)
	if !ok {
		return nil, 0
	}

	states, matched := trie.LongestPrefix(tokens)
	klog.FromContext(ctx).V(logging.TRACE).WithName("prefixcache.Lookup").
		Info("probed prefix", "model", modelName, "tokens", len(tokens), "matched", matched)

	return states, matched
}

// Resume gathers every row's longest cached prefix and reassembles them
// into one dense state for the engine to resume from, plus per-row
// matched lengths. Fails with ErrLookupMiss when the model has no trie
// or no row matched anything.
func (c *Cache) Resume(ctx context.Context, modelName string,
	rows [][]uint32,
) (*kvstate.DenseState, []int, error) {
	trie, ok := c.getTrie(modelName)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no cached state for model %s",
			statetrie.ErrLookupMiss, modelName)
	}

	cache, matched := kvstate.ResumeState(trie, rows)

	totalMatched := 0
	for _, rowMatched := range matched {
		totalMatched += rowMatched
	}
	if totalMatched == 0 {
		return nil, nil, fmt.Errorf("%w: no row shares a cached prefix for model %s",
			statetrie.ErrLookupMiss, modelName)
	}

	dense, err := kvstate.Unsplit(cache)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to reassemble resume state: %w", err)
	}

	klog.FromContext(ctx).V(logging.DEBUG).WithName("prefixcache.Resume").
		Info("assembled resume state", "model", modelName,
			"row-lengths", utils.SliceMap(rows, func(row []uint32) int { return len(row) }),
			"matched", matched)

	return dense, matched, nil
}

// Fetch retrieves a full row's dense state from the bounded store by
// the row's fingerprint.
func (c *Cache) Fetch(ctx context.Context, modelName string,
	tokens []uint32,
) (*kvstate.DenseState, bool) {
	fingerprint, err := c.fingerprinter.Fingerprint(modelName, tokens)
	if err != nil {
		klog.FromContext(ctx).Error(err, "failed to fingerprint row")
		return nil, false
	}

	return c.store.Get(ctx, fingerprint)
}

// Models returns the set of model names with a cached trie.
func (c *Cache) Models() sets.Set[string] {
	c.mu.RLock()
	defer c.mu.RUnlock()

	models := sets.New[string]()
	for modelName := range c.tries {
		models.Insert(modelName)
	}

	return models
}

// Store exposes the bounded state store used by the Cache.
func (c *Cache) Store() Store {
	return c.store
}

// getOrCreateTrie safely gets or creates the trie for a given model.
func (c *Cache) getOrCreateTrie(modelName string) *statetrie.PrefixTrie[uint32, kvstate.TokenState] {
	c.mu.Lock()
	defer c.mu.Unlock()

	trie, ok := c.tries[modelName]
	if !ok {
		trie = statetrie.New[uint32, kvstate.TokenState]()
		c.tries[modelName] = trie
	}

	return trie
}

func (c *Cache) getTrie(modelName string) (*statetrie.PrefixTrie[uint32, kvstate.TokenState], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	trie, ok := c.tries[modelName]

	return trie, ok
}
