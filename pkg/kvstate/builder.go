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

package kvstate

import (
	"fmt"

	"github.com/llm-d/llm-d-prefix-state-cache/pkg/statetrie"
)

// ToTrie splits a dense batched state and builds one trie from the
// token rows, so rows sharing a leading token run collapse into shared
// nodes and shared TokenState values.
func ToTrie(tokenBatches [][]uint32, dense *DenseState) (*statetrie.PrefixTrie[uint32, TokenState], error) {
	cache, err := Split(dense)
	if err != nil {
		return nil, err
	}

	return ToTrieFromSplit(tokenBatches, cache)
}

// ToTrieFromSplit builds one trie from token rows paired with an
// already-split state. Each row's token count must match its per-token
// state count; ErrShapeMismatch otherwise.
func ToTrieFromSplit(tokenBatches [][]uint32, cache SplitCache) (*statetrie.PrefixTrie[uint32, TokenState], error) {
	if len(tokenBatches) != len(cache) {
		return nil, fmt.Errorf("%w: %d token rows but %d state rows",
			ErrShapeMismatch, len(tokenBatches), len(cache))
	}

	trie := statetrie.New[uint32, TokenState]()
	for rowIdx, tokens := range tokenBatches {
		states, err := RowStates(cache, rowIdx, len(tokens))
		if err != nil {
			return nil, err
		}

		if err := trie.Insert(tokens, states); err != nil {
			return nil, fmt.Errorf("failed to insert row %d: %w", rowIdx, err)
		}
	}

	return trie, nil
}

// ResumeState gathers each row's longest cached prefix from the trie
// into a SplitCache, plus the per-row matched lengths. Rows with no
// cached prefix come back empty; feeding the result to Unsplit
// reconstitutes a dense state to resume computation past the cached
// prefix.
func ResumeState(trie *statetrie.PrefixTrie[uint32, TokenState],
	rows [][]uint32,
) (SplitCache, []int) {
	cache := make(SplitCache, len(rows))
	matched := make([]int, len(rows))

	for rowIdx, tokens := range rows {
		states, consumed := trie.LongestPrefix(tokens)
		matched[rowIdx] = consumed

		row := make(map[int]TokenState, consumed)
		for tokenIdx := 0; tokenIdx < consumed; tokenIdx++ {
			row[tokenIdx] = states[tokenIdx]
		}
		cache[rowIdx] = row
	}

	return cache, matched
}

// RowStates orders one row's per-token states into a slice aligned with
// its token sequence, validating contiguity and the token/state count.
func RowStates(cache SplitCache, rowIdx, tokenCount int) ([]TokenState, error) {
	row, ok := cache[rowIdx]
	if !ok {
		return nil, fmt.Errorf("%w: batch indices not contiguous, missing row %d",
			ErrShapeMismatch, rowIdx)
	}
	if len(row) != tokenCount {
		return nil, fmt.Errorf("%w: row %d has %d tokens but %d states",
			ErrShapeMismatch, rowIdx, tokenCount, len(row))
	}

	states := make([]TokenState, tokenCount)
	for tokenIdx := range states {
		state, ok := row[tokenIdx]
		if !ok {
			return nil, fmt.Errorf("%w: row %d token indices not contiguous, missing token %d",
				ErrShapeMismatch, rowIdx, tokenIdx)
		}
		states[tokenIdx] = state
	}

	return states, nil
}
