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

package statetrie

import (
	"cmp"
	"fmt"
	"sync"
)

// PrefixTrie is a forest of compressed-trie roots keyed by first token.
//
// Keeping one root per leading token lets sequences that share no common
// first token coexist in a single trie, which a single-root radix tree
// cannot represent.
//
// Mutations (Insert, merging) copy the root map and re-create only the
// nodes along the touched path before publishing the new map under the
// write lock. Readers capture the current map under the read lock and
// then traverse without locking; published nodes are immutable.
type PrefixTrie[K cmp.Ordered, V any] struct {
	mu    sync.RWMutex
	roots map[K]*Node[K, V]
}

// Pair is one (key sequence, value sequence) row for FromPairs.
type Pair[K cmp.Ordered, V any] struct {
	Keys   []K
	Values []V
}

// New creates an empty PrefixTrie.
func New[K cmp.Ordered, V any]() *PrefixTrie[K, V] {
	return &PrefixTrie[K, V]{
		roots: make(map[K]*Node[K, V]),
	}
}

// FromPairs builds a trie by inserting each pair in order. The resulting
// structure is independent of the insertion order.
func FromPairs[K cmp.Ordered, V any](pairs []Pair[K, V]) (*PrefixTrie[K, V], error) {
	trie := New[K, V]()
	for _, pair := range pairs {
		if err := trie.Insert(pair.Keys, pair.Values); err != nil {
			return nil, err
		}
	}

	return trie, nil
}

// Insert adds a key sequence and its aligned per-position values.
// Both slices must have the same non-zero length; ErrShapeMismatch is
// returned otherwise.
// The function assumes the slices will not be mutated after the call.
func (t *PrefixTrie[K, V]) Insert(query []K, values []V) error {
	leaf, err := NewLeaf(query, values)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	roots := copyRoots(t.roots)
	slot := query[0]
	if existing, ok := roots[slot]; ok {
		merged, err := existing.Merge(leaf)
		if err != nil {
			return err
		}
		roots[slot] = merged
	} else {
		roots[slot] = leaf
	}

	t.roots = roots

	return nil
}

// Merge combines two tries into a new one. Neither operand is modified;
// untouched subtrees are shared with the result.
func (t *PrefixTrie[K, V]) Merge(other *PrefixTrie[K, V]) (*PrefixTrie[K, V], error) {
	roots := copyRoots(t.snapshot())
	for slot, node := range other.snapshot() {
		existing, collides := roots[slot]
		if !collides {
			roots[slot] = node
			continue
		}

		merged, err := existing.Merge(node)
		if err != nil {
			return nil, err
		}
		roots[slot] = merged
	}

	return &PrefixTrie[K, V]{roots: roots}, nil
}

// Contains reports whether the full query can be consumed by a walk from
// a root. An empty query is trivially contained.
func (t *PrefixTrie[K, V]) Contains(query []K) bool {
	_, consumed := t.LongestPrefix(query)
	return consumed == len(query)
}

// Get returns the per-position values for exactly the queried length.
// The query does not have to reach a leaf: a query that is a prefix of a
// longer stored sequence succeeds. ErrLookupMiss is returned when the
// walk cannot consume the next key.
func (t *PrefixTrie[K, V]) Get(query []K) ([]V, error) {
	values, consumed := t.LongestPrefix(query)
	if consumed != len(query) {
		return nil, fmt.Errorf("%w: consumed %d of %d keys", ErrLookupMiss, consumed, len(query))
	}

	return values, nil
}

// LongestPrefix walks the trie as far as the query matches and returns
// the values collected along the way together with the number of keys
// consumed. A miss partway through is not an error here; this is the
// probe the serving path uses to find the resume point.
func (t *PrefixTrie[K, V]) LongestPrefix(query []K) ([]V, int) {
	if len(query) == 0 {
		return nil, 0
	}

	node, ok := t.snapshot()[query[0]]
	if !ok {
		return nil, 0
	}

	values := make([]V, 0, len(query))
	pIdx := 0
	for _, key := range query {
		if pIdx == len(node.Prefix) {
			child, ok := node.Children[key]
			if !ok {
				return values, len(values)
			}
			node = child
			pIdx = 0
		}

		if node.Prefix[pIdx] != key {
			return values, len(values)
		}
		values = append(values, node.Content[pIdx])
		pIdx++
	}

	return values, len(values)
}

// Empty reports whether the trie holds no sequences.
func (t *PrefixTrie[K, V]) Empty() bool {
	return len(t.snapshot()) == 0
}

// Families returns the number of root families, i.e. distinct leading
// tokens across all inserted sequences.
func (t *PrefixTrie[K, V]) Families() int {
	return len(t.snapshot())
}

// snapshot returns the currently published root map. The map and every
// node reachable from it are immutable once published.
func (t *PrefixTrie[K, V]) snapshot() map[K]*Node[K, V] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.roots
}

func copyRoots[K cmp.Ordered, V any](roots map[K]*Node[K, V]) map[K]*Node[K, V] {
	copied := make(map[K]*Node[K, V], len(roots)+1)
	for slot, node := range roots {
		copied[slot] = node
	}

	return copied
}
