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

package statetrie_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemsYieldsLeafPaths(t *testing.T) {
	trie := newTrie(t, "abcde", "abgh", "xyz")

	var keys []string
	for path, values := range trie.Items() {
		keys = append(keys, string(path))
		require.Len(t, values, len(path))
	}

	// Leaves only, in deterministic ascending order across families and
	// children.
	assert.Equal(t, []string{"abcde", "abgh", "xyz"}, keys)
}

func TestItemsPrefixRowIsNotALeaf(t *testing.T) {
	// "ab" is fully covered by longer rows, so no leaf ends there.
	trie := newTrie(t, "ab", "abc", "abd")

	var keys []string
	for path := range trie.Keys() {
		keys = append(keys, string(path))
	}

	assert.Equal(t, []string{"abc", "abd"}, keys)
}

func TestIteratorsAreRestartable(t *testing.T) {
	trie := newTrie(t, "abcde", "abgh", "xyz")

	items := trie.Items()

	first := make(map[string][]int)
	for path, values := range items {
		first[string(path)] = values
	}

	second := make(map[string][]int)
	for path, values := range items {
		second[string(path)] = values
	}

	assert.Equal(t, first, second)
	assert.Len(t, first, 3)
}

func TestIteratorEarlyStop(t *testing.T) {
	trie := newTrie(t, "abcde", "abgh", "xyz")

	var seen []string
	for path := range trie.Keys() {
		seen = append(seen, string(path))
		break
	}

	assert.Equal(t, []string{"abcde"}, seen)
}

func TestNodesPreOrder(t *testing.T) {
	trie := newTrie(t, "abc", "abg")

	var prefixes []string
	for node := range trie.Nodes() {
		prefixes = append(prefixes, string(node.Prefix))
	}

	assert.Equal(t, []string{"ab", "c", "g"}, prefixes)
}

func TestBranchingPrefixes(t *testing.T) {
	trie := newTrie(t, "abcde", "abgh", "abcq")

	branches := make(map[string]string)
	for prefix, childKeys := range trie.BranchingPrefixes() {
		branches[string(prefix)] = string(childKeys)
	}

	// Rows diverge after "ab" (into c/g) and after "abc" (into d/q).
	assert.Equal(t, map[string]string{
		"ab":  "cg",
		"abc": "dq",
	}, branches)
}

func TestIteratorSnapshotIsolation(t *testing.T) {
	trie := newTrie(t, "abc")

	items := trie.Items()
	require.NoError(t, trie.Insert([]byte("xyz"), []int{'x', 'y', 'z'}))

	// The sequence walks the snapshot taken when it was created.
	var keys []string
	for path := range trie.Keys() {
		keys = append(keys, string(path))
	}
	assert.Equal(t, []string{"abc", "xyz"}, keys)

	keys = nil
	for path := range items {
		keys = append(keys, string(path))
	}
	assert.Equal(t, []string{"abc"}, keys)
}
