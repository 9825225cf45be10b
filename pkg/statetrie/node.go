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
	"slices"
)

// Node is a single node of the compressed trie.
//
// Prefix holds the run of edge tokens consumed by this node and Content
// the aligned per-token payloads; len(Prefix) == len(Content) >= 1 for
// any node reachable from a trie. Children maps the token immediately
// following Prefix to the corresponding subtree. A node with an empty
// children map is a leaf.
type Node[K cmp.Ordered, V any] struct {
	Prefix   []K
	Content  []V
	Children map[K]*Node[K, V]
}

// NewLeaf wraps a key/value run as a singleton leaf node.
// The function assumes the slices will not be mutated after the call.
func NewLeaf[K cmp.Ordered, V any](prefix []K, content []V) (*Node[K, V], error) {
	if len(prefix) == 0 || len(prefix) != len(content) {
		return nil, fmt.Errorf("%w: %d keys, %d values", ErrShapeMismatch, len(prefix), len(content))
	}

	return &Node[K, V]{Prefix: prefix, Content: content}, nil
}

// IsLeaf reports whether the node has no children.
func (n *Node[K, V]) IsLeaf() bool {
	return len(n.Children) == 0
}

// Merge combines two nodes occupying the same child slot and returns the
// merged node. Both operands are left untouched: nodes along the touched
// path are re-created, non-colliding children and content sub-ranges are
// shared by reference with the operands.
//
// The merge splits both prefixes at their longest common prefix. Two
// nodes in the same slot always share at least their first token;
// ErrMergeIncompatible is returned otherwise.
func (n *Node[K, V]) Merge(other *Node[K, V]) (*Node[K, V], error) {
	common := longestCommonPrefix(n.Prefix, other.Prefix)
	if common == 0 {
		return nil, fmt.Errorf("%w: %v vs %v", ErrMergeIncompatible,
			headOf(n.Prefix), headOf(other.Prefix))
	}

	switch {
	case common == len(n.Prefix) && common == len(other.Prefix):
		// Equal prefixes: keep the receiver's content, union the children.
		children := make(map[K]*Node[K, V], len(n.Children)+len(other.Children))
		for key, child := range n.Children {
			children[key] = child
		}
		for key, child := range other.Children {
			existing, collides := children[key]
			if !collides {
				children[key] = child
				continue
			}

			merged, err := existing.Merge(child)
			if err != nil {
				return nil, err
			}
			children[key] = merged
		}

		return &Node[K, V]{Prefix: n.Prefix, Content: n.Content, Children: children}, nil

	case common == len(n.Prefix):
		// The receiver is subsumed in other: split other at the common
		// boundary and fall back to the equal-prefix case.
		return n.Merge(other.splitAt(common))

	case common == len(other.Prefix):
		return other.Merge(n.splitAt(common))

	default:
		// Divergent: a fresh node carries the shared span with one child
		// per diverging remainder.
		return &Node[K, V]{
			Prefix:  n.Prefix[:common],
			Content: n.Content[:common],
			Children: map[K]*Node[K, V]{
				n.Prefix[common]:     n.suffixFrom(common),
				other.Prefix[common]: other.suffixFrom(common),
			},
		}, nil
	}
}

// splitAt returns an intermediate node carrying the first idx positions
// of n, with a single child holding the remainder.
// Requires 1 <= idx < len(n.Prefix).
func (n *Node[K, V]) splitAt(idx int) *Node[K, V] {
	return &Node[K, V]{
		Prefix:  n.Prefix[:idx],
		Content: n.Content[:idx],
		Children: map[K]*Node[K, V]{
			n.Prefix[idx]: n.suffixFrom(idx),
		},
	}
}

// suffixFrom returns a node holding n's positions from idx on, keeping
// n's children.
func (n *Node[K, V]) suffixFrom(idx int) *Node[K, V] {
	return &Node[K, V]{Prefix: n.Prefix[idx:], Content: n.Content[idx:], Children: n.Children}
}

// sortedChildKeys returns the node's child keys in ascending order, so
// traversals are deterministic.
func (n *Node[K, V]) sortedChildKeys() []K {
	keys := make([]K, 0, len(n.Children))
	for key := range n.Children {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	return keys
}

// longestCommonPrefix returns the number of leading positions two token
// runs share before differing.
func longestCommonPrefix[K cmp.Ordered](a, b []K) int {
	limit := min(len(a), len(b))
	for i := 0; i < limit; i++ {
		if a[i] != b[i] {
			return i
		}
	}

	return limit
}

// headOf formats the first key of a prefix for error messages.
func headOf[K cmp.Ordered](prefix []K) any {
	if len(prefix) == 0 {
		return "<empty>"
	}

	return prefix[0]
}
