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
	"iter"
	"slices"
)

// Traversals below share a few properties: every call returns a fresh,
// restartable sequence over the snapshot current at call time, child
// order is deterministic (ascending key), and the walk uses an explicit
// stack so very long token sequences cannot exhaust the goroutine stack.

// frame is one pending node of an explicit-stack walk. depth is the
// accumulated path length before this node's prefix, used to truncate
// the shared path buffers when backtracking.
type frame[K cmp.Ordered, V any] struct {
	node  *Node[K, V]
	depth int
}

// Items yields, for every leaf, the full root-to-leaf key path paired
// with the aligned content path. Yielded slices are fresh copies; the
// payload values themselves are shared with the trie.
func (t *PrefixTrie[K, V]) Items() iter.Seq2[[]K, []V] {
	roots := t.snapshot()

	return func(yield func([]K, []V) bool) {
		var keys []K
		var values []V

		for _, stack := range rootStacks(roots) {
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				keys = append(keys[:top.depth], top.node.Prefix...)
				values = append(values[:top.depth], top.node.Content...)

				if top.node.IsLeaf() {
					if !yield(slices.Clone(keys), slices.Clone(values)) {
						return
					}
					continue
				}

				stack = pushChildren(stack, top.node, len(keys))
			}
		}
	}
}

// Keys yields the full key path of every leaf.
func (t *PrefixTrie[K, V]) Keys() iter.Seq[[]K] {
	items := t.Items()

	return func(yield func([]K) bool) {
		for keys := range items {
			if !yield(keys) {
				return
			}
		}
	}
}

// Values yields the full content path of every leaf.
func (t *PrefixTrie[K, V]) Values() iter.Seq[[]V] {
	items := t.Items()

	return func(yield func([]V) bool) {
		for _, values := range items {
			if !yield(values) {
				return
			}
		}
	}
}

// Nodes yields every node in pre-order: a node before its children,
// children in ascending key order.
func (t *PrefixTrie[K, V]) Nodes() iter.Seq[*Node[K, V]] {
	roots := t.snapshot()

	return func(yield func(*Node[K, V]) bool) {
		for _, stack := range rootStacks(roots) {
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				if !yield(top.node) {
					return
				}

				stack = pushChildren(stack, top.node, 0)
			}
		}
	}
}

// BranchingPrefixes yields, for every node with at least one child, the
// accumulated key path up to and including that node paired with the
// sorted list of its child keys. These are exactly the points where
// stored sequences diverge.
func (t *PrefixTrie[K, V]) BranchingPrefixes() iter.Seq2[[]K, []K] {
	roots := t.snapshot()

	return func(yield func([]K, []K) bool) {
		var keys []K

		for _, stack := range rootStacks(roots) {
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				keys = append(keys[:top.depth], top.node.Prefix...)

				if top.node.IsLeaf() {
					continue
				}

				if !yield(slices.Clone(keys), top.node.sortedChildKeys()) {
					return
				}

				stack = pushChildren(stack, top.node, len(keys))
			}
		}
	}
}

// rootStacks returns one single-frame stack per root, in ascending slot
// order. Walking roots one at a time keeps the shared path buffers
// per-family.
func rootStacks[K cmp.Ordered, V any](roots map[K]*Node[K, V]) [][]frame[K, V] {
	slots := make([]K, 0, len(roots))
	for slot := range roots {
		slots = append(slots, slot)
	}
	slices.Sort(slots)

	stacks := make([][]frame[K, V], len(slots))
	for i, slot := range slots {
		stacks[i] = []frame[K, V]{{node: roots[slot]}}
	}

	return stacks
}

// pushChildren pushes a node's children in descending key order so they
// pop in ascending order.
func pushChildren[K cmp.Ordered, V any](stack []frame[K, V], node *Node[K, V], depth int) []frame[K, V] {
	childKeys := node.sortedChildKeys()
	for i := len(childKeys) - 1; i >= 0; i-- {
		stack = append(stack, frame[K, V]{node: node.Children[childKeys[i]], depth: depth})
	}

	return stack
}
