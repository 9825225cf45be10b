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

	"github.com/llm-d/llm-d-prefix-state-cache/pkg/statetrie"
)

func leaf(t *testing.T, keys string, values []int) *statetrie.Node[byte, int] {
	t.Helper()

	node, err := statetrie.NewLeaf([]byte(keys), values)
	require.NoError(t, err)
	return node
}

func TestNewLeafShapeMismatch(t *testing.T) {
	_, err := statetrie.NewLeaf([]byte("ab"), []int{1})
	assert.ErrorIs(t, err, statetrie.ErrShapeMismatch)

	_, err = statetrie.NewLeaf([]byte{}, []int{})
	assert.ErrorIs(t, err, statetrie.ErrShapeMismatch)
}

func TestMergeDivergent(t *testing.T) {
	a := leaf(t, "abc", []int{1, 2, 3})
	b := leaf(t, "abg", []int{1, 2, 9})

	merged, err := a.Merge(b)
	require.NoError(t, err)

	assert.Equal(t, []byte("ab"), merged.Prefix)
	assert.Equal(t, []int{1, 2}, merged.Content)
	require.Len(t, merged.Children, 2)

	cChild := merged.Children[byte('c')]
	require.NotNil(t, cChild)
	assert.Equal(t, []byte("c"), cChild.Prefix)
	assert.Equal(t, []int{3}, cChild.Content)
	assert.True(t, cChild.IsLeaf())

	gChild := merged.Children[byte('g')]
	require.NotNil(t, gChild)
	assert.Equal(t, []byte("g"), gChild.Prefix)
	assert.Equal(t, []int{9}, gChild.Content)
	assert.True(t, gChild.IsLeaf())
}

func TestMergeExtension(t *testing.T) {
	a := leaf(t, "abc", []int{1, 2, 3})
	b := leaf(t, "abcdef", []int{1, 2, 3, 4, 5, 6})

	merged, err := a.Merge(b)
	require.NoError(t, err)

	assert.Equal(t, []byte("abc"), merged.Prefix)
	assert.Equal(t, []int{1, 2, 3}, merged.Content)
	require.Len(t, merged.Children, 1)

	child := merged.Children[byte('d')]
	require.NotNil(t, child)
	assert.Equal(t, []byte("def"), child.Prefix)
	assert.Equal(t, []int{4, 5, 6}, child.Content)
	assert.True(t, child.IsLeaf())
}

func TestMergeExtensionReversed(t *testing.T) {
	// The longer node as receiver yields the same structure, with the
	// shorter node's content winning on the shared span.
	a := leaf(t, "abcdef", []int{1, 2, 3, 4, 5, 6})
	b := leaf(t, "abc", []int{1, 2, 3})

	merged, err := a.Merge(b)
	require.NoError(t, err)

	assert.Equal(t, []byte("abc"), merged.Prefix)
	assert.Equal(t, []int{1, 2, 3}, merged.Content)
	require.Len(t, merged.Children, 1)
	assert.Equal(t, []int{4, 5, 6}, merged.Children[byte('d')].Content)
}

func TestMergeEqualPrefixesUnionsChildren(t *testing.T) {
	a, err := leaf(t, "ab", []int{1, 2}).Merge(leaf(t, "abc", []int{1, 2, 3}))
	require.NoError(t, err)
	b, err := leaf(t, "ab", []int{1, 2}).Merge(leaf(t, "abd", []int{1, 2, 4}))
	require.NoError(t, err)

	merged, err := a.Merge(b)
	require.NoError(t, err)

	assert.Equal(t, []byte("ab"), merged.Prefix)
	require.Len(t, merged.Children, 2)
	assert.Equal(t, []int{3}, merged.Children[byte('c')].Content)
	assert.Equal(t, []int{4}, merged.Children[byte('d')].Content)
}

func TestMergeRecursesOnCollidingChildren(t *testing.T) {
	a, err := leaf(t, "ab", []int{1, 2}).Merge(leaf(t, "abcd", []int{1, 2, 3, 4}))
	require.NoError(t, err)
	b, err := leaf(t, "ab", []int{1, 2}).Merge(leaf(t, "abce", []int{1, 2, 3, 5}))
	require.NoError(t, err)

	merged, err := a.Merge(b)
	require.NoError(t, err)

	// Both inputs carry a child keyed 'c'; the collision merges
	// recursively and splits at the diverging position.
	require.Len(t, merged.Children, 1)
	cChild := merged.Children[byte('c')]
	require.NotNil(t, cChild)
	assert.Equal(t, []byte("c"), cChild.Prefix)
	require.Len(t, cChild.Children, 2)
	assert.Equal(t, []int{4}, cChild.Children[byte('d')].Content)
	assert.Equal(t, []int{5}, cChild.Children[byte('e')].Content)
}

func TestMergeIncompatible(t *testing.T) {
	a := leaf(t, "abc", []int{1, 2, 3})
	b := leaf(t, "xyz", []int{7, 8, 9})

	_, err := a.Merge(b)
	assert.ErrorIs(t, err, statetrie.ErrMergeIncompatible)
}

func TestMergeLeavesOperandsUntouched(t *testing.T) {
	a := leaf(t, "abc", []int{1, 2, 3})
	b := leaf(t, "abg", []int{1, 2, 9})

	_, err := a.Merge(b)
	require.NoError(t, err)

	assert.Equal(t, []byte("abc"), a.Prefix)
	assert.Equal(t, []int{1, 2, 3}, a.Content)
	assert.True(t, a.IsLeaf())
	assert.Equal(t, []byte("abg"), b.Prefix)
	assert.True(t, b.IsLeaf())
}

func TestMergeSharesContentInstances(t *testing.T) {
	one, two, three := 1, 2, 3
	a, err := statetrie.NewLeaf([]byte("abc"), []*int{&one, &two, &three})
	require.NoError(t, err)

	four, five, six := 4, 5, 6
	b, err := statetrie.NewLeaf([]byte("abcdef"), []*int{&one, &two, &three, &four, &five, &six})
	require.NoError(t, err)

	merged, err := a.Merge(b)
	require.NoError(t, err)

	// The shared span's payloads are the receiver's instances, not
	// copies.
	require.Len(t, merged.Content, 3)
	assert.Same(t, &one, merged.Content[0])
	assert.Same(t, &two, merged.Content[1])
	assert.Same(t, &three, merged.Content[2])
	assert.Same(t, &six, merged.Children[byte('d')].Content[2])
}
