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

// Package kvstate converts between the dense batched representation of
// per-token computation state produced by a model-execution engine and
// the per-token form stored in a statetrie.PrefixTrie.
//
// The dense form is layer-major: for every layer a key tensor and a
// value tensor shaped [batch][channels][seqLen][dim]. The split form is
// token-major: batch index, then token index, then layer. Splitting
// produces views that share backing arrays with the dense form; nothing
// is copied until an engine mutates state, which this package never
// does.
package kvstate

import "github.com/llm-d/llm-d-prefix-state-cache/pkg/statetrie"

// ErrShapeMismatch reports an irregular batch: mismatched row lengths
// across layers, non-contiguous batch or token indices, or per-token
// states that disagree on their layer set or channel/dim geometry.
// It aliases the trie's sentinel so callers handle one taxonomy.
var ErrShapeMismatch = statetrie.ErrShapeMismatch

// KV holds one position's key and value state for a single layer,
// shaped [channels][dim].
type KV struct {
	Key   [][]float32
	Value [][]float32
}

// TokenState is the opaque per-position payload stored in the trie: a
// mapping from layer index to that layer's state for one position.
// The trie never interprets its structure.
type TokenState map[int]KV

// SplitCache is the per-token unbatched form of a dense state:
// batch index -> token index -> TokenState.
type SplitCache map[int]map[int]TokenState

// LayerKV is one layer's batched key/value state, each tensor shaped
// [batch][channels][seqLen][dim]. Rows may carry different sequence
// lengths; all layers of one DenseState must agree per row.
type LayerKV struct {
	Keys   [][][][]float32
	Values [][][][]float32
}

// DenseState is the batched form of the cached computation state, owned
// by the model-execution collaborator.
type DenseState struct {
	Layers map[int]LayerKV
}

// Batch returns the number of rows in the dense state, 0 for an empty
// one.
func (d *DenseState) Batch() int {
	for _, layer := range d.Layers {
		return len(layer.Keys)
	}

	return 0
}

// RowLen returns the sequence length of one row, taken from an
// arbitrary layer.
func (d *DenseState) RowLen(batchIdx int) int {
	for _, layer := range d.Layers {
		if batchIdx < len(layer.Keys) && len(layer.Keys[batchIdx]) > 0 {
			return len(layer.Keys[batchIdx][0])
		}
		return 0
	}

	return 0
}
