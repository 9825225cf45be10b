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
	"slices"

	"golang.org/x/sync/errgroup"
)

// Split decomposes a dense batched state into per-(batch, token)
// entries. For every layer, batch row and token position it extracts
// that position's [channels][dim] key/value views and files them under
// result[batchIdx][tokenIdx][layerIdx]. The views alias the dense
// tensors; no element is copied.
//
// Rows are processed concurrently; each worker validates its own row's
// geometry against every layer and fails with ErrShapeMismatch on
// disagreement.
func Split(dense *DenseState) (SplitCache, error) {
	if dense == nil || len(dense.Layers) == 0 {
		return nil, fmt.Errorf("%w: empty dense state", ErrShapeMismatch)
	}

	batch, rowLens, err := batchGeometry(dense)
	if err != nil {
		return nil, err
	}

	result := make(SplitCache, batch)
	var group errgroup.Group
	for batchIdx := 0; batchIdx < batch; batchIdx++ {
		row := make(map[int]TokenState, rowLens[batchIdx])
		result[batchIdx] = row
		group.Go(func() error {
			return splitRow(dense, batchIdx, rowLens[batchIdx], row)
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

// Unsplit reassembles a dense batched state from its per-token form.
//
// Sequence lengths are tracked per row: every row's token indices must
// be contiguous from zero, every token must carry the same layer set,
// and channel/dim geometry must agree with the sampled payload;
// ErrShapeMismatch is returned otherwise, never a silently truncated or
// misaligned tensor. Layers are reassembled concurrently.
func Unsplit(cache SplitCache) (*DenseState, error) {
	if len(cache) == 0 {
		return nil, fmt.Errorf("%w: empty split cache", ErrShapeMismatch)
	}

	rowLens, err := cacheGeometry(cache)
	if err != nil {
		return nil, err
	}

	layers, channels, dim := sampleShape(cache, rowLens)

	assembled := make([]LayerKV, len(layers))
	var group errgroup.Group
	for i, layerIdx := range layers {
		group.Go(func() error {
			layer, err := gatherLayer(cache, rowLens, layerIdx, len(layers), channels, dim)
			if err != nil {
				return err
			}
			assembled[i] = layer
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	dense := &DenseState{Layers: make(map[int]LayerKV, len(layers))}
	for i, layerIdx := range layers {
		dense.Layers[layerIdx] = assembled[i]
	}

	return dense, nil
}

// batchGeometry validates that all layers agree on the batch size and
// per-row sequence lengths, and returns both.
func batchGeometry(dense *DenseState) (int, []int, error) {
	batch := -1
	var rowLens []int

	for layerIdx, layer := range dense.Layers {
		if len(layer.Keys) != len(layer.Values) {
			return 0, nil, fmt.Errorf("%w: layer %d has %d key rows but %d value rows",
				ErrShapeMismatch, layerIdx, len(layer.Keys), len(layer.Values))
		}

		if batch == -1 {
			batch = len(layer.Keys)
			rowLens = make([]int, batch)
			for b := range layer.Keys {
				rowLens[b] = rowLen(layer.Keys[b])
			}
			continue
		}

		if len(layer.Keys) != batch {
			return 0, nil, fmt.Errorf("%w: layer %d has %d rows, expected %d",
				ErrShapeMismatch, layerIdx, len(layer.Keys), batch)
		}
		for b := range layer.Keys {
			if rowLen(layer.Keys[b]) != rowLens[b] {
				return 0, nil, fmt.Errorf("%w: layer %d row %d has length %d, expected %d",
					ErrShapeMismatch, layerIdx, b, rowLen(layer.Keys[b]), rowLens[b])
			}
		}
	}

	return batch, rowLens, nil
}

// splitRow files one batch row's positions into row, validating the
// channel geometry of every layer along the way.
func splitRow(dense *DenseState, batchIdx, seqLen int, row map[int]TokenState) error {
	for tokenIdx := 0; tokenIdx < seqLen; tokenIdx++ {
		state := make(TokenState, len(dense.Layers))
		for layerIdx, layer := range dense.Layers {
			keyRow, valueRow := layer.Keys[batchIdx], layer.Values[batchIdx]
			if len(keyRow) != len(valueRow) {
				return fmt.Errorf("%w: layer %d row %d has %d key channels but %d value channels",
					ErrShapeMismatch, layerIdx, batchIdx, len(keyRow), len(valueRow))
			}

			key := make([][]float32, len(keyRow))
			value := make([][]float32, len(valueRow))
			for ch := range keyRow {
				if tokenIdx >= len(keyRow[ch]) || tokenIdx >= len(valueRow[ch]) {
					return fmt.Errorf("%w: layer %d row %d channel %d shorter than row length %d",
						ErrShapeMismatch, layerIdx, batchIdx, ch, seqLen)
				}
				key[ch] = keyRow[ch][tokenIdx]
				value[ch] = valueRow[ch][tokenIdx]
			}
			state[layerIdx] = KV{Key: key, Value: value}
		}
		row[tokenIdx] = state
	}

	return nil
}

// cacheGeometry validates contiguous batch and token indices and
// returns per-row lengths.
func cacheGeometry(cache SplitCache) ([]int, error) {
	rowLens := make([]int, len(cache))
	for batchIdx := range rowLens {
		row, ok := cache[batchIdx]
		if !ok {
			return nil, fmt.Errorf("%w: batch indices not contiguous, missing row %d",
				ErrShapeMismatch, batchIdx)
		}

		rowLens[batchIdx] = len(row)
		for tokenIdx := 0; tokenIdx < len(row); tokenIdx++ {
			if _, ok := row[tokenIdx]; !ok {
				return nil, fmt.Errorf("%w: row %d token indices not contiguous, missing token %d",
					ErrShapeMismatch, batchIdx, tokenIdx)
			}
		}
	}

	return rowLens, nil
}

// sampleShape derives the layer set and channel/dim geometry from an
// arbitrary payload of the first non-empty row. Empty rows contribute
// empty tensors and need no sample.
func sampleShape(cache SplitCache, rowLens []int) ([]int, int, int) {
	for batchIdx, seqLen := range rowLens {
		if seqLen == 0 {
			continue
		}

		sample := cache[batchIdx][0]
		layers := make([]int, 0, len(sample))
		for layerIdx := range sample {
			layers = append(layers, layerIdx)
		}
		slices.Sort(layers)

		channels, dim := 0, 0
		if len(layers) > 0 {
			key := sample[layers[0]].Key
			channels = len(key)
			if channels > 0 {
				dim = len(key[0])
			}
		}

		return layers, channels, dim
	}

	return nil, 0, 0
}

// gatherLayer scatters every token's payload for one layer into its
// batch/position slot.
func gatherLayer(cache SplitCache, rowLens []int, layerIdx, layerCount, channels, dim int) (LayerKV, error) {
	keys := make([][][][]float32, len(rowLens))
	values := make([][][][]float32, len(rowLens))

	for batchIdx, seqLen := range rowLens {
		keys[batchIdx] = allocRow(channels, seqLen)
		values[batchIdx] = allocRow(channels, seqLen)

		for tokenIdx := 0; tokenIdx < seqLen; tokenIdx++ {
			state := cache[batchIdx][tokenIdx]
			if len(state) != layerCount {
				return LayerKV{}, fmt.Errorf("%w: row %d token %d has %d layers, expected %d",
					ErrShapeMismatch, batchIdx, tokenIdx, len(state), layerCount)
			}

			kv, ok := state[layerIdx]
			if !ok {
				return LayerKV{}, fmt.Errorf("%w: row %d token %d missing layer %d",
					ErrShapeMismatch, batchIdx, tokenIdx, layerIdx)
			}
			if len(kv.Key) != channels || len(kv.Value) != channels {
				return LayerKV{}, fmt.Errorf("%w: row %d token %d layer %d has %d/%d channels, expected %d",
					ErrShapeMismatch, batchIdx, tokenIdx, layerIdx, len(kv.Key), len(kv.Value), channels)
			}

			for ch := 0; ch < channels; ch++ {
				if len(kv.Key[ch]) != dim || len(kv.Value[ch]) != dim {
					return LayerKV{}, fmt.Errorf("%w: row %d token %d layer %d channel %d has dim %d/%d, expected %d",
						ErrShapeMismatch, batchIdx, tokenIdx, layerIdx, ch, len(kv.Key[ch]), len(kv.Value[ch]), dim)
				}
				keys[batchIdx][ch][tokenIdx] = kv.Key[ch]
				values[batchIdx][ch][tokenIdx] = kv.Value[ch]
			}
		}
	}

	return LayerKV{Keys: keys, Values: values}, nil
}

func allocRow(channels, seqLen int) [][][]float32 {
	row := make([][][]float32, channels)
	for ch := range row {
		row[ch] = make([][]float32, seqLen)
	}

	return row
}

// rowLen reads a row's sequence length from its first channel; a row
// with no channels has length 0.
func rowLen(row [][][]float32) int {
	if len(row) == 0 {
		return 0
	}

	return len(row[0])
}
