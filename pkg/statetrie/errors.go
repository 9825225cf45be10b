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

import "errors"

var (
	// ErrLookupMiss reports that a lookup walk could not consume the next
	// key: no matching child, or the queried sequence diverges from the
	// stored one. This is the expected outcome for a prefix that has not
	// been cached yet; callers resolve it by computing and inserting fresh
	// state, not by retrying.
	ErrLookupMiss = errors.New("prefix not found in trie")

	// ErrMergeIncompatible reports an attempted merge between two nodes
	// that share no leading key. Nodes only ever occupy the same child
	// slot when keyed by an identical first token, so this indicates a
	// structural precondition violation by the caller.
	ErrMergeIncompatible = errors.New("merging nodes with no common prefix")

	// ErrShapeMismatch reports key/value sequences of unequal or zero
	// length, or an irregular batched state that cannot be reassembled.
	ErrShapeMismatch = errors.New("key/value shape mismatch")
)
