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

// Package statetrie implements a compressed (radix) trie keyed by token
// sequences, storing one opaque payload per token position.
//
// A plain trie spends one node per token, which degenerates into long
// single-child chains for realistic prompts. Here every node carries a
// prefix of consecutive tokens together with a content array of the same
// length, so runs of single-child nodes collapse into one edge. A child
// is keyed by the single token that immediately follows its parent's
// prefix, and merging two nodes splits their prefixes at the longest
// common prefix.
//
// Merges are copy-on-write: nodes reachable from a published trie are
// never mutated, only re-created along the touched path, so readers that
// captured a snapshot keep traversing a complete, consistent tree while
// writers publish new roots.
package statetrie
