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

package prefixcache

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
)

// defaultFingerprintBlockSize is the number of tokens hashed per chain
// step.
const defaultFingerprintBlockSize = 16

// FingerprintConfig holds the configuration for token-row
// fingerprinting.
type FingerprintConfig struct {
	// BlockSize is the number of tokens folded into each chain step.
	BlockSize int `json:"blockSize"`
	// HashSeed salts the chain's initial value so fingerprints from
	// differently-seeded deployments do not collide.
	HashSeed string `json:"hashSeed"`
}

// DefaultFingerprintConfig returns a default fingerprinting
// configuration.
func DefaultFingerprintConfig() *FingerprintConfig {
	return &FingerprintConfig{
		BlockSize: defaultFingerprintBlockSize,
		HashSeed:  "",
	}
}

// Fingerprinter derives a stable 64-bit key for a (model, token row)
// pair by chaining xxhash over token blocks, starting from a seed hash.
// Rows differing in any token, in length, or in model name get distinct
// fingerprints (modulo hash collisions). A single instance is safe for
// concurrent use.
type Fingerprinter struct {
	blockSize int
	seedHash  func() (uint64, error)
}

// NewFingerprinter creates a Fingerprinter from the given config.
func NewFingerprinter(config *FingerprintConfig) *Fingerprinter {
	if config == nil {
		config = DefaultFingerprintConfig()
	}

	seed := config.HashSeed
	return &Fingerprinter{
		blockSize: config.BlockSize,
		seedHash:  sync.OnceValues(func() (uint64, error) { return seedHash(seed) }),
	}
}

// Fingerprint returns the chained fingerprint of a full token row for a
// model.
func (f *Fingerprinter) Fingerprint(modelName string, tokens []uint32) (uint64, error) {
	seed, err := f.seedHash()
	if err != nil {
		return 0, err
	}

	digest := xxhash.New()

	// Fold the model name into the first chain step.
	digest.Reset()
	if err := binary.Write(digest, binary.LittleEndian, seed); err != nil {
		return 0, fmt.Errorf("failed to fingerprint row: %w", err)
	}
	if _, err := digest.WriteString(modelName); err != nil {
		return 0, fmt.Errorf("failed to fingerprint row: %w", err)
	}
	prev := digest.Sum64()

	// Chain over token blocks, the partial tail included: the
	// fingerprint identifies the exact row, not a block-aligned prefix.
	for start := 0; start < len(tokens); start += f.blockSize {
		end := min(start+f.blockSize, len(tokens))

		digest.Reset()
		if err := binary.Write(digest, binary.LittleEndian, prev); err != nil {
			return 0, fmt.Errorf("failed to fingerprint row: %w", err)
		}
		if err := binary.Write(digest, binary.LittleEndian, tokens[start:end]); err != nil {
			return 0, fmt.Errorf("failed to fingerprint row: %w", err)
		}
		prev = digest.Sum64()
	}

	return prev, nil
}

// seedHash derives the chain's initial value from the configured seed:
// lower 64 bits of SHA-256 over the canonical-CBOR encoding of the seed
// string.
func seedHash(seed string) (uint64, error) {
	encMode, err := cbor.CanonicalEncOptions().EncMode() // deterministic
	if err != nil {
		return 0, fmt.Errorf("failed to create CBOR encoder: %w", err)
	}

	b, err := encMode.Marshal(seed)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal hash seed: %w", err)
	}

	sum := sha256.Sum256(b)

	return binary.BigEndian.Uint64(sum[24:]), nil
}
