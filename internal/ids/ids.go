// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ids generates the public identifiers and content hashes shared
// across the session runtime, the persistence layer and the mesh.
package ids

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// New returns a new UUIDv7 public identifier. UUIDv7 is time-ordered, which
// keeps primary-key-adjacent rows (messages, events) roughly insertion
// ordered even though the public id is opaque.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the OS entropy source is broken; fall back to
		// a random v4 rather than panicking the caller's goroutine.
		return uuid.NewString()
	}
	return id.String()
}

// Hash returns a 64-bit non-cryptographic content hash of b, used for the
// tool-manifest hash and delegation objective_hash.
func Hash(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// HashString is Hash over a string without an extra allocation.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// HashHex renders Hash as a lowercase hex string without zero padding (so
// its width varies with the value), suitable for storage in a
// TEXT column (the delegation repository keeps objective_hash opaque so a
// future move to a wider hash is a non-breaking migration; see DESIGN.md).
func HashHex(b []byte) string {
	return strconv.FormatUint(Hash(b), 16)
}
