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
package snapshot_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/snapshot"
)

func TestMerkleBackendDetectsAddModifyRemove(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "change.txt"), []byte("before"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone.txt"), []byte("bye"), 0o644))

	backend := snapshot.MerkleBackend{}
	before, err := backend.Capture(dir)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "gone.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "change.txt"), []byte("after"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new"), 0o644))

	after, err := backend.Capture(dir)
	require.NoError(t, err)

	diff := backend.Diff(before, after)
	require.Equal(t, []string{"new.txt"}, diff.Added)
	require.Equal(t, []string{"change.txt"}, diff.Modified)
	require.Equal(t, []string{"gone.txt"}, diff.Removed)
}

func TestRootHashIsOrderIndependent(t *testing.T) {
	backend := snapshot.MerkleBackend{}
	a := snapshot.Tree{"a": "1", "b": "2"}
	b := snapshot.Tree{"b": "2", "a": "1"}
	require.Equal(t, backend.RootHash(a), backend.RootHash(b))
}

func TestForPolicyNoneIsNil(t *testing.T) {
	require.Nil(t, snapshot.ForPolicy(snapshot.PolicyNone, nil))
	require.NotNil(t, snapshot.ForPolicy(snapshot.PolicyDiff, nil))
	require.NotNil(t, snapshot.ForPolicy(snapshot.PolicyMetadata, nil))
}

func TestMerkleBackendRestoreRoundTrips(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one"), 0o644))

	store, err := snapshot.NewFileStore(t.TempDir())
	require.NoError(t, err)
	backend := snapshot.MerkleBackend{Store: store}

	before, err := backend.Capture(dir)
	require.NoError(t, err)
	beforeHash := backend.RootHash(before)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("two"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("new"), 0o644))
	_, err = backend.Capture(dir)
	require.NoError(t, err)

	require.NoError(t, backend.Restore(dir, beforeHash))

	restored, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "one", string(restored))
	require.NoFileExists(t, filepath.Join(dir, "b.txt"))
}

func TestMerkleBackendRestoreWithoutStoreFails(t *testing.T) {
	backend := snapshot.MerkleBackend{}
	err := backend.Restore(t.TempDir(), "deadbeef")
	require.ErrorIs(t, err, snapshot.ErrContentUnavailable)
}
