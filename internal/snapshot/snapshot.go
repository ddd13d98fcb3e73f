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

// Package snapshot implements the pre/post tool-call filesystem snapshot
// policies: Merkle (content-hash tree diff), Metadata (path stat diff) and
// None.
//
// A third, git-backed backend is deliberately not implemented here: its
// restore semantics under a partial index write are underspecified, and
// guessing at them risked silently corrupting a workspace on restore.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/weftagent/weft/internal/ids"
	"github.com/weftagent/weft/internal/model"
)

// Policy selects which backend prepare/post-process a tool call with.
type Policy string

const (
	PolicyDiff     Policy = "diff" // Merkle scan
	PolicyMetadata Policy = "metadata"
	PolicyNone     Policy = "none"
)

// Tree is a pre- or post-call scan of cwd: path -> content hash (Merkle) or
// path -> stat fingerprint (Metadata).
type Tree map[string]string

// Backend captures a Tree before a tool runs and diffs it against a fresh
// scan afterwards.
type Backend interface {
	Capture(cwd string) (Tree, error)
	Diff(before, after Tree) model.ChangedPaths
	// RootHash summarizes a Tree into the single hash recorded on
	// model.SnapshotPart.
	RootHash(t Tree) string
	// Restore rewrites cwd's file content to match the tree previously
	// captured under rootHash. Returns ErrContentUnavailable if the backend
	// never retained file bytes for that hash (MetadataBackend, or a
	// MerkleBackend with no Store).
	Restore(cwd, rootHash string) error
}

// ErrContentUnavailable is returned by Restore when the backend has no
// recorded bytes for the requested root hash.
var ErrContentUnavailable = errors.New("snapshot: content unavailable for restore")

// ContentStore persists file blobs and whole-tree manifests keyed by hash, so
// a bare root-hash string is enough to drive a later restore.
type ContentStore interface {
	Put(hash string, content []byte) error
	Get(hash string) ([]byte, error)
	Has(hash string) bool
}

// FileStore is a ContentStore backed by a flat directory of hash-named blobs.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir (and parents) if needed and returns a FileStore
// rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create content store dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(hash string) string {
	return filepath.Join(s.Dir, hash)
}

func (s *FileStore) Put(hash string, content []byte) error {
	if s.Has(hash) {
		return nil
	}
	tmp := s.path(hash) + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("snapshot: write blob %s: %w", hash, err)
	}
	return os.Rename(tmp, s.path(hash))
}

func (s *FileStore) Get(hash string) ([]byte, error) {
	b, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrContentUnavailable
		}
		return nil, fmt.Errorf("snapshot: read blob %s: %w", hash, err)
	}
	return b, nil
}

func (s *FileStore) Has(hash string) bool {
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// treeManifest is the whole-tree blob stored under a Tree's own RootHash, so
// Restore can recover the path -> content-hash mapping from nothing but that
// one string.
type treeManifest struct {
	Files map[string]string `json:"files"`
}

// ForPolicy returns the Backend for p, or nil for PolicyNone (a no-op). store
// is only consulted by PolicyDiff; pass nil to keep Merkle scanning without
// restore support.
func ForPolicy(p Policy, store ContentStore) Backend {
	switch p {
	case PolicyDiff:
		return MerkleBackend{Store: store}
	case PolicyMetadata:
		return MetadataBackend{}
	default:
		return nil
	}
}

// walk visits every regular file under root, skipping dotdirs like .git to
// keep the scan bounded on real working trees.
func walk(root string, visit func(path string, info fs.FileInfo) error) error {
	return filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort: a vanished file is not a scan failure
		}
		if info.IsDir() {
			base := filepath.Base(path)
			if base != "." && (base == ".git" || base == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		return visit(path, info)
	})
}

// MerkleBackend hashes file content, so Diff detects modifications even
// when mtimes are unreliable (e.g. restored from a snapshot store). When
// Store is non-nil, Capture also persists every file's bytes and a
// whole-tree manifest, making Restore possible later.
type MerkleBackend struct {
	Store ContentStore
}

func (b MerkleBackend) Capture(cwd string) (Tree, error) {
	t := make(Tree)
	err := walk(cwd, func(path string, info fs.FileInfo) error {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(cwd, path)
		if err != nil {
			rel = path
		}
		hash := ids.HashHex(content)
		t[rel] = hash
		if b.Store != nil {
			if err := b.Store.Put(hash, content); err != nil {
				return fmt.Errorf("snapshot: store blob for %s: %w", rel, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if b.Store != nil {
		manifest, err := json.Marshal(treeManifest{Files: t})
		if err != nil {
			return nil, fmt.Errorf("snapshot: marshal tree manifest: %w", err)
		}
		if err := b.Store.Put(rootHash(t), manifest); err != nil {
			return nil, fmt.Errorf("snapshot: store tree manifest: %w", err)
		}
	}
	return t, nil
}

func (MerkleBackend) Diff(before, after Tree) model.ChangedPaths {
	return diffTrees(before, after)
}

func (MerkleBackend) RootHash(t Tree) string {
	return rootHash(t)
}

// Restore rewrites every file recorded in the tree manifest for rootHash,
// and removes regular files under cwd that the manifest doesn't mention
// (mirroring an add having happened since the snapshot).
func (b MerkleBackend) Restore(cwd, hash string) error {
	if b.Store == nil {
		return ErrContentUnavailable
	}
	raw, err := b.Store.Get(hash)
	if err != nil {
		return err
	}
	var manifest treeManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("snapshot: unmarshal tree manifest: %w", err)
	}
	present := make(map[string]bool, len(manifest.Files))
	for rel, fileHash := range manifest.Files {
		present[rel] = true
		content, err := b.Store.Get(fileHash)
		if err != nil {
			return fmt.Errorf("snapshot: restore %s: %w", rel, err)
		}
		full := filepath.Join(cwd, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("snapshot: restore %s: %w", rel, err)
		}
		if err := os.WriteFile(full, content, 0o644); err != nil {
			return fmt.Errorf("snapshot: restore %s: %w", rel, err)
		}
	}
	return walk(cwd, func(path string, info fs.FileInfo) error {
		rel, err := filepath.Rel(cwd, path)
		if err != nil {
			rel = path
		}
		if present[rel] {
			return nil
		}
		return os.Remove(path)
	})
}

// MetadataBackend captures path/size/mtime stats without reading content,
// trading precision for speed on large trees. It never retains file bytes,
// so Restore always fails: use PolicyDiff when undo/redo must work.
type MetadataBackend struct{}

func (MetadataBackend) Capture(cwd string) (Tree, error) {
	t := make(Tree)
	err := walk(cwd, func(path string, info fs.FileInfo) error {
		rel, err := filepath.Rel(cwd, path)
		if err != nil {
			rel = path
		}
		t[rel] = strconv.FormatInt(info.Size(), 10) + ":" + strconv.FormatInt(info.ModTime().UnixNano(), 10)
		return nil
	})
	return t, err
}

func (MetadataBackend) Diff(before, after Tree) model.ChangedPaths {
	return diffTrees(before, after)
}

func (MetadataBackend) RootHash(t Tree) string {
	return rootHash(t)
}

func (MetadataBackend) Restore(cwd, rootHash string) error {
	return ErrContentUnavailable
}

func diffTrees(before, after Tree) model.ChangedPaths {
	var cp model.ChangedPaths
	for path, afterHash := range after {
		beforeHash, existed := before[path]
		if !existed {
			cp.Added = append(cp.Added, path)
		} else if beforeHash != afterHash {
			cp.Modified = append(cp.Modified, path)
		}
	}
	for path := range before {
		if _, still := after[path]; !still {
			cp.Removed = append(cp.Removed, path)
		}
	}
	sort.Strings(cp.Added)
	sort.Strings(cp.Modified)
	sort.Strings(cp.Removed)
	return cp
}

// rootHash folds a Tree into one hash by hashing the sorted "path=hash\n"
// lines, so two trees with identical content hash identically regardless of
// map iteration order.
func rootHash(t Tree) string {
	paths := make([]string, 0, len(t))
	for p := range t {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var buf []byte
	for _, p := range paths {
		buf = append(buf, p...)
		buf = append(buf, '=')
		buf = append(buf, t[p]...)
		buf = append(buf, '\n')
	}
	return ids.HashHex(buf)
}
