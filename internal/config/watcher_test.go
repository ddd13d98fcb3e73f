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
package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/config"
)

const validTOML = `
[agent]
name = "main"
provider = "acme"
model = "m1"
`

const validTOMLUpdated = `
[agent]
name = "main"
provider = "acme"
model = "m2"
`

const invalidTOML = `
[agent]
name = "main"
provider = "acme"
model = "m"
system = "a"
system_file = "b"
`

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.toml")
	require.NoError(t, os.WriteFile(path, []byte(validTOML), 0o644))

	var mu sync.Mutex
	var lastModel string
	received := make(chan struct{}, 4)

	w, err := config.Watch(path, func(cfg *config.Config, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		lastModel = cfg.Agent.Model
		mu.Unlock()
		received <- struct{}{}
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(validTOMLUpdated), 0o644))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "m2", lastModel)
}

func TestWatcherReportsErrorOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weft.toml")
	require.NoError(t, os.WriteFile(path, []byte(validTOML), 0o644))

	errs := make(chan error, 4)
	w, err := config.Watch(path, func(cfg *config.Config, err error) {
		if err != nil {
			errs <- err
		}
	})
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(invalidTOML), 0o644))

	select {
	case e := <-errs:
		require.Error(t, e)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error callback")
	}
}
