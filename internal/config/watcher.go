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
package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/log"
)

// defaultDebounce absorbs editors that perform a write as several rapid
// fsnotify events (truncate + write + rename-into-place).
const defaultDebounce = 300 * time.Millisecond

// OnReload is called after a config file change passes validation, or with
// a non-nil err if the new file failed to parse (the previous Config, held
// by the caller, remains authoritative in that case).
type OnReload func(cfg *Config, err error)

// Watcher reloads a config file on write, validating before handing the new
// value to its caller so a bad edit never overwrites a good running config.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload OnReload
	debounce time.Duration

	timerMu sync.Mutex
	timer   *time.Timer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Watch starts watching path's parent directory (matching editors that
// replace the file rather than writing in place) and calls onReload after
// every settled change. Call Stop to release the underlying fsnotify handle.
func Watch(path string, onReload OnReload) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: creating file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", dir, err)
	}

	w := &Watcher{
		path:     path,
		watcher:  fsw,
		onReload: onReload,
		debounce: defaultDebounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	target := filepath.Clean(w.path)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config: watcher error", zap.Error(err))

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Warn("config: reload failed, keeping previous config", zap.String("path", w.path), zap.Error(err))
		w.onReload(nil, err)
		return
	}
	log.Info("config: reloaded", zap.String("path", w.path))
	w.onReload(cfg, nil)
}

// Stop stops the watcher. Idempotent.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	select {
	case <-w.doneCh:
	case <-time.After(5 * time.Second):
	}
	return w.watcher.Close()
}
