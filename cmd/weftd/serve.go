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
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/config"
	"github.com/weftagent/weft/internal/llmclient"
	"github.com/weftagent/weft/internal/log"
	"github.com/weftagent/weft/pkg/agent"
)

// runServe loads cfgPath, assembles the Agent, and blocks until the process
// receives an interrupt or terminate signal. A second Ctrl+C forces an
// immediate exit.
func runServe(ctx context.Context, cfgPath string, enableHotReload bool) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("weftd: building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log.SetLogger(logger)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("weftd: loading config %s: %w", cfgPath, err)
	}
	log.Info("weftd: config loaded", zap.String("path", cfgPath))

	provider := llmclient.NewClient(llmclient.Config{})

	a, err := agent.New(cfg, agent.WithProvider(provider))
	if err != nil {
		return fmt.Errorf("weftd: assembling agent: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("weftd: error closing agent", zap.Error(err))
		}
	}()

	if enableHotReload {
		if err := a.EnableHotReload(cfgPath); err != nil {
			log.Warn("weftd: hot-reload watch failed to start", zap.Error(err))
		} else {
			log.Info("weftd: hot-reload enabled", zap.String("path", cfgPath))
		}
	}

	var httpSrv *http.Server
	if cfg.Mesh != nil && cfg.Mesh.Listen != "" {
		httpSrv = newMeshServer(cfg.Mesh.Listen, a)
		go func() {
			log.Info("weftd: mesh listening", zap.String("address", cfg.Mesh.Listen))
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("weftd: mesh listener failed", zap.Error(err))
			}
		}()
	}

	log.Info("weftd: ready")
	waitForShutdown(ctx, httpSrv)
	log.Info("weftd: shutdown complete")
	return nil
}

// newMeshServer wires an inbound websocket-upgrade handler into a.Mesh.Accept,
// the half of mesh transport bootstrapMesh explicitly leaves to the process
// entrypoint (see pkg/agent/mesh.go's doc comment).
func newMeshServer(addr string, a *agent.Agent) *http.Server {
	upgrader := websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}
	mux := http.NewServeMux()
	mux.HandleFunc("/mesh", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("weftd: mesh upgrade failed", zap.Error(err))
			return
		}
		peerLabel := r.URL.Query().Get("peer")
		if peerLabel == "" {
			peerLabel = r.RemoteAddr
		}
		a.Mesh.Accept(r.Context(), peerLabel, conn)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

// waitForShutdown blocks until SIGINT/SIGTERM, then gives httpSrv (if any)
// ten seconds to drain before returning.
func waitForShutdown(ctx context.Context, httpSrv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("weftd: shutting down (press Ctrl+C again to force)")
	case <-ctx.Done():
	}

	go func() {
		<-sigCh
		log.Warn("weftd: forced shutdown")
		os.Exit(1)
	}()

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("weftd: error stopping mesh listener", zap.Error(err))
		}
	}
}
