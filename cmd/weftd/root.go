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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftagent/weft/internal/version"
)

var cfgFile string
var hotReload bool

// rootCmd is deliberately thin: flag parsing and process bootstrap only.
// CLI flag parsing beyond that (a subcommand tree, TUI, etc.) is out of
// scope for this runtime core.
var rootCmd = &cobra.Command{
	Use:     "weftd",
	Short:   "weftd runs the multi-agent session runtime",
	Long:    "weftd loads a TOML config describing one agent or a planner/delegate quorum, assembles the runtime, and serves it until terminated.",
	Version: version.Get(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfgFile, hotReload)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "weft.toml", "path to the agent/quorum TOML config")
	rootCmd.PersistentFlags().BoolVar(&hotReload, "hot-reload", false, "watch --config for changes and hot-swap the in-memory config")
}

// Execute runs the root command, printing any error to stderr before exiting
// with a non-zero status.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
