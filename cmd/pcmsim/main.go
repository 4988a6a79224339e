// Copyright (C) 2014-2021 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// pcmsim drives a peer close manager through a scripted scenario read from
// a TOML file, printing the state machine's transitions and final stats.
// It exists to exercise the close manager the way a real peer session
// would, without standing up an actual BGP speaker.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var globalOpts struct {
	LogLevel string
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pcmsim",
		Short: "Run a scripted peer-close scenario",
	}
	rootCmd.PersistentFlags().StringVar(&globalOpts.LogLevel, "log-level", "info", "debug, info, warn, or error")

	rootCmd.AddCommand(newRunCmd(), newTemplateCmd())
	return rootCmd
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch globalOpts.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
