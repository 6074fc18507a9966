// Package cmd is the command-line driver wrapping internal/engine: a thin
// cobra CLI for manual testing and a serve subcommand exposing the same
// facade over HTTP/SSE for out-of-process clients (spec.md §1, §4.6).
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dlforge/xfer/internal/config"
	"github.com/dlforge/xfer/internal/elog"
	"github.com/dlforge/xfer/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "xfer",
	Short: "a background file-transfer engine",
	Long:  "xfer enqueues, tracks and resumes downloads, uploads and data transfers through a single persistent engine.",
}

var storeDirFlag string

var (
	engOnce sync.Once
	eng     *engine.Engine
	engErr  error
)

// Execute adds all child commands and runs the root command. Called once
// from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDirFlag, "store-dir", "", "directory holding engine state (default $XFER_HOME/store, or xfer/store under the user config dir when XFER_HOME is unset)")
	rootCmd.AddCommand(addCmd, cancelCmd, pauseCmd, resumeCmd, listCmd, resetCmd, serveCmd)
}

// sharedEngine lazily constructs the one Engine a CLI invocation needs,
// reused across every subcommand in a single process (spec.md §4.1: the
// engine is a single owning value).
func sharedEngine() (*engine.Engine, error) {
	engOnce.Do(func() {
		dir := storeDirFlag
		if dir == "" {
			dir = filepath.Join(config.ConfigDir(), "store")
		}
		opts, err := config.LoadOptions()
		if err != nil {
			engErr = fmt.Errorf("cmd: load options: %w", err)
			return
		}
		eng, engErr = engine.New(engine.Config{StoreDir: dir, Options: opts})
	})
	return eng, engErr
}

func fatal(err error) {
	elog.With("cmd").Error().Err(err).Msg("command failed")
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
