// Package cli implements the mindcache CLI commands: a thin cobra binding
// over the Coordinator's operations, kept deliberately outside the core's
// own design. One file per subcommand, each delegating to the Coordinator.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mindcache/mindcache/internal/config"
	"github.com/mindcache/mindcache/internal/coordinator"
	"github.com/mindcache/mindcache/internal/errs"
)

var storagePath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "mindcache",
	Short: "Persistent, decaying memory store for AI agents",
	Long:  "MindCache stores per-user, per-session memories with time- and importance-based decay, multi-criterion recall, and session summarization.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&storagePath, "storage", "s", "", "Storage directory (default: $MINDCACHE_STORAGE or ./mindcache_data)")
}

func resolveStoragePath() string {
	if storagePath != "" {
		return storagePath
	}
	if env := os.Getenv("MINDCACHE_STORAGE"); env != "" {
		return env
	}
	return config.Default().StoragePath
}

func openCoordinator() (*coordinator.Coordinator, error) {
	cfg := config.Default()
	cfg.StoragePath = resolveStoragePath()
	return coordinator.Open(cfg)
}

// exitCode maps an error's kind to a CLI exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	switch errs.KindOf(err) {
	case errs.InvalidArgument:
		return 2
	case errs.NotFound:
		return 3
	case errs.Forbidden, errs.Conflict:
		return 4
	case errs.Io, errs.CorruptRecord:
		return 5
	case errs.Timeout:
		return 6
	default:
		return 1
	}
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(exitCode(err))
}
