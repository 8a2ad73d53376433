package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitViolation = 1
	ExitError     = 2
)

// errViolations makes the command fail with ExitViolation.
var errViolations = errors.New("violations found")

func exitCode(err error) int {
	if errors.Is(err, errViolations) {
		return ExitViolation
	}
	return ExitError
}

type globalFlags struct {
	configPath string
	envFiles   []string
	logLevel   string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "spcctl",
		Short: "Statistical process control from the command line",
		Long: `spcctl checks measurement series against the Western Electric rules,
computes control limits and process capability, and runs a monitoring
server with a live dashboard.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringSliceVar(&g.envFiles, "env-file", nil, "dotenv files to load (default .env)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newEvaluateCmd(g),
		newLimitsCmd(g),
		newCapabilityCmd(g),
		newSimulateCmd(g),
		newPolicyCmd(g),
		newServeCmd(g),
	)
	return root
}

// newLogger builds the process logger. Format "auto" picks text on a
// terminal and JSON otherwise.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			format = "text"
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("usage: "+format, args...)
}
