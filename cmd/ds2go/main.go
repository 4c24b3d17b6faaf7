// Command ds2go is the ambient CLI entry point for the debug-server
// engine (SPEC_FULL.md's [AMBIENT STACK] Configuration section). It
// parses "attach <pid>" and "spawn <path> [args...]" with
// github.com/spf13/cobra + github.com/spf13/pflag, the teacher project
// family's actual CLI stack, and wires pkg/proc/pkg/trace/pkg/dlog
// together the way the out-of-scope GDB/LLDB wire-protocol session
// would. cmd/ds2go itself is not the wire-protocol session: it only
// drives the core directly from the command line for local debugging
// and smoke-testing, per spec.md §1's "CLI option parsing... remain
// external collaborators" note.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ds2go/ds2go/pkg/dlog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string
	var passthruSignals []int

	root := &cobra.Command{
		Use:   "ds2go",
		Short: "ds2go is a remote debug-server engine",
		Long: "ds2go attaches to or spawns a debuggee and exposes its memory, " +
			"registers, and breakpoints for a GDB/LLDB-protocol session layer " +
			"built on top of it.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().IntSliceVar(&passthruSignals, "passthru-signal", nil, "signal number to deliver transparently (repeatable)")

	root.AddCommand(newAttachCmd(&logLevel, &passthruSignals))
	root.AddCommand(newSpawnCmd(&logLevel, &passthruSignals))
	return root
}

func newLogger(levelFlag string) *dlog.Logger {
	cfg := dlog.Config{Level: logrus.WarnLevel}
	switch levelFlag {
	case "debug":
		cfg.Debugger, cfg.Trace, cfg.Breakpoint = true, true, true
		cfg.Level = logrus.DebugLevel
	case "info":
		cfg.Debugger = true
		cfg.Level = logrus.InfoLevel
	case "error":
		cfg.Level = logrus.ErrorLevel
	}
	return dlog.New(cfg, os.Stderr)
}
