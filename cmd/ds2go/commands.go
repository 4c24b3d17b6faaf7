package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/dlog"
	"github.com/ds2go/ds2go/pkg/hostinfo"
	"github.com/ds2go/ds2go/pkg/proc"
	"github.com/ds2go/ds2go/pkg/ptid"
	"github.com/ds2go/ds2go/pkg/spawner"
	"github.com/ds2go/ds2go/pkg/trace"
)

func newAttachCmd(logLevel *string, passthru *[]int) *cobra.Command {
	return &cobra.Command{
		Use:   "attach <pid>",
		Short: "attach to a running process and report its stop events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pid %q: %w", args[0], err)
			}
			logger := newLogger(*logLevel)
			p := proc.New(pid, trace.Linux{}, hostinfo.DefaultTag(), false)
			for _, sig := range *passthru {
				p.SetSignalPass(sig, true)
			}
			logger.Debugger().Infof("attaching to pid %d", pid)
			if err := p.Attach(false); err != nil {
				return fmt.Errorf("attach %d: %w", pid, err)
			}
			return runEventLoop(p, logger)
		},
	}
}

func newSpawnCmd(logLevel *string, passthru *[]int) *cobra.Command {
	var disableASLR bool
	cmd := &cobra.Command{
		Use:   "spawn <path> [args...]",
		Short: "spawn a new process under tracing and report its stop events",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(*logLevel)
			sp := spawner.Linux{DisableASLR: disableASLR}
			pid, err := sp.Run(args[0], args[1:], os.Environ(), "", os.Stdin, os.Stdout, os.Stderr)
			if err != nil {
				return fmt.Errorf("spawn %s: %w", args[0], err)
			}
			p := proc.New(pid, trace.Linux{}, hostinfo.DefaultTag(), false)
			for _, sig := range *passthru {
				p.SetSignalPass(sig, true)
			}
			logger.Debugger().Infof("spawned pid %d for %s", pid, args[0])
			if err := p.Attach(true); err != nil {
				return fmt.Errorf("attach spawned pid %d: %w", pid, err)
			}
			return runEventLoop(p, logger)
		},
	}
	cmd.Flags().BoolVar(&disableASLR, "disable-aslr", false, "request ASLR be disabled for the child (accepted; the spawner does not apply it)")
	return cmd
}

// runEventLoop repeatedly calls Process.Wait and prints every stop/exit
// event until the tracee terminates, per spec.md §5's single suspension
// point: "the event loop suspends only inside... Process.wait()".
func runEventLoop(p *proc.Process, logger *dlog.Logger) error {
	for {
		logger.Trace().Debugf("waiting for next event")
		info, err := p.Wait()
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		if info.Reason == ptid.ReasonBreakpoint {
			logger.Breakpoint().Debugf("tid %d hit a breakpoint", info.Tid)
			logDisassembledStop(p, info.Tid, logger)
		}
		printStop(info)
		if info.Event == ptid.EventExit || info.Event == ptid.EventKill {
			return nil
		}
		if err := p.Resume(0, nil); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
	}
}

// logDisassembledStop logs the instruction at the stopped thread's PC,
// for operators reading --log-level debug output next to a breakpoint
// hit. x86/x86_64 only; other tags fail arch.DisassembleOne's own
// mode check and are silently skipped.
func logDisassembledStop(p *proc.Process, tid int, logger *dlog.Logger) {
	th, ok := p.Thread(tid)
	if !ok {
		return
	}
	var state arch.X86_64State
	if err := th.ReadCPUState(&state); err != nil {
		return
	}
	const maxInstructionBytes = 16
	code, err := p.ReadMemory(state.PC(), maxInstructionBytes)
	if err != nil {
		return
	}
	if text, _, ok := arch.DisassembleOne(state.Tag(), code, state.PC()); ok {
		logger.Breakpoint().Infof("tid %d stopped at %#x: %s", tid, state.PC(), text)
	}
}

func printStop(info ptid.StopInfo) {
	switch info.Event {
	case ptid.EventExit:
		fmt.Printf("tid %d exited with status %d\n", info.Tid, info.Status)
	case ptid.EventKill:
		fmt.Printf("tid %d killed by signal %d\n", info.Tid, info.Signal)
	default:
		fmt.Printf("tid %d stopped: reason=%v signal=%d\n", info.Tid, info.Reason, info.Signal)
	}
}
