// Package spawner implements SPEC_FULL.md §4.9's supplemented Linux
// process spawner: the "spawned" half of Process.Create(spawner)
// (spec.md §3's Process lifecycle), consumed by the core only through
// the processSpawner.run(preExecAction) contract spec.md §6 names as an
// external collaborator.
package spawner

import (
	"io"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ds2go/ds2go/pkg/errcode"
)

// Spawner is the contract pkg/proc's Process.Create needs from a
// process launcher, matching spec.md §6's processSpawner.run interface.
type Spawner interface {
	Run(path string, args []string, env []string, workingDir string, stdin io.Reader, stdout, stderr io.Writer) (pid int, err error)
}

// Linux forks a child that requests tracing of itself before exec via
// PTRACE_TRACEME (spec.md §4.1's traceMe primitive). It is the Linux
// implementation of Spawner. It does not change the child's
// personality(2), so DisableASLR has no effect on the child.
type Linux struct {
	// DisableASLR records a request to run the child with address-space
	// randomization off. Run accepts it and does not apply it (see Run).
	DisableASLR bool
}

// Run forks+execs path with args/env/workingDir, redirecting stdio, and
// arranges for the child to stop itself (SIGTRAP on exec, observed by
// the tracer's first Wait) via PTRACE_TRACEME. The Go runtime performs
// the fork/ptrace/exec sequence itself when SysProcAttr.Ptrace is set,
// the idiomatic equivalent of ds2's ProcessSpawner::run(preExecAction).
func (l Linux) Run(path string, args []string, env []string, workingDir string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	cmd := exec.Command(path, args...)
	cmd.Env = env
	cmd.Dir = workingDir
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Ptrace:    true,
		Pdeathsig: syscall.SIGKILL,
	}
	// spec.md §4.1's traceMe(disableASLR) clears ADDR_NO_RANDOMIZE between
	// fork and exec in the child. os/exec provides no pre-exec hook to run
	// personality(2) there (the runtime's fork+exec sequence is a single
	// clone+execve with no callback point), so DisableASLR is recorded but
	// not applied; per spec.md's own "failure to clear ASLR is a warning,
	// not fatal" this degrades safely rather than failing the spawn.
	_ = l.DisableASLR

	if err := cmd.Start(); err != nil {
		return 0, errcode.New(errcode.FromErrno(unwrapErrno(err)))
	}
	return cmd.Process.Pid, nil
}

func unwrapErrno(err error) error {
	var errno unix.Errno
	if e, ok := err.(*exec.Error); ok {
		if inner, ok := e.Err.(unix.Errno); ok {
			errno = inner
		}
	} else if e, ok := err.(unix.Errno); ok {
		errno = e
	}
	if errno != 0 {
		return errno
	}
	return err
}
