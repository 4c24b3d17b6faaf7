// Package trace defines the TraceBackend capability set (spec.md §4.1):
// the kernel primitive, implemented uniformly across platforms. Only a
// Linux ptrace implementation is provided; Darwin/Windows are out of
// scope for this module.
package trace

import (
	"time"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/breakpoint"
	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/ptid"
)

// SigInfo is the subset of siginfo_t the engine needs: the delivered
// signal and, for memory faults, the address that triggered it.
type SigInfo struct {
	Signal int
	Code   int
	Addr   uint64
}

// ExecResult is the outcome of Backend.Execute: the injected blob's
// return value (e.g. an mmap'd address, or a negated errno) and whether
// it stopped on its trailing trap (ExitedOK).
type ExecResult struct {
	Retval   uint64
	ExitedOK bool
}

// Backend is the kernel-primitive capability set of spec.md §4.1. Every
// call operates on a logical ptid; backends translate that to whichever
// OS handle they need (tid on POSIX).
type Backend interface {
	Attach(pid int) error
	Detach(pid int) error

	// TraceMe is called by the forked-child path before exec.
	TraceMe(disableASLR bool) error
	// TraceThat sets per-tracee options after the initial stop.
	TraceThat(pid int) error

	Wait(id ptid.PTID) (ptid.StopInfo, error)
	Kill(id ptid.PTID, signal int) error

	ReadMemory(tid int, address uint64, length int) ([]byte, error)
	WriteMemory(tid int, address uint64, data []byte) error
	ReadString(tid int, address uint64, maxLength int) (string, error)

	ReadCPUState(tid int, state arch.State) error
	WriteCPUState(tid int, state arch.State) error

	Step(tid int, signal int, address ptid.Address) error
	Resume(tid int, signal int, address ptid.Address) error
	Suspend(tid int) error

	GetSigInfo(tid int) (SigInfo, error)
	GetEventMessage(tid int) (uint64, error)

	ReadDebugRegisters(tid int) (breakpoint.DebugRegisters, error)
	WriteDebugRegisters(tid int, regs breakpoint.DebugRegisters) error

	// Execute runs code on the given thread, guaranteeing restoration of
	// prior CPU state and prior code bytes on every exit path (spec.md
	// §4.7/§4.8).
	Execute(tid int, code []byte, entry uint64) (ExecResult, error)
}

// maxRetries bounds withRetry, the retry-on-EAGAIN/EBUSY wrapper that
// Linux's Attach, Detach, Step and Resume go through, per spec.md §4.1: "wrapped ptrace-equivalent
// calls retry up to 3 times on EAGAIN/EBUSY; all other failures
// propagate."
const maxRetries = 3

// withRetry invokes op, retrying up to maxRetries-1 additional times
// when it fails with a Retryable errcode.Code.
func withRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		code, ok := err.(errcode.Code)
		if !ok || !code.Retryable() {
			return err
		}
		if attempt < maxRetries-1 {
			time.Sleep(time.Millisecond)
		}
	}
	return err
}
