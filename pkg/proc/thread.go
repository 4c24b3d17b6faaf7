package proc

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/ptid"
	"github.com/ds2go/ds2go/pkg/singlestep"
)

// State is a Thread's position in the state machine of spec.md §3:
// Running -> {Stopped, Stepped, Terminated}.
type State int

const (
	Running State = iota
	Stopped
	Stepped
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Stepped:
		return "stepped"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Thread is one tracee thread, per spec.md §4.6. It never outlives its
// owning Process and is looked up by tid through Process.threads.
type Thread struct {
	tid     int
	process *Process
	state   State
	stop    ptid.StopInfo
}

// TID returns the thread's id.
func (t *Thread) TID() int { return t.tid }

// State returns the thread's current position in the state machine.
func (t *Thread) State() State { return t.state }

// StopInfo returns the last-observed stop classification for this
// thread, populated by UpdateStopInfo.
func (t *Thread) StopInfo() ptid.StopInfo { return t.stop }

// ReadCPUState delegates to the TraceBackend, fully overwriting state,
// per spec.md §4.6's readCPUState.
func (t *Thread) ReadCPUState(state arch.State) error {
	return t.process.backend.ReadCPUState(t.tid, state)
}

// WriteCPUState delegates to the TraceBackend, per spec.md §4.6's
// writeCPUState.
func (t *Thread) WriteCPUState(state arch.State) error {
	return t.process.backend.WriteCPUState(t.tid, state)
}

// ModifyRegisters reads state, applies fn, and writes it back, per
// spec.md §4.6's modifyRegisters(fn) read-modify-write helper.
func (t *Thread) ModifyRegisters(state arch.State, fn func(arch.State) error) error {
	if err := t.ReadCPUState(state); err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	return t.WriteCPUState(state)
}

// Suspend transitions a Running thread to Stopped, per spec.md §4.6's
// suspend().
func (t *Thread) Suspend() error {
	if t.state != Running {
		return nil
	}
	if err := t.process.backend.Suspend(t.tid); err != nil {
		return err
	}
	t.state = Stopped
	return nil
}

// Terminate kills the thread's process outright, per spec.md §4.6's
// terminate().
func (t *Thread) Terminate() error {
	if err := t.process.backend.Kill(ptid.New(t.process.pid, t.tid), int(unix.SIGKILL)); err != nil {
		return err
	}
	t.state = Terminated
	return nil
}

// Resume continues the thread with an optional signal and PC override,
// per spec.md §4.6's resume(signal, address).
func (t *Thread) Resume(signal int, address ptid.Address) error {
	if err := t.process.backend.Resume(t.tid, signal, address); err != nil {
		return err
	}
	t.state = Running
	return nil
}

// Step resumes the thread for exactly one instruction, per spec.md
// §4.6's step(signal, address): on x86/x86_64 this is the kernel's
// native single-step trap (PTRACE_SINGLESTEP already toggles EFLAGS.TF
// for us); on ARM/Thumb it plants the software single-step planner's
// one-shot breakpoints (§4.3) first and then does an ordinary resume;
// on ARM64 it is Unsupported, per spec.md §4.8's failure table.
func (t *Thread) Step(signal int, address ptid.Address) error {
	tag := t.process.tag
	switch tag {
	case arch.TagARM:
		s := &arch.ARMState{}
		if err := t.ReadCPUState(s); err != nil {
			return err
		}
		if err := singlestep.Plan(t.tid, s, address, t.process.backend, t.process.softwareBP); err != nil {
			return err
		}
		if err := t.process.softwareBP.Enable(); err != nil {
			return err
		}
		if err := t.process.backend.Resume(t.tid, signal, address); err != nil {
			return err
		}
	case arch.TagARM64A32:
		s := &arch.ARM64State{IsA32: true}
		if err := t.ReadCPUState(s); err != nil {
			return err
		}
		if err := singlestep.Plan(t.tid, &s.A32, address, t.process.backend, t.process.softwareBP); err != nil {
			return err
		}
		if err := t.process.softwareBP.Enable(); err != nil {
			return err
		}
		if err := t.process.backend.Resume(t.tid, signal, address); err != nil {
			return err
		}
	case arch.TagARM64A64:
		return errcode.New(errcode.Unsupported)
	default:
		if err := t.process.backend.Step(t.tid, signal, address); err != nil {
			return err
		}
	}
	t.state = Stepped
	return nil
}

// BeforeResume enables hardware breakpoints for this thread, per
// spec.md §4.6's beforeResume().
func (t *Thread) BeforeResume() error {
	if t.process.hardwareBP == nil {
		return nil
	}
	return t.process.hardwareBP.Enable()
}

// Core returns the CPU core index this thread last ran on, parsed from
// /proc/<pid>/task/<tid>/stat field 39, per the supplemented core()
// accessor in SPEC_FULL.md's supplemented-features section.
func (t *Thread) Core() (int, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/stat", t.process.pid, t.tid))
	if err != nil {
		return 0, errcode.New(errcode.ProcessNotFound)
	}
	// comm (field 2) may itself contain spaces/parens; the state field
	// always immediately follows the last ')'.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 || idx+2 >= len(data) {
		return 0, errcode.New(errcode.Unknown)
	}
	fields := strings.Fields(string(data[idx+2:]))
	const processorFieldFromState = 39 - 3 // field 3 is fields[0] here
	if processorFieldFromState >= len(fields) {
		return 0, errcode.New(errcode.Unknown)
	}
	core, err := strconv.Atoi(fields[processorFieldFromState])
	if err != nil {
		return 0, errcode.New(errcode.Unknown)
	}
	return core, nil
}

// UpdateStopInfo stores a StopInfo that the backend's Wait has already
// classified from the POSIX wait status (spec.md §4.6's
// updateStopInfo(waitStatus)) and moves the thread to Terminated on
// exit/kill, Stopped otherwise; it is called from Process.Wait
// immediately after the kernel returns.
func (t *Thread) UpdateStopInfo(info ptid.StopInfo) {
	t.stop = info
	switch info.Event {
	case ptid.EventExit, ptid.EventKill:
		t.state = Terminated
	default:
		t.state = Stopped
	}
}
