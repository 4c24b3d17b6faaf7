package proc

import (
	"testing"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/breakpoint"
	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/ptid"
	"github.com/ds2go/ds2go/pkg/trace"
)

// fakeBackend is an in-process trace.Backend stand-in: one memory image
// shared across tids, a scripted queue of Wait results, and per-tid CPU
// state good enough to exercise Process/Thread without real ptrace.
type fakeBackend struct {
	mem   map[uint64]byte
	state map[int]*arch.X86_64State
	waits []ptid.StopInfo

	debugRegs map[int]breakpoint.DebugRegisters
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		mem:       make(map[uint64]byte),
		state:     make(map[int]*arch.X86_64State),
		debugRegs: make(map[int]breakpoint.DebugRegisters),
	}
}

var _ trace.Backend = (*fakeBackend)(nil)

func (f *fakeBackend) Attach(pid int) error { return nil }
func (f *fakeBackend) Detach(pid int) error { return nil }
func (f *fakeBackend) TraceMe(disableASLR bool) error { return nil }
func (f *fakeBackend) TraceThat(pid int) error        { return nil }

func (f *fakeBackend) Wait(id ptid.PTID) (ptid.StopInfo, error) {
	if len(f.waits) == 0 {
		return ptid.StopInfo{}, errcode.New(errcode.ProcessNotFound)
	}
	next := f.waits[0]
	f.waits = f.waits[1:]
	return next, nil
}

func (f *fakeBackend) Kill(id ptid.PTID, signal int) error { return nil }

func (f *fakeBackend) ReadMemory(tid int, address uint64, length int) ([]byte, error) {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = f.mem[address+uint64(i)]
	}
	return out, nil
}

func (f *fakeBackend) WriteMemory(tid int, address uint64, data []byte) error {
	for i, b := range data {
		f.mem[address+uint64(i)] = b
	}
	return nil
}

func (f *fakeBackend) ReadString(tid int, address uint64, maxLength int) (string, error) {
	var out []byte
	for i := 0; i < maxLength; i++ {
		b := f.mem[address+uint64(i)]
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
	}
	return "", errcode.New(errcode.NameTooLong)
}

func (f *fakeBackend) ReadCPUState(tid int, state arch.State) error {
	s, ok := state.(*arch.X86_64State)
	if !ok {
		return errcode.New(errcode.Unsupported)
	}
	*s = *f.state[tid]
	return nil
}

func (f *fakeBackend) WriteCPUState(tid int, state arch.State) error {
	s, ok := state.(*arch.X86_64State)
	if !ok {
		return errcode.New(errcode.Unsupported)
	}
	cp := *s
	f.state[tid] = &cp
	return nil
}

func (f *fakeBackend) Step(tid int, signal int, address ptid.Address) error   { return nil }
func (f *fakeBackend) Resume(tid int, signal int, address ptid.Address) error { return nil }
func (f *fakeBackend) Suspend(tid int) error                                  { return nil }

func (f *fakeBackend) GetSigInfo(tid int) (trace.SigInfo, error) { return trace.SigInfo{}, nil }
func (f *fakeBackend) GetEventMessage(tid int) (uint64, error)   { return 0, nil }

func (f *fakeBackend) ReadDebugRegisters(tid int) (breakpoint.DebugRegisters, error) {
	return f.debugRegs[tid], nil
}

func (f *fakeBackend) WriteDebugRegisters(tid int, regs breakpoint.DebugRegisters) error {
	f.debugRegs[tid] = regs
	return nil
}

func (f *fakeBackend) Execute(tid int, code []byte, entry uint64) (trace.ExecResult, error) {
	return trace.ExecResult{}, errcode.New(errcode.Unsupported)
}

func TestProcessResumeThenHitSoftwareBreakpoint(t *testing.T) {
	const pid = 100
	backend := newFakeBackend()
	backend.state[pid] = &arch.X86_64State{}
	backend.state[pid].SetPC(0x4000)
	// original byte under the trap, restored on Remove.
	backend.mem[0x4000] = 0x90

	p := New(pid, backend, arch.TagX86_64_64, false)
	p.addThread(pid)
	p.currentThread = p.threads[pid]

	if err := p.softwareBP.Add(ptid.NewAddress(0x4000), breakpoint.Permanent, 1, breakpoint.ModeExec); err != nil {
		t.Fatalf("Add: %v", err)
	}

	backend.waits = []ptid.StopInfo{
		{Event: ptid.EventStop, Tid: pid, Signal: 5, Reason: ptid.ReasonTrap},
	}
	// Simulate the trap delivering with PC already past the 0xCC byte.
	backend.state[pid].SetPC(0x4001)

	if err := p.Resume(0, nil); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	// The trap should have installed 0xCC at 0x4000.
	if backend.mem[0x4000] != 0xCC {
		t.Fatalf("trap opcode not installed: %#x", backend.mem[0x4000])
	}

	info, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if info.Reason != ptid.ReasonBreakpoint {
		t.Fatalf("Reason = %v, want ReasonBreakpoint", info.Reason)
	}
	// Breakpoints are disabled (uninstalled) once afterResume runs.
	if backend.mem[0x4000] != 0x90 {
		t.Fatalf("original byte not restored: %#x", backend.mem[0x4000])
	}
}

func TestProcessWaitAbsorbsThreadExit(t *testing.T) {
	const pid = 200
	const otherTid = 201
	backend := newFakeBackend()
	backend.state[pid] = &arch.X86_64State{}

	p := New(pid, backend, arch.TagX86_64_64, false)
	p.addThread(pid)
	p.addThread(otherTid)
	p.currentThread = p.threads[pid]

	backend.waits = []ptid.StopInfo{
		{Event: ptid.EventExit, Tid: otherTid},
		{Event: ptid.EventStop, Tid: pid, Signal: 5, Reason: ptid.ReasonSignalStop},
	}

	info, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, ok := p.threads[otherTid]; ok {
		t.Fatal("exited thread was not removed")
	}
	if info.Tid != pid {
		t.Fatalf("Tid = %d, want %d", info.Tid, pid)
	}
}

func TestProcessWaitSuppressesSIGSTOP(t *testing.T) {
	const pid = 300
	backend := newFakeBackend()
	backend.state[pid] = &arch.X86_64State{}

	p := New(pid, backend, arch.TagX86_64_64, false)
	p.addThread(pid)
	p.currentThread = p.threads[pid]

	backend.waits = []ptid.StopInfo{
		{Event: ptid.EventStop, Tid: pid, Signal: 19 /* SIGSTOP */},
		{Event: ptid.EventStop, Tid: pid, Signal: 5, Reason: ptid.ReasonSignalStop},
	}

	info, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if info.Signal != 5 {
		t.Fatalf("Signal = %d, want 5 (SIGSTOP should have been resumed past)", info.Signal)
	}
}

func TestProcessTerminatesOnMainExit(t *testing.T) {
	const pid = 400
	backend := newFakeBackend()
	backend.state[pid] = &arch.X86_64State{}

	p := New(pid, backend, arch.TagX86_64_64, false)
	p.addThread(pid)
	p.currentThread = p.threads[pid]

	backend.waits = []ptid.StopInfo{{Event: ptid.EventExit, Tid: pid, Status: 0}}

	if _, err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !p.Terminated() {
		t.Fatal("Process should be marked terminated")
	}
	if _, err := p.Wait(); err == nil {
		t.Fatal("Wait on a terminated Process should error")
	}
}
