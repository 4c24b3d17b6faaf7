// Package proc implements the Process/Thread layer (spec.md §4.5/§4.6):
// the L4 component that owns a tracee's thread set, breakpoint managers,
// and code injector, driving them through a pkg/trace.Backend.
package proc

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/breakpoint"
	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/inject"
	"github.com/ds2go/ds2go/pkg/ptid"
	"github.com/ds2go/ds2go/pkg/trace"
)

// MemoryRegion is the result of GetMemoryRegionInfo, derived from
// /proc/<pid>/maps per spec.md §4.5.
type MemoryRegion struct {
	Start      uint64
	End        uint64
	Protection string
	Name       string
}

// SharedLibrary is one entry yielded by EnumerateSharedLibraries.
type SharedLibrary struct {
	Path string
	Base uint64
}

// Process is the L4 Process of spec.md §4.5: a tracee's thread set plus
// its breakpoint managers and code injector, all driven through a single
// trace.Backend.
type Process struct {
	pid       int
	backend   trace.Backend
	tag       arch.Tag
	bigEndian bool

	threads       map[int]*Thread
	currentThread *Thread
	terminated    bool

	softwareBP *breakpoint.Software
	hardwareBP *breakpoint.Hardware
	injector   *inject.Injector

	passthru map[int]bool
}

// New constructs a Process around an already-selected trace.Backend.
// Callers still need to call Attach before the Process is usable.
func New(pid int, backend trace.Backend, tag arch.Tag, bigEndian bool) *Process {
	p := &Process{
		pid:       pid,
		backend:   backend,
		tag:       tag,
		bigEndian: bigEndian,
		threads:   make(map[int]*Thread),
		passthru:  make(map[int]bool),
	}
	p.softwareBP = breakpoint.NewSoftware(pid, tag, bigEndian, backend)
	p.hardwareBP = breakpoint.NewHardware(tag, backend, backend, p.threadIDs)
	p.injector = inject.New(backend, tag)
	return p
}

// PID returns the process id.
func (p *Process) PID() int { return p.pid }

// Terminated reports whether the tracee's main thread has exited.
func (p *Process) Terminated() bool { return p.terminated }

// CurrentThread returns the thread that most recently reported a stop.
func (p *Process) CurrentThread() *Thread { return p.currentThread }

// Thread looks a thread up by tid.
func (p *Process) Thread(tid int) (*Thread, bool) {
	th, ok := p.threads[tid]
	return th, ok
}

// SoftwareBreakpoints exposes the process-wide software breakpoint
// manager, e.g. for callers adding breakpoints before resuming.
func (p *Process) SoftwareBreakpoints() *breakpoint.Software { return p.softwareBP }

// HardwareBreakpoints exposes the process-wide hardware breakpoint
// manager.
func (p *Process) HardwareBreakpoints() *breakpoint.Hardware { return p.hardwareBP }

// Injector exposes the code injector used for mmap/munmap-backed memory
// allocation inside the tracee.
func (p *Process) Injector() *inject.Injector { return p.injector }

// SetSignalPass marks signo as transparently deliverable ("passthru"),
// per spec.md §4.5's wait() passthru-set note and the supplemented
// _passthruSignals in SPEC_FULL.md's supplemented-features section.
func (p *Process) SetSignalPass(signo int, enabled bool) {
	if enabled {
		p.passthru[signo] = true
	} else {
		delete(p.passthru, signo)
	}
}

// ResetSignalPass clears every passthru signal.
func (p *Process) ResetSignalPass() { p.passthru = make(map[int]bool) }

func (p *Process) threadIDs() []int {
	ids := make([]int, 0, len(p.threads))
	for tid := range p.threads {
		ids = append(ids, tid)
	}
	sort.Ints(ids)
	return ids
}

func (p *Process) addThread(tid int) *Thread {
	if th, ok := p.threads[tid]; ok {
		return th
	}
	th := &Thread{tid: tid, process: p, state: Stopped, stop: ptid.NewStopInfo()}
	p.threads[tid] = th
	return th
}

func (p *Process) removeThread(tid int) {
	delete(p.threads, tid)
	if p.currentThread != nil && p.currentThread.tid == tid {
		p.currentThread = nil
	}
}

// taskIDs lists the kernel's current view of the process's threads via
// /proc/<pid>/task, the Linux mechanism behind spec.md §4.5's thread
// enumeration.
func (p *Process) taskIDs() ([]int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", p.pid))
	if err != nil {
		return nil, errcode.New(errcode.ProcessNotFound)
	}
	ids := make([]int, 0, len(entries))
	for _, e := range entries {
		n, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, n)
	}
	sort.Ints(ids)
	return ids, nil
}

func sameIDSet(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// enumerateUntilStable lists /proc/<pid>/task repeatedly until two
// consecutive reads agree, per spec.md §4.5's attach() note: "guards
// against races where threads are created during enumeration".
func (p *Process) enumerateUntilStable() ([]int, error) {
	prev, err := p.taskIDs()
	if err != nil {
		return nil, err
	}
	for {
		cur, err := p.taskIDs()
		if err != nil {
			return nil, err
		}
		if sameIDSet(prev, cur) {
			return cur, nil
		}
		prev = cur
	}
}

// Attach performs spec.md §4.5's attach(status): wait the main tid, set
// trace options, enumerate existing threads (skipped for a freshly
// spawned, single-threaded tracee) until the set stabilizes, create a
// Thread for each, and prime each thread's StopInfo.
func (p *Process) Attach(spawned bool) error {
	if !spawned {
		if err := p.backend.Attach(p.pid); err != nil {
			return err
		}
	}

	info, err := p.backend.Wait(ptid.New(p.pid, p.pid))
	if err != nil {
		return err
	}
	if err := p.backend.TraceThat(p.pid); err != nil {
		return err
	}

	if spawned {
		p.addThread(p.pid)
	} else {
		ids, err := p.enumerateUntilStable()
		if err != nil {
			return err
		}
		for _, tid := range ids {
			p.addThread(tid)
		}
	}

	main := p.addThread(p.pid)
	main.UpdateStopInfo(info)
	p.currentThread = main
	return nil
}

// suppressedSignal reports whether signo is one spec.md §4.5's wait()
// always resumes past with the signal suppressed (SIGSTOP, the initial
// group-stop SIGCHLD noise).
func suppressedSignal(signo int) bool {
	return signo == int(unix.SIGSTOP) || signo == int(unix.SIGCHLD)
}

// Wait blocks on the next tracee event, per spec.md §4.5's wait(): exit
// or kill of the main tid terminates the Process; a thread's own exit is
// absorbed by removeThread and the wait loop continues; a passthru or
// SIGSTOP/SIGCHLD signal is silently resumed past; any other stop is
// returned to the caller with currentThread set and StopInfo populated.
func (p *Process) Wait() (ptid.StopInfo, error) {
	if p.terminated {
		return ptid.StopInfo{}, errcode.New(errcode.ProcessNotFound)
	}

	for {
		info, err := p.backend.Wait(ptid.FromPid(p.pid))
		if err != nil {
			return ptid.StopInfo{}, err
		}

		switch info.Event {
		case ptid.EventExit, ptid.EventKill:
			if info.Tid == p.pid {
				p.terminated = true
				if main, ok := p.threads[p.pid]; ok {
					main.UpdateStopInfo(info)
				}
				return info, nil
			}
			p.removeThread(info.Tid)
			continue
		}

		th := p.addThread(info.Tid)

		if info.Reason == ptid.ReasonThreadSpawn && info.NewTid != 0 {
			// S5: the new thread starts Stopped, so the next Resume
			// (which iterates every Stopped/Stepped thread) continues it
			// alongside the reporting parent.
			p.addThread(info.NewTid)
		}

		if info.Event == ptid.EventStop && info.Signal != int(unix.SIGTRAP) {
			if p.passthru[info.Signal] {
				if err := th.Resume(info.Signal, ptid.Address{}); err != nil {
					return ptid.StopInfo{}, err
				}
				continue
			}
			if suppressedSignal(info.Signal) {
				if err := th.Resume(0, ptid.Address{}); err != nil {
					return ptid.StopInfo{}, err
				}
				continue
			}
		}

		th.UpdateStopInfo(info)
		p.currentThread = th
		p.afterResume(th)
		return th.stop, nil
	}
}

// Suspend transitions every Running thread to Stopped, garbage-collects
// Terminated ones, and tolerates a thread that has already gone away,
// per spec.md §4.5's suspend().
func (p *Process) Suspend() error {
	for tid, th := range p.threads {
		switch th.State() {
		case Terminated:
			delete(p.threads, tid)
		case Stopped, Stepped:
			// already not running
		default:
			if err := th.Suspend(); err != nil {
				if code, ok := err.(errcode.Code); ok && code == errcode.ProcessNotFound {
					delete(p.threads, tid)
					continue
				}
				return err
			}
		}
	}
	return nil
}

// beforeResume enables software breakpoints process-wide and hardware
// breakpoints per-thread, per spec.md §4.5's resume() note.
func (p *Process) beforeResume() error {
	if err := p.softwareBP.Enable(); err != nil {
		return err
	}
	for _, th := range p.threads {
		if err := th.BeforeResume(); err != nil {
			return err
		}
	}
	return nil
}

// afterResume, if th stopped on a signal, tests every registered
// breakpoint against its reported PC to populate StopInfo, then disables
// software and hardware breakpoints, per spec.md §4.5's resume() note.
// Hardware hits are tested before Disable because Disable releases the
// debug-register slots Hardware.Hit maps DR6 through.
// It runs once the following wait() has a thread to report, not
// synchronously inside Resume. Hit() itself reports ok=false for any PC
// that isn't a registered site, so this is safe to attempt regardless of
// which trap instruction (SIGTRAP on x86, SIGILL for ARM/Thumb udf)
// delivered the stop.
func (p *Process) afterResume(th *Thread) {
	defer func() {
		p.softwareBP.Disable()
		if p.hardwareBP != nil {
			p.hardwareBP.Disable()
		}
	}()
	if th == nil || th.stop.Event != ptid.EventStop {
		return
	}
	state := p.newState()
	if state == nil {
		return
	}
	if err := th.ReadCPUState(state); err != nil {
		return
	}
	if site, ok := p.softwareBP.Hit(state.PC()); ok {
		breakpoint.FillStopInfo(site, &th.stop)
		return
	}
	if p.hardwareBP != nil {
		if site, ok, err := p.hardwareBP.Hit(th.tid); err == nil && ok {
			breakpoint.FillStopInfo(site, &th.stop)
		}
	}
}

// newState allocates a zero CPUState of the process's architecture, for
// internal bookkeeping reads that don't need to hand the state back to
// a caller.
func (p *Process) newState() arch.State {
	switch p.tag {
	case arch.TagX86:
		return &arch.X86State{}
	case arch.TagX86_64_32, arch.TagX86_64_64:
		return &arch.X86_64State{Is32: p.tag == arch.TagX86_64_32}
	case arch.TagARM:
		return &arch.ARMState{}
	case arch.TagARM64A32:
		return &arch.ARM64State{IsA32: true}
	case arch.TagARM64A64:
		return &arch.ARM64State{}
	default:
		return nil
	}
}

// Resume continues every thread in Stopped/Stepped state not present in
// excluded, bracketed by beforeResume and (on the following Wait)
// afterResume, per spec.md §4.5's resume(signal, excluded).
func (p *Process) Resume(signal int, excluded map[int]bool) error {
	if err := p.beforeResume(); err != nil {
		return err
	}

	for tid, th := range p.threads {
		if excluded != nil && excluded[tid] {
			continue
		}
		switch th.State() {
		case Stopped, Stepped:
			if err := th.Resume(signal, ptid.Address{}); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadString forwards to the backend using the current thread's tid,
// per spec.md §4.5.
func (p *Process) ReadString(address uint64, maxLength int) (string, error) {
	return p.backend.ReadString(p.currentTID(), address, maxLength)
}

// ReadMemory forwards to the backend using the current thread's tid.
func (p *Process) ReadMemory(address uint64, length int) ([]byte, error) {
	return p.backend.ReadMemory(p.currentTID(), address, length)
}

// WriteMemory forwards to the backend using the current thread's tid.
func (p *Process) WriteMemory(address uint64, data []byte) error {
	return p.backend.WriteMemory(p.currentTID(), address, data)
}

func (p *Process) currentTID() int {
	if p.currentThread != nil {
		return p.currentThread.tid
	}
	return p.pid
}

// PrepareForDetach clears all software breakpoints, restoring original
// bytes, before Detach is called, per spec.md §4.5's prepareForDetach().
func (p *Process) PrepareForDetach() error {
	return p.softwareBP.Disable()
}

// Detach detaches from the tracee. Callers should call PrepareForDetach
// first.
func (p *Process) Detach() error {
	return p.backend.Detach(p.pid)
}
