//go:build linux

package trace

import (
	"bytes"

	"golang.org/x/sys/unix"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/breakpoint"
	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/ptid"
)

// x86_64 struct user's u_debugreg[8] offset, per the glibc/kernel ABI
// (the same constant gdb and lldb hardcode for PTRACE_PEEKUSER access
// to DR0-DR7, since the kernel does not expose it through a named
// ptrace request on x86).
const x86_64DebugRegOffset = 848

// Linux implements Backend over direct ptrace(2) calls via
// golang.org/x/sys/unix, grounded on gvisor's ptrace subprocess (the
// attach/wait/detach/getRegs shape) generalized from a tracing sandbox
// to an interactive debug server.
type Linux struct{}

var _ Backend = Linux{}

func wrapErrno(err error) error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(unix.Errno); ok {
		return errcode.New(errcode.FromErrno(errno))
	}
	return err
}

func (Linux) Attach(pid int) error {
	return withRetry(func() error { return wrapErrno(unix.PtraceAttach(pid)) })
}

func (Linux) Detach(pid int) error {
	return withRetry(func() error { return wrapErrno(unix.PtraceDetach(pid)) })
}

// TraceMe requests tracing of self and, when disableASLR is true, sets
// ADDR_NO_RANDOMIZE in the calling process's personality(2), which turns
// address-space randomization off. Per spec.md §4.1, failure to disable
// ASLR is not fatal: personality(2) errors are ignored.
func (Linux) TraceMe(disableASLR bool) error {
	if err := unix.PtraceTraceme(); err != nil {
		return wrapErrno(err)
	}
	if disableASLR {
		const addrNoRandomize = 0x0040000 // ADDR_NO_RANDOMIZE, <linux/personality.h>
		// 0xffffffff queries the current persona without changing it.
		persona, _, errno := unix.RawSyscall(unix.SYS_PERSONALITY, 0xffffffff, 0, 0)
		if errno == 0 {
			_, _, _ = unix.RawSyscall(unix.SYS_PERSONALITY, persona|addrNoRandomize, 0, 0)
		}
	}
	return nil
}

func (Linux) TraceThat(pid int) error {
	opts := unix.PTRACE_O_TRACECLONE | unix.PTRACE_O_TRACEFORK | unix.PTRACE_O_TRACEVFORK | unix.PTRACE_O_TRACEEXIT
	return wrapErrno(unix.PtraceSetOptions(pid, opts))
}

// Wait blocks for the next event belonging to id's process, matching
// __WALL semantics, and classifies it into a StopInfo.
func (l Linux) Wait(id ptid.PTID) (ptid.StopInfo, error) {
	info := ptid.NewStopInfo()
	var status unix.WaitStatus
	waitPid := id.Pid
	if !id.ValidTid() {
		waitPid = -1 * id.Pid // wait for any thread in the process group's leader
		if waitPid == 0 {
			waitPid = id.Pid
		}
	}
	tid, err := unix.Wait4(waitPid, &status, unix.WALL, nil)
	if err != nil {
		if err == unix.ECHILD || err == unix.ESRCH {
			return info, errcode.New(errcode.ProcessNotFound)
		}
		return info, wrapErrno(err)
	}
	info.Tid = tid

	switch {
	case status.Exited():
		info.Event = ptid.EventExit
		info.Status = status.ExitStatus()
	case status.Signaled():
		info.Event = ptid.EventKill
		info.Signal = int(status.Signal())
	case status.Stopped():
		info.Event = ptid.EventStop
		info.Signal = int(status.StopSignal())
		info.Reason = ptid.ReasonSignalStop
		if info.Signal == int(unix.SIGTRAP) {
			info.Reason = ptid.ReasonTrap
			switch status.TrapCause() {
			case unix.PTRACE_EVENT_CLONE, unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
				info.Reason = ptid.ReasonThreadSpawn
				if msg, err := l.GetEventMessage(tid); err == nil {
					info.NewTid = int(msg)
				}
			}
		}
	}
	return info, nil
}

func (Linux) Kill(id ptid.PTID, signal int) error {
	target := id.Pid
	if id.ValidTid() {
		return wrapErrno(unix.Tgkill(id.Pid, id.Tid, unix.Signal(signal)))
	}
	return wrapErrno(unix.Kill(target, unix.Signal(signal)))
}

const wordSize = 8

// ReadMemory transfers length bytes starting at address via word-sized
// PEEKTEXT, with a read-modify-write tail for the final partial word,
// per spec.md §4.1.
func (Linux) ReadMemory(tid int, address uint64, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	addr := uintptr(address)
	remaining := length
	for remaining > 0 {
		var word [wordSize]byte
		n, err := unix.PtracePeekData(tid, addr, word[:])
		if err != nil {
			return nil, wrapErrno(err)
		}
		take := remaining
		if take > n {
			take = n
		}
		out = append(out, word[:take]...)
		addr += wordSize
		remaining -= take
	}
	return out, nil
}

// WriteMemory transfers data via word-sized POKETEXT, read-modify-write
// on the final partial word so neighboring bytes are not clobbered.
func (Linux) WriteMemory(tid int, address uint64, data []byte) error {
	addr := uintptr(address)
	remaining := data
	for len(remaining) > 0 {
		if len(remaining) >= wordSize {
			if _, err := unix.PtracePokeData(tid, addr, remaining[:wordSize]); err != nil {
				return wrapErrno(err)
			}
			addr += wordSize
			remaining = remaining[wordSize:]
			continue
		}
		var existing [wordSize]byte
		if _, err := unix.PtracePeekData(tid, addr, existing[:]); err != nil {
			return wrapErrno(err)
		}
		copy(existing[:], remaining)
		if _, err := unix.PtracePokeData(tid, addr, existing[:]); err != nil {
			return wrapErrno(err)
		}
		remaining = nil
	}
	return nil
}

// ReadString copies at most maxLength bytes starting at address,
// stopping at the first NUL; fails with NameTooLong if none is found.
func (l Linux) ReadString(tid int, address uint64, maxLength int) (string, error) {
	const chunk = 64
	var buf []byte
	for len(buf) < maxLength {
		n := chunk
		if len(buf)+n > maxLength {
			n = maxLength - len(buf)
		}
		b, err := l.ReadMemory(tid, address+uint64(len(buf)), n)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(b, 0); i >= 0 {
			return string(append(buf, b[:i]...)), nil
		}
		buf = append(buf, b...)
	}
	return "", errcode.New(errcode.NameTooLong)
}

// ReadCPUState fully overwrites state from the kernel's register file.
// Only the x86_64 variant is implemented; other Tags fail Unsupported.
func (Linux) ReadCPUState(tid int, state arch.State) error {
	s, ok := state.(*arch.X86_64State)
	if !ok {
		return errcode.New(errcode.Unsupported)
	}
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return wrapErrno(err)
	}
	copyFromPtraceRegs(s, &regs)
	return nil
}

// WriteCPUState pushes state back to the kernel. Callers needing a
// partial update must read-modify-write via a helper in pkg/proc.
func (Linux) WriteCPUState(tid int, state arch.State) error {
	s, ok := state.(*arch.X86_64State)
	if !ok {
		return errcode.New(errcode.Unsupported)
	}
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return wrapErrno(err)
	}
	copyToPtraceRegs(&regs, s)
	return wrapErrno(unix.PtraceSetRegs(tid, &regs))
}

// Step performs PTRACE_SINGLESTEP, optionally patching PC first when
// address is given; the kernel arms EFLAGS.TF for the step itself, so
// neither Step nor its caller sets it.
func (l Linux) Step(tid int, signal int, address ptid.Address) error {
	if address.Valid() {
		if err := l.patchPC(tid, address.Value()); err != nil {
			return err
		}
	}
	return withRetry(func() error { return wrapErrno(unix.PtraceSingleStep(tid)) })
}

func (l Linux) Resume(tid int, signal int, address ptid.Address) error {
	if address.Valid() {
		if err := l.patchPC(tid, address.Value()); err != nil {
			return err
		}
	}
	return withRetry(func() error { return wrapErrno(unix.PtraceCont(tid, signal)) })
}

func (l Linux) patchPC(tid int, pc uint64) error {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return wrapErrno(err)
	}
	regs.Rip = pc
	return wrapErrno(unix.PtraceSetRegs(tid, &regs))
}

func (Linux) Suspend(tid int) error {
	return wrapErrno(unix.Tgkill(tid, tid, unix.SIGSTOP))
}

func (Linux) GetSigInfo(tid int) (SigInfo, error) {
	raw, err := unix.PtraceGetSiginfo(tid)
	if err != nil {
		return SigInfo{}, wrapErrno(err)
	}
	return SigInfo{Signal: int(raw.Signo), Code: int(raw.Code)}, nil
}

func (Linux) GetEventMessage(tid int) (uint64, error) {
	msg, err := unix.PtraceGetEventMsg(tid)
	if err != nil {
		return 0, wrapErrno(err)
	}
	return uint64(msg), nil
}

// ReadDebugRegisters reads DR0-DR3/DR6/DR7 via PTRACE_PEEKUSER at the
// kernel's struct user layout offset.
func (Linux) ReadDebugRegisters(tid int) (breakpoint.DebugRegisters, error) {
	var out breakpoint.DebugRegisters
	for i := 0; i < 4; i++ {
		v, err := peekUserWord(tid, x86_64DebugRegOffset+i*wordSize)
		if err != nil {
			return out, err
		}
		out.Addr[i] = v
	}
	dr6, err := peekUserWord(tid, x86_64DebugRegOffset+6*wordSize)
	if err != nil {
		return out, err
	}
	out.DR6 = dr6
	dr7, err := peekUserWord(tid, x86_64DebugRegOffset+7*wordSize)
	if err != nil {
		return out, err
	}
	out.DR7 = dr7
	return out, nil
}

func (Linux) WriteDebugRegisters(tid int, regs breakpoint.DebugRegisters) error {
	for i := 0; i < 4; i++ {
		if err := pokeUserWord(tid, x86_64DebugRegOffset+i*wordSize, regs.Addr[i]); err != nil {
			return err
		}
	}
	if err := pokeUserWord(tid, x86_64DebugRegOffset+6*wordSize, regs.DR6); err != nil {
		return err
	}
	return pokeUserWord(tid, x86_64DebugRegOffset+7*wordSize, regs.DR7)
}

func peekUserWord(tid int, offset int) (uint64, error) {
	var word [wordSize]byte
	if _, err := unix.PtracePeekUser(tid, uintptr(offset), word[:]); err != nil {
		return 0, wrapErrno(err)
	}
	return leUint64(word[:]), nil
}

func pokeUserWord(tid int, offset int, v uint64) error {
	var word [wordSize]byte
	putLeUint64(word[:], v)
	_, err := unix.PtracePokeUser(tid, uintptr(offset), word[:])
	return wrapErrno(err)
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// Execute runs the injected blob on tid, per spec.md §4.4/§4.7: save
// state and the bytes under entry, write the blob, run to its trailing
// trap, read back the return value register, then unconditionally
// restore both state and bytes.
func (l Linux) Execute(tid int, code []byte, entry uint64) (ExecResult, error) {
	var saved unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &saved); err != nil {
		return ExecResult{}, wrapErrno(err)
	}
	savedBytes, err := l.ReadMemory(tid, entry, len(code))
	if err != nil {
		return ExecResult{}, err
	}

	// kill is the best-effort safety net spec.md §4.7 step 7 requires:
	// once the code blob below has been written over entry, the
	// tracee's text is mutated, and any failure from here on leaves its
	// state possibly inconsistent — continuing is unsafe, so every
	// failure path kills the tracee in addition to attempting restore.
	kill := func() { _ = unix.Tgkill(tid, tid, unix.SIGKILL) }

	restore := func() error {
		if err := l.WriteMemory(tid, entry, savedBytes); err != nil {
			kill()
			return err
		}
		if err := unix.PtraceSetRegs(tid, &saved); err != nil {
			kill()
			return wrapErrno(err)
		}
		return nil
	}

	if err := l.WriteMemory(tid, entry, code); err != nil {
		kill()
		_ = restore()
		return ExecResult{}, err
	}

	regs := saved
	regs.Rip = entry
	if err := unix.PtraceSetRegs(tid, &regs); err != nil {
		kill()
		_ = restore()
		return ExecResult{}, wrapErrno(err)
	}

	if err := unix.PtraceCont(tid, 0); err != nil {
		kill()
		_ = restore()
		return ExecResult{}, wrapErrno(err)
	}
	var status unix.WaitStatus
	if _, err := unix.Wait4(tid, &status, 0, nil); err != nil {
		kill()
		_ = restore()
		return ExecResult{}, wrapErrno(err)
	}

	var after unix.PtraceRegs
	getErr := unix.PtraceGetRegs(tid, &after)
	if getErr != nil {
		kill()
	}

	result := ExecResult{ExitedOK: status.Stopped() && status.StopSignal() == unix.SIGTRAP}
	if getErr == nil {
		result.Retval = after.Rax
	}

	if err := restore(); err != nil {
		return result, err
	}
	if getErr != nil {
		return result, wrapErrno(getErr)
	}
	return result, nil
}

func copyFromPtraceRegs(s *arch.X86_64State, r *unix.PtraceRegs) {
	s.GP[arch.RegRAX] = r.Rax
	s.GP[arch.RegRBX] = r.Rbx
	s.GP[arch.RegRCX] = r.Rcx
	s.GP[arch.RegRDX] = r.Rdx
	s.GP[arch.RegRDI] = r.Rdi
	s.GP[arch.RegRSI] = r.Rsi
	s.GP[arch.RegRBP] = r.Rbp
	s.GP[arch.RegRSP] = r.Rsp
	s.GP[arch.RegR8] = r.R8
	s.GP[arch.RegR9] = r.R9
	s.GP[arch.RegR10] = r.R10
	s.GP[arch.RegR11] = r.R11
	s.GP[arch.RegR12] = r.R12
	s.GP[arch.RegR13] = r.R13
	s.GP[arch.RegR14] = r.R14
	s.GP[arch.RegR15] = r.R15
	s.GP[arch.RegRIP] = r.Rip
	s.GP[arch.RegEFLAGS] = r.Eflags
}

func copyToPtraceRegs(r *unix.PtraceRegs, s *arch.X86_64State) {
	r.Rax = s.GP[arch.RegRAX]
	r.Rbx = s.GP[arch.RegRBX]
	r.Rcx = s.GP[arch.RegRCX]
	r.Rdx = s.GP[arch.RegRDX]
	r.Rdi = s.GP[arch.RegRDI]
	r.Rsi = s.GP[arch.RegRSI]
	r.Rbp = s.GP[arch.RegRBP]
	r.Rsp = s.GP[arch.RegRSP]
	r.R8 = s.GP[arch.RegR8]
	r.R9 = s.GP[arch.RegR9]
	r.R10 = s.GP[arch.RegR10]
	r.R11 = s.GP[arch.RegR11]
	r.R12 = s.GP[arch.RegR12]
	r.R13 = s.GP[arch.RegR13]
	r.R14 = s.GP[arch.RegR14]
	r.R15 = s.GP[arch.RegR15]
	r.Rip = s.GP[arch.RegRIP]
	r.Eflags = s.GP[arch.RegEFLAGS]
}
