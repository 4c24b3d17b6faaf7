// Package inject implements the CodeInjector (spec.md §4.4): building a
// small machine-code blob that performs a syscall and a trailing trap,
// used to mediate mmap/munmap-based memory allocation in the debuggee.
package inject

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/hostinfo"
	"github.com/ds2go/ds2go/pkg/trace"
)

// Linux x86_64 syscall numbers the injected blobs need.
const (
	sysMmap   = 9
	sysMunmap = 11
)

const (
	mapFailed    = ^uint64(0) // (void*)-1
	mapPrivate   = 0x02
	mapAnonymous = 0x20
)

// Executor is the slice of trace.Backend the injector needs: running a
// blob to completion with guaranteed state/code restoration.
type Executor interface {
	Execute(tid int, code []byte, entry uint64) (trace.ExecResult, error)
}

// Injector builds and runs the per-architecture syscall stub through an
// Executor (normally a trace.Backend).
type Injector struct {
	backend Executor
	tag     arch.Tag
}

// New constructs an Injector for the given architecture.
func New(backend Executor, tag arch.Tag) *Injector {
	return &Injector{backend: backend, tag: tag}
}

func movR64(reg byte, v uint64) []byte {
	buf := make([]byte, 10)
	buf[0] = 0x48
	buf[1] = 0xB8 + reg
	binary.LittleEndian.PutUint64(buf[2:], v)
	return buf
}

func movR64Ext(reg byte, v uint64) []byte {
	buf := make([]byte, 10)
	buf[0] = 0x49
	buf[1] = 0xB8 + reg
	binary.LittleEndian.PutUint64(buf[2:], v)
	return buf
}

// x86_64MmapStub builds: mov rax,9; mov rdi,addr; mov rsi,size;
// mov rdx,prot; mov r10,flags; mov r8,fd; mov r9,off; syscall; int3.
func x86_64MmapStub(addr, size uint64, protection, flags uint32, fd int64, offset uint64) []byte {
	var code []byte
	code = append(code, movR64(0, sysMmap)...)   // rax
	code = append(code, movR64(7, addr)...)      // rdi
	code = append(code, movR64(6, size)...)      // rsi
	code = append(code, movR64(2, uint64(protection))...) // rdx
	code = append(code, movR64Ext(2, uint64(flags))...)    // r10
	code = append(code, movR64Ext(0, uint64(fd))...)       // r8
	code = append(code, movR64Ext(1, offset)...)           // r9
	code = append(code, 0x0F, 0x05)                        // syscall
	code = append(code, 0xCC)                              // int3
	return code
}

// x86_64MunmapStub builds: mov rax,11; mov rdi,addr; mov rsi,size;
// syscall; int3.
func x86_64MunmapStub(addr, size uint64) []byte {
	var code []byte
	code = append(code, movR64(0, sysMunmap)...)
	code = append(code, movR64(7, addr)...)
	code = append(code, movR64(6, size)...)
	code = append(code, 0x0F, 0x05)
	code = append(code, 0xCC)
	return code
}

// armMmapStub builds the equivalent ARM32 EABI syscall sequence: load
// each argument register with a movw/movt pair, svc #0, udf #16.
// r7 carries the syscall number per the Linux ARM EABI convention.
func armMmapStub(addr, size uint64, protection, flags uint32, fd int64, offset uint64) []byte {
	// mov-immediate via mvn/movw+movt is register-width limited on ARM32;
	// since every argument here fits in 32 bits except on LP64 targets
	// (out of scope for ARM32), movw/movt is sufficient.
	var code []byte
	movwMovt := func(reg, v uint32) []byte {
		lo := v & 0xffff
		hi := (v >> 16) & 0xffff
		movw := 0xe3000000 | (reg << 12) | ((lo & 0xf000) << 4) | (lo & 0x0fff)
		movt := 0xe3400000 | (reg << 12) | ((hi & 0xf000) << 4) | (hi & 0x0fff)
		var b [8]byte
		binary.LittleEndian.PutUint32(b[0:4], movw)
		binary.LittleEndian.PutUint32(b[4:8], movt)
		return b[:]
	}
	code = append(code, movwMovt(0, uint32(addr))...)       // r0 = addr
	code = append(code, movwMovt(1, uint32(size))...)       // r1 = size
	code = append(code, movwMovt(2, protection)...)         // r2 = prot
	code = append(code, movwMovt(3, flags)...)               // r3 = flags
	code = append(code, movwMovt(4, uint32(fd))...)          // r4 = fd
	code = append(code, movwMovt(5, uint32(offset))...)      // r5 = offset
	code = append(code, movwMovt(7, 192 /* __NR_mmap2 */)...) // r7 = syscall no
	code = append(code, 0x00, 0x00, 0x00, 0xEF)               // svc #0
	code = append(code, 0xf0, 0x01, 0xf0, 0xe7)               // udf #16
	return code
}

func armMunmapStub(addr, size uint64) []byte {
	var code []byte
	movwMovt := func(reg, v uint32) []byte {
		lo := v & 0xffff
		hi := (v >> 16) & 0xffff
		movw := 0xe3000000 | (reg << 12) | ((lo & 0xf000) << 4) | (lo & 0x0fff)
		movt := 0xe3400000 | (reg << 12) | ((hi & 0xf000) << 4) | (hi & 0x0fff)
		var b [8]byte
		binary.LittleEndian.PutUint32(b[0:4], movw)
		binary.LittleEndian.PutUint32(b[4:8], movt)
		return b[:]
	}
	code = append(code, movwMovt(0, uint32(addr))...)
	code = append(code, movwMovt(1, uint32(size))...)
	code = append(code, movwMovt(7, 91 /* __NR_munmap */)...)
	code = append(code, 0x00, 0x00, 0x00, 0xEF)
	code = append(code, 0xf0, 0x01, 0xf0, 0xe7)
	return code
}

// alignEntry prepends a single nop when pc is 2-byte-aligned but not
// 4-byte-aligned, the Thumb alignment rule from spec.md §4.4.
func alignEntry(entry uint64, code []byte, thumb bool) (uint64, []byte) {
	if thumb && entry%4 == 2 {
		return entry - 2, append([]byte{0x00, 0xBF}, code...) // nop ; <code>
	}
	return entry, code
}

// AllocateMemory runs an mmap(NULL, size, protection,
// MAP_PRIVATE|MAP_ANONYMOUS, -1, 0) stub on tid at entry, per spec.md
// §4.4's allocateMemory.
func (in *Injector) AllocateMemory(tid int, entry uint64, thumb bool, size uint64, protection uint32) (uint64, error) {
	size = uint64(hostinfo.PageAlign(int(size)))
	flags := uint32(mapPrivate | mapAnonymous)
	var code []byte
	switch in.tag {
	case arch.TagX86_64_64, arch.TagX86_64_32, arch.TagX86:
		code = x86_64MmapStub(0, size, protection, flags, -1, 0)
	case arch.TagARM, arch.TagARM64A32:
		code = armMmapStub(0, size, protection, flags, -1, 0)
	default:
		return 0, errcode.New(errcode.Unsupported)
	}
	runAt, runCode := alignEntry(entry, code, thumb)

	result, err := in.backend.Execute(tid, runCode, runAt)
	if err != nil {
		return 0, err
	}
	if result.Retval == mapFailed {
		return 0, errcode.New(errcode.NoMemory)
	}
	if int64(result.Retval) < 0 {
		return 0, errcode.New(errcode.FromErrno(unix.Errno(-int64(result.Retval))))
	}
	return result.Retval, nil
}

// DeallocateMemory runs a munmap(address, size) stub on tid at entry,
// per spec.md §4.4's deallocateMemory.
func (in *Injector) DeallocateMemory(tid int, entry uint64, thumb bool, address, size uint64) error {
	size = uint64(hostinfo.PageAlign(int(size)))
	var code []byte
	switch in.tag {
	case arch.TagX86_64_64, arch.TagX86_64_32, arch.TagX86:
		code = x86_64MunmapStub(address, size)
	case arch.TagARM, arch.TagARM64A32:
		code = armMunmapStub(address, size)
	default:
		return errcode.New(errcode.Unsupported)
	}
	runAt, runCode := alignEntry(entry, code, thumb)

	result, err := in.backend.Execute(tid, runCode, runAt)
	if err != nil {
		return err
	}
	if int64(result.Retval) < 0 {
		return errcode.New(errcode.InvalidArgument)
	}
	return nil
}
