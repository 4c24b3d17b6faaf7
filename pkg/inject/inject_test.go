package inject

import (
	"testing"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/trace"
)

type fakeExecutor struct {
	lastCode  []byte
	lastEntry uint64
	retval    uint64
}

func (f *fakeExecutor) Execute(tid int, code []byte, entry uint64) (trace.ExecResult, error) {
	f.lastCode = code
	f.lastEntry = entry
	return trace.ExecResult{Retval: f.retval, ExitedOK: true}, nil
}

func TestAllocateMemorySuccess(t *testing.T) {
	exec := &fakeExecutor{retval: 0x7f0000000000}
	inj := New(exec, arch.TagX86_64_64)

	addr, err := inj.AllocateMemory(1, 0x400000, false, 4096, 0x3)
	if err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	if addr != 0x7f0000000000 {
		t.Fatalf("addr = %#x, want 0x7f0000000000", addr)
	}
	if exec.lastEntry != 0x400000 {
		t.Fatalf("entry = %#x, want 0x400000", exec.lastEntry)
	}
	// mov rax, 9 (sysMmap) should be the first 10 bytes.
	if len(exec.lastCode) < 10 || exec.lastCode[0] != 0x48 || exec.lastCode[1] != 0xB8 {
		t.Fatalf("stub does not start with mov rax,imm64: %x", exec.lastCode)
	}
}

func TestAllocateMemoryMapFailed(t *testing.T) {
	exec := &fakeExecutor{retval: mapFailed}
	inj := New(exec, arch.TagX86_64_64)

	if _, err := inj.AllocateMemory(1, 0x400000, false, 4096, 0x3); err == nil {
		t.Fatal("expected NoMemory error on MAP_FAILED")
	}
}

func TestThumbAlignmentPrependsNop(t *testing.T) {
	exec := &fakeExecutor{retval: 0x1000}
	inj := New(exec, arch.TagARM)

	// entry 2-byte-aligned but not 4-byte-aligned.
	if _, err := inj.AllocateMemory(1, 0x1002, true, 4096, 0x3); err != nil {
		t.Fatalf("AllocateMemory: %v", err)
	}
	if exec.lastEntry != 0x1000 {
		t.Fatalf("entry = %#x, want 0x1000 (backed up to 4-byte alignment)", exec.lastEntry)
	}
	if exec.lastCode[0] != 0x00 || exec.lastCode[1] != 0xBF {
		t.Fatalf("expected a leading Thumb nop, got %x", exec.lastCode[:2])
	}
}

func TestDeallocateMemoryErrno(t *testing.T) {
	exec := &fakeExecutor{retval: uint64(int64(-22))} // -EINVAL
	inj := New(exec, arch.TagX86_64_64)

	if err := inj.DeallocateMemory(1, 0x400000, false, 0x1000, 4096); err == nil {
		t.Fatal("expected an error on negative errno return")
	}
}
