package breakpoint

import (
	"testing"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/ptid"
)

// fakeMemory is an in-process stand-in for a TraceBackend's memory I/O,
// used to exercise the Software manager without a real tracee.
type fakeMemory struct {
	data map[uint64]byte
}

func newFakeMemory(base uint64, n int) *fakeMemory {
	m := &fakeMemory{data: make(map[uint64]byte)}
	for i := 0; i < n; i++ {
		m.data[base+uint64(i)] = 0x90 // NOP filler
	}
	return m
}

func (m *fakeMemory) ReadMemory(tid int, address uint64, length int) ([]byte, error) {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = m.data[address+uint64(i)]
	}
	return out, nil
}

func (m *fakeMemory) WriteMemory(tid int, address uint64, data []byte) error {
	for i, b := range data {
		m.data[address+uint64(i)] = b
	}
	return nil
}

// TestSoftwareBreakpointRoundTrip covers spec.md's S1 scenario: add an
// x86_64 exec breakpoint, observe the trap opcode installed, hit it,
// remove it, and observe the original byte restored.
func TestSoftwareBreakpointRoundTrip(t *testing.T) {
	mem := newFakeMemory(0x1000, 16)
	sw := NewSoftware(1234, arch.TagX86_64_64, false, mem)

	if err := sw.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	addr := ptid.NewAddress(0x1004)
	if err := sw.Add(addr, Permanent, 1, ModeExec); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !sw.Has(addr) {
		t.Fatal("Has reports false after Add")
	}
	if got := mem.data[0x1004]; got != 0xCC {
		t.Fatalf("trap byte = %#x, want 0xCC", got)
	}

	site, ok := sw.Hit(0x1005) // reported PC is one past the trap on x86
	if !ok {
		t.Fatal("Hit reported no site")
	}
	if site.Address.Value() != 0x1004 {
		t.Fatalf("Hit site address = %#x, want 0x1004", site.Address.Value())
	}

	var info ptid.StopInfo
	FillStopInfo(site, &info)
	if info.Reason != ptid.ReasonBreakpoint {
		t.Fatalf("FillStopInfo Reason = %v, want ReasonBreakpoint", info.Reason)
	}

	if err := sw.Remove(addr); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if sw.Has(addr) {
		t.Fatal("Has reports true after Remove")
	}
	if got := mem.data[0x1004]; got != 0x90 {
		t.Fatalf("byte after Remove = %#x, want restored 0x90", got)
	}
}

// TestSoftwareBreakpointOneShotPurgedOnDisable covers the
// TemporaryOneShot lifetime: a one-shot site must disappear once
// Disable runs, without an explicit Remove.
func TestSoftwareBreakpointOneShotPurgedOnDisable(t *testing.T) {
	mem := newFakeMemory(0x2000, 8)
	sw := NewSoftware(1, arch.TagX86_64_64, false, mem)
	if err := sw.Enable(); err != nil {
		t.Fatal(err)
	}

	addr := ptid.NewAddress(0x2000)
	if err := sw.Add(addr, TemporaryOneShot, 1, ModeExec); err != nil {
		t.Fatal(err)
	}
	if !sw.Has(addr) {
		t.Fatal("expected site registered")
	}

	if err := sw.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if sw.Has(addr) {
		t.Fatal("one-shot site survived Disable")
	}
}

// TestPermanentSiteRefCounting covers spec.md's invariant that a
// Permanent site is only actually removed once its reference count
// drops to zero.
func TestPermanentSiteRefCounting(t *testing.T) {
	mem := newFakeMemory(0x3000, 8)
	sw := NewSoftware(1, arch.TagX86_64_64, false, mem)
	if err := sw.Enable(); err != nil {
		t.Fatal(err)
	}

	addr := ptid.NewAddress(0x3000)
	if err := sw.Add(addr, Permanent, 1, ModeExec); err != nil {
		t.Fatal(err)
	}
	if err := sw.Add(addr, Permanent, 1, ModeExec); err != nil {
		t.Fatal(err)
	}

	if err := sw.Remove(addr); err != nil {
		t.Fatalf("first Remove: %v", err)
	}
	if !sw.Has(addr) {
		t.Fatal("site removed after first Remove, want it to survive one more ref")
	}

	if err := sw.Remove(addr); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if sw.Has(addr) {
		t.Fatal("site survived second Remove")
	}
}

// fakeDebugRegisters is an in-process DebugRegisterIO stand-in mirroring
// a single shared DR file across however many tids are asked for, since
// the test only exercises the bit algorithm, not per-thread divergence.
type fakeDebugRegisters struct {
	regs DebugRegisters
}

func (f *fakeDebugRegisters) ReadDebugRegisters(tid int) (DebugRegisters, error) {
	return f.regs, nil
}

func (f *fakeDebugRegisters) WriteDebugRegisters(tid int, regs DebugRegisters) error {
	f.regs = regs
	return nil
}

// TestHardwareWatchpointRoundTrip covers spec.md's S3 scenario's
// hardware-capable path: program a write watchpoint into DR0/DR7, then
// disable it and confirm the global-enable bit (G0) clears.
func TestHardwareWatchpointRoundTrip(t *testing.T) {
	fake := &fakeDebugRegisters{}
	mem := newFakeMemory(0x5000, 16)
	hw := NewHardware(arch.TagX86_64_64, fake, mem, func() []int { return []int{42} })
	if err := hw.Enable(); err != nil {
		t.Fatal(err)
	}

	addr := ptid.NewAddress(0x5000)
	if err := hw.Add(addr, Permanent, 4, ModeWrite); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if fake.regs.Addr[0] != 0x5000 {
		t.Fatalf("DR0 = %#x, want 0x5000", fake.regs.Addr[0])
	}
	if fake.regs.DR7&(1<<1) == 0 {
		t.Fatal("DR7 G0 (bit 1) not set")
	}

	fake.regs.DR6 = 1 // simulate the slot-0 trap indicator
	site, ok, err := hw.Hit(42)
	if err != nil {
		t.Fatalf("Hit: %v", err)
	}
	if !ok || site.Address.Value() != 0x5000 {
		t.Fatalf("Hit = %+v, %v, want site at 0x5000", site, ok)
	}

	if err := hw.Remove(addr); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fake.regs.DR7&(1<<1) != 0 {
		t.Fatal("DR7 G0 (bit 1) still set after Remove")
	}
}

// TestHardwareReadWatchpointEmulation covers spec.md's S3 scenario: a
// ModeRead add is promoted to ModeReadWrite (x86 has no break-on-read
// condition), a write changes the watched memory and is suppressed, and
// a later read (memory unchanged) is reported with ReasonReadWatchpoint.
func TestHardwareReadWatchpointEmulation(t *testing.T) {
	fake := &fakeDebugRegisters{}
	mem := newFakeMemory(0x7000, 16)
	hw := NewHardware(arch.TagX86_64_64, fake, mem, func() []int { return []int{7} })
	if err := hw.Enable(); err != nil {
		t.Fatal(err)
	}

	addr := ptid.NewAddress(0x7000)
	if err := hw.Add(addr, Permanent, 4, ModeRead); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if fake.regs.DR7&(0x3<<16) != dr7CondRW<<16 {
		t.Fatalf("DR7 slot-0 condition = %#x, want read|write encoding", fake.regs.DR7&(0xf<<16))
	}

	// A write changes memory: Hit must suppress it.
	if err := mem.WriteMemory(7, 0x7000, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	fake.regs.DR6 = 1
	site, ok, err := hw.Hit(7)
	if err != nil {
		t.Fatalf("Hit (write): %v", err)
	}
	if ok {
		t.Fatalf("Hit (write) = %+v, %v, want suppressed", site, ok)
	}

	// A read leaves memory unchanged: Hit must report it as a read watchpoint.
	site, ok, err = hw.Hit(7)
	if err != nil {
		t.Fatalf("Hit (read): %v", err)
	}
	if !ok || site.Address.Value() != 0x7000 {
		t.Fatalf("Hit (read) = %+v, %v, want site at 0x7000", site, ok)
	}
	var info ptid.StopInfo
	FillStopInfo(site, &info)
	if info.Reason != ptid.ReasonReadWatchpoint {
		t.Fatalf("Reason = %v, want ReadWatchpoint", info.Reason)
	}
}

// TestAddRejectsIllegalSizeBeforeEnable covers spec.md §4.2 step 1 of
// add(): an architecture-illegal size must be rejected by isValid
// immediately, even on a manager that has never had Enable called, per
// §3's invariants (a)/(b).
func TestAddRejectsIllegalSizeBeforeEnable(t *testing.T) {
	mem := newFakeMemory(0x1000, 16)
	sw := NewSoftware(1234, arch.TagX86_64_64, false, mem)
	// x86 exec breakpoints are always 1 byte; 5 is architecture-illegal.
	if err := sw.Add(ptid.NewAddress(0x1000), Permanent, 5, ModeExec); err == nil {
		t.Fatal("Add with illegal exec size = nil error, want rejection")
	}

	fake := &fakeDebugRegisters{}
	hw := NewHardware(arch.TagX86_64_64, fake, mem, func() []int { return []int{1} })
	// Hardware watchpoint sizes must be one of {1,2,4,8}; 3 is illegal.
	if err := hw.Add(ptid.NewAddress(0x2000), Permanent, 3, ModeWrite); err == nil {
		t.Fatal("Add with illegal watchpoint size = nil error, want rejection")
	}
	// Misaligned watchpoint address for a 4-byte size must be rejected.
	if err := hw.Add(ptid.NewAddress(0x2001), Permanent, 4, ModeWrite); err == nil {
		t.Fatal("Add with misaligned watchpoint address = nil error, want rejection")
	}
}
