package breakpoint

import (
	"bytes"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/ptid"
)

// x86 DR7 length/condition encodings, per spec.md §4.2's "x86 slot
// programming" paragraph.
const (
	dr7CondExec  = 0x0
	dr7CondWrite = 0x1
	dr7CondIO    = 0x2
	dr7CondRW    = 0x3

	dr7Len1 = 0x0
	dr7Len2 = 0x1
	dr7Len8 = 0x2
	dr7Len4 = 0x3

	numX86Slots = 4
)

// DebugRegisterIO is the slice of TraceBackend a hardware breakpoint
// manager needs: the per-thread debug register file, per spec.md
// §4.1's readDebugRegisters/writeDebugRegisters.
type DebugRegisterIO interface {
	ReadDebugRegisters(tid int) (DebugRegisters, error)
	WriteDebugRegisters(tid int, regs DebugRegisters) error
}

// DebugRegisters is the x86 DR0-DR3/DR6/DR7 file. ARM/ARM64 hardware
// breakpoints use a different register set (BVR/BCR/WVR/WCR via
// PTRACE_GETHBPREGS) and are not yet modeled; see Hardware's doc
// comment.
type DebugRegisters struct {
	Addr [numX86Slots]uint64
	DR6  uint64
	DR7  uint64
}

// Hardware is the debug-register-programming breakpoint/watchpoint
// manager, per spec.md §4.2. Only the x86/x86_64 DR7 slot algorithm is
// implemented; for ARM/ARM64 tags ValidateSize, ChooseBreakpointSize and
// EnableLocation return Unsupported.
type Hardware struct {
	Manager

	regs DebugRegisterIO
	mem  MemoryIO
	tag  arch.Tag
	tids func() []int

	enabled bool
	slotOf  map[uint64]int

	// readEmulated marks addresses that were added as ModeRead and
	// promoted to ModeReadWrite, per spec.md §4.2's "Hardware
	// stoppoints" read-watchpoint-emulation note (x86 has no
	// break-on-read-only condition, only break-on-write or
	// break-on-read-or-write). Hit uses this to tell a genuine
	// read|write access watchpoint (report every trap) apart from an
	// emulated read watchpoint (suppress traps where memory changed,
	// since those were writes, not reads).
	readEmulated map[uint64]bool
}

var _ Installer = (*Hardware)(nil)

// NewHardware constructs a Hardware manager. tids returns every thread
// id debug registers must be mirrored to (hardware breakpoints are
// per-thread on Linux, but spec.md treats a Process's breakpoints as
// process-wide, so writes fan out to all threads). mem supplies the
// memory reads the read-watchpoint emulation needs.
func NewHardware(tag arch.Tag, regs DebugRegisterIO, mem MemoryIO, tids func() []int) *Hardware {
	h := &Hardware{
		regs:         regs,
		mem:          mem,
		tag:          tag,
		tids:         tids,
		slotOf:       make(map[uint64]int),
		readEmulated: make(map[uint64]bool),
	}
	h.Manager = newManager(h)
	return h
}

// Add registers a hardware breakpoint/watchpoint site, per spec.md
// §4.2's add(): a ModeRead request is promoted to ModeReadWrite before
// it reaches the base registry/EnableLocation, and its initial memory
// value is captured for Hit's change-detection, per the S3 scenario.
func (h *Hardware) Add(address ptid.Address, lifetime Lifetime, size int, mode Mode) error {
	promoted := mode == ModeRead
	if promoted {
		mode = ModeReadWrite
	}
	if err := h.Manager.Add(address, lifetime, size, mode); err != nil {
		return err
	}
	if !promoted {
		return nil
	}
	h.readEmulated[address.Value()] = true
	tids := h.tids()
	if len(tids) == 0 {
		return nil
	}
	val, err := h.mem.ReadMemory(tids[0], address.Value(), size)
	if err != nil {
		return err
	}
	if site, ok := h.Manager.siteAt(address); ok {
		site.PriorValue = val
	}
	return nil
}

// Remove unregisters a site, clearing its read-watchpoint-emulation
// bookkeeping along with it.
func (h *Hardware) Remove(address ptid.Address) error {
	if err := h.Manager.Remove(address); err != nil {
		return err
	}
	delete(h.readEmulated, address.Value())
	return nil
}

func (h *Hardware) ChooseBreakpointSize(mode Mode) (int, error) {
	switch h.tag {
	case arch.TagX86, arch.TagX86_64_32, arch.TagX86_64_64:
		return 4, nil
	default:
		return 0, errcode.New(errcode.Unsupported)
	}
}

// ValidateSize rejects an (mode, size) pair before it ever reaches
// EnableLocation, per spec.md §3's invariant (b): only x86/x86_64 are
// modeled (ARM/ARM64 HBP register protocols are not implemented, see
// the Hardware doc comment), and size must be one of the DR7 LEN
// encodings {1,2,4,8} that lengthEncoding knows. Natural alignment is
// checked by the caller (Manager.isValid), since it does not depend on
// the architecture.
func (h *Hardware) ValidateSize(mode Mode, size int) error {
	if h.tag != arch.TagX86 && h.tag != arch.TagX86_64_32 && h.tag != arch.TagX86_64_64 {
		return errcode.New(errcode.Unsupported)
	}
	if _, err := lengthEncoding(size); err != nil {
		return err
	}
	return nil
}

func (h *Hardware) Enabled(thread Thread) bool { return h.enabled }

func lengthEncoding(size int) (uint64, error) {
	switch size {
	case 1:
		return dr7Len1, nil
	case 2:
		return dr7Len2, nil
	case 4:
		return dr7Len4, nil
	case 8:
		return dr7Len8, nil
	default:
		return 0, errcode.New(errcode.InvalidArgument)
	}
}

func condEncoding(mode Mode) (uint64, error) {
	switch mode {
	case ModeExec:
		return dr7CondExec, nil
	case ModeWrite:
		return dr7CondWrite, nil
	case ModeReadWrite:
		return dr7CondRW, nil
	default:
		return 0, errcode.New(errcode.Unsupported)
	}
}

func (h *Hardware) freeSlot() (int, error) {
	used := make(map[int]bool, numX86Slots)
	for _, slot := range h.slotOf {
		used[slot] = true
	}
	for i := 0; i < numX86Slots; i++ {
		if !used[i] {
			return i, nil
		}
	}
	return 0, errcode.New(errcode.Busy)
}

// EnableLocation programs one DR0-3/DR7 slot across every thread in
// the process, following spec.md §4.2's x86 slot programming: take a
// free slot i, set DRi=address, clear DR6, set the slot's len/cond bits
// in DR7 and set G_i, the slot's global-enable bit.
func (h *Hardware) EnableLocation(site *Site, thread Thread) error {
	if h.tag != arch.TagX86 && h.tag != arch.TagX86_64_32 && h.tag != arch.TagX86_64_64 {
		return errcode.New(errcode.Unsupported)
	}
	slot, err := h.freeSlot()
	if err != nil {
		return err
	}
	var lenBits uint64
	if site.Mode == ModeExec {
		lenBits = dr7Len1 // exec-mode stoppoints always set LEN=00
	} else {
		var err error
		lenBits, err = lengthEncoding(site.Size)
		if err != nil {
			return err
		}
	}
	condBits, err := condEncoding(site.Mode)
	if err != nil {
		return err
	}

	for _, tid := range h.tids() {
		regs, err := h.regs.ReadDebugRegisters(tid)
		if err != nil {
			return err
		}
		regs.Addr[slot] = site.Address.Value()
		regs.DR6 = 0
		regs.DR7 |= 1 << uint(2*slot+1)                             // G_i, global-enable bit
		regs.DR7 &^= 0xf << uint(16+slot*4)                         // clear this slot's len/cond nibble
		regs.DR7 |= (condBits | (lenBits << 2)) << uint(16+slot*4)  // set len/cond nibble
		if err := h.regs.WriteDebugRegisters(tid, regs); err != nil {
			return err
		}
	}
	h.slotOf[site.Address.Value()] = slot
	return nil
}

// DisableLocation clears G_i, the slot's global-enable bit, across
// every thread, per spec.md §4.2's disableLocation() ("which clears
// G_i").
func (h *Hardware) DisableLocation(site *Site, thread Thread) error {
	slot, ok := h.slotOf[site.Address.Value()]
	if !ok {
		return nil
	}
	for _, tid := range h.tids() {
		regs, err := h.regs.ReadDebugRegisters(tid)
		if err != nil {
			return err
		}
		regs.DR7 &^= 1 << uint(2*slot+1)
		if err := h.regs.WriteDebugRegisters(tid, regs); err != nil {
			return err
		}
	}
	delete(h.slotOf, site.Address.Value())
	return nil
}

// Enable installs every registered site that does not already hold a
// slot and marks the manager enabled so future Adds install immediately.
func (h *Hardware) Enable() error {
	var firstErr error
	h.Manager.Enumerate(func(site Site) {
		if firstErr != nil {
			return
		}
		if _, installed := h.slotOf[site.Address.Value()]; installed {
			return
		}
		live, _ := h.Manager.siteAt(site.Address)
		if err := h.EnableLocation(live, nil); err != nil {
			firstErr = err
		}
	})
	h.enabled = true
	return firstErr
}

// Disable clears every installed slot and marks the manager disabled.
func (h *Hardware) Disable() error {
	var firstErr error
	h.Manager.Enumerate(func(site Site) {
		if firstErr != nil {
			return
		}
		live, _ := h.Manager.siteAt(site.Address)
		if err := h.DisableLocation(live, nil); err != nil {
			firstErr = err
		}
	})
	h.enabled = false
	h.Manager.purgeOneShot()
	return firstErr
}

// Hit decodes DR6 into the slot that trapped and maps it back to a
// registered site, per spec.md §4.2's hardware hit(). An emulated read
// watchpoint (see readEmulated) re-reads memory and, per S3, suppresses
// the hit when the value changed (that trap was a write, which the
// caller did not ask to watch) and reports it when the value is
// unchanged (that trap was a read); PriorValue is refreshed either way.
func (h *Hardware) Hit(tid int) (Site, bool, error) {
	regs, err := h.regs.ReadDebugRegisters(tid)
	if err != nil {
		return Site{}, false, err
	}
	for addr, slot := range h.slotOf {
		if regs.DR6&(1<<uint(slot)) == 0 {
			continue
		}
		if !h.readEmulated[addr] {
			site, ok := h.Manager.hit(ptid.NewAddress(addr))
			return site, ok, nil
		}

		live, ok := h.Manager.siteAt(ptid.NewAddress(addr))
		if !ok {
			return Site{}, false, nil
		}
		cur, err := h.mem.ReadMemory(tid, addr, live.Size)
		if err != nil {
			return Site{}, false, err
		}
		if live.PriorValue == nil {
			// Add ran before any tid existed (h.tids() was empty) and
			// could not capture a baseline; this trap establishes one
			// instead of guessing write-vs-read off a nil comparison.
			live.PriorValue = cur
			return Site{}, false, nil
		}
		changed := !bytes.Equal(cur, live.PriorValue)
		live.PriorValue = cur
		if changed {
			return Site{}, false, nil
		}
		site, ok := h.Manager.hit(ptid.NewAddress(addr))
		site.Mode = ModeRead // report the originally requested read watchpoint, not its read|write HW encoding
		return site, ok, nil
	}
	return Site{}, false, nil
}
