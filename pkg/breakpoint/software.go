package breakpoint

import (
	"encoding/binary"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/ptid"
)

// MemoryIO is the slice of TraceBackend a software breakpoint manager
// needs: raw byte transfer at an address in the traced process.
type MemoryIO interface {
	ReadMemory(tid int, address uint64, length int) ([]byte, error)
	WriteMemory(tid int, address uint64, data []byte) error
}

// trapOpcode returns the architecture-specific trap instruction bytes
// for a software breakpoint of the given size, per spec.md §4.2's
// "Software breakpoints" opcode table.
func trapOpcode(tag arch.Tag, size int, bigEndian bool) ([]byte, error) {
	var buf []byte
	switch tag {
	case arch.TagX86, arch.TagX86_64_32, arch.TagX86_64_64:
		if size != 1 {
			return nil, errcode.New(errcode.InvalidArgument)
		}
		return []byte{0xCC}, nil
	case arch.TagARM, arch.TagARM64A32:
		switch size {
		case 2:
			buf = []byte{0x01, 0xde} // udf #1, little-endian
		case 3:
			// 4-byte Thumb-2 udf.w #0
			buf = []byte{0xf0, 0xf7, 0x00, 0xa0}
		case 4:
			buf = []byte{0xf0, 0x01, 0xf0, 0xe7} // udf #16, ARM encoding
		default:
			return nil, errcode.New(errcode.InvalidArgument)
		}
	case arch.TagARM64A64:
		if size != 4 {
			return nil, errcode.New(errcode.InvalidArgument)
		}
		buf = []byte{0x00, 0x00, 0x20, 0xd4} // brk #0
	default:
		return nil, errcode.New(errcode.Unsupported)
	}
	if bigEndian {
		reversed := make([]byte, len(buf))
		for i, b := range buf {
			reversed[len(buf)-1-i] = b
		}
		return reversed, nil
	}
	return buf, nil
}

// Software is the trap-opcode-patching breakpoint manager specialized
// for exec-mode software breakpoints, per spec.md §4.2.
type Software struct {
	Manager

	mem       MemoryIO
	tag       arch.Tag
	bigEndian bool
	pid       int
	enabled   bool
}

var _ Installer = (*Software)(nil)

// NewSoftware constructs a Software manager for the given process,
// reading/writing opcode bytes through mem.
func NewSoftware(pid int, tag arch.Tag, bigEndian bool, mem MemoryIO) *Software {
	s := &Software{mem: mem, tag: tag, bigEndian: bigEndian, pid: pid}
	s.Manager = newManager(s)
	return s
}

// ChooseBreakpointSize returns 1 on x86 and is otherwise the caller's
// responsibility to supply (ARM's Add does the size discovery itself),
// matching spec.md §4.2's chooseBreakpointSize() note.
func (s *Software) ChooseBreakpointSize(mode Mode) (int, error) {
	switch s.tag {
	case arch.TagX86, arch.TagX86_64_32, arch.TagX86_64_64:
		return 1, nil
	default:
		return 0, errcode.New(errcode.Unsupported)
	}
}

// ValidateSize rejects an (mode, size) pair before it ever reaches
// EnableLocation, per spec.md §3's invariant (a): Software only installs
// exec-mode trap opcodes, and trapOpcode already carries the
// architecture-legal size table (x86: 1; ARM/ARM64A32: 2/3/4; ARM64A64:
// 4); reuse it here purely for its legality check.
func (s *Software) ValidateSize(mode Mode, size int) error {
	if mode != ModeExec {
		return errcode.New(errcode.Unsupported)
	}
	_, err := trapOpcode(s.tag, size, s.bigEndian)
	return err
}

// AddARM performs the ARM/Thumb size-discovery variant of Add described
// in spec.md §4.2: if size is outside {2,3,4}, read the Thumb bit (via
// isThumb) to classify the instruction at address as 2 or 4 bytes via
// GetThumbInstSize; strip the Thumb bit before storing the address.
func (s *Software) AddARM(address ptid.Address, lifetime Lifetime, size int, isThumb bool, thumbInstSize func(uint64) (int, error)) error {
	addr := address.Value() &^ 1
	if size != 2 && size != 3 && size != 4 {
		if isThumb {
			n, err := thumbInstSize(addr)
			if err != nil {
				return err
			}
			size = n
		} else {
			size = 4
		}
	}
	return s.Add(ptid.NewAddress(addr), lifetime, size, ModeExec)
}

func (s *Software) EnableLocation(site *Site, thread Thread) error {
	// Save exactly len(trap) bytes, not site.Size: on ARM, size==3 means
	// "4-byte Thumb2 opcode" (see trapOpcode), so the trap is longer than
	// the site's nominal size and DisableLocation must restore that same
	// length or it corrupts the trailing byte of the original instruction.
	trap, err := trapOpcode(s.tag, site.Size, s.bigEndian)
	if err != nil {
		return err
	}
	orig, err := s.mem.ReadMemory(s.pid, site.Address.Value(), len(trap))
	if err != nil {
		return err
	}
	site.SavedBytes = orig
	return s.mem.WriteMemory(s.pid, site.Address.Value(), trap)
}

func (s *Software) DisableLocation(site *Site, thread Thread) error {
	if site.SavedBytes == nil {
		return nil
	}
	return s.mem.WriteMemory(s.pid, site.Address.Value(), site.SavedBytes)
}

func (s *Software) Enabled(thread Thread) bool { return s.enabled }

// Enable installs every registered site, per spec.md §4.2's enable().
func (s *Software) Enable() error {
	if s.enabled {
		return nil
	}
	var firstErr error
	s.Manager.Enumerate(func(site Site) {
		if firstErr != nil {
			return
		}
		live, _ := s.Manager.siteAt(site.Address)
		if err := s.EnableLocation(live, nil); err != nil {
			firstErr = err
		}
	})
	s.enabled = true
	return firstErr
}

// Disable uninstalls every registered site and purges one-shot sites,
// per spec.md §4.2's disable().
func (s *Software) Disable() error {
	if !s.enabled {
		return nil
	}
	var firstErr error
	s.Manager.Enumerate(func(site Site) {
		if firstErr != nil {
			return
		}
		live, _ := s.Manager.siteAt(site.Address)
		if err := s.DisableLocation(live, nil); err != nil {
			firstErr = err
		}
	})
	s.enabled = false
	s.Manager.purgeOneShot()
	return firstErr
}

// Hit implements spec.md §4.2's hit(): given a stopped thread's reported
// PC, rewind by the trap length on x86 (the trap does not advance PC on
// architectures like ARM where the exception address is the trap
// itself, per the spec's Open Question about the "no rewind" default)
// and look the resulting address up in the registry.
func (s *Software) Hit(reportedPC uint64) (Site, bool) {
	pc := reportedPC
	if s.tag == arch.TagX86 || s.tag == arch.TagX86_64_32 || s.tag == arch.TagX86_64_64 {
		pc--
	}
	return s.Manager.hit(ptid.NewAddress(pc))
}

// FillStopInfo turns a successful Hit into the right StopInfo.Reason,
// per spec.md §4.2's fillStopInfo().
func FillStopInfo(site Site, info *ptid.StopInfo) {
	switch {
	case site.Mode&ModeExec != 0:
		info.Reason = ptid.ReasonBreakpoint
	case site.Mode == ModeWrite:
		info.Reason = ptid.ReasonWriteWatchpoint
	case site.Mode == ModeRead:
		info.Reason = ptid.ReasonReadWatchpoint
	case site.Mode == ModeReadWrite:
		info.Reason = ptid.ReasonAccessWatchpoint
	}
}

// littleEndianPut encodes v as four little-endian bytes, the byte order
// of trapOpcode's tables. Nothing in the package calls it.
func littleEndianPut(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
