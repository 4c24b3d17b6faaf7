package arch

// GP register slot indices for ARMState.GP: r0..r12, sp, lr, pc, cpsr.
const (
	RegR0 = iota
	RegR1
	RegR2
	RegR3
	RegR4
	RegR5
	RegR6
	RegR7
	RegR8
	RegR9
	RegR10
	RegR11
	RegIP
	RegSP
	RegLR
	RegPC
	RegCPSR
	armGPRegCount
)

// CPSR.T (Thumb) bit, per spec.md §3 "Thumb-ness is bit 5 of CPSR".
const cpsrThumbBit = 1 << 5

// VFPQuad is the widest VFP register family tracked (128-bit); VFPDouble
// and VFPSingle views are projected from it rather than separately
// stored, per the register-alias-union design note (spec.md §9).
type VFPQuad struct {
	Lo, Hi uint64
}

// ARMState is the CPUState for a native or embedded 32-bit ARM thread.
type ARMState struct {
	GP [armGPRegCount]uint32

	VFP   [16]VFPQuad
	FPSCR uint32

	// Hardware breakpoint/watchpoint control+value pairs, §3's "32 HW
	// breakpoint control+value pairs, 32 HW watchpoint control+value
	// pairs".
	BPCtrl [32]uint32
	BPAddr [32]uint32
	WPCtrl [32]uint32
	WPAddr [32]uint32
}

var _ State = (*ARMState)(nil)

func (s *ARMState) Tag() Tag       { return TagARM }
func (s *ARMState) PC() uint64     { return uint64(s.GP[RegPC]) }
func (s *ARMState) SetPC(v uint64) { s.GP[RegPC] = uint32(v) }
func (s *ARMState) SP() uint64     { return uint64(s.GP[RegSP]) }
func (s *ARMState) SetSP(v uint64) { s.GP[RegSP] = uint32(v) }
func (s *ARMState) Retval() uint64 { return uint64(s.GP[RegR0]) }
func (s *ARMState) Clear()         { *s = ARMState{} }

// IsThumb reports whether CPSR.T is set.
func (s *ARMState) IsThumb() bool { return s.GP[RegCPSR]&cpsrThumbBit != 0 }

// XPC returns PC with the Thumb bit restored iff CPSR.T is set, matching
// the source's xpc() accessor (spec.md §3).
func (s *ARMState) XPC() uint32 {
	pc := s.GP[RegPC]
	if s.IsThumb() {
		pc |= 1
	}
	return pc
}

// Single returns the 32-bit VFP single-precision view at index i,
// projected from the backing VFPQuad storage: sng[i] overlaps
// dbl[i/2] overlaps quad[i/4], per spec.md §3's aliasing invariant.
func (s *ARMState) Single(i int) uint32 {
	q := &s.VFP[i/4]
	word := wordOf(q, i%4)
	return word
}

func wordOf(q *VFPQuad, idx int) uint32 {
	var v uint64
	if idx < 2 {
		v = q.Lo
	} else {
		v = q.Hi
	}
	if idx%2 == 0 {
		return uint32(v)
	}
	return uint32(v >> 32)
}

// Double returns the 64-bit VFP double-precision view at index i,
// projected from quad[i/2].
func (s *ARMState) Double(i int) uint64 {
	q := &s.VFP[i/2]
	if i%2 == 0 {
		return q.Lo
	}
	return q.Hi
}

// Quad returns the 128-bit VFP quad register at index i directly.
func (s *ARMState) Quad(i int) VFPQuad { return s.VFP[i] }
