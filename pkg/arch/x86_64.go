package arch

import "encoding/binary"

// GP register slot indices for X86_64State.GP, in the order the source's
// getGPState emits them for the wire protocol.
const (
	RegRAX = iota
	RegRCX
	RegRDX
	RegRBX
	RegRSI
	RegRDI
	RegRBP
	RegRSP
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	RegRIP
	RegEFLAGS
	RegCS
	RegSS
	RegDS
	RegES
	RegFS
	RegGS
	gpRegCount
)

// X87Register is one 80-bit extended-precision x87 stack slot.
type X87Register struct {
	Data [10]byte
}

// YMMRegister is the widest SIMD register family tracked (256-bit); XMM
// is the low 128 bits of the matching YMM slot, projected rather than
// separately stored.
type YMMRegister struct {
	Data [32]byte
}

// XMM returns the low 128 bits of y as a view, not a copy.
func (y *YMMRegister) XMM() []byte { return y.Data[:16] }

// X86_64State is the CPUState for a native 64-bit x86_64 thread.
// Is32 selects whether this snapshot should be interpreted as the
// embedded 32-bit personality (segment-relative EIP/ESP, low 32 bits of
// the GP regs) for a 32-in-64 tracee, per spec.md §3's X86_64 CPUState.
type X86_64State struct {
	Is32 bool

	GP [gpRegCount]uint64

	// Linux-specific extras the source guards with #if defined(OS_LINUX).
	OrigRAX uint64
	FSBase  uint64
	GSBase  uint64

	X87  [8]X87Register
	Fstw uint16
	Fctw uint16
	Ftag uint16
	Fiseg uint32
	Fioff uint32
	Foseg uint32
	Fooff uint32
	Fop  uint16

	MXCSR     uint32
	MXCSRMask uint32
	YMM       [16]YMMRegister

	DR [8]uint64
}

var _ State = (*X86_64State)(nil)

func (s *X86_64State) Tag() Tag {
	if s.Is32 {
		return TagX86_64_32
	}
	return TagX86_64_64
}

func (s *X86_64State) PC() uint64     { return s.GP[RegRIP] }
func (s *X86_64State) SetPC(v uint64) { s.GP[RegRIP] = v }
func (s *X86_64State) SP() uint64     { return s.GP[RegRSP] }
func (s *X86_64State) SetSP(v uint64) { s.GP[RegRSP] = v }
func (s *X86_64State) Retval() uint64 { return s.GP[RegRAX] }

func (s *X86_64State) Clear() { *s = X86_64State{} }

// x86_64GDBOrder mirrors the source's reg_gdb_* ordering used by
// getGDBRegisterPtr: GP regs in wire order, then x87, then xmm (ymm0
// aliased onto xmm0 for gdb per the source's comment).
var x86_64GDBOrder = []int{
	RegRAX, RegRBX, RegRCX, RegRDX, RegRSI, RegRDI, RegRBP, RegRSP,
	RegR8, RegR9, RegR10, RegR11, RegR12, RegR13, RegR14, RegR15,
	RegRIP, RegEFLAGS, RegCS, RegSS, RegDS, RegES, RegFS, RegGS,
}

// RegisterByNumber implements arch.ByNumber, replacing the source's
// getGDBRegisterPtr/getLLDBRegisterPtr raw pointer API (spec.md §9 Open
// Questions) with a safe, bounds-checked slice view.
func (s *X86_64State) RegisterByNumber(regno int) (RegisterView, bool) {
	if regno >= 0 && regno < len(x86_64GDBOrder) {
		idx := x86_64GDBOrder[regno]
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, s.GP[idx])
		return buf, true
	}
	const x87Base = len(x86_64GDBOrder)
	if regno >= x87Base && regno < x87Base+8 {
		r := &s.X87[regno-x87Base]
		return r.Data[:], true
	}
	const xmmBase = x87Base + 8
	if regno >= xmmBase && regno < xmmBase+16 {
		return s.YMM[regno-xmmBase].XMM(), true
	}
	return nil, false
}

// GPSlice returns the GP registers in GDB register-number order
// (x86_64GDBOrder), not in the Reg* slot order.
func (s *X86_64State) GPSlice() []uint64 {
	out := make([]uint64, len(x86_64GDBOrder))
	for i, idx := range x86_64GDBOrder {
		out[i] = s.GP[idx]
	}
	return out
}

// SetGPSlice is the inverse of GPSlice, matching setGPState.
func (s *X86_64State) SetGPSlice(regs []uint64) {
	for i, idx := range x86_64GDBOrder {
		if i >= len(regs) {
			break
		}
		s.GP[idx] = regs[i]
	}
}
