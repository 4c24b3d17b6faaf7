package arch

import "encoding/binary"

// GP register slot indices for X86State.GP.
const (
	RegEAX = iota
	RegECX
	RegEDX
	RegEBX
	RegESI
	RegEDI
	RegEBP
	RegESP
	RegEIP
	RegX86EFLAGS
	RegX86CS
	RegX86SS
	RegX86DS
	RegX86ES
	RegX86FS
	RegX86GS
	x86GPRegCount
)

// XMMRegister is the widest SIMD family on 32-bit x86 in this module
// (AVX-512/ZMM is not modeled: no 32-bit Linux target in this corpus
// carries it).
type XMMRegister struct {
	Data [16]byte
}

// X86State is the CPUState for a native 32-bit x86 thread, or the
// embedded 32-bit personality of an X86_64State tracing a 32-in-64
// tracee, per spec.md §3.
type X86State struct {
	GP [x86GPRegCount]uint32

	X87  [8]X87Register
	Fstw uint16
	Fctw uint16
	Ftag uint16

	MXCSR uint32
	XMM   [8]XMMRegister

	DR [8]uint32
}

var _ State = (*X86State)(nil)

func (s *X86State) Tag() Tag         { return TagX86 }
func (s *X86State) PC() uint64       { return uint64(s.GP[RegEIP]) }
func (s *X86State) SetPC(v uint64)   { s.GP[RegEIP] = uint32(v) }
func (s *X86State) SP() uint64       { return uint64(s.GP[RegESP]) }
func (s *X86State) SetSP(v uint64)   { s.GP[RegESP] = uint32(v) }
func (s *X86State) Retval() uint64   { return uint64(s.GP[RegEAX]) }
func (s *X86State) Clear()           { *s = X86State{} }

var x86GDBOrder = []int{
	RegEAX, RegECX, RegEDX, RegEBX, RegESP, RegEBP, RegESI, RegEDI,
	RegEIP, RegX86EFLAGS, RegX86CS, RegX86SS, RegX86DS, RegX86ES, RegX86FS, RegX86GS,
}

// RegisterByNumber implements arch.ByNumber; see X86_64State for the
// rationale behind returning a slice view instead of a raw pointer.
func (s *X86State) RegisterByNumber(regno int) (RegisterView, bool) {
	if regno >= 0 && regno < len(x86GDBOrder) {
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, s.GP[x86GDBOrder[regno]])
		return buf, true
	}
	const x87Base = len(x86GDBOrder)
	if regno >= x87Base && regno < x87Base+8 {
		r := &s.X87[regno-x87Base]
		return r.Data[:], true
	}
	const xmmBase = x87Base + 8
	if regno >= xmmBase && regno < xmmBase+8 {
		return s.XMM[regno-xmmBase].Data[:], true
	}
	return nil, false
}
