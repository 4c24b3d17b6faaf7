// Package branch implements the pure-function branch instruction
// decoders for ARM, Thumb and ARM64 used by pkg/singlestep to emulate
// single-stepping where the hardware does not provide it (spec.md §4.3).
package branch

// Type enumerates the kinds of PC-affecting instructions the ARM/Thumb
// decoder recognizes, matching ds2's Architecture::ARM::BranchType.
type Type int

const (
	TypeNone Type = iota
	TypeB_i
	TypeBcc_i
	TypeCB_i
	TypeBX_r
	TypeBL_i
	TypeBLX_i
	TypeBLX_r
	TypeMOV_pc
	TypeLDR_pc
	TypeLDM_pc
	TypePOP_pc
	TypeSUB_pc
	TypeTBB
	TypeTBH

	TypeADC_pc
	TypeADD_pc
	TypeAND_pc
	TypeBIC_pc
	TypeEOR_pc
	TypeORR_pc
	TypeRSB_pc
	TypeRSC_pc
	TypeSBC_pc
	TypeMVN_pc
	TypeASR_pc
	TypeLSL_pc
	TypeLSR_pc
	TypeROR_pc
	TypeRRX_pc
)

// Disp is the addressing-mode shift kind applied to a register operand.
type Disp int

const (
	DispNormal Disp = iota
	DispLSL
	DispLSR
	DispASR
	DispROR
	DispRRX
)

// Cond is an ARM/Thumb condition code.
type Cond int

const (
	CondEQ Cond = iota
	CondNE
	CondCS
	CondCC
	CondMI
	CondPL
	CondVS
	CondVC
	CondHI
	CondLS
	CondGE
	CondLT
	CondLE
	CondGT
	CondAL
	CondNV
)

// InstSize is the byte length of a Thumb instruction encoding.
type InstSize int

const (
	TwoByteInst  InstSize = 2
	FourByteInst InstSize = 4
)

// Info describes one decoded PC-affecting instruction. It is returned by
// value and carries everything the single-step planner needs to compute
// every possible successor PC, per spec.md §4.3.
type Info struct {
	Type Type
	Cond Cond
	Mode Disp
	Reg1 int32 // -1 if unused
	Reg2 int32 // -1 if unused
	Disp int32
	Align uint

	// Subt distinguishes "subtract Reg2" (LDR pc with a negative
	// register operand) from the default add.
	Subt bool

	// IT/ITCount describe a Thumb-2 IT-block header: IT is set when
	// this instruction is the header, ITCount counts the conditional
	// instructions that follow it (1-4), per the GLOSSARY's "IT block".
	IT      bool
	ITCount int
}
