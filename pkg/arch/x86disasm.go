package arch

import "golang.org/x/arch/x86/x86asm"

// DisassembleOne decodes the single x86/x86_64 instruction at the start
// of code, returning its GNU-syntax text and length. Used by callers
// that want to describe a stop location in a log line (SPEC_FULL.md's
// ambient logging section); it plays no part in breakpoint or
// single-step decisions, which operate on fixed architecture constants
// rather than decoded instruction length (spec.md §4.2/§4.3).
func DisassembleOne(tag Tag, code []byte, pc uint64) (text string, length int, ok bool) {
	mode, supported := x86Mode(tag)
	if !supported {
		return "", 0, false
	}
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return "", 0, false
	}
	return x86asm.GNUSyntax(inst, pc, nil), inst.Len, true
}

func x86Mode(tag Tag) (int, bool) {
	switch tag {
	case TagX86_64_64:
		return 64, true
	case TagX86, TagX86_64_32:
		return 32, true
	default:
		return 0, false
	}
}
