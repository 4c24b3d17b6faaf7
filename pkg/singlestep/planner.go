// Package singlestep implements the software single-step planner for
// architectures where the kernel does not honor a single-step request
// reliably (ARM, Thumb), per spec.md §4.3: enumerate every instruction's
// possible successor PCs and plant a one-shot exec breakpoint at each,
// then do an ordinary resume.
package singlestep

import (
	"encoding/binary"

	"github.com/ds2go/ds2go/pkg/arch"
	"github.com/ds2go/ds2go/pkg/branch"
	"github.com/ds2go/ds2go/pkg/breakpoint"
	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/ptid"
)

// MemoryReader is the slice of TraceBackend the planner needs to fetch
// instruction words and, for LDR/LDM/TBB/TBH, operand data.
type MemoryReader interface {
	ReadMemory(tid int, address uint64, length int) ([]byte, error)
}

// Planter is the slice of breakpoint.Manager the planner needs: it only
// ever plants temp-one-shot exec sites.
type Planter interface {
	Add(address ptid.Address, lifetime breakpoint.Lifetime, size int, mode breakpoint.Mode) error
}

// successor is one predicted next-PC, with the breakpoint size it needs
// (2 for Thumb, 4 for ARM).
type successor struct {
	pc   uint64
	size int
}

func readHalfword(mem MemoryReader, tid int, addr uint64) (uint16, error) {
	b, err := mem.ReadMemory(tid, addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func readWord(mem MemoryReader, tid int, addr uint64) (uint32, error) {
	b, err := mem.ReadMemory(tid, addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Plan computes every possible successor PC of the instruction at
// state's current PC and plants a temp-one-shot exec breakpoint at
// each, per spec.md §4.3 steps 1-5. ARM64 is unsupported; callers are
// expected to rely on hardware single-step there.
func Plan(tid int, state *arch.ARMState, address ptid.Address, mem MemoryReader, planter Planter) error {
	pc := state.PC()
	if address.Valid() {
		pc = address.Value()
	}

	var succs []successor
	var err error
	if state.IsThumb() {
		succs, err = planThumb(tid, pc, state, mem)
	} else {
		succs, err = planARM(tid, pc, state, mem)
	}
	if err != nil {
		return err
	}

	for _, s := range succs {
		addr := s.pc &^ 1
		size := s.size
		if s.pc&1 != 0 {
			size = 2
		}
		if err := planter.Add(ptid.NewAddress(addr), breakpoint.TemporaryOneShot, size, breakpoint.ModeExec); err != nil {
			return err
		}
	}
	return nil
}

func gp(state *arch.ARMState, reg int32) uint64 {
	if reg < 0 {
		return 0
	}
	return uint64(state.GP[reg])
}

func planThumb(tid int, pc uint64, state *arch.ARMState, mem MemoryReader) ([]successor, error) {
	hw0, err := readHalfword(mem, tid, pc)
	if err != nil {
		return nil, err
	}
	hw1, err := readHalfword(mem, tid, pc+2)
	if err != nil {
		return nil, err
	}
	info, ok := branch.GetThumbBranchInfo([2]uint16{hw0, hw1})
	if !ok {
		size := int(branch.GetThumbInstSize(hw0))
		return []successor{{pc: pc + uint64(size), size: 2}}, nil
	}

	if info.IT {
		addr := pc + 2
		for i := 0; i < info.ITCount; i++ {
			h, err := readHalfword(mem, tid, addr)
			if err != nil {
				return nil, err
			}
			addr += uint64(branch.GetThumbInstSize(h))
		}
		return []successor{{pc: addr, size: 2}}, nil
	}

	var succs []successor
	sequential := func(size uint64) {
		succs = append(succs, successor{pc: pc + size, size: 2})
	}

	switch info.Type {
	case branch.TypeB_i, branch.TypeBcc_i, branch.TypeCB_i, branch.TypeBL_i, branch.TypeBLX_i:
		target := pc + uint64(int64(info.Disp))
		if info.Align > 1 {
			target &^= uint64(info.Align - 1)
		}
		size := 2 // B/Bcc/CB/BL stay in Thumb state
		if info.Type == branch.TypeBLX_i {
			size = 4 // BLX <imm> switches to ARM state
		}
		succs = append(succs, successor{pc: target, size: size})
		if info.Type == branch.TypeBcc_i || info.Type == branch.TypeCB_i || info.Type == branch.TypeBL_i {
			sequential(2)
		}
	case branch.TypeBX_r, branch.TypeBLX_r, branch.TypeMOV_pc:
		succs = append(succs, successor{pc: gp(state, info.Reg1), size: 4})
		if info.Type == branch.TypeBLX_r {
			sequential(2)
		}
	case branch.TypeLDR_pc:
		addr := gp(state, info.Reg1)
		if info.Reg2 >= 0 {
			off := gp(state, info.Reg2)
			if info.Subt {
				addr -= off
			} else {
				addr += off
			}
		} else if info.Subt {
			addr -= uint64(info.Disp)
		} else {
			addr += uint64(info.Disp)
		}
		target, err := readWord(mem, tid, addr)
		if err != nil {
			return nil, err
		}
		succs = append(succs, successor{pc: uint64(target), size: 4})
	case branch.TypeLDM_pc, branch.TypePOP_pc:
		addr := gp(state, info.Reg1) + uint64(int64(info.Disp))
		target, err := readWord(mem, tid, addr)
		if err != nil {
			return nil, err
		}
		succs = append(succs, successor{pc: uint64(target), size: 4})
	case branch.TypeTBB:
		base := gp(state, info.Reg1)
		idx := gp(state, info.Reg2)
		b, err := mem.ReadMemory(tid, base+idx, 1)
		if err != nil {
			return nil, err
		}
		succs = append(succs, successor{pc: pc + 4 + 2*uint64(b[0]), size: 2})
	case branch.TypeTBH:
		base := gp(state, info.Reg1)
		idx := gp(state, info.Reg2)
		h, err := readHalfword(mem, tid, base+2*idx)
		if err != nil {
			return nil, err
		}
		succs = append(succs, successor{pc: pc + 4 + 2*uint64(h), size: 2})
	case branch.TypeSUB_pc:
		succs = append(succs, successor{pc: gp(state, info.Reg1) - uint64(int64(info.Disp)), size: 4})
	default:
		return nil, errcode.New(errcode.Unsupported)
	}
	return succs, nil
}

func planARM(tid int, pc uint64, state *arch.ARMState, mem MemoryReader) ([]successor, error) {
	w, err := readWord(mem, tid, pc)
	if err != nil {
		return nil, err
	}
	info, ok := branch.GetARMBranchInfo(w)
	if !ok {
		return []successor{{pc: pc + 4, size: 4}}, nil
	}

	var succs []successor
	sequential := func() { succs = append(succs, successor{pc: pc + 4, size: 4}) }

	switch info.Type {
	case branch.TypeB_i, branch.TypeBL_i, branch.TypeBLX_i:
		target := pc + uint64(int64(info.Disp))
		size := 4
		if info.Type == branch.TypeBLX_i {
			// BLX<imm> always switches ARM -> Thumb.
			size = 2
			target |= 1
		}
		succs = append(succs, successor{pc: target, size: size})
		if info.Cond != branch.CondAL && info.Cond != branch.CondNV {
			sequential()
		}
	case branch.TypeBX_r, branch.TypeBLX_r, branch.TypeMOV_pc:
		succs = append(succs, successor{pc: gp(state, info.Reg1), size: 4})
		if info.Cond != branch.CondAL && info.Cond != branch.CondNV {
			sequential()
		}
	case branch.TypeLDR_pc:
		addr := gp(state, info.Reg1)
		if info.Reg2 >= 0 {
			off := gp(state, info.Reg2)
			if info.Subt {
				addr -= off
			} else {
				addr += off
			}
		} else if info.Subt {
			addr -= uint64(info.Disp)
		} else {
			addr += uint64(info.Disp)
		}
		target, err := readWord(mem, tid, addr)
		if err != nil {
			return nil, err
		}
		size := 4
		if target&1 != 0 {
			size = 2
		}
		succs = append(succs, successor{pc: uint64(target), size: size})
	case branch.TypeLDM_pc, branch.TypePOP_pc:
		addr := gp(state, info.Reg1) + uint64(int64(info.Disp))
		target, err := readWord(mem, tid, addr)
		if err != nil {
			return nil, err
		}
		size := 4
		if target&1 != 0 {
			size = 2
		}
		succs = append(succs, successor{pc: uint64(target), size: size})
	case branch.TypeSUB_pc:
		succs = append(succs, successor{pc: gp(state, info.Reg1) - uint64(int64(info.Disp)), size: 4})
	default:
		return nil, errcode.New(errcode.Unsupported)
	}
	return succs, nil
}

// PlanARM64 is a stub: ARM64 relies on hardware single-step.
func PlanARM64(tid int, state *arch.ARM64State, mem MemoryReader, planter Planter) error {
	return errcode.New(errcode.Unsupported)
}
