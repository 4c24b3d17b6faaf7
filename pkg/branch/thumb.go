package branch

import "math/bits"

// insnIsThumb1 reports whether insn (the first halfword of a Thumb
// instruction) is a 16-bit Thumb-1 encoding, matching
// ThumbInstruction::InsnIsThumb1.
func insnIsThumb1(insn uint16) bool {
	return insn&0xe000 != 0xe000 || insn&0x1800 == 0x0000
}

// ffs returns the 1-based index of the least-significant set bit of v,
// or 0 if v is zero, matching ds2::Utils::FFS.
func ffs(v uint32) int {
	if v == 0 {
		return 0
	}
	return bits.TrailingZeros32(v) + 1
}

// makeT2BranchDisp reassembles a Thumb-2 branch displacement from its
// scattered S/J1/J2/immH/immL fields, matching
// ThumbInstruction::MakeT2BranchDisp. When xorValues is false, j1/j2 are
// deliberately swapped per the source's comment ("it's not an error").
func makeT2BranchDisp(s, j1, j2 uint32, immHSize uint, immH uint32, immLSize uint, immL uint32, zeroPad uint, xorValues bool) int32 {
	var nbits uint
	var disp uint32

	var i1, i2 uint32
	if xorValues {
		i1 = b2u(j1^s == 0)
		i2 = b2u(j2^s == 0)
	} else {
		i1 = j2
		i2 = j1
	}

	disp |= s
	disp <<= 1
	nbits++
	disp |= i1
	disp <<= 1
	nbits++
	disp |= i2
	disp <<= immHSize
	nbits++
	disp |= immH
	disp <<= immLSize
	nbits += immHSize
	disp |= immL
	disp <<= zeroPad
	nbits += immLSize
	nbits += zeroPad

	return signExt(disp, nbits)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func getIT(insn uint16, info *Info) bool {
	info.Align = 1
	info.IT = insn&0xff00 == 0xbf00 && insn&0x00ff != 0x0000
	info.ITCount = 0
	if info.IT {
		info.Cond = Cond((insn >> 4) & 0xf)
		info.ITCount = 5 - ffs(uint32(insn&0xf))
	} else {
		info.Cond = CondAL
	}
	return info.IT
}

func getB_N(insn uint16, info *Info) bool {
	if insn&0xf800 != 0xe000 {
		return false
	}
	info.Type = TypeB_i
	info.Mode = DispNormal
	info.Reg1 = -1
	info.Reg2 = -1
	info.Disp = signExt(uint32(insn&0x7ff)<<1, 12)
	info.Disp += 4
	return true
}

func getBcc_N(insn uint16, info *Info) bool {
	if insn&0xf000 != 0xd000 || insn&0x0f00 >= 0x0e00 {
		return false
	}
	info.Type = TypeBcc_i
	info.Cond = Cond((insn >> 8) & 0xf)
	info.Mode = DispNormal
	info.Reg1 = -1
	info.Reg2 = -1
	info.Disp = signExt(uint32(insn&0xff)<<1, 9)
	info.Disp += 4
	return true
}

func getBXThumb(insn uint16, info *Info) bool {
	if insn&0xff80 != 0x4700 {
		return false
	}
	info.Type = TypeBX_r
	info.Mode = DispNormal
	info.Reg1 = int32((insn >> 3) & 0xf)
	info.Reg2 = -1
	info.Disp = 0
	return true
}

func getBLX_r(insn uint16, info *Info) bool {
	if insn&0xff80 != 0x4780 {
		return false
	}
	info.Type = TypeBLX_r
	info.Mode = DispNormal
	info.Reg1 = int32((insn >> 3) & 0xf)
	info.Reg2 = -1
	info.Disp = 0
	return true
}

func getMOV_pcThumb(insn uint16, info *Info) bool {
	if insn&0xff87 != 0x4687 {
		return false
	}
	info.Type = TypeMOV_pc
	info.Mode = DispNormal
	info.Reg1 = int32((insn >> 3) & 0xf)
	info.Reg2 = -1
	info.Disp = 0
	return true
}

func getPOP_pcThumb(insn uint16, info *Info) bool {
	if insn&0xff00 != 0xbd00 {
		return false
	}
	info.Type = TypePOP_pc
	info.Mode = DispNormal
	info.Reg1 = 13
	info.Reg2 = -1
	info.Disp = int32(bits.OnesCount16(insn&0xff)) << 2
	return true
}

func getB_W(insn []uint16, info *Info) bool {
	if insn[0]&0xf800 != 0xf000 || insn[1]&0xd000 != 0x9000 {
		return false
	}
	info.Type = TypeB_i
	info.Mode = DispNormal
	info.Reg1 = -1
	info.Reg2 = -1

	s := uint32(insn[0]>>10) & 1
	j1 := uint32(insn[1]>>13) & 1
	j2 := uint32(insn[1]>>11) & 1
	imm10 := uint32(insn[0] & 0x3ff)
	imm11 := uint32(insn[1] & 0x7ff)

	info.Disp = makeT2BranchDisp(s, j1, j2, 10, imm10, 11, imm11, 1, true)
	info.Disp += 4
	return true
}

func getBcc_W(insn []uint16, info *Info) bool {
	if insn[0]&0xf800 != 0xf000 || insn[0]&0x0380 == 0x0380 || insn[1]&0xd000 != 0x8000 {
		return false
	}
	info.Type = TypeBcc_i
	info.Mode = DispNormal
	info.Reg1 = -1
	info.Reg2 = -1
	info.Cond = Cond((insn[0] >> 6) & 0xf)

	s := uint32(insn[0]>>10) & 1
	j1 := uint32(insn[1]>>13) & 1
	j2 := uint32(insn[1]>>11) & 1
	imm6 := uint32(insn[0] & 0x3f)
	imm11 := uint32(insn[1] & 0x7ff)

	info.Disp = makeT2BranchDisp(s, j1, j2, 6, imm6, 11, imm11, 1, false)
	info.Disp += 4
	return true
}

func getBL(insn []uint16, info *Info) bool {
	if insn[0]&0xf800 != 0xf000 || insn[1]&0xd000 != 0xd000 {
		return false
	}
	info.Type = TypeBL_i
	info.Mode = DispNormal
	info.Reg1 = -1
	info.Reg2 = -1

	s := uint32(insn[0]>>10) & 1
	j1 := uint32(insn[1]>>13) & 1
	j2 := uint32(insn[1]>>11) & 1
	imm10 := uint32(insn[0] & 0x3ff)
	imm11 := uint32(insn[1] & 0x7ff)

	info.Disp = makeT2BranchDisp(s, j1, j2, 10, imm10, 11, imm11, 1, true)
	info.Disp += 4
	return true
}

func getBLX_i(insn []uint16, info *Info) bool {
	if insn[0]&0xf800 != 0xf000 || insn[1]&0xd000 != 0xc000 {
		return false
	}
	info.Type = TypeBLX_i
	info.Mode = DispNormal
	info.Reg1 = -1
	info.Reg2 = -1

	s := uint32(insn[0]>>10) & 1
	j1 := uint32(insn[1]>>13) & 1
	j2 := uint32(insn[1]>>11) & 1
	imm10H := uint32(insn[0] & 0x3ff)
	imm10L := uint32(insn[1]>>1) & 0x3ff

	info.Disp = makeT2BranchDisp(s, j1, j2, 10, imm10H, 10, imm10L, 2, true)
	info.Disp += 2
	info.Align = 4
	return true
}

func getCBZ(insn uint16, info *Info) bool {
	if insn&0xf500 != 0xb100 {
		return false
	}
	info.Type = TypeCB_i
	info.Mode = DispNormal
	info.Reg1 = -1
	info.Reg2 = -1
	info.Disp = int32((((insn>>9)&1)<<5 | (insn>>3)&0x1f)) << 1
	info.Disp += 4
	return true
}

func getLDR_pcThumb(insn []uint16, info *Info) bool {
	// LDR.W pc, [Rn{, #imm12}]
	if insn[0]&0xfff0 == 0xf8d0 && insn[1]&0xf000 == 0xf000 {
		info.Type = TypeLDR_pc
		info.Mode = DispNormal
		info.Reg1 = int32(insn[0] & 0xf)
		info.Reg2 = -1
		info.Disp = int32(insn[1] & 0xfff)
		return true
	}

	// LDR.W pc, <label> / [pc, #-0]
	if insn[0]&0xff7f == 0xf85f && insn[1]&0xf000 == 0xf000 {
		info.Type = TypeLDR_pc
		info.Mode = DispNormal
		info.Reg1 = 15
		info.Reg2 = -1
		info.Disp = int32(insn[1] & 0xfff)
		if (insn[0]>>7)&1 == 0 {
			info.Disp = -info.Disp
		}
		return true
	}

	// LDR.W pc, [Rn, Rm{, LSL #imm2}]
	if insn[0]&0xfff0 == 0xf850 && insn[1]&0xffc0 == 0xf000 {
		info.Type = TypeLDR_pc
		info.Reg1 = int32(insn[0] & 0xf)
		info.Reg2 = int32(insn[1] & 0xf)
		info.Disp = int32((insn[1] >> 4) & 3)
		if info.Disp == 0 {
			info.Mode = DispNormal
		} else {
			info.Mode = DispLSL
		}
		return true
	}

	// LDR.W pc, [Rn, #-imm8] / [Rn] #+/-imm8 / [Rn, #+/-imm8]!
	if insn[0]&0xfff0 == 0xf850 && insn[1]&0xf800 == 0xf800 {
		info.Type = TypeLDR_pc
		info.Mode = DispNormal
		info.Reg1 = int32(insn[0] & 0xf)
		info.Reg2 = -1
		info.Disp = 0
		if (insn[1]>>10)&1 != 0 {
			info.Disp = int32(insn[1] & 0xff)
			if (insn[1]>>9)&1 == 0 {
				info.Disp = -info.Disp
			}
		}
		return true
	}

	return false
}

func getLDM_pcThumb(insn []uint16, info *Info) bool {
	if insn[0]&0xffd0 != 0xe890 || insn[1]&0x8000 != 0x8000 {
		return false
	}
	rn := uint32(insn[0] & 0xf)
	w := (insn[0] >> 5) & 1
	if w != 0 && rn == 13 {
		info.Type = TypePOP_pc
	} else {
		info.Type = TypeLDM_pc
	}
	info.Mode = DispNormal
	info.Reg1 = int32(rn)
	info.Reg2 = -1
	info.Disp = 0
	for regs := insn[1]; regs != 0; regs >>= 1 {
		info.Disp += int32(regs & 1)
	}
	info.Disp = (info.Disp - 1) * 4
	return true
}

func getSUBS_pc_lr(insn []uint16, info *Info) bool {
	if insn[0] != 0xf3de || insn[1]&0xff00 != 0x8f00 {
		return false
	}
	info.Type = TypeSUB_pc
	info.Mode = DispNormal
	info.Reg1 = int32(insn[0] & 0xf)
	info.Reg2 = -1
	info.Disp = int32(insn[1] & 0xff)
	return true
}

func getTBB(insn []uint16, info *Info) bool {
	if insn[0]&0xfff0 != 0xe8d0 || insn[1]&0xfff0 != 0xf000 {
		return false
	}
	info.Type = TypeTBB
	info.Mode = DispNormal
	info.Reg1 = int32(insn[0] & 0xf)
	info.Reg2 = int32(insn[1] & 0xf)
	info.Disp = 0
	return true
}

func getTBH(insn []uint16, info *Info) bool {
	if insn[0]&0xfff0 != 0xe8d0 || insn[1]&0xfff0 != 0xf010 {
		return false
	}
	info.Type = TypeTBH
	info.Mode = DispNormal
	info.Reg1 = int32(insn[0] & 0xf)
	info.Reg2 = int32(insn[1] & 0xf)
	info.Disp = 1
	return true
}

// GetThumbBranchInfo decodes a (possibly IT-prefixed) Thumb/Thumb-2
// instruction pair. halfwords must hold at least 2 elements; for a
// 16-bit-only instruction the second halfword is the next instruction in
// memory, matching the source's fixed two-halfword window.
func GetThumbBranchInfo(halfwords [2]uint16) (Info, bool) {
	var info Info
	info.Type = TypeNone
	info.Cond = CondAL
	info.Reg1 = -1
	info.Reg2 = -1

	insn := halfwords[:]
	if getIT(insn[0], &info) {
		// The branch, if any, is the last instruction of the IT block;
		// this only looks one halfword ahead, matching the source's own
		// acknowledged shortcut (see its "Note(sas)" comment).
		insn = insn[1:]
	}
	if len(insn) < 2 {
		insn = []uint16{insn[0], 0}
	}

	isBranch := getB_N(insn[0], &info) || getBcc_N(insn[0], &info) ||
		getBL(insn, &info) || getBLX_r(insn[0], &info) || getBXThumb(insn[0], &info) ||
		getMOV_pcThumb(insn[0], &info) || getPOP_pcThumb(insn[0], &info) ||
		getB_W(insn, &info) || getBcc_W(insn, &info) || getBLX_i(insn, &info) ||
		getCBZ(insn[0], &info) || getLDR_pcThumb(insn, &info) || getLDM_pcThumb(insn, &info) ||
		getSUBS_pc_lr(insn, &info) || getTBB(insn, &info) || getTBH(insn, &info)

	return info, info.IT || isBranch
}

// GetThumbInstSize reports whether the halfword insn begins a 16-bit or
// 32-bit Thumb encoding.
func GetThumbInstSize(insn uint16) InstSize {
	if insnIsThumb1(insn) {
		return TwoByteInst
	}
	return FourByteInst
}
