package branch

// signExt sign-extends the low size bits of n.
func signExt(n uint32, size uint) int32 {
	sh := 32 - size
	return int32(n<<sh) >> sh
}

func expandModifiedImmediate(value uint32) int32 {
	rotate := ((value >> 8) & 0xf) << 1
	value &= 0xff
	return int32(value>>rotate | value<<(32-rotate))
}

func decodeShiftMode(disp, typ uint8) Disp {
	switch typ & 3 {
	case 0:
		return DispLSL
	case 1:
		return DispLSR
	case 2:
		return DispASR
	default: // 3
		if disp == 0 {
			return DispRRX
		}
		return DispROR
	}
}

// getB decodes B<cc>/BL<cc>/BLX<cc> <imm>.
func getB(insn uint32, info *Info) bool {
	if insn&0x0e000000 != 0x0a000000 {
		return false
	}
	var h uint32
	info.Cond = Cond(insn >> 28)
	if info.Cond == CondNV {
		info.Cond = CondAL
		info.Type = TypeBLX_i
		h = (insn >> 24) & 1
	} else if (insn>>24)&1 != 0 {
		info.Type = TypeBL_i
	} else {
		info.Type = TypeB_i
	}
	info.Mode = DispNormal
	info.Reg1 = -1
	info.Reg2 = -1
	info.Disp = signExt(((insn&0xffffff)<<2)|(h<<1), 26)
	// +4 because the displacement points after the branch instruction,
	// +4 again for the pipeline.
	info.Disp += 8
	return true
}

// getBX decodes BX/BLX <reg>.
func getBX(insn uint32, info *Info) bool {
	if insn&0x0fffffd0 != 0x012fff10 {
		return false
	}
	info.Cond = Cond(insn >> 28)
	if insn&0x20 != 0 {
		info.Type = TypeBLX_r
	} else {
		info.Type = TypeBX_r
	}
	info.Mode = DispNormal
	info.Reg1 = int32(insn & 0xf)
	info.Reg2 = -1
	info.Disp = 0
	return true
}

// getALUpc decodes the ALU-into-PC forms (ADD/SUB/MOV/... pc, ...).
func getALUpc(insn uint32, info *Info) bool {
	form := 0
	if insn&0x0e00f000 == 0x0200f000 {
		form = 1
	} else if insn&0x0e00f010 == 0x0000f000 {
		form = 2
	}
	if form == 0 {
		return false
	}

	info.Cond = Cond(insn >> 28)
	info.Reg1 = int32((insn >> 16) & 0xf)
	if form == 1 {
		info.Reg2 = -1
		info.Disp = expandModifiedImmediate(insn & 0xfff)
		info.Mode = DispNormal
	} else {
		info.Reg2 = int32(insn & 0xf)
		info.Disp = int32((insn >> 7) & 0x1f)
		info.Mode = decodeShiftMode(uint8(info.Disp), uint8((insn>>5)&3))
	}

	switch (insn >> 21) & 0xf {
	case 0:
		info.Type = TypeAND_pc
	case 1:
		info.Type = TypeEOR_pc
	case 2:
		info.Type = TypeSUB_pc
	case 3:
		info.Type = TypeRSB_pc
	case 4:
		info.Type = TypeADD_pc
	case 5:
		info.Type = TypeADC_pc
	case 6:
		info.Type = TypeSBC_pc
	case 7:
		info.Type = TypeRSC_pc
	case 12:
		info.Type = TypeORR_pc
	case 13:
		info.Type = TypeMOV_pc
		if form == 1 {
			info.Reg1 = -1
		} else {
			info.Reg1 = info.Reg2
			info.Reg2 = -1
		}
	case 14:
		info.Type = TypeBIC_pc
	case 15:
		info.Type = TypeMVN_pc
		if form == 1 {
			info.Reg1 = -1
		}
	}
	if info.Disp == 0 && info.Mode == DispLSL {
		info.Mode = DispNormal
	}
	return true
}

// getLDRpc decodes the three LDR pc, [...] addressing forms.
func getLDRpc(insn uint32, info *Info) bool {
	// LDR pc, [Rn{, #+/-imm12}] / [Rn], #+/-imm12 / [Rn, #+/-imm12]!
	if insn&0x0e50f000 == 0x0410f000 {
		info.Type = TypeLDR_pc
		info.Cond = Cond(insn >> 28)
		info.Mode = DispNormal
		info.Reg1 = int32((insn >> 16) & 0xf)
		info.Reg2 = -1
		info.Disp = 0
		if (insn>>24)&1 != 0 {
			info.Disp = int32(insn & 0xfff)
		}
		if (insn>>23)&1 == 0 {
			info.Disp = -info.Disp
		}
		return true
	}

	// LDR pc, <label> / LDR pc, [PC, #-0]
	if insn&0x0f7ff000 == 0x051ff000 {
		info.Type = TypeLDR_pc
		info.Cond = Cond(insn >> 28)
		info.Mode = DispNormal
		info.Reg1 = 15
		info.Reg2 = -1
		info.Disp = int32(insn & 0xfff)
		if (insn>>23)&1 == 0 {
			info.Disp = -info.Disp
		}
		return true
	}

	// LDR pc, [Rn,+/-Rm{, shift}]{!} / [Rn],+/-Rm{, shift}
	if insn&0x0e50f010 == 0x0610f000 {
		info.Type = TypeLDR_pc
		info.Cond = Cond(insn >> 28)
		info.Reg1 = int32((insn >> 16) & 0xf)
		info.Reg2 = -1
		info.Mode = DispNormal
		info.Disp = 0
		if (insn>>24)&1 != 0 {
			info.Reg2 = int32(insn & 0xf)
			info.Disp = int32((insn >> 7) & 0x1f)
			info.Mode = decodeShiftMode(uint8(info.Disp), uint8((insn>>5)&3))
			if info.Disp == 0 && info.Mode == DispLSL {
				info.Mode = DispNormal
			}
		}
		info.Subt = (insn>>23)&1 == 0
		return true
	}

	return false
}

// getLDMpc decodes LDM{IA|IB|DA|DB} reg, {...,pc} and its POP alias.
func getLDMpc(insn uint32, info *Info) bool {
	if insn&0x0fd08000 == 0x08908000 || // LDMIA
		insn&0x0fd08000 == 0x08108000 || // LDMDA
		insn&0x0fd08000 == 0x09908000 || // LDMIB
		insn&0x0fd08000 == 0x09108000 { // LDMDB
		w := (insn >> 21) & 1
		rn := (insn >> 16) & 0xf
		info.Cond = Cond(insn >> 28)
		if insn&0x0fd00000 == 0x08900000 && w != 0 && rn == 13 {
			info.Type = TypePOP_pc
		} else {
			info.Type = TypeLDM_pc
		}
		info.Mode = DispNormal
		info.Reg1 = int32(rn)
		info.Reg2 = -1
		info.Disp = 0
		for regs := uint16(insn & 0x7fff); regs != 0; regs >>= 1 {
			info.Disp += int32(regs & 1)
		}
		info.Disp <<= 2
		return true
	}
	return false
}

// GetARMBranchInfo decodes a single 32-bit ARM instruction word. It
// returns ok=false if insn does not affect PC, matching
// ds2::Architecture::ARM::GetARMBranchInfo.
func GetARMBranchInfo(insn uint32) (Info, bool) {
	var info Info
	info.Subt = false
	info.Cond = CondAL
	info.Mode = DispNormal
	info.Align = 1
	info.Reg1 = -1
	info.Reg2 = -1
	info.Disp = 0

	ok := getB(insn, &info) || getBX(insn, &info) || getALUpc(insn, &info) ||
		getLDRpc(insn, &info) || getLDMpc(insn, &info)
	return info, ok
}
