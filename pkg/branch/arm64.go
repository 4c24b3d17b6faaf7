package branch

// ARM64Type enumerates the PC-affecting ARM64 instruction kinds.
type ARM64Type int

const (
	ARM64TypeNone ARM64Type = iota
	ARM64TypeB
	ARM64TypeBL
	ARM64TypeBcc
	ARM64TypeBLR
	ARM64TypeBR
	ARM64TypeRET
	ARM64TypeCB
	ARM64TypeTB
)

// ARM64Info describes one decoded ARM64 PC-affecting instruction.
type ARM64Info struct {
	Type ARM64Type
	Cond Cond // only meaningful for Bcc

	HalfReg bool // true selects a W register, false an X register
	Reg     int32
	Disp    int64
	Offset  uint16 // bit index, only meaningful for TBZ/TBNZ
}

func signExt64(n uint64, size uint) int64 {
	sh := 64 - size
	return int64(n<<sh) >> sh
}

// getARM64B decodes B/BL/B.cond <imm>.
func getARM64B(insn uint32, info *ARM64Info) bool {
	if insn&0x7c000000 != 0x14000000 && insn&0xff000010 != 0x54000000 {
		return false
	}
	var disp uint64
	var size uint
	if (insn>>30)&1 != 0 {
		info.Type = ARM64TypeBcc
		info.Cond = Cond(insn & 0xf)
		disp = uint64(insn&0x00ffffe0) >> 5
		size = 21
	} else {
		if (insn>>31)&1 != 0 {
			info.Type = ARM64TypeBL
		} else {
			info.Type = ARM64TypeB
		}
		disp = uint64(insn & 0x03ffffff)
		size = 28
	}
	info.Disp = signExt64(disp<<2, size)
	return true
}

// getARM64BR decodes BR/BLR/RET <reg>.
func getARM64BR(insn uint32, info *ARM64Info) bool {
	if insn&0xff9ffc1f != 0xd61f0000 {
		return false
	}
	if (insn>>22)&1 != 0 {
		info.Type = ARM64TypeRET
	} else if (insn>>21)&1 != 0 {
		info.Type = ARM64TypeBLR
	} else {
		info.Type = ARM64TypeBR
	}
	info.Reg = int32((insn & 0x0ff0) >> 5)
	return true
}

// getARM64BZ decodes CBZ/CBNZ <reg>,<imm> and TBZ/TBNZ <reg>,#<bit>,<imm>.
func getARM64BZ(insn uint32, info *ARM64Info) bool {
	if insn&0x7c000000 != 0x34000000 {
		return false
	}
	info.Reg = int32(insn & 0x1f)
	info.HalfReg = (insn>>31)&1 == 0

	if (insn>>25)&1 != 0 {
		info.Type = ARM64TypeTB
		info.Disp = signExt64(uint64((insn&0x007fffe0)>>5)<<2, 16)
		info.Offset = uint16((insn & 0x00f80000) >> 19)
		if !info.HalfReg {
			info.Offset += 32
		}
	} else {
		info.Type = ARM64TypeCB
		info.Disp = signExt64(uint64((insn&0x00ffffe0)>>5)<<2, 21)
	}
	return true
}

// GetARM64BranchInfo decodes a single 32-bit ARM64 instruction word. It
// returns ok=false if insn does not affect PC.
func GetARM64BranchInfo(insn uint32) (ARM64Info, bool) {
	info := ARM64Info{Cond: CondNV, Reg: -1}
	ok := getARM64B(insn, &info) || getARM64BR(insn, &info) || getARM64BZ(insn, &info)
	return info, ok
}
