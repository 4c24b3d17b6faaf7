package branch

import "testing"

// Vectors ported from the ds2 ARM branch decoder's reference test
// program (ARMBranchInfo.cpp's #ifdef TEST block), reduced to the
// fields that test matter for successor-PC computation.
func TestGetARMBranchInfo(t *testing.T) {
	cases := []struct {
		name string
		insn uint32
		pc   uint32
		want Info
	}{
		{
			name: "B +4",
			insn: 0xeaffffff,
			pc:   0x4,
			want: Info{Type: TypeB_i, Cond: CondAL, Mode: DispNormal, Reg1: -1, Reg2: -1, Disp: 4, Align: 1},
		},
		{
			name: "BPL +4",
			insn: 0x5affffff,
			pc:   0x14,
			want: Info{Type: TypeB_i, Cond: CondPL, Mode: DispNormal, Reg1: -1, Reg2: -1, Disp: 4, Align: 1},
		},
		{
			name: "BL +4",
			insn: 0xebffffff,
			pc:   0x24,
			want: Info{Type: TypeBL_i, Cond: CondAL, Mode: DispNormal, Reg1: -1, Reg2: -1, Disp: 4, Align: 1},
		},
		{
			name: "BLX +4 (immediate, NV-coded)",
			insn: 0xfaffffff,
			pc:   0x44,
			want: Info{Type: TypeBLX_i, Cond: CondAL, Mode: DispNormal, Reg1: -1, Reg2: -1, Disp: 4, Align: 1},
		},
		{
			name: "BX R10",
			insn: 0xe12fff1a,
			pc:   0x64,
			want: Info{Type: TypeBX_r, Cond: CondAL, Mode: DispNormal, Reg1: 10, Reg2: -1, Disp: 0, Align: 1},
		},
		{
			name: "BLX R11",
			insn: 0xe12fff3b,
			pc:   0x68,
			want: Info{Type: TypeBLX_r, Cond: CondAL, Mode: DispNormal, Reg1: 11, Reg2: -1, Disp: 0, Align: 1},
		},
		{
			name: "LDR PC, [R11, #-1234]",
			insn: 0xe51bf4d2,
			pc:   0x70,
			want: Info{Type: TypeLDR_pc, Cond: CondAL, Mode: DispNormal, Reg1: 11, Reg2: -1, Disp: -1234, Align: 1},
		},
		{
			name: "LDR PC, [R11, #+1234]",
			insn: 0xe59bf4d2,
			pc:   0x74,
			want: Info{Type: TypeLDR_pc, Cond: CondAL, Mode: DispNormal, Reg1: 11, Reg2: -1, Disp: 1234, Align: 1},
		},
		{
			name: "LDR PC, [PC, #12]",
			insn: 0xe59ff00c,
			pc:   0x78,
			want: Info{Type: TypeLDR_pc, Cond: CondAL, Mode: DispNormal, Reg1: 15, Reg2: -1, Disp: 12, Align: 1},
		},
		{
			name: "LDR PC, [R1, +R2]",
			insn: 0xe791f002,
			pc:   0x80,
			want: Info{Type: TypeLDR_pc, Cond: CondAL, Mode: DispNormal, Reg1: 1, Reg2: 2, Disp: 0, Align: 1, Subt: false},
		},
		{
			name: "LDR PC, [R1, -R2]",
			insn: 0xe711f002,
			pc:   0x84,
			want: Info{Type: TypeLDR_pc, Cond: CondAL, Mode: DispNormal, Reg1: 1, Reg2: 2, Disp: 0, Align: 1, Subt: true},
		},
		{
			name: "POP {R4-R7,PC}",
			insn: 0xe8bd80f0,
			pc:   0xc0,
			want: Info{Type: TypePOP_pc, Cond: CondAL, Mode: DispNormal, Reg1: 13, Reg2: -1, Disp: 16, Align: 1},
		},
		{
			name: "MOV PC, #0x1200",
			insn: 0xe3a0fc12,
			pc:   0xd4,
			want: Info{Type: TypeMOV_pc, Cond: CondAL, Mode: DispNormal, Reg1: -1, Reg2: -1, Disp: 0x1200, Align: 1},
		},
		{
			name: "MOV PC, LR",
			insn: 0xe1a0f00e,
			pc:   0xdc,
			want: Info{Type: TypeMOV_pc, Cond: CondAL, Mode: DispNormal, Reg1: 14, Reg2: -1, Disp: 0, Align: 1},
		},
		{
			name: "ADD PC, LR, R1",
			insn: 0xe08ef001,
			pc:   0xf4,
			want: Info{Type: TypeADD_pc, Cond: CondAL, Mode: DispNormal, Reg1: 14, Reg2: 1, Disp: 0, Align: 1},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := GetARMBranchInfo(c.insn)
			if !ok {
				t.Fatalf("GetARMBranchInfo(%#x) reported no branch", c.insn)
			}
			if got != c.want {
				t.Errorf("GetARMBranchInfo(%#x) = %+v, want %+v", c.insn, got, c.want)
			}
		})
	}
}

func TestGetARMBranchInfoNonBranch(t *testing.T) {
	// NOP (mov r0, r0) does not affect PC.
	if _, ok := GetARMBranchInfo(0xe1a00000); ok {
		t.Error("GetARMBranchInfo(nop) should report no branch")
	}
}
