package branch

import "testing"

func TestGetARM64BranchInfo(t *testing.T) {
	cases := []struct {
		name string
		insn uint32
		want ARM64Info
	}{
		{
			name: "B +8",
			insn: 0x14000002,
			want: ARM64Info{Type: ARM64TypeB, Cond: CondNV, Reg: -1, Disp: 8},
		},
		{
			name: "BL +8",
			insn: 0x94000002,
			want: ARM64Info{Type: ARM64TypeBL, Cond: CondNV, Reg: -1, Disp: 8},
		},
		{
			name: "B.EQ +8",
			insn: 0x54000040,
			want: ARM64Info{Type: ARM64TypeBcc, Cond: CondEQ, Reg: -1, Disp: 8},
		},
		{
			name: "RET X30",
			insn: 0xd65f03c0,
			want: ARM64Info{Type: ARM64TypeRET, Cond: CondNV, Reg: 30},
		},
		{
			name: "BR X0",
			insn: 0xd61f0000,
			want: ARM64Info{Type: ARM64TypeBR, Cond: CondNV, Reg: 0},
		},
		{
			name: "BLR X1",
			insn: 0xd63f0020,
			want: ARM64Info{Type: ARM64TypeBLR, Cond: CondNV, Reg: 1},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := GetARM64BranchInfo(c.insn)
			if !ok {
				t.Fatalf("GetARM64BranchInfo(%#x) reported no branch", c.insn)
			}
			if got != c.want {
				t.Errorf("GetARM64BranchInfo(%#x) = %+v, want %+v", c.insn, got, c.want)
			}
		})
	}
}

func TestGetARM64BranchInfoCBZ(t *testing.T) {
	// CBZ X0, +8: 0xb4000040 (sf=1, op=CBZ, imm19=1, Rt=0)
	info, ok := GetARM64BranchInfo(0xb4000040)
	if !ok {
		t.Fatal("expected a branch")
	}
	if info.Type != ARM64TypeCB || info.Reg != 0 || info.HalfReg {
		t.Fatalf("got %+v, want CB/X0", info)
	}
	if info.Disp != 8 {
		t.Fatalf("Disp = %d, want 8", info.Disp)
	}
}

func TestGetARM64BranchInfoNonBranch(t *testing.T) {
	// NOP: 0xd503201f
	if _, ok := GetARM64BranchInfo(0xd503201f); ok {
		t.Error("GetARM64BranchInfo(nop) should report no branch")
	}
}
