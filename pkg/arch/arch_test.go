package arch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestX86_64PCSPRoundTrip(t *testing.T) {
	var s X86_64State
	s.SetPC(0x401020)
	s.SetSP(0x7ffeff00)
	if s.PC() != 0x401020 {
		t.Errorf("PC() = %#x, want 0x401020", s.PC())
	}
	if s.SP() != 0x7ffeff00 {
		t.Errorf("SP() = %#x, want 0x7ffeff00", s.SP())
	}
	if s.Tag() != TagX86_64_64 {
		t.Errorf("Tag() = %v, want TagX86_64_64", s.Tag())
	}
}

func TestX86_64ClearZeroesState(t *testing.T) {
	var s X86_64State
	s.SetPC(1)
	s.GP[RegRAX] = 42
	s.Clear()
	if s.PC() != 0 || s.GP[RegRAX] != 0 {
		t.Error("Clear() did not zero all fields")
	}
}

func TestX86_64RegisterByNumberUnknown(t *testing.T) {
	var s X86_64State
	if _, ok := s.RegisterByNumber(9999); ok {
		t.Error("RegisterByNumber(9999) should fail for an unknown regno")
	}
}

func TestX86_64GPRoundTrip(t *testing.T) {
	var s X86_64State
	in := make([]uint64, 24)
	for i := range in {
		in[i] = uint64(i + 1)
	}
	s.SetGPSlice(in)
	if diff := cmp.Diff(in, s.GPSlice()); diff != "" {
		t.Fatalf("GPSlice() round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestX86_64RegisterByNumberView(t *testing.T) {
	var s X86_64State
	s.GP[RegRAX] = 0x0102030405060708
	view, ok := s.RegisterByNumber(0)
	if !ok {
		t.Fatal("RegisterByNumber(0) = false, want true")
	}
	want := []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	if diff := cmp.Diff(want, []byte(view)); diff != "" {
		t.Fatalf("RegisterByNumber(0) little-endian view mismatch (-want +got):\n%s", diff)
	}
}

func TestARMThumbBit(t *testing.T) {
	var s ARMState
	s.GP[RegCPSR] = 1 << 5
	if !s.IsThumb() {
		t.Error("IsThumb() = false, want true")
	}
	s.SetPC(0x8000)
	if xpc := s.XPC(); xpc != 0x8001 {
		t.Errorf("XPC() = %#x, want 0x8001", xpc)
	}
}

func TestARMVFPProjection(t *testing.T) {
	var s ARMState
	s.VFP[0] = VFPQuad{Lo: 0x0000000200000001, Hi: 0x0000000400000003}
	if got := s.Single(0); got != 1 {
		t.Errorf("Single(0) = %#x, want 1", got)
	}
	if got := s.Single(1); got != 2 {
		t.Errorf("Single(1) = %#x, want 2", got)
	}
	if got := s.Double(0); got != 0x0000000200000001 {
		t.Errorf("Double(0) = %#x, want 0x0000000200000001", got)
	}
}

func TestARM64A32Delegation(t *testing.T) {
	var s ARM64State
	s.IsA32 = true
	s.SetPC(0x1000)
	if s.Tag() != TagARM64A32 {
		t.Errorf("Tag() = %v, want TagARM64A32", s.Tag())
	}
	if s.PC() != 0x1000 || s.A32.PC() != 0x1000 {
		t.Error("A32-embedded PC did not round-trip")
	}
}
