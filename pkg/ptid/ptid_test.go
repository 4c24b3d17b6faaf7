package ptid

import "testing"

func TestPTIDValidity(t *testing.T) {
	cases := []struct {
		name    string
		p       PTID
		wantPid bool
		wantTid bool
		wantAny bool
	}{
		{"concrete pid+tid", New(100, 7), true, true, false},
		{"process-wide", FromPid(100), true, false, false},
		{"wildcard", Any, false, false, true},
		{"all-process", PTID{Pid: AllProcessID, Tid: 7}, false, true, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.p.ValidPid(); got != c.wantPid {
				t.Errorf("ValidPid() = %v, want %v", got, c.wantPid)
			}
			if got := c.p.ValidTid(); got != c.wantTid {
				t.Errorf("ValidTid() = %v, want %v", got, c.wantTid)
			}
			if got := c.p.IsWildcard(); got != c.wantAny {
				t.Errorf("IsWildcard() = %v, want %v", got, c.wantAny)
			}
		})
	}
}

func TestPTIDString(t *testing.T) {
	if got, want := New(100, 7).String(), "100.7"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := FromPid(100).String(), "100"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := New(-1, 7).String(), "-1.7"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestAddressValidity(t *testing.T) {
	var a Address
	if a.Valid() {
		t.Error("zero-value Address should be invalid")
	}
	a = NewAddress(0xdeadbeef)
	if !a.Valid() {
		t.Error("NewAddress should produce a valid Address")
	}
	if a.Value() != 0xdeadbeef {
		t.Errorf("Value() = %#x, want 0xdeadbeef", a.Value())
	}
	a.Clear()
	if a.Valid() || a.Value() != 0 {
		t.Error("Clear() should reset to invalid/zero")
	}
}

func TestAddressMask32(t *testing.T) {
	a := NewAddress(0x1_0000_1234)
	if got := a.Mask32(); got != 0x1234 {
		t.Errorf("Mask32() = %#x, want 0x1234", got)
	}
}
