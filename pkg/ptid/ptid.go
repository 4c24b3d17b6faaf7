// Package ptid defines the process/thread addressing and memory-address
// value types shared across the engine.
package ptid

// Sentinel pid/tid values, matching the "any" and "all" wildcards a
// TraceBackend call can target.
const (
	AnyProcessID = 0
	AllProcessID = -1
	AnyThreadID  = 0
	AllThreadID  = -1
)

// PTID addresses a specific tracee thread, a whole process (Tid ==
// AnyThreadID), or is used as a wildcard filter (Pid/Tid == AllXID).
type PTID struct {
	Pid int
	Tid int
}

// Any is the zero-value wildcard PTID.
var Any = PTID{Pid: AnyProcessID, Tid: AnyThreadID}

// New returns the PTID for a specific process and thread.
func New(pid, tid int) PTID { return PTID{Pid: pid, Tid: tid} }

// FromPid returns a PTID addressing every thread of pid.
func FromPid(pid int) PTID { return PTID{Pid: pid, Tid: AnyThreadID} }

func (p PTID) ValidPid() bool { return p.Pid != AllProcessID && p.Pid != AnyProcessID }
func (p PTID) ValidTid() bool { return p.Tid != AllThreadID && p.Tid != AnyThreadID }

// Valid reports whether at least one of Pid/Tid names a concrete id.
func (p PTID) Valid() bool { return p.ValidPid() || p.ValidTid() }

// IsWildcard reports whether neither field names a concrete id.
func (p PTID) IsWildcard() bool { return !p.ValidPid() && !p.ValidTid() }

func (p PTID) String() string {
	if p.ValidTid() {
		return itoa(p.Pid) + "." + itoa(p.Tid)
	}
	return itoa(p.Pid)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Address is a 64-bit debuggee address that tracks whether it has ever
// been assigned a value, matching the source's Address class: a
// default-constructed Address is invalid until assigned, and comparisons
// against an invalid Address are a programming error the caller must
// guard against with Valid().
type Address struct {
	value uint64
	valid bool
}

// NewAddress returns a valid Address wrapping v.
func NewAddress(v uint64) Address { return Address{value: v, valid: true} }

// Valid reports whether the address has been assigned a value.
func (a Address) Valid() bool { return a.valid }

// Value returns the raw 64-bit value, regardless of validity.
func (a Address) Value() uint64 { return a.value }

// Clear resets the address to invalid/zero.
func (a *Address) Clear() { *a = Address{} }

// Mask32 returns the address truncated to its low 32 bits, for
// comparisons against 32-bit debuggees per spec.md §3.
func (a Address) Mask32() uint32 { return uint32(a.value) }
