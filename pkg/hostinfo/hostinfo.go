// Package hostinfo reports facts about the local host the engine is
// running on, per the supplemented HostInfo in SPEC_FULL.md's
// supplemented-features section (original_source Types.h /
// Host/Linux/Host.cpp): CPU family, pointer size, and page size,
// consumed by cmd/ds2go (through DefaultTag) to pick a default CPUState
// tag and by pkg/inject to size its mmap template's page alignment.
package hostinfo

import (
	"os"
	"runtime"

	"github.com/ds2go/ds2go/pkg/arch"
)

// CPUType mirrors the original's coarse CPU family enumeration, reduced
// to the families this module actually targets (Linux/amd64,
// Linux/arm64).
type CPUType int

const (
	CPUTypeUnknown CPUType = iota
	CPUTypeX86
	CPUTypeX86_64
	CPUTypeARM
	CPUTypeARM64
)

func (t CPUType) String() string {
	switch t {
	case CPUTypeX86:
		return "x86"
	case CPUTypeX86_64:
		return "x86_64"
	case CPUTypeARM:
		return "arm"
	case CPUTypeARM64:
		return "arm64"
	default:
		return "unknown"
	}
}

// Info is the local host's static properties, cached once at process
// start.
type Info struct {
	CPUType    CPUType
	CPUSubType int
	PointerSize int
	PageSize    int
}

// Host is filled by detect() at package initialization from
// runtime.GOARCH; it never changes
// for the lifetime of the process.
var Host = detect()

func detect() Info {
	info := Info{PageSize: os.Getpagesize()}
	switch runtime.GOARCH {
	case "amd64":
		info.CPUType = CPUTypeX86_64
		info.PointerSize = 8
	case "386":
		info.CPUType = CPUTypeX86
		info.PointerSize = 4
	case "arm64":
		info.CPUType = CPUTypeARM64
		info.PointerSize = 8
	case "arm":
		info.CPUType = CPUTypeARM
		info.PointerSize = 4
	}
	return info
}

// DefaultTag picks the arch.Tag matching the local host's native
// architecture, for a freshly spawned tracee whose architecture has not
// yet been probed via its ELF header (SPEC_FULL.md §4.10's
// AuxiliaryVector is the authoritative source once the tracee is
// attached; DefaultTag only covers the spawn-time bootstrap window).
func DefaultTag() arch.Tag {
	switch Host.CPUType {
	case CPUTypeX86_64:
		return arch.TagX86_64_64
	case CPUTypeX86:
		return arch.TagX86
	case CPUTypeARM64:
		return arch.TagARM64A64
	case CPUTypeARM:
		return arch.TagARM
	default:
		return arch.TagInvalid
	}
}

// PageAlign rounds size up to the next multiple of the host page size,
// used by pkg/inject when building mmap templates.
func PageAlign(size int) int {
	ps := Host.PageSize
	if ps <= 0 {
		ps = 4096
	}
	return (size + ps - 1) &^ (ps - 1)
}
