package proc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ds2go/ds2go/pkg/errcode"
)

// MappedFileInfo is one entry of /proc/<pid>/maps, per SPEC_FULL.md
// §4.10's EnumerateMappedFiles.
type MappedFileInfo struct {
	Start, End uint64
	Offset     uint64
	Protection string
	Device     string
	Inode      uint64
	Path       string
}

// parseMapsLine parses one "start-end perms offset dev inode pathname"
// /proc/<pid>/maps line, per SPEC_FULL.md §4.10.
func parseMapsLine(line string) (MappedFileInfo, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return MappedFileInfo{}, false
	}
	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return MappedFileInfo{}, false
	}
	start, err1 := strconv.ParseUint(bounds[0], 16, 64)
	end, err2 := strconv.ParseUint(bounds[1], 16, 64)
	if err1 != nil || err2 != nil {
		return MappedFileInfo{}, false
	}
	offset, _ := strconv.ParseUint(fields[2], 16, 64)
	inode, _ := strconv.ParseUint(fields[4], 10, 64)

	info := MappedFileInfo{
		Start:      start,
		End:        end,
		Protection: fields[1],
		Offset:     offset,
		Device:     fields[3],
		Inode:      inode,
	}
	if len(fields) >= 6 {
		info.Path = strings.Join(fields[5:], " ")
	}
	return info, true
}

func (p *Process) readMaps() ([]MappedFileInfo, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, errcode.New(errcode.ProcessNotFound)
	}
	defer f.Close()

	var out []MappedFileInfo
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if info, ok := parseMapsLine(sc.Text()); ok {
			out = append(out, info)
		}
	}
	return out, nil
}

// GetMemoryRegionInfo returns the mapping containing address, derived
// from /proc/<pid>/maps, per spec.md §4.5's getMemoryRegionInfo.
func (p *Process) GetMemoryRegionInfo(address uint64) (MemoryRegion, error) {
	maps, err := p.readMaps()
	if err != nil {
		return MemoryRegion{}, err
	}
	for _, m := range maps {
		if address >= m.Start && address < m.End {
			return MemoryRegion{Start: m.Start, End: m.End, Protection: m.Protection, Name: m.Path}, nil
		}
	}
	return MemoryRegion{}, errcode.New(errcode.InvalidAddress)
}

// EnumerateMappedFiles invokes cb for every /proc/<pid>/maps entry, per
// spec.md §4.5's enumerateMappedFiles.
func (p *Process) EnumerateMappedFiles(cb func(MappedFileInfo)) error {
	maps, err := p.readMaps()
	if err != nil {
		return err
	}
	for _, m := range maps {
		cb(m)
	}
	return nil
}

// AuxiliaryVector reads and parses /proc/<pid>/auxv into AT_* key/value
// pairs, per SPEC_FULL.md §4.10.
func (p *Process) AuxiliaryVector() (map[uint64]uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/auxv", p.pid))
	if err != nil {
		return nil, errcode.New(errcode.ProcessNotFound)
	}
	const entrySize = 16 // two uint64s: Elf64_auxv_t{a_type, a_val}
	out := make(map[uint64]uint64)
	for i := 0; i+entrySize <= len(data); i += entrySize {
		typ := binary.LittleEndian.Uint64(data[i:])
		val := binary.LittleEndian.Uint64(data[i+8:])
		if typ == 0 { // AT_NULL terminator
			break
		}
		out[typ] = val
	}
	return out, nil
}

// Linux AT_* auxiliary vector keys consumed by AuxiliaryVector callers,
// per SPEC_FULL.md §4.10.
const (
	ATEntry  = 9
	ATPhdr   = 3
	ATPhent  = 4
	ATPhnum  = 5
	ATBase   = 7
	ATPagesz = 6
)

// EnumerateSharedLibraries walks the ELF dynamic linker's r_debug/
// link_map chain in the tracee's address space, per SPEC_FULL.md §4.10,
// yielding each node's path (via ReadString) and load base.
//
// rDebugAddress is the address of the inferior's struct r_debug (the
// DT_DEBUG dynamic tag's value, resolved by the caller from the ELF
// dynamic section — that resolution lives outside this engine's scope,
// matching spec.md's "external collaborator" framing for symbol/ELF
// tooling).
func (p *Process) EnumerateSharedLibraries(rDebugAddress uint64, pointerSize int, cb func(SharedLibrary)) error {
	// struct r_debug on Linux: int r_version; struct link_map *r_map; ...
	// r_map sits right after r_version, padded to pointer size.
	mapPtr, err := p.readPointer(rDebugAddress+uint64(pointerSize), pointerSize)
	if err != nil {
		return err
	}

	seen := make(map[uint64]bool)
	for mapPtr != 0 && !seen[mapPtr] {
		seen[mapPtr] = true

		// struct link_map: ElfW(Addr) l_addr; char *l_name; ElfW(Dyn) *l_ld; struct link_map *l_next; ...
		base, err := p.readPointer(mapPtr, pointerSize)
		if err != nil {
			return err
		}
		nameAddr, err := p.readPointer(mapPtr+uint64(pointerSize), pointerSize)
		if err != nil {
			return err
		}
		path := ""
		if nameAddr != 0 {
			path, err = p.ReadString(nameAddr, 4096)
			if err != nil {
				return err
			}
		}
		if path != "" {
			cb(SharedLibrary{Path: path, Base: base})
		}

		next, err := p.readPointer(mapPtr+uint64(3*pointerSize), pointerSize)
		if err != nil {
			return err
		}
		mapPtr = next
	}
	return nil
}

func (p *Process) readPointer(address uint64, pointerSize int) (uint64, error) {
	buf, err := p.ReadMemory(address, pointerSize)
	if err != nil {
		return 0, err
	}
	if pointerSize == 4 {
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	}
	return binary.LittleEndian.Uint64(buf), nil
}
