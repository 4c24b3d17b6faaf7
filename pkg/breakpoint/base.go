// Package breakpoint implements the canonical per-process breakpoint and
// watchpoint site registry (spec.md §4.2), shared by its two
// specializations: Software (trap-opcode patching) and Hardware
// (debug-register programming).
package breakpoint

import (
	"sort"

	"github.com/ds2go/ds2go/pkg/errcode"
	"github.com/ds2go/ds2go/pkg/ptid"
)

// Lifetime is a bitset of the classes of requestor holding a Site, per
// the GLOSSARY's "Lifetime bitset".
type Lifetime uint

const (
	Permanent Lifetime = 1 << iota
	TemporaryOneShot
	TemporaryUntilHit
)

// Mode is the breakpoint/watchpoint access kind.
type Mode uint

const (
	ModeExec Mode = 1 << iota
	ModeRead
	ModeWrite
)

const ModeReadWrite = ModeRead | ModeWrite

// Site is a registered, possibly-installed breakpoint or watchpoint at a
// fixed address, per spec.md §3's BreakpointSite.
type Site struct {
	Address  ptid.Address
	Mode     Mode
	Size     int
	Lifetime Lifetime

	refs int // only meaningful while Lifetime&Permanent != 0

	// SavedBytes holds the original opcode bytes under a software site,
	// and PriorValue holds the last-observed memory value under a
	// hardware read-watchpoint emulation.
	SavedBytes []byte
	PriorValue []byte
}

// Equal reports whether two sites are the spec's notion of the "same"
// site: matching address, mode, size, and lifetime bitset.
func (s Site) Equal(o Site) bool {
	return s.Address == o.Address && s.Mode == o.Mode && s.Size == o.Size && s.Lifetime == o.Lifetime
}

// Installer is implemented by the Software/Hardware specializations to
// perform the architecture-specific install/uninstall of one Site.
type Installer interface {
	EnableLocation(site *Site, thread Thread) error
	DisableLocation(site *Site, thread Thread) error
	Enabled(thread Thread) bool
	ChooseBreakpointSize(mode Mode) (int, error)

	// ValidateSize reports whether (mode, size) is architecture- and
	// kind-legal for this installer, per spec.md §3's invariants (a)/
	// (c): exec-mode sizes are architecture-specific, Software accepts
	// exec mode only, and a raw read-only mode never reaches Hardware's
	// check (Hardware.Add promotes read to read|write before this is
	// called).
	ValidateSize(mode Mode, size int) error
}

// Thread is the minimal thread handle a breakpoint manager needs: it
// never outlives a single request, per spec.md §6's ownership note.
type Thread interface {
	TID() int
}

// Manager is the base site registry embedded by Software and Hardware.
// It is not used directly; construct a *Software or *Hardware instead.
type Manager struct {
	sites map[uint64]*Site
	install Installer
}

func newManager(install Installer) Manager {
	return Manager{sites: make(map[uint64]*Site), install: install}
}

// Clear drops every site without uninstalling it, matching the source's
// destructor comment ("cannot call clear() here"): callers must disable
// before discarding a Manager whose sites are installed.
func (m *Manager) Clear() { m.sites = make(map[uint64]*Site) }

// Add registers (or merges into) a site at address, per spec.md §4.2's
// base registry add() algorithm.
func (m *Manager) Add(address ptid.Address, lifetime Lifetime, size int, mode Mode) error {
	if err := m.isValid(address, size, mode); err != nil {
		return err
	}

	key := address.Value()
	if existing, ok := m.sites[key]; ok {
		if existing.Mode != mode || existing.Size != size {
			return errcode.New(errcode.InvalidArgument)
		}
		existing.Lifetime |= lifetime
		if lifetime&Permanent != 0 {
			existing.refs++
		}
		return nil
	}

	site := &Site{Address: address, Lifetime: lifetime, Mode: mode, Size: size}
	if lifetime&Permanent != 0 {
		site.refs = 1
	}
	m.sites[key] = site

	if m.install.Enabled(nil) {
		return m.install.EnableLocation(site, nil)
	}
	return nil
}

// Remove unregisters the site at address, per spec.md §4.2's remove().
func (m *Manager) Remove(address ptid.Address) error {
	if !address.Valid() {
		return errcode.New(errcode.InvalidArgument)
	}
	key := address.Value()
	site, ok := m.sites[key]
	if !ok {
		return errcode.New(errcode.NotFound)
	}

	if site.Lifetime&Permanent != 0 {
		site.refs--
		if site.refs > 0 {
			return nil
		}
	}

	if m.install.Enabled(nil) {
		if err := m.install.DisableLocation(site, nil); err != nil {
			delete(m.sites, key)
			return err
		}
	}
	delete(m.sites, key)
	return nil
}

// Has reports whether a site is registered at address.
func (m *Manager) Has(address ptid.Address) bool {
	if !address.Valid() {
		return false
	}
	_, ok := m.sites[address.Value()]
	return ok
}

// Enumerate invokes cb for every registered site in address order.
func (m *Manager) Enumerate(cb func(Site)) {
	keys := make([]uint64, 0, len(m.sites))
	for k := range m.sites {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		cb(*m.sites[k])
	}
}

// hit finds the site at address and, if found, strips its
// TemporaryUntilHit bit (it is garbage-collected on the next Disable),
// matching spec.md §4.2's hit() base logic.
func (m *Manager) hit(address ptid.Address) (Site, bool) {
	if !address.Valid() {
		return Site{}, false
	}
	site, ok := m.sites[address.Value()]
	if !ok {
		return Site{}, false
	}
	site.Lifetime &^= TemporaryUntilHit
	return *site, true
}

// isValid enforces spec.md §4.2 step 1 of add(): "Validate (address,
// size, mode) (architecture- and kind-specific; see §3 invariants)".
// Natural alignment (invariant (b)) is architecture-independent and
// checked directly; the rest is delegated to the installer, since only
// Software/Hardware know their architecture tag.
func (m *Manager) isValid(address ptid.Address, size int, mode Mode) error {
	if !address.Valid() {
		return errcode.New(errcode.InvalidArgument)
	}
	if size <= 0 {
		return errcode.New(errcode.InvalidArgument)
	}
	if mode != ModeExec && address.Value()%uint64(size) != 0 {
		return errcode.New(errcode.InvalidArgument)
	}
	return m.install.ValidateSize(mode, size)
}

// purgeOneShot deletes every site carrying TemporaryOneShot, invoked by
// Disable per spec.md §4.2: "disable... additionally deletes every site
// whose lifetime bitset contains temp-one-shot". It also deletes sites
// whose lifetime bitset hit() has emptied (a TemporaryUntilHit-only site
// after its hit).
func (m *Manager) purgeOneShot() {
	for k, s := range m.sites {
		if s.Lifetime&TemporaryOneShot != 0 || s.Lifetime == 0 {
			delete(m.sites, k)
		}
	}
}

// siteAt returns the live *Site at address for in-place mutation (e.g.
// hardware watchpoint PriorValue bookkeeping).
func (m *Manager) siteAt(address ptid.Address) (*Site, bool) {
	s, ok := m.sites[address.Value()]
	return s, ok
}
