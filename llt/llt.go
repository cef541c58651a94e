// Package llt implements the line-granularity congruence-group location
// table policy: cache-line migration within an N-way congruence group
// stored in a bit-packed entry per FM set.
package llt

import (
	"fmt"

	"github.com/Maemo32/hymem/addr"
)

// Table holds one packed location entry per FM set. entry[set] stores,
// for each tag in [0,N), the FM-set-local location currently holding the
// data block whose native tag is that value. Location 0 always means
// "natively resident in FM". The multiset of stored locations for a set
// must always be a permutation of {0,...,N-1}; Swap enforces this by
// construction and Verify double-checks it after every mutation, since a
// broken permutation is a fatal contract violation (spec.md §7/§8).
type Table struct {
	n       int
	locBits uint
	entries []uint32
}

// NewTable allocates a Table for sets congruence groups of n members
// each, with each packed location field locBits wide, initialized to the
// identity permutation (location[tag] = tag for every tag), matching
// spec.md §3's stated default.
func NewTable(sets, n int, locBits uint) *Table {
	t := &Table{n: n, locBits: locBits, entries: make([]uint32, sets)}
	identity := t.pack(identityLocations(n))
	for i := range t.entries {
		t.entries[i] = identity
	}
	return t
}

func identityLocations(n int) []uint32 {
	locs := make([]uint32, n)
	for i := range locs {
		locs[i] = uint32(i)
	}
	return locs
}

func (t *Table) fieldOffset(tag int) uint {
	return uint(t.n-1-tag) * t.locBits
}

func (t *Table) pack(locations []uint32) uint32 {
	var word uint32
	for tag, loc := range locations {
		off := t.fieldOffset(tag)
		word = uint32(addr.ReplaceBits(uint64(word), uint64(loc), off, off+t.locBits))
	}
	return word
}

// Get returns the location currently holding the data block whose
// native tag is tag, within the given FM set.
func (t *Table) Get(set int, tag int) uint8 {
	off := t.fieldOffset(tag)
	return uint8(addr.GetBits(uint64(t.entries[set]), off, off+t.locBits))
}

func (t *Table) setField(set int, tag int, location uint32) {
	off := t.fieldOffset(tag)
	t.entries[set] = uint32(addr.ReplaceBits(uint64(t.entries[set]), uint64(location), off, off+t.locBits))
}

// NativeTag returns the tag whose current location equals 0 (the
// native-FM slot within this set) -- this is what track() calls
// "fm_tag" before enqueuing a migration.
func (t *Table) NativeTag(set int) int {
	for tag := 0; tag < t.n; tag++ {
		if t.Get(set, tag) == 0 {
			return tag
		}
	}
	panic(fmt.Sprintf("llt: set %d has no native (location-0) tag; permutation invariant already broken", set))
}

// Swap exchanges the location values stored at tag indices a and b
// (spec.md §4.3 Finish: "entry[set][fm_location] ↔ entry[set][sm_location]",
// where fm_location/sm_location from the completed request are tag
// indices into this table, not raw FM locations). Panics if the
// resulting entry is not a permutation of {0,...,N-1}.
func (t *Table) Swap(set int, a, b int) {
	va, vb := t.Get(set, a), t.Get(set, b)
	t.setField(set, a, uint32(vb))
	t.setField(set, b, uint32(va))
	t.Verify(set)
}

// Verify panics if entry[set] is not currently a permutation of
// {0,...,N-1}. Exposed so tests can assert the invariant directly, and
// to give the fatal-on-violation contract (spec.md §7/§8) one clear
// call site.
func (t *Table) Verify(set int) {
	seen := make([]bool, t.n)
	for tag := 0; tag < t.n; tag++ {
		loc := int(t.Get(set, tag))
		if loc < 0 || loc >= t.n || seen[loc] {
			panic(fmt.Sprintf("llt: permutation invariant violated for set %d", set))
		}
		seen[loc] = true
	}
}

func (t *Table) N() int { return t.n }
