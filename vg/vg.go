// Package vg implements the variable-granularity placement policy:
// contiguous 64B-4KiB runs migrated within a 4KiB congruence group,
// packing up to N non-native groups per FM set, with the remaining
// space implicitly belonging to native tag 0.
package vg

import "fmt"

// granularityTiers are the only sizes a migrated run may take, per
// spec.md §3's VG Placement Entry definition.
var granularityTiers = [...]uint16{64, 128, 256, 512, 1024, 2048, 4096}

// RoundUp returns the smallest supported granularity >= bytes.
func RoundUp(bytes int) uint16 {
	for _, g := range granularityTiers {
		if int(g) >= bytes {
			return g
		}
	}
	return granularityTiers[len(granularityTiers)-1]
}

// RoundDown returns the largest supported granularity <= bytes (bytes
// must be > 0; callers round down only when shrinking a plan that
// already exceeded available free space).
func RoundDown(bytes int) uint16 {
	best := granularityTiers[0]
	for _, g := range granularityTiers {
		if int(g) <= bytes {
			best = g
		} else {
			break
		}
	}
	return best
}

// GroupEntry is one packed (tag, start, granularity) slot of a VG
// Placement Entry.
type GroupEntry struct {
	Tag         uint8
	Start       uint8  // line offset within the 4KiB group, [0,64)
	Granularity uint16 // bytes, one of granularityTiers
}

func (g GroupEntry) lines() uint8 { return uint8(g.Granularity / 64) }
func (g GroupEntry) endLine() int { return int(g.Start) + int(g.lines()) - 1 }
func (g GroupEntry) covers(line int) bool {
	return line >= int(g.Start) && line <= g.endLine()
}

// PlacementEntry is the per-FM-set table: up to N groups in insertion
// order plus a cursor, per spec.md §3.
type PlacementEntry struct {
	groups []GroupEntry
	cursor int
}

func newPlacementEntry(n int) *PlacementEntry {
	return &PlacementEntry{groups: make([]GroupEntry, n)}
}

func (p *PlacementEntry) Cursor() int { return p.cursor }
func (p *PlacementEntry) N() int      { return len(p.groups) }

// Group returns the i'th group (0 <= i < Cursor()).
func (p *PlacementEntry) Group(i int) GroupEntry { return p.groups[i] }

// findByTag returns the index of the first active group for tag, or -1.
// A tag can hold more than one group: Finish extends the tail group in
// place when it can, and otherwise appends a new group for the same tag
// at the cursor. Groups after the first one for tag are not searched.
func (p *PlacementEntry) findByTag(tag uint8) int {
	for i := 0; i < p.cursor; i++ {
		if p.groups[i].Tag == tag {
			return i
		}
	}
	return -1
}

// findCovering returns the index of the group covering line, or -1.
func (p *PlacementEntry) findCovering(line int) int {
	for i := 0; i < p.cursor; i++ {
		if p.groups[i].covers(line) {
			return i
		}
	}
	return -1
}

func (p *PlacementEntry) usedSpace() int {
	used := 0
	for i := 0; i < p.cursor; i++ {
		used += int(p.groups[i].Granularity)
	}
	return used
}

// Verify panics if the Σgranularity <= 4KiB or start+granularity-1 < 64
// invariants are violated (spec.md §8).
func (p *PlacementEntry) Verify() {
	sum := 0
	for i := 0; i < p.cursor; i++ {
		g := p.groups[i]
		if int(g.Start)+int(g.Granularity/64)-1 >= 64 {
			panic(fmt.Sprintf("vg: group %+v exceeds the 4KiB congruence group bound", g))
		}
		sum += int(g.Granularity)
	}
	if sum > 4096 {
		panic(fmt.Sprintf("vg: Σgranularity = %d exceeds 4096", sum))
	}
	if p.cursor > len(p.groups) {
		panic(fmt.Sprintf("vg: cursor %d exceeds N=%d", p.cursor, len(p.groups)))
	}
}

// Table holds one PlacementEntry per FM set.
type Table struct {
	n       int
	entries []*PlacementEntry
}

func NewTable(sets, n int) *Table {
	t := &Table{n: n, entries: make([]*PlacementEntry, sets)}
	for i := range t.entries {
		t.entries[i] = newPlacementEntry(n)
	}
	return t
}

func (t *Table) Entry(set int) *PlacementEntry { return t.entries[set] }
