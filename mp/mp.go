// Package mp implements the epoch-based bulk-swap placement policy:
// top-K hot 2KiB segments tracked over fixed time intervals, swapped
// against a rotating fast-memory pointer with a shadow remapping table.
package mp

import (
	"container/heap"
	"fmt"

	"github.com/Maemo32/hymem/queue"
)

const (
	// SegmentSize is DATA_MANAGEMENT_GRANULARITY for MP.
	SegmentSize = 2048
	// SwapLines is SWAP_DATA_CACHE_LINES: a swap always moves exactly
	// one segment's worth of 64B cache lines.
	SwapLines = SegmentSize / 64
	// MaxLiveCounters is NUMBER_MEA_COUNTER.
	MaxLiveCounters = 16
	// CounterMax is MEA_COUNTER_MAX_VALUE.
	CounterMax = 4
)

// meaSlot is one content-addressable entry: which segment it tracks,
// its saturating access counter, and an unsaturated hit tally used
// only to break ties once the counter itself has pinned at CounterMax.
type meaSlot struct {
	segment uint64
	count   uint8
	hits    uint64
}

// MEACounterTable is the fixed 16-entry hardware counter bank named in
// spec.md §4.5 (NUMBER_MEA_COUNTER), modeled as a small
// content-addressable memory rather than an unbounded Go map: Observe
// does a linear CAM-style scan for a matching segment, and
// occupied tracks which of the MaxLiveCounters slots currently hold a
// live entry the same way the reservation-station occupancy bitmap
// this module grew out of tracks free/busy station slots.
type MEACounterTable struct {
	slots    [MaxLiveCounters]meaSlot
	occupied queue.Bitmap64
}

func NewMEACounterTable() *MEACounterTable {
	return &MEACounterTable{}
}

// find returns the slot index currently tracking segment, or -1.
func (c *MEACounterTable) find(segment uint64) int {
	rest := c.occupied
	for {
		slot, next, ok := rest.PopFirstSet()
		if !ok {
			return -1
		}
		if c.slots[slot].segment == segment {
			return slot
		}
		rest = next
	}
}

// Observe applies one access to segment, per the three-branch rule in
// spec.md §4.5: saturate-increment if tracked; insert into a free slot
// if there is room; otherwise age every live counter down by one, drop
// any that reach zero, then retry the insertion.
func (c *MEACounterTable) Observe(segment uint64) {
	if slot := c.find(segment); slot >= 0 {
		if c.slots[slot].count < CounterMax {
			c.slots[slot].count++
		}
		c.slots[slot].hits++
		return
	}
	if c.insertFree(segment) {
		return
	}
	c.ageAndEvictZero()
	c.insertFree(segment)
}

func (c *MEACounterTable) insertFree(segment uint64) bool {
	slot, ok := c.occupied.FirstFree(MaxLiveCounters)
	if !ok {
		return false
	}
	c.slots[slot] = meaSlot{segment: segment, count: 1, hits: 1}
	c.occupied.Set(slot)
	return true
}

func (c *MEACounterTable) ageAndEvictZero() {
	rest := c.occupied
	for {
		slot, next, ok := rest.PopFirstSet()
		if !ok {
			return
		}
		rest = next
		c.slots[slot].count--
		if c.slots[slot].count == 0 {
			c.occupied.Clear(slot)
		}
	}
}

func (c *MEACounterTable) Reset() {
	c.occupied = 0
}

func (c *MEACounterTable) Len() int { return c.occupied.Count() }

// segmentCount pairs a segment address with its ranking hit tally, used
// to build the top-K hot-page heap at an epoch boundary.
type segmentCount struct {
	segment uint64
	hits    uint64
}

type segmentCountHeap []segmentCount

func (h segmentCountHeap) Len() int { return len(h) }

// Less sorts descending by hit count so Pop always removes the
// currently hottest segment first (spec.md §4.5 step 1: "sorted by
// descending count"), breaking ties by segment address for
// determinism.
func (h segmentCountHeap) Less(i, j int) bool {
	if h[i].hits != h[j].hits {
		return h[i].hits > h[j].hits
	}
	return h[i].segment < h[j].segment
}
func (h segmentCountHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *segmentCountHeap) Push(x any)   { *h = append(*h, x.(segmentCount)) }
func (h *segmentCountHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// HotPages returns segments whose saturating counter reached threshold,
// sorted by descending raw hit count (the tie-break signal CounterMax
// saturation throws away).
func (c *MEACounterTable) HotPages(threshold uint8) []uint64 {
	h := make(segmentCountHeap, 0, c.occupied.Count())
	rest := c.occupied
	for {
		slot, next, ok := rest.PopFirstSet()
		if !ok {
			break
		}
		rest = next
		if c.slots[slot].count >= threshold {
			h = append(h, segmentCount{segment: c.slots[slot].segment, hits: c.slots[slot].hits})
		}
	}
	heap.Init(&h)
	out := make([]uint64, 0, len(h))
	for h.Len() > 0 {
		out = append(out, heap.Pop(&h).(segmentCount).segment)
	}
	return out
}

// RemapTable holds the mutual-inverse physical<->hardware segment maps
// named in spec.md §3. Absence of an entry means identity mapping.
type RemapTable struct {
	forward map[uint64]uint64 // physical segment -> hardware segment
	inverse map[uint64]uint64 // hardware segment -> physical segment
}

func NewRemapTable() *RemapTable {
	return &RemapTable{forward: map[uint64]uint64{}, inverse: map[uint64]uint64{}}
}

// Translate looks up address_remapping[physicalSegment], returning the
// identity mapping if absent.
func (r *RemapTable) Translate(physicalSegment uint64) uint64 {
	if hw, ok := r.forward[physicalSegment]; ok {
		return hw
	}
	return physicalSegment
}

// install sets physical's hardware location to hw, clearing both map
// entries instead when that location is the identity (hw == physical)
// so identity-resident segments never accumulate stale table entries.
func (r *RemapTable) install(physical, hw uint64) {
	if physical == hw {
		delete(r.forward, physical)
		delete(r.inverse, hw)
		return
	}
	r.forward[physical] = hw
	r.inverse[hw] = physical
}

// Exchange moves candidate into hardware slot target, displacing
// whichever physical segment currently occupies target out to
// candidate's own former hardware location. This is a true swap of two
// segments' table entries, not a one-directional overwrite: both sides
// of the exchange get a consistent forward/inverse pair, so the
// displaced occupant never keeps stealing its old slot via a stale
// identity assumption. Absent entries default to identity residency,
// matching Translate. Then verifies the mutual-inverse invariant
// (spec.md §8).
func (r *RemapTable) Exchange(candidate, target uint64) {
	occupant, ok := r.inverse[target]
	if !ok {
		occupant = target
	}
	candidateHW := r.Translate(candidate)

	r.install(candidate, target)
	r.install(occupant, candidateHW)
	r.Verify()
}

// Verify panics if the forward/inverse maps are ever not mutual
// inverses of one another.
func (r *RemapTable) Verify() {
	for p, h := range r.forward {
		if r.inverse[h] != p {
			panic(fmt.Sprintf("mp: remap tables diverged for physical segment %#x -> hardware %#x", p, h))
		}
	}
	for h, p := range r.inverse {
		if r.forward[p] != h {
			panic(fmt.Sprintf("mp: remap tables diverged for hardware segment %#x -> physical %#x", h, p))
		}
	}
}
