// Package hotness implements the saturating per-data-block access
// counters and the periodic halving decay that derives the hot/cold flag
// consulted by every placement policy.
//
// Decay is the one hot loop the core is allowed to parallelise (it is the
// only pass that walks every data block rather than the handful touched
// by a single access), so Tracker carries both a sequential and a
// fan-out implementation of it; both must leave the tables in the same
// state for any given cycle count.
package hotness

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/cpu"
)

// OpType distinguishes a memory access for the purposes of the optional
// write/write-back filters.
type OpType uint8

const (
	Read OpType = iota
	Write
)

// Origin further classifies an access when TrackLoadStoreStatistics-style
// filtering is enabled (spec.md's "optional filters (configurable): ignore
// write-back traffic; ignore writes entirely").
type Origin uint8

const (
	OriginLoad Origin = iota
	OriginRFO
	OriginWriteback
	OriginPrefetch
)

// Options configures a Tracker.
type Options struct {
	NumBlocks            int
	Threshold            uint8
	IntervalForDecrement uint64
	IgnoreWriteback      bool
	IgnoreWrites         bool
	// TrackAccessBits allocates the VG-only per-line touch bitmap
	// (64 bits, one per 64B line within a 4KiB block).
	TrackAccessBits bool
}

// Tracker holds the CounterTable and HotnessTable named in spec.md §3,
// plus VG's per-block AccessTable when enabled.
type Tracker struct {
	counter   []uint8
	hot       []bool
	access    []uint64 // VG AccessTable: one bitmap word per block, nil otherwise
	threshold uint8
	interval  uint64
	cycle     uint64
	lastDecay uint64

	ignoreWriteback bool
	ignoreWrites    bool
}

func New(opts Options) *Tracker {
	t := &Tracker{
		counter:         make([]uint8, opts.NumBlocks),
		hot:             make([]bool, opts.NumBlocks),
		threshold:       opts.Threshold,
		interval:        opts.IntervalForDecrement,
		ignoreWriteback: opts.IgnoreWriteback,
		ignoreWrites:    opts.IgnoreWrites,
	}
	if opts.TrackAccessBits {
		t.access = make([]uint64, opts.NumBlocks)
	}
	return t
}

func (t *Tracker) NumBlocks() int { return len(t.counter) }

// Counter returns the current saturating counter value for block.
func (t *Tracker) Counter(block int) uint8 { return t.counter[block] }

// Hot reports whether block is currently flagged hot.
func (t *Tracker) Hot(block int) bool { return t.hot[block] }

// Observe applies one READ or WRITE to block, saturate-incrementing its
// counter and re-deriving the hot flag from Threshold.
func (t *Tracker) Observe(block int, op OpType, origin Origin) {
	if t.ignoreWrites && op == Write {
		return
	}
	if t.ignoreWriteback && origin == OriginWriteback {
		return
	}
	if t.counter[block] < 255 {
		t.counter[block]++
	}
	t.hot[block] = t.counter[block] >= t.threshold
}

// MarkAccess sets the VG AccessTable bit for lineOffset within block.
// No-op when the tracker was not constructed with TrackAccessBits.
func (t *Tracker) MarkAccess(block int, lineOffset uint64) {
	if t.access == nil {
		return
	}
	t.access[block] |= 1 << lineOffset
}

// AccessBits returns the raw 64-bit line-touch bitmap for block.
func (t *Tracker) AccessBits(block int) uint64 {
	if t.access == nil {
		return 0
	}
	return t.access[block]
}

// ClearAccess zeroes the AccessTable row for block (called on decay and
// after a VG group finishes migrating it).
func (t *Tracker) ClearAccess(block int) {
	if t.access != nil {
		t.access[block] = 0
	}
}

// HalveOne halves a single block's counter outside the normal decay
// cadence. Used by VG's cold_data_detection_in_group toggle, which
// halves sibling tags' counters on every access rather than waiting for
// the next interval-wide decay pass (spec.md §9's second preserved Open
// Question).
func (t *Tracker) HalveOne(block int) {
	t.counter[block] >>= 1
	if t.counter[block] == 0 {
		t.hot[block] = false
		t.ClearAccess(block)
	}
}

// Tick advances the cycle counter and runs decay every
// IntervalForDecrement cycles, reporting whether a decay pass ran.
func (t *Tracker) Tick() bool {
	t.cycle++
	if t.interval == 0 || t.cycle-t.lastDecay < t.interval {
		return false
	}
	t.lastDecay = t.cycle
	t.Decay()
	return true
}

func (t *Tracker) Cycle() uint64 { return t.cycle }

// Decay halves every counter, clearing the hot flag (and VG access bits)
// for any block whose counter reaches zero. Sequential baseline; see
// DecayParallel for the fan-out variant that must match it exactly.
func (t *Tracker) Decay() {
	t.decayRange(0, len(t.counter))
}

func (t *Tracker) decayRange(lo, hi int) {
	for i := lo; i < hi; i++ {
		t.counter[i] >>= 1
		if t.counter[i] == 0 {
			t.hot[i] = false
			t.ClearAccess(i)
		}
	}
}

// decayWorkerStats is padded to a cache line so concurrent DecayParallel
// workers never false-share a counter while tallying how many blocks
// they cleared.
type decayWorkerStats struct {
	cleared uint64
	_       cpu.CacheLinePad
}

// DecayParallel performs the identical halving pass as Decay, fanned out
// over disjoint index ranges with errgroup. Each worker owns a
// contiguous, non-overlapping slice range, so no synchronization is
// needed beyond the final join; the cache-line padding only protects the
// per-worker "cleared" tally this function returns for statistics, not
// correctness of the decay itself.
func (t *Tracker) DecayParallel(ctx context.Context) (cleared uint64, err error) {
	n := len(t.counter)
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if t.counter[i] == 0 {
				t.hot[i] = false
				t.ClearAccess(i)
				continue
			}
			t.counter[i] >>= 1
			if t.counter[i] == 0 {
				t.hot[i] = false
				t.ClearAccess(i)
				cleared++
			}
		}
		return cleared, nil
	}

	stats := make([]decayWorkerStats, workers)
	chunk := (n + workers - 1) / workers

	g, _ := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		lo := w * chunk
		hi := lo + chunk
		if lo >= n {
			continue
		}
		if hi > n {
			hi = n
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if t.counter[i] == 0 {
					t.hot[i] = false
					t.ClearAccess(i)
					continue
				}
				t.counter[i] >>= 1
				if t.counter[i] == 0 {
					t.hot[i] = false
					t.ClearAccess(i)
					stats[w].cleared++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	for i := range stats {
		cleared += stats[i].cleared
	}
	return cleared, nil
}

