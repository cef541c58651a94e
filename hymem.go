// Package hymem is the external interface of the hybrid-memory
// simulator core: one Core wraps whichever placement policy
// config.Options selects and exposes the track/translate/issue/finish
// cycle every caller drives, regardless of which policy is underneath.
package hymem

import (
	"context"
	"fmt"

	"github.com/Maemo32/hymem/addr"
	"github.com/Maemo32/hymem/hotness"
	"github.com/Maemo32/hymem/internal/config"
	"github.com/Maemo32/hymem/internal/telemetry"
	"github.com/Maemo32/hymem/llt"
	"github.com/Maemo32/hymem/mp"
	"github.com/Maemo32/hymem/policy"
	"github.com/Maemo32/hymem/queue"
	"github.com/Maemo32/hymem/vg"
)

// Core is the OS-transparent memory-management core named in spec.md
// §6's External Interfaces: it holds exactly one policy.Engine,
// selected at construction, and never exposes which one to callers
// beyond PolicyName.
type Core struct {
	engine policy.Engine
	opts   *config.Options

	counters *telemetry.Counters
	observer *telemetry.Observer
}

// New constructs a Core for the policy named in opts.Policy.
func New(opts *config.Options) (*Core, error) {
	if opts == nil {
		opts = config.NewDefaultOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var engine policy.Engine
	var err error
	switch opts.Policy {
	case config.PolicyLLT:
		engine, err = llt.New(llt.Options{
			TotalCapacity:        opts.TotalCapacity,
			FastMemoryCapacity:   opts.FastMemoryCapacity,
			BlockSize:            64,
			N:                    opts.N,
			LocationBits:         opts.LocationBits,
			HotnessThreshold:     opts.HotnessThreshold,
			IntervalForDecrement: opts.IntervalForDecrement,
			QueueLength:          opts.QueueLength,
			BusyDegreeThreshold:  opts.BusyDegreeThreshold,
		})
	case config.PolicyVG:
		engine, err = vg.New(vg.Options{
			TotalCapacity:            opts.TotalCapacity,
			FastMemoryCapacity:       opts.FastMemoryCapacity,
			BlockSize:                opts.BlockSize,
			LineSize:                 opts.LineSize,
			N:                        opts.N,
			HotnessThreshold:         opts.HotnessThreshold,
			IntervalForDecrement:     opts.IntervalForDecrement,
			QueueLength:              opts.QueueLength,
			BusyDegreeThreshold:      opts.BusyDegreeThreshold,
			FlexibleDataPlacement:    opts.FlexibleDataPlacement,
			FlexibleGranularity:      opts.FlexibleGranularity,
			DataEviction:             opts.DataEviction,
			ImmediateEviction:        opts.ImmediateEviction,
			ColdDataDetectionInGroup: opts.ColdDataDetectionInGroup,
		})
	case config.PolicyMP:
		// EpochInterval is expressed in wall-clock time; this core treats
		// one simulated cycle as one nanosecond, so the conversion is a
		// straight cast rather than a clock-rate multiply.
		engine, err = mp.New(mp.Options{
			TotalCapacity:             opts.TotalCapacity,
			FastMemoryCapacity:        opts.FastMemoryCapacity,
			BlockSize:                 mp.SegmentSize,
			EpochIntervalCycles:       uint64(opts.EpochInterval),
			HotThreshold:              1,
			MEACounterResetEveryEpoch: opts.MEACounterResetEveryEpoch,
			QueueLength:               opts.QueueLength,
			BusyDegreeThreshold:       opts.BusyDegreeThreshold,
		})
	default:
		return nil, fmt.Errorf("hymem: unknown policy %q", opts.Policy)
	}
	if err != nil {
		return nil, err
	}

	counters := &telemetry.Counters{}
	observer := telemetry.NewObserver(counters, telemetry.NewLogger(nil), 256)
	return &Core{engine: engine, opts: opts, counters: counters, observer: observer}, nil
}

// PolicyName reports which policy this Core was constructed with.
func (c *Core) PolicyName() config.Policy { return c.opts.Policy }

// Track applies one memory access, returning false only when physAddr
// falls outside the configured address range. The engine's verdict for
// this access is posted to the Observer for async tallying, off the
// hot path.
func (c *Core) Track(physAddr uint64, op hotness.OpType, origin hotness.Origin, busyDegree float64) bool {
	ok := c.engine.Track(physAddr, op, origin, busyDegree)
	c.observer.Post(c.engine.LastVerdict())
	return ok
}

// Counters returns a snapshot of the Track verdict tallies accumulated
// over this Core's lifetime.
func (c *Core) Counters() telemetry.Counters {
	return c.counters.Snapshot()
}

// Stats formats a one-line human-readable summary of this Core's
// counters, the same role suprax_legacy.go's Stats() served for the CPU
// core it was adapted from.
func (c *Core) Stats() string {
	cn := c.Counters()
	return fmt.Sprintf(
		"policy=%s congestion=%d enqueuedMigration=%d enqueuedEviction=%d deniedNoFreeSpace=%d deniedNoInvalidGroup=%d deniedExpansionBlocked=%d hits=%d",
		c.opts.Policy, c.Congestion(),
		cn.EnqueuedMigration, cn.EnqueuedEviction,
		cn.DeniedNoFreeSpace, cn.DeniedNoInvalidGroup, cn.DeniedExpansionBlocked,
		cn.Hits,
	)
}

// Close stops the background Observer goroutine, waiting for it to
// drain whatever verdicts were already buffered. Callers that construct
// a Core should defer Close once done driving it.
func (c *Core) Close() {
	c.observer.Close()
}

// Translate computes the current hardware address for physAddr.
func (c *Core) Translate(physAddr uint64) uint64 {
	return c.engine.Translate(physAddr)
}

// Tick advances the simulated cycle count by one, running hotness
// decay and (for MP) the epoch boundary procedure as their intervals
// elapse.
func (c *Core) Tick() {
	c.engine.Tick()
}

// Issue peeks the oldest queued remapping request without removing it.
func (c *Core) Issue() (queue.Request, bool) {
	return c.engine.Issue()
}

// Finish pops the oldest queued request and applies it to the
// policy's metadata. Panics if the queue is empty.
func (c *Core) Finish() bool {
	return c.engine.Finish()
}

// Congestion reports how many enqueue attempts were dropped for a full
// queue over this Core's lifetime.
func (c *Core) Congestion() uint64 {
	return c.engine.Congestion()
}

// DrainPending repeatedly issues and finishes queued requests until
// the queue is empty or ctx is cancelled, returning how many were
// applied. Convenience for callers that don't care about pacing
// finish() against their own cycle loop.
func (c *Core) DrainPending(ctx context.Context) (int, error) {
	applied := 0
	for {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		default:
		}
		if _, ok := c.Issue(); !ok {
			return applied, nil
		}
		c.Finish()
		applied++
	}
}

// Geometry exposes the underlying policy's address geometry, primarily
// for tests and cmd/hymemsim's trace driver to compute synthetic
// addresses against the real set count.
func (c *Core) Geometry() (addr.Geometry, bool) {
	type geometer interface{ Geometry() addr.Geometry }
	if g, ok := c.engine.(geometer); ok {
		return g.Geometry(), true
	}
	return addr.Geometry{}, false
}
