package mp

import (
	"fmt"

	"github.com/Maemo32/hymem/addr"
	"github.com/Maemo32/hymem/hotness"
	"github.com/Maemo32/hymem/policy"
	"github.com/Maemo32/hymem/queue"
)

// Options configures a Policy. BlockSize is fixed at SegmentSize (2048
// bytes) but is accepted for the same reason llt.Options accepts it:
// callers building every policy from one config.Options shouldn't need
// a special case.
type Options struct {
	TotalCapacity      uint64
	FastMemoryCapacity uint64
	BlockSize          uint64 // must be SegmentSize

	// EpochIntervalCycles is the simulated-cycle length of one epoch
	// (TIME_INTERVAL_MEMPOD_us = 50 in the reference model; Tick's
	// caller is responsible for translating its own cycle-to-time
	// ratio into a cycle count before constructing Options).
	EpochIntervalCycles uint64
	// HotThreshold is the MEA counter value a segment must reach to be
	// considered for a swap at the epoch boundary.
	HotThreshold uint8
	// MEACounterResetEveryEpoch mirrors MEA_COUNTER_RESET_EVERY_EPOCH:
	// when true every counter is cleared at each epoch boundary
	// regardless of whether it was swapped; when false every counter,
	// including those of segments just swapped, carries over unchanged
	// into the next epoch.
	MEACounterResetEveryEpoch bool

	QueueLength         int
	BusyDegreeThreshold float64
}

// Policy is the MP conformance of policy.Engine: epoch-based bulk swap
// of whole 2KiB segments between the physical address space and a
// fixed pool of fast-memory segment slots, tracked through a
// mutual-inverse remapping table rather than a per-set location field.
type Policy struct {
	geo     addr.Geometry
	mea     *MEACounterTable
	remap   *RemapTable
	queue   *queue.Queue
	opts    Options
	total   uint64
	busyMax float64

	cycle      uint64
	lastEpoch  uint64
	fmSegments uint64
	swapCursor uint64 // rotating index into the FM segment pool

	lastVerdict policy.Verdict
}

func New(opts Options) (*Policy, error) {
	if opts.BlockSize == 0 {
		opts.BlockSize = SegmentSize
	}
	if opts.BlockSize != SegmentSize {
		return nil, fmt.Errorf("mp: block size must be %d, got %d", SegmentSize, opts.BlockSize)
	}
	if opts.HotThreshold == 0 {
		opts.HotThreshold = 1
	}
	if opts.BusyDegreeThreshold == 0 {
		opts.BusyDegreeThreshold = 0.8
	}
	if opts.QueueLength == 0 {
		opts.QueueLength = 64
	}
	if opts.EpochIntervalCycles == 0 {
		opts.EpochIntervalCycles = 50
	}
	geo, err := addr.NewGeometry(opts.BlockSize, opts.BlockSize, opts.FastMemoryCapacity, 0)
	if err != nil {
		return nil, err
	}
	return &Policy{
		geo:        geo,
		mea:        NewMEACounterTable(),
		remap:      NewRemapTable(),
		queue:      queue.New(opts.QueueLength),
		opts:       opts,
		total:      opts.TotalCapacity,
		busyMax:    opts.BusyDegreeThreshold,
		fmSegments: opts.FastMemoryCapacity / SegmentSize,
	}, nil
}

// LastVerdict reports what the most recent Track call decided, for
// policy.Engine's telemetry conformance. MP never enqueues a swap
// synchronously from Track (that only happens at an epoch boundary, in
// Tick), so this is always VerdictNone for a successfully tracked
// access.
func (p *Policy) LastVerdict() policy.Verdict { return p.lastVerdict }

// Track records one access to physAddr's segment in the MEA counter
// table. Swap decisions are made only at epoch boundaries (Tick), not
// on every access, matching the reference model's batched design.
func (p *Policy) Track(physAddr uint64, op hotness.OpType, origin hotness.Origin, busyDegree float64) bool {
	p.lastVerdict = policy.VerdictNone
	if physAddr >= p.total {
		return false
	}
	segment := p.geo.BlockIndex(physAddr)
	p.mea.Observe(segment)
	return true
}

// Translate resolves physAddr's segment through the mutual-inverse
// remap table; absent entries are identity-mapped (still resident at
// their physical address).
func (p *Policy) Translate(physAddr uint64) uint64 {
	segment := p.geo.BlockIndex(physAddr)
	hwSegment := p.remap.Translate(segment)
	offset := addr.GetBits(physAddr, 0, p.geo.BlockOffsetBits)
	return hwSegment<<p.geo.BlockOffsetBits | offset
}

// Tick advances the cycle counter and, once EpochIntervalCycles have
// elapsed, runs the epoch boundary procedure: rank hot segments,
// enqueue a bulk swap for each against the next fast-memory slot in
// rotation, per spec.md §4.5 and scenario S5.
func (p *Policy) Tick() {
	p.cycle++
	if p.cycle-p.lastEpoch < p.opts.EpochIntervalCycles {
		return
	}
	p.lastEpoch = p.cycle
	p.runEpochBoundary()
}

func (p *Policy) runEpochBoundary() {
	if p.fmSegments == 0 {
		return
	}
	hot := p.mea.HotPages(p.opts.HotThreshold)
	for _, segment := range hot {
		if p.remap.Translate(segment) < p.fmSegments {
			continue // current hardware location is already in FM
		}
		target := p.swapCursor % p.fmSegments
		p.swapCursor++
		if target == segment {
			continue // would self-pair; retry this segment next epoch
		}

		req := queue.Request{
			AddressInFM: target * SegmentSize,
			AddressInSM: segment * SegmentSize,
			FMLocation:  0,
			SMLocation:  1,
			Size:        SwapLines,
		}
		p.queue.Enqueue(req, queue.SamePairMatcher)
	}
	if p.opts.MEACounterResetEveryEpoch {
		p.mea.Reset()
	}
}

// Issue peeks the oldest queued swap without removing it.
func (p *Policy) Issue() (queue.Request, bool) {
	return p.queue.Issue()
}

// Finish pops the oldest queued swap and installs the new mutual-
// inverse mapping pair, exchanging the incoming segment with whichever
// segment the target FM slot currently holds (resolved against the
// live remap table at pop time, not at enqueue time).
func (p *Policy) Finish() bool {
	req, ok := p.queue.Pop()
	if !ok {
		panic("mp: finish called on an empty queue")
	}
	target := req.AddressInFM / SegmentSize
	candidate := req.AddressInSM / SegmentSize
	p.remap.Exchange(candidate, target)
	return true
}

func (p *Policy) Congestion() uint64 { return p.queue.Congestion() }

func (p *Policy) Geometry() addr.Geometry { return p.geo }

func (p *Policy) String() string {
	return fmt.Sprintf("mp.Policy{fmSegments=%d queueLen=%d congestion=%d}", p.fmSegments, p.queue.Len(), p.queue.Congestion())
}
