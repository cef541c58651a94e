package llt

import (
	"fmt"

	"github.com/Maemo32/hymem/addr"
	"github.com/Maemo32/hymem/hotness"
	"github.com/Maemo32/hymem/policy"
	"github.com/Maemo32/hymem/queue"
)

// Options configures a Policy. BlockSize is fixed at 64 bytes (the LLT
// data block IS one cache line) but is accepted here so callers building
// from a single config.Options don't need a special case.
type Options struct {
	TotalCapacity        uint64
	FastMemoryCapacity   uint64
	BlockSize            uint64 // must be 64
	N                     int    // members per congruence group, default 5
	LocationBits          uint   // default 3
	HotnessThreshold      uint8
	IntervalForDecrement  uint64
	QueueLength           int
	BusyDegreeThreshold   float64
}

// Policy is the LLT conformance of policy.Engine.
type Policy struct {
	geo     addr.Geometry
	table   *Table
	tracker *hotness.Tracker
	queue   *queue.Queue
	busyMax float64
	total   uint64

	lastVerdict policy.Verdict
}

func New(opts Options) (*Policy, error) {
	if opts.N <= 0 {
		opts.N = 5
	}
	if opts.LocationBits == 0 {
		opts.LocationBits = 3
	}
	if opts.BusyDegreeThreshold == 0 {
		opts.BusyDegreeThreshold = 0.8
	}
	if opts.QueueLength == 0 {
		opts.QueueLength = 64
	}
	geo, err := addr.NewGeometry(opts.BlockSize, opts.BlockSize, opts.FastMemoryCapacity, opts.LocationBits)
	if err != nil {
		return nil, err
	}
	numBlocks := int(opts.TotalCapacity / opts.BlockSize)
	p := &Policy{
		geo:     geo,
		table:   NewTable(int(geo.SetCount), opts.N, opts.LocationBits),
		tracker: hotness.New(hotness.Options{NumBlocks: numBlocks, Threshold: opts.HotnessThreshold, IntervalForDecrement: opts.IntervalForDecrement}),
		queue:   queue.New(opts.QueueLength),
		busyMax: opts.BusyDegreeThreshold,
		total:   opts.TotalCapacity,
	}
	return p, nil
}

// LastVerdict reports what the most recent Track call decided, for
// policy.Engine's telemetry conformance.
func (p *Policy) LastVerdict() policy.Verdict { return p.lastVerdict }

func (p *Policy) Track(physAddr uint64, op hotness.OpType, origin hotness.Origin, busyDegree float64) bool {
	p.lastVerdict = policy.VerdictNone
	if physAddr >= p.total {
		return false
	}
	block := int(p.geo.BlockIndex(physAddr))
	set := int(p.geo.SetIndex(physAddr))
	tag := int(p.geo.Tag(physAddr))

	p.tracker.Observe(block, op, origin)

	loc := p.table.Get(set, tag)
	if p.tracker.Hot(block) && loc != 0 {
		if busyDegree <= p.busyMax {
			fmTag := p.table.NativeTag(set)
			req := queue.Request{
				AddressInFM: p.geo.Compose(uint64(set), 0, 0), // destination: currently-native FM slot's address
				AddressInSM: physAddr &^ ((1 << p.geo.BlockOffsetBits) - 1),
				FMLocation:  uint8(fmTag),
				SMLocation:  uint8(tag),
				Size:        1,
				SetIndex:    uint64(set),
			}
			p.queue.Enqueue(req, queue.SameSetMatcher)
			p.lastVerdict = policy.VerdictEnqueuedMigration
		}
	} else if loc == 0 {
		p.lastVerdict = policy.VerdictHit
	}
	return true
}

func (p *Policy) Translate(physAddr uint64) uint64 {
	set := p.geo.SetIndex(physAddr)
	tag := p.geo.Tag(physAddr)
	loc := p.table.Get(int(set), int(tag))
	offset := p.geo.BlockOffset(physAddr)
	return p.geo.Compose(set, uint64(loc), offset)
}

func (p *Policy) Tick() {
	p.tracker.Tick()
}

func (p *Policy) Issue() (queue.Request, bool) {
	return p.queue.Issue()
}

// Finish pops the oldest request and swaps the two location slots it
// names, validating the permutation invariant.
func (p *Policy) Finish() bool {
	req, ok := p.queue.Pop()
	if !ok {
		panic("llt: finish called on an empty queue")
	}
	set := int(req.SetIndex)
	p.table.Swap(set, int(req.FMLocation), int(req.SMLocation))
	return true
}

func (p *Policy) Congestion() uint64 { return p.queue.Congestion() }

func (p *Policy) Geometry() addr.Geometry { return p.geo }

func (p *Policy) String() string {
	return fmt.Sprintf("llt.Policy{sets=%d n=%d queueLen=%d congestion=%d}", p.geo.SetCount, p.table.N(), p.queue.Len(), p.queue.Congestion())
}
