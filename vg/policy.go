package vg

import (
	"math/bits"

	"github.com/Maemo32/hymem/addr"
	"github.com/Maemo32/hymem/hotness"
	"github.com/Maemo32/hymem/policy"
	"github.com/Maemo32/hymem/queue"
)

// Options configures a Policy. BlockSize is fixed at 4096, LineSize at 64.
type Options struct {
	TotalCapacity        uint64
	FastMemoryCapacity   uint64
	BlockSize            uint64 // 4096
	LineSize             uint64 // 64
	N                    int    // groups per set, default 8
	HotnessThreshold     uint8
	IntervalForDecrement uint64
	QueueLength          int
	BusyDegreeThreshold  float64

	// FlexibleDataPlacement lets a hot access whose tag already has a
	// non-tail group enqueue a further migration instead of requiring
	// cold eviction first. Finish appends that migration as a new group
	// at the cursor; the existing non-tail group is not grown in place.
	FlexibleDataPlacement bool
	// FlexibleGranularity allows an exact-size granularity instead of
	// snapping up to the next tier when free space is short.
	FlexibleGranularity bool
	// DataEviction enables cold_eviction entirely; when false, a denied
	// migration simply counts against the policy-denied counters with
	// no eviction attempt.
	DataEviction bool
	// ImmediateEviction clears an eviction candidate's access bits
	// immediately rather than requiring it to already be cold.
	ImmediateEviction bool
	// ColdDataDetectionInGroup halves the hotness counters of every
	// *other* tag sharing this access's congruence group, on every
	// access (spec.md §9's second preserved Open Question).
	ColdDataDetectionInGroup bool
}

// Policy is the VG conformance of policy.Engine.
type Policy struct {
	geo     addr.Geometry
	table   *Table
	tracker *hotness.Tracker
	queue   *queue.Queue
	opts    Options
	total   uint64

	histogram map[uint16]uint64

	Counters    Counters
	lastVerdict policy.Verdict
}

// Counters are the policy-denied-migration typed counters named in
// spec.md §7 class 3.
type Counters struct {
	DeniedNoFreeSpace      uint64
	DeniedNoInvalidGroup   uint64
	DeniedExpansionBlocked uint64
	EvictionSuccess        uint64
	EvictionFailure        uint64
}

func New(opts Options) (*Policy, error) {
	if opts.N <= 0 {
		opts.N = 8
	}
	if opts.BusyDegreeThreshold == 0 {
		opts.BusyDegreeThreshold = 0.8
	}
	if opts.QueueLength == 0 {
		opts.QueueLength = 4096
	}
	geo, err := addr.NewGeometry(opts.BlockSize, opts.LineSize, opts.FastMemoryCapacity, 0)
	if err != nil {
		return nil, err
	}
	numBlocks := int(opts.TotalCapacity / opts.BlockSize)
	p := &Policy{
		geo:       geo,
		table:     NewTable(int(geo.SetCount), opts.N),
		tracker:   hotness.New(hotness.Options{NumBlocks: numBlocks, Threshold: opts.HotnessThreshold, IntervalForDecrement: opts.IntervalForDecrement, TrackAccessBits: true}),
		queue:     queue.New(opts.QueueLength),
		opts:      opts,
		total:     opts.TotalCapacity,
		histogram: make(map[uint16]uint64),
	}
	return p, nil
}

// GranularityHistogram reports, at teardown, how many groups were ever
// placed at each supported granularity (spec.md §6).
func (p *Policy) GranularityHistogram() map[uint16]uint64 {
	out := make(map[uint16]uint64, len(p.histogram))
	for k, v := range p.histogram {
		out[k] = v
	}
	return out
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
	tag := uint8(p.geo.Tag(physAddr))
	line := int(p.geo.LineOffset(physAddr))

	p.tracker.Observe(block, op, origin)
	p.tracker.MarkAccess(block, uint64(line))

	if p.opts.ColdDataDetectionInGroup {
		p.decayOtherTagsInGroup(set, tag)
	}

	entry := p.table.Entry(set)

	if tag == 0 {
		p.trackNative(entry, set, line, busyDegree)
		return true
	}
	if p.tracker.Hot(block) {
		p.trackHotNonNative(entry, set, tag, block, busyDegree)
	} else {
		p.trackColdNonNative(entry, set, tag, line, busyDegree)
	}
	return true
}

// decayOtherTagsInGroup implements the second preserved Open Question:
// every access halves the hotness counter of every *other* tag sharing
// this congruence group, not just its own block.
func (p *Policy) decayOtherTagsInGroup(set int, tag uint8) {
	n := p.total / p.opts.BlockSize / p.geo.SetCount
	for otherTag := uint64(0); otherTag < n; otherTag++ {
		if uint8(otherTag) == tag {
			continue
		}
		block := int(otherTag*p.geo.SetCount) + set
		if block >= p.tracker.NumBlocks() {
			continue
		}
		if c := p.tracker.Counter(block); c > 0 {
			// HalveOne applies the same halving as Tracker's decay
			// pass, to this one block only.
			p.tracker.HalveOne(block)
		}
	}
}

func (p *Policy) trackNative(entry *PlacementEntry, set, line int, busyDegree float64) {
	idx := entry.findCovering(line)
	if idx < 0 || entry.Group(idx).Tag == 0 {
		p.lastVerdict = policy.VerdictHit
		return
	}
	occupant := entry.Group(idx)
	if busyDegree > p.opts.BusyDegreeThreshold {
		return
	}
	req := queue.Request{
		AddressInFM: p.geo.ComposeFlat(uint64(set), uint64(occupant.Start)*64),
		AddressInSM: p.segmentAddress(set, uint64(occupant.Tag)),
		FMLocation:  occupant.Tag,
		SMLocation:  0,
		Size:        uint32(occupant.Granularity),
		SetIndex:    uint64(set),
		LineStart:   occupant.Start,
	}
	p.queue.Enqueue(req, queue.VGMatcher)
	p.lastVerdict = policy.VerdictEnqueuedMigration
}

func (p *Policy) trackHotNonNative(entry *PlacementEntry, set int, tag uint8, block int, busyDegree float64) {
	touched := p.tracker.AccessBits(block)
	start, end, ok := envelopeFromBits(touched)
	if !ok {
		return
	}
	requiredBytes := (end - start + 1) * 64
	G := RoundUp(requiredBytes)
	if int(start)+int(G/64)-1 >= 64 {
		if p.opts.FlexibleGranularity {
			G = uint16(requiredBytes)
		} else {
			G = RoundDown(64 - start)
		}
	}

	existingIdx := entry.findByTag(tag)
	if existingIdx < 0 {
		if entry.Cursor() == entry.N() {
			p.coldEviction(entry, set, tag, busyDegree)
			return
		}
		p.enqueueMigration(entry, set, tag, uint8(start), G, busyDegree)
		return
	}

	existing := entry.Group(existingIdx)
	mergedStart := existing.Start
	if uint8(start) < mergedStart {
		mergedStart = uint8(start)
	}
	mergedEndLine := existing.endLine()
	if end > mergedEndLine {
		mergedEndLine = end
	}
	if mergedStart == existing.Start && mergedEndLine <= existing.endLine() {
		p.lastVerdict = policy.VerdictHit
		return // case iii: full hit, already covered
	}

	isTail := existingIdx == entry.Cursor()-1
	if !isTail && !p.opts.FlexibleDataPlacement {
		p.coldEviction(entry, set, tag, busyDegree)
		return
	}

	requiredBytes = (mergedEndLine - int(mergedStart) + 1) * 64
	G = RoundUp(requiredBytes)
	if int(mergedStart)+int(G/64)-1 >= 64 {
		G = RoundDown(64 - int(mergedStart))
	}
	free := 4096 - entry.usedSpace() + int(existing.Granularity)
	if int(G) > free {
		if p.opts.FlexibleGranularity {
			G = uint16(free)
		} else {
			p.Counters.DeniedNoFreeSpace++
			p.coldEviction(entry, set, tag, busyDegree)
			return
		}
	}
	p.enqueueMigration(entry, set, tag, mergedStart, G, busyDegree)
}

func (p *Policy) enqueueMigration(entry *PlacementEntry, set int, tag uint8, start uint8, granularity uint16, busyDegree float64) {
	if busyDegree > p.opts.BusyDegreeThreshold {
		return
	}
	req := queue.Request{
		AddressInFM: p.geo.ComposeFlat(uint64(set), uint64(start)*64),
		AddressInSM: p.segmentAddress(set, uint64(tag)) + uint64(start)*64,
		FMLocation:  0,
		SMLocation:  tag,
		Size:        uint32(granularity),
		SetIndex:    uint64(set),
		LineStart:   start,
	}
	p.queue.Enqueue(req, queue.VGMatcher)
	p.lastVerdict = policy.VerdictEnqueuedMigration
}

func (p *Policy) trackColdNonNative(entry *PlacementEntry, set int, tag uint8, line int, busyDegree float64) {
	idx := entry.findCovering(line)
	if idx >= 0 && entry.Group(idx).Tag == tag {
		p.lastVerdict = policy.VerdictHit
		return
	}
	p.coldEviction(entry, set, tag, busyDegree)
}

// coldEviction finds an occupied, non-matching-tag group to evict back
// to SM, restoring native data in its place.
func (p *Policy) coldEviction(entry *PlacementEntry, set int, tag uint8, busyDegree float64) {
	if !p.opts.DataEviction {
		p.Counters.DeniedNoInvalidGroup++
		p.lastVerdict = policy.VerdictDeniedNoInvalidGroup
		return
	}
	for i := 0; i < entry.Cursor(); i++ {
		g := entry.Group(i)
		if g.Tag == 0 || g.Tag == tag {
			continue
		}
		block := int(uint64(g.Tag)*p.geo.SetCount) + set
		if block >= p.tracker.NumBlocks() {
			continue
		}
		if p.opts.ImmediateEviction {
			p.tracker.ClearAccess(block)
		} else if p.tracker.Hot(block) {
			continue // must be cold unless immediate eviction is on
		}
		if busyDegree > p.opts.BusyDegreeThreshold {
			p.Counters.DeniedExpansionBlocked++
			p.lastVerdict = policy.VerdictDeniedExpansionBlocked
			return
		}
		req := queue.Request{
			AddressInFM: p.geo.ComposeFlat(uint64(set), uint64(g.Start)*64),
			AddressInSM: p.segmentAddress(set, uint64(g.Tag)),
			FMLocation:  g.Tag,
			SMLocation:  0,
			Size:        uint32(g.Granularity),
			SetIndex:    uint64(set),
			LineStart:   g.Start,
		}
		if p.queue.Enqueue(req, queue.VGMatcher) {
			p.Counters.EvictionSuccess++
			p.lastVerdict = policy.VerdictEnqueuedEviction
		} else {
			p.Counters.EvictionFailure++
			p.lastVerdict = policy.VerdictDeniedNoFreeSpace
		}
		return
	}
	p.Counters.DeniedNoInvalidGroup++
	p.lastVerdict = policy.VerdictDeniedNoInvalidGroup
}

func (p *Policy) segmentAddress(set int, tag uint64) uint64 {
	blockIndex := tag*p.geo.SetCount + uint64(set)
	return blockIndex << p.geo.BlockOffsetBits
}

// envelopeFromBits finds the tightest [start,end] envelope covering every
// set bit in a 64-line access bitmap, using the same CLZ/CTZ bit tricks
// the teacher corpus reaches for instead of a bit-at-a-time scan.
func envelopeFromBits(touched uint64) (start, end int, ok bool) {
	if touched == 0 {
		return 0, 0, false
	}
	start = bits.TrailingZeros64(touched)
	end = 63 - bits.LeadingZeros64(touched)
	return start, end, true
}

func (p *Policy) Translate(physAddr uint64) uint64 {
	set := p.geo.SetIndex(physAddr)
	tag := uint8(p.geo.Tag(physAddr))
	line := int(p.geo.LineOffset(physAddr))
	offset := addr.GetBits(physAddr, 0, p.geo.LineOffsetBits)

	entry := p.table.Entry(int(set))
	if tag != 0 {
		if idx := entry.findByTag(tag); idx >= 0 {
			g := entry.Group(idx)
			if g.covers(line) {
				lineInGroup := uint64(line - int(g.Start))
				return p.geo.ComposeFlat(set, lineInGroup*64+offset)
			}
		}
		// Not currently migrated: still resident in SM at its native
		// segment address, identity-mapped.
		return physAddr
	}
	// Native tag: resident in FM unless some other tag's group has
	// claimed this line.
	if idx := entry.findCovering(line); idx >= 0 && entry.Group(idx).Tag != 0 {
		return physAddr // currently displaced to SM
	}
	return p.geo.ComposeFlat(set, uint64(line)*64+offset)
}

func (p *Policy) Tick() {
	p.tracker.Tick()
}

func (p *Policy) Issue() (queue.Request, bool) {
	return p.queue.Issue()
}

func (p *Policy) Finish() bool {
	req, ok := p.queue.Pop()
	if !ok {
		panic("vg: finish called on an empty queue")
	}
	entry := p.table.Entry(int(req.SetIndex))
	if req.FMLocation == 0 {
		p.finishMigration(entry, req)
	} else {
		p.finishRestoration(entry, req)
	}
	entry.Verify()
	return true
}

func (p *Policy) finishMigration(entry *PlacementEntry, req queue.Request) {
	tag := req.SMLocation
	if idx := entry.findByTag(tag); idx >= 0 {
		g := entry.groups[idx]
		if g.Start <= req.LineStart && idx == entry.Cursor()-1 {
			newEndLine := int(req.LineStart) + int(req.Size/64) - 1
			existingEndLine := g.endLine()
			if newEndLine > existingEndLine {
				g.Granularity = uint16((newEndLine - int(g.Start) + 1) * 64)
			}
			entry.groups[idx] = g
			p.histogram[g.Granularity]++
			return
		}
	}
	if entry.cursor == entry.N() {
		return // no room; migration silently dropped at finish time
	}
	entry.groups[entry.cursor] = GroupEntry{Tag: tag, Start: req.LineStart, Granularity: uint16(req.Size)}
	p.histogram[uint16(req.Size)]++
	entry.cursor++
}

func (p *Policy) finishRestoration(entry *PlacementEntry, req queue.Request) {
	tag := req.FMLocation
	for i := 0; i < entry.cursor; i++ {
		g := entry.groups[i]
		if g.Tag != tag || !g.covers(int(req.LineStart)) {
			continue
		}
		// Remove this group, compacting the tail.
		for j := i; j < entry.cursor-1; j++ {
			entry.groups[j] = entry.groups[j+1]
		}
		entry.groups[entry.cursor-1] = GroupEntry{}
		entry.cursor--
		return
	}
}

func (p *Policy) Congestion() uint64 { return p.queue.Congestion() }

func (p *Policy) Geometry() addr.Geometry { return p.geo }
