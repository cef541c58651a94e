package llt

import (
	"testing"

	"github.com/Maemo32/hymem/hotness"
)

func newTestPolicy(t *testing.T) *Policy {
	t.Helper()
	p, err := New(Options{
		TotalCapacity:        16 << 20,
		FastMemoryCapacity:   4 << 20,
		BlockSize:            64,
		N:                    4,
		LocationBits:         2,
		HotnessThreshold:     4,
		IntervalForDecrement: 1000,
		QueueLength:          64,
		BusyDegreeThreshold:  0.8,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// addrForSetTag builds a physical address with the given set index and
// tag, set N=4 in newTestPolicy means F = 4MB/64B = 65536 sets.
func addrForSetTag(p *Policy, set, tag uint64) uint64 {
	blockIndex := tag*p.geo.SetCount + set
	return blockIndex << p.geo.BlockOffsetBits
}

// TestLLT_S1_SwapOnHotAccess implements spec scenario S1.
func TestLLT_S1_SwapOnHotAccess(t *testing.T) {
	p := newTestPolicy(t)
	set := uint64(3)
	a := addrForSetTag(p, set, 2)

	for i := 0; i < 4; i++ {
		p.Track(a, hotness.Read, hotness.OriginLoad, 0.1)
	}

	req, ok := p.Issue()
	if !ok {
		t.Fatalf("expected a queued migration request")
	}
	if req.FMLocation != 0 || req.SMLocation != 2 {
		t.Fatalf("req = %+v, want FMLocation=0 SMLocation=2", req)
	}

	if !p.Finish() {
		t.Fatalf("Finish() = false")
	}
	if p.table.Get(int(set), 0) != 2 {
		t.Fatalf("entry[set][0] = %d, want 2", p.table.Get(int(set), 0))
	}
	if p.table.Get(int(set), 2) != 0 {
		t.Fatalf("entry[set][2] = %d, want 0", p.table.Get(int(set), 2))
	}

	h := p.Translate(a)
	loc := (h >> p.geo.FastMemoryOffsetBit) & ((1 << p.geo.LocationBits) - 1)
	if loc != 0 {
		t.Fatalf("translated location = %d, want 0 (natively FM) after the swap", loc)
	}
}

// TestLLT_S2_DuplicateSuppressed implements spec scenario S2.
func TestLLT_S2_DuplicateSuppressed(t *testing.T) {
	p := newTestPolicy(t)
	set := uint64(9)
	a := addrForSetTag(p, set, 2)
	b := addrForSetTag(p, set, 3)

	for i := 0; i < 4; i++ {
		p.Track(a, hotness.Read, hotness.OriginLoad, 0.1)
	}
	for i := 0; i < 4; i++ {
		p.Track(b, hotness.Read, hotness.OriginLoad, 0.1)
	}

	if p.queue.Len() != 1 {
		t.Fatalf("queue.Len() = %d, want exactly 1 after two hot bursts in the same set", p.queue.Len())
	}
}

func TestLLT_PermutationInvariantHoldsAfterManySwaps(t *testing.T) {
	p := newTestPolicy(t)
	set := uint64(0)
	for tag := uint64(1); tag < 4; tag++ {
		a := addrForSetTag(p, set, tag)
		for i := 0; i < 4; i++ {
			p.Track(a, hotness.Read, hotness.OriginLoad, 0.1)
		}
		if _, ok := p.Issue(); ok {
			p.Finish()
		}
	}
	p.table.Verify(int(set))
}

func TestLLT_BusyDegreeGatesMigration(t *testing.T) {
	p := newTestPolicy(t)
	set := uint64(1)
	a := addrForSetTag(p, set, 2)
	for i := 0; i < 4; i++ {
		p.Track(a, hotness.Read, hotness.OriginLoad, 0.95)
	}
	if _, ok := p.Issue(); ok {
		t.Fatalf("no migration should be enqueued while busyDegree exceeds the threshold")
	}
}
