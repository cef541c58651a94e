package trace

import "testing"

func TestGenerator_StreamStaysWithinCapacity(t *testing.T) {
	g := New(Options{TotalCapacity: 1 << 20, BlockSize: 64, Seed: 1})
	for _, a := range g.Stream(500) {
		if a.Addr >= 1<<20 {
			t.Fatalf("generated address %#x exceeds configured capacity", a.Addr)
		}
	}
}

func TestGenerator_RevisitsHotBlocks(t *testing.T) {
	g := New(Options{TotalCapacity: 1 << 30, BlockSize: 64, HotBlockCount: 4, HotFraction: 1.0, Seed: 2})
	seen := make(map[uint64]bool)
	for _, a := range g.Stream(200) {
		seen[a.Addr] = true
	}
	if len(seen) > 4 {
		t.Fatalf("with HotFraction=1.0 expected at most 4 distinct addresses, got %d", len(seen))
	}
}
