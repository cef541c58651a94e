package addr

import "testing"

func TestGeometry_BlockIndexAndSetIndex(t *testing.T) {
	// total=16MB, fast=4MB, block=64B -> F = 4MB/64B = 65536 sets.
	g, err := NewGeometry(64, 64, 4<<20, 3)
	if err != nil {
		t.Fatalf("NewGeometry: %v", err)
	}
	addr := uint64(5*65536*64 + 17) // tag 5, set 0, byte offset 17
	if got := g.BlockOffset(addr); got != 17 {
		t.Fatalf("BlockOffset = %d, want 17", got)
	}
	if got := g.SetIndex(addr); got != 0 {
		t.Fatalf("SetIndex = %d, want 0", got)
	}
	if got := g.Tag(addr); got != 5 {
		t.Fatalf("Tag = %d, want 5", got)
	}
}

func TestGeometry_LineOffset(t *testing.T) {
	// VG geometry: 4KiB block, 64B line -> 64 lines per block.
	g, err := NewGeometry(4096, 64, 4<<20, 3)
	if err != nil {
		t.Fatalf("NewGeometry: %v", err)
	}
	base := uint64(0)
	addr := base + 6*64 + 10 // line 6, byte 10 within the line
	if got := g.LineOffset(addr); got != 6 {
		t.Fatalf("LineOffset = %d, want 6", got)
	}
}

func TestGeometry_ReplaceBitsAndGetBits(t *testing.T) {
	v := ReplaceBits(0, 0b101, 4, 7)
	if got := GetBits(v, 4, 7); got != 0b101 {
		t.Fatalf("round trip through ReplaceBits/GetBits = %b, want %b", got, 0b101)
	}
	if v&^(uint64(0b111)<<4) != 0 {
		t.Fatalf("ReplaceBits touched bits outside [4,7): %#x", v)
	}
}

func TestGeometry_ComposePreservesOffsetBelowLocationWindow(t *testing.T) {
	g, err := NewGeometry(64, 64, 4<<20, 3)
	if err != nil {
		t.Fatalf("NewGeometry: %v", err)
	}
	hw := g.Compose(7, 2, 41)
	if got := GetBits(hw, 0, g.FastMemoryOffsetBit); got != 41 {
		t.Fatalf("preserved offset = %d, want 41", got)
	}
	if got := GetBits(hw, g.FastMemoryOffsetBit, g.FastMemoryOffsetBit+g.LocationBits); got != 2 {
		t.Fatalf("location field = %d, want 2", got)
	}
}

func TestNewGeometry_RejectsNonPowerOfTwoBlockSize(t *testing.T) {
	if _, err := NewGeometry(100, 64, 4<<20, 3); err == nil {
		t.Fatalf("expected error for non-power-of-two block size")
	}
}
