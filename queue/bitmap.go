package queue

import "math/bits"

// Bitmap64 is a fixed-width, 64-slot occupancy bitmap supporting the
// same parallel-lookup idiom as the dependency/ready bitmaps in the
// out-of-order scheduler this module grew out of: every membership
// test, first-free-slot search, and first-set-bit pop is a single
// shift/mask/CLZ instruction rather than a loop over individual bits.
type Bitmap64 uint64

// Set marks slot i occupied.
func (b *Bitmap64) Set(i int) { *b |= Bitmap64(1) << uint(i) }

// Clear marks slot i free.
func (b *Bitmap64) Clear(i int) { *b &^= Bitmap64(1) << uint(i) }

// Test reports whether slot i is occupied.
func (b Bitmap64) Test(i int) bool { return b&(Bitmap64(1)<<uint(i)) != 0 }

// Count returns how many slots are occupied.
func (b Bitmap64) Count() int { return bits.OnesCount64(uint64(b)) }

// FirstFree returns the lowest-numbered free slot below width, or
// (0, false) if every slot in [0, width) is occupied.
func (b Bitmap64) FirstFree(width uint) (int, bool) {
	free := ^uint64(b)
	if width < 64 {
		free &= (uint64(1) << width) - 1
	}
	if free == 0 {
		return 0, false
	}
	return bits.TrailingZeros64(free), true
}

// PopFirstSet returns the lowest-numbered occupied slot and a copy of
// the bitmap with that slot cleared, or (0, b, false) if b is empty.
// Used to drain a bitmap in ascending-slot order without mutating the
// caller's own copy mid-scan.
func (b Bitmap64) PopFirstSet() (slot int, rest Bitmap64, ok bool) {
	if b == 0 {
		return 0, b, false
	}
	slot = bits.TrailingZeros64(uint64(b))
	rest = b &^ (Bitmap64(1) << uint(slot))
	return slot, rest, true
}
