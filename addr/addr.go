// Package addr implements the pure bit-field arithmetic shared by every
// placement policy: splitting a physical address into (tag, set, offset)
// and composing a hardware address back out of (set, location, offset).
//
// Nothing here touches policy metadata or performs I/O. Every function is
// constant-time and side-effect free, matching the barrel-shifter idiom of
// a hardware reference model: wide bit windows moved with shifts and masks,
// never loops over individual bits.
package addr

import "fmt"

// Geometry pins down the bit-field layout for one policy instance. The
// same shape serves LLT (block = one 64B cache line), VG (block = one
// 4KiB congruence group, with a further LineOffsetBits/LinesPerBlock
// split inside it) and MP (block = one 2KiB segment, LinesPerBlock=1).
type Geometry struct {
	BlockOffsetBits    uint // log2(data block size in bytes)
	SetCount           uint64 // F: number of FM sets (congruence groups), power of two
	LineOffsetBits     uint // log2(cache line size in bytes), <= BlockOffsetBits
	LinesPerBlock      uint64 // 1 for LLT/MP, 64 for VG (4KiB / 64B)
	FastMemoryOffsetBit uint // bit position where the Location field begins
	LocationBits       uint // width of the Location field
}

// NewGeometry derives a Geometry from byte-granularity sizes. blockSize and
// fastMemoryCapacity must both be powers of two, and fastMemoryCapacity must
// be block-size aligned; callers (the per-policy constructors) are
// responsible for enforcing total/fast capacity preconditions from
// spec §6 before calling this.
func NewGeometry(blockSize, lineSize, fastMemoryCapacity uint64, locationBits uint) (Geometry, error) {
	if blockSize == 0 || blockSize&(blockSize-1) != 0 {
		return Geometry{}, fmt.Errorf("addr: block size %d is not a power of two", blockSize)
	}
	if fastMemoryCapacity == 0 || fastMemoryCapacity&(fastMemoryCapacity-1) != 0 {
		return Geometry{}, fmt.Errorf("addr: fast memory capacity %d is not a power of two", fastMemoryCapacity)
	}
	setCount := fastMemoryCapacity / blockSize
	if setCount == 0 {
		return Geometry{}, fmt.Errorf("addr: fast memory capacity %d smaller than block size %d", fastMemoryCapacity, blockSize)
	}
	blockOffsetBits := bitLength(blockSize - 1)
	lineOffsetBits := bitLength(lineSize - 1)
	linesPerBlock := blockSize / lineSize
	return Geometry{
		BlockOffsetBits:     blockOffsetBits,
		SetCount:            setCount,
		LineOffsetBits:      lineOffsetBits,
		LinesPerBlock:       linesPerBlock,
		FastMemoryOffsetBit: lineOffsetBits,
		LocationBits:        locationBits,
	}, nil
}

func bitLength(v uint64) uint {
	n := uint(0)
	for v > 0 {
		v >>= 1
		n++
	}
	return n
}

// BlockIndex is addr >> BLOCK_OFFSET_BITS.
func (g Geometry) BlockIndex(physAddr uint64) uint64 {
	return physAddr >> g.BlockOffsetBits
}

// SetIndex is block_index(addr) mod F.
func (g Geometry) SetIndex(physAddr uint64) uint64 {
	return g.BlockIndex(physAddr) % g.SetCount
}

// Tag is block_index(addr) div F: which congruence-group member this
// address natively belongs to.
func (g Geometry) Tag(physAddr uint64) uint64 {
	return g.BlockIndex(physAddr) / g.SetCount
}

// LineOffset is (addr >> LINE_OFFSET_BITS) mod LINES_PER_BLOCK: which of
// the LinesPerBlock cache lines within the data block this address hits.
func (g Geometry) LineOffset(physAddr uint64) uint64 {
	if g.LinesPerBlock <= 1 {
		return 0
	}
	return (physAddr >> g.LineOffsetBits) % g.LinesPerBlock
}

// BlockOffset returns the low BlockOffsetBits of addr, the bits that
// survive translation unchanged regardless of where the block currently
// lives.
func (g Geometry) BlockOffset(physAddr uint64) uint64 {
	return GetBits(physAddr, 0, g.BlockOffsetBits)
}

// Compose builds a hardware address from a set index, a location (which
// congruence-group slot currently occupies that FM set) and the
// low-order bits of the original address that are preserved across
// remapping (the in-block byte offset for LLT/MP, or just the in-line
// byte offset for VG, where the line itself may have moved independently
// of the block).
func (g Geometry) Compose(setIndex, location, preservedOffset uint64) uint64 {
	hw := setIndex << (g.FastMemoryOffsetBit + g.LocationBits)
	hw = ReplaceBits(hw, location, g.FastMemoryOffsetBit, g.FastMemoryOffsetBit+g.LocationBits)
	hw = ReplaceBits(hw, preservedOffset, 0, g.FastMemoryOffsetBit)
	return hw
}

// ComposeFlat builds a hardware address for policies (VG) whose hardware
// placement has no separate bit-packed Location field: the set index
// occupies the bits above BlockOffsetBits, and withinBlockOffset (which
// line within the block, combined with the in-line byte offset) is
// preserved below it unchanged.
func (g Geometry) ComposeFlat(setIndex, withinBlockOffset uint64) uint64 {
	hw := setIndex << g.BlockOffsetBits
	return ReplaceBits(hw, withinBlockOffset, 0, g.BlockOffsetBits)
}

// ReplaceBits overwrites value's bits in [lo, hi) with the low (hi-lo)
// bits of replacement, leaving every other bit of value untouched.
// Mirrors the teacher corpus's champsim::replace_bits idiom: wide
// windows moved with a single shift-mask-or, never a bit-at-a-time loop.
func ReplaceBits(value, replacement uint64, lo, hi uint) uint64 {
	if hi <= lo {
		return value
	}
	width := hi - lo
	var mask uint64
	if width >= 64 {
		mask = ^uint64(0)
	} else {
		mask = (uint64(1)<<width - 1) << lo
	}
	return (value &^ mask) | ((replacement << lo) & mask)
}

// GetBits extracts value's bits in [lo, hi) right-justified.
func GetBits(value uint64, lo, hi uint) uint64 {
	if hi <= lo {
		return 0
	}
	width := hi - lo
	var mask uint64
	if width >= 64 {
		mask = ^uint64(0)
	} else {
		mask = uint64(1)<<width - 1
	}
	return (value >> lo) & mask
}
