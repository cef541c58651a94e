// Package trace generates a small synthetic address stream exercising
// hot/cold locality, for smoke-testing a hymem.Core the same way
// suprax's Example() smoke-tested the CPU core: not a faithful replay
// of any captured trace format, just a runnable, human-readable
// exercise of the library.
package trace

import "math/rand"

// Access is one generated memory reference.
type Access struct {
	Addr  uint64
	Write bool
}

// Generator produces a stream biased toward a small set of "hot"
// addresses, mixed with uniformly-random "cold" traffic, mirroring the
// locality pattern every placement policy here is built to exploit.
type Generator struct {
	rng *rand.Rand

	totalCapacity uint64
	blockSize     uint64
	hotBlocks     []uint64
	hotFraction   float64
	writeFraction float64
}

// Options configures a Generator.
type Options struct {
	TotalCapacity uint64
	BlockSize     uint64
	HotBlockCount int
	// HotFraction is the probability any given access lands on one of
	// the HotBlockCount hot blocks rather than a uniformly-random one.
	HotFraction float64
	// WriteFraction is the probability any given access is a write.
	WriteFraction float64
	Seed          int64
}

// New builds a Generator from opts, picking HotBlockCount hot block
// indices up front so repeated Next() calls revisit the same small
// working set.
func New(opts Options) *Generator {
	if opts.BlockSize == 0 {
		opts.BlockSize = 64
	}
	if opts.HotBlockCount <= 0 {
		opts.HotBlockCount = 8
	}
	if opts.HotFraction <= 0 {
		opts.HotFraction = 0.9
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	numBlocks := opts.TotalCapacity / opts.BlockSize
	if numBlocks == 0 {
		numBlocks = 1
	}
	hot := make([]uint64, opts.HotBlockCount)
	for i := range hot {
		hot[i] = uint64(rng.Int63n(int64(numBlocks)))
	}
	return &Generator{
		rng:           rng,
		totalCapacity: opts.TotalCapacity,
		blockSize:     opts.BlockSize,
		hotBlocks:     hot,
		hotFraction:   opts.HotFraction,
		writeFraction: opts.WriteFraction,
	}
}

// Next returns one synthetic access.
func (g *Generator) Next() Access {
	var block uint64
	if g.rng.Float64() < g.hotFraction {
		block = g.hotBlocks[g.rng.Intn(len(g.hotBlocks))]
	} else {
		numBlocks := g.totalCapacity / g.blockSize
		block = uint64(g.rng.Int63n(int64(numBlocks)))
	}
	return Access{
		Addr:  block * g.blockSize,
		Write: g.rng.Float64() < g.writeFraction,
	}
}

// Stream returns n generated accesses.
func (g *Generator) Stream(n int) []Access {
	out := make([]Access, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}
