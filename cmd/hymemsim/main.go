// Command hymemsim drives a hymem.Core over a synthetic trace and
// prints a short statistics summary, the same smoke-test role
// suprax_legacy.go's Example() served for the CPU core it was adapted
// from.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Maemo32/hymem"
	"github.com/Maemo32/hymem/hotness"
	"github.com/Maemo32/hymem/internal/config"
	"github.com/Maemo32/hymem/internal/telemetry"
	"github.com/Maemo32/hymem/internal/trace"
)

func main() {
	policyFlag := flag.String("policy", "", "placement policy: llt, vg, or mp (default from $HYMEM_POLICY or llt)")
	numAccesses := flag.Int("accesses", 100000, "number of synthetic accesses to drive")
	hotBlocks := flag.Int("hot-blocks", 8, "number of hot blocks the trace generator biases toward")
	seed := flag.Int64("seed", 1, "trace generator random seed")
	flag.Parse()

	opts := config.FromEnv()
	if *policyFlag != "" {
		opts.Policy = config.Policy(*policyFlag)
	}
	if err := opts.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "hymemsim:", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(nil)
	defer logger.Sync()

	core, err := hymem.New(opts)
	if err != nil {
		logger.Errorw("failed to construct core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	gen := trace.New(trace.Options{
		TotalCapacity: opts.TotalCapacity,
		BlockSize:     opts.BlockSize,
		HotBlockCount: *hotBlocks,
		HotFraction:   0.9,
		WriteFraction: 0.3,
		Seed:          *seed,
	})

	for i := 0; i < *numAccesses; i++ {
		access := gen.Next()
		op := hotness.Read
		if access.Write {
			op = hotness.Write
		}
		core.Track(access.Addr, op, hotness.OriginLoad, float64(i%100)/100)
		core.Tick()

		if _, ok := core.Issue(); ok {
			core.Finish()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	applied, _ := core.DrainPending(ctx)

	logger.Infow("run complete",
		"policy", core.PolicyName(),
		"accesses", *numAccesses,
		"congestion", core.Congestion(),
		"drainedAtExit", applied,
	)
	fmt.Println(core.Stats())
}
