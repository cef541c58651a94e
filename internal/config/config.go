// Package config holds the functional-options configuration surface for
// the simulator core: capacities, per-policy tuning knobs, and the
// HYMEM_* environment overlay used by cmd/hymemsim.
package config

import (
	"fmt"
	"time"

	"github.com/xyproto/env/v2"
)

// Policy selects which placement policy a Core constructs.
type Policy string

const (
	PolicyLLT Policy = "llt"
	PolicyVG  Policy = "vg"
	PolicyMP  Policy = "mp"
)

// Options is the full configuration surface for one simulated run.
// NewDefaultOptions fills in the defaults; Validate checks the subset of
// fields listed on it.
type Options struct {
	Policy Policy

	TotalCapacity      uint64
	FastMemoryCapacity uint64
	BlockSize          uint64
	LineSize           uint64

	N                    int
	LocationBits         uint
	HotnessThreshold     uint8
	IntervalForDecrement uint64
	QueueLength          int
	BusyDegreeThreshold  float64

	// VG-only toggles.
	FlexibleDataPlacement   bool
	FlexibleGranularity     bool
	DataEviction            bool
	ImmediateEviction       bool
	ColdDataDetectionInGroup bool

	// MP-only tuning.
	EpochInterval             time.Duration
	MEACounterResetEveryEpoch bool
}

const (
	DefaultTotalCapacity      = 512 << 20
	DefaultFastMemoryCapacity = 32 << 20
	DefaultBlockSize          = 4096
	DefaultLineSize           = 64
	DefaultN                  = 5
	DefaultLocationBits       = 3
	DefaultHotnessThreshold   = 4
	DefaultIntervalForDecrement = 100000
	DefaultQueueLength        = 64
	DefaultBusyDegreeThreshold = 0.8
	DefaultEpochInterval      = 50 * time.Microsecond
)

// NewDefaultOptions returns an Options populated with the defaults
// named above, policy LLT.
func NewDefaultOptions() *Options {
	return &Options{
		Policy:               PolicyLLT,
		TotalCapacity:        DefaultTotalCapacity,
		FastMemoryCapacity:   DefaultFastMemoryCapacity,
		BlockSize:            DefaultBlockSize,
		LineSize:             DefaultLineSize,
		N:                    DefaultN,
		LocationBits:         DefaultLocationBits,
		HotnessThreshold:     DefaultHotnessThreshold,
		IntervalForDecrement: DefaultIntervalForDecrement,
		QueueLength:          DefaultQueueLength,
		BusyDegreeThreshold:  DefaultBusyDegreeThreshold,
		DataEviction:         true,
		EpochInterval:        DefaultEpochInterval,
	}
}

// OptionFunc mutates an Options under construction.
type OptionFunc func(*Options)

// WithPolicy selects the placement policy.
func WithPolicy(p Policy) OptionFunc {
	return func(o *Options) { o.Policy = p }
}

// WithCapacities sets the total address-space size and the fast-memory
// tier size, both in bytes.
func WithCapacities(total, fast uint64) OptionFunc {
	return func(o *Options) {
		if total > 0 {
			o.TotalCapacity = total
		}
		if fast > 0 {
			o.FastMemoryCapacity = fast
		}
	}
}

// WithBlockGeometry sets the data-block and cache-line sizes in bytes.
func WithBlockGeometry(blockSize, lineSize uint64) OptionFunc {
	return func(o *Options) {
		if blockSize > 0 {
			o.BlockSize = blockSize
		}
		if lineSize > 0 {
			o.LineSize = lineSize
		}
	}
}

// WithHotness sets the saturating-counter threshold and decay interval.
func WithHotness(threshold uint8, intervalForDecrement uint64) OptionFunc {
	return func(o *Options) {
		o.HotnessThreshold = threshold
		o.IntervalForDecrement = intervalForDecrement
	}
}

// WithQueue sets the remapping-request queue length and the busy-degree
// gate above which new migrations are suppressed.
func WithQueue(length int, busyDegreeThreshold float64) OptionFunc {
	return func(o *Options) {
		if length > 0 {
			o.QueueLength = length
		}
		o.BusyDegreeThreshold = busyDegreeThreshold
	}
}

// WithVGToggles sets the four VG-only behavior toggles in one call.
func WithVGToggles(flexiblePlacement, flexibleGranularity, dataEviction, immediateEviction bool) OptionFunc {
	return func(o *Options) {
		o.FlexibleDataPlacement = flexiblePlacement
		o.FlexibleGranularity = flexibleGranularity
		o.DataEviction = dataEviction
		o.ImmediateEviction = immediateEviction
	}
}

// WithColdDataDetectionInGroup sets VG's sibling-tag decay-on-access
// toggle.
func WithColdDataDetectionInGroup(enabled bool) OptionFunc {
	return func(o *Options) { o.ColdDataDetectionInGroup = enabled }
}

// WithEpoch sets MP's epoch length and counter-reset toggle.
func WithEpoch(interval time.Duration, resetEveryEpoch bool) OptionFunc {
	return func(o *Options) {
		if interval > 0 {
			o.EpochInterval = interval
		}
		o.MEACounterResetEveryEpoch = resetEveryEpoch
	}
}

// New builds an Options from NewDefaultOptions with fns applied in
// order, then validates it.
func New(fns ...OptionFunc) (*Options, error) {
	o := NewDefaultOptions()
	for _, fn := range fns {
		fn(o)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Validate checks the invariants every policy constructor assumes:
// power-of-two capacities and block sizes, a fast tier no larger than
// the total, a positive queue length.
func (o *Options) Validate() error {
	switch o.Policy {
	case PolicyLLT, PolicyVG, PolicyMP:
	default:
		return fmt.Errorf("config: unknown policy %q", o.Policy)
	}
	if !isPowerOfTwo(o.BlockSize) {
		return fmt.Errorf("config: block size %d is not a power of two", o.BlockSize)
	}
	if !isPowerOfTwo(o.TotalCapacity) {
		return fmt.Errorf("config: total capacity %d is not a power of two", o.TotalCapacity)
	}
	if !isPowerOfTwo(o.FastMemoryCapacity) {
		return fmt.Errorf("config: fast memory capacity %d is not a power of two", o.FastMemoryCapacity)
	}
	if o.FastMemoryCapacity > o.TotalCapacity {
		return fmt.Errorf("config: fast memory capacity %d exceeds total capacity %d", o.FastMemoryCapacity, o.TotalCapacity)
	}
	if o.QueueLength <= 0 {
		return fmt.Errorf("config: queue length must be positive, got %d", o.QueueLength)
	}
	if o.BusyDegreeThreshold < 0 || o.BusyDegreeThreshold > 1 {
		return fmt.Errorf("config: busy degree threshold %f out of [0,1]", o.BusyDegreeThreshold)
	}
	return nil
}

func isPowerOfTwo(v uint64) bool { return v != 0 && v&(v-1) == 0 }

// FromEnv overlays HYMEM_* environment variables onto a freshly
// defaulted Options. Any variable that is unset or fails to parse
// leaves the corresponding field at its default — this overlay is a
// convenience for cmd/hymemsim, not a strict schema.
func FromEnv() *Options {
	o := NewDefaultOptions()
	o.Policy = Policy(env.Str("HYMEM_POLICY", string(o.Policy)))
	o.TotalCapacity = uint64(env.Int64("HYMEM_TOTAL_CAPACITY", int64(o.TotalCapacity)))
	o.FastMemoryCapacity = uint64(env.Int64("HYMEM_FAST_MEMORY_CAPACITY", int64(o.FastMemoryCapacity)))
	o.BlockSize = uint64(env.Int64("HYMEM_BLOCK_SIZE", int64(o.BlockSize)))
	o.LineSize = uint64(env.Int64("HYMEM_LINE_SIZE", int64(o.LineSize)))
	o.N = env.Int("HYMEM_N", o.N)
	o.HotnessThreshold = uint8(env.Int("HYMEM_HOTNESS_THRESHOLD", int(o.HotnessThreshold)))
	o.IntervalForDecrement = uint64(env.Int64("HYMEM_INTERVAL_FOR_DECREMENT", int64(o.IntervalForDecrement)))
	o.QueueLength = env.Int("HYMEM_QUEUE_LENGTH", o.QueueLength)
	o.BusyDegreeThreshold = env.Float64("HYMEM_BUSY_DEGREE_THRESHOLD", o.BusyDegreeThreshold)
	o.DataEviction = env.BoolOr("HYMEM_DATA_EVICTION", o.DataEviction)
	o.ImmediateEviction = env.BoolOr("HYMEM_IMMEDIATE_EVICTION", o.ImmediateEviction)
	o.FlexibleDataPlacement = env.BoolOr("HYMEM_FLEXIBLE_DATA_PLACEMENT", o.FlexibleDataPlacement)
	o.FlexibleGranularity = env.BoolOr("HYMEM_FLEXIBLE_GRANULARITY", o.FlexibleGranularity)
	o.ColdDataDetectionInGroup = env.BoolOr("HYMEM_COLD_DATA_DETECTION_IN_GROUP", o.ColdDataDetectionInGroup)
	return o
}
