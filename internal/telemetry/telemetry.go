// Package telemetry wraps structured logging and the policy-denied
// migration counters around a hymem.Core, decoupling statistics
// collection from the hot translate/track path.
package telemetry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Maemo32/hymem/policy"
)

// Logger is the structured logger every package in this module logs
// through, mirroring the *zap.SugaredLogger field convention the
// engine/storage layers share.
type Logger struct {
	log *zap.SugaredLogger
}

// NewLogger wraps z, or builds a development logger if z is nil.
func NewLogger(z *zap.Logger) *Logger {
	if z == nil {
		z, _ = zap.NewDevelopment()
	}
	return &Logger{log: z.Sugar()}
}

func (l *Logger) Infow(msg string, keysAndValues ...any)  { l.log.Infow(msg, keysAndValues...) }
func (l *Logger) Warnw(msg string, keysAndValues ...any)  { l.log.Warnw(msg, keysAndValues...) }
func (l *Logger) Errorw(msg string, keysAndValues ...any) { l.log.Errorw(msg, keysAndValues...) }
func (l *Logger) Sync() error                             { return l.log.Sync() }

// Counters tallies Track verdicts across every policy's lifetime,
// broken out by the three-class error taxonomy this module carries
// forward: contract violations panic rather than land here; transient
// congestion is counted by the queue itself (Core.Congestion), not
// here; policy-denied migrations accumulate as plain counters so a
// caller can observe them without the hot path paying for a log line on
// every occurrence.
type Counters struct {
	mu sync.Mutex

	EnqueuedMigration uint64
	EnqueuedEviction  uint64
	DeniedNoFreeSpace uint64
	DeniedNoInvalidGroup uint64
	DeniedExpansionBlocked uint64
	Hits              uint64
}

// Record applies one Verdict to the tally. Safe for concurrent use so
// an Observer goroutine can drain async verdicts while Track runs.
func (c *Counters) Record(v policy.Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v {
	case policy.VerdictEnqueuedMigration:
		c.EnqueuedMigration++
	case policy.VerdictEnqueuedEviction:
		c.EnqueuedEviction++
	case policy.VerdictDeniedNoFreeSpace:
		c.DeniedNoFreeSpace++
	case policy.VerdictDeniedNoInvalidGroup:
		c.DeniedNoInvalidGroup++
	case policy.VerdictDeniedExpansionBlocked:
		c.DeniedExpansionBlocked++
	case policy.VerdictHit:
		c.Hits++
	}
}

// Snapshot returns a copy of the current counts, safe to read while
// Record runs concurrently.
func (c *Counters) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{
		EnqueuedMigration:      c.EnqueuedMigration,
		EnqueuedEviction:       c.EnqueuedEviction,
		DeniedNoFreeSpace:      c.DeniedNoFreeSpace,
		DeniedNoInvalidGroup:   c.DeniedNoInvalidGroup,
		DeniedExpansionBlocked: c.DeniedExpansionBlocked,
		Hits:                   c.Hits,
	}
}

// Observer subscribes to Verdict events emitted off the hot path
// (hymem.Core.Track posts to it after returning) so a caller can log or
// aggregate without adding synchronous work to every access.
type Observer struct {
	events   chan policy.Verdict
	counters *Counters
	logger   *Logger
	done     chan struct{}
}

// NewObserver starts a background goroutine draining verdicts into
// counters, logging denials at Warnw level through logger.
func NewObserver(counters *Counters, logger *Logger, buffer int) *Observer {
	if buffer <= 0 {
		buffer = 256
	}
	o := &Observer{
		events:   make(chan policy.Verdict, buffer),
		counters: counters,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Observer) run() {
	defer close(o.done)
	for v := range o.events {
		o.counters.Record(v)
		switch v {
		case policy.VerdictDeniedNoFreeSpace, policy.VerdictDeniedNoInvalidGroup, policy.VerdictDeniedExpansionBlocked:
			if o.logger != nil {
				o.logger.Warnw("migration denied", "verdict", v)
			}
		}
	}
}

// Post enqueues v for asynchronous processing. Drops v rather than
// blocking if the buffer is full — telemetry must never add
// backpressure to the simulated memory path.
func (o *Observer) Post(v policy.Verdict) {
	select {
	case o.events <- v:
	default:
	}
}

// Close stops accepting events and waits for the drain goroutine to
// finish processing whatever was already buffered.
func (o *Observer) Close() {
	close(o.events)
	<-o.done
}
