// Package policy defines the conformance contract shared by the LLT, VG
// and MP placement policies (spec.md Design Note 1: "a clean
// re-architecture models them as three conformances of a policy
// interface"). hymem.Core holds exactly one Engine, selected at
// construction from config.Options.Policy.
package policy

import (
	"github.com/Maemo32/hymem/hotness"
	"github.com/Maemo32/hymem/queue"
)

// Engine is implemented by llt.Policy, vg.Policy and mp.Policy.
type Engine interface {
	// Track updates the hotness tracker for addr and, per the policy's
	// migration rules, may enqueue a remapping request. It returns false
	// only when addr falls outside the configured address range.
	Track(physAddr uint64, op hotness.OpType, origin hotness.Origin, busyDegree float64) bool

	// Translate computes the current hardware address for physAddr from
	// metadata alone; pure and idempotent.
	Translate(physAddr uint64) uint64

	// Tick advances the simulated cycle count, running hotness decay and
	// (MP only) the epoch boundary procedure as their intervals elapse.
	Tick()

	// Issue peeks the oldest queued remapping request without removing
	// it.
	Issue() (queue.Request, bool)

	// Finish pops the oldest queued request and applies it to metadata.
	// Panics if the queue is empty (spec.md §7 class 1: finish on an
	// empty queue is a contract violation).
	Finish() bool

	// Congestion reports how many enqueue attempts have been dropped for
	// a full queue.
	Congestion() uint64

	// LastVerdict reports what the most recent Track call decided. Core
	// reads this right after calling Track and posts it to its Observer.
	LastVerdict() Verdict
}

// Verdict categorizes what Track decided to do, for callers that want to
// observe behavior beyond the boolean success return (the Observer in
// internal/telemetry subscribes to these).
type Verdict uint8

const (
	VerdictNone Verdict = iota
	VerdictEnqueuedMigration
	VerdictEnqueuedEviction
	VerdictDeniedNoFreeSpace
	VerdictDeniedNoInvalidGroup
	VerdictDeniedExpansionBlocked
	VerdictHit
)
