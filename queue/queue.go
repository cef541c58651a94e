// Package queue implements the bounded remapping-request FIFO shared by
// all three placement policies: de-duplication/size-merging on enqueue,
// peek-without-pop for issue, and pop-on-completion for finish.
//
// The de-duplication rule is intentionally asymmetric between the two
// swap directions (FM-destination vs SM-destination); see Matcher and
// the doc on VGMatcher for the exact, preserved behavior this encodes.
package queue

import "fmt"

// Request mirrors spec.md's RemappingRequest. For VG and MP exactly one
// of FMLocation, SMLocation is zero, identifying which side of the swap
// is the "native" (currently-FM) slot; LLT instead stores the two tag
// indices that llt.Table.Swap exchanges, and both may be non-zero once
// a set has been remapped. SetIndex carries the LLT/VG congruence
// group this request belongs to; MP requests leave it zero and rely on
// the address pair alone to identify the segment swap.
type Request struct {
	AddressInFM uint64
	AddressInSM uint64
	FMLocation  uint8
	SMLocation  uint8
	Size        uint32
	SetIndex    uint64
	// LineStart is VG-only: the envelope's start line, in 64B-line units
	// within the 4KiB congruence group. Spec.md's wire-format-free
	// contract ("no wire protocol, no on-disk format", §6) leaves room
	// for this kind of policy-private bookkeeping field alongside the
	// five named in §3.
	LineStart uint8
}

// MatchKind is the verdict a Matcher returns for a (existing, candidate)
// pair already sharing the same grouping key.
type MatchKind int

const (
	// NoMatch means existing and candidate do not collide; keep scanning.
	NoMatch MatchKind = iota
	// Duplicate means candidate is redundant; drop it silently, existing
	// untouched.
	Duplicate
	// UpgradeSize means candidate is redundant except that existing's
	// Size should become max(existing.Size, candidate.Size).
	UpgradeSize
)

// Matcher decides, for one already-queued request and a candidate being
// enqueued, whether they collide and how.
type Matcher func(existing, candidate Request) MatchKind

// Queue is the bounded deque named in spec.md §4.6/§3. It is a plain
// ring buffer over a fixed-capacity slice; no third-party deque is
// pulled in for this (see DESIGN.md) since nothing in the example pack
// reaches for one either and the teacher hand-rolls every queue-shaped
// structure it needs.
type Queue struct {
	buf        []Request
	head, size int
	congestion uint64
}

func New(capacity int) *Queue {
	return &Queue{buf: make([]Request, capacity)}
}

func (q *Queue) Cap() int { return len(q.buf) }
func (q *Queue) Len() int { return q.size }
func (q *Queue) Congestion() uint64 { return q.congestion }

func (q *Queue) full() bool { return q.size == len(q.buf) }

// at returns the i'th logical element (0 = front).
func (q *Queue) at(i int) Request {
	return q.buf[(q.head+i)%len(q.buf)]
}

func (q *Queue) setAt(i int, r Request) {
	q.buf[(q.head+i)%len(q.buf)] = r
}

// Enqueue applies spec.md §4.6's enqueue rules using m to resolve
// collisions against every currently-queued request sharing enough
// state to compare. Panics on address_in_fm == address_in_sm (a
// contract violation per spec.md §7 class 1 — "fatal bug indicator").
// Returns true if the request was accepted (including being folded into
// an existing entry via UpgradeSize), false if it was a plain duplicate
// or the queue was full (the latter also bumps Congestion).
func (q *Queue) Enqueue(r Request, m Matcher) bool {
	if r.AddressInFM == r.AddressInSM {
		panic(fmt.Sprintf("queue: contract violation, address_in_fm == address_in_sm (%#x)", r.AddressInFM))
	}
	for i := 0; i < q.size; i++ {
		existing := q.at(i)
		switch m(existing, r) {
		case Duplicate:
			return false
		case UpgradeSize:
			if r.Size > existing.Size {
				existing.Size = r.Size
				q.setAt(i, existing)
			}
			return true
		}
	}
	if q.full() {
		q.congestion++
		return false
	}
	q.setAt(q.size, r)
	q.size++
	return true
}

// Issue peeks the front request without popping it (spec.md's
// issue(out req)).
func (q *Queue) Issue() (Request, bool) {
	if q.size == 0 {
		return Request{}, false
	}
	return q.at(0), true
}

// Pop removes and returns the front request (the applicator calls this
// from finish(), after the underlying memory model signals the swap
// completed). On an empty queue Pop returns false; each policy's Finish
// treats that result as the contract violation of spec.md §7 class 1 and
// panics.
func (q *Queue) Pop() (Request, bool) {
	if q.size == 0 {
		return Request{}, false
	}
	r := q.at(0)
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return r, true
}

// SameSetMatcher is the plain LLT de-dup rule: any other request for the
// same congruence group set is a duplicate, full stop.
func SameSetMatcher(existing, candidate Request) MatchKind {
	if existing.SetIndex == candidate.SetIndex {
		return Duplicate
	}
	return NoMatch
}

// SamePairMatcher is the MP de-dup rule: a request for the same
// (address_in_fm, address_in_sm) segment pair is a duplicate and its
// size is upgraded to the larger of the two.
func SamePairMatcher(existing, candidate Request) MatchKind {
	if existing.AddressInFM == candidate.AddressInFM && existing.AddressInSM == candidate.AddressInSM {
		return UpgradeSize
	}
	return NoMatch
}

// VGMatcher implements the asymmetric VG de-dup rule preserved from
// spec.md §9's first Open Question (see DESIGN.md): an FM←SM migration
// request (FMLocation == 0) only collides with an existing migration
// request in the same set when the full address pair matches — a
// same-set request with a different AddressInFM is accepted as a
// distinct, parallel swap into another FM slot rather than rejected. An
// SM←FM restoration request (SMLocation == 0) follows the plain
// same-set-is-a-duplicate rule, upgrading only on a full address match.
func VGMatcher(existing, candidate Request) MatchKind {
	if existing.SetIndex != candidate.SetIndex {
		return NoMatch
	}
	// Only compare requests travelling in the same direction; a
	// migration and a restoration queued for the same set are never
	// duplicates of each other.
	sameDirection := (existing.FMLocation == 0) == (candidate.FMLocation == 0)
	fullAddressMatch := existing.AddressInFM == candidate.AddressInFM && existing.AddressInSM == candidate.AddressInSM

	if !sameDirection {
		return NoMatch
	}
	if fullAddressMatch {
		return UpgradeSize
	}
	if candidate.FMLocation == 0 {
		// FM←SM migration: differing destination FM slots coexist.
		return NoMatch
	}
	// SM←FM restoration: same set, addresses differ -> plain duplicate.
	return Duplicate
}
