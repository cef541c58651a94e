package queue

import "testing"

func TestQueue_FIFOOrderAndIssuePeeksWithoutPopping(t *testing.T) {
	q := New(4)
	q.Enqueue(Request{AddressInFM: 1, AddressInSM: 10, SetIndex: 0}, SameSetMatcher)
	q.Enqueue(Request{AddressInFM: 2, AddressInSM: 20, SetIndex: 1}, SameSetMatcher)
	q.Enqueue(Request{AddressInFM: 3, AddressInSM: 30, SetIndex: 2}, SameSetMatcher)

	for i := 0; i < 3; i++ {
		front, ok := q.Issue()
		if !ok {
			t.Fatalf("Issue() returned false on round %d", i)
		}
		if front.AddressInFM != 1 {
			t.Fatalf("Issue() did not peek the oldest entry, got AddressInFM=%d", front.AddressInFM)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Issue() must not pop; Len() = %d, want 3", q.Len())
	}

	popped, ok := q.Pop()
	if !ok || popped.AddressInFM != 1 {
		t.Fatalf("Pop() = %+v, %v; want the oldest entry", popped, ok)
	}
	next, _ := q.Issue()
	if next.AddressInFM != 2 {
		t.Fatalf("after popping the oldest, Issue() should return the next in FIFO order, got %d", next.AddressInFM)
	}
}

func TestQueue_SameSetDuplicateDroppedWithoutCongestion(t *testing.T) {
	q := New(4)
	q.Enqueue(Request{AddressInFM: 1, AddressInSM: 10, SetIndex: 5}, SameSetMatcher)
	accepted := q.Enqueue(Request{AddressInFM: 99, AddressInSM: 100, SetIndex: 5}, SameSetMatcher)
	if accepted {
		t.Fatalf("second request for the same set should be dropped as a duplicate")
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	if q.Congestion() != 0 {
		t.Fatalf("a dropped duplicate must not count as congestion, got %d", q.Congestion())
	}
}

func TestQueue_FullQueueIncrementsCongestion(t *testing.T) {
	q := New(2)
	q.Enqueue(Request{AddressInFM: 1, AddressInSM: 10, SetIndex: 0}, SameSetMatcher)
	q.Enqueue(Request{AddressInFM: 2, AddressInSM: 20, SetIndex: 1}, SameSetMatcher)
	accepted := q.Enqueue(Request{AddressInFM: 3, AddressInSM: 30, SetIndex: 2}, SameSetMatcher)
	if accepted {
		t.Fatalf("enqueue onto a full queue must be rejected")
	}
	if q.Congestion() != 1 {
		t.Fatalf("Congestion() = %d, want 1", q.Congestion())
	}
}

func TestQueue_AddressInFMEqualsAddressInSMIsFatal(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic for address_in_fm == address_in_sm")
		}
	}()
	q := New(1)
	q.Enqueue(Request{AddressInFM: 7, AddressInSM: 7, SetIndex: 0}, SameSetMatcher)
}

// TestQueue_AsymmetricMergeBehavior preserves the Open Question from
// spec.md §9: FM←SM migration requests into different FM slots of the
// same set coexist, but SM←FM restoration requests for the same set
// collide unless the full address pair matches.
func TestQueue_AsymmetricMergeBehavior(t *testing.T) {
	t.Run("FM<-SM migration with differing destinations coexists", func(t *testing.T) {
		q := New(8)
		first := Request{AddressInFM: 100, AddressInSM: 10, FMLocation: 0, SMLocation: 2, SetIndex: 1, Size: 64}
		second := Request{AddressInFM: 200, AddressInSM: 10, FMLocation: 0, SMLocation: 3, SetIndex: 1, Size: 64}
		if !q.Enqueue(first, VGMatcher) {
			t.Fatalf("first migration request rejected")
		}
		if !q.Enqueue(second, VGMatcher) {
			t.Fatalf("second migration request with a different FM destination should be accepted, not merged or dropped")
		}
		if q.Len() != 2 {
			t.Fatalf("Len() = %d, want 2 distinct in-flight migrations", q.Len())
		}
	})

	t.Run("FM<-SM migration with matching addresses upgrades size", func(t *testing.T) {
		q := New(8)
		q.Enqueue(Request{AddressInFM: 100, AddressInSM: 10, FMLocation: 0, SMLocation: 2, SetIndex: 1, Size: 64}, VGMatcher)
		q.Enqueue(Request{AddressInFM: 100, AddressInSM: 10, FMLocation: 0, SMLocation: 2, SetIndex: 1, Size: 256}, VGMatcher)
		if q.Len() != 1 {
			t.Fatalf("Len() = %d, want 1 (merged)", q.Len())
		}
		front, _ := q.Issue()
		if front.Size != 256 {
			t.Fatalf("Size = %d, want upgraded to 256", front.Size)
		}
	})

	t.Run("SM<-FM restoration with differing addresses is a plain duplicate", func(t *testing.T) {
		q := New(8)
		q.Enqueue(Request{AddressInFM: 10, AddressInSM: 100, FMLocation: 2, SMLocation: 0, SetIndex: 1, Size: 64}, VGMatcher)
		accepted := q.Enqueue(Request{AddressInFM: 20, AddressInSM: 200, FMLocation: 3, SMLocation: 0, SetIndex: 1, Size: 64}, VGMatcher)
		if accepted {
			t.Fatalf("a second SM<-FM restoration for the same set should be rejected as a duplicate")
		}
		if q.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", q.Len())
		}
	})

	t.Run("SM<-FM restoration with matching addresses upgrades size", func(t *testing.T) {
		q := New(8)
		q.Enqueue(Request{AddressInFM: 10, AddressInSM: 100, FMLocation: 2, SMLocation: 0, SetIndex: 1, Size: 64}, VGMatcher)
		q.Enqueue(Request{AddressInFM: 10, AddressInSM: 100, FMLocation: 2, SMLocation: 0, SetIndex: 1, Size: 512}, VGMatcher)
		if q.Len() != 1 {
			t.Fatalf("Len() = %d, want 1 (merged)", q.Len())
		}
		front, _ := q.Issue()
		if front.Size != 512 {
			t.Fatalf("Size = %d, want upgraded to 512", front.Size)
		}
	})
}

func TestQueue_MPSamePairUpgrade(t *testing.T) {
	q := New(4)
	q.Enqueue(Request{AddressInFM: 0x1000, AddressInSM: 0x9000, Size: 32}, SamePairMatcher)
	q.Enqueue(Request{AddressInFM: 0x1000, AddressInSM: 0x9000, Size: 64}, SamePairMatcher)
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
	front, _ := q.Issue()
	if front.Size != 64 {
		t.Fatalf("Size = %d, want upgraded to 64", front.Size)
	}
}
