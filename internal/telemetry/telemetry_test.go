package telemetry

import (
	"testing"
	"time"

	"github.com/Maemo32/hymem/policy"
)

func TestCounters_RecordTalliesByVerdict(t *testing.T) {
	var c Counters
	c.Record(policy.VerdictEnqueuedMigration)
	c.Record(policy.VerdictEnqueuedMigration)
	c.Record(policy.VerdictDeniedNoFreeSpace)
	c.Record(policy.VerdictHit)

	snap := c.Snapshot()
	if snap.EnqueuedMigration != 2 {
		t.Fatalf("EnqueuedMigration = %d, want 2", snap.EnqueuedMigration)
	}
	if snap.DeniedNoFreeSpace != 1 {
		t.Fatalf("DeniedNoFreeSpace = %d, want 1", snap.DeniedNoFreeSpace)
	}
	if snap.Hits != 1 {
		t.Fatalf("Hits = %d, want 1", snap.Hits)
	}
}

func TestObserver_DrainsPostedVerdicts(t *testing.T) {
	var c Counters
	o := NewObserver(&c, nil, 8)
	defer o.Close()

	for i := 0; i < 5; i++ {
		o.Post(policy.VerdictDeniedExpansionBlocked)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().DeniedExpansionBlocked == 5 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("DeniedExpansionBlocked = %d, want 5 within 1s", c.Snapshot().DeniedExpansionBlocked)
}

func TestObserver_PostNeverBlocksWhenBufferFull(t *testing.T) {
	var c Counters
	o := NewObserver(&c, nil, 1)
	defer o.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			o.Post(policy.VerdictHit)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Post blocked under a full buffer")
	}
}
