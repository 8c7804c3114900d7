package directcall

import (
	"sync"
	"testing"
	"time"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *outcomeRecorder) record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *outcomeRecorder) snapshot() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func (r *outcomeRecorder) waitFor(t *testing.T, n int) []Outcome {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d outcomes, have %v", n, r.snapshot())
	return nil
}

func TestCoordinator_AcceptResolvesSilently(t *testing.T) {
	rec := &outcomeRecorder{}
	c := New(0, rec.record)

	c.Request("alice", "bob")
	if !c.PendingFrom("alice", "bob") {
		t.Fatalf("request not pending")
	}

	if !c.Decide("alice", "bob", true) {
		t.Fatalf("Decide(accept) returned false")
	}
	if c.PendingFrom("alice", "bob") {
		t.Fatalf("request still pending after accept")
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("accept produced outcomes %v; offer forwarding is the next step, not a notification", got)
	}
}

func TestCoordinator_RejectNotifiesCaller(t *testing.T) {
	rec := &outcomeRecorder{}
	c := New(0, rec.record)

	c.Request("alice", "bob")
	if !c.Decide("alice", "bob", false) {
		t.Fatalf("Decide(reject) returned false")
	}

	got := rec.waitFor(t, 1)
	if got[0].Phase != PhaseRejected || got[0].Caller != "alice" || got[0].Callee != "bob" {
		t.Fatalf("outcome=%+v", got[0])
	}
}

func TestCoordinator_DecideWithoutRequest(t *testing.T) {
	c := New(0, nil)
	if c.Decide("alice", "bob", true) {
		t.Fatalf("Decide succeeded with no pending request")
	}
}

func TestCoordinator_PendingRequestExpires(t *testing.T) {
	rec := &outcomeRecorder{}
	c := New(20*time.Millisecond, rec.record)

	c.Request("alice", "bob")
	got := rec.waitFor(t, 1)
	if got[0].Phase != PhaseExpired {
		t.Fatalf("outcome=%+v, want expired", got[0])
	}
	if c.Decide("alice", "bob", true) {
		t.Fatalf("Decide succeeded after expiry")
	}
}

func TestCoordinator_SupersedingRequestOutlivesOldTimer(t *testing.T) {
	rec := &outcomeRecorder{}
	c := New(40*time.Millisecond, rec.record)

	c.Request("alice", "bob")
	time.Sleep(25 * time.Millisecond)
	c.Request("alice", "bob") // supersedes; restarts the decision window
	time.Sleep(25 * time.Millisecond)

	// The first request's timer would have fired by now; the superseding
	// request must still be pending.
	if !c.PendingFrom("alice", "bob") {
		t.Fatalf("superseding request expired on the old timer")
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("unexpected outcomes %v", got)
	}
}

func TestCoordinator_CancelAllForNotifiesBothDirections(t *testing.T) {
	rec := &outcomeRecorder{}
	c := New(0, rec.record)

	c.Request("alice", "bob") // bob disconnecting cancels as callee
	c.Request("bob", "carol") // and as caller

	c.CancelAllFor("bob")
	got := rec.waitFor(t, 2)
	for _, o := range got {
		if o.Phase != PhaseCancelled {
			t.Fatalf("outcome=%+v, want cancelled", o)
		}
	}
	if c.PendingFrom("alice", "bob") || c.PendingFrom("bob", "carol") {
		t.Fatalf("pending requests survived CancelAllFor")
	}
}

func TestCoordinator_DistinctPairsAreIndependent(t *testing.T) {
	c := New(0, nil)

	c.Request("alice", "bob")
	c.Request("carol", "bob")

	if !c.Decide("alice", "bob", true) {
		t.Fatalf("alice->bob decide failed")
	}
	if !c.PendingFrom("carol", "bob") {
		t.Fatalf("carol->bob request affected by alice->bob decision")
	}
}
