package safepoint

import (
	"math/rand/v2"
	"testing"
)

func TestPoll_RestoreUndoesRequest(t *testing.T) {
	check := func(v int32) {
		t.Helper()
		w := negatePoll(v)
		if w >= 0 {
			t.Fatalf("negatePoll(%d) = %d, want negative", v, w)
		}
		// The owner decrements once more before it sees the request.
		if got := restorePoll(w - 1); got != v {
			t.Fatalf("restorePoll(negatePoll(%d)-1) = %d", v, got)
		}
		if got := skippedPolls(w - 1); got != v {
			t.Fatalf("skippedPolls(negatePoll(%d)-1) = %d", v, got)
		}
	}
	for v := int32(1); v <= 4096; v++ {
		check(v)
	}
	for v := PollInfinite - 4096; v > 0 && v <= PollInfinite; v++ {
		check(v)
	}
	r := rand.New(rand.NewPCG(1, 2))
	for range 100000 {
		check(r.Int32N(PollInfinite) + 1)
	}
}

func TestPoll_RestoreClamps(t *testing.T) {
	// A thread that had already reached zero gets at least one poll back.
	if got := restorePoll(negatePoll(0) - 1); got != 1 {
		t.Fatalf("restorePoll from zero = %d, want 1", got)
	}
	if got := restorePoll(negatePoll(0)); got != 1 {
		t.Fatalf("restorePoll without decrement from zero = %d, want 1", got)
	}
	if got := skippedPolls(0); got != 0 {
		t.Fatalf("skippedPolls(0) = %d", got)
	}
	if got := skippedPolls(negatePoll(0)); got != 0 {
		t.Fatalf("skippedPolls(-1) = %d", got)
	}
}

func TestPoll_FastPath(t *testing.T) {
	e := New(WithPollReset(10))
	defer e.Close()
	th, err := e.Attach("poller")
	if err != nil {
		t.Fatal(err)
	}
	for i := range 25 {
		if err := th.Poll(); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
	}
	// 25 polls with a budget of 10 ran the slow path twice.
	if v := th.PollCounter(); v != 5 {
		t.Fatalf("PollCounter = %d, want 5", v)
	}
	if err := th.Detach(); err != nil {
		t.Fatal(err)
	}
}

func TestPoll_RequestIdempotent(t *testing.T) {
	e := New()
	defer e.Close()
	th, _ := e.Attach("idem")
	th.resetPoll(42)
	th.requestBarrierCheck()
	th.requestBarrierCheck()
	if v := th.PollCounter(); v != negatePoll(42) {
		t.Fatalf("PollCounter = %d, want %d", v, negatePoll(42))
	}
	if !th.BarrierPending() {
		t.Fatal("BarrierPending = false with a negated counter")
	}
	th.restoreBarrierCheck()
	th.restoreBarrierCheck()
	if v := th.PollCounter(); v != 41 {
		t.Fatalf("PollCounter = %d, want 41", v)
	}
}
