package safepoint

import "math"

// The poll counter of a thread is a signed 32-bit word:
//
//	> 0  remaining poll points before the owner takes the slow path
//	== 0 the owner decremented it to zero and is taking the slow path
//	< 0  a coordinator requested a barrier; the magnitude is the undo value
//
// The coordinator requests a barrier by replacing v (v >= 0) with ^v, which
// is -v-1: always negative, even for a thread that already reached zero,
// and never overflowing. The owner notices at its next poll, which
// decrements once more to -v-2 before it enters the slow path. Undoing the
// request therefore computes -(w+2) from the observed value w.
const (
	// PollInfinite is the effectively infinite poll budget used by threads
	// that must not take the slow path (callbacks in progress, opted-out
	// threads). One below MaxInt32 so that the negated form survives the
	// owner's extra decrement without wrapping.
	PollInfinite int32 = math.MaxInt32 - 1

	// initialPolls is the budget of a recurring callback timer before it
	// has observed the thread's poll rate.
	initialPolls int32 = 100
)

//go:nosplit
func negatePoll(v int32) int32 {
	return ^v
}

// restorePoll returns the budget a negated counter w had before the
// request, clamped to [1, PollInfinite].
//
//go:nosplit
func restorePoll(w int32) int32 {
	v := -(w + 2)
	if v < 1 {
		return 1
	}
	if v > PollInfinite {
		return PollInfinite
	}
	return v
}

// skippedPolls returns how many requested poll points a thread did not
// execute because a barrier request cut its budget short. w is the counter
// value the owner observed on entry to the slow path.
//
//go:nosplit
func skippedPolls(w int32) int32 {
	if w >= 0 {
		return 0
	}
	v := -(w + 2)
	if v < 0 {
		return 0
	}
	return v
}

// Poll is a poll point. Cooperating code calls it at loop back-edges and
// call boundaries. The fast path is one atomic decrement and one
// comparison; the slow path blocks while a barrier is in effect or the
// thread is suspended, runs post-barrier actions and the recurring
// callback.
//
// A non-nil error is the error a recurring callback passed to
// [RecurringAccess.Abort]; it surfaces exactly once, at this poll point.
func (t *Thread) Poll() error {
	v := t.pollCounter.Add(-1)
	if v > 0 {
		return nil
	}
	return t.pollSlow(v)
}

// requestBarrierCheck negates the poll counter unless it already carries a
// request. It is idempotent and safe against the owner's concurrent
// decrements and stores.
func (t *Thread) requestBarrierCheck() {
	for {
		v := t.pollCounter.Load()
		if v < 0 {
			return
		}
		if t.pollCounter.CompareAndSwap(v, negatePoll(v)) {
			return
		}
	}
}

// restoreBarrierCheck undoes requestBarrierCheck. Counters that are not
// negative were reset by their owner and are left alone.
func (t *Thread) restoreBarrierCheck() {
	for {
		v := t.pollCounter.Load()
		if v >= 0 {
			return
		}
		if t.pollCounter.CompareAndSwap(v, restorePoll(v)) {
			return
		}
	}
}

// resetPoll gives the owner a fresh budget. Only the owner calls it; a
// racing request that gets overwritten is a lost update the coordinator
// repairs.
func (t *Thread) resetPoll(v int32) {
	t.pollCounter.Store(v)
}

// PollCounter returns the current raw poll counter value.
func (t *Thread) PollCounter() int32 {
	return t.pollCounter.Load()
}
