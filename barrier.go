package safepoint

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// coordinator is the barrier state of an engine. phase and requester are
// read without the registry mutex; everything else is written only by the
// coordinator while it holds it.
type coordinator struct {
	phase     atomic.Int32
	requester atomic.Pointer[Thread]
	epoch     barrierEpoch

	reason string

	established atomic.Uint64
	waitTotal   atomic.Int64
	waitMax     atomic.Int64
}

// requestBarrier stops every attached thread other than requester and
// returns once all of them are in StatusBarrier or can be ignored. The
// caller holds e.mu and keeps holding it until releaseBarrier; requester
// is the thread driving the barrier, nil for the dedicated executor's
// caller or a goroutine that is not attached.
func (e *Engine) requestBarrier(requester *Thread, reason string) {
	c := &e.barrier
	if phase(c.phase.Load()) != phaseIdle {
		panic("safepoint: barrier requested while another is in effect")
	}
	start := time.Now()
	c.requester.Store(requester)
	c.reason = reason
	c.phase.Store(int32(phaseRequesting))

	for t := e.head; t != nil; t = t.next {
		if t != requester && Behavior(t.behavior.Load()) == BehaviorAllow {
			t.requestBarrierCheck()
		}
	}

	e.awaitThreads(requester, reason, start)

	waited := time.Since(start)
	c.phase.Store(int32(phaseHeld))
	c.established.Add(1)
	c.waitTotal.Add(int64(waited))
	for {
		m := c.waitMax.Load()
		if int64(waited) <= m || c.waitMax.CompareAndSwap(m, int64(waited)) {
			break
		}
	}
	id := c.epoch.advance()
	e.log.Debug("barrier established",
		zap.String("reason", reason),
		zap.Uint32("barrier", id),
		zap.Duration("wait", waited))
}

// awaitThreads is the coordinator's wait loop.
func (e *Engine) awaitThreads(requester *Thread, reason string, start time.Time) {
	var spins int
	warned := false
	for {
		pending := 0
		for t := e.head; t != nil; t = t.next {
			if t != requester && !e.reachedBarrier(t) {
				pending++
			}
		}
		if pending == 0 {
			return
		}

		elapsed := time.Since(start)
		if e.cfg.failAfter > 0 && elapsed >= e.cfg.failAfter {
			e.barrierFailure(requester, reason, elapsed, pending)
		}
		if !warned && e.cfg.warnAfter > 0 && elapsed >= e.cfg.warnAfter {
			warned = true
			e.log.Warn("barrier not reached in time",
				zap.String("reason", reason),
				zap.Duration("elapsed", elapsed),
				zap.Int("pending", pending),
				zap.Array("threads", e.snapshotLocked(requester)))
		}
		delay(&spins)
	}
}

// reachedBarrier reports whether t no longer delays the barrier, moving it
// from StatusForeign to StatusBarrier when possible.
func (e *Engine) reachedBarrier(t *Thread) bool {
	// State before behavior: a thread switching to BehaviorAllow publishes
	// the behavior before it can change state again.
	s := Status(t.status.Load())
	switch Behavior(t.behavior.Load()) {
	case BehaviorCrashed:
		return true
	case BehaviorPrevent:
		return false
	}

	switch s {
	case StatusBarrier:
		return true
	case StatusForeign:
		if t.status.CompareAndSwap(int32(StatusForeign), int32(StatusBarrier)) {
			t.barriers.Add(1)
			return true
		}
		return false
	case StatusManaged, StatusTrusted:
		// The owner may have overwritten the request with a fresh budget.
		if t.pollCounter.Load() >= 0 {
			t.requestBarrierCheck()
		}
		return false
	}
	// StatusCreated threads are not linked yet.
	return true
}

// barrierFailure reports a thread that did not reach the barrier within
// the failure threshold and terminates the process through the logger.
func (e *Engine) barrierFailure(requester *Thread, reason string, elapsed time.Duration, pending int) {
	records, _ := e.ops.history.snapshot()
	e.log.Fatal("barrier not reached",
		zap.String("reason", reason),
		zap.Duration("elapsed", elapsed),
		zap.Int("pending", pending),
		zap.Array("threads", e.snapshotLocked(requester)),
		zap.Array("recentOperations", operationRecords(records)))
	// A fatal hook that returns leaves the engine in an unknown state.
	panic("safepoint: barrier not reached after " + elapsed.String())
}

// releaseBarrier ends the barrier started by requestBarrier. The caller
// still holds e.mu.
func (e *Engine) releaseBarrier(requester *Thread) {
	c := &e.barrier
	if phase(c.phase.Load()) == phaseIdle {
		return
	}
	for t := e.head; t != nil; t = t.next {
		if t == requester {
			continue
		}
		t.restoreBarrierCheck()
		if t.suspendCount.Load() == 0 {
			t.status.CompareAndSwap(int32(StatusBarrier), int32(StatusForeign))
		}
	}
	reason := c.reason
	c.requester.Store(nil)
	c.reason = ""
	c.phase.Store(int32(phaseIdle))
	e.resumed.Broadcast()
	e.log.Debug("barrier released", zap.String("reason", reason), zap.Uint32("barrier", c.epoch.current()))
}
