package safepoint

// entryUnsampled is the slow-path entry value of a thread that did not
// exhaust its budget; the poll-rate estimate skips it. Poll only enters the
// slow path at zero or below.
const entryUnsampled int32 = 1

// EnterForeign moves the thread from StatusManaged to StatusForeign before
// it runs code that does not pass poll points or may block for a long
// time. A coordinator counts a foreign thread as stopped without waiting
// for it.
func (t *Thread) EnterForeign() {
	if s := t.Status(); s != StatusManaged {
		if s == StatusTrusted || t.engine.cfg.strict {
			panic(&TransitionError{Thread: t.id, From: s, To: StatusForeign})
		}
	}
	t.status.Store(int32(StatusForeign))
}

// LeaveForeign returns the thread to StatusManaged. If a barrier holds the
// thread, or it is suspended, LeaveForeign blocks until it is released.
// Pending post-barrier actions run before it returns.
func (t *Thread) LeaveForeign() {
	if t.engine.cfg.strict {
		if s := t.Status(); s != StatusForeign && s != StatusBarrier {
			panic(&TransitionError{Thread: t.id, From: s, To: StatusManaged})
		}
	}
	if !t.status.CompareAndSwap(int32(StatusForeign), int32(StatusManaged)) {
		t.transitionSlow(StatusManaged)
	}
	t.runActions()
}

// EnterTrusted moves the thread from StatusManaged to StatusTrusted.
func (t *Thread) EnterTrusted() {
	if s := t.Status(); s != StatusManaged {
		panic(&TransitionError{Thread: t.id, From: s, To: StatusTrusted})
	}
	t.status.Store(int32(StatusTrusted))
}

// LeaveTrusted moves the thread from StatusTrusted back to StatusManaged.
func (t *Thread) LeaveTrusted() {
	if s := t.Status(); s != StatusTrusted {
		if s == StatusForeign || s == StatusBarrier || t.engine.cfg.strict {
			panic(&TransitionError{Thread: t.id, From: s, To: StatusManaged})
		}
	}
	t.status.Store(int32(StatusManaged))
}

// transitionSlow brings a thread whose CAS out of StatusForeign failed, or
// that is suspended, back to target. It blocks on the registry mutex, which
// a coordinator holds for the whole barrier, and then on the resume
// condition while the thread is suspended.
func (t *Thread) transitionSlow(target Status) {
	e := t.engine
	for {
		e.mu.Lock()
		for t.suspendCount.Load() > 0 {
			e.resumed.Wait()
		}
		e.mu.Unlock()
		// A coordinator may catch the thread again between the unlock and
		// the CAS; then it waits for that barrier too.
		if t.status.CompareAndSwap(int32(StatusForeign), int32(target)) {
			return
		}
	}
}

// pollSlow is the slow path of Poll. v is the counter value the owner
// observed: zero when its budget ran out, negative when a barrier request
// cut it short, entryUnsampled when it did not come from Poll.
func (t *Thread) pollSlow(v int32) error {
	if Behavior(t.behavior.Load()) != BehaviorAllow {
		t.resetPoll(PollInfinite)
		return nil
	}
	// The thread driving an operation never stops for its own barrier.
	if t.operating > 0 {
		t.pollDeferred = true
		t.resetPoll(PollInfinite)
		return nil
	}
	e := t.engine
	from := Status(t.status.Load())
	if !from.cooperating() {
		if e.cfg.strict {
			panic(&TransitionError{Thread: t.id, From: from, To: from})
		}
		t.resetPoll(e.cfg.pollReset)
		return nil
	}

	for e.BarrierPending() || t.suspendCount.Load() > 0 {
		if Behavior(t.behavior.Load()) != BehaviorAllow {
			break
		}
		t.status.Store(int32(StatusForeign))
		t.transitionSlow(from)
	}

	if from != StatusManaged {
		t.resetPoll(e.cfg.pollReset)
		return nil
	}
	t.runActions()
	return t.evaluateTimer(v)
}

// resumePolling gives back the budget withheld while the thread was
// operating.
func (t *Thread) resumePolling() {
	if !t.pollDeferred {
		return
	}
	t.pollDeferred = false
	if tm := t.timer; tm != nil && t.engine.cfg.recurring {
		t.resetPoll(tm.requested)
		return
	}
	t.resetPoll(t.engine.cfg.pollReset)
}

// enterBlocking moves a cooperating thread to StatusForeign before it
// blocks and returns the state to come back to. A nil thread stands for a
// goroutine that is not attached.
func enterBlocking(t *Thread) Status {
	if t == nil {
		return StatusForeign
	}
	s := Status(t.status.Load())
	if s.cooperating() {
		t.status.Store(int32(StatusForeign))
	}
	return s
}

// leaveBlocking undoes enterBlocking. A thread that suspended itself while
// it was blocked stops here.
func leaveBlocking(t *Thread, from Status) {
	if t == nil || !from.cooperating() {
		return
	}
	if t.suspendCount.Load() > 0 ||
		!t.status.CompareAndSwap(int32(StatusForeign), int32(from)) {
		t.transitionSlow(from)
	}
	if from == StatusManaged {
		t.runActions()
	}
}
