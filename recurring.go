package safepoint

import (
	"math"
	"time"
)

// RecurringCallback is invoked on the owning thread about once per
// interval, from inside a poll point.
//
// The callback runs in a restricted context: it must not block, park or
// submit operations. It may stop at a barrier if it calls Poll itself; it
// is never re-entered while it runs.
type RecurringCallback func(access *RecurringAccess)

// RecurringAccess is the callback's handle to its thread.
type RecurringAccess struct {
	thread *Thread
}

// Thread returns the thread the callback runs on.
func (a *RecurringAccess) Thread() *Thread {
	return a.thread
}

// Abort unwinds the callback and makes the poll point that ran it return
// err. It does not return.
func (a *RecurringAccess) Abort(err error) {
	if err == nil {
		panic("safepoint: Abort with nil error")
	}
	a.thread.abortErr = err
	panic(recurringAbort{})
}

// recurringAbort is the marker panic raised by Abort.
type recurringAbort struct{}

const (
	// ewmaLambda weights the newest poll-rate sample.
	ewmaLambda = 0.3
	// intervalFlexibility lets a callback fire slightly early instead of
	// taking another round through the slow path.
	intervalFlexibility = 0.95
	// minIntervalNanos bounds the deadline used to size a poll budget.
	minIntervalNanos = int64(time.Microsecond)
)

// recurringTimer is owned by one thread and only touched by it.
type recurringTimer struct {
	interval  int64
	flexible  int64
	callback  RecurringCallback
	access    RecurringAccess
	requested int32
	// ewma is the poll rate in polls per nanosecond; zero until the first
	// sample.
	ewma          float64
	lastCapture   int64
	lastExecution int64
	executing     bool
}

// SetRecurringCallback installs cb to run about once per interval at the
// thread's poll points, replacing any previous callback. A nil cb removes
// it. Only the owner may call it.
func (t *Thread) SetRecurringCallback(interval time.Duration, cb RecurringCallback) error {
	e := t.engine
	if !e.cfg.recurring {
		return ErrRecurringDisabled
	}
	if t.detached.Load() {
		return ErrDetached
	}
	if cb == nil {
		t.RemoveRecurringCallback()
		return nil
	}
	iv := max(int64(interval), minIntervalNanos)
	now := e.cfg.nanotime()
	tm := &recurringTimer{
		interval:      iv,
		flexible:      int64(float64(iv) * intervalFlexibility),
		callback:      cb,
		access:        RecurringAccess{thread: t},
		requested:     initialPolls,
		lastCapture:   now,
		lastExecution: now,
	}
	t.timer = tm
	t.hasTimer.Store(true)
	t.resetPoll(tm.requested)
	return nil
}

// RemoveRecurringCallback removes the thread's recurring callback.
func (t *Thread) RemoveRecurringCallback() {
	if t.timer == nil {
		return
	}
	t.timer = nil
	t.hasTimer.Store(false)
	t.resetPoll(t.engine.cfg.pollReset)
}

// PauseRecurringCallback keeps the recurring callback from running until a
// matching ResumeRecurringCallback. Calls nest.
func (t *Thread) PauseRecurringCallback() {
	t.callbackPaused++
}

// ResumeRecurringCallback undoes one PauseRecurringCallback.
func (t *Thread) ResumeRecurringCallback() {
	if t.callbackPaused == 0 {
		panic("safepoint: ResumeRecurringCallback without PauseRecurringCallback")
	}
	t.callbackPaused--
}

// evaluateTimer runs the recurring callback if it is due and sizes the
// next poll budget. entry is the counter value that sent the owner into
// the slow path.
func (t *Thread) evaluateTimer(entry int32) error {
	e := t.engine
	tm := t.timer
	if tm == nil || !e.cfg.recurring {
		t.resetPoll(e.cfg.pollReset)
		return nil
	}
	if tm.executing {
		// The callback itself reached a poll point.
		t.resetPoll(PollInfinite)
		return nil
	}

	if entry != entryUnsampled {
		tm.sample(e.cfg.nanotime(), skippedPolls(entry))
	}
	if t.callbackPaused == 0 {
		tm.run(t, e.cfg.nanotime)
	}

	// The callback may have replaced or removed the timer.
	switch next := t.timer; {
	case next == nil:
		t.resetPoll(e.cfg.pollReset)
	case next == tm:
		tm.requested = tm.nextBudget(e.cfg.nanotime(), t.callbackPaused > 0)
		t.resetPoll(tm.requested)
	default:
		t.resetPoll(next.requested)
	}

	err := t.abortErr
	t.abortErr = nil
	return err
}

// sample folds the poll rate since the last capture into the estimate.
func (tm *recurringTimer) sample(now int64, skipped int32) {
	executed := int64(tm.requested) - int64(skipped)
	elapsed := now - tm.lastCapture
	if executed > 0 && elapsed > 0 {
		rate := float64(executed) / float64(elapsed)
		if tm.ewma == 0 {
			tm.ewma = rate
		} else {
			tm.ewma = ewmaLambda*rate + (1-ewmaLambda)*tm.ewma
		}
	}
	tm.lastCapture = now
}

// run invokes the callback if at least the flexible part of the interval
// has passed since the last execution.
func (tm *recurringTimer) run(t *Thread, nanotime func() int64) {
	if nanotime() < tm.lastExecution+tm.flexible {
		return
	}
	tm.executing = true
	t.resetPoll(PollInfinite)
	defer func() {
		tm.executing = false
		tm.lastExecution = nanotime()
		tm.lastCapture = tm.lastExecution
	}()
	tm.invoke(t)
}

func (tm *recurringTimer) invoke(t *Thread) {
	t.restricted++
	defer func() {
		t.restricted--
		// Abort has already stored its error; other panics are dropped.
		_ = recover()
	}()
	tm.callback(&tm.access)
}

// nextBudget converts the time left until the next deadline into a number
// of poll points using the estimated poll rate.
func (tm *recurringTimer) nextBudget(now int64, paused bool) int32 {
	remaining := tm.lastExecution + tm.interval - now
	if remaining < 0 && paused {
		remaining = tm.interval
	} else if remaining < minIntervalNanos {
		remaining = minIntervalNanos
	}
	if tm.ewma == 0 {
		return initialPolls
	}
	checks := math.Round(tm.ewma * float64(remaining))
	if checks < 1 {
		return 1
	}
	if checks > float64(PollInfinite) {
		return PollInfinite
	}
	return int32(checks)
}
