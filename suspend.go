package safepoint

// Suspend increments target's suspend count at a barrier. A suspended
// thread stays stopped across barrier releases until Resume has been
// called as many times as Suspend. A thread may suspend itself; it stops
// when Suspend returns.
//
// caller is the attached thread making the call, or nil. Like Enqueue,
// Suspend and Resume must not be called from inside an operation.
func (e *Engine) Suspend(caller, target *Thread) error {
	if target == nil {
		panic("safepoint: nil thread")
	}
	if target.engine != e {
		return ErrOtherEngine
	}
	var err error
	op := NewOperation("suspend thread", true, func(*OperationContext) {
		if target.detached.Load() {
			err = ErrDetached
			return
		}
		target.suspendCount.Add(1)
	})
	if qerr := e.Enqueue(caller, op); qerr != nil {
		return qerr
	}
	return err
}

// Resume decrements target's suspend count at a barrier. When it reaches
// zero the thread continues after the barrier is released. Resume returns
// ErrNotSuspended if target is not suspended.
func (e *Engine) Resume(caller, target *Thread) error {
	if target == nil {
		panic("safepoint: nil thread")
	}
	if target.engine != e {
		return ErrOtherEngine
	}
	var err error
	op := NewOperation("resume thread", true, func(*OperationContext) {
		if target.suspendCount.Load() == 0 {
			err = ErrNotSuspended
			return
		}
		target.suspendCount.Add(-1)
	})
	if qerr := e.Enqueue(caller, op); qerr != nil {
		return qerr
	}
	return err
}
