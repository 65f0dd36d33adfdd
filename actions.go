package safepoint

// RequestActionForAllThreads queues fn on every attached thread other than
// the executing one. Each thread runs it once, on its own goroutine, the
// next time it returns to StatusManaged after the barrier. It panics
// outside a barrier.
func (c *OperationContext) RequestActionForAllThreads(fn func(t *Thread)) {
	if !c.atBarrier {
		panic("safepoint: post-barrier action requested outside a barrier")
	}
	c.ForEachThread(func(t *Thread) bool {
		if t != c.thread {
			t.addAction(fn)
		}
		return true
	})
}

// RequestAction queues fn on a single thread. It panics outside a barrier.
func (c *OperationContext) RequestAction(t *Thread, fn func(t *Thread)) {
	if !c.atBarrier {
		panic("safepoint: post-barrier action requested outside a barrier")
	}
	t.addAction(fn)
}

// addAction appends fn; the owner may swap the list out concurrently.
func (t *Thread) addAction(fn func(t *Thread)) {
	for {
		old := t.actions.Load()
		var next []func(*Thread)
		if old != nil {
			next = make([]func(*Thread), len(*old), len(*old)+1)
			copy(next, *old)
		}
		next = append(next, fn)
		if t.actions.CompareAndSwap(old, &next) {
			return
		}
	}
}

// runActions runs and clears the pending post-barrier actions.
func (t *Thread) runActions() {
	if t.actions.Load() == nil {
		return
	}
	p := t.actions.Swap(nil)
	if p == nil {
		return
	}
	for _, fn := range *p {
		fn(t)
	}
}
