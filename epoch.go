package safepoint

import (
	"sync/atomic"

	"github.com/llxisdsh/safepoint/internal/opt"
)

// barrierEpoch counts established barriers and lets observers wait for a
// target count. It wakes only the waiters whose target has been reached.
//
// The coordinator advances it while holding the registry mutex, so advance
// must stay cheap: with no waiters it is a single atomic add.
type barrierEpoch struct {
	_       noCopy
	state   atomic.Uint32
	waiters atomic.Int32
	mu      ticketLock
	head    *epochWaiter
	tail    *epochWaiter
}

type epochWaiter struct {
	target uint32
	sema   opt.Sema
	// next is protected by barrierEpoch.mu
	next *epochWaiter
}

func (e *barrierEpoch) current() uint32 {
	return e.state.Load()
}

// advance counts one more barrier and returns the new id.
func (e *barrierEpoch) advance() uint32 {
	id := e.state.Add(1)
	// A waiter registers itself before it rechecks state, so a zero count
	// here means any later waiter will observe id.
	if e.waiters.Load() == 0 {
		return id
	}

	e.mu.lock()
	var prev *epochWaiter
	for cur := e.head; cur != nil; {
		next := cur.next
		if cur.target <= id {
			if prev == nil {
				e.head = next
			} else {
				prev.next = next
			}
			if cur == e.tail {
				e.tail = prev
			}
			cur.next = nil
			e.waiters.Add(-1)
			cur.sema.Release()
		} else {
			prev = cur
		}
		cur = next
	}
	e.mu.unlock()
	return id
}

// waitAtLeast blocks until the epoch reaches target.
func (e *barrierEpoch) waitAtLeast(target uint32) {
	if e.state.Load() >= target {
		return
	}

	e.mu.lock()
	e.waiters.Add(1)
	if e.state.Load() >= target {
		e.waiters.Add(-1)
		e.mu.unlock()
		return
	}
	w := &epochWaiter{target: target}
	if e.tail == nil {
		e.head = w
	} else {
		e.tail.next = w
	}
	e.tail = w
	e.mu.unlock()

	w.sema.Acquire()
}
