package safepoint

import (
	"sync/atomic"
	"time"

	"github.com/llxisdsh/safepoint/internal/opt"
)

// ThreadID identifies an attached thread for the lifetime of its engine.
type ThreadID uint64

// Thread is the control block of one attached worker goroutine.
//
// A Thread is driven by its owner, the goroutine that attached it: only the
// owner may call Poll, Park, the transition methods and the recurring
// callback methods. Other goroutines may call Unpark, the read-only
// accessors, and pass the thread to Engine.Suspend / Engine.Resume.
//
// Concurrency notes:
//   - pollCounter is decremented and reset by the owner and negated /
//     restored by the coordinator with CAS. It sits first, padded to a
//     cache line on architectures where that pays off.
//   - status leaves StatusForeign only by CAS; see [Status].
//   - suspendCount changes only while a barrier is held, under the
//     registry mutex; the owner reads it atomically without the mutex.
//   - fields marked "owner" are never touched by other goroutines.
type Thread struct {
	_           noCopy
	pollCounter atomic.Int32
	_           [opt.PollPad_]byte

	status       atomic.Int32
	behavior     atomic.Int32
	suspendCount atomic.Int32
	detached     atomic.Bool
	hasTimer     atomic.Bool

	// barriers counts the barriers this thread was stopped by.
	barriers atomic.Uint64

	// actions holds post-barrier actions queued by operations at a barrier.
	actions atomic.Pointer[[]func(*Thread)]

	engine     *Engine
	id         ThreadID
	name       string
	osThreadID int
	attachedAt time.Time

	// next links the registry; guarded by the registry mutex.
	next *Thread

	// owner
	timer          *recurringTimer
	callbackPaused int32
	abortErr       error
	restricted     int32
	operating      int32
	// pollDeferred is set when the budget ran out while operating.
	pollDeferred bool
	park         chan struct{}
}

func newThread(e *Engine, name string) *Thread {
	t := &Thread{
		engine:     e,
		id:         ThreadID(e.nextID.Add(1)),
		name:       name,
		osThreadID: currentOSThreadID(),
		attachedAt: time.Now(),
		park:       make(chan struct{}, 1),
	}
	t.status.Store(int32(StatusCreated))
	t.pollCounter.Store(e.cfg.pollReset)
	return t
}

// ID returns the thread's identifier.
func (t *Thread) ID() ThreadID {
	return t.id
}

// Name returns the name given at Attach.
func (t *Thread) Name() string {
	return t.name
}

// Engine returns the engine the thread is attached to.
func (t *Thread) Engine() *Engine {
	return t.engine
}

// OSThreadID returns the OS thread the goroutine ran on when it attached.
// With [WithLockOSThread] it stays on that thread until Detach. It is zero
// on platforms without a thread id.
func (t *Thread) OSThreadID() int {
	return t.osThreadID
}

// Status returns the current execution state.
func (t *Thread) Status() Status {
	return Status(t.status.Load())
}

// Behavior returns the current barrier behavior.
func (t *Thread) Behavior() Behavior {
	return Behavior(t.behavior.Load())
}

// SuspendCount returns the number of outstanding suspensions.
func (t *Thread) SuspendCount() int {
	return int(t.suspendCount.Load())
}

// Detached reports whether the thread has been detached.
func (t *Thread) Detached() bool {
	return t.detached.Load()
}

// BarrierPending reports whether a barrier has been requested that this
// thread has not yet served. Schedulers use it to avoid blocking at
// inopportune times.
func (t *Thread) BarrierPending() bool {
	return t.pollCounter.Load() < 0 || t.engine.BarrierPending()
}

// PreventBarriers opts the thread out of barrier participation. Its poll
// points stop blocking, and any barrier request waits until AllowBarriers.
// Use it for short regions that hold a resource a barrier operation needs.
// It has no effect on a crashed thread.
func (t *Thread) PreventBarriers() {
	t.behavior.CompareAndSwap(int32(BehaviorAllow), int32(BehaviorPrevent))
}

// AllowBarriers reverts PreventBarriers. If a barrier is waiting for the
// thread it stops right away.
func (t *Thread) AllowBarriers() error {
	if !t.behavior.CompareAndSwap(int32(BehaviorPrevent), int32(BehaviorAllow)) {
		return nil
	}
	// The store above and the coordinator's phase store are both
	// sequentially consistent: either the coordinator sees Allow, or this
	// load sees the pending barrier.
	if t.engine.BarrierPending() {
		return t.pollSlow(entryUnsampled)
	}
	return nil
}

// MarkCrashed permanently excludes the thread from barriers after an
// unrecoverable fault. The coordinator never waits for it again.
func (t *Thread) MarkCrashed() {
	t.behavior.Store(int32(BehaviorCrashed))
	t.resetPoll(PollInfinite)
}

func (t *Thread) mustNotBlock() bool {
	return t.restricted > 0
}
