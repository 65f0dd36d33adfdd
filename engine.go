package safepoint

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aclements/go-moremath/stats"
	"github.com/llxisdsh/pb"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Engine is the coordination context shared by a set of attached threads.
// It owns the thread registry, the barrier coordinator and the operation
// queues. It is constructed once with New and torn down with Close; all
// entry points take it (or a Thread attached to it) explicitly.
//
// Locking:
//
//	mu is the registry mutex. It guards the registry list, the operation
//	queues and the operation-in-progress state, and a coordinator holds it
//	from the moment it requests a barrier until it releases it. A thread
//	must not be in StatusManaged or StatusTrusted while it waits for mu,
//	or a coordinator holding mu would wait for it forever. The barrier
//	machinery is exempt: it only takes mu after leaving those states.
type Engine struct {
	_   noCopy
	cfg Config
	log *zap.Logger

	mu sync.Mutex
	// resumed is signalled when a barrier is released; suspended threads
	// wait on it until their suspend count returns to zero.
	resumed *sync.Cond
	// queued wakes the dedicated executor.
	queued *sync.Cond
	// done wakes submitters waiting for the dedicated executor.
	done *sync.Cond

	// head is the registry list; guarded by mu.
	head    *Thread
	threads atomic.Int32
	index   pb.MapOf[ThreadID, *Thread]
	nextID  atomic.Uint64

	barrier coordinator
	ops     opControl

	executor *Thread
	group    errgroup.Group
	closed   atomic.Bool
}

// New creates an engine.
//
// Usage:
//
//	e := safepoint.New(
//		safepoint.WithLogger(logger),
//		safepoint.WithPromptnessWarning(500*time.Millisecond),
//	)
//	defer e.Close()
//
//	t, _ := e.Attach("worker-1")
//	defer t.Detach()
//	for work := range queue {
//		if err := t.Poll(); err != nil {
//			return err
//		}
//		process(work)
//	}
func New(options ...func(*Config)) *Engine {
	e := &Engine{cfg: defaultConfig()}
	for _, o := range options {
		o(&e.cfg)
	}
	e.log = e.cfg.logger
	e.resumed = sync.NewCond(&e.mu)
	e.queued = sync.NewCond(&e.mu)
	e.done = sync.NewCond(&e.mu)
	e.ops.history.init(e.cfg.historySize)
	if e.cfg.dedicated {
		e.startExecutor()
	}
	return e
}

// Attach registers the calling goroutine as a worker thread and returns its
// control block in StatusManaged. It blocks while a barrier is in effect.
//
// The calling goroutine must not itself be attached and cooperating.
func (e *Engine) Attach(name string) (*Thread, error) {
	if e.cfg.lockOSThread {
		runtime.LockOSThread()
	}
	t := newThread(e, name)

	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		if e.cfg.lockOSThread {
			runtime.UnlockOSThread()
		}
		return nil, ErrClosed
	}
	t.next = e.head
	e.head = t
	e.threads.Add(1)
	e.index.Store(t.id, t)
	// No barrier can be in effect while mu is held.
	t.status.Store(int32(StatusManaged))
	e.mu.Unlock()

	e.log.Debug("thread attached",
		zap.Uint64("thread", uint64(t.id)),
		zap.String("name", name),
		zap.Int("tid", t.osThreadID))
	return t, nil
}

// Detach unregisters the thread. It must be called by the owner while the
// thread is in StatusManaged. If the thread is suspended, Detach blocks
// until it is resumed.
func (t *Thread) Detach() error {
	if t.detached.Load() {
		return ErrDetached
	}
	if t.operating > 0 {
		return ErrReentrant
	}
	if s := t.Status(); s != StatusManaged {
		panic(&TransitionError{Thread: t.id, From: s, To: StatusForeign})
	}
	e := t.engine
	t.status.Store(int32(StatusForeign))

	e.mu.Lock()
	for t.suspendCount.Load() > 0 {
		e.resumed.Wait()
	}
	e.unlinkLocked(t)
	e.index.Delete(t.id)
	t.detached.Store(true)
	e.mu.Unlock()

	t.timer = nil
	t.hasTimer.Store(false)
	if e.cfg.lockOSThread {
		runtime.UnlockOSThread()
	}
	e.log.Debug("thread detached", zap.Uint64("thread", uint64(t.id)), zap.String("name", t.name))
	return nil
}

func (e *Engine) unlinkLocked(t *Thread) {
	var prev *Thread
	for cur := e.head; cur != nil; cur = cur.next {
		if cur == t {
			if prev == nil {
				e.head = cur.next
			} else {
				prev.next = cur.next
			}
			cur.next = nil
			e.threads.Add(-1)
			return
		}
		prev = cur
	}
}

// Lookup returns the attached thread with the given id. It does not take
// the registry mutex and may be called from any goroutine.
func (e *Engine) Lookup(id ThreadID) (*Thread, bool) {
	return e.index.Load(id)
}

// NumThreads returns the number of attached threads.
func (e *Engine) NumThreads() int {
	return int(e.threads.Load())
}

// BarrierPending reports whether a barrier is being requested or is in
// effect.
func (e *Engine) BarrierPending() bool {
	return phase(e.barrier.phase.Load()) != phaseIdle
}

// BarrierID returns the number of barriers established so far. Observers
// compare it before and after a step to detect that a barrier intervened.
func (e *Engine) BarrierID() uint32 {
	return e.barrier.epoch.current()
}

// AwaitBarrier blocks until at least id barriers have been established.
// caller is the attached thread making the call, or nil for a goroutine
// that is not attached; an attached caller passes through StatusForeign
// while it waits, so it never delays the barrier it waits for.
func (e *Engine) AwaitBarrier(caller *Thread, id uint32) error {
	if caller != nil {
		if caller.engine != e {
			return ErrOtherEngine
		}
		if caller.mustNotBlock() {
			return ErrMustNotBlock
		}
	}
	if e.barrier.epoch.current() >= id {
		return nil
	}
	from := enterBlocking(caller)
	e.barrier.epoch.waitAtLeast(id)
	leaveBlocking(caller, from)
	return nil
}

// Close stops accepting operations and attachments. With a dedicated
// executor it waits for the queued operations to finish and the executor
// to exit. Close must not be called from a cooperating thread.
func (e *Engine) Close() error {
	e.mu.Lock()
	already := e.closed.Swap(true)
	e.queued.Broadcast()
	e.mu.Unlock()
	if already {
		return nil
	}
	err := e.group.Wait()
	e.log.Debug("engine closed", zap.Uint32("barriers", e.BarrierID()))
	return err
}

// Stats is a summary of an engine's activity.
type Stats struct {
	// Threads is the number of attached threads.
	Threads int
	// Barriers is the number of barriers established.
	Barriers uint64
	// MeanTimeToBarrier and MaxTimeToBarrier measure the time from a
	// request until every thread had stopped.
	MeanTimeToBarrier time.Duration
	MaxTimeToBarrier  time.Duration
	// Operations is the number of operations executed.
	Operations uint64
	// MeanOperation and MaxOperation summarize the execution time of the
	// operations still in the history.
	MeanOperation time.Duration
	MaxOperation  time.Duration
}

// Stats returns a summary of the engine's activity.
func (e *Engine) Stats() Stats {
	s := Stats{
		Threads:          e.NumThreads(),
		Barriers:         e.barrier.established.Load(),
		MaxTimeToBarrier: time.Duration(e.barrier.waitMax.Load()),
	}
	if s.Barriers > 0 {
		s.MeanTimeToBarrier = time.Duration(e.barrier.waitTotal.Load() / int64(s.Barriers))
	}

	records, total := e.ops.history.snapshot()
	s.Operations = total
	if len(records) > 0 {
		xs := make([]float64, len(records))
		for i := range records {
			xs[i] = float64(records[i].Duration)
		}
		_, hi := stats.Bounds(xs)
		s.MeanOperation = time.Duration(stats.Mean(xs))
		s.MaxOperation = time.Duration(hi)
	}
	return s
}

// RecentOperations returns the most recently executed operations, oldest
// first.
func (e *Engine) RecentOperations() []OperationRecord {
	records, _ := e.ops.history.snapshot()
	return records
}
