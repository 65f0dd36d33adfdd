package safepoint

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// opControl is the operation state of an engine; guarded by the registry
// mutex except for active and history.
type opControl struct {
	queues  opQueues
	active  atomic.Int32
	history opHistory
}

// Enqueue submits op and returns once it has run. caller is the attached
// thread making the call, or nil for a goroutine that is not attached.
//
// An attached caller passes through StatusForeign while it waits for the
// registry mutex and the operation, and returns to its previous state
// afterwards; if a barrier catches it on the way back it stops there.
// Without a dedicated executor the caller runs every queued operation
// itself.
//
// The returned error is ErrClosed, ErrReentrant, ErrMustNotBlock, or an
// *OperationPanicError if op panicked.
//
// Enqueue must not be called from inside Operate. An attached executor is
// refused with ErrReentrant, but a nil caller cannot be told apart from an
// unrelated goroutine and deadlocks on the registry mutex held by the
// running operation. Nested work goes through [OperationContext.Enqueue].
func (e *Engine) Enqueue(caller *Thread, op Operation) error {
	if op == nil {
		panic("safepoint: nil operation")
	}
	return e.submit(caller, &opRecord{op: op}, nil)
}

// EnqueueStatic submits a StaticOperation with the submission state in
// data. data may be reused after EnqueueStatic returns.
func (e *Engine) EnqueueStatic(caller *Thread, op *StaticOperation, data *StaticOperationData) error {
	if op == nil || data == nil {
		panic("safepoint: nil static operation")
	}
	return e.submit(caller, data, op)
}

// submit queues op; static is the StaticOperation bound to op when op is
// a *StaticOperationData.
func (e *Engine) submit(caller *Thread, op queued, static *StaticOperation) error {
	if caller != nil {
		if caller.engine != e {
			return ErrOtherEngine
		}
		if caller.detached.Load() {
			return ErrDetached
		}
		if caller.operating > 0 {
			return ErrReentrant
		}
		if caller.mustNotBlock() {
			return ErrMustNotBlock
		}
	}
	from := enterBlocking(caller)
	err := e.submitLocked(caller, op, static)
	leaveBlocking(caller, from)
	return err
}

func (e *Engine) submitLocked(caller *Thread, op queued, static *StaticOperation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	// A caller suspended while it waited for mu stays stopped.
	for caller != nil && caller.suspendCount.Load() > 0 {
		e.resumed.Wait()
	}
	if e.closed.Load() {
		return ErrClosed
	}

	l := op.link()
	if static != nil {
		if l.pending {
			panic("safepoint: static operation data submitted twice")
		}
		op.(*StaticOperationData).op = static
	}
	*l = opLink{queuer: caller, pending: true}
	e.ops.queues.push(op)

	if e.executor != nil {
		e.queued.Signal()
		for l.pending {
			e.done.Wait()
		}
	} else {
		e.drain(caller)
	}
	return l.err
}

// drain runs queued operations until the queues are empty. Barrier
// operations run together inside one barrier, then the others. exec is the
// thread running them; e.mu is held.
func (e *Engine) drain(exec *Thread) {
	qs := &e.ops.queues
	for !qs.empty() {
		if qs.peek(true) != nil {
			e.drainAtBarrier(exec)
		}
		for op := qs.pop(false); op != nil; op = qs.pop(false) {
			e.execute(exec, op, false, 0)
		}
	}
}

func (e *Engine) drainAtBarrier(exec *Thread) {
	qs := &e.ops.queues
	e.requestBarrier(exec, qs.peek(true).info().Name)
	defer e.releaseBarrier(exec)
	for op := qs.pop(true); op != nil; op = qs.pop(true) {
		e.execute(exec, op, true, 0)
	}
}

// execute runs one operation and completes its submission.
func (e *Engine) execute(exec *Thread, op queued, atBarrier bool, depth int) {
	l := op.link()
	ctx := &OperationContext{
		engine:    e,
		thread:    exec,
		queuer:    l.queuer,
		info:      op.info(),
		atBarrier: atBarrier,
		depth:     depth,
	}
	e.ops.active.Add(1)
	if exec != nil {
		exec.operating++
		exec.restricted++
	}

	start := time.Now()
	l.err = callOperate(ctx, op)
	elapsed := time.Since(start)

	if exec != nil {
		exec.operating--
		exec.restricted--
		if exec.operating == 0 {
			exec.resumePolling()
		}
	}
	e.ops.active.Add(-1)
	l.pending = false

	r := OperationRecord{
		Name:      ctx.info.Name,
		AtBarrier: atBarrier,
		BarrierID: e.barrier.epoch.current(),
		Nested:    depth > 0,
		Start:     start,
		Duration:  elapsed,
		Panicked:  l.err != nil,
	}
	if l.queuer != nil {
		r.Queuer = l.queuer.id
	}
	if exec != nil {
		r.Executor = exec.id
	}
	e.ops.history.record(r)

	if l.err != nil {
		e.log.Error("operation panicked", zap.String("operation", ctx.info.Name), zap.Error(l.err))
	} else {
		e.log.Debug("operation executed", zap.Object("operation", r))
	}
}

func callOperate(ctx *OperationContext, op queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newOperationPanicError(ctx.info.Name, r)
		}
	}()
	op.operate(ctx)
	return nil
}

// OperationInProgress reports whether an operation is executing.
func (e *Engine) OperationInProgress() bool {
	return e.ops.active.Load() > 0
}

func (e *Engine) startExecutor() {
	ex := newThread(e, "operation-executor")
	ex.status.Store(int32(StatusForeign))
	e.executor = ex
	e.group.Go(func() error {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		e.runExecutor(ex)
		return nil
	})
}

// runExecutor is the dedicated executor loop. It exits once the engine is
// closed and the queues are drained.
func (e *Engine) runExecutor(ex *Thread) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		for e.ops.queues.empty() && !e.closed.Load() {
			e.queued.Wait()
		}
		if e.ops.queues.empty() {
			return
		}
		e.drain(ex)
		e.done.Broadcast()
	}
}
