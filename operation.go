package safepoint

// OperationInfo describes a coordinated operation.
type OperationInfo struct {
	// Name identifies the operation in logs and in the history.
	Name string
	// NeedsBarrier runs the operation while every other attached thread is
	// stopped.
	NeedsBarrier bool
}

// Operation is a unit of work executed under the engine's operation model:
// at most one operation is active at a time, and barrier operations run
// while every other thread is stopped.
//
// Operate runs in a restricted context: it must not block, park, or submit
// operations through the Engine. Nested work goes through
// [OperationContext.Enqueue].
type Operation interface {
	Info() OperationInfo
	Operate(ctx *OperationContext)
}

// NewOperation returns an Operation that calls fn.
func NewOperation(name string, needsBarrier bool, fn func(ctx *OperationContext)) Operation {
	if fn == nil {
		panic("safepoint: nil operation func")
	}
	return &funcOperation{info: OperationInfo{Name: name, NeedsBarrier: needsBarrier}, fn: fn}
}

type funcOperation struct {
	info OperationInfo
	fn   func(ctx *OperationContext)
}

func (o *funcOperation) Info() OperationInfo           { return o.info }
func (o *funcOperation) Operate(ctx *OperationContext) { o.fn(ctx) }

// StaticOperation is an operation whose per-submission state lives in a
// caller-owned StaticOperationData, so submitting it allocates no queue
// node. Use it for operations issued from code paths that must not
// allocate, such as allocation-failure handling.
type StaticOperation struct {
	info OperationInfo
	fn   func(ctx *OperationContext, data *StaticOperationData)
}

// NewStaticOperation returns a StaticOperation that calls fn.
func NewStaticOperation(name string, needsBarrier bool, fn func(ctx *OperationContext, data *StaticOperationData)) *StaticOperation {
	if fn == nil {
		panic("safepoint: nil operation func")
	}
	return &StaticOperation{info: OperationInfo{Name: name, NeedsBarrier: needsBarrier}, fn: fn}
}

// Info returns the operation's description.
func (o *StaticOperation) Info() OperationInfo {
	return o.info
}

// StaticOperationData carries one submission of a StaticOperation. It may
// be reused once the submission has returned, but not submitted twice
// concurrently.
type StaticOperationData struct {
	// Arg is passed through to the operation unchanged.
	Arg any
	op  *StaticOperation
	opLink
}

// opLink is the intrusive queue state of a submission; guarded by the
// registry mutex.
type opLink struct {
	next    queued
	queuer  *Thread
	pending bool
	err     error
}

type queued interface {
	info() OperationInfo
	operate(ctx *OperationContext)
	link() *opLink
	static() bool
}

type opRecord struct {
	op Operation
	opLink
}

func (r *opRecord) info() OperationInfo           { return r.op.Info() }
func (r *opRecord) operate(ctx *OperationContext) { r.op.Operate(ctx) }
func (r *opRecord) link() *opLink                 { return &r.opLink }
func (r *opRecord) static() bool                  { return false }

func (d *StaticOperationData) info() OperationInfo           { return d.op.info }
func (d *StaticOperationData) operate(ctx *OperationContext) { d.op.fn(ctx, d) }
func (d *StaticOperationData) link() *opLink                 { return &d.opLink }
func (d *StaticOperationData) static() bool                  { return true }

type opQueue struct {
	head, tail queued
}

func (q *opQueue) push(op queued) {
	op.link().next = nil
	if q.tail == nil {
		q.head = op
	} else {
		q.tail.link().next = op
	}
	q.tail = op
}

func (q *opQueue) pop() queued {
	op := q.head
	if op == nil {
		return nil
	}
	l := op.link()
	q.head = l.next
	if q.head == nil {
		q.tail = nil
	}
	l.next = nil
	return op
}

// opQueues holds the four pending queues, indexed by
// [needs barrier][static]. Static operations are drained first.
type opQueues struct {
	q [2][2]opQueue
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (qs *opQueues) push(op queued) {
	qs.q[b2i(op.info().NeedsBarrier)][b2i(op.static())].push(op)
}

func (qs *opQueues) pop(barrier bool) queued {
	i := b2i(barrier)
	if op := qs.q[i][1].pop(); op != nil {
		return op
	}
	return qs.q[i][0].pop()
}

func (qs *opQueues) peek(barrier bool) queued {
	i := b2i(barrier)
	if op := qs.q[i][1].head; op != nil {
		return op
	}
	return qs.q[i][0].head
}

func (qs *opQueues) empty() bool {
	return qs.peek(true) == nil && qs.peek(false) == nil
}

// OperationContext is passed to a running operation.
type OperationContext struct {
	engine    *Engine
	thread    *Thread
	queuer    *Thread
	info      OperationInfo
	atBarrier bool
	depth     int
}

// Engine returns the engine executing the operation.
func (c *OperationContext) Engine() *Engine { return c.engine }

// Thread returns the thread executing the operation: the submitter, the
// dedicated executor, or nil for a submitter that is not attached.
func (c *OperationContext) Thread() *Thread { return c.thread }

// Queuer returns the thread that submitted the operation, nil if it was
// submitted by a goroutine that is not attached.
func (c *OperationContext) Queuer() *Thread { return c.queuer }

// Info returns the running operation's description.
func (c *OperationContext) Info() OperationInfo { return c.info }

// AtBarrier reports whether every other thread is stopped.
func (c *OperationContext) AtBarrier() bool { return c.atBarrier }

// Nested reports whether the operation was enqueued by another operation.
func (c *OperationContext) Nested() bool { return c.depth > 0 }

// BarrierID returns the id of the barrier in effect, or of the last one.
func (c *OperationContext) BarrierID() uint32 { return c.engine.BarrierID() }

// Enqueue runs op immediately on the executing thread, inside the current
// operation. A barrier operation nested in a non-barrier one establishes
// its own barrier around itself.
func (c *OperationContext) Enqueue(op Operation) error {
	if op == nil {
		panic("safepoint: nil operation")
	}
	return c.nested(&opRecord{op: op})
}

// EnqueueStatic is Enqueue for a StaticOperation.
func (c *OperationContext) EnqueueStatic(op *StaticOperation, data *StaticOperationData) error {
	if op == nil || data == nil {
		panic("safepoint: nil static operation")
	}
	if data.pending {
		panic("safepoint: static operation data submitted twice")
	}
	data.op = op
	return c.nested(data)
}

func (c *OperationContext) nested(op queued) error {
	e := c.engine
	l := op.link()
	*l = opLink{queuer: c.thread, pending: true}
	atBarrier := c.atBarrier
	if op.info().NeedsBarrier && !atBarrier {
		e.requestBarrier(c.thread, op.info().Name)
		defer e.releaseBarrier(c.thread)
		atBarrier = true
	}
	e.execute(c.thread, op, atBarrier, c.depth+1)
	return l.err
}

// ForEachThread calls fn for every attached thread until fn returns false.
// At a barrier the threads are stopped; otherwise only the registry is
// stable.
func (c *OperationContext) ForEachThread(fn func(t *Thread) bool) {
	for t := c.engine.head; t != nil; t = t.next {
		if !fn(t) {
			return
		}
	}
}
