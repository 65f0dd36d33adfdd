package safepoint

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func TestControl_MutualExclusion(t *testing.T) {
	for _, dedicated := range []bool{false, true} {
		var opts []func(*Config)
		if dedicated {
			opts = append(opts, WithDedicatedExecutor())
		}
		e, _ := newObservedEngine(t, zapcore.WarnLevel, opts...)

		var active atomic.Int32
		var overlap atomic.Bool
		count := 0
		var g errgroup.Group
		const submitters, each = 8, 50
		for i := range submitters {
			g.Go(func() error {
				th, err := e.Attach("submitter")
				if err != nil {
					return err
				}
				for j := range each {
					op := NewOperation("count", (i+j)%3 == 0, func(*OperationContext) {
						if active.Add(1) != 1 {
							overlap.Store(true)
						}
						count++
						active.Add(-1)
					})
					if err := e.Enqueue(th, op); err != nil {
						return err
					}
					if err := th.Poll(); err != nil {
						return err
					}
				}
				return th.Detach()
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("dedicated=%v: %v", dedicated, err)
		}
		if overlap.Load() {
			t.Fatalf("dedicated=%v: operations overlapped", dedicated)
		}
		if count != submitters*each {
			t.Fatalf("dedicated=%v: count = %d, want %d", dedicated, count, submitters*each)
		}
	}
}

func TestControl_CallerReturnsToManaged(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)
	th := mustAttach(t, e, "caller")

	var during Status
	var exec *Thread
	err := e.Enqueue(th, NewOperation("look", true, func(ctx *OperationContext) {
		during = th.Status()
		exec = ctx.Thread()
	}))
	if err != nil {
		t.Fatal(err)
	}
	if during != StatusForeign {
		t.Fatalf("caller status during operation = %v, want foreign", during)
	}
	if exec != th {
		t.Fatal("caller did not execute its own operation")
	}
	if s := th.Status(); s != StatusManaged {
		t.Fatalf("caller status after = %v, want managed", s)
	}
}

func TestControl_Nested(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)
	th := mustAttach(t, e, "nester")

	var outerAt, innerAt, innerNested, deepAt bool
	var innerID, deepID uint32
	outer := NewOperation("outer", false, func(ctx *OperationContext) {
		outerAt = ctx.AtBarrier()
		err := ctx.Enqueue(NewOperation("inner", true, func(ctx *OperationContext) {
			innerAt = ctx.AtBarrier()
			innerNested = ctx.Nested()
			innerID = ctx.BarrierID()
			_ = ctx.Enqueue(NewOperation("deep", true, func(ctx *OperationContext) {
				deepAt = ctx.AtBarrier()
				deepID = ctx.BarrierID()
			}))
		}))
		if err != nil {
			t.Error(err)
		}
		if ctx.AtBarrier() || e.BarrierPending() {
			t.Error("barrier still in effect after nested operation")
		}
	})
	before := e.BarrierID()
	if err := e.Enqueue(th, outer); err != nil {
		t.Fatal(err)
	}
	if outerAt || !innerAt || !innerNested || !deepAt {
		t.Fatalf("outer=%v inner=%v nested=%v deep=%v", outerAt, innerAt, innerNested, deepAt)
	}
	if innerID != before+1 || deepID != innerID {
		t.Fatalf("barrier ids: before=%d inner=%d deep=%d", before, innerID, deepID)
	}

	records := e.RecentOperations()
	if len(records) != 3 || records[0].Name != "deep" || records[2].Name != "outer" {
		t.Fatalf("history = %+v", records)
	}
}

func TestControl_Reentrant(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)
	th := mustAttach(t, e, "reentrant")

	var inner error
	err := e.Enqueue(th, NewOperation("outer", false, func(ctx *OperationContext) {
		inner = e.Enqueue(ctx.Thread(), NewOperation("inner", false, func(*OperationContext) {}))
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(inner, ErrReentrant) {
		t.Fatalf("inner = %v, want ErrReentrant", inner)
	}
}

func TestControl_StaticOperation(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)
	th := mustAttach(t, e, "static")

	var sum int
	op := NewStaticOperation("add", true, func(ctx *OperationContext, data *StaticOperationData) {
		if !ctx.AtBarrier() {
			t.Error("static barrier operation ran outside a barrier")
		}
		sum += data.Arg.(int)
	})
	var data StaticOperationData
	for i := 1; i <= 3; i++ {
		data.Arg = i
		if err := e.EnqueueStatic(th, op, &data); err != nil {
			t.Fatal(err)
		}
	}
	if sum != 6 {
		t.Fatalf("sum = %d, want 6", sum)
	}
	if op.Info().Name != "add" || !op.Info().NeedsBarrier {
		t.Fatalf("Info = %+v", op.Info())
	}
}

func TestControl_StaticBeforeRegular(t *testing.T) {
	var qs opQueues
	regular := &opRecord{op: NewOperation("regular", true, func(*OperationContext) {})}
	static := &StaticOperationData{op: NewStaticOperation("static", true, func(*OperationContext, *StaticOperationData) {})}
	plain := &opRecord{op: NewOperation("plain", false, func(*OperationContext) {})}
	qs.push(plain)
	qs.push(regular)
	qs.push(static)
	for _, want := range []string{"static", "regular"} {
		if got := qs.pop(true).info().Name; got != want {
			t.Fatalf("pop(true) = %q, want %q", got, want)
		}
	}
	if qs.pop(true) != nil {
		t.Fatal("barrier queue not empty")
	}
	if got := qs.pop(false).info().Name; got != "plain" {
		t.Fatalf("pop(false) = %q", got)
	}
	if !qs.empty() {
		t.Fatal("queues not empty")
	}
}

func TestControl_Panic(t *testing.T) {
	e, logs := newObservedEngine(t, zapcore.WarnLevel)
	th := mustAttach(t, e, "panicker")

	boom := errors.New("boom")
	err := e.Enqueue(th, NewOperation("explode", true, func(*OperationContext) {
		panic(boom)
	}))
	var perr *OperationPanicError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *OperationPanicError", err)
	}
	if perr.Operation != "explode" || !errors.Is(err, boom) || len(perr.Stack) == 0 {
		t.Fatalf("unexpected panic error: %+v", perr)
	}
	if e.BarrierPending() {
		t.Fatal("barrier not released after panic")
	}
	if logs.FilterMessage("operation panicked").Len() != 1 {
		t.Fatal("panic not logged")
	}
	if err := e.Enqueue(th, NewOperation("after", true, func(*OperationContext) {})); err != nil {
		t.Fatal(err)
	}
	if s := th.Status(); s != StatusManaged {
		t.Fatalf("status = %v", s)
	}
}

func TestControl_DedicatedExecutor(t *testing.T) {
	e := New(WithDedicatedExecutor())
	th, err := e.Attach("submitter")
	if err != nil {
		t.Fatal(err)
	}

	var exec, queuer *Thread
	err = e.Enqueue(th, NewOperation("where", true, func(ctx *OperationContext) {
		exec = ctx.Thread()
		queuer = ctx.Queuer()
	}))
	if err != nil {
		t.Fatal(err)
	}
	if exec == nil || exec == th || exec.Name() != "operation-executor" {
		t.Fatalf("executor = %v", exec)
	}
	if queuer != th {
		t.Fatal("queuer is not the submitter")
	}
	if _, ok := e.Lookup(exec.ID()); ok {
		t.Fatal("executor is registered as a worker")
	}
	if err := th.Detach(); err != nil {
		t.Fatal(err)
	}

	closed := make(chan error, 1)
	go func() { closed <- e.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not stop the executor")
	}
	if err := e.Enqueue(nil, NewOperation("late", false, func(*OperationContext) {})); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue after Close = %v, want ErrClosed", err)
	}
}

func TestControl_PostBarrierActions(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)

	const workers = 4
	var stop atomic.Bool
	var mu sync.Mutex
	ran := make(map[ThreadID]int)
	var g errgroup.Group
	var ready sync.WaitGroup
	ready.Add(workers)
	for range workers {
		g.Go(func() error {
			th, err := e.Attach("actor")
			ready.Done()
			if err != nil {
				return err
			}
			for !stop.Load() {
				if err := th.Poll(); err != nil {
					return err
				}
			}
			return th.Detach()
		})
	}
	ready.Wait()

	err := e.Enqueue(nil, NewOperation("flush", true, func(ctx *OperationContext) {
		ctx.RequestActionForAllThreads(func(th *Thread) {
			mu.Lock()
			ran[th.ID()]++
			mu.Unlock()
		})
	}))
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(ran)
		mu.Unlock()
		if n == workers {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("actions ran on %d threads, want %d", n, workers)
		}
		time.Sleep(time.Millisecond)
	}
	stop.Store(true)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	for id, n := range ran {
		if n != 1 {
			t.Fatalf("thread %d ran the action %d times", id, n)
		}
	}
}

func TestControl_ActionsOutsideBarrierPanic(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)
	err := e.Enqueue(nil, NewOperation("plain", false, func(ctx *OperationContext) {
		ctx.RequestActionForAllThreads(func(*Thread) {})
	}))
	var perr *OperationPanicError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *OperationPanicError", err)
	}
}

func TestControl_ThreadsSnapshot(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)
	a := mustAttach(t, e, "a")
	b := mustAttach(t, e, "b")
	b.EnterForeign()

	infos, err := e.Threads(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d threads, want 2", len(infos))
	}
	for _, info := range infos {
		switch info.ID {
		case a.ID():
			if info.Status != StatusForeign || info.Name != "a" {
				t.Fatalf("requester info = %+v", info)
			}
		case b.ID():
			if info.Status != StatusBarrier || info.Barriers != 1 {
				t.Fatalf("stopped thread info = %+v", info)
			}
		default:
			t.Fatalf("unknown thread %d", info.ID)
		}
	}
	b.LeaveForeign()
}
