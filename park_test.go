package safepoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestPark_Permit(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)
	th := mustAttach(t, e, "parker")

	th.Unpark()
	th.Unpark()
	// One permit is stored; the fast path consumes it without a state change.
	if err := th.Park(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := th.Park(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Park = %v, want DeadlineExceeded", err)
	}
	if s := th.Status(); s != StatusManaged {
		t.Fatalf("status = %v, want managed", s)
	}
}

func TestPark_DoesNotDelayBarrier(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)
	th := mustAttach(t, e, "sleeper")

	parked := make(chan error, 1)
	go func() { parked <- th.Park(context.Background()) }()

	deadline := time.Now().Add(5 * time.Second)
	for th.Status() != StatusForeign {
		if time.Now().After(deadline) {
			t.Fatal("parked thread did not become foreign")
		}
		time.Sleep(time.Millisecond)
	}
	var seen Status
	if err := e.Enqueue(nil, NewOperation("while parked", true, func(*OperationContext) {
		seen = th.Status()
	})); err != nil {
		t.Fatal(err)
	}
	if seen != StatusBarrier {
		t.Fatalf("status at barrier = %v, want barrier", seen)
	}
	th.Unpark()
	select {
	case err := <-parked:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Unpark did not wake the thread")
	}
	if s := th.Status(); s != StatusManaged {
		t.Fatalf("status = %v, want managed", s)
	}
}

func TestPark_RestrictedInOperation(t *testing.T) {
	e, _ := newObservedEngine(t, zapcore.WarnLevel)
	th := mustAttach(t, e, "op-parker")

	var got error
	if err := e.Enqueue(th, NewOperation("park inside", false, func(ctx *OperationContext) {
		got = ctx.Thread().Park(context.Background())
	})); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(got, ErrMustNotBlock) {
		t.Fatalf("Park = %v, want ErrMustNotBlock", got)
	}
}
