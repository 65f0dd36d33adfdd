package safepoint

import "context"

// Park blocks until the thread is unparked or ctx is done. Each Unpark
// stores at most one permit; a Park that finds a permit consumes it and
// returns without changing state.
//
// A blocking Park passes through StatusForeign, so the thread does not
// delay barriers while it sleeps, and it returns through the same path as
// LeaveForeign. Park returns ErrMustNotBlock inside an operation or a
// recurring callback.
func (t *Thread) Park(ctx context.Context) error {
	select {
	case <-t.park:
		return nil
	default:
	}
	if t.mustNotBlock() {
		return ErrMustNotBlock
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := enterBlocking(t)
	var err error
	select {
	case <-t.park:
	case <-ctx.Done():
		err = ctx.Err()
	}
	leaveBlocking(t, from)
	return err
}

// Unpark makes a permit available to the thread, waking it if it is
// parked. It may be called from any goroutine.
func (t *Thread) Unpark() {
	select {
	case t.park <- struct{}{}:
	default:
	}
}
