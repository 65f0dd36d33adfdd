package safepoint

import (
	"sync/atomic"
)

// ticketLock is a FIFO spin-lock for the engine's short bookkeeping
// sections: the barrier epoch's waiter list and the operation history.
//
// Those sections are entered by the coordinator while it holds the registry
// mutex and by observers (AwaitBarrier, Stats, RecentOperations) that must
// never take it. A ticket lock keeps an observer polling the history from
// starving the coordinator, and it never parks, so the coordinator's
// time-to-barrier does not inherit scheduler latency from an observer.
//
//   - lock takes a ticket and backs off until serving reaches it.
//   - unlock admits the next ticket.
type ticketLock struct {
	_       noCopy
	next    atomic.Uint32
	serving atomic.Uint32
}

func (m *ticketLock) lock() {
	my := m.next.Add(1) - 1
	var spins int
	for m.serving.Load() != my {
		delay(&spins)
	}
}

func (m *ticketLock) unlock() {
	m.serving.Add(1)
}
