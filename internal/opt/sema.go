package opt

import (
	_ "unsafe" // for linkname
)

// Sema is a zero-allocation semaphore backed by the runtime semaphore
// implementation used by package sync.
type Sema uint32

// Acquire blocks until the semaphore count is positive, then decrements it.
func (s *Sema) Acquire() {
	runtime_semacquire((*uint32)(s))
}

// Release increments the semaphore count and wakes one waiter.
func (s *Sema) Release() {
	runtime_semrelease((*uint32)(s), false, 0)
}

//go:linkname runtime_semacquire sync.runtime_Semacquire
func runtime_semacquire(s *uint32)

//go:linkname runtime_semrelease sync.runtime_Semrelease
func runtime_semrelease(s *uint32, handoff bool, skipframes int)
