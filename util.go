package safepoint

import (
	"runtime"
	"time"
	_ "unsafe" // for linkname

	"github.com/llxisdsh/safepoint/internal/opt"
)

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
//
// Note that it must not be embedded, due to the Lock and Unlock methods.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// yieldRounds is the number of runtime.Gosched rounds tried after active
// spinning is exhausted and before backoff falls back to sleeping.
const yieldRounds = 8

// backoff is the sleep used once spinning and yielding are exhausted.
// It matches the stop-the-world retry period of the Go scheduler.
const backoff = 100 * time.Microsecond

func trySpin(spins *int) bool {
	if opt.Race_ {
		return false
	}
	if runtime_canSpin(*spins) {
		*spins++
		runtime_doSpin()
		return true
	}
	return false
}

// delay backs off in three tiers: active spinning while the runtime allows
// it (never on a single-core host), then yielding the processor, then
// sleeping. The spin count is never reset; a caller that made progress
// starts over with a fresh counter.
func delay(spins *int) {
	if trySpin(spins) {
		return
	}
	if *spins < yieldRounds {
		*spins++
		runtime.Gosched()
		return
	}
	time.Sleep(backoff)
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
//goland:noinspection ALL
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
//goland:noinspection ALL
func runtime_doSpin()
