package opt

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize_ is the cache line size of the target, taken from
// `golang.org/x/sys/cpu`. Hot per-thread words are padded to it so that a
// coordinator writing one thread's word does not invalidate its neighbours.
const CacheLineSize_ = unsafe.Sizeof(cpu.CacheLinePad{})
