//go:build race

package opt

// Race_ reports whether the race detector is enabled. Under the detector the
// barrier wait loop skips active spinning and yields right away, which keeps
// instrumented test runs from starving the threads it waits for.
const Race_ = true
