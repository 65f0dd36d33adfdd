package safepoint

import (
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Configuration
// ============================================================================

// Config defines the configurable options of an Engine.
type Config struct {
	// warnAfter is the time-to-barrier after which the coordinator logs a
	// promptness warning with a dump of every thread. Zero disables it.
	warnAfter time.Duration

	// failAfter is the time-to-barrier after which the coordinator treats
	// the wait as a liveness bug: it logs a fatal report and terminates the
	// process through the logger. Zero disables it.
	failAfter time.Duration

	// recurring enables recurring callbacks process-wide.
	recurring bool

	// strict enables verification of the source state of every public
	// state transition, most importantly foreign → managed.
	strict bool

	// dedicated runs operations on a dedicated executor goroutine instead
	// of on the submitting thread.
	dedicated bool

	// lockOSThread wires each attached goroutine to its own OS thread for
	// the lifetime of the attachment.
	lockOSThread bool

	// pollReset is the poll budget a thread gets back after the slow path
	// when it has no recurring callback.
	pollReset int32

	// historySize is the number of operation records kept for diagnostics.
	historySize int

	// logger receives promptness warnings and the fatal report.
	logger *zap.Logger

	// nanotime is the monotonic clock used by the recurring callback
	// timers, in nanoseconds.
	nanotime func() int64
}

func defaultConfig() Config {
	base := time.Now()
	return Config{
		warnAfter:   time.Second,
		recurring:   true,
		pollReset:   PollInfinite,
		historySize: 64,
		logger:      zap.NewNop(),
		nanotime: func() int64 {
			return int64(time.Since(base))
		},
	}
}

// WithPromptnessWarning sets the time-to-barrier after which a warning with
// a per-thread dump is logged. Zero disables the warning.
func WithPromptnessWarning(d time.Duration) func(*Config) {
	return func(c *Config) {
		c.warnAfter = max(d, 0)
	}
}

// WithPromptnessFailure sets the time-to-barrier after which the process is
// terminated with a fatal report. Zero (the default) disables it.
//
// Termination goes through [zap.Logger.Fatal]; embedders that need a
// different reaction install a hook with [zap.WithFatalHook].
func WithPromptnessFailure(d time.Duration) func(*Config) {
	return func(c *Config) {
		c.failAfter = max(d, 0)
	}
}

// WithRecurringCallbacks enables or disables recurring callbacks
// process-wide. They are enabled by default.
func WithRecurringCallbacks(enabled bool) func(*Config) {
	return func(c *Config) {
		c.recurring = enabled
	}
}

// WithStrictTransitions verifies the source state of every public
// transition and panics with a [*TransitionError] on misuse.
func WithStrictTransitions() func(*Config) {
	return func(c *Config) {
		c.strict = true
	}
}

// WithDedicatedExecutor executes all operations on one engine-owned
// goroutine. Submitters enqueue and wait. Without it, the submitting thread
// executes the queue itself.
func WithDedicatedExecutor() func(*Config) {
	return func(c *Config) {
		c.dedicated = true
	}
}

// WithLockOSThread wires every goroutine that attaches to its own OS thread
// until it detaches. Attach and Detach must then be called from the same
// goroutine.
func WithLockOSThread() func(*Config) {
	return func(c *Config) {
		c.lockOSThread = true
	}
}

// WithPollReset sets the poll budget restored after the slow path on
// threads without a recurring callback. Values below one are ignored.
// The default is [PollInfinite].
func WithPollReset(n int32) func(*Config) {
	return func(c *Config) {
		if n >= 1 {
			c.pollReset = min(n, PollInfinite)
		}
	}
}

// WithHistorySize sets the number of recent operations kept for
// diagnostics. Values below one are ignored.
func WithHistorySize(n int) func(*Config) {
	return func(c *Config) {
		if n >= 1 {
			c.historySize = n
		}
	}
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *zap.Logger) func(*Config) {
	return func(c *Config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNanoClock replaces the monotonic clock used by recurring callback
// timers. It exists for simulations; fn must be monotonic.
func WithNanoClock(fn func() int64) func(*Config) {
	return func(c *Config) {
		if fn != nil {
			c.nanotime = fn
		}
	}
}
