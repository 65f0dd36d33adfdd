//go:build safepoint_enable_padding && !safepoint_disable_padding

package opt

// PollPad_ is the number of bytes placed after a thread's poll counter.
// Padding is force-enabled via the safepoint_enable_padding build tag.
// Use: go build -tags=safepoint_enable_padding
const PollPad_ = CacheLineSize_ - 4
