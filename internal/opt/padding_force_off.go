//go:build safepoint_disable_padding

package opt

// PollPad_ is the number of bytes placed after a thread's poll counter.
// Padding is force-disabled via the safepoint_disable_padding build tag.
// Use: go build -tags=safepoint_disable_padding
const PollPad_ = 0
