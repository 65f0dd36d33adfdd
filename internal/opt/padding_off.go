//go:build (amd64 || 386 || arm || mips || mipsle || wasm) && !safepoint_disable_padding && !safepoint_enable_padding

package opt

// PollPad_ is the number of bytes placed after a thread's poll counter.
// Padding is disabled by default for:
// - amd64
// - 32-bit architectures (386, arm, mips, mipsle, wasm)
const PollPad_ = 0
