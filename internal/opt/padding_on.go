//go:build !(amd64 || 386 || arm || mips || mipsle || wasm) && !safepoint_disable_padding && !safepoint_enable_padding

package opt

// PollPad_ is the number of bytes placed after a thread's poll counter.
// Padding is automatically enabled for architectures that are NOT:
// - amd64 (x86_64): adjacent-line prefetch makes padding less critical
// - 32-bit architectures (386, arm, mips, mipsle, wasm): memory constraints
//
// Enabled for: arm64, s390x, ppc64, ppc64le, riscv64, loong64, mips64, mips64le, etc.
const PollPad_ = CacheLineSize_ - 4
