//go:build !linux

package safepoint

func currentOSThreadID() int {
	return 0
}
