//go:build linux

package safepoint

import "golang.org/x/sys/unix"

func currentOSThreadID() int {
	return unix.Gettid()
}
