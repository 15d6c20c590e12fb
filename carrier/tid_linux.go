//go:build linux

package carrier

import (
	"golang.org/x/sys/unix"
)

// gettid returns the ID of the calling OS thread.
func gettid() int {
	return unix.Gettid()
}
