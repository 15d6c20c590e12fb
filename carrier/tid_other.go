//go:build !linux

package carrier

// gettid is unsupported on this platform.
func gettid() int {
	return 0
}
