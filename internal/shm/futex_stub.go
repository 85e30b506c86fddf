//go:build !linux || !(amd64 || arm64)

package shm

// FutexWait is not supported on this platform.
func FutexWait(addr *uint32, val uint32) error {
	return ErrUnsupported
}

// FutexWaitTimeout is not supported on this platform.
func FutexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	return ErrUnsupported
}

// FutexWake is not supported on this platform.
func FutexWake(addr *uint32, n int) (int, error) {
	return 0, ErrUnsupported
}
