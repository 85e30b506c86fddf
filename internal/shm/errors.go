package shm

import "errors"

var (
	// ErrFutexTimeout is returned by FutexWaitTimeout when the wait elapses.
	ErrFutexTimeout = errors.New("futex timeout")

	// ErrWaitInterrupted is returned when a blocked wait is aborted by the
	// host (signal delivery). Callers restart the wait.
	ErrWaitInterrupted = errors.New("wait interrupted")

	// ErrUnsupported is returned on platforms without futex support.
	ErrUnsupported = errors.New("futex operations not supported on this platform")

	// ErrShmNoSpace is returned when /dev/shm lacks room for the segment.
	ErrShmNoSpace = errors.New("shared memory has not enough space")
)
