//go:build linux && (amd64 || arm64)

package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Futex op codes, not exported by x/sys/unix. Cross-process segments must
// not set FUTEX_PRIVATE_FLAG (0x80); the kernel keys private futexes by mm,
// which is per process.
const (
	futexWaitShared = 0 // FUTEX_WAIT
	futexWakeShared = 1 // FUTEX_WAKE
)

// FutexWait parks the calling thread until the value at addr changes from
// val or a wake arrives. The value is re-checked atomically before entering
// the syscall to close the lost-wake window between snapshot and wait.
// Callers must re-check their logical condition after return; wakes can be
// spurious.
func FutexWait(addr *uint32, val uint32) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWaitShared),
		uintptr(val),
		0, // no timeout
		0,
		0,
	)

	if errno != 0 {
		// EAGAIN: value changed before the kernel parked us.
		if errno == unix.EAGAIN {
			return nil
		}
		if errno == unix.EINTR {
			return ErrWaitInterrupted
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}
	return nil
}

// FutexWaitTimeout is FutexWait with a relative timeout in nanoseconds.
// Returns ErrFutexTimeout when the wait elapses.
func FutexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	if timeoutNs <= 0 {
		return FutexWait(addr, val)
	}

	if atomic.LoadUint32(addr) != val {
		return nil
	}

	ts := unix.NsecToTimespec(timeoutNs)

	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWaitShared),
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)

	if errno != 0 {
		if errno == unix.EAGAIN {
			return nil
		}
		if errno == unix.EINTR {
			return ErrWaitInterrupted
		}
		if errno == unix.ETIMEDOUT {
			return ErrFutexTimeout
		}
		return fmt.Errorf("futex wait failed: %w", errno)
	}
	return nil
}

// FutexWake wakes up to n threads waiting on addr and returns the number
// actually woken. Waking with no waiter is a no-op; the notification is not
// queued.
func FutexWake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(futexWakeShared),
		uintptr(n),
		0,
		0,
		0,
	)

	if errno != 0 {
		return 0, fmt.Errorf("futex wake failed: %w", errno)
	}
	return int(r1), nil
}
