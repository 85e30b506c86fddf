// Package shm manages shared memory segments for shmchan channels.
//
// A segment is a mmap'd region holding one SPSC ring plus control headers.
// It is created once, referenced through a transferable Handle and mapped by
// any number of cooperating contexts; the backing file is unlinked when the
// last mapping closes.
//
// Platform-specific mapping and futex helpers are in internal/shm.
package shm
