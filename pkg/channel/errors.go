package channel

import (
	"errors"

	internalshm "github.com/shmchan/shmchan/internal/shm"
)

var (
	// ErrNotEnoughSpace is returned by TrySend when the frame does not fit
	// in the ring right now.
	ErrNotEnoughSpace = errors.New("not enough space")

	// ErrChannelClosed is returned once the channel is closed and drained.
	ErrChannelClosed = errors.New("channel closed")

	// ErrAlreadySplit is returned by a second Split on the same channel.
	ErrAlreadySplit = errors.New("channel already split")

	// ErrPayloadTooLarge is returned for payloads that can never fit.
	ErrPayloadTooLarge = errors.New("payload larger than ring capacity")

	// ErrWaitInterrupted is surfaced when the host aborts a blocked wait;
	// supervisors restart the run loop on it.
	ErrWaitInterrupted = internalshm.ErrWaitInterrupted
)
