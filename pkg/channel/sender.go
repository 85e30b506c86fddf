package channel

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/shmchan/shmchan/internal/logger"
)

// Sender is the producing endpoint of a channel. It is not safe for
// concurrent use; one producer context owns it (SPSC).
type Sender struct {
	ch     *Channel
	closed atomic.Bool
}

// TrySend enqueues one message without blocking. Returns ErrNotEnoughSpace
// when the frame does not currently fit.
func (s *Sender) TrySend(payload []byte) error {
	if s.closed.Load() {
		return ErrChannelClosed
	}
	ok, err := s.ch.ring.tryPush(payload)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotEnoughSpace
	}
	s.ch.metrics.sent(context.Background(), len(payload))
	return nil
}

// Send enqueues one message, blocking on the space futex until the frame
// fits, the context ends, or the channel closes.
func (s *Sender) Send(ctx context.Context, payload []byte) error {
	if s.closed.Load() {
		return ErrChannelClosed
	}
	var span trace.Span
	ctx, span = s.ch.cfg.Tracer.Start(ctx, "shmchan.Send")
	defer span.End()

	if err := s.ch.ring.push(ctx, payload, s.ch.cfg.PollInterval); err != nil {
		return err
	}
	s.ch.metrics.sent(ctx, len(payload))
	return nil
}

// Close marks the ring closed for writing and wakes both sides. The replica
// still drains whatever is queued, then observes ErrChannelClosed.
func (s *Sender) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.ch.ring.close()
	logger.Internal.Debugf("channel %s: sender closed", s.ch.cfg.Name)
	return nil
}
