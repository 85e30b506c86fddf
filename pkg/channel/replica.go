package channel

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/shmchan/shmchan/api"
	"github.com/shmchan/shmchan/internal/logger"
	internalshm "github.com/shmchan/shmchan/internal/shm"
)

// Replica is the consuming endpoint of a channel, the side that gets
// transferred to the worker context. One Run call is one wait/drain cycle:
// it parks on the data futex, drains every complete frame, dispatches them
// in FIFO order and returns. It is explicitly not a loop; callers restart
// it, normally through runner.Supervisor.
type Replica struct {
	ch        *Channel
	heartbeat atomic.Int64 // unix nanos of the last completed cycle
}

// Run performs one wait/drain cycle and returns the number of messages
// dispatched. A cycle that times out waiting returns (0, nil) so the
// caller's loop keeps control between bounded waits. Once the channel is
// closed and drained, Run returns
// ErrChannelClosed. An aborted wait surfaces ErrWaitInterrupted for the
// supervisor to retry.
func (rp *Replica) Run(ctx context.Context, h api.Handler) (int, error) {
	var span trace.Span
	ctx, span = rp.ch.cfg.Tracer.Start(ctx, "shmchan.Run")
	defer span.End()
	defer rp.heartbeat.Store(time.Now().UnixNano())

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	timeoutNs := rp.ch.cfg.PollInterval.Nanoseconds()
	if deadline, has := ctx.Deadline(); has {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, context.DeadlineExceeded
		}
		if remaining.Nanoseconds() < timeoutNs {
			timeoutNs = remaining.Nanoseconds()
		}
	}

	switch err := rp.ch.ring.waitData(timeoutNs); {
	case err == nil:
	case errors.Is(err, internalshm.ErrFutexTimeout):
		return 0, nil
	case errors.Is(err, internalshm.ErrWaitInterrupted):
		return 0, ErrWaitInterrupted
	default:
		return 0, err
	}

	return rp.drain(ctx, h)
}

// drain consumes every complete frame currently queued. Handler errors are
// logged and do not stop the drain; message loss on handler failure is the
// handler's concern, ordering is the channel's.
func (rp *Replica) drain(ctx context.Context, h api.Handler) (int, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	count := 0
	for {
		ok, err := rp.ch.ring.tryPop(buf)
		if err != nil {
			// Closed: report the remaining drain first, the closure next
			// cycle.
			if count > 0 && errors.Is(err, ErrChannelClosed) {
				rp.finishCycle(ctx, count)
				return count, nil
			}
			return count, err
		}
		if !ok {
			break
		}
		count++
		rp.ch.metrics.received(ctx, len(buf.B))
		if err := h.HandleMessage(ctx, buf.B); err != nil {
			logger.Internal.Errorf("channel %s: handler failed on message %d: %v", rp.ch.cfg.Name, count, err)
		}
	}

	if count > 0 {
		rp.finishCycle(ctx, count)
	}
	return count, nil
}

func (rp *Replica) finishCycle(ctx context.Context, count int) {
	// One space wake per cycle keeps a partially blocked producer moving
	// even when the ring never hit completely full.
	rp.ch.ring.wakeSpace()
	rp.ch.metrics.drained(ctx)
	logger.Internal.Tracef("channel %s: drained %d messages", rp.ch.cfg.Name, count)
}

// LastCycle returns when the last Run call finished, zero before the first.
func (rp *Replica) LastCycle() time.Time {
	ns := rp.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Closed reports whether the producing side has closed the ring.
func (rp *Replica) Closed() bool {
	return rp.ch.ring.closed()
}
