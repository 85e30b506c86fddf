// Package runner supervises a channel Replica: it owns the restart loop so
// callers do not have to, with explicit cancellation, backoff on interrupted
// waits and pooled handler dispatch.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/valyala/bytebufferpool"

	"github.com/shmchan/shmchan/api"
	"github.com/shmchan/shmchan/internal/logger"
	"github.com/shmchan/shmchan/pkg/channel"
)

// Config tunes a Supervisor.
type Config struct {
	// Handler receives every drained message.
	Handler api.Handler

	// Workers sizes the dispatch pool. With the default of 1, messages
	// complete in FIFO order; larger pools trade ordering between in-flight
	// messages for throughput.
	Workers int

	// QueueCap bounds the drain-to-dispatch handoff buffer. A full buffer
	// backpressures the drain cycle.
	QueueCap uint64
}

const (
	defaultWorkers  = 1
	defaultQueueCap = 64
)

// Supervisor drives one Replica until its context ends or the channel
// closes. Drained payloads are copied into pooled buffers, handed through a
// bounded ring buffer and dispatched on a goroutine pool, so a slow handler
// never blocks the futex wait path longer than the handoff buffer allows.
type Supervisor struct {
	replica *channel.Replica
	handler api.Handler

	pool    *ants.Pool
	pending *queue.RingBuffer

	heartbeat atomic.Int64
	wg        sync.WaitGroup
}

// New builds a Supervisor around a replica.
func New(replica *channel.Replica, cfg Config) (*Supervisor, error) {
	if replica == nil {
		return nil, fmt.Errorf("runner: replica is nil")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("runner: handler is nil")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueCap := cfg.QueueCap
	if queueCap == 0 {
		queueCap = defaultQueueCap
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("runner: dispatch pool: %w", err)
	}
	return &Supervisor{
		replica: replica,
		handler: cfg.Handler,
		pool:    pool,
		pending: queue.NewRingBuffer(queueCap),
	}, nil
}

// Serve loops wait/drain cycles until ctx is canceled or the channel is
// closed and drained. Interrupted waits are retried under exponential
// backoff; any successful drain resets it. Returns nil on a clean channel
// close, ctx.Err() on cancellation.
func (s *Supervisor) Serve(ctx context.Context) error {
	s.wg.Add(1)
	go s.dispatchLoop(ctx)
	defer s.shutdown()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0 // retry for as long as we are told to run

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := s.replica.Run(ctx, api.HandlerFunc(s.enqueue))
		s.heartbeat.Store(time.Now().UnixNano())

		switch {
		case err == nil:
			if n > 0 {
				bo.Reset()
			}
		case errors.Is(err, channel.ErrWaitInterrupted):
			d := bo.NextBackOff()
			logger.Internal.Debugf("runner: wait interrupted, restarting in %s", d)
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		case errors.Is(err, channel.ErrChannelClosed):
			logger.Internal.Infof("runner: channel closed, supervisor exiting")
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			return fmt.Errorf("runner: run cycle failed: %w", err)
		}
	}
}

// enqueue copies one drained payload into a pooled buffer and hands it to
// the dispatch loop. Blocks when the handoff buffer is full; that is the
// backpressure between drain and dispatch.
func (s *Supervisor) enqueue(_ context.Context, payload []byte) error {
	buf := bytebufferpool.Get()
	_, _ = buf.Write(payload)
	if err := s.pending.Put(buf); err != nil {
		bytebufferpool.Put(buf)
		return err
	}
	return nil
}

func (s *Supervisor) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		item, err := s.pending.Get()
		if err != nil {
			// Disposed on shutdown.
			return
		}
		buf := item.(*bytebufferpool.ByteBuffer)
		if err := s.pool.Submit(func() {
			defer bytebufferpool.Put(buf)
			if err := s.handler.HandleMessage(ctx, buf.B); err != nil {
				logger.Internal.Errorf("runner: handler failed: %v", err)
			}
		}); err != nil {
			bytebufferpool.Put(buf)
			logger.Internal.Errorf("runner: dispatch submit failed: %v", err)
			return
		}
	}
}

func (s *Supervisor) shutdown() {
	// Give already-drained messages a bounded chance to reach their
	// handlers before the handoff buffer is torn down.
	flushDeadline := time.Now().Add(5 * time.Second)
	for s.pending.Len() > 0 && time.Now().Before(flushDeadline) {
		time.Sleep(time.Millisecond)
	}
	s.pending.Dispose()
	s.wg.Wait()
	if err := s.pool.ReleaseTimeout(5 * time.Second); err != nil {
		logger.Internal.Warnf("runner: dispatch pool release: %v", err)
	}
}

// LastCycle returns when the supervisor last completed a wait/drain cycle.
// Zero before the first cycle.
func (s *Supervisor) LastCycle() time.Time {
	ns := s.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

var _ api.Runner = (*Supervisor)(nil)
