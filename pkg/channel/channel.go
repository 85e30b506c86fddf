package channel

import (
	"fmt"
	"sync/atomic"

	internalshm "github.com/shmchan/shmchan/internal/shm"
	"github.com/shmchan/shmchan/internal/logger"
	"github.com/shmchan/shmchan/pkg/shm"
)

// Channel pairs one shared memory segment with exactly one Sender lineage
// and one Replica lineage. Both endpoints hold views into the same backing
// region; neither owns it alone. The region is released when the last
// mapping across all contexts closes.
type Channel struct {
	cfg     *Config
	seg     *shm.Segment
	ring    *ring
	metrics *metrics

	split  atomic.Bool
	closed atomic.Bool
}

// New allocates the backing segment and returns the creating context's
// channel. Capacity is rounded up to a power of two. Fails when the host
// cannot provide the shared memory.
func New(cfg *Config) (*Channel, error) {
	if cfg == nil {
		return nil, VerifyConfig(nil)
	}
	cfg = cfg.withDefaults()
	cfg.Capacity = internalshm.NextPowerOfTwo(cfg.Capacity)
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}

	seg, err := shm.Create(cfg.Name, cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return newFromSegment(cfg, seg)
}

// FromHandle reconstructs a channel view from a handle received across a
// context boundary. The segment must already exist and validate.
func FromHandle(h shm.Handle, cfg *Config) (*Channel, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.withDefaults()
	cfg.Name = h.Name

	seg, err := shm.Attach(h)
	if err != nil {
		return nil, err
	}
	cfg.Capacity = seg.Capacity()
	return newFromSegment(cfg, seg)
}

// FromEncodedHandle is FromHandle on the text handle form, the usual shape
// after an argv/env transfer.
func FromEncodedHandle(s string, cfg *Config) (*Channel, error) {
	h, err := shm.DecodeHandle(s)
	if err != nil {
		return nil, err
	}
	return FromHandle(h, cfg)
}

func newFromSegment(cfg *Config, seg *shm.Segment) (*Channel, error) {
	m, err := newMetrics(cfg.Name, cfg.Meter, cfg.PromRegisterer)
	if err != nil {
		_ = seg.Close()
		return nil, fmt.Errorf("channel metrics: %w", err)
	}
	c := &Channel{
		cfg:     cfg,
		seg:     seg,
		ring:    newRing(seg),
		metrics: m,
	}
	defaultRegistry.register(c)
	return c, nil
}

// Handle returns the transferable reference to this channel's segment.
func (c *Channel) Handle() shm.Handle {
	return c.seg.Handle()
}

// EncodedHandle returns the text handle for argv/env transfer.
func (c *Channel) EncodedHandle() (string, error) {
	return c.Handle().Encode()
}

// Name returns the channel's segment name.
func (c *Channel) Name() string {
	return c.cfg.Name
}

// Capacity returns the ring data capacity in bytes.
func (c *Channel) Capacity() uint64 {
	return c.seg.Capacity()
}

// Split derives the two endpoint handles. It is one-shot per channel view:
// a second call returns ErrAlreadySplit so producer and consumer roles
// cannot be mixed up inside one context. A context that only needs one side
// discards the other.
func (c *Channel) Split() (*Sender, *Replica, error) {
	if !c.split.CompareAndSwap(false, true) {
		return nil, nil, ErrAlreadySplit
	}
	return &Sender{ch: c}, &Replica{ch: c}, nil
}

// Pending returns the number of queued bytes (frames and headers).
func (c *Channel) Pending() uint64 {
	return c.ring.used()
}

// Close drops this context's mapping and unregisters the channel. The
// segment itself is released when the last context closes; the ring is not
// marked closed here, that is Sender.Close's job.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	defaultRegistry.unregister(c.cfg.Name)
	logger.Internal.Debugf("channel %s: context mapping closed", c.cfg.Name)
	return c.seg.Close()
}
