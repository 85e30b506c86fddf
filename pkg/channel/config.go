package channel

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	internalshm "github.com/shmchan/shmchan/internal/shm"
)

const (
	// MaxRingCapacity bounds a single channel's data area.
	MaxRingCapacity = 1 << 30

	defaultPollInterval = 10 * time.Second
)

// Config describes one channel. Zero values are filled in by Verify through
// DefaultConfig; capacity is rounded up to a power of two at creation.
type Config struct {
	// Name identifies the backing segment across contexts.
	Name string

	// Capacity is the requested ring data size in bytes.
	Capacity uint64

	// PollInterval bounds one blocking wait inside Replica.Run so the
	// caller's loop regains control periodically even when nothing
	// arrives.
	PollInterval time.Duration

	// Meter and Tracer instrument Send and Run; noop by default.
	Meter  metric.Meter
	Tracer trace.Tracer

	// PromRegisterer, when set, additionally exposes the channel counters
	// to a Prometheus scrape.
	PromRegisterer prometheus.Registerer
}

// DefaultConfig returns a Config with the library defaults.
func DefaultConfig() *Config {
	return &Config{
		Capacity:     internalshm.DefaultRingCapacity,
		PollInterval: defaultPollInterval,
		Meter:        metricnoop.NewMeterProvider().Meter("shmchan"),
		Tracer:       tracenoop.NewTracerProvider().Tracer("shmchan"),
	}
}

// VerifyConfig checks a config before the segment is allocated.
func VerifyConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Name == "" {
		return fmt.Errorf("config: name must not be empty")
	}
	if c.Capacity < internalshm.MinRingCapacity {
		return fmt.Errorf("config: capacity %d below minimum %d", c.Capacity, internalshm.MinRingCapacity)
	}
	if c.Capacity > MaxRingCapacity {
		return fmt.Errorf("config: capacity %d above maximum %d", c.Capacity, MaxRingCapacity)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be positive")
	}
	return nil
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Capacity == 0 {
		out.Capacity = internalshm.DefaultRingCapacity
	}
	if out.PollInterval == 0 {
		out.PollInterval = defaultPollInterval
	}
	if out.Meter == nil {
		out.Meter = metricnoop.NewMeterProvider().Meter("shmchan")
	}
	if out.Tracer == nil {
		out.Tracer = tracenoop.NewTracerProvider().Tracer("shmchan")
	}
	return &out
}
