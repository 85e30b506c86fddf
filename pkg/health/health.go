// Package health exposes liveness and readiness checks for channel runners
// over the standard healthcheck HTTP handler.
package health

import (
	"fmt"
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/shmchan/shmchan/pkg/channel"
)

// CycleSource reports when a runner last completed a wait/drain cycle.
// Both channel.Replica and runner.Supervisor satisfy it.
type CycleSource interface {
	LastCycle() time.Time
}

// RunnerAlive returns a liveness check that fails once the runner has gone
// longer than maxStaleness without completing a cycle. A runner that has
// not started yet is considered alive; staleness only applies after the
// first cycle.
func RunnerAlive(src CycleSource, maxStaleness time.Duration) healthcheck.Check {
	return func() error {
		last := src.LastCycle()
		if last.IsZero() {
			return nil
		}
		if age := time.Since(last); age > maxStaleness {
			return fmt.Errorf("runner stale: last cycle %s ago", age.Round(time.Millisecond))
		}
		return nil
	}
}

// ChannelMapped returns a readiness check that fails while the named
// channel has no live mapping in this process.
func ChannelMapped(name string) healthcheck.Check {
	return func() error {
		if _, ok := channel.Lookup(name); !ok {
			return fmt.Errorf("channel %q is not mapped", name)
		}
		return nil
	}
}

// NewHandler builds a healthcheck handler wired for one supervised channel:
// liveness from the runner heartbeat, readiness from the channel mapping.
func NewHandler(name string, src CycleSource, maxStaleness time.Duration) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("runner-alive", RunnerAlive(src, maxStaleness))
	h.AddReadinessCheck("channel-mapped", ChannelMapped(name))
	return h
}
