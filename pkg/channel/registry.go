package channel

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// registry tracks this process's live channel views by segment name, so
// code that received only a name (health checks, debug hooks) can reach the
// channel without threading the pointer everywhere.
type registry struct {
	channels cmap.ConcurrentMap[string, *Channel]
}

var defaultRegistry = &registry{channels: cmap.New[*Channel]()}

func (r *registry) register(c *Channel) {
	r.channels.Set(c.cfg.Name, c)
}

func (r *registry) unregister(name string) {
	r.channels.Remove(name)
}

// Lookup returns the process-local channel view registered under name.
func Lookup(name string) (*Channel, bool) {
	return defaultRegistry.channels.Get(name)
}

// Names returns the names of all live channel views in this process.
func Names() []string {
	return defaultRegistry.channels.Keys()
}
