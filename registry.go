package collective

import (
	"fmt"
	"sync"

	"github.com/creastat/collective/core"
)

// ReservedChannels is the number of low channel ids kept for runtime use.
// Transient application channels register at ReservedChannels and above
const ReservedChannels = 10

// Registry maps channel ids to the channels consuming their traffic. The
// registry owns the single process-wide lock: every registration, every
// dispatch and every transaction state transition runs under it, so a
// transaction never observes interleaved messages
type Registry struct {
	mu       sync.Mutex
	channels []core.Channel
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register binds a channel id to a channel, growing the table on demand.
// Ids below ReservedChannels are rejected. Rebinding a live id is a caller
// error and silently overwrites
func (r *Registry) Register(id int, channel core.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(id, channel)
}

func (r *Registry) registerLocked(id int, channel core.Channel) error {
	if id < ReservedChannels {
		return fmt.Errorf("channel id %d is reserved (minimum %d)", id, ReservedChannels)
	}
	for len(r.channels) <= id {
		r.channels = append(r.channels, nil)
	}
	r.channels[id] = channel
	return nil
}

// Unregister releases a channel id. Unknown ids are ignored
func (r *Registry) Unregister(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(id)
}

func (r *Registry) unregisterLocked(id int) {
	if id >= 0 && id < len(r.channels) {
		r.channels[id] = nil
	}
}

// Has reports whether a channel id is currently bound
func (r *Registry) Has(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(id) != nil
}

func (r *Registry) lookupLocked(id int) core.Channel {
	if id < 0 || id >= len(r.channels) {
		return nil
	}
	return r.channels[id]
}
