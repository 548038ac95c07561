package notify

import (
	"sort"
	"sync"

	"github.com/gosuda/buildwatch/internal/messenger"
)

// Registry holds one messenger per platform. It is safe for concurrent
// use by the notifiers of several sessions.
type Registry struct {
	mu         sync.RWMutex
	messengers map[string]messenger.Messenger
}

// NewRegistry returns a registry holding ms, keyed by their platform.
func NewRegistry(ms ...messenger.Messenger) *Registry {
	r := &Registry{messengers: make(map[string]messenger.Messenger, len(ms))}
	for _, m := range ms {
		r.Register(m)
	}
	return r
}

// Register adds m under m.Platform(), replacing any earlier messenger for
// the same platform.
func (r *Registry) Register(m messenger.Messenger) {
	r.mu.Lock()
	r.messengers[m.Platform()] = m
	r.mu.Unlock()
}

// Get returns the messenger for platform.
func (r *Registry) Get(platform string) (messenger.Messenger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messengers[platform]
	return m, ok
}

// Platforms lists the registered platforms in name order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.messengers))
	for p := range r.messengers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
