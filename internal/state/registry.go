package state

import (
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/gbdlin/event-overlays/internal/event"
)

// Registry owns the event instances of the process. Instances are created
// lazily on first access and live until the process exits; only their
// event configuration is ever replaced.
type Registry struct {
	loader *event.Loader
	clock  clockwork.Clock

	mu     sync.RWMutex
	states map[string]*State
	group  singleflight.Group
}

func NewRegistry(loader *event.Loader, clock clockwork.Clock) *Registry {
	return &Registry{
		loader: loader,
		clock:  clock,
		states: make(map[string]*State),
	}
}

// Get returns the instance for the given event path, creating it on first
// access. Concurrent first accesses share one load.
func (r *Registry) Get(path string) (*State, error) {
	r.mu.RLock()
	st, ok := r.states[path]
	r.mu.RUnlock()
	if ok {
		return st, nil
	}

	v, err, _ := r.group.Do(path, func() (any, error) {
		r.mu.RLock()
		st, ok := r.states[path]
		r.mu.RUnlock()
		if ok {
			return st, nil
		}

		ev, err := r.loader.Load(path)
		if err != nil {
			return nil, err
		}
		st = New(ev, r.clock)

		r.mu.Lock()
		r.states[path] = st
		r.mu.Unlock()
		return st, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*State), nil
}

// Peek returns an existing instance without creating one.
func (r *Registry) Peek(path string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[path]
	return st, ok
}

// Reload replaces the instance's event configuration from the loader.
func (r *Registry) Reload(path string) error {
	st, ok := r.Peek(path)
	if !ok {
		var err error
		st, err = r.Get(path)
		return err
	}
	ev, err := r.loader.Load(path)
	if err != nil {
		return err
	}
	st.ReplaceEvent(ev)
	return nil
}

// Paths lists the known instance paths in stable order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.states))
	for path := range r.states {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
