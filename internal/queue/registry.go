package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry holds every queue of the process, keyed by name and populated
// once at startup. Registering the same name twice is a programming error.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*Queue
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue)}
}

// Register adds a queue under its name.
func (r *Registry) Register(q *Queue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.queues[q.Name()]; exists {
		return fmt.Errorf("registry: queue %q already registered", q.Name())
	}
	r.queues[q.Name()] = q
	return nil
}

// Get returns the queue registered under name.
func (r *Registry) Get(name string) (*Queue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queues[name]
	return q, ok
}

// Names returns all registered queue names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllStats collects the operational view across every registered queue.
func (r *Registry) AllStats(ctx context.Context) ([]Stats, error) {
	out := make([]Stats, 0, len(r.Names()))
	for _, name := range r.Names() {
		q, _ := r.Get(name)
		st, err := q.Stats(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
