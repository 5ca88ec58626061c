package node

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"flood_mesh/internal/dataType"

	"go.uber.org/multierr"
)

// Registry lists the nodes running in one process. It is built explicitly
// and passed to whatever needs to enumerate them.
type Registry[M any] struct {
	mu    sync.RWMutex
	nodes map[string]*Handle[M]
}

func NewRegistry[M any]() *Registry[M] {
	return &Registry[M]{nodes: make(map[string]*Handle[M])}
}

func (r *Registry[M]) Register(name string, h *Handle[M]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nodes[name]; exists {
		return fmt.Errorf("node %q already registered", name)
	}
	r.nodes[name] = h
	return nil
}

func (r *Registry[M]) Get(name string) (*Handle[M], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.nodes[name]
	return h, ok
}

func (r *Registry[M]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.nodes))
	for name := range r.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry[M]) Snapshots() map[string]dataType.NodeSnapshotView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]dataType.NodeSnapshotView, len(r.nodes))
	for name, h := range r.nodes {
		out[name] = h.Snapshot()
	}
	return out
}

// TerminateAll stops every registered node and reports every failure.
func (r *Registry[M]) TerminateAll(ctx context.Context) error {
	r.mu.RLock()
	handles := make(map[string]*Handle[M], len(r.nodes))
	for name, h := range r.nodes {
		handles[name] = h
	}
	r.mu.RUnlock()

	var (
		mu   sync.Mutex
		errs error
		wg   sync.WaitGroup
	)
	for name, h := range handles {
		wg.Add(1)
		go func(name string, h *Handle[M]) {
			defer wg.Done()
			if err := h.Terminate(ctx); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}(name, h)
	}
	wg.Wait()
	return errs
}
