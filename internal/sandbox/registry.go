package sandbox

import (
	"context"
	"sync"

	"github.com/matchbox-labs/sandboxd/internal/sandboxerr"
)

// Registry maps sandbox ids to live Sandboxes, with a many-readers/
// one-writer discipline: list takes a read lock and returns a snapshot;
// create and delete take a write lock.
type Registry struct {
	coordinator *Coordinator
	mu          sync.RWMutex
	sandboxes   map[string]*Sandbox
}

// NewRegistry returns an empty registry driven by coordinator.
func NewRegistry(coordinator *Coordinator) *Registry {
	return &Registry{
		coordinator: coordinator,
		sandboxes:   make(map[string]*Sandbox),
	}
}

// List returns a snapshot of every live sandbox as a read-only view.
func (r *Registry) List() []View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]View, 0, len(r.sandboxes))
	for _, sb := range r.sandboxes {
		views = append(views, sb.view())
	}
	return views
}

// Create runs provide_sandbox, inserts the result under its id, and
// returns its view. The sandbox is inserted only after full success.
func (r *Registry) Create(ctx context.Context, opts ProvideSandboxOptions) (View, error) {
	sb, err := r.coordinator.ProvideSandbox(ctx, opts)
	if err != nil {
		return View{}, err
	}

	r.mu.Lock()
	r.sandboxes[sb.ID.ID] = sb
	r.mu.Unlock()

	return sb.view(), nil
}

// Delete atomically removes and returns the sandbox for id, then
// destroys it. Deleting an unknown id returns a NotFound error.
func (r *Registry) Delete(ctx context.Context, id string) (View, error) {
	r.mu.Lock()
	sb, ok := r.sandboxes[id]
	if ok {
		delete(r.sandboxes, id)
	}
	r.mu.Unlock()

	if !ok {
		return View{}, sandboxerr.NotFound("sandbox " + id + " does not exist")
	}

	view := sb.view()
	r.coordinator.Destroy(ctx, sb)
	return view, nil
}

// Get returns the live sandbox for id, for callers (the execute route)
// that need to issue guest RPCs through it. A NotFound error is returned
// for an unknown id.
func (r *Registry) Get(id string) (*Sandbox, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sb, ok := r.sandboxes[id]
	if !ok {
		return nil, sandboxerr.NotFound("sandbox " + id + " does not exist")
	}
	return sb, nil
}
