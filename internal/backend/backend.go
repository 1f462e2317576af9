// Package backend defines the storage backend contract and the registry
// that lazily opens and caches backend handles per layer (spec §4.2).
package backend

import (
	"fmt"
	"sync"

	"buxton/internal/layer"
	"buxton/internal/wire"
)

// Record is one stored entry: a Value plus its MAC label, keyed by
// (group, name) within a single backend handle. A record with no Name is the
// group's own sentinel (spec §3).
type Record struct {
	Value wire.Value
	Label string
}

// Backend is the fixed four-capability storage contract every backend kind
// implements (spec §4.2 Design Note "fixed capability set").
type Backend interface {
	Get(group, name string) (Record, bool, error)
	Set(group, name string, rec Record) error
	Unset(group, name string) error
	List(group string) ([]string, error)
	Close() error
}

// Kind names the backend implementation a layer binds to (spec §3/§6).
type Kind string

const (
	KindMemory     Kind = "memory"
	KindPersistent Kind = "persistent"
)

// Opener constructs a Backend handle for one layer identity.
type Opener func(l layer.Layer, uid uint32, hasUID bool) (Backend, error)

// Registry lazily opens and caches one Backend handle per (layer name,
// owning uid) identity, matching spec §4.2's caching rule: handles are
// opened on first use and reused for the daemon's lifetime.
type Registry struct {
	openers map[Kind]Opener

	mu      sync.Mutex
	handles map[string]Backend
}

// NewRegistry builds a registry with the given backend kind openers
// (typically memory.Open and file.Open, wired in server.New).
func NewRegistry(openers map[Kind]Opener) *Registry {
	return &Registry{
		openers: openers,
		handles: make(map[string]Backend),
	}
}

func handleKey(l layer.Layer, uid uint32, hasUID bool) string {
	if hasUID {
		return fmt.Sprintf("%s-%d", l.Name, uid)
	}
	return l.Name
}

// Handle returns the cached backend for l, opening it on first use. callerUID
// is only consulted for user layers (layer.Layer.OwningUID).
func (r *Registry) Handle(l layer.Layer, callerUID uint32) (Backend, error) {
	uid, hasUID := l.OwningUID(callerUID)
	key := handleKey(l, uid, hasUID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.handles[key]; ok {
		return b, nil
	}

	open, ok := r.openers[Kind(l.BackendID)]
	if !ok {
		return nil, fmt.Errorf("backend: no opener registered for kind %q (layer %q)", l.BackendID, l.Name)
	}
	b, err := open(l, uid, hasUID)
	if err != nil {
		return nil, fmt.Errorf("backend: open layer %q: %w", l.Name, err)
	}
	r.handles[key] = b
	return b, nil
}

// Close tears down every open handle, idempotently. Errors from individual
// backends are collected but do not stop the sweep, matching the teacher's
// best-effort shutdown pattern.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for key, b := range r.handles {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend: close %q: %w", key, err))
		}
		delete(r.handles, key)
	}
	if len(errs) > 0 {
		return fmt.Errorf("backend: %d handle(s) failed to close: %v", len(errs), errs)
	}
	return nil
}
