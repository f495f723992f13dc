package backend

import (
	"fmt"
)

// Registry is the read-only directory of configured backends. Order follows
// the configuration.
type Registry struct {
	byID  map[string]*Descriptor
	order []*Descriptor
}

// NewRegistry indexes descriptors by id.
func NewRegistry(descriptors ...*Descriptor) (*Registry, error) {
	if len(descriptors) == 0 {
		return nil, ErrNoBackends
	}

	r := &Registry{
		byID:  make(map[string]*Descriptor, len(descriptors)),
		order: make([]*Descriptor, 0, len(descriptors)),
	}
	for _, d := range descriptors {
		if _, exists := r.byID[d.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBackend, d.ID)
		}
		r.byID[d.ID] = d
		r.order = append(r.order, d)
	}
	return r, nil
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// Lookup is Get with an error suitable for wrapping.
func (r *Registry) Lookup(id string) (*Descriptor, error) {
	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, id)
	}
	return d, nil
}

// All returns every descriptor in configuration order.
func (r *Registry) All() []*Descriptor {
	out := make([]*Descriptor, len(r.order))
	copy(out, r.order)
	return out
}

// IDs returns every backend id in configuration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	for i, d := range r.order {
		ids[i] = d.ID
	}
	return ids
}

// Len returns the number of configured backends.
func (r *Registry) Len() int {
	return len(r.order)
}
