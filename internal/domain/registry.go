package domain

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zjrosen/simput/internal/schema"
)

// Registry errors
var (
	ErrUnknownKind = errors.New("domain kind not registered")
	ErrSkipped     = errors.New("domain kind skipped")
	ErrEmptyKind   = errors.New("domain kind cannot be empty")
	ErrNilCtor     = errors.New("domain constructor cannot be nil")
)

// DefaultSkipped lists kinds that only affect presentation.
var DefaultSkipped = []string{"PropertyList", "Boolean", "UI"}

// Constructor builds a domain bound to host.property from its spec.
type Constructor func(host Host, property string, spec schema.DomainSpec) (Domain, error)

// Registry maps domain kind names to constructors. It is safe for
// concurrent use; one registry is usually shared by every manager of a process.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Constructor
	skip  map[string]struct{}
}

// NewRegistry returns a registry with the built-in kinds registered and the
// presentation-only kinds skipped.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	_ = r.Register(KindLabelList, NewLabelList)
	_ = r.Register(KindRange, NewRange)
	r.Skip(DefaultSkipped...)
	return r
}

// NewEmptyRegistry returns a registry with no kinds.
func NewEmptyRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]Constructor),
		skip:  make(map[string]struct{}),
	}
}

// Register adds or replaces the constructor of kind. A skipped kind becomes
// active again.
func (r *Registry) Register(kind string, ctor Constructor) error {
	if kind == "" {
		return ErrEmptyKind
	}
	if ctor == nil {
		return ErrNilCtor
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = ctor
	delete(r.skip, kind)
	return nil
}

// Skip deny-lists kinds so they resolve to no domain.
func (r *Registry) Skip(kinds ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range kinds {
		if k == "" {
			continue
		}
		delete(r.kinds, k)
		r.skip[k] = struct{}{}
	}
}

// Kinds returns the registered kind names, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the constructor of kind.
func (r *Registry) Lookup(kind string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, skipped := r.skip[kind]; skipped {
		return nil, fmt.Errorf("%w: %s", ErrSkipped, kind)
	}
	ctor, ok := r.kinds[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return ctor, nil
}

// Create instantiates the domain described by spec on host.property.
func (r *Registry) Create(host Host, property string, spec schema.DomainSpec) (Domain, error) {
	ctor, err := r.Lookup(spec.Kind())
	if err != nil {
		return nil, err
	}
	d, err := ctor(host, property, spec)
	if err != nil {
		return nil, fmt.Errorf("create %s domain on %s: %w", spec.Kind(), property, err)
	}
	return d, nil
}
