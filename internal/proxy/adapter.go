package proxy

import "sync"

// ObjectAdapter mirrors proxy state onto a concrete external object. The
// proxy calls it only when an object is attached; errors propagate to the
// caller of the triggering proxy method.
type ObjectAdapter interface {
	// Commit pushes the committed properties of p to its object.
	Commit(p *Proxy) error
	// Reset notifies the object that names were reverted.
	Reset(p *Proxy, names []string) error
	// Fetch repopulates p from its object, typically with SetProperty.
	Fetch(p *Proxy) error
	// Update forwards pending edits of names.
	Update(p *Proxy, names ...string) error
	// BeforeDelete runs before p leaves the manager.
	BeforeDelete(p *Proxy) error
}

// NopAdapter ignores every call. Embed it to implement only some methods.
type NopAdapter struct{}

func (NopAdapter) Commit(*Proxy) error            { return nil }
func (NopAdapter) Reset(*Proxy, []string) error   { return nil }
func (NopAdapter) Fetch(*Proxy) error             { return nil }
func (NopAdapter) Update(*Proxy, ...string) error { return nil }
func (NopAdapter) BeforeDelete(*Proxy) error      { return nil }

var _ ObjectAdapter = NopAdapter{}

// ObjectFactory creates the concrete object backing a new proxy. A nil
// result leaves the proxy purely virtual.
type ObjectFactory interface {
	Create(typeName string) any
}

// FactoryFunc adapts a function to ObjectFactory.
type FactoryFunc func(typeName string) any

func (f FactoryFunc) Create(typeName string) any { return f(typeName) }

// FactoryMap creates objects from constructors registered per type name.
type FactoryMap struct {
	mu    sync.RWMutex
	ctors map[string]func() any
}

// NewFactoryMap returns an empty FactoryMap.
func NewFactoryMap() *FactoryMap {
	return &FactoryMap{ctors: make(map[string]func() any)}
}

// Register binds ctor to typeName, replacing any previous constructor.
func (f *FactoryMap) Register(typeName string, ctor func() any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[typeName] = ctor
}

// Create returns a new object for typeName, or nil when none is registered.
func (f *FactoryMap) Create(typeName string) any {
	f.mu.RLock()
	ctor, ok := f.ctors[typeName]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	return ctor()
}

var (
	_ ObjectFactory = (*FactoryMap)(nil)
	_ ObjectFactory = FactoryFunc(nil)
)
