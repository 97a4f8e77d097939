// Package proxy implements the in-memory proxy store: typed records of
// property values created from a schema, with pending/committed editing,
// ownership, tagging, change events and JSON save/load.
package proxy

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/google/uuid"

	"github.com/zjrosen/simput/internal/domain"
	"github.com/zjrosen/simput/internal/idgen"
	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/schema"
	"github.com/zjrosen/simput/internal/value"
)

// Manager errors
var (
	ErrNotFound          = errors.New("proxy not found")
	ErrUnknownProperty   = errors.New("unknown property")
	ErrDanglingReference = errors.New("dangling proxy reference")
	ErrDomainCycle       = errors.New("domains did not converge")
	ErrMalformedDocument = errors.New("malformed state document")
)

// TagAutoCommit marks proxies whose edits are committed by Update.
const TagAutoCommit = "auto_commit"

// DefaultMaxDomainPasses bounds the domain fixed-point loop.
const DefaultMaxDomainPasses = 16

// Change is one property edit of an Update batch.
type Change struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Value value.Value `json:"value"`
}

// Manager owns every proxy created from its schema. It is not safe for
// concurrent use; callers serialize access.
type Manager struct {
	id    string
	mtime uint64
	seq   uint64
	model *schema.Model

	proxies  map[string]*Proxy
	tagIndex map[string]map[string]struct{}

	dirtyData    map[string]struct{}
	dirtyDomains map[string]struct{}

	listeners listeners
	lifecycle []Lifecycle

	factory   ObjectFactory
	adapter   ObjectAdapter
	ids       *idgen.Generator
	domains   *domain.Registry
	maxPasses int
}

// Option configures a Manager.
type Option func(*Manager)

// WithID sets the manager id. The default is a random "pxm_" id.
func WithID(id string) Option {
	return func(m *Manager) { m.id = id }
}

// WithObjectFactory attaches concrete objects to new proxies.
func WithObjectFactory(f ObjectFactory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithObjectAdapter sets the adapter used for proxies with an object.
func WithObjectAdapter(a ObjectAdapter) Option {
	return func(m *Manager) { m.adapter = a }
}

// WithIDGenerator sets the proxy id generator. The default is shared by
// every manager in the process, so proxy ids never repeat across managers.
func WithIDGenerator(g *idgen.Generator) Option {
	return func(m *Manager) { m.ids = g }
}

// WithDomainRegistry sets the registry domains are created from.
func WithDomainRegistry(r *domain.Registry) Option {
	return func(m *Manager) { m.domains = r }
}

// WithMaxDomainPasses bounds the domain fixed-point loop.
func WithMaxDomainPasses(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxPasses = n
		}
	}
}

// NewManager returns an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		id:           "pxm_" + uuid.NewString(),
		mtime:        1,
		model:        schema.New(),
		proxies:      make(map[string]*Proxy),
		tagIndex:     make(map[string]map[string]struct{}),
		dirtyData:    make(map[string]struct{}),
		dirtyDomains: make(map[string]struct{}),
		adapter:      NopAdapter{},
		maxPasses:    DefaultMaxDomainPasses,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ids == nil {
		m.ids = idgen.Shared()
	}
	if m.domains == nil {
		m.domains = domain.NewRegistry()
	}
	if m.adapter == nil {
		m.adapter = NopAdapter{}
	}
	return m
}

func (m *Manager) ID() string { return m.id }

// MTime returns the manager clock.
func (m *Manager) MTime() uint64 { return m.mtime }

// Modified advances the manager clock and returns the new value.
func (m *Manager) Modified() uint64 {
	m.notify(func(l Lifecycle) { l.BeforeModified(m.mtime) })
	m.mtime++
	m.notify(func(l Lifecycle) { l.AfterModified(m.mtime) })
	return m.mtime
}

func (m *Manager) MaxDomainPasses() int { return m.maxPasses }

// DomainRegistry returns the registry domains are created from.
func (m *Manager) DomainRegistry() *domain.Registry { return m.domains }

// LoadModel merges type definitions written as YAML or JSON. Loading the
// same text twice leaves the model unchanged.
func (m *Manager) LoadModel(text []byte) error {
	types, err := schema.Parse(text)
	if err != nil {
		return err
	}
	m.notify(func(l Lifecycle) { l.BeforeLoadModel(types) })
	names, err := m.model.Merge(text)
	if err != nil {
		return err
	}
	log.Info(log.CatSchema, "model loaded", "manager", m.id, "types", len(names))
	m.notify(func(l Lifecycle) { l.AfterLoadModel(text) })
	return nil
}

// LoadModelFile merges the type definitions of a file.
func (m *Manager) LoadModelFile(path string) error {
	text, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model %s: %w", path, err)
	}
	return m.LoadModel(text)
}

// Model returns the loaded schema.
func (m *Manager) Model() *schema.Model { return m.model }

// Definition returns the flattened definition of a type.
func (m *Manager) Definition(typeName string) (*schema.Definition, bool) {
	return m.model.Definition(typeName)
}

// Types lists the loaded types declaring all tags.
func (m *Manager) Types(tags ...string) []string { return m.model.Types(tags...) }

// CreateOption configures Create.
type CreateOption func(*createConfig)

type createConfig struct {
	values map[string]value.Value
	name   string
	tags   []string
}

// WithValues sets initial property values.
func WithValues(values map[string]value.Value) CreateOption {
	return func(c *createConfig) {
		for k, v := range values {
			c.values[k] = v
		}
	}
}

// WithValue sets one initial property value.
func WithValue(name string, v value.Value) CreateOption {
	return func(c *createConfig) { c.values[name] = v }
}

// WithName sets the display name.
func WithName(name string) CreateOption {
	return func(c *createConfig) { c.name = name }
}

// WithTags adds tags on top of the schema tags.
func WithTags(tags ...string) CreateOption {
	return func(c *createConfig) { c.tags = append(c.tags, tags...) }
}

// Create instantiates a proxy of typeName, runs its domains to a fixed point
// and commits it.
func (m *Manager) Create(typeName string, opts ...CreateOption) (*Proxy, error) {
	return m.create(typeName, true, opts...)
}

func (m *Manager) create(typeName string, announce bool, opts ...CreateOption) (*Proxy, error) {
	def, ok := m.model.Definition(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", schema.ErrUnknownType, typeName)
	}
	cfg := &createConfig{values: make(map[string]value.Value)}
	for _, opt := range opts {
		opt(cfg)
	}
	for name := range cfg.values {
		if _, ok := def.Property(name); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, typeName, name)
		}
	}

	m.notify(func(l Lifecycle) { l.ProxyCreateBefore(typeName, cfg.values) })

	var object any
	if m.factory != nil {
		object = m.factory.Create(typeName)
	}
	p, err := newProxy(m, def, object, cfg)
	if err != nil {
		m.unregister(p)
		return nil, fmt.Errorf("create %s: %w", typeName, err)
	}

	m.notify(func(l Lifecycle) { l.ProxyCreateBeforeCommit(typeName, cfg.values, p) })
	if _, err := p.Commit(); err != nil {
		m.unregister(p)
		return nil, fmt.Errorf("create %s: %w", typeName, err)
	}
	// Construction already ran the domains to a fixed point.
	m.CleanProxyDomains(p.id)
	m.notify(func(l Lifecycle) { l.ProxyCreateAfterCommit(typeName, cfg.values, p) })

	log.Debug(log.CatProxy, "proxy created", "id", p.id, "type", typeName)
	if announce {
		m.emit(Event{Type: EventCreated, IDs: []string{p.id}})
	}
	return p, nil
}

// Get returns the proxy with id, or nil.
func (m *Manager) Get(id string) *Proxy { return m.proxies[id] }

// Len returns the number of live proxies.
func (m *Manager) Len() int { return len(m.proxies) }

// Proxies returns every live proxy in creation order.
func (m *Manager) Proxies() []*Proxy {
	out := make([]*Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Delete removes a proxy and, recursively, every proxy it owns. When the
// adapter refuses a deletion the cascade stops there; the proxies already
// removed are still reported in a deleted event before the error returns.
func (m *Manager) Delete(id string) error {
	if _, ok := m.proxies[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var removed []string
	err := m.deleteTree(id, true, &removed)
	if len(removed) > 0 {
		m.Modified()
		log.Debug(log.CatProxy, "proxies deleted", "root", id, "count", len(removed))
		m.emit(Event{Type: EventDeleted, IDs: removed})
	}
	return err
}

func (m *Manager) deleteTree(id string, trigger bool, removed *[]string) error {
	m.notify(func(l Lifecycle) { l.ProxyDeleteBefore(id, trigger) })
	p, ok := m.proxies[id]
	if !ok {
		// Already gone through another owner.
		log.Debug(log.CatProxy, "owned proxy already deleted", "id", id)
		return nil
	}
	if p.object != nil {
		if err := m.adapter.BeforeDelete(p); err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	m.unregister(p)
	*removed = append(*removed, id)
	m.notify(func(l Lifecycle) { l.ProxyDeleteAfterSelf(id, trigger, p) })

	for _, owned := range p.Own() {
		if err := m.deleteTree(owned, false, removed); err != nil {
			return err
		}
	}
	m.notify(func(l Lifecycle) { l.ProxyDeleteAfterOwn(id, trigger, p) })
	return nil
}

// Update applies a batch of edits. Proxies tagged auto_commit are committed
// once the batch is applied; a commit event is emitted for each of them and
// then one changed event lists every edited proxy.
func (m *Manager) Update(changes []Change) error {
	for _, c := range changes {
		p := m.proxies[c.ID]
		if p == nil {
			return fmt.Errorf("update: %w: %s", ErrNotFound, c.ID)
		}
		if _, ok := p.PropertySpec(c.Name); !ok {
			return fmt.Errorf("update: %w: %s.%s", ErrUnknownProperty, p.typ, c.Name)
		}
	}

	m.notify(func(l Lifecycle) { l.ProxyUpdateBefore(changes) })

	var dirtyIDs, autoCommit []string
	seen := make(map[string]struct{})
	for _, c := range changes {
		p := m.proxies[c.ID]
		if _, err := p.SetProperty(c.Name, c.Value); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		dirtyIDs = append(dirtyIDs, c.ID)
		if p.HasTag(TagAutoCommit) {
			autoCommit = append(autoCommit, c.ID)
		}
	}

	for _, id := range autoCommit {
		if _, err := m.proxies[id].Commit(); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		m.emit(Event{Type: EventCommit, IDs: []string{id}})
	}

	m.notify(func(l Lifecycle) { l.ProxyUpdateAfter(changes, dirtyIDs) })
	m.emit(Event{Type: EventChanged, IDs: dirtyIDs})
	return nil
}

// InstancesOfType returns the live proxies of a type in creation order.
func (m *Manager) InstancesOfType(typeName string) []*Proxy {
	var out []*Proxy
	for _, p := range m.Proxies() {
		if p.typ == typeName {
			out = append(out, p)
		}
	}
	return out
}

// Tags returns the proxies carrying every tag, in creation order. Without
// tags it returns every proxy.
func (m *Manager) Tags(tags ...string) []*Proxy {
	if len(tags) == 0 {
		return m.Proxies()
	}
	for _, t := range tags {
		if len(m.tagIndex[t]) == 0 {
			return nil
		}
	}
	var out []*Proxy
	for _, p := range m.Proxies() {
		match := true
		for _, t := range tags {
			if _, ok := m.tagIndex[t][p.id]; !ok {
				match = false
				break
			}
		}
		if match {
			out = append(out, p)
		}
	}
	return out
}

// CommitAll commits every proxy with pending edits and returns their ids.
func (m *Manager) CommitAll() ([]string, error) {
	ids := m.ListAndCleanProxyData()
	var committed []string
	for _, id := range ids {
		p := m.proxies[id]
		if p == nil {
			continue
		}
		changed, err := p.Commit()
		if err != nil {
			return committed, err
		}
		if changed {
			committed = append(committed, id)
		}
	}
	if len(committed) > 0 {
		m.emit(Event{Type: EventCommit, IDs: committed})
	}
	return committed, nil
}

// ResetAll resets every proxy with pending edits and returns their ids.
func (m *Manager) ResetAll() ([]string, error) {
	ids := m.ListAndCleanProxyData()
	var reset []string
	for _, id := range ids {
		p := m.proxies[id]
		if p == nil {
			continue
		}
		changed, err := p.Reset()
		if err != nil {
			return reset, err
		}
		if changed {
			reset = append(reset, id)
		}
	}
	if len(reset) > 0 {
		m.emit(Event{Type: EventReset, IDs: reset})
	}
	return reset, nil
}

// DirtyProxy records that a proxy changed, for both data and domain
// bookkeeping.
func (m *Manager) DirtyProxy(id string) {
	m.dirtyData[id] = struct{}{}
	m.dirtyDomains[id] = struct{}{}
}

func (m *Manager) CleanProxyData(id string)    { delete(m.dirtyData, id) }
func (m *Manager) CleanProxyDomains(id string) { delete(m.dirtyDomains, id) }

// ListAndCleanProxyData drains the data-dirty set, in creation order.
func (m *Manager) ListAndCleanProxyData() []string {
	ids := m.ordered(m.dirtyData)
	clear(m.dirtyData)
	return ids
}

// ListAndCleanProxyDomains drains the domain-dirty set, in creation order.
func (m *Manager) ListAndCleanProxyDomains() []string {
	ids := m.ordered(m.dirtyDomains)
	clear(m.dirtyDomains)
	return ids
}

func (m *Manager) ordered(set map[string]struct{}) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		if _, ok := m.proxies[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return m.proxies[ids[i]].seq < m.proxies[ids[j]].seq })
	return ids
}

// On subscribes fn to created, deleted, changed, commit and reset events.
// The returned function unsubscribes. Listener panics propagate.
func (m *Manager) On(fn Listener) func() { return m.listeners.add(fn) }

func (m *Manager) emit(ev Event) {
	for _, l := range m.listeners.snapshot() {
		l.fn(ev)
	}
}

// AddLifecycleListener registers l and hands it the manager.
func (m *Manager) AddLifecycleListener(l Lifecycle) {
	m.lifecycle = append(m.lifecycle, l)
	l.SetManager(m)
}

// RemoveLifecycleListener unregisters l, matched with ==, and detaches it
// from the manager.
func (m *Manager) RemoveLifecycleListener(l Lifecycle) {
	for i, cur := range m.lifecycle {
		if cur == l {
			m.lifecycle = append(m.lifecycle[:i:i], m.lifecycle[i+1:]...)
			l.SetManager(nil)
			return
		}
	}
}

func (m *Manager) notify(fn func(Lifecycle)) {
	for _, l := range m.lifecycle {
		fn(l)
	}
}

func (m *Manager) register(p *Proxy) {
	m.seq++
	p.seq = m.seq
	m.proxies[p.id] = p
	for t := range p.tags {
		m.indexTag(t, p.id)
	}
}

// unregister drops p from every index without events.
func (m *Manager) unregister(p *Proxy) {
	if p == nil {
		return
	}
	delete(m.proxies, p.id)
	for t := range p.tags {
		m.unindexTag(t, p.id)
	}
	delete(m.dirtyData, p.id)
	delete(m.dirtyDomains, p.id)
}

func (m *Manager) indexTag(tag, id string) {
	ids, ok := m.tagIndex[tag]
	if !ok {
		ids = make(map[string]struct{})
		m.tagIndex[tag] = ids
	}
	ids[id] = struct{}{}
}

func (m *Manager) unindexTag(tag, id string) {
	ids := m.tagIndex[tag]
	delete(ids, id)
	if len(ids) == 0 {
		delete(m.tagIndex, tag)
	}
}
