package proxy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zjrosen/simput/internal/domain"
	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/schema"
	"github.com/zjrosen/simput/internal/value"
)

// Proxy is a typed record of property values with a pending/committed split.
// Edits land in the pending map; Commit promotes them and Reset discards them.
//
// Proxies are created by a Manager and are not safe for concurrent use.
type Proxy struct {
	mgr     *Manager
	id      string
	typ     string
	name    string
	seq     uint64
	mtime   uint64
	object  any
	adapter ObjectAdapter

	tags      map[string]struct{}
	own       map[string]struct{}
	committed map[string]value.Value
	pending   map[string]value.Value
	dirty     map[string]struct{}
	domains   map[string][]namedDomain

	fetching  bool
	listeners listeners
}

type namedDomain struct {
	name string
	d    domain.Domain
}

var _ domain.Host = (*Proxy)(nil)

func newProxy(m *Manager, def *schema.Definition, object any, cfg *createConfig) (*Proxy, error) {
	p := &Proxy{
		mgr:       m,
		id:        m.ids.Next(),
		typ:       def.Name,
		name:      def.Name,
		mtime:     m.mtime,
		object:    object,
		adapter:   m.adapter,
		tags:      make(map[string]struct{}),
		own:       make(map[string]struct{}),
		committed: make(map[string]value.Value),
		pending:   make(map[string]value.Value),
		dirty:     make(map[string]struct{}),
		domains:   make(map[string][]namedDomain),
	}
	if cfg.name != "" {
		p.name = cfg.name
	}
	for _, t := range def.Tags {
		p.tags[t] = struct{}{}
	}
	for _, t := range cfg.tags {
		p.tags[t] = struct{}{}
	}
	m.register(p)

	for _, spec := range def.Properties() {
		v, given := cfg.values[spec.Name]
		if !given {
			v = spec.Initial
			if spec.InitialDomain != nil {
				log.Debug(log.CatProxy, "initial value deferred to domains",
					"proxy", p.id, "property", spec.Name)
			}
		}
		if _, err := p.SetProperty(spec.Name, v); err != nil {
			return p, err
		}
	}

	if err := p.bindDomains(def); err != nil {
		return p, err
	}
	if err := p.Settle(); err != nil {
		return p, err
	}
	return p, nil
}

// bindDomains instantiates the domains declared on every property and asks
// each one for its initial value.
func (p *Proxy) bindDomains(def *schema.Definition) error {
	for _, spec := range def.Properties() {
		for _, ds := range spec.Domains {
			d, err := p.mgr.domains.Create(p, spec.Name, ds)
			if err != nil {
				if errors.Is(err, domain.ErrSkipped) {
					log.Debug(log.CatDomain, "domain skipped", "proxy", p.id, "property", spec.Name, "kind", ds.Kind())
				} else {
					log.Warn(log.CatDomain, "domain ignored", "proxy", p.id, "property", spec.Name, "error", err.Error())
				}
				continue
			}
			p.domains[spec.Name] = append(p.domains[spec.Name], namedDomain{
				name: p.uniqueDomainName(spec.Name, ds.Name()),
				d:    d,
			})
			if _, err := d.SetValue(); err != nil {
				return fmt.Errorf("initialize %s domain of %s.%s: %w", ds.Kind(), p.typ, spec.Name, err)
			}
		}
	}
	return nil
}

func (p *Proxy) uniqueDomainName(property, name string) string {
	taken := func(n string) bool {
		for _, nd := range p.domains[property] {
			if nd.name == n {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", name, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// ID returns the manager-unique id of the proxy.
func (p *Proxy) ID() string { return p.id }

// Type returns the schema type name.
func (p *Proxy) Type() string { return p.typ }

// Name returns the display name, the type name unless set otherwise.
func (p *Proxy) Name() string { return p.name }

func (p *Proxy) SetName(name string) { p.name = name }

// MTime returns the manager clock value of the last Modified call.
func (p *Proxy) MTime() uint64 { return p.mtime }

// Modified stamps the proxy with a fresh manager clock value.
func (p *Proxy) Modified() { p.mtime = p.mgr.Modified() }

// Object returns the concrete object attached at creation, if any.
func (p *Proxy) Object() any { return p.object }

func (p *Proxy) Manager() *Manager { return p.mgr }

// Definition returns the current schema definition of the proxy type.
func (p *Proxy) Definition() *schema.Definition {
	def, _ := p.mgr.model.Definition(p.typ)
	return def
}

// PropertySpec returns the schema of the named property.
func (p *Proxy) PropertySpec(name string) (*schema.Property, bool) {
	def := p.Definition()
	if def == nil {
		return nil, false
	}
	return def.Property(name)
}

// PropertyNames lists the properties of the proxy type in schema order.
func (p *Proxy) PropertyNames() []string {
	def := p.Definition()
	if def == nil {
		return nil
	}
	return def.PropertyNames()
}

// Tags returns the tag set, sorted.
func (p *Proxy) Tags() []string { return sortedKeys(p.tags) }

func (p *Proxy) HasTag(tag string) bool {
	_, ok := p.tags[tag]
	return ok
}

// AddTags adds tags and indexes them in the manager.
func (p *Proxy) AddTags(tags ...string) {
	for _, t := range tags {
		if t == "" {
			continue
		}
		p.tags[t] = struct{}{}
		p.mgr.indexTag(t, p.id)
	}
}

// SetTags replaces the tag set.
func (p *Proxy) SetTags(tags ...string) {
	for t := range p.tags {
		p.mgr.unindexTag(t, p.id)
	}
	p.tags = make(map[string]struct{}, len(tags))
	p.AddTags(tags...)
}

// Own returns the ids of the proxies this proxy owns, sorted.
func (p *Proxy) Own() []string { return sortedKeys(p.own) }

// AddOwn records ownership of other proxies. Owned proxies are committed with
// their owner and deleted with it.
func (p *Proxy) AddOwn(ids ...string) {
	for _, id := range ids {
		if id != "" {
			p.own[id] = struct{}{}
		}
	}
}

func (p *Proxy) RemoveOwn(ids ...string) {
	for _, id := range ids {
		delete(p.own, id)
	}
}

// Property returns the pending value of name. Unknown names read as null.
func (p *Proxy) Property(name string) value.Value { return p.pending[name] }

// CommittedProperty returns the last committed value of name.
func (p *Proxy) CommittedProperty(name string) value.Value { return p.committed[name] }

// Reference resolves a proxy-typed property to the proxy it points at.
func (p *Proxy) Reference(name string) *Proxy {
	id := p.pending[name].Text()
	if id == "" {
		return nil
	}
	return p.mgr.Get(id)
}

// SetReference points a proxy-typed property at target, or clears it when
// target is nil.
func (p *Proxy) SetReference(name string, target *Proxy) (bool, error) {
	if target == nil {
		return p.SetProperty(name, value.Null())
	}
	return p.SetProperty(name, value.Ref(target.ID()))
}

// SetProperty stores v as the pending value of name and reports whether it
// differs from the previous pending value. The property is dirty while v
// differs from the committed value.
func (p *Proxy) SetProperty(name string, v value.Value) (bool, error) {
	spec, ok := p.PropertySpec(name)
	if !ok {
		return false, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, p.typ, name)
	}
	if spec.IsProxy() && v.Kind() == value.KindString {
		v = value.Ref(v.Text())
	}

	modified := !value.Equal(p.pending[name], v)
	p.pending[name] = v
	if value.Equal(p.committed[name], v) {
		delete(p.dirty, name)
	} else {
		p.dirty[name] = struct{}{}
	}
	if modified {
		p.mgr.DirtyProxy(p.id)
	}

	if p.object != nil && !p.fetching {
		if err := p.adapter.Update(p, name); err != nil {
			return modified, fmt.Errorf("update %s.%s on object: %w", p.id, name, err)
		}
	}

	p.emit(Event{
		Type:       EventUpdate,
		ProxyID:    p.id,
		Property:   name,
		Modified:   modified,
		Properties: p.DirtyProperties(),
	})
	return modified, nil
}

// DirtyProperties lists, in schema order, the properties whose pending value
// differs from the committed one.
func (p *Proxy) DirtyProperties() []string {
	out := make([]string, 0, len(p.dirty))
	for _, name := range p.PropertyNames() {
		if _, ok := p.dirty[name]; ok {
			out = append(out, name)
		}
	}
	// Properties dropped from a reloaded schema stay reachable.
	if len(out) < len(p.dirty) {
		seen := make(map[string]struct{}, len(out))
		for _, n := range out {
			seen[n] = struct{}{}
		}
		var rest []string
		for n := range p.dirty {
			if _, ok := seen[n]; !ok {
				rest = append(rest, n)
			}
		}
		sort.Strings(rest)
		out = append(out, rest...)
	}
	return out
}

func (p *Proxy) IsDirty() bool { return len(p.dirty) > 0 }

// Commit promotes every dirty property to committed, pushes the result to the
// attached object and commits owned proxies. It reports whether anything was
// dirty.
func (p *Proxy) Commit() (bool, error) {
	p.mgr.CleanProxyData(p.id)
	if len(p.dirty) == 0 {
		return false, nil
	}

	names := p.DirtyProperties()
	for _, name := range names {
		p.committed[name] = p.pending[name]
	}
	clear(p.dirty)

	if p.object != nil {
		if err := p.adapter.Commit(p); err != nil {
			return true, fmt.Errorf("commit %s to object: %w", p.id, err)
		}
	}
	for _, id := range p.Own() {
		owned := p.mgr.Get(id)
		if owned == nil {
			continue
		}
		if _, err := owned.Commit(); err != nil {
			return true, err
		}
	}

	p.emit(Event{Type: EventCommit, ProxyID: p.id, Properties: names})
	return true, nil
}

// Reset restores every dirty property to its committed value. It reports
// whether anything was dirty.
func (p *Proxy) Reset() (bool, error) {
	p.mgr.CleanProxyData(p.id)
	if len(p.dirty) == 0 {
		return false, nil
	}

	names := p.DirtyProperties()
	for _, name := range names {
		p.pending[name] = p.committed[name]
	}
	clear(p.dirty)

	if p.object != nil {
		if err := p.adapter.Reset(p, names); err != nil {
			return true, fmt.Errorf("reset %s on object: %w", p.id, err)
		}
	}

	p.emit(Event{Type: EventReset, ProxyID: p.id, Properties: names})
	return true, nil
}

// Fetch pulls the object state through the adapter and adopts it as the
// committed state without pushing anything back.
func (p *Proxy) Fetch() error {
	if p.object == nil {
		return nil
	}
	p.fetching = true
	err := p.adapter.Fetch(p)
	p.fetching = false
	if err != nil {
		return fmt.Errorf("fetch %s from object: %w", p.id, err)
	}

	for name, v := range p.pending {
		p.committed[name] = v
	}
	clear(p.dirty)
	p.mgr.CleanProxyData(p.id)
	return nil
}

// Domains returns the domains bound to a property keyed by domain name.
func (p *Proxy) Domains(property string) map[string]domain.Domain {
	list := p.domains[property]
	if len(list) == 0 {
		return nil
	}
	out := make(map[string]domain.Domain, len(list))
	for _, nd := range list {
		out[nd.name] = nd.d
	}
	return out
}

// ApplyDomains asks the domains of the named properties, or of every
// property when names is empty, to assign their value. It returns the number
// of assignments made.
func (p *Proxy) ApplyDomains(names ...string) (int, error) {
	if len(names) == 0 {
		names = p.PropertyNames()
	}
	count := 0
	for _, name := range names {
		for _, nd := range p.domains[name] {
			set, err := nd.d.SetValue()
			if err != nil {
				return count, fmt.Errorf("apply %s domain of %s.%s: %w", nd.name, p.id, name, err)
			}
			if set {
				count++
			}
		}
	}
	return count, nil
}

// EnableDomains re-arms the domains of the named properties, or of every
// property when names is empty, so the next ApplyDomains recomputes them.
func (p *Proxy) EnableDomains(names ...string) {
	if len(names) == 0 {
		names = p.PropertyNames()
	}
	for _, name := range names {
		for _, nd := range p.domains[name] {
			nd.d.EnableSetValue()
		}
	}
}

// Settle runs ApplyDomains until no domain assigns a value, at most
// the manager's maximum number of passes.
func (p *Proxy) Settle() error {
	for pass := 0; pass < p.mgr.maxPasses; pass++ {
		n, err := p.ApplyDomains()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: %s after %d passes", ErrDomainCycle, p.id, p.mgr.maxPasses)
}

// DomainState summarizes, per property, the domains that constrain the value
// or reject it, along with their hints.
func (p *Proxy) DomainState() map[string]domain.PropertyState {
	out := make(map[string]domain.PropertyState)
	for _, name := range p.PropertyNames() {
		list := p.domains[name]
		if len(list) == 0 {
			continue
		}
		ps := domain.PropertyState{Hints: []domain.Hint{}}
		for _, nd := range list {
			available := nd.d.Available()
			valid := nd.d.Valid(domain.LevelError)
			ps.Hints = append(ps.Hints, nd.d.Hints()...)
			if available == nil && valid {
				continue
			}
			if ps.Domains == nil {
				ps.Domains = make(map[string]domain.State)
			}
			ps.Domains[nd.name] = domain.State{Available: available, Valid: valid}
		}
		if len(ps.Domains) > 0 || len(ps.Hints) > 0 {
			out[name] = ps
		}
	}
	return out
}

// On subscribes fn to update, commit and reset events of this proxy. The
// returned function unsubscribes. A panicking listener is logged and does
// not interrupt delivery.
func (p *Proxy) On(fn Listener) func() { return p.listeners.add(fn) }

func (p *Proxy) emit(ev Event) {
	if p.listeners.size() == 0 {
		return
	}
	for _, l := range p.listeners.snapshot() {
		p.deliver(l.fn, ev)
	}
}

func (p *Proxy) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error(log.CatProxy, "listener panicked", "proxy", p.id, "event", string(ev.Type), "panic", r)
		}
	}()
	fn(ev)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
