package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/schema"
	"github.com/zjrosen/simput/internal/value"
)

// State is the serializable form of a proxy.
type State struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Name       string                 `json:"name,omitempty"`
	MTime      uint64                 `json:"mtime"`
	Tags       []string               `json:"tags"`
	Own        []string               `json:"own"`
	Properties map[string]value.Value `json:"properties"`
}

// Document is the exported form of a manager: its raw type definitions in
// load order and the state of every proxy.
type Document struct {
	Model   *schema.Exported `json:"model"`
	Proxies []State          `json:"proxies"`
}

// State returns the pending state of the proxy.
func (p *Proxy) State() State {
	props := make(map[string]value.Value, len(p.pending))
	for _, name := range p.PropertyNames() {
		props[name] = p.pending[name]
	}
	return State{
		ID:         p.id,
		Type:       p.typ,
		Name:       p.name,
		MTime:      p.mtime,
		Tags:       p.Tags(),
		Own:        p.Own(),
		Properties: props,
	}
}

// SetState replaces the owned ids, adds the tags and sets every property
// listed in s. Properties unknown to the type are skipped. The id, type and
// mtime of s are ignored.
func (p *Proxy) SetState(s State) error {
	if s.Name != "" {
		p.name = s.Name
	}
	p.own = make(map[string]struct{}, len(s.Own))
	p.AddOwn(s.Own...)
	p.AddTags(s.Tags...)

	for _, name := range p.PropertyNames() {
		v, ok := s.Properties[name]
		if !ok {
			continue
		}
		if _, err := p.SetProperty(name, v); err != nil {
			return err
		}
	}
	for name := range s.Properties {
		if _, ok := p.PropertySpec(name); !ok {
			log.Warn(log.CatStore, "state property not in schema", "proxy", p.id, "type", p.typ, "property", name)
		}
	}
	return nil
}

// RemapIDs rewrites owned ids and proxy-typed property values through idMap.
// Every id found must be in idMap.
func (p *Proxy) RemapIDs(idMap map[string]string) error {
	own := make(map[string]struct{}, len(p.own))
	for old := range p.own {
		next, ok := idMap[old]
		if !ok {
			return fmt.Errorf("%w: %s owns %s", ErrDanglingReference, p.id, old)
		}
		own[next] = struct{}{}
	}
	p.own = own

	def := p.Definition()
	if def == nil {
		return nil
	}
	for _, spec := range def.Properties() {
		if !spec.IsProxy() {
			continue
		}
		old := p.pending[spec.Name].Text()
		if old == "" {
			continue
		}
		next, ok := idMap[old]
		if !ok {
			return fmt.Errorf("%w: %s.%s references %s", ErrDanglingReference, p.id, spec.Name, old)
		}
		if _, err := p.SetProperty(spec.Name, value.Ref(next)); err != nil {
			return err
		}
	}
	return nil
}

// Export returns the model and the state of every proxy in creation order.
func (m *Manager) Export() *Document {
	doc := &Document{Model: m.model.Export()}
	for _, p := range m.Proxies() {
		doc.Proxies = append(doc.Proxies, p.State())
	}
	if doc.Proxies == nil {
		doc.Proxies = []State{}
	}
	return doc
}

// Save writes the exported document as JSON to w.
func (m *Manager) Save(w io.Writer) error {
	return m.save("", w)
}

// SaveFile writes the exported document as JSON to path.
func (m *Manager) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	if err := m.save(path, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Dump returns the exported document as JSON.
func (m *Manager) Dump() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Manager) save(destination string, w io.Writer) error {
	m.notify(func(l Lifecycle) { l.ExportBefore(destination) })
	doc := m.Export()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	m.notify(func(l Lifecycle) { l.ExportAfter(destination, doc) })
	return nil
}

// Load reads an exported document from r. Model definitions are merged, then
// every proxy is re-created under a fresh id with owned ids and references
// rewritten. The new ids are returned in document order. On error the
// proxies created so far are discarded.
func (m *Manager) Load(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	return m.load("", data)
}

// LoadFile reads an exported document from path.
func (m *Manager) LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return m.load(path, data)
}

func (m *Manager) load(source string, data []byte) ([]string, error) {
	m.notify(func(l Lifecycle) { l.ImportBefore(source, data) })

	var raw struct {
		Model   json.RawMessage `json:"model"`
		Proxies []State         `json:"proxies"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	doc := &Document{Proxies: raw.Proxies}
	hasModel := len(raw.Model) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Model), []byte("null"))
	if hasModel {
		doc.Model = &schema.Exported{}
		if err := json.Unmarshal(raw.Model, doc.Model); err != nil {
			return nil, fmt.Errorf("%w: model: %v", ErrMalformedDocument, err)
		}
	}
	m.notify(func(l Lifecycle) { l.ImportBeforeProcessing(source, doc) })

	if hasModel {
		if err := m.LoadModel(raw.Model); err != nil {
			return nil, err
		}
	}

	idMap := make(map[string]string, len(doc.Proxies))
	created := make([]*Proxy, 0, len(doc.Proxies))
	fail := func(err error) ([]string, error) {
		for _, p := range created {
			m.unregister(p)
		}
		return nil, err
	}

	for _, s := range doc.Proxies {
		p, err := m.create(s.Type, false)
		if err != nil {
			return fail(err)
		}
		created = append(created, p)
		idMap[s.ID] = p.id
		if err := p.SetState(s); err != nil {
			return fail(err)
		}
	}
	for _, p := range created {
		if err := p.RemapIDs(idMap); err != nil {
			return fail(err)
		}
		if _, err := p.Commit(); err != nil {
			return fail(err)
		}
	}

	newIDs := make([]string, len(created))
	for i, p := range created {
		newIDs[i] = p.id
		m.CleanProxyDomains(p.id)
	}
	m.notify(func(l Lifecycle) { l.ImportAfter(source, doc, newIDs, idMap) })
	log.Info(log.CatStore, "state loaded", "manager", m.id, "source", source, "proxies", len(newIDs))
	m.emit(Event{Type: EventCreated, IDs: newIDs})
	return newIDs, nil
}
