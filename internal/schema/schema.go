// Package schema holds proxy type definitions.
//
// A model maps a type name to its property specs. Keys starting with an
// underscore are metadata: "_tags" lists the tags every instance carries and
// "_mixins" names types whose properties are inlined. Mixins are flattened
// when text is merged, so lookups never walk mixin chains.
//
// Example:
//
//	Person:
//	  _tags: [contact]
//	  _mixins: [Named]
//	  Age:
//	    type: int32
//	    initial: 30
//	    domains:
//	      - type: Range
//	        value_range: [0, 120]
//	Named:
//	  Name:
//	    initial: anonymous
package schema

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/value"
)

// Reserved definition keys.
const (
	KeyTags   = "_tags"
	KeyMixins = "_mixins"
)

// Property types with special handling.
const (
	TypeString = "string"
	TypeProxy  = "proxy"
)

// Size values with special meaning.
const (
	SizeScalar   = 1
	SizeVariable = -1
)

var (
	ErrMalformed   = errors.New("malformed model definition")
	ErrUnknownType = errors.New("unknown proxy type")
)

// IsReserved reports whether a definition key is metadata rather than a property.
func IsReserved(key string) bool {
	return strings.HasPrefix(key, "_")
}

// DomainSpec is the raw configuration of one domain on a property.
type DomainSpec map[string]any

// Kind returns the registered domain kind ("type" key).
func (d DomainSpec) Kind() string {
	s, _ := d["type"].(string)
	return s
}

// Name returns the domain name, defaulting to its kind.
func (d DomainSpec) Name() string {
	if s, ok := d["name"].(string); ok && s != "" {
		return s
	}
	return d.Kind()
}

// Has reports whether key is present.
func (d DomainSpec) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Int returns an integer option, or def when absent or not numeric.
func (d DomainSpec) Int(key string, def int) int {
	if n, ok := toInt(d[key]); ok {
		return n
	}
	return def
}

// String returns a string option, or def when absent.
func (d DomainSpec) String(key, def string) string {
	if s, ok := d[key].(string); ok {
		return s
	}
	return def
}

// Property is the resolved spec of one property.
type Property struct {
	Name string
	// Type defaults to "string". "proxy" properties store the id of another proxy.
	Type string
	// Size is 1 for scalars, N>1 for fixed arrays and -1 for variable arrays.
	Size int
	// Initial is the literal initial value, null when none is declared.
	Initial value.Value
	// InitialDomain is set when the initial is a mapping to be computed by a domain.
	InitialDomain map[string]any
	Domains       []DomainSpec
}

// IsProxy reports whether the property stores a proxy reference.
func (p *Property) IsProxy() bool { return p.Type == TypeProxy }

// IsArray reports whether the property holds a list.
func (p *Property) IsArray() bool { return p.Size == SizeVariable || p.Size > 1 }

// Definition is a flattened type definition.
type Definition struct {
	Name   string
	Tags   []string
	Mixins []string

	props []*Property
	index map[string]*Property
}

// Properties returns property specs in declaration order, mixins last.
func (d *Definition) Properties() []*Property {
	out := make([]*Property, len(d.props))
	copy(out, d.props)
	return out
}

// Property returns the spec for name.
func (d *Definition) Property(name string) (*Property, bool) {
	p, ok := d.index[name]
	return p, ok
}

// PropertyNames returns the names of all properties in order.
func (d *Definition) PropertyNames() []string {
	names := make([]string, len(d.props))
	for i, p := range d.props {
		names[i] = p.Name
	}
	return names
}

// HasTags reports whether the definition declares every tag in tags.
func (d *Definition) HasTags(tags ...string) bool {
	for _, want := range tags {
		found := false
		for _, have := range d.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (d *Definition) put(p *Property) {
	if _, exists := d.index[p.Name]; exists {
		for i, cur := range d.props {
			if cur.Name == p.Name {
				d.props[i] = p
				break
			}
		}
	} else {
		d.props = append(d.props, p)
	}
	d.index[p.Name] = p
}

// rawType is a type as written, kept for export and re-resolution.
type rawType struct {
	keys   []string
	fields map[string]any
}

// Model is the set of loaded type definitions.
type Model struct {
	order    []string
	raw      map[string]*rawType
	resolved map[string]*Definition
}

// New returns an empty model.
func New() *Model {
	return &Model{
		raw:      make(map[string]*rawType),
		resolved: make(map[string]*Definition),
	}
}

// Parse decodes definition text (YAML or JSON) without merging it.
// The returned map holds the raw mapping of every type.
func Parse(text []byte) (map[string]map[string]any, error) {
	types, err := parse(text)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]any, len(types))
	for _, t := range types {
		out[t.name] = t.raw.fields
	}
	return out, nil
}

type namedRaw struct {
	name string
	raw  *rawType
}

func parse(text []byte) ([]namedRaw, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(text, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping of type names", ErrMalformed)
	}

	out := make([]namedRaw, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		body := root.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%w: type %q must be a mapping", ErrMalformed, name)
		}
		rt := &rawType{fields: make(map[string]any, len(body.Content)/2)}
		for j := 0; j+1 < len(body.Content); j += 2 {
			key := body.Content[j].Value
			var v any
			if err := body.Content[j+1].Decode(&v); err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrMalformed, name, key, err)
			}
			if _, dup := rt.fields[key]; !dup {
				rt.keys = append(rt.keys, key)
			}
			rt.fields[key] = v
		}
		out = append(out, namedRaw{name: name, raw: rt})
	}
	return out, nil
}

// Merge parses text and adds or replaces the types it defines, then
// re-resolves mixins for every known type. Previously loaded types are kept.
// It returns the names of the types defined by text.
func (m *Model) Merge(text []byte) ([]string, error) {
	types, err := parse(text)
	if err != nil {
		return nil, err
	}

	// Validate before touching the model so a bad document leaves it intact.
	for _, t := range types {
		if _, err := buildOwn(t.name, t.raw); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(types))
	for _, t := range types {
		if _, exists := m.raw[t.name]; !exists {
			m.order = append(m.order, t.name)
		}
		m.raw[t.name] = t.raw
		names = append(names, t.name)
	}

	if err := m.resolveAll(); err != nil {
		return nil, err
	}
	log.Debug(log.CatSchema, "model merged", "types", strings.Join(names, ","))
	return names, nil
}

func (m *Model) resolveAll() error {
	resolved := make(map[string]*Definition, len(m.raw))
	for _, name := range m.order {
		if _, err := m.resolve(name, resolved, map[string]bool{}); err != nil {
			return err
		}
	}
	m.resolved = resolved
	return nil
}

func (m *Model) resolve(name string, done map[string]*Definition, visiting map[string]bool) (*Definition, error) {
	if d, ok := done[name]; ok {
		return d, nil
	}
	rt, ok := m.raw[name]
	if !ok {
		return nil, nil
	}
	def, err := buildOwn(name, rt)
	if err != nil {
		return nil, err
	}

	visiting[name] = true
	for _, mixin := range def.Mixins {
		if visiting[mixin] {
			log.Warn(log.CatSchema, "mixin cycle ignored", "type", name, "mixin", mixin)
			continue
		}
		src, err := m.resolve(mixin, done, visiting)
		if err != nil {
			return nil, err
		}
		if src == nil {
			log.Warn(log.CatSchema, "unknown mixin", "type", name, "mixin", mixin)
			continue
		}
		for _, p := range src.props {
			def.put(p)
		}
	}
	delete(visiting, name)

	done[name] = def
	return def, nil
}

func buildOwn(name string, rt *rawType) (*Definition, error) {
	def := &Definition{Name: name, index: make(map[string]*Property)}
	for _, key := range rt.keys {
		raw := rt.fields[key]
		switch {
		case key == KeyTags:
			tags, err := stringList(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrMalformed, name, key, err)
			}
			def.Tags = tags
		case key == KeyMixins:
			mixins, err := stringList(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrMalformed, name, key, err)
			}
			def.Mixins = mixins
		case IsReserved(key):
			// other metadata is carried for export only
		default:
			p, err := buildProperty(key, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrMalformed, name, key, err)
			}
			def.put(p)
		}
	}
	return def, nil
}

func buildProperty(name string, raw any) (*Property, error) {
	p := &Property{Name: name, Type: TypeString, Size: SizeScalar}
	if raw == nil {
		return p, nil
	}
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("property spec must be a mapping, got %T", raw)
	}

	if t, ok := fields["type"]; ok {
		s, ok := t.(string)
		if !ok {
			return nil, fmt.Errorf("type must be a string")
		}
		p.Type = s
	}
	if sz, ok := fields["size"]; ok {
		n, ok := toInt(sz)
		if !ok || n == 0 || n < SizeVariable {
			return nil, fmt.Errorf("invalid size %v", sz)
		}
		p.Size = n
	}
	if init, ok := fields["initial"]; ok {
		if mapping, isMap := init.(map[string]any); isMap {
			p.InitialDomain = mapping
		} else {
			v, err := value.FromAny(init)
			if err != nil {
				return nil, fmt.Errorf("initial: %w", err)
			}
			p.Initial = v
		}
	}
	if doms, ok := fields["domains"]; ok && doms != nil {
		list, ok := doms.([]any)
		if !ok {
			return nil, fmt.Errorf("domains must be a list")
		}
		for i, d := range list {
			spec, ok := d.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("domain %d must be a mapping", i)
			}
			p.Domains = append(p.Domains, DomainSpec(spec))
		}
	}
	return p, nil
}

// Definition returns the flattened definition of a type.
func (m *Model) Definition(name string) (*Definition, bool) {
	d, ok := m.resolved[name]
	return d, ok
}

// Has reports whether name is a loaded type.
func (m *Model) Has(name string) bool {
	_, ok := m.resolved[name]
	return ok
}

// Types returns, in load order, the names of types declaring all tags.
func (m *Model) Types(tags ...string) []string {
	out := make([]string, 0, len(m.order))
	for _, name := range m.order {
		if d := m.resolved[name]; d != nil && d.HasTags(tags...) {
			out = append(out, name)
		}
	}
	return out
}

// Export returns the raw definition of every type, as written, in load order.
func (m *Model) Export() *Exported {
	out := &Exported{
		names: append([]string(nil), m.order...),
		types: make(map[string]*rawType, len(m.raw)),
	}
	for name, rt := range m.raw {
		out.types[name] = rt
	}
	return out
}

func stringList(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings")
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func toInt(x any) (int, bool) {
	switch n := x.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
