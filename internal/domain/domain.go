// Package domain implements property domains: rules bound to one property of
// a proxy that compute default values, list the legal values, and report
// whether the current value is acceptable.
//
// Domains hold no property data. They read and write through the Host they
// are bound to, so the proxy keeps dirty tracking and change events intact.
//
// # Built-in kinds
//
//   - LabelList: a static list of {text, value} choices. The first value is
//     assigned once when a value is requested; validity is list membership.
//   - Range: a static [min, max] interval (either side may be null). The
//     assigned value is the mean, min or max of the interval and validity
//     checks every element of array properties.
//
// New kinds are added to a Registry with Register. Kinds that only affect
// presentation are deny-listed with Skip so schemas using them still load.
package domain

import (
	"github.com/zjrosen/simput/internal/schema"
	"github.com/zjrosen/simput/internal/value"
)

// Severity levels of a domain.
const (
	LevelInfo    = 0
	LevelWarning = 1
	LevelError   = 2
)

// Host is the proxy side of a domain binding.
type Host interface {
	ID() string
	Type() string
	Property(name string) value.Value
	SetProperty(name string, v value.Value) (bool, error)
	PropertySpec(name string) (*schema.Property, bool)
}

// Hint describes why a value failed validation.
type Hint struct {
	Level   int    `json:"level"`
	Message string `json:"message"`
}

// Domain is a rule bound to one (proxy, property) pair.
type Domain interface {
	// Property is the name of the bound property.
	Property() string
	// DependentProperties lists the properties whose change invalidates the domain.
	DependentProperties() []string
	Level() int
	SetLevel(level int)
	Message() string
	SetMessage(msg string)
	// EnableSetValue re-arms the domain so the next SetValue recomputes.
	EnableSetValue()
	// SetValue assigns a computed value when armed and reports whether it did.
	SetValue() (bool, error)
	// Available returns the legal values, or nil when unconstrained or unknown.
	Available() any
	// Valid reports whether the domain's level is below requiredLevel or the
	// current value satisfies the domain.
	Valid(requiredLevel int) bool
	// Hints is empty when Valid(-1) holds, otherwise one entry.
	Hints() []Hint
}

// State is the serializable summary of one domain.
type State struct {
	Available any  `json:"available"`
	Valid     bool `json:"valid"`
}

// PropertyState summarizes every domain of one property.
type PropertyState struct {
	Domains map[string]State `json:"domains,omitempty"`
	Hints   []Hint           `json:"hints"`
}

// Base carries the state shared by every domain kind. Kinds embed it and
// implement SetValue, Available, Valid and Hints.
type Base struct {
	host       Host
	property   string
	dependents []string
	level      int
	message    string
	configured bool
	recompute  bool
}

// NewBase binds a domain to host.property using the common spec keys
// (level, message, initial). The domain is armed when the spec carries an
// initial or when the property is still null.
func NewBase(host Host, property string, spec schema.DomainSpec, defaultMessage string) Base {
	b := Base{
		host:       host,
		property:   property,
		dependents: []string{property},
		level:      spec.Int("level", LevelInfo),
		message:    defaultMessage,
	}
	if msg := spec.String("message", ""); msg != "" {
		b.message = msg
		b.configured = true
	}
	b.recompute = spec.Has("initial") || host.Property(property).IsNull()
	return b
}

func (b *Base) Host() Host         { return b.host }
func (b *Base) Property() string   { return b.property }
func (b *Base) Level() int         { return b.level }
func (b *Base) SetLevel(level int) { b.level = level }
func (b *Base) Message() string    { return b.message }
func (b *Base) EnableSetValue()    { b.recompute = true }

func (b *Base) SetMessage(msg string) {
	b.message = msg
	b.configured = true
}

func (b *Base) DependentProperties() []string {
	out := make([]string, len(b.dependents))
	copy(out, b.dependents)
	return out
}

// AddDependency declares another property the domain reads.
func (b *Base) AddDependency(name string) {
	for _, d := range b.dependents {
		if d == name {
			return
		}
	}
	b.dependents = append(b.dependents, name)
}

// Value returns the current value of the bound property.
func (b *Base) Value() value.Value { return b.host.Property(b.property) }

// Assign writes v to the bound property.
func (b *Base) Assign(v value.Value) error {
	_, err := b.host.SetProperty(b.property, v)
	return err
}

// Armed reports whether the next SetValue should compute a value.
func (b *Base) Armed() bool { return b.recompute }

// Disarm clears the recompute flag.
func (b *Base) Disarm() { b.recompute = false }

// setDynamicMessage replaces the message unless one was configured.
func (b *Base) setDynamicMessage(msg string) {
	if !b.configured {
		b.message = msg
	}
}

// HintsFor builds the hint list of d from Valid(-1).
func HintsFor(d Domain) []Hint {
	if d.Valid(-1) {
		return []Hint{}
	}
	return []Hint{{Level: d.Level(), Message: d.Message()}}
}
