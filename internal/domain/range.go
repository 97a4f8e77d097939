package domain

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/schema"
	"github.com/zjrosen/simput/internal/value"
)

// KindRange is the registered name of the numeric range domain.
const KindRange = "Range"

// Range value computations.
const (
	ComputeMean = "mean"
	ComputeMin  = "min"
	ComputeMax  = "max"
)

// Bounds is a numeric interval. A nil side is unconstrained.
type Bounds struct {
	Min *float64
	Max *float64
}

// NewBounds returns the closed interval [lo, hi].
func NewBounds(lo, hi float64) Bounds {
	return Bounds{Min: &lo, Max: &hi}
}

// Contains reports whether f lies within the bounds.
func (b Bounds) Contains(f float64) bool {
	if b.Min != nil && f < *b.Min {
		return false
	}
	if b.Max != nil && f > *b.Max {
		return false
	}
	return true
}

// MarshalJSON encodes the bounds as [min, max].
func (b Bounds) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]*float64{b.Min, b.Max})
}

func (b Bounds) String() string {
	side := func(f *float64) string {
		if f == nil {
			return "None"
		}
		return strconv.FormatFloat(*f, 'g', -1, 64)
	}
	return "[" + side(b.Min) + ", " + side(b.Max) + "]"
}

// RangeSource computes bounds from other properties of the host, for ranges
// declared with `property:`. It returns nil when no range can be computed yet.
type RangeSource func(host Host, property string, component int) *Bounds

// Range constrains a numeric property, or every element of an array property,
// to an interval.
//
//	domains:
//	  - type: Range
//	    value_range: [0, 1]   # static range
//	    initial: mean         # mean | min | max
//	    property: Points      # array property for a dynamic range
//	    component: -1         # component of that array (-1 is magnitude)
type Range struct {
	Base
	compute   string
	sourceFor string
	component int
	static    *Bounds
	source    RangeSource
}

// NewRange is the Constructor for KindRange with no dynamic range support.
func NewRange(host Host, property string, spec schema.DomainSpec) (Domain, error) {
	return newRange(host, property, spec, nil)
}

// RangeWithSource returns a Range constructor that resolves `property:`
// ranges through source.
func RangeWithSource(source RangeSource) Constructor {
	return func(host Host, property string, spec schema.DomainSpec) (Domain, error) {
		return newRange(host, property, spec, source)
	}
}

func newRange(host Host, property string, spec schema.DomainSpec, source RangeSource) (*Range, error) {
	r := &Range{
		Base:      NewBase(host, property, spec, KindRange),
		compute:   ComputeMean,
		sourceFor: spec.String("property", ""),
		component: spec.Int("component", -1),
		source:    source,
	}
	if s, ok := spec["initial"].(string); ok && s != "" {
		r.compute = s
	}
	if raw, ok := spec["value_range"]; ok && raw != nil {
		b, err := parseBounds(raw)
		if err != nil {
			return nil, err
		}
		r.static = &b
	}
	if r.sourceFor != "" {
		r.AddDependency(r.sourceFor)
	}
	return r, nil
}

func parseBounds(raw any) (Bounds, error) {
	list, ok := raw.([]any)
	if !ok || len(list) != 2 {
		return Bounds{}, fmt.Errorf("value_range must be a [min, max] pair")
	}
	var b Bounds
	for i, side := range list {
		if side == nil {
			continue
		}
		v, err := value.FromAny(side)
		if err != nil {
			return Bounds{}, fmt.Errorf("value_range[%d]: %w", i, err)
		}
		f, ok := v.AsNumber()
		if !ok {
			return Bounds{}, fmt.Errorf("value_range[%d] must be a number", i)
		}
		if i == 0 {
			b.Min = &f
		} else {
			b.Max = &f
		}
	}
	return b, nil
}

// Bounds returns the current range, or nil when none can be determined.
func (r *Range) Bounds() *Bounds {
	if r.static != nil {
		return r.static
	}
	if r.source != nil && r.sourceFor != "" {
		return r.source(r.Host(), r.sourceFor, r.component)
	}
	return nil
}

// SetValue assigns the configured statistic of the range, shaped for the
// property size: scalars get the number, variable arrays get [v] and fixed
// arrays get v in their first element.
func (r *Range) SetValue() (bool, error) {
	if !r.Armed() {
		return false, nil
	}
	b := r.Bounds()
	if b == nil {
		return false, nil
	}
	v, ok := r.statistic(*b)
	if !ok {
		return false, nil
	}

	size := schema.SizeScalar
	if spec, ok := r.Host().PropertySpec(r.Property()); ok {
		size = spec.Size
	}

	var next value.Value
	switch {
	case size == schema.SizeVariable:
		next = value.Numbers(v)
	case size > 1:
		if items, ok := r.Value().AsList(); ok && len(items) > 0 {
			items[0] = value.Number(v)
			next = value.List(items...)
		} else {
			next = value.Numbers(v)
		}
	default:
		next = value.Number(v)
	}

	if err := r.Assign(next); err != nil {
		return false, err
	}
	r.Disarm()
	return true, nil
}

func (r *Range) statistic(b Bounds) (float64, bool) {
	switch r.compute {
	case ComputeMean:
		switch {
		case b.Min != nil && b.Max != nil:
			return (*b.Min + *b.Max) * 0.5, true
		case b.Min != nil:
			return *b.Min, true
		case b.Max != nil:
			return *b.Max, true
		}
		return 0, false
	case ComputeMin:
		if b.Min == nil {
			return 0, false
		}
		return *b.Min, true
	case ComputeMax:
		if b.Max == nil {
			return 0, false
		}
		return *b.Max, true
	default:
		log.Error(log.CatDomain, "range cannot compute value, expected mean, min or max",
			"proxy", r.Host().ID(), "property", r.Property(), "compute", r.compute)
		return 0, true
	}
}

func (r *Range) Available() any {
	b := r.Bounds()
	if b == nil {
		return nil
	}
	return *b
}

func (r *Range) Valid(requiredLevel int) bool {
	if r.Level() < requiredLevel {
		return true
	}

	current := r.Value()
	b := r.Bounds()
	if current.IsNull() {
		r.setDynamicMessage(fmt.Sprintf("Undefined value can not be evaluated in %v", b))
		return false
	}
	if b == nil {
		return true
	}

	r.setDynamicMessage(fmt.Sprintf("Value outside of %s", b))
	if items, ok := current.AsList(); ok {
		for _, item := range items {
			if item.IsNull() {
				continue
			}
			f, ok := item.AsNumber()
			if !ok || !b.Contains(f) {
				return false
			}
		}
		return true
	}
	f, ok := current.AsNumber()
	return ok && b.Contains(f)
}

func (r *Range) Hints() []Hint { return HintsFor(r) }
