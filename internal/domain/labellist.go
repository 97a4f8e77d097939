package domain

import (
	"fmt"

	"github.com/zjrosen/simput/internal/schema"
	"github.com/zjrosen/simput/internal/value"
)

// KindLabelList is the registered name of the enumerated-choice domain.
const KindLabelList = "LabelList"

// Item is one choice of a LabelList.
type Item struct {
	Text  string      `json:"text"`
	Value value.Value `json:"value"`
}

// LabelList restricts a property to a static list of choices.
//
//	domains:
//	  - type: LabelList
//	    values:
//	      - {text: Red, value: r}
//	      - {text: Green, value: g}
type LabelList struct {
	Base
	items []Item
}

// NewLabelList is the Constructor for KindLabelList.
func NewLabelList(host Host, property string, spec schema.DomainSpec) (Domain, error) {
	items, err := parseItems(spec["values"])
	if err != nil {
		return nil, err
	}
	return &LabelList{
		Base:  NewBase(host, property, spec, KindLabelList),
		items: items,
	}, nil
}

func parseItems(raw any) ([]Item, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("values must be a list, got %T", raw)
	}
	items := make([]Item, 0, len(list))
	for i, entry := range list {
		fields, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("values[%d] must be a mapping", i)
		}
		v, err := value.FromAny(fields["value"])
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		text, _ := fields["text"].(string)
		items = append(items, Item{Text: text, Value: v})
	}
	return items, nil
}

// Items returns a copy of the choices.
func (l *LabelList) Items() []Item {
	out := make([]Item, len(l.items))
	copy(out, l.items)
	return out
}

// SetValue assigns the first choice once.
func (l *LabelList) SetValue() (bool, error) {
	if !l.Armed() || len(l.items) == 0 {
		return false, nil
	}
	l.Disarm()
	if err := l.Assign(l.items[0].Value); err != nil {
		return false, err
	}
	return true, nil
}

func (l *LabelList) Available() any {
	if len(l.items) == 0 {
		return nil
	}
	return l.Items()
}

func (l *LabelList) Valid(requiredLevel int) bool {
	if l.Level() < requiredLevel {
		return true
	}
	current := l.Value()
	for _, item := range l.items {
		if value.Equal(item.Value, current) {
			return true
		}
	}
	return false
}

func (l *LabelList) Hints() []Hint { return HintsFor(l) }
