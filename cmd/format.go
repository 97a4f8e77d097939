package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/simput/internal/value"
)

// Formatter writes command results as indented JSON.
type Formatter struct {
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{writer: writer}
}

// Format encodes v as JSON.
func (f *Formatter) Format(v any) error {
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// assignment is one --set argument split into target and value.
type assignment struct {
	Target string
	Name   string
	Value  value.Value
}

// parseAssignment reads "Name=value" or, when qualified is set,
// "id.Name=value". The value is decoded as a YAML scalar or flow sequence,
// so 3 is a number, true a bool and [1, 2] a list.
func parseAssignment(arg string, qualified bool) (assignment, error) {
	key, raw, ok := strings.Cut(arg, "=")
	if !ok || key == "" {
		return assignment{}, fmt.Errorf("invalid assignment %q: expected name=value", arg)
	}

	var a assignment
	a.Name = key
	if qualified {
		target, name, ok := strings.Cut(key, ".")
		if !ok || target == "" || name == "" {
			return assignment{}, fmt.Errorf("invalid assignment %q: expected id.name=value", arg)
		}
		a.Target, a.Name = target, name
	}

	var decoded any
	if strings.TrimSpace(raw) != "" {
		if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
			return assignment{}, fmt.Errorf("invalid value in %q: %w", arg, err)
		}
	}
	v, err := value.FromAny(decoded)
	if err != nil {
		return assignment{}, fmt.Errorf("invalid value in %q: %w", arg, err)
	}
	a.Value = v
	return a, nil
}

// FormatLine encodes v as one line of JSON, for streamed output.
func (f *Formatter) FormatLine(v any) error {
	return json.NewEncoder(f.writer).Encode(v)
}
