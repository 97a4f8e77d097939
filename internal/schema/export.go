package schema

import (
	"bytes"
	"encoding/json"
)

// Exported is a snapshot of the raw type definitions of a model. It encodes
// as a JSON object that keeps type load order and the key order of each
// definition, so text exported by one model merges into another unchanged.
type Exported struct {
	names []string
	types map[string]*rawType
}

// Names returns the type names in load order.
func (e *Exported) Names() []string {
	return append([]string(nil), e.names...)
}

// Fields returns the raw mapping of a type.
func (e *Exported) Fields(name string) (map[string]any, bool) {
	rt, ok := e.types[name]
	if !ok {
		return nil, false
	}
	return rt.fields, true
}

// Keys returns the keys of a type in source order.
func (e *Exported) Keys(name string) []string {
	rt, ok := e.types[name]
	if !ok {
		return nil
	}
	return append([]string(nil), rt.keys...)
}

func (e *Exported) Len() int { return len(e.names) }

func (e *Exported) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range e.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, name); err != nil {
			return nil, err
		}
		if err := e.types[name].writeJSON(&buf); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an exported model keeping its order.
func (e *Exported) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	types, err := parse(data)
	if err != nil {
		return err
	}
	e.names = make([]string, 0, len(types))
	e.types = make(map[string]*rawType, len(types))
	for _, t := range types {
		if _, dup := e.types[t.name]; !dup {
			e.names = append(e.names, t.name)
		}
		e.types[t.name] = t.raw
	}
	return nil
}

func (rt *rawType) writeJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, key := range rt.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(buf, key); err != nil {
			return err
		}
		v, err := json.Marshal(rt.fields[key])
		if err != nil {
			return err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	return nil
}
