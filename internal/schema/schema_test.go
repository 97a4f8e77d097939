package schema

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/simput/internal/value"
)

const personModel = `
Person:
  _tags: [contact, editable]
  _mixins: [Named]
  Age:
    type: int32
    initial: 30
    domains:
      - type: Range
        value_range: [0, 120]
  Friend:
    type: proxy
Named:
  Name:
    initial: anonymous
Address:
  _tags: [contact]
  Street: {}
  Point:
    type: float64
    size: 3
    initial: [0, 0, 0]
`

func mustModel(t *testing.T, text string) *Model {
	t.Helper()
	m := New()
	_, err := m.Merge([]byte(text))
	require.NoError(t, err)
	return m
}

func TestMerge_ParsesProperties(t *testing.T) {
	m := mustModel(t, personModel)

	def, ok := m.Definition("Person")
	require.True(t, ok)
	require.Equal(t, []string{"contact", "editable"}, def.Tags)
	require.Equal(t, []string{"Age", "Friend", "Name"}, def.PropertyNames())

	age, ok := def.Property("Age")
	require.True(t, ok)
	require.Equal(t, "int32", age.Type)
	require.True(t, value.Equal(value.Int(30), age.Initial))
	require.Len(t, age.Domains, 1)
	require.Equal(t, "Range", age.Domains[0].Kind())
	require.Equal(t, "Range", age.Domains[0].Name())

	friend, _ := def.Property("Friend")
	require.True(t, friend.IsProxy())
	require.True(t, friend.Initial.IsNull())

	street, _ := m.Definition("Address")
	st, ok := street.Property("Street")
	require.True(t, ok)
	require.Equal(t, TypeString, st.Type)
	require.Equal(t, SizeScalar, st.Size)

	pt, _ := street.Property("Point")
	require.True(t, pt.IsArray())
	require.Equal(t, 3, pt.Size)
}

func TestMerge_ReservedKeysAreNotProperties(t *testing.T) {
	m := mustModel(t, `
Thing:
  _label: hidden
  _tags: [a]
  Visible: {}
`)
	def, _ := m.Definition("Thing")
	require.Equal(t, []string{"Visible"}, def.PropertyNames())
	_, ok := def.Property("_label")
	require.False(t, ok)
	require.True(t, IsReserved("_anything"))
	require.False(t, IsReserved("Name"))
}

func TestMerge_MixinOrderIndependent(t *testing.T) {
	// The mixin target is declared after the importing type and in a later document.
	m := New()
	_, err := m.Merge([]byte(`
Circle:
  _mixins: [Shape]
  Radius: {initial: 1}
`))
	require.NoError(t, err)

	def, _ := m.Definition("Circle")
	require.Equal(t, []string{"Radius"}, def.PropertyNames())

	_, err = m.Merge([]byte(`
Shape:
  _mixins: [Colored]
  Area: {}
Colored:
  Color: {initial: red}
`))
	require.NoError(t, err)

	def, _ = m.Definition("Circle")
	require.Equal(t, []string{"Radius", "Area", "Color"}, def.PropertyNames())
}

func TestMerge_LaterMixinOverwrites(t *testing.T) {
	m := mustModel(t, `
A:
  V: {initial: a}
B:
  V: {initial: b}
C:
  _mixins: [A, B]
  V: {initial: own}
`)
	def, _ := m.Definition("C")
	v, _ := def.Property("V")
	require.True(t, value.Equal(value.String("b"), v.Initial))
	require.Equal(t, []string{"V"}, def.PropertyNames())
}

func TestMerge_MixinCycleTerminates(t *testing.T) {
	m := mustModel(t, `
A:
  _mixins: [B]
  X: {}
B:
  _mixins: [A]
  Y: {}
`)
	a, _ := m.Definition("A")
	require.ElementsMatch(t, []string{"X", "Y"}, a.PropertyNames())
	b, _ := m.Definition("B")
	require.Contains(t, b.PropertyNames(), "Y")
}

func TestMerge_KeepsPreviousTypes(t *testing.T) {
	m := mustModel(t, personModel)
	_, err := m.Merge([]byte("Extra:\n  Foo: {}\n"))
	require.NoError(t, err)

	require.True(t, m.Has("Person"))
	require.True(t, m.Has("Extra"))
	require.Equal(t, []string{"Person", "Named", "Address", "Extra"}, m.Types())
}

func TestMerge_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not yaml", "Person: [unclosed"},
		{"top level list", "- a\n- b\n"},
		{"type not mapping", "Person: 3\n"},
		{"property not mapping", "Person:\n  Age: 3\n"},
		{"bad size", "Person:\n  Age: {size: 0}\n"},
		{"bad tags", "Person:\n  _tags: 3\n"},
		{"bad domains", "Person:\n  Age: {domains: 3}\n"},
		{"map inside initial list", "Person:\n  Age: {initial: [{a: 1}]}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			_, err := m.Merge([]byte(tt.text))
			require.ErrorIs(t, err, ErrMalformed)
			require.Empty(t, m.Types())
		})
	}
}

func TestMerge_DomainInitial(t *testing.T) {
	m := mustModel(t, `
T:
  P:
    initial: {domain: Range}
`)
	def, _ := m.Definition("T")
	p, _ := def.Property("P")
	require.NotNil(t, p.InitialDomain)
	require.True(t, p.Initial.IsNull())
}

func TestTypes_FilterByTags(t *testing.T) {
	m := mustModel(t, personModel)

	require.Equal(t, []string{"Person", "Address"}, m.Types("contact"))
	require.Equal(t, []string{"Person"}, m.Types("contact", "editable"))
	require.Empty(t, m.Types("missing"))
	require.Len(t, m.Types(), 3)
}

func TestExport_KeepsRawDefinition(t *testing.T) {
	m := mustModel(t, personModel)
	raw := m.Export()

	person, ok := raw.Fields("Person")
	require.True(t, ok)
	require.Equal(t, []any{"Named"}, person[KeyMixins])
	// Mixin properties are not inlined in the raw form.
	require.NotContains(t, person, "Name")
}

func TestExport_JSONKeepsOrder(t *testing.T) {
	m := mustModel(t, `
Box:
  Zeta: {type: int32}
  Alpha: {initial: a}
  _tags: [shape]
  Mid: {size: 3}
Aardvark:
  Name: {}
`)
	data, err := json.Marshal(m.Export())
	require.NoError(t, err)
	require.Less(t, bytes.Index(data, []byte(`"Box"`)), bytes.Index(data, []byte(`"Aardvark"`)))

	var decoded Exported
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, []string{"Box", "Aardvark"}, decoded.Names())
	require.Equal(t, []string{"Zeta", "Alpha", KeyTags, "Mid"}, decoded.Keys("Box"))

	other := New()
	_, err = other.Merge(data)
	require.NoError(t, err)
	box, ok := other.Definition("Box")
	require.True(t, ok)
	require.Equal(t, []string{"Zeta", "Alpha", "Mid"}, box.PropertyNames())
	require.Equal(t, []string{"Box", "Aardvark"}, other.Types())
}

func TestExported_UnmarshalNull(t *testing.T) {
	var e Exported
	require.NoError(t, json.Unmarshal([]byte("null"), &e))
	require.Zero(t, e.Len())
}

func TestParse_JSON(t *testing.T) {
	raw, err := Parse([]byte(`{"T": {"P": {"type": "proxy"}}}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"type": "proxy"}, raw["T"]["P"])
}

func TestDomainSpec_Options(t *testing.T) {
	spec := DomainSpec{"type": "Range", "name": "limits", "level": 2, "initial": "min"}
	require.Equal(t, "limits", spec.Name())
	require.Equal(t, 2, spec.Int("level", 0))
	require.Equal(t, 0, spec.Int("missing", 0))
	require.Equal(t, "min", spec.String("initial", "mean"))
	require.True(t, spec.Has("initial"))
	require.False(t, spec.Has("values"))
}
