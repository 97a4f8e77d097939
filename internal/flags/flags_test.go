package flags

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		registry *Registry
		flag     string
		expected bool
	}{
		{"enabled", New(map[string]bool{FlagRecommitAutoCommit: true}), FlagRecommitAutoCommit, true},
		{"disabled", New(map[string]bool{FlagRecommitAutoCommit: false}), FlagRecommitAutoCommit, false},
		{"unknown", New(map[string]bool{"other": true}), FlagRecommitAutoCommit, false},
		{"nil map", New(nil), FlagRecommitAutoCommit, false},
		{"nil registry", nil, FlagRecommitAutoCommit, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.registry.Enabled(tt.flag))
		})
	}
}

func TestRegistry_IsolatedFromSource(t *testing.T) {
	src := map[string]bool{"a": true}
	r := New(src)
	src["a"] = false
	require.True(t, r.Enabled("a"))

	all := r.All()
	all["a"] = false
	require.True(t, r.Enabled("a"))
}

func TestRegistry_Names(t *testing.T) {
	r := New(map[string]bool{"b": true, "a": true, "c": false})
	require.Equal(t, []string{"a", "b"}, r.Names())

	var nilReg *Registry
	require.Nil(t, nilReg.Names())
	require.Empty(t, nilReg.All())
}
