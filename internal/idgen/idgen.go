// Package idgen hands out monotonically increasing string identifiers.
package idgen

import (
	"strconv"
	"sync/atomic"
)

// Generator produces "<prefix><n>" identifiers starting at n=1.
// It is safe for concurrent use and never repeats a value.
type Generator struct {
	prefix string
	next   atomic.Uint64
}

var shared = New("")

// Shared returns the process-wide generator used by managers that are not
// given one.
func Shared() *Generator { return shared }

// New returns a generator whose ids carry prefix.
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// Next returns the next identifier.
func (g *Generator) Next() string {
	return g.prefix + strconv.FormatUint(g.next.Add(1), 10)
}

// Prefix returns the configured prefix.
func (g *Generator) Prefix() string { return g.prefix }
