// Package flags provides feature flags read from configuration.
// Flags are read-only after initialization and unknown flags are disabled.
package flags

import (
	"maps"
	"sort"

	"github.com/zjrosen/simput/internal/log"
)

const (
	// FlagRecommitAutoCommit re-commits auto_commit proxies whose domains
	// changed them after an apply.
	FlagRecommitAutoCommit = "recommit-auto-commit"

	// FlagDomainStateInEvents attaches domain state to apply results streamed
	// by the watch command.
	FlagDomainStateInEvents = "domain-state-in-events"
)

// Registry holds feature flag state loaded from configuration.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map. A nil map disables every flag.
func New(flags map[string]bool) *Registry {
	r := &Registry{flags: make(map[string]bool, len(flags))}
	maps.Copy(r.flags, flags)
	log.Debug(log.CatConfig, "feature flags initialized", "count", len(r.flags), "flags", r.Names())
	return r
}

// Enabled reports whether the named flag is on. Unknown flags and a nil
// registry report false.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	v, ok := r.flags[name]
	if !ok {
		log.Debug(log.CatConfig, "unknown flag accessed", "flag", name)
	}
	return v
}

// All returns a copy of all flags.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return map[string]bool{}
	}
	return maps.Clone(r.flags)
}

// Names returns the enabled flag names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	var names []string
	for name, on := range r.flags {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
