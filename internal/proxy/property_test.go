package proxy

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/zjrosen/simput/internal/value"
)

var (
	itemProps  = []string{"Label", "Note"}
	itemValues = []value.Value{value.Null(), value.String(""), value.String("a"), value.String("b"), value.Number(1)}
)

func checkDirtyInvariant(t *rapid.T, p *Proxy) {
	dirty := make(map[string]bool)
	for _, name := range p.DirtyProperties() {
		dirty[name] = true
	}
	for _, name := range itemProps {
		differs := !value.Equal(p.Property(name), p.CommittedProperty(name))
		if dirty[name] != differs {
			t.Fatalf("%s: dirty=%v but pending %s vs committed %s",
				name, dirty[name], p.Property(name), p.CommittedProperty(name))
		}
	}
}

// TestProperty_DirtyInvariant checks that after any sequence of edits,
// commits and resets a property is dirty exactly when its pending value
// differs from the committed one.
func TestProperty_DirtyInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := newTestManager(rt)
		p, err := m.Create("Item")
		if err != nil {
			rt.Fatalf("create: %v", err)
		}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 5).Draw(rt, "op") {
			case 0:
				if _, err := p.Commit(); err != nil {
					rt.Fatalf("commit: %v", err)
				}
			case 1:
				if _, err := p.Reset(); err != nil {
					rt.Fatalf("reset: %v", err)
				}
			default:
				name := rapid.SampledFrom(itemProps).Draw(rt, "name")
				v := rapid.SampledFrom(itemValues).Draw(rt, "value")
				if _, err := p.SetProperty(name, v); err != nil {
					rt.Fatalf("set: %v", err)
				}
			}
			checkDirtyInvariant(rt, p)
		}
	})
}

// TestProperty_CommitThenResetIsStable checks commit idempotence and that a
// reset restores the committed values.
func TestProperty_CommitThenResetIsStable(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := newTestManager(rt)
		p, err := m.Create("Item")
		if err != nil {
			rt.Fatalf("create: %v", err)
		}

		edits := rapid.IntRange(0, 6).Draw(rt, "edits")
		for i := 0; i < edits; i++ {
			name := rapid.SampledFrom(itemProps).Draw(rt, "name")
			_, _ = p.SetProperty(name, rapid.SampledFrom(itemValues).Draw(rt, "value"))
		}
		wasDirty := p.IsDirty()

		first, _ := p.Commit()
		snapshot := p.State().Properties
		second, _ := p.Commit()
		if first != wasDirty || second {
			rt.Fatalf("commit results %v then %v, dirty before %v", first, second, wasDirty)
		}

		for i := 0; i < edits; i++ {
			name := rapid.SampledFrom(itemProps).Draw(rt, "name")
			_, _ = p.SetProperty(name, rapid.SampledFrom(itemValues).Draw(rt, "value"))
		}
		_, _ = p.Reset()
		if p.IsDirty() {
			rt.Fatalf("dirty after reset: %v", p.DirtyProperties())
		}
		for _, name := range itemProps {
			if !value.Equal(snapshot[name], p.Property(name)) {
				rt.Fatalf("%s: reset gave %s, committed was %s", name, p.Property(name), snapshot[name])
			}
		}
	})
}
