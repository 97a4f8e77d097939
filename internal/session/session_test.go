package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/simput/internal/domain"
	"github.com/zjrosen/simput/internal/flags"
	"github.com/zjrosen/simput/internal/proxy"
	"github.com/zjrosen/simput/internal/pubsub"
	"github.com/zjrosen/simput/internal/schema"
	"github.com/zjrosen/simput/internal/tracing"
	"github.com/zjrosen/simput/internal/value"
)

const sessionModel = `
Linked:
  _tags: [auto_commit]
  Source:
    type: int32
  Copy:
    type: int32
    domains:
      - type: Mirror
        property: Source
Plain:
  Source:
    type: int32
  Copy:
    type: int32
    domains:
      - type: Mirror
        property: Source
Choice:
  Mode:
    domains:
      - type: LabelList
        values:
          - {text: X, value: x}
          - {text: Y, value: y}
Flip:
  On:
    type: bool
    initial: false
    domains:
      - type: Flip
`

// mirror copies another property of the same proxy whenever they differ.
type mirror struct {
	domain.Base
	source string
}

func newMirror(h domain.Host, property string, spec schema.DomainSpec) (domain.Domain, error) {
	d := &mirror{Base: domain.NewBase(h, property, spec, "Mirror"), source: spec.String("property", "")}
	d.AddDependency(d.source)
	return d, nil
}

func (d *mirror) SetValue() (bool, error) {
	src := d.Host().Property(d.source)
	if value.Equal(src, d.Value()) {
		return false, nil
	}
	return true, d.Assign(src)
}

func (d *mirror) Available() any       { return nil }
func (d *mirror) Valid(int) bool       { return true }
func (d *mirror) Hints() []domain.Hint { return domain.HintsFor(d) }

// flip inverts its value every time it is asked once armed.
type flip struct {
	domain.Base
}

func newFlip(h domain.Host, property string, spec schema.DomainSpec) (domain.Domain, error) {
	return &flip{Base: domain.NewBase(h, property, spec, "Flip")}, nil
}

func (d *flip) SetValue() (bool, error) {
	if !d.Armed() {
		return false, nil
	}
	b, _ := d.Value().AsBool()
	return true, d.Assign(value.Bool(!b))
}

func (d *flip) Available() any       { return nil }
func (d *flip) Valid(int) bool       { return true }
func (d *flip) Hints() []domain.Hint { return domain.HintsFor(d) }

func testDomains(t *testing.T) *domain.Registry {
	t.Helper()
	reg := domain.NewRegistry()
	require.NoError(t, reg.Register("Mirror", newMirror))
	require.NoError(t, reg.Register("Flip", newFlip))
	return reg
}

func newTestSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	mgr := proxy.NewManager(proxy.WithDomainRegistry(testDomains(t)), proxy.WithMaxDomainPasses(4))
	require.NoError(t, mgr.LoadModel([]byte(sessionModel)))
	s := New("test", mgr, opts...)
	t.Cleanup(s.Close)
	return s
}

func create(t *testing.T, s *Session, typeName string) string {
	t.Helper()
	st, err := s.Create(context.Background(), typeName)
	require.NoError(t, err)
	return st.ID
}

func TestApply_DomainsRunAfterAutoCommit(t *testing.T) {
	s := newTestSession(t)
	id := create(t, s, "Linked")

	res, err := s.Apply(context.Background(), []proxy.Change{{ID: id, Name: "Source", Value: value.Int(5)}})
	require.NoError(t, err)
	require.Equal(t, []string{id}, res.Touched)
	require.Equal(t, 2, res.Passes)
	require.Empty(t, res.Recommitted)

	// Source was committed by the update; Copy was set by the domain later
	// and is still pending.
	require.NoError(t, s.Do(func(m *proxy.Manager) error {
		p := m.Get(id)
		require.True(t, value.Equal(value.Int(5), p.CommittedProperty("Source")))
		require.True(t, value.Equal(value.Int(5), p.Property("Copy")))
		require.Equal(t, []string{"Copy"}, p.DirtyProperties())
		return nil
	}))
}

func TestApply_RecommitsAutoCommitProxies(t *testing.T) {
	s := newTestSession(t, WithFlags(flags.New(map[string]bool{flags.FlagRecommitAutoCommit: true})))
	id := create(t, s, "Linked")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	events := s.Subscribe(ctx)

	res, err := s.Apply(ctx, []proxy.Change{{ID: id, Name: "Source", Value: value.Int(5)}})
	require.NoError(t, err)
	require.Equal(t, []string{id}, res.Recommitted)

	got := pubsub.Collect(ctx, events, 3)
	require.Len(t, got, 3)
	require.Equal(t, pubsub.CommittedEvent, got[0].Type)
	require.Equal(t, pubsub.ChangedEvent, got[1].Type)
	require.Equal(t, pubsub.CommittedEvent, got[2].Type)
	require.Equal(t, []string{id}, got[2].Payload.IDs)

	st, ok := s.Get(id)
	require.True(t, ok)
	require.True(t, value.Equal(value.Int(5), st.Properties["Copy"]))
	require.NoError(t, s.Do(func(m *proxy.Manager) error {
		require.False(t, m.Get(id).IsDirty())
		return nil
	}))
}

func TestApply_WithoutAutoCommitLeavesEditsPending(t *testing.T) {
	s := newTestSession(t, WithFlags(flags.New(map[string]bool{flags.FlagRecommitAutoCommit: true})))
	id := create(t, s, "Plain")

	res, err := s.Apply(context.Background(), []proxy.Change{{ID: id, Name: "Source", Value: value.Int(2)}})
	require.NoError(t, err)
	require.Empty(t, res.Recommitted)

	ids, err := s.CommitAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)

	st, _ := s.Get(id)
	require.True(t, value.Equal(value.Int(2), st.Properties["Copy"]))
}

func TestApply_ValidationFailsBeforeAnyEdit(t *testing.T) {
	s := newTestSession(t)
	id := create(t, s, "Plain")

	_, err := s.Apply(context.Background(), []proxy.Change{
		{ID: id, Name: "Source", Value: value.Int(1)},
		{ID: id, Name: "Missing", Value: value.Int(1)},
	})
	require.ErrorIs(t, err, proxy.ErrUnknownProperty)

	st, _ := s.Get(id)
	require.True(t, st.Properties["Source"].IsNull())
}

func TestRefresh_ReappliesDomain(t *testing.T) {
	s := newTestSession(t)
	id := create(t, s, "Choice")
	ctx := context.Background()

	_, err := s.Apply(ctx, []proxy.Change{{ID: id, Name: "Mode", Value: value.String("y")}})
	require.NoError(t, err)
	st, _ := s.Get(id)
	require.True(t, value.Equal(value.String("y"), st.Properties["Mode"]))

	res, err := s.Refresh(ctx, id, "Mode")
	require.NoError(t, err)
	require.Equal(t, []string{id}, res.Touched)
	st, _ = s.Get(id)
	require.True(t, value.Equal(value.String("x"), st.Properties["Mode"]))

	state, err := s.DomainState(id)
	require.NoError(t, err)
	require.Contains(t, state, "Mode")
}

func TestRefresh_Errors(t *testing.T) {
	s := newTestSession(t)
	id := create(t, s, "Choice")
	ctx := context.Background()

	_, err := s.Refresh(ctx, "404", "")
	require.ErrorIs(t, err, proxy.ErrNotFound)
	_, err = s.Refresh(ctx, id, "Nope")
	require.ErrorIs(t, err, proxy.ErrUnknownProperty)
	_, err = s.DomainState("404")
	require.ErrorIs(t, err, proxy.ErrNotFound)
}

func TestRefresh_CycleIsReported(t *testing.T) {
	s := newTestSession(t)
	id := create(t, s, "Flip")

	_, err := s.Refresh(context.Background(), id, "On")
	require.ErrorIs(t, err, proxy.ErrDomainCycle)
}

func TestResetAll(t *testing.T) {
	s := newTestSession(t)
	id := create(t, s, "Plain")
	ctx := context.Background()

	_, err := s.Apply(ctx, []proxy.Change{{ID: id, Name: "Source", Value: value.Int(9)}})
	require.NoError(t, err)
	ids, err := s.ResetAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{id}, ids)

	st, _ := s.Get(id)
	require.True(t, st.Properties["Source"].IsNull())
}

func TestSaveLoadDelete(t *testing.T) {
	src := newTestSession(t)
	id := create(t, src, "Choice")
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, src.Save(&buf))
	require.NoError(t, src.Delete(ctx, id))
	_, ok := src.Get(id)
	require.False(t, ok)
	require.ErrorIs(t, src.Delete(ctx, id), proxy.ErrNotFound)

	dst := newTestSession(t)
	ids, err := dst.Load(ctx, &buf)
	require.NoError(t, err)
	require.Len(t, ids, 1)
}

func TestClose(t *testing.T) {
	s := newTestSession(t)
	ctx := context.Background()
	events := s.Subscribe(ctx)

	s.Close()
	s.Close()

	_, open := <-events
	require.False(t, open)
	_, err := s.Create(ctx, "Plain")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.LoadModel([]byte("A: {}")), ErrClosed)
}

func TestApply_RecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	s := newTestSession(t, WithTracer(tp.Tracer("test")))
	id := create(t, s, "Linked")

	_, err := s.Apply(context.Background(), []proxy.Change{{ID: id, Name: "Source", Value: value.Int(1)}})
	require.NoError(t, err)

	names := make(map[string]int)
	var apply sdktrace.ReadOnlySpan
	for _, span := range rec.Ended() {
		names[span.Name()]++
		if span.Name() == tracing.SpanSessionApply {
			apply = span
		}
	}
	require.Equal(t, 1, names[tracing.SpanSessionCreate])
	require.Equal(t, 2, names[tracing.SpanDomainPass])
	require.NotNil(t, apply)

	var events []string
	for _, ev := range apply.Events() {
		events = append(events, ev.Name)
	}
	require.Equal(t, []string{tracing.EventAutoCommitted, tracing.EventConverged}, events)

	attrs := make(map[string]any)
	for _, kv := range apply.Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	require.Equal(t, "test", attrs[tracing.AttrSessionID])
	require.Equal(t, int64(2), attrs[tracing.AttrDomainPasses])
}
