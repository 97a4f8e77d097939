// Package session serializes access to proxy managers and runs the update
// controller: after a batch of edits the domains of every touched proxy are
// applied until no proxy changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/simput/internal/domain"
	"github.com/zjrosen/simput/internal/flags"
	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/proxy"
	"github.com/zjrosen/simput/internal/pubsub"
	"github.com/zjrosen/simput/internal/tracing"
)

var (
	ErrClosed   = errors.New("session closed")
	ErrNotFound = errors.New("session not found")
)

// Result describes what an apply or refresh touched.
type Result struct {
	// Touched lists, in first-touch order, the proxies edited or changed by
	// their domains.
	Touched []string `json:"touched"`
	// Recommitted lists auto_commit proxies committed again after their
	// domains changed them.
	Recommitted []string `json:"recommitted,omitempty"`
	// Passes counts the domain loop passes that found proxies to settle.
	Passes int `json:"passes"`
	// Domains maps proxy id to its domain state.
	Domains map[string]map[string]domain.PropertyState `json:"domains"`
}

// Session wraps a manager. Every method holds the session lock, so a
// session may be shared between goroutines.
type Session struct {
	id     string
	mu     sync.Mutex
	mgr    *proxy.Manager
	flags  *flags.Registry
	tracer trace.Tracer
	events *pubsub.Broker[proxy.Event]
	unsub  func()
	closed bool
}

// Option configures a Session.
type Option func(*Session)

// WithFlags sets the feature flags consulted by Apply.
func WithFlags(f *flags.Registry) Option {
	return func(s *Session) { s.flags = f }
}

// WithTracer sets the tracer used for session spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New wraps mgr in a session. Manager events are republished to subscribers.
func New(id string, mgr *proxy.Manager, opts ...Option) *Session {
	s := &Session{
		id:     id,
		mgr:    mgr,
		tracer: noop.NewTracerProvider().Tracer("simput"),
		events: pubsub.NewBroker[proxy.Event](),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsub = mgr.On(func(ev proxy.Event) {
		s.events.Publish(brokerType(ev.Type), ev)
	})
	return s
}

func brokerType(t proxy.EventType) pubsub.EventType {
	switch t {
	case proxy.EventCreated:
		return pubsub.CreatedEvent
	case proxy.EventDeleted:
		return pubsub.DeletedEvent
	case proxy.EventCommit:
		return pubsub.CommittedEvent
	case proxy.EventReset:
		return pubsub.ResetEvent
	case proxy.EventUpdate:
		return pubsub.UpdatedEvent
	default:
		return pubsub.ChangedEvent
	}
}

func (s *Session) ID() string { return s.id }

// Subscribe streams manager events until ctx is done or the session closes.
func (s *Session) Subscribe(ctx context.Context) <-chan pubsub.Event[proxy.Event] {
	return s.events.Subscribe(ctx)
}

// Close detaches the session from its manager and ends every subscription.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.unsub()
	s.events.Close()
	log.Debug(log.CatSession, "session closed", "session", s.id)
}

// Do runs fn with exclusive access to the manager. fn must not keep the
// manager or its proxies after returning.
func (s *Session) Do(fn func(m *proxy.Manager) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.mgr)
}

func (s *Session) run(ctx context.Context, name string, fn func(ctx context.Context, span trace.Span) error, attrs ...attribute.KeyValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	attrs = append(attrs, attribute.String(tracing.AttrSessionID, s.id))
	return tracing.Run(ctx, s.tracer, name, fn, attrs...)
}

// Apply edits a batch of properties, then runs domains until they settle.
// Proxies tagged auto_commit are committed by the update itself, before
// domains run.
func (s *Session) Apply(ctx context.Context, changes []proxy.Change) (*Result, error) {
	var res *Result
	err := s.run(ctx, tracing.SpanSessionApply, func(ctx context.Context, span trace.Span) error {
		if err := s.mgr.Update(changes); err != nil {
			return err
		}
		touched := newOrderedSet()
		auto := 0
		for _, c := range changes {
			if _, seen := touched.seen[c.ID]; !seen && s.mgr.Get(c.ID).HasTag(proxy.TagAutoCommit) {
				auto++
			}
			touched.add(c.ID)
		}
		if auto > 0 {
			span.AddEvent(tracing.EventAutoCommitted, trace.WithAttributes(attribute.Int(tracing.AttrTouched, auto)))
		}
		passes, err := s.converge(ctx, touched)
		if err != nil {
			return err
		}
		res = s.result(touched, passes)

		if s.flags.Enabled(flags.FlagRecommitAutoCommit) {
			if res.Recommitted, err = s.recommit(touched.items); err != nil {
				return err
			}
		}
		span.SetAttributes(
			attribute.Int(tracing.AttrTouched, len(res.Touched)),
			attribute.Int(tracing.AttrDomainPasses, passes),
		)
		log.Debug(log.CatSession, "changes applied", "session", s.id, "changes", len(changes),
			"touched", len(res.Touched), "passes", passes)
		return nil
	}, attribute.Int(tracing.AttrChangeCount, len(changes)))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Refresh re-arms the domains of one property, or of every property when
// property is empty, and runs them until they settle.
func (s *Session) Refresh(ctx context.Context, id, property string) (*Result, error) {
	var res *Result
	err := s.run(ctx, tracing.SpanSessionRefresh, func(ctx context.Context, span trace.Span) error {
		p := s.mgr.Get(id)
		if p == nil {
			return fmt.Errorf("refresh: %w: %s", proxy.ErrNotFound, id)
		}
		var names []string
		if property != "" {
			if _, ok := p.PropertySpec(property); !ok {
				return fmt.Errorf("refresh: %w: %s.%s", proxy.ErrUnknownProperty, p.Type(), property)
			}
			names = []string{property}
		}
		p.EnableDomains(names...)
		if _, err := p.ApplyDomains(names...); err != nil {
			return err
		}

		touched := newOrderedSet()
		touched.add(id)
		passes, err := s.converge(ctx, touched)
		if err != nil {
			return err
		}
		res = s.result(touched, passes)
		span.SetAttributes(attribute.Int(tracing.AttrDomainPasses, passes))
		return nil
	}, attribute.String(tracing.AttrProxyID, id), attribute.String(tracing.AttrProperty, property))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// converge drains the domain-dirty set and settles each drained proxy until
// a drain comes back empty. It returns the number of passes that drained
// at least one proxy.
func (s *Session) converge(ctx context.Context, touched *orderedSet) (int, error) {
	limit := s.mgr.MaxDomainPasses()
	for pass := 0; pass < limit; pass++ {
		ids := s.mgr.ListAndCleanProxyDomains()
		if len(ids) == 0 {
			trace.SpanFromContext(ctx).AddEvent(tracing.EventConverged)
			return pass, nil
		}
		if err := s.settle(ctx, ids, touched); err != nil {
			return pass + 1, err
		}
	}
	if ids := s.mgr.ListAndCleanProxyDomains(); len(ids) > 0 {
		return limit, fmt.Errorf("%w: session %s did not settle after %d passes", proxy.ErrDomainCycle, s.id, limit)
	}
	return limit, nil
}

func (s *Session) settle(ctx context.Context, ids []string, touched *orderedSet) error {
	_, span := s.tracer.Start(ctx, tracing.SpanDomainPass, trace.WithAttributes(attribute.Int(tracing.AttrTouched, len(ids))))
	defer span.End()
	for _, id := range ids {
		p := s.mgr.Get(id)
		if p == nil {
			continue
		}
		touched.add(id)
		if err := p.Settle(); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

func (s *Session) recommit(ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		p := s.mgr.Get(id)
		if p == nil || !p.HasTag(proxy.TagAutoCommit) || !p.IsDirty() {
			continue
		}
		if _, err := p.Commit(); err != nil {
			return out, err
		}
		out = append(out, id)
	}
	if len(out) > 0 {
		s.events.Publish(pubsub.CommittedEvent, proxy.Event{Type: proxy.EventCommit, IDs: out})
	}
	return out, nil
}

func (s *Session) result(touched *orderedSet, passes int) *Result {
	res := &Result{
		Touched: []string{},
		Passes:  passes,
		Domains: make(map[string]map[string]domain.PropertyState),
	}
	for _, id := range touched.items {
		p := s.mgr.Get(id)
		if p == nil {
			continue
		}
		res.Touched = append(res.Touched, id)
		res.Domains[id] = p.DomainState()
	}
	return res
}

// Create builds a proxy and returns its state.
func (s *Session) Create(ctx context.Context, typeName string, opts ...proxy.CreateOption) (proxy.State, error) {
	var st proxy.State
	err := s.run(ctx, tracing.SpanSessionCreate, func(ctx context.Context, span trace.Span) error {
		p, err := s.mgr.Create(typeName, opts...)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String(tracing.AttrProxyID, p.ID()))
		st = p.State()
		return nil
	}, attribute.String(tracing.AttrProxyType, typeName))
	return st, err
}

// Delete removes a proxy and the proxies it owns.
func (s *Session) Delete(ctx context.Context, id string) error {
	return s.run(ctx, tracing.SpanSessionDelete, func(ctx context.Context, _ trace.Span) error {
		return s.mgr.Delete(id)
	}, attribute.String(tracing.AttrProxyID, id))
}

// Get returns the pending state of a proxy.
func (s *Session) Get(id string) (proxy.State, bool) {
	var (
		st proxy.State
		ok bool
	)
	_ = s.Do(func(m *proxy.Manager) error {
		if p := m.Get(id); p != nil {
			st, ok = p.State(), true
		}
		return nil
	})
	return st, ok
}

// DomainState returns the domain state of a proxy.
func (s *Session) DomainState(id string) (map[string]domain.PropertyState, error) {
	var out map[string]domain.PropertyState
	err := s.Do(func(m *proxy.Manager) error {
		p := m.Get(id)
		if p == nil {
			return fmt.Errorf("%w: %s", proxy.ErrNotFound, id)
		}
		out = p.DomainState()
		return nil
	})
	return out, err
}

// CommitAll commits every proxy with pending edits.
func (s *Session) CommitAll(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.run(ctx, tracing.SpanSessionCommit, func(ctx context.Context, span trace.Span) error {
		var err error
		ids, err = s.mgr.CommitAll()
		span.SetAttributes(attribute.Int(tracing.AttrTouched, len(ids)))
		return err
	})
	return ids, err
}

// ResetAll discards every pending edit.
func (s *Session) ResetAll(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.run(ctx, tracing.SpanSessionReset, func(ctx context.Context, span trace.Span) error {
		var err error
		ids, err = s.mgr.ResetAll()
		span.SetAttributes(attribute.Int(tracing.AttrTouched, len(ids)))
		return err
	})
	return ids, err
}

// LoadModel merges type definitions into the manager.
func (s *Session) LoadModel(text []byte) error {
	return s.Do(func(m *proxy.Manager) error { return m.LoadModel(text) })
}

// Load imports an exported document and returns the new ids.
func (s *Session) Load(ctx context.Context, r io.Reader) ([]string, error) {
	var ids []string
	err := s.run(ctx, tracing.SpanSessionLoad, func(ctx context.Context, span trace.Span) error {
		var err error
		ids, err = s.mgr.Load(r)
		span.SetAttributes(attribute.Int(tracing.AttrTouched, len(ids)))
		return err
	})
	return ids, err
}

// Save writes the exported document to w.
func (s *Session) Save(w io.Writer) error {
	return s.Do(func(m *proxy.Manager) error { return m.Save(w) })
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (o *orderedSet) add(id string) {
	if _, ok := o.seen[id]; ok {
		return
	}
	o.seen[id] = struct{}{}
	o.items = append(o.items, id)
}
