package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/simput/internal/cachemanager"
	"github.com/zjrosen/simput/internal/domain"
	"github.com/zjrosen/simput/internal/flags"
	"github.com/zjrosen/simput/internal/idgen"
	"github.com/zjrosen/simput/internal/log"
	"github.com/zjrosen/simput/internal/proxy"
)

// Config configures a Registry.
type Config struct {
	// Models are schema files loaded into every new session.
	Models []string
	// MaxPasses bounds domain evaluation. Zero uses the manager default.
	MaxPasses int
	// Skip lists extra domain kinds to ignore.
	Skip []string
	// IdleTimeout closes sessions not used for this long. Zero never expires.
	IdleTimeout     time.Duration
	CleanupInterval time.Duration

	Flags   *flags.Registry
	Tracer  trace.Tracer
	Factory proxy.ObjectFactory
	Adapter proxy.ObjectAdapter
	Domains *domain.Registry
	// IDs numbers proxies across every session. Nil gives the registry its
	// own generator starting at 1.
	IDs *idgen.Generator
}

// Registry holds the live sessions of a process keyed by id. Sessions idle
// longer than the configured timeout are closed and dropped.
type Registry struct {
	cfg      Config
	domains  *domain.Registry
	ids      *idgen.Generator
	sessions *cachemanager.Memory[string, *Session]
	models   *cachemanager.ReadThrough[string, []byte]
	files    *cachemanager.Memory[string, []byte]
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config) *Registry {
	ttl := cfg.IdleTimeout
	if ttl <= 0 {
		ttl = cachemanager.NoExpiration
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = cachemanager.DefaultCleanupInterval
	}
	cfg.IdleTimeout = ttl

	reg := cfg.Domains
	if reg == nil {
		reg = domain.NewRegistry()
	}
	reg.Skip(cfg.Skip...)

	ids := cfg.IDs
	if ids == nil {
		ids = idgen.New("")
	}

	r := &Registry{
		cfg:      cfg,
		domains:  reg,
		ids:      ids,
		sessions: cachemanager.NewMemory[string, *Session]("sessions", ttl, cleanup),
		files:    cachemanager.NewMemory[string, []byte]("models", cachemanager.DefaultExpiration, cleanup),
	}
	r.models = cachemanager.NewReadThrough[string, []byte](r.files, readModel, cachemanager.DefaultExpiration, false)
	r.sessions.OnEvicted(func(id string, s *Session) {
		log.Info(log.CatSession, "session evicted", "session", id)
		s.Close()
	})
	return r
}

func readModel(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return data, nil
}

// Open creates a session with the configured models loaded.
func (r *Registry) Open(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	opts := []proxy.Option{
		proxy.WithID("pxm_" + id),
		proxy.WithDomainRegistry(r.domains),
		proxy.WithIDGenerator(r.ids),
	}
	if r.cfg.MaxPasses > 0 {
		opts = append(opts, proxy.WithMaxDomainPasses(r.cfg.MaxPasses))
	}
	if r.cfg.Factory != nil {
		opts = append(opts, proxy.WithObjectFactory(r.cfg.Factory))
	}
	if r.cfg.Adapter != nil {
		opts = append(opts, proxy.WithObjectAdapter(r.cfg.Adapter))
	}
	mgr := proxy.NewManager(opts...)

	for _, path := range r.cfg.Models {
		text, err := r.models.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := mgr.LoadModel(text); err != nil {
			return nil, fmt.Errorf("model %s: %w", path, err)
		}
	}

	s := New(id, mgr, WithFlags(r.cfg.Flags), WithTracer(r.cfg.Tracer))
	r.sessions.Set(ctx, id, s, r.cfg.IdleTimeout)
	log.Info(log.CatSession, "session opened", "session", id, "models", len(r.cfg.Models))
	return s, nil
}

// Get returns a live session and restarts its idle timer.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	s, ok := r.sessions.GetWithRefresh(ctx, id, r.cfg.IdleTimeout)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Close closes and drops a session. Closing an unknown id is a no-op.
func (r *Registry) Close(ctx context.Context, id string) {
	r.sessions.Delete(ctx, id)
}

// IDs returns the live session ids, sorted.
func (r *Registry) IDs(ctx context.Context) []string { return r.sessions.Keys(ctx) }

func (r *Registry) Len() int { return r.sessions.Len() }

// ReloadModels rereads the given schema files and merges them into every
// live session. The first error is returned after every session was tried.
func (r *Registry) ReloadModels(ctx context.Context, paths ...string) error {
	r.models.Invalidate(ctx, paths...)

	var first error
	for _, path := range paths {
		text, err := r.models.Get(ctx, path)
		if err != nil {
			log.ErrorErr(log.CatSession, "model reload failed", err, "path", path)
			if first == nil {
				first = err
			}
			continue
		}
		for _, id := range r.IDs(ctx) {
			s, ok := r.sessions.Get(ctx, id)
			if !ok {
				continue
			}
			if err := s.LoadModel(text); err != nil {
				log.ErrorErr(log.CatSession, "model merge failed", err, "path", path, "session", id)
				if first == nil {
					first = fmt.Errorf("model %s: %w", path, err)
				}
			}
		}
		log.Info(log.CatSession, "model reloaded", "path", path)
	}
	return first
}

// Shutdown closes every session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.sessions.Delete(ctx, r.IDs(ctx)...)
}
