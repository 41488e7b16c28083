package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmerrifield20/canapi/internal/metrics"
	"github.com/jmerrifield20/canapi/pkg/apispec"
	"github.com/jmerrifield20/canapi/pkg/source"
	"go.uber.org/zap"
)

// RemotePolicy controls when the remote source is consulted.
type RemotePolicy int

const (
	// RemoteOnMiss queries the remote source only when neither the registry
	// nor any local source produced a client.
	RemoteOnMiss RemotePolicy = iota
	// RemoteAlways also queries the remote source on a registry hit when no
	// local source is configured. A document fetched on a hit is validated
	// but not applied: Build returns the registered client unchanged, so
	// changes take effect only after Builder.Evict.
	RemoteAlways
)

func (p RemotePolicy) String() string {
	switch p {
	case RemoteOnMiss:
		return "on-miss"
	case RemoteAlways:
		return "always"
	default:
		return fmt.Sprintf("RemotePolicy(%d)", int(p))
	}
}

// ParseRemotePolicy parses "on-miss" or "always".
func ParseRemotePolicy(s string) (RemotePolicy, error) {
	switch s {
	case "", "on-miss":
		return RemoteOnMiss, nil
	case "always":
		return RemoteAlways, nil
	default:
		return 0, fmt.Errorf("unknown remote policy %q (want on-miss or always)", s)
	}
}

type labelledSource struct {
	label string
	src   source.Source
}

// Resolver finds or builds the client for an API name, consulting the
// registry, then local sources in registration order, then the remote
// source.
type Resolver struct {
	builder *Builder
	logger  *zap.Logger

	mu     sync.RWMutex
	locals []labelledSource
	remote source.Source
	policy RemotePolicy
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithBuilder sets the builder. Defaults to NewBuilder().
func WithBuilder(b *Builder) ResolverOption {
	return func(r *Resolver) { r.builder = b }
}

// WithLocalSource appends a labelled local source.
func WithLocalSource(label string, src source.Source) ResolverOption {
	return func(r *Resolver) { r.locals = append(r.locals, labelledSource{label: label, src: src}) }
}

// WithRemoteSource sets the remote source.
func WithRemoteSource(src source.Source) ResolverOption {
	return func(r *Resolver) { r.remote = src }
}

// WithRemotePolicy sets the remote policy. Defaults to RemoteOnMiss.
func WithRemotePolicy(p RemotePolicy) ResolverOption {
	return func(r *Resolver) { r.policy = p }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.builder == nil {
		r.builder = NewBuilder(WithLogger(r.logger))
	}
	return r
}

// Builder returns the underlying builder.
func (r *Resolver) Builder() *Builder { return r.builder }

// RegisterLocalSource adds a directory of documents under label.
// Registering an existing label replaces its directory in place.
func (r *Resolver) RegisterLocalSource(label, path string) {
	r.AddSource(label, source.NewLocal(path))
}

// AddSource adds src as a local source under label. Registering an
// existing label replaces its source in place.
func (r *Resolver) AddSource(label string, src source.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.locals {
		if r.locals[i].label == label {
			r.locals[i].src = src
			return
		}
	}
	r.locals = append(r.locals, labelledSource{label: label, src: src})
}

// SetRemoteSource replaces the remote source. nil disables it.
func (r *Resolver) SetRemoteSource(src source.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remote = src
}

// Labels returns the local source labels in lookup order.
func (r *Resolver) Labels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.locals))
	for i, l := range r.locals {
		out[i] = l.label
	}
	return out
}

// BuildFromConfig builds (or returns the registered) client for doc.
func (r *Resolver) BuildFromConfig(doc *apispec.Document) (*API, error) {
	return r.builder.Build(doc)
}

type resolveConfig struct {
	version  string
	useCache bool
	session  Options
}

// ResolveOption configures one Resolve call.
type ResolveOption func(*resolveConfig)

// WithVersion requests a specific document version.
func WithVersion(v string) ResolveOption {
	return func(c *resolveConfig) { c.version = v }
}

// WithoutCache skips the registry when looking for a candidate. Building a
// name that is already registered still returns the registered client.
func WithoutCache() ResolveOption {
	return func(c *resolveConfig) { c.useCache = false }
}

// WithSessionOptions persists opts on the resolved client's session.
func WithSessionOptions(opts Options) ResolveOption {
	return func(c *resolveConfig) { c.session = opts }
}

// Resolve returns the client for name.
//
//	api, err := resolver.Resolve(ctx, "httpbin",
//		client.WithSessionOptions(client.Options{"headers": map[string]any{"X-Token": tok}}))
//
// It fails with *NotRegisteredError when no source has a document.
func (r *Resolver) Resolve(ctx context.Context, name string, opts ...ResolveOption) (*API, error) {
	cfg := resolveConfig{useCache: true}
	for _, o := range opts {
		o(&cfg)
	}

	r.mu.RLock()
	locals := append([]labelledSource(nil), r.locals...)
	remote, policy := r.remote, r.policy
	r.mu.RUnlock()

	log := r.logger.With(zap.String("api", name), zap.String("version", cfg.version))

	var candidate *API
	if cfg.useCache {
		if api, ok := r.builder.Registry().Get(name); ok {
			metrics.RecordResolve("cache", "hit")
			log.Debug("client api cache hit")
			candidate = api
		} else {
			metrics.RecordResolve("cache", "miss")
		}
	}

	if candidate == nil {
		for _, l := range locals {
			doc, err := l.src.Lookup(ctx, name, cfg.version)
			if errors.Is(err, source.ErrNotFound) {
				metrics.RecordResolve("local", "miss")
				continue
			}
			if err != nil {
				metrics.RecordResolve("local", "error")
				return nil, fmt.Errorf("resolve %s from %s: %w", name, l.label, err)
			}
			metrics.RecordResolve("local", "hit")
			if candidate, err = r.build(log, name, doc); err != nil {
				return nil, err
			}
			log.Info("client api resolved", zap.String("source", l.label))
			break
		}
	}

	queryRemote := remote != nil &&
		(candidate == nil || (policy == RemoteAlways && len(locals) == 0))
	if queryRemote {
		doc, err := remote.Lookup(ctx, name, cfg.version)
		switch {
		case errors.Is(err, source.ErrNotFound):
			metrics.RecordResolve("remote", "miss")
		case err != nil && candidate != nil:
			metrics.RecordResolve("remote", "error")
			log.Warn("remote refresh failed, keeping registered client", zap.Error(err))
		case err != nil:
			metrics.RecordResolve("remote", "error")
			return nil, fmt.Errorf("resolve %s from remote: %w", name, err)
		case candidate != nil && doc.Name != name:
			metrics.RecordResolve("remote", "hit")
			log.Warn("remote document name differs from registered client, keeping registered client",
				zap.String("document", doc.Name))
		default:
			metrics.RecordResolve("remote", "hit")
			if candidate, err = r.build(log, name, doc); err != nil {
				return nil, err
			}
			log.Info("client api resolved", zap.String("source", "remote"))
		}
	}

	if candidate == nil {
		return nil, &NotRegisteredError{Name: name, Version: cfg.version}
	}
	if len(cfg.session) > 0 {
		candidate.Persist(cfg.session)
	}
	return candidate, nil
}

func (r *Resolver) build(log *zap.Logger, name string, doc *apispec.Document) (*API, error) {
	if doc.Name != name {
		log.Warn("document name differs from requested name", zap.String("document", doc.Name))
	}
	api, err := r.builder.Build(doc)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	return api, nil
}
