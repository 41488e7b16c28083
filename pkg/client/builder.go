package client

import (
	"fmt"
	"sync"

	"github.com/jmerrifield20/canapi/internal/metrics"
	"github.com/jmerrifield20/canapi/pkg/apispec"
	"go.uber.org/zap"
)

// SessionFactory creates the session for a newly built API. It is called at
// most once per API name for the lifetime of its registry entry.
type SessionFactory func(name, uri string) Session

// Builder turns configuration documents into registered API clients.
type Builder struct {
	mu         sync.Mutex
	registry   Registry
	newSession SessionFactory
	logger     *zap.Logger
	maxBody    int64
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithRegistry sets the registry. Defaults to a fresh MemoryRegistry.
func WithRegistry(r Registry) BuilderOption {
	return func(b *Builder) { b.registry = r }
}

// WithSessionFactory overrides how sessions are created.
func WithSessionFactory(f SessionFactory) BuilderOption {
	return func(b *Builder) { b.newSession = f }
}

// WithLogger sets the logger used by the builder and the APIs it builds.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithMaxResponseBytes bounds how much of each response body endpoints read.
func WithMaxResponseBytes(n int64) BuilderOption {
	return func(b *Builder) { b.maxBody = n }
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.registry == nil {
		b.registry = NewMemoryRegistry()
	}
	if b.maxBody <= 0 {
		b.maxBody = defaultMaxResponseBytes
	}
	if b.newSession == nil {
		logger := b.logger
		b.newSession = func(name, uri string) Session {
			return NewSession(WithSessionLogger(logger.With(zap.String("api", name))))
		}
	}
	return b
}

// Registry returns the registry the builder writes to.
func (b *Builder) Registry() Registry { return b.registry }

// Build returns the API registered under doc.Name, constructing and
// registering it first if needed. A registered name is returned as is: its
// endpoints and session are not touched again.
func (b *Builder) Build(doc *apispec.Document) (*API, error) {
	if doc == nil {
		return nil, &apispec.ConfigError{Reason: "document is nil"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if api, ok := b.registry.Get(doc.Name); ok {
		b.logger.Debug("client api already built", zap.String("api", doc.Name))
		return api, nil
	}

	if err := apispec.Validate(doc); err != nil {
		return nil, err
	}

	root := &API{
		name:    doc.Name,
		uri:     doc.URI,
		session: b.newSession(doc.Name, doc.URI),
		members: make(map[string]Member, len(doc.Endpoints)),
		logger:  b.logger,
	}
	if len(doc.Session) > 0 {
		Persist(root.session, Options(doc.Session))
	}

	b.registry.Put(doc.Name, root)
	if err := b.attach(root, root, doc.Endpoints); err != nil {
		b.registry.Delete(doc.Name)
		return nil, err
	}

	metrics.RecordBuild()
	b.logger.Info("client api built",
		zap.String("api", doc.Name),
		zap.String("uri", doc.URI),
		zap.Int("members", len(root.members)),
	)
	return root, nil
}

// BuildMap decodes a generic mapping into a document and builds it.
func (b *Builder) BuildMap(m map[string]any) (*API, error) {
	doc, err := apispec.FromMap(m)
	if err != nil {
		return nil, err
	}
	return b.Build(doc)
}

// Evict removes name from the registry. The next Build creates a new
// session.
func (b *Builder) Evict(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registry.Delete(name)
}

func (b *Builder) attach(root, target *API, nodes map[string]*apispec.Node) error {
	for key, node := range nodes {
		path := key
		if target.path != "" {
			path = target.path + "." + key
		}

		switch {
		case node.IsEndpoint():
			spec := node.Endpoint
			target.members[key] = Member{
				Kind:     MemberEndpoint,
				Endpoint: newEndpoint(root, path, spec.Method, spec.Path, Options(spec.Kwargs), b.maxBody),
			}
		case node != nil && node.Children != nil:
			group := &API{
				name:    root.name,
				uri:     root.uri,
				path:    path,
				session: root.session,
				members: make(map[string]Member, len(node.Children)),
				logger:  root.logger,
			}
			if err := b.attach(root, group, node.Children); err != nil {
				return err
			}
			target.members[key] = Member{Kind: MemberGroup, Group: group}
		default:
			return &apispec.ConfigError{Path: path, Reason: fmt.Sprintf("node %q is empty", key)}
		}
	}
	return nil
}
