package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// Field names a persistable session attribute.
type Field string

const (
	FieldHeaders      Field = "headers"
	FieldAuth         Field = "auth"
	FieldCookies      Field = "cookies"
	FieldProxies      Field = "proxies"
	FieldParams       Field = "params"
	FieldTimeout      Field = "timeout"
	FieldVerify       Field = "verify"
	FieldCert         Field = "cert"
	FieldMaxRedirects Field = "max_redirects"
	FieldRateLimit    Field = "rate_limit"
)

// SessionFieldsVersion is bumped whenever SessionFields changes.
const SessionFieldsVersion = 1

// SessionFields is the whitelist of keys Persist applies to a session.
var SessionFields = []Field{
	FieldHeaders,
	FieldAuth,
	FieldCookies,
	FieldProxies,
	FieldParams,
	FieldTimeout,
	FieldVerify,
	FieldCert,
	FieldMaxRedirects,
	FieldRateLimit,
}

// Fields holds a session's persistent configuration. Values are treated as
// immutable once stored: merges replace them rather than mutate in place.
type Fields map[Field]any

// Headers returns the persistent headers, or an empty header set.
func (f Fields) Headers() http.Header {
	if h, ok := f[FieldHeaders].(http.Header); ok {
		return h
	}
	return http.Header{}
}

// Session is the HTTP layer shared by every endpoint of one API.
type Session interface {
	// ID identifies the session instance.
	ID() string
	// Do sends one request with the session's persistent configuration
	// applied beneath the per-call options.
	Do(ctx context.Context, method, rawURL string, opts RequestOptions) (*http.Response, error)
	// Update runs fn with exclusive access to the persistent fields.
	Update(fn func(Fields))
	// Snapshot returns a copy of the persistent fields.
	Snapshot() Fields
}

// SessionOption configures an HTTPSession.
type SessionOption func(*HTTPSession)

// WithTransport sets the base RoundTripper. Proxy, verify and cert fields
// only take effect when the base is an *http.Transport.
func WithTransport(rt http.RoundTripper) SessionOption {
	return func(s *HTTPSession) { s.base = rt }
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *HTTPSession) { s.logger = l }
}

// HTTPSession is the default Session, backed by net/http.
type HTTPSession struct {
	id     string
	base   http.RoundTripper
	logger *zap.Logger

	// guarded by mu
	mu       sync.RWMutex
	fields   Fields
	client   *http.Client
	buildErr error
	limiter  *rate.Limiter
	tokens   oauth2.TokenSource
}

// NewSession creates an HTTPSession with default headers.
func NewSession(opts ...SessionOption) *HTTPSession {
	s := &HTTPSession{
		id: uuid.NewString(),
		fields: Fields{
			FieldHeaders: http.Header{
				"User-Agent": {"canapi/" + Version},
				"Accept":     {"*/*"},
			},
			FieldCookies: map[string]any{},
			FieldProxies: map[string]any{},
			FieldParams:  map[string]any{},
		},
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.base == nil {
		s.base = http.DefaultTransport.(*http.Transport).Clone()
	}
	s.client, s.buildErr = s.buildClient(s.fields)
	return s
}

// ID implements Session.
func (s *HTTPSession) ID() string { return s.id }

// Snapshot implements Session.
func (s *HTTPSession) Snapshot() Fields {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Fields, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// Update implements Session. Derived state (HTTP client, rate limiter,
// OAuth2 token source) is rebuilt only for the fields that changed.
func (s *HTTPSession) Update(fn func(Fields)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := make(Fields, len(s.fields))
	for k, v := range s.fields {
		before[k] = v
	}
	fn(s.fields)

	changed := func(fs ...Field) bool {
		for _, f := range fs {
			if !reflect.DeepEqual(before[f], s.fields[f]) {
				return true
			}
		}
		return false
	}

	if changed(FieldProxies, FieldVerify, FieldCert, FieldMaxRedirects) {
		s.client, s.buildErr = s.buildClient(s.fields)
		if s.buildErr != nil {
			s.logger.Warn("session transport config rejected", zap.String("session", s.id), zap.Error(s.buildErr))
		}
	}
	if changed(FieldRateLimit) {
		s.limiter = buildLimiter(s.fields[FieldRateLimit])
	}
	if changed(FieldAuth) {
		s.tokens = nil
	}
}

// Do implements Session.
func (s *HTTPSession) Do(ctx context.Context, method, rawURL string, opts RequestOptions) (*http.Response, error) {
	s.mu.RLock()
	fields := s.fields
	client, buildErr, limiter := s.client, s.buildErr, s.limiter
	headers := fields.Headers()
	params, _ := toMap(fields[FieldParams])
	cookies, _ := toMap(fields[FieldCookies])
	sessAuth := fields[FieldAuth]
	sessTimeout, _ := toDuration(fields[FieldTimeout])
	s.mu.RUnlock()

	if buildErr != nil {
		return nil, fmt.Errorf("session transport: %w", buildErr)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, v := range params {
		setQuery(q, k, v)
	}
	for k, v := range opts.Params {
		setQuery(q, k, v)
	}
	u.RawQuery = q.Encode()

	body, contentType, err := encodeBody(opts)
	if err != nil {
		return nil, err
	}

	timeout := sessTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), u.String(), body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range opts.Headers {
		req.Header[k] = vs
	}

	for name, v := range mergeMaps(cookies, opts.Cookies) {
		req.AddCookie(&http.Cookie{Name: name, Value: stringify(v)})
	}

	auth := sessAuth
	if opts.Auth != nil {
		auth = opts.Auth
	}
	if err := s.applyAuth(ctx, req, client, auth, opts.Auth == nil); err != nil {
		cancel()
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// applyAuth attaches credentials. Supported shapes:
//
//	["user", "pass"]                                  basic auth
//	"token"                                           bearer token
//	{"type": "basic", "username": .., "password": ..}
//	{"type": "bearer", "token": ..}
//	{"type": "header", "name": "X-Api-Key", "value": ..}
//	{"type": "oauth2", "token_url": .., "client_id": .., "client_secret": .., "scopes": [..]}
func (s *HTTPSession) applyAuth(ctx context.Context, req *http.Request, hc *http.Client, auth any, sessionLevel bool) error {
	switch a := auth.(type) {
	case nil:
		return nil
	case string:
		req.Header.Set("Authorization", "Bearer "+a)
		return nil
	case []any, []string:
		parts := toStrings(a)
		if len(parts) != 2 {
			return fmt.Errorf("auth: basic credentials need exactly 2 elements, got %d", len(parts))
		}
		req.SetBasicAuth(parts[0], parts[1])
		return nil
	}

	m, ok := toMap(auth)
	if !ok {
		return fmt.Errorf("auth: unsupported value of type %T", auth)
	}
	kind, _ := m["type"].(string)
	switch strings.ToLower(kind) {
	case "basic", "":
		req.SetBasicAuth(stringify(m["username"]), stringify(m["password"]))
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringify(m["token"]))
	case "header":
		name := stringify(m["name"])
		if name == "" {
			return errors.New("auth: header auth requires a name")
		}
		req.Header.Set(name, stringify(m["value"]))
	case "oauth2":
		ts := s.tokenSource(ctx, hc, m, sessionLevel)
		tok, err := ts.Token()
		if err != nil {
			return fmt.Errorf("auth: fetch oauth2 token: %w", err)
		}
		tok.SetAuthHeader(req)
	default:
		return fmt.Errorf("auth: unsupported type %q", kind)
	}
	return nil
}

// tokenSource returns a cached client-credentials token source for
// session-level auth, or a one-off source for per-call auth.
func (s *HTTPSession) tokenSource(ctx context.Context, hc *http.Client, m map[string]any, sessionLevel bool) oauth2.TokenSource {
	build := func() oauth2.TokenSource {
		cfg := clientcredentials.Config{
			ClientID:     stringify(m["client_id"]),
			ClientSecret: stringify(m["client_secret"]),
			TokenURL:     stringify(m["token_url"]),
			Scopes:       toStrings(m["scopes"]),
		}
		// The token source outlives this request; detach it from ctx's
		// deadline but keep the session's HTTP client.
		tokCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, hc)
		return cfg.TokenSource(tokCtx)
	}
	if !sessionLevel {
		return build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tokens == nil {
		s.tokens = build()
	}
	return s.tokens
}

// buildClient derives an http.Client from the transport-level fields.
func (s *HTTPSession) buildClient(fields Fields) (*http.Client, error) {
	rt := s.base
	if t, ok := s.base.(*http.Transport); ok {
		t = t.Clone()
		if proxies, ok := toMap(fields[FieldProxies]); ok && len(proxies) > 0 {
			t.Proxy = proxyFunc(proxies)
		}
		tlsCfg, err := buildTLS(fields, t.TLSClientConfig)
		if err != nil {
			return nil, err
		}
		t.TLSClientConfig = tlsCfg
		rt = t
	} else if fields[FieldProxies] != nil || fields[FieldVerify] != nil || fields[FieldCert] != nil {
		s.logger.Debug("custom transport: proxy/verify/cert fields not applied", zap.String("session", s.id))
	}

	c := &http.Client{Transport: rt}
	if n, ok := toInt(fields[FieldMaxRedirects]); ok {
		c.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) > n {
				return fmt.Errorf("stopped after %d redirects", n)
			}
			return nil
		}
	}
	return c, nil
}

func buildTLS(fields Fields, base *tls.Config) (*tls.Config, error) {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	switch v := fields[FieldVerify].(type) {
	case nil:
	case bool:
		cfg.InsecureSkipVerify = !v //nolint:gosec
	case string:
		pem, err := os.ReadFile(v)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in CA bundle %s", v)
		}
		cfg.RootCAs = pool
	default:
		return nil, fmt.Errorf("verify must be a bool or a CA bundle path, got %T", v)
	}

	if raw := fields[FieldCert]; raw != nil {
		paths := toStrings(raw)
		var certFile, keyFile string
		switch len(paths) {
		case 1:
			certFile, keyFile = paths[0], paths[0]
		case 2:
			certFile, keyFile = paths[0], paths[1]
		default:
			return nil, fmt.Errorf("cert must be a path or a [cert, key] pair")
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client cert: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// proxyFunc selects a proxy by "scheme://host", then scheme, then "all",
// falling back to the environment.
func proxyFunc(proxies map[string]any) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		keys := []string{
			req.URL.Scheme + "://" + req.URL.Hostname(),
			req.URL.Scheme,
			"all",
		}
		for _, k := range keys {
			if v, ok := proxies[k]; ok {
				return url.Parse(stringify(v))
			}
		}
		return http.ProxyFromEnvironment(req)
	}
}

func buildLimiter(v any) *rate.Limiter {
	m, ok := toMap(v)
	if !ok {
		return nil
	}
	rps, ok := toFloat(m["rps"])
	if !ok || rps <= 0 {
		return nil
	}
	burst, ok := toInt(m["burst"])
	if !ok || burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func encodeBody(opts RequestOptions) (io.Reader, string, error) {
	if opts.HasJSON {
		b, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("marshal json body: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	}

	switch d := opts.Data.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(d), "", nil
	case []byte:
		return bytes.NewReader(d), "", nil
	}
	m, ok := toMap(opts.Data)
	if !ok {
		return nil, "", fmt.Errorf("%w: data must be a string, bytes or a mapping", ErrInvalidOption)
	}
	form := url.Values{}
	for k, v := range m {
		setQuery(form, k, v)
	}
	return strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", nil
}

func setQuery(q url.Values, key string, v any) {
	q.Del(key)
	for _, s := range toStrings(v) {
		q.Add(key, s)
	}
}

func mergeMaps(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

var _ Session = (*HTTPSession)(nil)
