package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/canapi/pkg/apispec"
	"github.com/jmerrifield20/canapi/pkg/client"
	"github.com/jmerrifield20/canapi/pkg/urltemplate"
	"go.uber.org/zap"
)

// echo is the JSON body returned by the stub server.
type echo struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   map[string][]string `json:"query"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/text":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("plain body"))
			return
		case "/status/418":
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echo{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.Query(),
			Headers: r.Header,
			Body:    string(body),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newBuilder() *client.Builder {
	return client.NewBuilder(client.WithLogger(zap.NewNop()))
}

func buildDoc(t *testing.T, b *client.Builder, doc *apispec.Document) *client.API {
	t.Helper()
	api, err := b.Build(doc)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return api
}

func call(t *testing.T, api *client.API, path string, urlParams map[string]string, opts client.Options) echo {
	t.Helper()
	ep, err := api.Lookup(path)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", path, err)
	}
	var out echo
	if err := ep.Decode(context.Background(), urlParams, opts, &out); err != nil {
		t.Fatalf("%s: %v", path, err)
	}
	return out
}

// ── Builder ───────────────────────────────────────────────────────────────

func TestBuild_emptyEndpoints(t *testing.T) {
	api := buildDoc(t, newBuilder(), &apispec.Document{
		Name:      "empty",
		URI:       "https://example.com",
		Endpoints: map[string]*apispec.Node{},
	})
	if api.Name() != "empty" {
		t.Errorf("Name: got %q", api.Name())
	}
	if api.URI() != "https://example.com" {
		t.Errorf("URI: got %q", api.URI())
	}
	if n := len(api.Keys()); n != 0 {
		t.Errorf("Keys: got %d members, want 0", n)
	}
}

func TestBuild_methods(t *testing.T) {
	srv := echoServer(t)
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE"}
	endpoints := map[string]*apispec.Node{}
	for _, m := range methods {
		endpoints[m] = apispec.Leaf(m, "/anything")
	}
	api := buildDoc(t, newBuilder(), &apispec.Document{Name: "methods", URI: srv.URL, Endpoints: endpoints})

	for _, m := range methods {
		got := call(t, api, m, nil, nil)
		if got.Method != m {
			t.Errorf("method: got %q, want %q", got.Method, m)
		}
		if got.Path != "/anything" {
			t.Errorf("path: got %q, want %q", got.Path, "/anything")
		}
	}
}

func TestBuild_sameInstance(t *testing.T) {
	var sessions atomic.Int32
	b := client.NewBuilder(client.WithSessionFactory(func(name, uri string) client.Session {
		sessions.Add(1)
		return client.NewSession()
	}))
	doc := &apispec.Document{
		Name:      "once",
		URI:       "https://example.com",
		Endpoints: map[string]*apispec.Node{"get": apispec.Leaf("GET", "/get")},
		Session:   map[string]any{"headers": map[string]any{"X-First": "1"}},
	}
	first := buildDoc(t, b, doc)

	// A second document with the same name must not reprocess anything.
	second := buildDoc(t, b, &apispec.Document{
		Name:      "once",
		URI:       "https://other.example.com",
		Endpoints: map[string]*apispec.Node{"post": apispec.Leaf("POST", "/post")},
		Session:   map[string]any{"headers": map[string]any{"X-Second": "1"}},
	})

	if first != second {
		t.Error("expected the same *API for one name")
	}
	if n := sessions.Load(); n != 1 {
		t.Errorf("session factory calls: got %d, want 1", n)
	}
	if _, ok := second.Endpoint("post"); ok {
		t.Error("second build should not add members")
	}
	if h := first.Session().Snapshot().Headers(); h.Get("X-Second") != "" {
		t.Error("second build should not touch the session")
	}
}

func TestBuild_concurrentSingleInstance(t *testing.T) {
	var sessions atomic.Int32
	b := client.NewBuilder(client.WithSessionFactory(func(string, string) client.Session {
		sessions.Add(1)
		return client.NewSession()
	}))
	doc := &apispec.Document{Name: "race", URI: "https://example.com", Endpoints: map[string]*apispec.Node{}}

	var wg sync.WaitGroup
	apis := make([]*client.API, 16)
	for i := range apis {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			apis[i], _ = b.Build(doc)
		}(i)
	}
	wg.Wait()

	for i, a := range apis {
		if a != apis[0] {
			t.Errorf("apis[%d] differs from apis[0]", i)
		}
	}
	if n := sessions.Load(); n != 1 {
		t.Errorf("session factory calls: got %d, want 1", n)
	}
}

func TestBuild_invalidRollsBack(t *testing.T) {
	b := newBuilder()
	_, err := b.Build(&apispec.Document{
		Name: "broken",
		URI:  "https://example.com",
		Endpoints: map[string]*apispec.Node{
			"group": apispec.Group(map[string]*apispec.Node{"child": {}}),
		},
	})
	var cfgErr *apispec.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *apispec.ConfigError, got %v", err)
	}
	if cfgErr.Path != "group.child" {
		t.Errorf("Path: got %q, want %q", cfgErr.Path, "group.child")
	}
	if b.Registry().Has("broken") {
		t.Error("failed build left a registry entry")
	}
}

func TestBuild_nestedGroupsShareSession(t *testing.T) {
	srv := echoServer(t)
	api := buildDoc(t, newBuilder(), &apispec.Document{
		Name: "nested",
		URI:  srv.URL,
		Endpoints: map[string]*apispec.Node{
			"group": apispec.Group(map[string]*apispec.Node{
				"get":  apispec.Leaf("GET", "/group"),
				"post": apispec.Leaf("POST", "/group"),
				"deeper": apispec.Group(map[string]*apispec.Node{
					"get": apispec.Leaf("GET", "/group/deeper"),
				}),
			}),
		},
	})

	group, ok := api.Group("group")
	if !ok {
		t.Fatal("expected group member")
	}
	if group.Session() != api.Session() {
		t.Error("group should share the root session")
	}
	if group.Name() != api.Name() || group.URI() != api.URI() {
		t.Error("group should share the root name and uri")
	}
	if group.Path() != "group" {
		t.Errorf("group path: got %q", group.Path())
	}

	api.Persist(client.Options{"headers": map[string]any{"X-Shared": "yes"}})

	if got := call(t, api, "group.post", nil, nil); got.Method != "POST" {
		t.Errorf("group.post method: got %q", got.Method)
	}
	got := call(t, api, "group.deeper.get", nil, nil)
	if got.Path != "/group/deeper" {
		t.Errorf("deeper path: got %q", got.Path)
	}
	if v := got.Headers["X-Shared"]; len(v) != 1 || v[0] != "yes" {
		t.Errorf("X-Shared: got %v", v)
	}

	if _, err := api.Lookup("group"); err == nil {
		t.Error("Lookup of a group should fail")
	}
	if _, err := api.Lookup("group.get.more"); err == nil {
		t.Error("Lookup through an endpoint should fail")
	}
	if _, err := api.Lookup("nope"); err == nil {
		t.Error("Lookup of a missing member should fail")
	}
}

func TestBuildMap(t *testing.T) {
	api, err := newBuilder().BuildMap(map[string]any{
		"name":      "mapped",
		"uri":       "https://example.com",
		"endpoints": map[string]any{"a": map[string]any{"method": "GET", "path": "/a"}},
	})
	if err != nil {
		t.Fatalf("BuildMap() error: %v", err)
	}
	m, ok := api.Member("a")
	if !ok || m.Kind != client.MemberEndpoint {
		t.Fatalf("member a: got %+v", m)
	}
	if m.Endpoint.Method() != "GET" || m.Endpoint.Path() != "/a" {
		t.Errorf("endpoint: got %s %s", m.Endpoint.Method(), m.Endpoint.Path())
	}
}

func TestEvict(t *testing.T) {
	b := newBuilder()
	doc := &apispec.Document{Name: "evict", URI: "https://example.com", Endpoints: map[string]*apispec.Node{}}
	first := buildDoc(t, b, doc)
	b.Evict("evict")
	second := buildDoc(t, b, doc)
	if first == second {
		t.Error("expected a new instance after Evict")
	}
	if first.Session().ID() == second.Session().ID() {
		t.Error("expected a new session after Evict")
	}
}

// ── Endpoint ──────────────────────────────────────────────────────────────

func TestEndpoint_template(t *testing.T) {
	srv := echoServer(t)
	api := buildDoc(t, newBuilder(), &apispec.Document{
		Name:      "tmpl",
		URI:       srv.URL,
		Endpoints: map[string]*apispec.Node{"stream": apispec.Leaf("GET", "/stream/${n}")},
	})

	got := call(t, api, "stream", map[string]string{"n": "10"}, nil)
	if got.Path != "/stream/10" {
		t.Errorf("path: got %q, want %q", got.Path, "/stream/10")
	}

	ep, _ := api.Endpoint("stream")
	_, err := ep.Call(context.Background(), map[string]string{"m": "1"}, nil)
	var tErr *urltemplate.Error
	if !errors.As(err, &tErr) {
		t.Fatalf("expected *urltemplate.Error, got %v", err)
	}
	if tErr.Token != "n" {
		t.Errorf("Token: got %q, want %q", tErr.Token, "n")
	}
}

func TestEndpoint_kwargsAndOptions(t *testing.T) {
	srv := echoServer(t)
	leaf := apispec.Leaf("POST", "/anything")
	leaf.Endpoint.Kwargs = map[string]any{
		"params":  map[string]any{"p0": "1"},
		"headers": map[string]any{"X-Default": "d"},
	}
	api := buildDoc(t, newBuilder(), &apispec.Document{
		Name:      "kwargs",
		URI:       srv.URL,
		Endpoints: map[string]*apispec.Node{"post": leaf},
	})

	got := call(t, api, "post", nil, nil)
	if q := got.Query["p0"]; len(q) != 1 || q[0] != "1" {
		t.Errorf("default params: got %v", got.Query)
	}

	got = call(t, api, "post", nil, client.Options{
		"params": map[string]any{"p1": 2},
		"json":   map[string]any{"k": "v"},
	})
	if _, ok := got.Query["p0"]; ok {
		t.Error("caller params should replace default params")
	}
	if q := got.Query["p1"]; len(q) != 1 || q[0] != "2" {
		t.Errorf("caller params: got %v", got.Query)
	}
	if got.Body != `{"k":"v"}` {
		t.Errorf("json body: got %q", got.Body)
	}
	if ct := got.Headers["Content-Type"]; len(ct) != 1 || ct[0] != "application/json" {
		t.Errorf("Content-Type: got %v", ct)
	}
	if v := got.Headers["X-Default"]; len(v) != 1 || v[0] != "d" {
		t.Errorf("default headers: got %v", v)
	}

	got = call(t, api, "post", nil, client.Options{"data": map[string]any{"a": "b"}})
	if got.Body != "a=b" {
		t.Errorf("form body: got %q", got.Body)
	}
}

func TestEndpoint_invalidOption(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	api := buildDoc(t, newBuilder(), &apispec.Document{
		Name:      "badopt",
		URI:       srv.URL,
		Endpoints: map[string]*apispec.Node{"get": apispec.Leaf("GET", "/")},
	})
	ep, _ := api.Endpoint("get")
	_, err := ep.Call(context.Background(), nil, client.Options{"stream": true})
	if !errors.Is(err, client.ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("invalid option should fail before any request")
	}
}

func TestEndpoint_nonJSONBody(t *testing.T) {
	srv := echoServer(t)
	api := buildDoc(t, newBuilder(), &apispec.Document{
		Name:      "text",
		URI:       srv.URL,
		Endpoints: map[string]*apispec.Node{"text": apispec.Leaf("GET", "/text")},
	})
	ep, _ := api.Endpoint("text")
	out, err := ep.Call(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	raw, ok := out.([]byte)
	if !ok {
		t.Fatalf("expected []byte, got %T", out)
	}
	if string(raw) != "plain body" {
		t.Errorf("body: got %q", raw)
	}
}

func TestEndpoint_jsonBody(t *testing.T) {
	srv := echoServer(t)
	api := buildDoc(t, newBuilder(), &apispec.Document{
		Name:      "jsonbody",
		URI:       srv.URL,
		Endpoints: map[string]*apispec.Node{"get": apispec.Leaf("get", "/json")},
	})
	ep, _ := api.Endpoint("get")
	out, err := ep.Call(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}
	if m["method"] != "GET" {
		t.Errorf("method: got %v (methods are upper-cased)", m["method"])
	}
}

func TestEndpoint_statusError(t *testing.T) {
	srv := echoServer(t)
	api := buildDoc(t, newBuilder(), &apispec.Document{
		Name:      "teapot",
		URI:       srv.URL,
		Endpoints: map[string]*apispec.Node{"brew": apispec.Leaf("GET", "/status/418")},
	})
	ep, _ := api.Endpoint("brew")
	_, err := ep.Call(context.Background(), nil, nil)

	var sErr *client.HTTPStatusError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected *client.HTTPStatusError, got %v", err)
	}
	if sErr.StatusCode != http.StatusTeapot {
		t.Errorf("StatusCode: got %d", sErr.StatusCode)
	}
	if string(sErr.Body) != "short and stout" {
		t.Errorf("Body: got %q", sErr.Body)
	}
	if sErr.Method != "GET" {
		t.Errorf("Method: got %q", sErr.Method)
	}
}

func TestEndpoint_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	api := buildDoc(t, newBuilder(), &apispec.Document{
		Name:      "slow",
		URI:       srv.URL,
		Endpoints: map[string]*apispec.Node{"get": apispec.Leaf("GET", "/")},
	})
	ep, _ := api.Endpoint("get")
	_, err := ep.Call(context.Background(), nil, client.Options{"timeout": "20ms"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestEndpoint_responseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"k":"0123456789abcdef"}`)
	}))
	defer srv.Close()

	b := client.NewBuilder(client.WithMaxResponseBytes(10))
	api := buildDoc(t, b, &apispec.Document{
		Name:      "big",
		URI:       srv.URL,
		Endpoints: map[string]*apispec.Node{"get": apispec.Leaf("GET", "/")},
	})
	ep, _ := api.Endpoint("get")
	out, err := ep.Call(context.Background(), nil, nil)
	if !errors.Is(err, client.ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got out=%v err=%v", out, err)
	}
	if out != nil {
		t.Errorf("out: got %v, want nil", out)
	}
}

func TestEndpoint_responseAtLimit(t *testing.T) {
	srv := echoServer(t)
	b := client.NewBuilder(client.WithMaxResponseBytes(int64(len("plain body"))))
	api := buildDoc(t, b, &apispec.Document{
		Name:      "exact",
		URI:       srv.URL,
		Endpoints: map[string]*apispec.Node{"text": apispec.Leaf("GET", "/text")},
	})
	ep, _ := api.Endpoint("text")
	out, err := ep.Call(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if raw, _ := out.([]byte); string(raw) != "plain body" {
		t.Errorf("body: got %q, want %q", raw, "plain body")
	}
}
