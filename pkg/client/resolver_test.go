package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jmerrifield20/canapi/pkg/client"
	"github.com/jmerrifield20/canapi/pkg/source"
	"go.uber.org/zap"
)

func writeDoc(t *testing.T, dir, rel, uri string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	doc := `{"name":"httpbin","uri":"` + uri + `","endpoints":{"get":{"method":"GET","path":"/get"}}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
}

// remoteRegistry serves one document and counts requests.
func remoteRegistry(t *testing.T, uri string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/httpbin.json" && r.URL.Path != "/httpbin/v2.json" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"name":"httpbin","uri":"` + uri + `","endpoints":{}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestResolve_unknownName(t *testing.T) {
	r := client.NewResolver(client.WithResolverLogger(zap.NewNop()))
	_, err := r.Resolve(context.Background(), "unknown-name")

	var nrErr *client.NotRegisteredError
	if !errors.As(err, &nrErr) {
		t.Fatalf("expected *client.NotRegisteredError, got %v", err)
	}
	if nrErr.Name != "unknown-name" {
		t.Errorf("Name: got %q, want %q", nrErr.Name, "unknown-name")
	}
}

func TestResolve_versionInError(t *testing.T) {
	_, err := client.NewResolver().Resolve(context.Background(), "x", client.WithVersion("v9"))
	if err == nil || err.Error() != `client api "x:v9" is not registered` {
		t.Errorf("error: got %v", err)
	}
}

func TestResolve_localSourcesInOrder(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeDoc(t, second, "httpbin.json", "https://second.example.com")
	writeDoc(t, first, "httpbin/v2.json", "https://first-v2.example.com")

	r := client.NewResolver()
	r.RegisterLocalSource("first", first)
	r.RegisterLocalSource("second", second)

	api, err := r.Resolve(context.Background(), "httpbin")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if api.URI() != "https://second.example.com" {
		t.Errorf("URI: got %q", api.URI())
	}

	again, err := r.Resolve(context.Background(), "httpbin")
	if err != nil {
		t.Fatal(err)
	}
	if again != api {
		t.Error("expected the registered instance on the second resolve")
	}
}

func TestResolve_versioned(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "httpbin/v2.json", "https://v2.example.com")

	r := client.NewResolver(client.WithLocalSource("dir", source.NewLocal(dir)))
	api, err := r.Resolve(context.Background(), "httpbin", client.WithVersion("v2"))
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if api.URI() != "https://v2.example.com" {
		t.Errorf("URI: got %q", api.URI())
	}
}

func TestRegisterLocalSource_replacesLabel(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeDoc(t, b, "httpbin.json", "https://b.example.com")

	r := client.NewResolver()
	r.RegisterLocalSource("main", a)
	r.RegisterLocalSource("other", t.TempDir())
	r.RegisterLocalSource("main", b)

	labels := r.Labels()
	if len(labels) != 2 || labels[0] != "main" || labels[1] != "other" {
		t.Errorf("Labels: got %v", labels)
	}
	api, err := r.Resolve(context.Background(), "httpbin")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if api.URI() != "https://b.example.com" {
		t.Errorf("URI: got %q", api.URI())
	}
}

func TestResolve_remoteOnMiss(t *testing.T) {
	srv, hits := remoteRegistry(t, "https://remote.example.com")
	r := client.NewResolver(client.WithRemoteSource(source.NewRemote(srv.URL, 0)))

	api, err := r.Resolve(context.Background(), "httpbin")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if api.URI() != "https://remote.example.com" {
		t.Errorf("URI: got %q", api.URI())
	}
	if _, err := r.Resolve(context.Background(), "httpbin"); err != nil {
		t.Fatal(err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("remote hits: got %d, want 1", n)
	}

	_, err = r.Resolve(context.Background(), "missing")
	var nrErr *client.NotRegisteredError
	if !errors.As(err, &nrErr) {
		t.Errorf("missing: expected NotRegisteredError, got %v", err)
	}
}

func TestResolve_localBeatsRemote(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "httpbin.json", "https://local.example.com")
	srv, hits := remoteRegistry(t, "https://remote.example.com")

	r := client.NewResolver(
		client.WithLocalSource("dir", source.NewLocal(dir)),
		client.WithRemoteSource(source.NewRemote(srv.URL, 0)),
		client.WithRemotePolicy(client.RemoteAlways),
	)
	api, err := r.Resolve(context.Background(), "httpbin")
	if err != nil {
		t.Fatal(err)
	}
	if api.URI() != "https://local.example.com" {
		t.Errorf("URI: got %q", api.URI())
	}
	if n := hits.Load(); n != 0 {
		t.Errorf("remote hits: got %d, want 0", n)
	}
}

func TestResolve_remoteAlwaysRefetchesOnCacheHit(t *testing.T) {
	srv, hits := remoteRegistry(t, "https://remote.example.com")
	r := client.NewResolver(
		client.WithRemoteSource(source.NewRemote(srv.URL, 0)),
		client.WithRemotePolicy(client.RemoteAlways),
	)

	first, err := r.Resolve(context.Background(), "httpbin")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(context.Background(), "httpbin")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the registered instance to be kept")
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("remote hits: got %d, want 2", n)
	}

	// A failing remote does not discard the registered client.
	r.SetRemoteSource(source.NewRemote("http://127.0.0.1:1", 0))
	third, err := r.Resolve(context.Background(), "httpbin")
	if err != nil {
		t.Fatalf("Resolve with failing remote: %v", err)
	}
	if third != first {
		t.Error("expected the registered instance after remote failure")
	}
}

func TestResolve_remoteAlwaysKeepsHitOnNameMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"name":"other","uri":"https://other.example.com","endpoints":{}}`))
	}))
	defer srv.Close()

	b := client.NewBuilder()
	cached, err := b.BuildMap(map[string]any{
		"name":      "httpbin",
		"uri":       "https://httpbin.example.com",
		"endpoints": map[string]any{},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := client.NewResolver(
		client.WithBuilder(b),
		client.WithRemoteSource(source.NewRemote(srv.URL, 0)),
		client.WithRemotePolicy(client.RemoteAlways),
	)
	got, err := r.Resolve(context.Background(), "httpbin")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != cached {
		t.Errorf("Resolve: got client %q, want the registered httpbin client", got.Name())
	}
	if b.Registry().Has("other") {
		t.Error("mismatched remote document should not be registered")
	}
}

func TestResolve_sessionOptions(t *testing.T) {
	srv := echoServer(t)
	dir := t.TempDir()
	writeDoc(t, dir, "httpbin.json", srv.URL)

	r := client.NewResolver()
	r.RegisterLocalSource("dir", dir)

	if _, err := r.Resolve(context.Background(), "httpbin",
		client.WithSessionOptions(client.Options{"headers": map[string]any{"X-A": "1"}})); err != nil {
		t.Fatal(err)
	}
	api, err := r.Resolve(context.Background(), "httpbin",
		client.WithSessionOptions(client.Options{"headers": map[string]any{"X-B": "2"}}))
	if err != nil {
		t.Fatal(err)
	}

	got := call(t, api, "get", nil, nil)
	if got.Headers["X-A"] == nil || got.Headers["X-B"] == nil {
		t.Errorf("headers: got %v, want X-A and X-B", got.Headers)
	}
}

func TestResolve_concurrentSingleInstance(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "httpbin.json", "https://example.com")
	r := client.NewResolver()
	r.RegisterLocalSource("dir", dir)

	var wg sync.WaitGroup
	apis := make([]*client.API, 8)
	for i := range apis {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			apis[i], _ = r.Resolve(context.Background(), "httpbin")
		}(i)
	}
	wg.Wait()
	for i, a := range apis {
		if a == nil || a != apis[0] {
			t.Errorf("apis[%d] differs from apis[0]", i)
		}
	}
}

func TestParseRemotePolicy(t *testing.T) {
	if p, err := client.ParseRemotePolicy("always"); err != nil || p != client.RemoteAlways {
		t.Errorf("always: got %v, %v", p, err)
	}
	if p, err := client.ParseRemotePolicy(""); err != nil || p != client.RemoteOnMiss {
		t.Errorf("default: got %v, %v", p, err)
	}
	if _, err := client.ParseRemotePolicy("sometimes"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
