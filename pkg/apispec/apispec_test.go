package apispec_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/canapi/pkg/apispec"
)

const httpbinJSON = `{
  "name": "httpbin",
  "uri": "https://httpbin.org",
  "endpoints": {
    "stream": {"method": "GET", "path": "/stream/${n}"},
    "anything": {
      "get":  {"method": "get",  "path": "/anything"},
      "post": {"method": "post", "path": "/anything", "kwargs": {"params": {"p0": "1"}}}
    }
  },
  "session": {"headers": {"Accept": "application/json"}}
}`

func TestDecode_json(t *testing.T) {
	doc, err := apispec.Decode([]byte(httpbinJSON), apispec.FormatJSON)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}

	if doc.Name != "httpbin" {
		t.Errorf("Name: got %q, want %q", doc.Name, "httpbin")
	}
	if doc.URI != "https://httpbin.org" {
		t.Errorf("URI: got %q", doc.URI)
	}

	stream := doc.Endpoints["stream"]
	if !stream.IsEndpoint() {
		t.Fatal("stream should be an endpoint")
	}
	if stream.Endpoint.Path != "/stream/${n}" {
		t.Errorf("stream path: got %q", stream.Endpoint.Path)
	}

	group := doc.Endpoints["anything"]
	if group.IsEndpoint() {
		t.Fatal("anything should be a group")
	}
	post := group.Children["post"]
	if post.Endpoint.Method != "post" {
		t.Errorf("post method: got %q", post.Endpoint.Method)
	}
	if _, ok := post.Endpoint.Kwargs["params"]; !ok {
		t.Error("post kwargs: expected params")
	}
	if doc.Session["headers"] == nil {
		t.Error("session headers: expected value")
	}
}

func TestDecode_yamlAndToml(t *testing.T) {
	yamlDoc := `
name: github
uri: https://api.github.com
endpoints:
  repos:
    list:
      method: GET
      path: /users/${user}/repos
`
	tomlDoc := `
name = "github"
uri = "https://api.github.com"

[endpoints.repos.list]
method = "GET"
path = "/users/${user}/repos"
`
	for format, data := range map[apispec.Format]string{
		apispec.FormatYAML: yamlDoc,
		apispec.FormatTOML: tomlDoc,
	} {
		doc, err := apispec.Decode([]byte(data), format)
		if err != nil {
			t.Fatalf("%s: Decode() error: %v", format, err)
		}
		list := doc.Endpoints["repos"].Children["list"]
		if !list.IsEndpoint() {
			t.Fatalf("%s: repos.list should be an endpoint", format)
		}
		if list.Endpoint.Path != "/users/${user}/repos" {
			t.Errorf("%s: path: got %q", format, list.Endpoint.Path)
		}
	}
}

func TestDecode_emptyEndpoints(t *testing.T) {
	doc, err := apispec.Decode([]byte(`{"name":"httpbin","uri":"https://httpbin.org","endpoints":{}}`), apispec.FormatJSON)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(doc.Endpoints) != 0 {
		t.Errorf("Endpoints: got %d, want 0", len(doc.Endpoints))
	}
}

func TestDecode_invalid(t *testing.T) {
	cases := []struct {
		name     string
		doc      string
		wantPath string
	}{
		{"missing name", `{"uri":"https://x.io","endpoints":{}}`, "name"},
		{"missing endpoints", `{"name":"x","uri":"https://x.io"}`, "endpoints"},
		{"bad uri", `{"name":"x","uri":"not a url","endpoints":{}}`, "uri"},
		{"scalar node", `{"name":"x","uri":"https://x.io","endpoints":{"a":{"b":42}}}`, "a.b"},
		{"missing method", `{"name":"x","uri":"https://x.io","endpoints":{"a":{"path":"/a"}}}`, "a.method"},
		{"non-string path", `{"name":"x","uri":"https://x.io","endpoints":{"g":{"a":{"method":"GET","path":7}}}}`, "g.a.path"},
		{"bad kwargs", `{"name":"x","uri":"https://x.io","endpoints":{"a":{"method":"GET","path":"/a","kwargs":[]}}}`, "a.kwargs"},
		{"bad session", `{"name":"x","uri":"https://x.io","endpoints":{},"session":"nope"}`, "session"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := apispec.Decode([]byte(tc.doc), apispec.FormatJSON)
			var cfgErr *apispec.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *apispec.ConfigError, got %v", err)
			}
			if cfgErr.Path != tc.wantPath {
				t.Errorf("Path: got %q, want %q", cfgErr.Path, tc.wantPath)
			}
		})
	}
}

func TestDocument_jsonRoundTrip(t *testing.T) {
	var doc apispec.Document
	if err := json.Unmarshal([]byte(httpbinJSON), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	out, err := json.Marshal(&doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := apispec.Decode(out, apispec.FormatJSON)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if !again.Endpoints["anything"].Children["get"].IsEndpoint() {
		t.Error("anything.get lost its endpoint after round trip")
	}
}

func TestValidate_programmatic(t *testing.T) {
	doc := &apispec.Document{
		Name: "x",
		URI:  "https://x.io",
		Endpoints: map[string]*apispec.Node{
			"ok":  apispec.Leaf("GET", "/ok"),
			"bad": {},
		},
	}
	err := apispec.Validate(doc)
	var cfgErr *apispec.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *apispec.ConfigError, got %v", err)
	}
	if cfgErr.Path != "bad" {
		t.Errorf("Path: got %q, want %q", cfgErr.Path, "bad")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "httpbin.json")
	if err := os.WriteFile(path, []byte(httpbinJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := apispec.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if doc.Name != "httpbin" {
		t.Errorf("Name: got %q", doc.Name)
	}
}
