// Package apispec defines the configuration document that describes an HTTP
// API: its name, base URI, endpoint tree and default session options.
//
// A document looks like:
//
//	{
//	  "name": "httpbin",
//	  "uri": "https://httpbin.org",
//	  "endpoints": {
//	    "stream": {"method": "GET", "path": "/stream/${n}"},
//	    "anything": {
//	      "get":  {"method": "GET",  "path": "/anything"},
//	      "post": {"method": "POST", "path": "/anything", "kwargs": {"json": {}}}
//	    }
//	  },
//	  "session": {"headers": {"Accept": "application/json"}}
//	}
//
// A node carrying a "path" key is an endpoint; any other mapping is a group
// of nested nodes.
package apispec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Document is a decoded configuration document.
type Document struct {
	Name      string           `json:"name" validate:"required"`
	URI       string           `json:"uri" validate:"required,url"`
	Version   string           `json:"version,omitempty"`
	Endpoints map[string]*Node `json:"endpoints"`
	Session   map[string]any   `json:"session,omitempty"`
}

// EndpointSpec binds one HTTP method to one path template.
type EndpointSpec struct {
	Method string         `json:"method"`
	Path   string         `json:"path"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Node is one entry of the endpoint tree. Exactly one of Endpoint and
// Children is set.
type Node struct {
	Endpoint *EndpointSpec
	Children map[string]*Node
}

// Leaf returns a Node wrapping spec.
func Leaf(method, path string) *Node {
	return &Node{Endpoint: &EndpointSpec{Method: method, Path: path}}
}

// Group returns a Node wrapping children.
func Group(children map[string]*Node) *Node {
	if children == nil {
		children = map[string]*Node{}
	}
	return &Node{Children: children}
}

// IsEndpoint reports whether n is a leaf.
func (n *Node) IsEndpoint() bool { return n != nil && n.Endpoint != nil }

// MarshalJSON encodes a leaf as its EndpointSpec and a group as a plain object.
func (n *Node) MarshalJSON() ([]byte, error) {
	if n.IsEndpoint() {
		return json.Marshal(n.Endpoint)
	}
	children := n.Children
	if children == nil {
		children = map[string]*Node{}
	}
	return json.Marshal(children)
}

// UnmarshalJSON decodes a node, distinguishing leaves by the "path" key.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseNode(raw, "")
	if err != nil {
		return err
	}
	*n = *parsed
	return nil
}

// UnmarshalJSON decodes a document and validates its endpoint tree.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return &ConfigError{Reason: "document is not a JSON object", Err: err}
	}
	parsed, err := FromMap(raw)
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// FromMap builds a Document from a generic decoded mapping, as produced by
// JSON, YAML or TOML decoders.
func FromMap(m map[string]any) (*Document, error) {
	doc := &Document{}

	var ok bool
	if doc.Name, ok = m["name"].(string); !ok {
		return nil, &ConfigError{Path: "name", Reason: "must be a string"}
	}
	if doc.URI, ok = m["uri"].(string); !ok {
		return nil, &ConfigError{Path: "uri", Reason: "must be a string"}
	}
	if v, present := m["version"]; present {
		if doc.Version, ok = v.(string); !ok {
			return nil, &ConfigError{Path: "version", Reason: "must be a string"}
		}
	}

	rawEndpoints, present := m["endpoints"]
	if !present {
		return nil, &ConfigError{Path: "endpoints", Reason: "is required"}
	}
	endpoints, ok := asMap(rawEndpoints)
	if !ok {
		return nil, &ConfigError{Path: "endpoints", Reason: "must be a mapping"}
	}
	children, err := parseChildren(endpoints, "")
	if err != nil {
		return nil, err
	}
	doc.Endpoints = children

	if rawSession, present := m["session"]; present && rawSession != nil {
		session, ok := asMap(rawSession)
		if !ok {
			return nil, &ConfigError{Path: "session", Reason: "must be a mapping"}
		}
		doc.Session = session
	}

	if err := Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func parseChildren(m map[string]any, prefix string) (map[string]*Node, error) {
	out := make(map[string]*Node, len(m))
	for _, key := range sortedKeys(m) {
		node, err := parseNode(m[key], joinPath(prefix, key))
		if err != nil {
			return nil, err
		}
		out[key] = node
	}
	return out, nil
}

func parseNode(raw any, path string) (*Node, error) {
	m, ok := asMap(raw)
	if !ok {
		return nil, &ConfigError{Path: path, Reason: "must be an endpoint or a mapping of endpoints"}
	}

	if _, isLeaf := m["path"]; !isLeaf {
		children, err := parseChildren(m, path)
		if err != nil {
			return nil, err
		}
		return &Node{Children: children}, nil
	}

	spec := &EndpointSpec{}
	if spec.Path, ok = m["path"].(string); !ok {
		return nil, &ConfigError{Path: joinPath(path, "path"), Reason: "must be a string"}
	}
	if spec.Method, ok = m["method"].(string); !ok || strings.TrimSpace(spec.Method) == "" {
		return nil, &ConfigError{Path: joinPath(path, "method"), Reason: "must be a non-empty string"}
	}
	if rawKwargs, present := m["kwargs"]; present && rawKwargs != nil {
		kwargs, ok := asMap(rawKwargs)
		if !ok {
			return nil, &ConfigError{Path: joinPath(path, "kwargs"), Reason: "must be a mapping"}
		}
		spec.Kwargs = kwargs
	}
	return &Node{Endpoint: spec}, nil
}

// asMap normalises the mapping types produced by the supported decoders.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
