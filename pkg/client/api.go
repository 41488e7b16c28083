package client

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// MemberKind distinguishes the two kinds of API members.
type MemberKind int

const (
	MemberEndpoint MemberKind = iota + 1
	MemberGroup
)

func (k MemberKind) String() string {
	switch k {
	case MemberEndpoint:
		return "endpoint"
	case MemberGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Member is one entry of an API: either an Endpoint or a nested group.
type Member struct {
	Kind     MemberKind
	Endpoint *Endpoint
	Group    *API
}

// API is a client built from a configuration document. The root API is the
// registry entry for its name; nested groups are views that share the
// root's name, base URI and session.
type API struct {
	name    string
	uri     string
	path    string // dotted path within the root; empty for the root
	session Session
	members map[string]Member
	logger  *zap.Logger
}

// Name returns the API name.
func (a *API) Name() string { return a.name }

// URI returns the base URI.
func (a *API) URI() string { return a.uri }

// Path returns the dotted path of a group within its root API.
func (a *API) Path() string { return a.path }

// Session returns the session shared by every API with this name.
func (a *API) Session() Session { return a.session }

// Keys returns the member names in sorted order.
func (a *API) Keys() []string {
	keys := make([]string, 0, len(a.members))
	for k := range a.members {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Member returns the member stored under key.
func (a *API) Member(key string) (Member, bool) {
	m, ok := a.members[key]
	return m, ok
}

// Endpoint returns the endpoint stored under key.
func (a *API) Endpoint(key string) (*Endpoint, bool) {
	m, ok := a.members[key]
	if !ok || m.Kind != MemberEndpoint {
		return nil, false
	}
	return m.Endpoint, true
}

// Group returns the nested group stored under key.
func (a *API) Group(key string) (*API, bool) {
	m, ok := a.members[key]
	if !ok || m.Kind != MemberGroup {
		return nil, false
	}
	return m.Group, true
}

// Lookup walks a dotted path ("anything.get") to an endpoint.
func (a *API) Lookup(path string) (*Endpoint, error) {
	parts := strings.Split(path, ".")
	cur := a
	for i, part := range parts {
		m, ok := cur.members[part]
		if !ok {
			return nil, fmt.Errorf("api %q has no member %q", a.name, strings.Join(parts[:i+1], "."))
		}
		last := i == len(parts)-1
		switch {
		case last && m.Kind == MemberEndpoint:
			return m.Endpoint, nil
		case last:
			return nil, fmt.Errorf("api %q: %q is a group, not an endpoint", a.name, path)
		case m.Kind != MemberGroup:
			return nil, fmt.Errorf("api %q: %q is an endpoint, not a group", a.name, strings.Join(parts[:i+1], "."))
		}
		cur = m.Group
	}
	return nil, fmt.Errorf("api %q: empty member path", a.name)
}

// Persist merges opts into the shared session. See Persist.
func (a *API) Persist(opts Options) {
	Persist(a.session, opts)
}

// Auth layers credentials (or any other session option) onto the shared
// session without clobbering unrelated state.
//
//	api.Auth(client.Options{"headers": map[string]any{"X-Api-Key": key}})
func (a *API) Auth(opts Options) {
	a.Persist(opts)
}
