// Package source locates API configuration documents by name and optional
// version. Sources are consulted by client.Resolver when no client with the
// requested name has been built yet.
package source

import (
	"context"
	"errors"
	"strings"

	"github.com/jmerrifield20/canapi/pkg/apispec"
)

// ErrNotFound is returned when a source has no document for a name/version.
var ErrNotFound = errors.New("api document not found")

// Source looks up configuration documents.
type Source interface {
	Lookup(ctx context.Context, name, version string) (*apispec.Document, error)
}

// Entry describes one stored document.
type Entry struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Key returns "name" or "name:version".
func Key(name, version string) string {
	if version == "" {
		return name
	}
	return name + ":" + version
}

// validName rejects names that would escape a directory or URL path segment.
func validName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}

func checkNames(name, version string) error {
	if !validName(name) || (version != "" && !validName(version)) {
		return ErrNotFound
	}
	return nil
}
