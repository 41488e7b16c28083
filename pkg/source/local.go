package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/jmerrifield20/canapi/pkg/apispec"
)

// Local reads documents from a directory laid out as {dir}/{name}.json or
// {dir}/{name}/{version}.json. YAML and TOML siblings are tried after JSON.
type Local struct {
	dir string
}

// NewLocal returns a Local source rooted at dir.
func NewLocal(dir string) *Local {
	return &Local{dir: dir}
}

// Dir returns the root directory.
func (l *Local) Dir() string { return l.dir }

// Lookup implements Source.
func (l *Local) Lookup(_ context.Context, name, version string) (*apispec.Document, error) {
	if err := checkNames(name, version); err != nil {
		return nil, err
	}
	base := filepath.Join(l.dir, name)
	if version != "" {
		base = filepath.Join(l.dir, name, version)
	}

	for _, ext := range apispec.Extensions {
		path := base + ext
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		return apispec.LoadFile(path)
	}
	return nil, ErrNotFound
}

// Publish writes doc as JSON to its canonical location, creating
// directories as needed. The publisher is not recorded.
func (l *Local) Publish(_ context.Context, doc *apispec.Document, _ string) error {
	if err := checkNames(doc.Name, doc.Version); err != nil {
		return fmt.Errorf("invalid document name %q: %w", Key(doc.Name, doc.Version), err)
	}
	path := filepath.Join(l.dir, doc.Name+".json")
	if doc.Version != "" {
		path = filepath.Join(l.dir, doc.Name, doc.Version+".json")
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// List returns every document found under the directory, sorted by name
// then version.
func (l *Local) List(_ context.Context) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == l.dir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if !slices.Contains(apispec.Extensions, strings.ToLower(ext)) {
			return nil
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(strings.TrimSuffix(rel, ext)), "/")
		switch len(parts) {
		case 1:
			entries = append(entries, Entry{Name: parts[0]})
		case 2:
			entries = append(entries, Entry{Name: parts[0], Version: parts[1]})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.dir, err)
	}
	sortEntries(entries)
	return dedupe(entries), nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name != entries[j].Name {
			return entries[i].Name < entries[j].Name
		}
		return entries[i].Version < entries[j].Version
	})
}

// dedupe drops repeats left by format siblings (x.json and x.yaml).
func dedupe(entries []Entry) []Entry {
	out := entries[:0]
	for i, e := range entries {
		if i > 0 && e == entries[i-1] {
			continue
		}
		out = append(out, e)
	}
	return out
}
