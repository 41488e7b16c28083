package apispec

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a configuration document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Extensions lists the file extensions tried by file-based sources, in
// lookup order.
var Extensions = []string{".json", ".yaml", ".yml", ".toml"}

// FormatFromPath infers the format from a file extension. Unknown
// extensions are treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Decode parses data in the given format into a validated Document.
func Decode(data []byte, format Format) (*Document, error) {
	var raw map[string]any
	switch format {
	case FormatJSON, "":
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, &ConfigError{Reason: "decode json", Err: err}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &ConfigError{Reason: "decode yaml", Err: err}
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, &ConfigError{Reason: "decode toml", Err: err}
		}
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
	if raw == nil {
		return nil, &ConfigError{Reason: "document is empty"}
	}
	return FromMap(raw)
}

// LoadFile reads and decodes the document at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Decode(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return doc, nil
}
