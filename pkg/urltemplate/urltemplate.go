// Package urltemplate expands endpoint path templates.
//
// Template format:
//
//	/stream/${n}        braced placeholder
//	/users/$id/repos    bare placeholder (identifier characters only)
//	/price/$$           escaped dollar sign, expands to "/price/$"
//
// Placeholder names start with a letter or underscore and continue with
// letters, digits or underscores. Substitution is literal: values are not
// escaped.
package urltemplate

import (
	"fmt"
	"strings"
)

// Error is returned when a template references a placeholder that has no
// value, or contains a malformed placeholder.
type Error struct {
	Template string
	Token    string // empty for malformed placeholders
	Offset   int
}

func (e *Error) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid placeholder at offset %d in template %q", e.Offset, e.Template)
	}
	return fmt.Sprintf("missing value for placeholder %q in template %q", e.Token, e.Template)
}

// Expand substitutes every placeholder in tmpl with its value from values.
// Values not referenced by the template are ignored.
func Expand(tmpl string, values map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	err := scan(tmpl, func(lit string, token string, offset int) error {
		b.WriteString(lit)
		if token == "" {
			return nil
		}
		v, ok := values[token]
		if !ok {
			return &Error{Template: tmpl, Token: token, Offset: offset}
		}
		b.WriteString(v)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Placeholders returns the distinct placeholder names in tmpl in order of
// first appearance.
func Placeholders(tmpl string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	err := scan(tmpl, func(_ string, token string, _ int) error {
		if token != "" && !seen[token] {
			seen[token] = true
			names = append(names, token)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// scan walks tmpl and calls emit with each literal run and the placeholder
// that follows it (token is empty for a trailing literal).
func scan(tmpl string, emit func(lit, token string, offset int) error) error {
	var lit strings.Builder
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		if c != '$' {
			lit.WriteByte(c)
			i++
			continue
		}

		rest := tmpl[i+1:]
		switch {
		case strings.HasPrefix(rest, "$"):
			lit.WriteByte('$')
			i += 2
		case strings.HasPrefix(rest, "{"):
			end := strings.IndexByte(rest, '}')
			if end < 0 || !isIdent(rest[1:end]) {
				return &Error{Template: tmpl, Offset: i}
			}
			if err := emit(lit.String(), rest[1:end], i); err != nil {
				return err
			}
			lit.Reset()
			i += end + 2
		default:
			n := identLen(rest)
			if n == 0 {
				return &Error{Template: tmpl, Offset: i}
			}
			if err := emit(lit.String(), rest[:n], i); err != nil {
				return err
			}
			lit.Reset()
			i += n + 1
		}
	}
	return emit(lit.String(), "", len(tmpl))
}

func identLen(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_', 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9' && i > 0:
		default:
			return i
		}
	}
	return len(s)
}

func isIdent(s string) bool {
	return s != "" && identLen(s) == len(s)
}
