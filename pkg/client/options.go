package client

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Options is a loosely-typed set of request or session options, keyed the
// same way as the "kwargs" and "session" sections of a configuration
// document (for example "headers", "params", "auth", "timeout").
type Options map[string]any

// Merge returns a new Options holding o overlaid with over. Keys present in
// over win; the merge is one level deep.
func (o Options) Merge(over Options) Options {
	out := make(Options, len(o)+len(over))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// RequestOptions are the per-call options understood by Session.Do.
type RequestOptions struct {
	Params  map[string]any
	Headers http.Header
	JSON    any
	HasJSON bool
	Data    any
	Cookies map[string]any
	Auth    any
	Timeout time.Duration
}

// ParseRequestOptions converts call options into RequestOptions. Unknown
// keys are rejected with ErrInvalidOption.
func ParseRequestOptions(o Options) (RequestOptions, error) {
	var ro RequestOptions
	for key, v := range o {
		switch key {
		case "params":
			m, ok := toMap(v)
			if !ok {
				return ro, fmt.Errorf("%w: params must be a mapping", ErrInvalidOption)
			}
			ro.Params = m
		case "headers":
			h, ok := toHeader(v)
			if !ok {
				return ro, fmt.Errorf("%w: headers must be a mapping", ErrInvalidOption)
			}
			ro.Headers = h
		case "json":
			ro.JSON = v
			ro.HasJSON = true
		case "data":
			ro.Data = v
		case "cookies":
			m, ok := toMap(v)
			if !ok {
				return ro, fmt.Errorf("%w: cookies must be a mapping", ErrInvalidOption)
			}
			ro.Cookies = m
		case "auth":
			ro.Auth = v
		case "timeout":
			d, ok := toDuration(v)
			if !ok {
				return ro, fmt.Errorf("%w: timeout must be seconds or a duration string", ErrInvalidOption)
			}
			ro.Timeout = d
		default:
			return ro, fmt.Errorf("%w: %q", ErrInvalidOption, key)
		}
	}
	return ro, nil
}

// toMap accepts the mapping shapes produced by document decoders and by
// callers building options in code.
func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Options:
		return map[string]any(m), true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
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

// toHeader converts a mapping to an http.Header. Keys are canonicalised, so
// later merges are case-insensitive.
func toHeader(v any) (http.Header, bool) {
	var raw map[string][]string
	switch h := v.(type) {
	case http.Header:
		raw = h
	case map[string][]string:
		raw = h
	}
	if raw != nil {
		out := make(http.Header, len(raw))
		for k, vs := range raw {
			for _, s := range vs {
				out.Add(k, s)
			}
		}
		return out, true
	}

	m, ok := toMap(v)
	if !ok {
		return nil, false
	}
	out := make(http.Header, len(m))
	for k, val := range m {
		for _, s := range toStrings(val) {
			out.Add(k, s)
		}
	}
	return out, true
}

func toStrings(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, stringify(item))
		}
		return out
	default:
		return []string{stringify(v)}
	}
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(v)
	}
}

func toDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case float64:
		return time.Duration(d * float64(time.Second)), true
	case int:
		return time.Duration(d) * time.Second, true
	case int64:
		return time.Duration(d) * time.Second, true
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			secs, ferr := strconv.ParseFloat(d, 64)
			if ferr != nil {
				return 0, false
			}
			return time.Duration(secs * float64(time.Second)), true
		}
		return parsed, true
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
