package client

import "net/http"

// Persist merges opts into the session's persistent configuration.
//
// Only keys listed in SessionFields are applied; anything else is ignored so
// that call options and session options can share one keyword surface.
// Merge rules, per field:
//   - headers: case-insensitive merge, new names overwrite old ones
//   - current value and new value are both mappings: shallow merge
//   - otherwise: the new value replaces the old one
func Persist(s Session, opts Options) {
	if s == nil || len(opts) == 0 {
		return
	}
	s.Update(func(fields Fields) {
		for _, f := range SessionFields {
			v, ok := opts[string(f)]
			if !ok {
				continue
			}
			fields[f] = mergeField(f, fields[f], v)
		}
	})
}

func mergeField(f Field, current, next any) any {
	if f == FieldHeaders {
		merged := http.Header{}
		if cur, ok := current.(http.Header); ok {
			merged = cur.Clone()
		}
		nh, ok := toHeader(next)
		if !ok {
			return merged
		}
		for k, vs := range nh {
			merged[k] = vs
		}
		return merged
	}

	cur, curIsMap := toMap(current)
	nm, nextIsMap := toMap(next)
	if curIsMap && nextIsMap {
		return mergeMaps(cur, nm)
	}
	if nextIsMap {
		return mergeMaps(nil, nm)
	}
	return next
}
