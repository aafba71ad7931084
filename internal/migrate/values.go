package migrate

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/boardstore/pkg/types"
)

// Doc is a parsed document of any version. Numbers decoded from JSON are
// json.Number; documents built in Go may carry float64 or int.
type Doc = map[string]any

// deepCopy copies maps and slices recursively. Scalars are shared.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	case []string:
		return slices.Clone(t)
	}
	return v
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// asSlice accepts []any and []string.
func asSlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// asString renders strings and numbers as strings.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

// asInt returns an integer value, accepting numeric strings.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n, true
		}
	}
	return 0, false
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	}
	return false
}

// firstString returns the first non-empty string among the given keys.
func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(asString(m[k])); s != "" {
			return s
		}
	}
	return ""
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// prefixedNum extracts n from "n" or "<kind>_n". ok is false otherwise.
func prefixedNum(v any, kind string) (int, bool) {
	if n, ok := asInt(v); ok {
		return n, n > 0
	}
	k, n, ok := types.ParseID(asString(v))
	return n, ok && k == kind
}

// counterValue reads a counter, treating anything unparseable as zero.
func counterValue(doc Doc, key string) int {
	n, _ := asInt(doc[key])
	return n
}

// raiseCounter sets doc[key] to max(current, n).
func raiseCounter(doc Doc, key string, n int) {
	if counterValue(doc, key) < n {
		doc[key] = n
	}
}

// objects returns the object elements of a collection stored either as an
// id-keyed map or as an array. Keys of a map are returned alongside; array
// elements get an empty key.
func objects(v any) (keys []string, objs []map[string]any) {
	if m, ok := asMap(v); ok {
		for _, k := range sortedKeys(m) {
			if o, ok := asMap(m[k]); ok {
				keys = append(keys, k)
				objs = append(objs, o)
			}
		}
		return keys, objs
	}
	if s, ok := asSlice(v); ok {
		for _, e := range s {
			if o, ok := asMap(e); ok {
				keys = append(keys, "")
				objs = append(objs, o)
			}
		}
	}
	return keys, objs
}

// parseTime accepts RFC 3339 strings, plain dates and epoch milliseconds.
func parseTime(v any) (time.Time, bool) {
	if s, ok := v.(string); ok {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", time.DateOnly} {
			if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	}
	if ms, ok := asInt(v); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

// normalizeRef turns a bare number into <kind>_n and leaves other ids alone.
func normalizeRef(v any, kind string) string {
	if n, ok := asInt(v); ok {
		if n <= 0 {
			return ""
		}
		return types.FormatID(kind, n)
	}
	return strings.TrimSpace(asString(v))
}
