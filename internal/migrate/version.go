package migrate

import (
	"strconv"
	"strings"
)

// Version is a schema version of the persisted document.
type Version string

// Known versions, oldest first.
const (
	V1  Version = "1.0"
	V2  Version = "2.0"
	V25 Version = "2.5"
	V3  Version = "3.0"
	V4  Version = "4.0"
	V5  Version = "5.0"
)

// Current is the version every migration ends at.
const Current = V5

// Versions lists every known version in upgrade order.
var Versions = []Version{V1, V2, V25, V3, V4, V5}

// Next returns the version one step after v. ok is false for Current and for
// unknown versions.
func (v Version) Next() (Version, bool) {
	for i, known := range Versions {
		if known == v && i+1 < len(Versions) {
			return Versions[i+1], true
		}
	}
	return "", false
}

// Before reports whether v is older than other.
func (v Version) Before(other Version) bool {
	return v.index() < other.index()
}

func (v Version) index() int {
	for i, known := range Versions {
		if known == v {
			return i
		}
	}
	return -1
}

// Label returns the short form used in step names ("v2.5", "v3").
func (v Version) Label() string {
	return "v" + strings.TrimSuffix(string(v), ".0")
}

// ParseVersion recognizes version values as written by every producer:
// strings such as "2.5", "v3", "5.0" and bare numbers.
func ParseVersion(v any) (Version, bool) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(asString(v), "v"), "V"))
	if s == "" {
		return "", false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", false
	}
	for _, known := range Versions {
		kf, _ := strconv.ParseFloat(string(known), 64)
		if kf == f {
			return known, true
		}
	}
	return "", false
}

// nestedEntityBuckets are the per-type maps of the v4 entity layout.
var nestedEntityBuckets = []string{"tasks", "notes", "checklists", "projects"}

// DetectVersion returns the version of doc. An explicit, known version field
// wins. Otherwise the shape decides, checked newest first: a flat entities map
// is v5, nested entity buckets v4, weeklyPlans v3, templates v2.5, boards v2,
// and anything else v1. DetectVersion never fails.
func DetectVersion(doc Doc) Version {
	if v, ok := ParseVersion(doc["version"]); ok {
		return v
	}
	if entities, ok := asMap(doc["entities"]); ok {
		if isNestedEntities(entities) {
			return V4
		}
		return V5
	}
	if _, ok := doc["weeklyPlans"]; ok {
		return V3
	}
	if _, ok := doc["templates"]; ok {
		return V25
	}
	if _, ok := asMap(doc["boards"]); ok {
		return V2
	}
	return V1
}

// isNestedEntities reports whether an entities map uses the v4 bucket layout.
// A null bucket counts: no v5 entity id is a bare bucket name.
func isNestedEntities(entities map[string]any) bool {
	for _, bucket := range nestedEntityBuckets {
		v, ok := entities[bucket]
		if !ok {
			continue
		}
		switch v.(type) {
		case map[string]any, []any, nil:
			return true
		}
	}
	return false
}
