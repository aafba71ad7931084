package types

import (
	"strconv"
	"strings"
)

// Id kinds. Every record id has the form <kind>_<n> with n >= 1. The kind is
// also the counter name used by Counters.Next.
const (
	KindTask      = "task"
	KindNote      = "note"
	KindChecklist = "checklist"
	KindProject   = "project"
	KindPerson    = "person"
	KindBoard     = "board"
	KindTag       = "tag"
	KindTemplate  = "template"
	KindWeekItem  = "witem"
	KindRow       = "row"
	KindColumn    = "col"
	KindGroup     = "group"
)

// FormatID builds an id from a kind and a sequence number.
func FormatID(kind string, n int) string {
	return kind + "_" + strconv.Itoa(n)
}

// ParseID splits an id at its last underscore. ok is false when the id has no
// kind prefix or the suffix is not a positive integer.
func ParseID(id string) (kind string, n int, ok bool) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return id[:i], n, true
}

// MaxSuffix returns the largest numeric suffix among ids of the given kind.
func MaxSuffix[V any](kind string, m map[string]V) int {
	hi := 0
	for id := range m {
		k, n, ok := ParseID(id)
		if ok && k == kind && n > hi {
			hi = n
		}
	}
	return hi
}
