package bibstore

import (
	"strings"

	"go.etcd.io/bbolt"
)

// Record is one bibliographic metadata record as produced by a record source.
type Record struct {
	// Ident is the primary identifier.
	Ident string
	// DOI is the optional secondary identifier.
	DOI string
	// Payload is the JSON document, stored verbatim.
	Payload string

	// Line is the position in the source, for diagnostics only.
	Line int
}

// NormalizeKey lowercases k and drops surrounding whitespace. Both the
// loader and the lookups go through it.
func NormalizeKey(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}

func validateKey(field, key string, line int) error {
	if key == "" {
		return &ValidationError{Line: line, Field: field, Msg: "missing"}
	}
	if len(key) > bbolt.MaxKeySize {
		return &ValidationError{Line: line, Field: field, Msg: "too long"}
	}
	return nil
}
