package gridbase

import (
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/microcosm-cc/bluemonday"
)

var (
	// storageNameRe gates column storage names embedded (quoted) in SQL.
	storageNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
	// aliasRe gates table aliases and projection aliases.
	aliasRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	htmlStripper = bluemonday.StrictPolicy()
)

// SanitizeValue recursively walks primitives, arrays and objects, stripping
// HTML tags and attributes from every string while preserving text content.
// Map keys are sanitized as well so hostile nested keys cannot smuggle
// markup into the stored blob.
func SanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return htmlStripper.Sanitize(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = SanitizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[htmlStripper.Sanitize(k)] = SanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

// SanitizeRecord sanitizes every value of a logical record in place-safe
// fashion (a new record is returned).
func SanitizeRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[htmlStripper.Sanitize(k)] = SanitizeValue(v)
	}
	return out
}

// ValidStorageName reports whether name is a legal column storage name.
func ValidStorageName(name string) bool {
	return storageNameRe.MatchString(name)
}

// ValidAlias reports whether name is a legal SQL alias.
func ValidAlias(name string) bool {
	return aliasRe.MatchString(name)
}

// EnsureStorageName validates a storage name, returning a bad-request error
// for anything that must not reach the SQL layer.
func EnsureStorageName(name string) error {
	if !ValidStorageName(name) {
		return NewInvalidIdentifierError(name)
	}
	return nil
}

// EnsureAlias validates a SQL alias.
func EnsureAlias(name string) error {
	if !ValidAlias(name) {
		return NewInvalidIdentifierError(name)
	}
	return nil
}

// QuoteIdent wraps a validated identifier in double quotes for embedding in
// SQL text. Callers must have run the identifier through EnsureStorageName
// or EnsureAlias first; values are never quoted, always parameter-bound.
func QuoteIdent(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}
