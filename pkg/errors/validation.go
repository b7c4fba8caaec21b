package errors

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/matzehuels/aipgraph/pkg/nodeid"
)

var namePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} ._:/-]*$`)

// ValidateNodeID validates a node id or id path received from a caller.
func ValidateNodeID(id string) error {
	if id == "" {
		return New(ErrCodeInvalidInput, "node id cannot be empty")
	}
	if err := nodeid.Validate(id); err != nil {
		return Wrap(ErrCodeInvalidInput, err, "malformed node id")
	}
	return nil
}

// ValidateName validates a domain or retention rule name.
//
// Names are used as unique lookup keys, so they must be non-empty, printable
// and reasonably short:
//   - Maximum length of 256 characters
//   - No control characters
//   - Must start with a letter or digit
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return New(ErrCodeInvalidInput, "name cannot be empty")
	}
	if len(name) > 256 {
		return New(ErrCodeInvalidInput, "name too long (max 256 characters)")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return New(ErrCodeInvalidInput, "name contains invalid control characters")
		}
	}
	if !namePattern.MatchString(name) {
		return New(ErrCodeInvalidInput, "name contains invalid characters: %q", name)
	}
	return nil
}

// ValidateFieldName validates a business field name used in a predicate or
// in an ingested record. Field names may not start with '$' and may not
// contain '.', because both have a meaning in document store updates.
func ValidateFieldName(field string) error {
	if field == "" {
		return New(ErrCodeInvalidInput, "field name cannot be empty")
	}
	if strings.HasPrefix(field, "$") {
		return New(ErrCodeInvalidInput, "field name cannot start with '$': %q", field)
	}
	if strings.Contains(field, ".") {
		return New(ErrCodeInvalidInput, "field name cannot contain '.': %q", field)
	}
	return nil
}
