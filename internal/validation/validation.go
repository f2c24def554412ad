// Package validation carries field-level input errors from services to handlers.
package validation

import (
	"errors"
	"sort"
	"strings"
)

var ErrInvalid = errors.New("validation failed")

// Errors maps a field name to its first failure message.
type Errors map[string]string

func (e Errors) Add(field, message string) {
	if _, exists := e[field]; exists {
		return
	}
	e[field] = message
}

func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func (e Errors) Error() string {
	fields := make([]string, 0, len(e))
	for field := range e {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+e[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e Errors) Is(target error) bool {
	return target == ErrInvalid
}

// Single is a shorthand for a one-field error.
func Single(field, message string) error {
	return Errors{field: message}
}

// Fields extracts the field map from err, if any.
func Fields(err error) (Errors, bool) {
	var ve Errors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
