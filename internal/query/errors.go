package query

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	Field   string // Field that failed validation
	Value   string // Invalid value
	Message string // Error message
	Hint    string // Helpful hint for fixing the error
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	if ve.Hint != "" {
		return fmt.Sprintf("%s: %s (value: %q). %s", ve.Field, ve.Message, ve.Value, ve.Hint)
	}
	return fmt.Sprintf("%s: %s (value: %q)", ve.Field, ve.Message, ve.Value)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(ve))
	for i := range ve {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, ve[i].Error())
	}
	return sb.String()
}

// Add appends a validation error.
func (ve *ValidationErrors) Add(field, value, message, hint string) {
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Hint:    hint,
	})
}

// HasErrors returns true if there are validation errors.
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Fields lists the offending field names in order.
func (ve ValidationErrors) Fields() []string {
	out := make([]string, len(ve))
	for i := range ve {
		out[i] = ve[i].Field
	}
	return out
}

// sort orders errors by field so map iteration never changes the message.
func (ve ValidationErrors) sort() {
	sort.SliceStable(ve, func(i, j int) bool { return ve[i].Field < ve[j].Field })
}
