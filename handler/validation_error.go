package handler

import (
	"fmt"
	"strings"
)

// ValidationError maps field names to human-readable problems. It renders
// as a 400 with per-field details in the error envelope.
type ValidationError map[string][]string

// Error implements the error interface.
func (v ValidationError) Error() string {
	var messages []string
	for field, fieldMessages := range v {
		for _, msg := range fieldMessages {
			messages = append(messages, fmt.Sprintf("%s: %s", field, msg))
		}
	}
	if len(messages) == 0 {
		return "validation failed"
	}
	return strings.Join(messages, "; ")
}

// Add appends a problem for a field and returns the map for chaining.
func (v ValidationError) Add(field, message string) ValidationError {
	v[field] = append(v[field], message)
	return v
}
