// Package models defines the core data types used throughout litemacro.
package models

import (
	"fmt"
	"strings"
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects field errors for one value.
type ValidationErrors struct {
	Errors []*ValidationError
}

// AddMessage records a field error.
func (v *ValidationErrors) AddMessage(field, message string) {
	v.Errors = append(v.Errors, &ValidationError{Field: field, Message: message})
}

// Err returns nil when no errors were recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}
	msgs := make([]string, 0, len(v.Errors))
	for _, err := range v.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d validation errors: %s", len(v.Errors), strings.Join(msgs, "; "))
}
