package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a referenced rule, account or campaign does not exist.
var ErrNotFound = errors.New("not found")

// FieldError is one rejected field of a rule definition.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError rejects a malformed rule definition before it is persisted.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "invalid rule: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// CredentialError means an account cannot be used for this sweep (expired or rejected token,
// incomplete configuration).
type CredentialError struct {
	AccountID string
	Reason    string
	Err       error
}

func (e *CredentialError) Error() string {
	msg := fmt.Sprintf("account %s: %s", e.AccountID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialError) Unwrap() error { return e.Err }
