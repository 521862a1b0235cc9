package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when an actor or request id is unknown.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyApproved is returned for any transition out of a non-pending request.
	ErrAlreadyApproved = errors.New("request already approved")
	// ErrSelfApproval is returned when the requester tries to approve their own request.
	ErrSelfApproval = errors.New("request can only be approved by other administrators")
	// ErrSelfDecline is returned when the requester tries to decline their own request.
	ErrSelfDecline = errors.New("request can only be declined by other administrators")
	// ErrForbidden is returned when the acting actor is not an administrator.
	ErrForbidden = errors.New("only administrators can manage requests")
	// ErrDuplicateEmail is returned when an email is already taken by another actor.
	ErrDuplicateEmail = errors.New("email has already been taken")
	// ErrInvalidCredentials is returned when an email/password pair does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrActionFailed marks failures while applying an approved action.
	ErrActionFailed = errors.New("request action could not be applied")
)

// ValidationError reports malformed or missing input, keyed by field.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records a message for field and returns the receiver.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
	return e
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ActionError wraps a failure raised while applying an approved request.
type ActionError struct {
	Type RequestType
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("apply %s request: %v", e.Type, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrActionFailed) hold for every ActionError.
func (e *ActionError) Is(target error) bool { return target == ErrActionFailed }
