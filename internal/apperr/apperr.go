// Package apperr defines the error taxonomy shared across memoryd: validation
// failures, not-found, conflict, external-transient, and fatal errors. HTTP
// handlers map these to status codes; internal services use errors.As to
// decide whether to degrade gracefully or fail loudly.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationFailure covers unknown fields/operators/tables, negative
// limit/skip, missing required ids, and tenant-policy violations.
type ValidationFailure struct {
	Reason string
}

func (e *ValidationFailure) Error() string { return "validation failure: " + e.Reason }

func Validationf(format string, args ...any) error {
	return &ValidationFailure{Reason: fmt.Sprintf(format, args...)}
}

// NotFound is returned by repository lookups that find nothing. HTTP
// boundary maps it to 404; internally it is usually just a nil return.
type NotFound struct {
	Table string
	ID    string
}

func (e *NotFound) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Table)
	}
	return fmt.Sprintf("%s %q not found", e.Table, e.ID)
}

// Conflict covers duplicate creation (e.g. company_id already exists).
type Conflict struct {
	Reason string
}

func (e *Conflict) Error() string { return "conflict: " + e.Reason }

// ExternalTransient wraps LLM/DB/embedding failures that retrieval paths
// swallow (log + degrade) and ingest paths re-raise (fail the job).
type ExternalTransient struct {
	Op  string
	Err error
}

func (e *ExternalTransient) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ExternalTransient) Unwrap() error { return e.Err }

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalTransient{Op: op, Err: err}
}

// Fatal covers configuration/connectivity errors that should surface as
// HTTP 500 and never be swallowed.
type Fatal struct {
	Reason string
}

func (e *Fatal) Error() string { return "fatal: " + e.Reason }

func Fatalf(format string, args ...any) error {
	return &Fatal{Reason: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var nf *NotFound
	return errors.As(err, &nf)
}

func IsValidation(err error) bool {
	var vf *ValidationFailure
	return errors.As(err, &vf)
}

func IsConflict(err error) bool {
	var c *Conflict
	return errors.As(err, &c)
}
