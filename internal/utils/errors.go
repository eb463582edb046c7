package utils

import (
	"errors"
	"fmt"
)

// FailureKind buckets runtime failures for the audit log and metrics. Every
// kind is handled locally by its component; none of them stops the process.
type FailureKind string

const (
	FailProbeTransport FailureKind = "probe_transport"
	FailProbeLogical   FailureKind = "probe_logical_unhealthy"
	FailSnapshot       FailureKind = "snapshot"
	FailRemediation    FailureKind = "remediation_action"
	FailNotification   FailureKind = "notification"
)

// AppError wraps an operation, a failure bucket, a human-facing message, and
// the underlying error.
type AppError struct {
	Op   string
	Kind FailureKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError with a failure kind.
func NewAppError(op string, kind FailureKind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the failure bucket from err, or empty when err carries none.
func KindOf(err error) FailureKind {
	var app *AppError
	if errors.As(err, &app) {
		return app.Kind
	}
	return ""
}
