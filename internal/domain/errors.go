package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can branch on kind rather than
// inspecting message strings.
type ErrorKind int

const (
	// KindTransient marks store-level failures (timeout, dropped connection)
	// that the caller may retry with its own backoff.
	KindTransient ErrorKind = iota

	// KindBusiness marks a processing failure of a claimed item. Routed
	// through retry/backoff; never aborts the run unless attempts are
	// exhausted.
	KindBusiness

	// KindFatal marks misconfiguration or unreachable-store conditions that
	// must be propagated immediately rather than retried.
	KindFatal
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindBusiness:
		return "business"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// KindError wraps an error with its classification.
type KindError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the wrapped error.
func (e *KindError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: KindTransient, Err: err}
}

// Business wraps err as a business failure.
func Business(err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: KindBusiness, Err: err}
}

// Fatal wraps err as a fatal failure.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: KindFatal, Err: err}
}

// KindOf returns the classification of err. Unclassified errors are treated
// as business failures, the safe default for item processing: they consume a
// retry attempt instead of aborting the run.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindBusiness
}
