// Package errors defines the typed error taxonomy for the scan pipeline.
//
// Per-chart and per-record problems are recorded as issues on the documents
// themselves and never surface as Go errors; the types here cover the hard
// failures that increment the pass error counter.
package errors

import (
	"fmt"
	"time"
)

type ErrorType string

const (
	ErrorTypeWalk   ErrorType = "walk"
	ErrorTypeParse  ErrorType = "parse"
	ErrorTypeStore  ErrorType = "store"
	ErrorTypeState  ErrorType = "state"
	ErrorTypeConfig ErrorType = "config"
)

// ScanError carries operation and path context for a hard pipeline failure.
type ScanError struct {
	Type        ErrorType
	Operation   string
	Path        string
	GroupKey    string
	Underlying  error
	Timestamp   time.Time
	Recoverable bool
}

// NewScanError creates a scan error with context.
func NewScanError(typ ErrorType, op string, err error) *ScanError {
	return &ScanError{
		Type:       typ,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithPath adds the offending file path to the error.
func (e *ScanError) WithPath(path string) *ScanError {
	e.Path = path
	return e
}

// WithGroupKey adds the group key being processed to the error.
func (e *ScanError) WithGroupKey(key string) *ScanError {
	e.GroupKey = key
	return e
}

// WithRecoverable marks the error as retryable.
func (e *ScanError) WithRecoverable(recoverable bool) *ScanError {
	e.Recoverable = recoverable
	return e
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("%s %s failed for %s: %v", e.Type, e.Operation, e.Path, e.Underlying)
	case e.GroupKey != "":
		return fmt.Sprintf("%s %s failed for group %s: %v", e.Type, e.Operation, e.GroupKey, e.Underlying)
	default:
		return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
	}
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ScanError) Unwrap() error {
	return e.Underlying
}

// IsRecoverable reports whether the operation can be retried.
func (e *ScanError) IsRecoverable() bool {
	return e.Recoverable
}
