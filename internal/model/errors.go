package model

import (
	"errors"
	"fmt"
)

// The error taxonomy. Each kind is a concrete type so callers classify
// with errors.As instead of string matching; the job outcome and the HTTP
// status both derive from the kind.

// ValidationError rejects a request before a job exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %s", e.Reason)
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// WarehouseTransientError marks a retryable warehouse failure. The
// pipeline retries the whole warehouse stage up to three attempts before
// converting it to a fatal failure.
type WarehouseTransientError struct {
	Err error
}

func (e *WarehouseTransientError) Error() string {
	return fmt.Sprintf("warehouse transient: %v", e.Err)
}

func (e *WarehouseTransientError) Unwrap() error { return e.Err }

// WarehouseErrorKind distinguishes fatal warehouse failures.
type WarehouseErrorKind string

const (
	WarehouseQuery      WarehouseErrorKind = "query"
	WarehousePermission WarehouseErrorKind = "permission"
	WarehouseQuota      WarehouseErrorKind = "quota"
)

// WarehouseFatalError terminates a job as Failed.
type WarehouseFatalError struct {
	Kind WarehouseErrorKind
	Err  error
}

func (e *WarehouseFatalError) Error() string {
	return fmt.Sprintf("warehouse %s: %v", e.Kind, e.Err)
}

func (e *WarehouseFatalError) Unwrap() error { return e.Err }

// CensusError marks a census-client failure. Never fatal: the pipeline
// records a warning and continues with an empty demographic context.
type CensusError struct {
	Err error
}

func (e *CensusError) Error() string { return fmt.Sprintf("census: %v", e.Err) }

func (e *CensusError) Unwrap() error { return e.Err }

// AIError marks an exhausted narrative-model chain. Never fatal; the
// affected section is dropped from the report with a warning.
type AIError struct {
	Provider string
	Err      error
}

func (e *AIError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("ai: %v", e.Err)
	}
	return fmt.Sprintf("ai %s: %v", e.Provider, e.Err)
}

func (e *AIError) Unwrap() error { return e.Err }

// CancelledError marks cooperative cancellation; the job terminates as
// Cancelled and no report is stored.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "cancelled" }

// TimeoutError marks an exceeded wall clock. Functionally a cancellation
// for cleanup, but the job terminates as Failed with reason "timeout".
type TimeoutError struct {
	Stage string
}

func (e *TimeoutError) Error() string {
	if e.Stage == "" {
		return "timeout"
	}
	return fmt.Sprintf("timeout in %s", e.Stage)
}

// StorageError marks a failure to persist the finalized report; the job
// fails even though computation succeeded.
type StorageError struct {
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %v", e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a cooperative cancellation.
func IsCancelled(err error) bool {
	var c *CancelledError
	return errors.As(err, &c)
}

// IsTimeout reports whether err is a wall-clock timeout.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// FailureReason maps a fatal pipeline error to the reason string carried
// on the terminal progress event and in job status.
func FailureReason(err error) string {
	switch {
	case IsTimeout(err):
		return "timeout"
	case IsCancelled(err):
		return "cancelled"
	default:
		var wf *WarehouseFatalError
		if errors.As(err, &wf) {
			return "warehouse-" + string(wf.Kind)
		}
		var wt *WarehouseTransientError
		if errors.As(err, &wt) {
			return "warehouse-transient"
		}
		var se *StorageError
		if errors.As(err, &se) {
			return "storage"
		}
		return "internal"
	}
}
