package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("no match found")
	ErrInvalidQuery = errors.New("query is required")
	ErrQueueClosed  = errors.New("queue is closed")
)

type FailureKind string

const (
	FailureNoOutput     FailureKind = "no_output_produced"
	FailureAuthRequired FailureKind = "auth_required"
	FailureFetch        FailureKind = "fetch_error"
	FailureTooLarge     FailureKind = "too_large"
	FailureTimeout      FailureKind = "timeout"
	FailureCancelled    FailureKind = "cancelled"
)

// DownloadError carries the failure taxonomy of a download attempt.
type DownloadError struct {
	Kind       FailureKind
	Err        error
	SizeBytes  int64
	LimitBytes int64
}

func (e *DownloadError) Error() string {
	switch {
	case e.Kind == FailureTooLarge:
		return fmt.Sprintf("%s: %d bytes exceeds limit of %d bytes", e.Kind, e.SizeBytes, e.LimitBytes)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// FailureKindOf extracts the failure kind from err, defaulting to fetch_error.
func FailureKindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var downloadErr *DownloadError
	if errors.As(err, &downloadErr) {
		return downloadErr.Kind
	}
	return FailureFetch
}
