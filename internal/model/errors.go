package model

import (
	"errors"
	"fmt"
)

var (
	ErrLocationUnsupported = errors.New("location unsupported")
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationTimeout     = errors.New("location timeout")

	ErrOffline        = errors.New("offline")
	ErrNetworkTimeout = errors.New("network timeout")
	ErrServer         = errors.New("server error")

	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrAlreadySyncing     = errors.New("already syncing")

	// ErrNotFound is a soft cache miss, expired entries included
	ErrNotFound = errors.New("not found")
)

// LocationError wraps one of the location kinds with the source's cause
type LocationError struct {
	Kind error
	Err  error
}

func NewLocationError(kind, cause error) *LocationError {
	return &LocationError{Kind: kind, Err: cause}
}

func (e *LocationError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *LocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NetworkError mirrors the backend failure body {message, code, status}
type NetworkError struct {
	Kind    error
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	switch {
	case e.Status > 0 && e.Message != "":
		return fmt.Sprintf("%v (%d): %s", e.Kind, e.Status, e.Message)
	case e.Status > 0:
		return fmt.Sprintf("%v (%d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *NetworkError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// SyncError marks a mutation that reached its terminal failed state
type SyncError struct {
	Kind       error
	MutationID string
	Attempts   int
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("mutation %s: %v after %d attempts: %v", e.MutationID, e.Kind, e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
