package researchapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinels for errors.Is. Every typed error below matches exactly one.
var (
	ErrValidation      = errors.New("validation failed")
	ErrTimeout         = errors.New("request timed out")
	ErrConflict        = errors.New("version conflict")
	ErrNotFound        = errors.New("research session not found")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrNetwork         = errors.New("network error")
	ErrServer          = errors.New("server error")
	ErrNoActiveSession = errors.New("no active session")
)

// ValidationError is raised before any network call, or mapped from a 400/422.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [%s]: %s", e.Field, e.Message)
	}
	return "validation error: " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ConflictError reports a 409 from the version check. Attempts counts the
// update requests made in the save that finally gave up. LatestVersion is the
// server version adopted during recovery, if a refetch happened.
type ConflictError struct {
	SessionId       string
	ExpectedVersion *int
	LatestVersion   *int
	Attempts        int
	Message         string
}

func (e *ConflictError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "version conflict"
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("research session %s: %s (after %d attempts)", e.SessionId, msg, e.Attempts)
	}
	return fmt.Sprintf("research session %s: %s", e.SessionId, msg)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type NotFoundError struct {
	SessionId string
	Message   string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("research session %s not found: %s", e.SessionId, e.Message)
	}
	return fmt.Sprintf("research session %s not found", e.SessionId)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// QuotaExceededError is the analysis endpoint's 429.
type QuotaExceededError struct {
	Limit      int
	Used       int
	ResetAfter time.Time
	Message    string
}

func (e *QuotaExceededError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "analysis quota exceeded"
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// NetworkError wraps a transport-level failure: no HTTP status was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// StatusError is any other non-2xx answer. 5xx statuses match ErrServer.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s failed (status %d): %s", e.Op, e.StatusCode, msg)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrServer && e.StatusCode >= 500
}

// IsTransient reports whether retrying err could change the outcome:
// network failures and timeouts only.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrTimeout)
}
