package model

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	ErrReauthRequired     ErrorKind = "reauth_required"
	ErrInsufficientScopes ErrorKind = "insufficient_scopes"
	ErrClientRequest      ErrorKind = "client_request_error"
	ErrPlatformTransient  ErrorKind = "platform_transient"
	ErrPolicyBlocked      ErrorKind = "policy_blocked"
	ErrPlatform           ErrorKind = "platform_error"
	ErrUnknown            ErrorKind = "unknown"
	ErrPollingTimeout     ErrorKind = "polling_timeout"
	ErrEmptyMedia         ErrorKind = "empty_media"
	ErrAuthExchangeFailed ErrorKind = "auth_exchange_failed"

	ErrAccountNotFound  ErrorKind = "account_not_found"
	ErrInvalidSchedule  ErrorKind = "invalid_schedule"
	ErrQueueUnavailable ErrorKind = "queue_unavailable"
	ErrInvalidState     ErrorKind = "invalid_state"
	ErrIntentConflict   ErrorKind = "idempotency_conflict"
)

// PublishError is the single typed failure returned by every network-facing
// operation. Callers switch on Kind.
type PublishError struct {
	Kind    ErrorKind
	Code    string
	Hint    string
	Missing []string
	Err     error
}

func (e *PublishError) Error() string {
	msg := e.Hint
	if e.Kind == ErrInsufficientScopes && len(e.Missing) > 0 {
		msg = "Missing TikTok permissions: " + strings.Join(e.Missing, ", ")
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	return msg
}

func (e *PublishError) Unwrap() error { return e.Err }

func NewPublishError(kind ErrorKind, code, hint string) *PublishError {
	return &PublishError{Kind: kind, Code: code, Hint: hint}
}

func WrapPublishError(kind ErrorKind, hint string, err error) *PublishError {
	return &PublishError{Kind: kind, Hint: hint, Err: err}
}

func InsufficientScopes(missing []string) *PublishError {
	return &PublishError{Kind: ErrInsufficientScopes, Code: "tiktok-missing-scopes", Missing: missing}
}

func PollingTimeout(publishID string, attempts int) *PublishError {
	return &PublishError{
		Kind: ErrPollingTimeout,
		Code: "tiktok-post-status-timeout",
		Hint: "TikTok did not finish processing the post in time",
		Err:  fmt.Errorf("publish %s still processing after %d attempts", publishID, attempts),
	}
}

// KindOf returns the kind of a PublishError anywhere in the chain, or
// ErrUnknown.
func KindOf(err error) ErrorKind {
	var pe *PublishError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrUnknown
}

func IsKind(err error, kind ErrorKind) bool {
	var pe *PublishError
	return errors.As(err, &pe) && pe.Kind == kind
}

// Retryable reports whether the same request may succeed later unchanged.
func (k ErrorKind) Retryable() bool {
	return k == ErrPlatformTransient || k == ErrPlatform || k == ErrPollingTimeout
}
