package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
)

// Verification flow errors. Each one belongs to exactly one Kind.
var (
	ErrInvalidEmail    = errors.New("invalid email")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrInvalidCode     = errors.New("invalid code format")
	ErrInvalidPassword = errors.New("invalid password")

	ErrEmailAlreadyRegistered    = errors.New("email already registered")
	ErrPhoneAlreadyRegistered    = errors.New("phone already registered")
	ErrIdentityAlreadyRegistered = errors.New("messaging identity already registered")
	ErrEmailTaken                = errors.New("email already taken")

	ErrSessionExpired     = errors.New("session expired")
	ErrSessionAlreadyUsed = errors.New("session already used")
	ErrTooManyAttempts    = errors.New("too many attempts")
	ErrCodeMismatch       = errors.New("code mismatch")
	ErrSessionNotFound    = errors.New("session not found")

	ErrDispatchFailed = errors.New("dispatch failed")
	ErrRateLimited    = errors.New("rate limited")

	ErrMessagingIdentityNotFound = errors.New("messaging identity not found")
	ErrAccountNotFound           = errors.New("account not found")
)

// Kind groups errors by what the caller can do about them.
type Kind string

const (
	KindValidation Kind = "validation" // re-enter input
	KindConflict   Kind = "conflict"   // use a different contact or path
	KindLifecycle  Kind = "lifecycle"  // request a new session
	KindTransient  Kind = "transient"  // retry by requesting a new session
	KindDependency Kind = "dependency" // complete the bot handshake first
	KindInternal   Kind = "internal"
)

type classified struct {
	err  error
	kind Kind
	code string
}

var taxonomy = []classified{
	{ErrInvalidEmail, KindValidation, "INVALID_EMAIL"},
	{ErrInvalidPhone, KindValidation, "INVALID_PHONE"},
	{ErrInvalidCode, KindValidation, "INVALID_CODE"},
	{ErrInvalidPassword, KindValidation, "INVALID_PASSWORD"},
	{ErrBadRequest, KindValidation, "BAD_REQUEST"},
	{ErrCodeMismatch, KindValidation, "CODE_MISMATCH"},

	{ErrEmailAlreadyRegistered, KindConflict, "EMAIL_ALREADY_REGISTERED"},
	{ErrPhoneAlreadyRegistered, KindConflict, "PHONE_ALREADY_REGISTERED"},
	{ErrIdentityAlreadyRegistered, KindConflict, "IDENTITY_ALREADY_REGISTERED"},
	{ErrEmailTaken, KindConflict, "EMAIL_TAKEN"},
	{ErrConflict, KindConflict, "CONFLICT"},

	{ErrSessionNotFound, KindLifecycle, "SESSION_NOT_FOUND"},
	{ErrSessionExpired, KindLifecycle, "EXPIRED"},
	{ErrSessionAlreadyUsed, KindLifecycle, "ALREADY_USED"},
	{ErrTooManyAttempts, KindLifecycle, "TOO_MANY_ATTEMPTS"},

	{ErrDispatchFailed, KindTransient, "DISPATCH_FAILED"},
	{ErrRateLimited, KindTransient, "RATE_LIMITED"},

	{ErrMessagingIdentityNotFound, KindDependency, "MESSAGING_IDENTITY_NOT_FOUND"},
	{ErrAccountNotFound, KindDependency, "ACCOUNT_NOT_FOUND"},
	{ErrNotFound, KindDependency, "NOT_FOUND"},
}

func lookup(err error) (classified, bool) {
	for _, c := range taxonomy {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return classified{}, false
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if c, ok := lookup(err); ok {
		return c.kind
	}
	return KindInternal
}

// CodeOf returns the stable machine-readable code for err.
func CodeOf(err error) string {
	if c, ok := lookup(err); ok {
		return c.code
	}
	return "INTERNAL"
}

// AttemptsError decorates ErrCodeMismatch with the number of attempts left.
type AttemptsError struct {
	Remaining int
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("%s: %d attempts left", ErrCodeMismatch, e.Remaining)
}

func (e *AttemptsError) Unwrap() error { return ErrCodeMismatch }
