package services

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDuplicateIdentity
	KindNotFound
	KindInvalidCredentials
	KindNotVerified
	KindInvalidOrExpiredCode
	KindInvalidOrExpiredToken
	KindTooManyRequests
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindDuplicateIdentity:
		return "duplicate_identity"
	case KindNotFound:
		return "not_found"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindNotVerified:
		return "not_verified"
	case KindInvalidOrExpiredCode:
		return "invalid_or_expired_code"
	case KindInvalidOrExpiredToken:
		return "invalid_or_expired_token"
	case KindTooManyRequests:
		return "too_many_requests"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

// AppError is returned by every AccountService operation. Message is safe to
// show to clients; Err keeps the cause for logs.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches another *AppError by kind, so errors.Is(err, ErrNotVerified) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Kind == e.Kind && t.Err == nil
}

func newError(kind Kind, msg string, cause error) *AppError {
	return &AppError{Kind: kind, Message: msg, Err: cause}
}

const (
	msgInvalidCredentials = "Invalid email or password"
	msgInvalidOTP         = "Invalid or expired OTP"
	msgInvalidResetToken  = "Invalid or expired reset token"
	msgUserNotFound       = "User not found"
	msgInternal           = "Internal Server Error"
)

// Sentinels for errors.Is checks.
var (
	ErrDuplicateIdentity     = &AppError{Kind: KindDuplicateIdentity}
	ErrNotFound              = &AppError{Kind: KindNotFound}
	ErrInvalidCredentials    = &AppError{Kind: KindInvalidCredentials}
	ErrNotVerified           = &AppError{Kind: KindNotVerified}
	ErrInvalidOrExpiredCode  = &AppError{Kind: KindInvalidOrExpiredCode}
	ErrInvalidOrExpiredToken = &AppError{Kind: KindInvalidOrExpiredToken}
	ErrValidation            = &AppError{Kind: KindValidation}
	ErrTooManyRequests       = &AppError{Kind: KindTooManyRequests}
	ErrInternal              = &AppError{Kind: KindInternal}
)

// KindOf returns the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// PublicMessage returns the client-facing text for err. Errors that are not
// *AppError never leak their text.
func PublicMessage(err error) string {
	var ae *AppError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return msgInternal
}
