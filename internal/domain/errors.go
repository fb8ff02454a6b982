package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies command failures. The gateway picks the log level
// and the error event shape from it.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindAuthorization
	KindNotFound
	KindRateLimit
	KindPersistence
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is a command failure that is reported to the issuing connection.
type Error struct {
	Kind       ErrorKind
	Code       string
	Message    string
	RetryAfter int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code, msg string) error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func Forbidden(code, msg string) error {
	return &Error{Kind: KindAuthorization, Code: code, Message: msg}
}

func NotFound(code, msg string) error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func RateLimited(retryAfter int) error {
	return &Error{
		Kind:       KindRateLimit,
		Code:       "rate_limited",
		Message:    fmt.Sprintf("You're sending messages too fast. Try again in %d seconds.", retryAfter),
		RetryAfter: retryAfter,
	}
}

func Persistence(msg string, err error) error {
	return &Error{Kind: KindPersistence, Code: "persistence_failure", Message: msg, Err: err}
}

// KindOf returns the kind of err, or 0 when err is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
