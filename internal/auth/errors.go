package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Sentinel errors that adapters wrap to report a failure kind.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrEmailInUse          = errors.New("email already in use")
	ErrNetwork             = errors.New("identity backend unreachable")
	ErrPopupClosed         = errors.New("sign-in popup closed")
	ErrProfileUpdateFailed = errors.New("profile update failed")
	ErrUnsupportedProvider = errors.New("unsupported oauth provider")
)

// ErrSuperseded is returned when a newer request for the same credential
// already delivered its result. The stale result is discarded.
var ErrSuperseded = errors.New("superseded by a newer request")

// ErrStoreClosed is returned when a result arrives after the owning session
// store was torn down.
var ErrStoreClosed = errors.New("session store closed")

// ErrorKind tags an AuthError.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidCredentials
	KindEmailInUse
	KindNetwork
	KindPopupClosed
	KindProfileUpdateFailed
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindEmailInUse:
		return "email_in_use"
	case KindNetwork:
		return "network_error"
	case KindPopupClosed:
		return "popup_closed"
	case KindProfileUpdateFailed:
		return "profile_update_failed"
	default:
		return "unknown"
	}
}

// Message is the text shown to the user for this kind.
func (k ErrorKind) Message() string {
	switch k {
	case KindInvalidCredentials:
		return "Incorrect email or password."
	case KindEmailInUse:
		return "An account with this email already exists."
	case KindNetwork:
		return "Could not reach the sign-in service. Check your connection and try again."
	case KindPopupClosed:
		return "Sign-in was cancelled."
	case KindProfileUpdateFailed:
		return "Your account was created, but your name could not be saved."
	default:
		return "Something went wrong. Please try again."
	}
}

// AuthError is the typed failure returned by credential operations.
type AuthError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// KindOf classifies err into an ErrorKind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrEmailInUse):
		return KindEmailInUse
	case errors.Is(err, ErrPopupClosed):
		return KindPopupClosed
	case errors.Is(err, ErrProfileUpdateFailed):
		return KindProfileUpdateFailed
	case errors.Is(err, ErrNetwork),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET):
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindUnknown
}

func wrapError(op string, err error) *AuthError {
	return &AuthError{Kind: KindOf(err), Op: op, Err: err}
}
