package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"invalid credentials", fmt.Errorf("lookup: %w", ErrInvalidCredentials), KindInvalidCredentials},
		{"email in use", ErrEmailInUse, KindEmailInUse},
		{"popup closed", fmt.Errorf("flow: %w", ErrPopupClosed), KindPopupClosed},
		{"profile update", ErrProfileUpdateFailed, KindProfileUpdateFailed},
		{"network sentinel", fmt.Errorf("%w: redis down", ErrNetwork), KindNetwork},
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"connection refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, KindNetwork},
		{"auth error keeps kind", &AuthError{Kind: KindEmailInUse, Op: "sign_up"}, KindEmailInUse},
		{"anything else", errors.New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAuthErrorUnwrap(t *testing.T) {
	err := wrapError("sign_in", fmt.Errorf("verify: %w", ErrInvalidCredentials))
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("errors.Is(%v, ErrInvalidCredentials) = false", err)
	}
	if err.Kind != KindInvalidCredentials {
		t.Errorf("Kind = %v, want %v", err.Kind, KindInvalidCredentials)
	}
	if err.Kind.Message() == "" {
		t.Error("expected a user-facing message")
	}
}
