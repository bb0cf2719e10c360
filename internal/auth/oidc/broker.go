package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwlsn/buswatch/internal/auth"
	"github.com/gwlsn/buswatch/internal/logger"
	"golang.org/x/oauth2"
)

// DefaultPopupTimeout bounds how long a sign-in waits for its callback.
const DefaultPopupTimeout = 2 * time.Minute

var (
	// ErrUnknownState is returned for callbacks that match no waiting sign-in.
	ErrUnknownState = errors.New("unknown or expired oauth state")
	// ErrAbandoned is returned to a callback whose sign-in stopped waiting.
	ErrAbandoned = errors.New("oauth sign-in no longer waiting")
)

// Broker pairs waiting sign-ins with provider callbacks by state.
type Broker struct {
	registry *Registry
	timeout  time.Duration

	mu      sync.Mutex
	pending map[string]*pendingFlow
}

type pendingFlow struct {
	kind     auth.ProviderKind
	flow     Exchanger
	nonce    string
	verifier string

	results   chan callbackResult // callback -> sign-in
	committed chan error          // sign-in -> callback
	done      chan struct{}       // closed when the sign-in returns
}

type callbackResult struct {
	claims *Claims
	err    error
}

// NewBroker creates a broker over registry. A non-positive timeout uses
// DefaultPopupTimeout.
func NewBroker(registry *Registry, timeout time.Duration) *Broker {
	if timeout <= 0 {
		timeout = DefaultPopupTimeout
	}
	return &Broker{
		registry: registry,
		timeout:  timeout,
		pending:  make(map[string]*pendingFlow),
	}
}

// Providers lists the provider kinds the broker can sign in with.
func (b *Broker) Providers() []auth.ProviderKind {
	return b.registry.Kinds()
}

// SignIn opens the popup for kind and waits for the callback. On success,
// commit runs with the verified claims and its error is returned both here
// and to the callback. The wait ends with auth.ErrPopupClosed when the
// provider denies access, the timeout elapses or ctx ends.
func (b *Broker) SignIn(ctx context.Context, kind auth.ProviderKind, popup auth.Popup, commit func(*Claims) error) error {
	flow, ok := b.registry.Flow(kind)
	if !ok {
		return fmt.Errorf("%w: %s", auth.ErrUnsupportedProvider, kind)
	}
	if popup == nil {
		return errors.New("oauth sign-in requires a popup")
	}

	state, err := generateNonce()
	if err != nil {
		return err
	}
	nonce, err := generateNonce()
	if err != nil {
		return err
	}

	p := &pendingFlow{
		kind:      kind,
		flow:      flow,
		nonce:     nonce,
		verifier:  oauth2.GenerateVerifier(),
		results:   make(chan callbackResult, 1),
		committed: make(chan error, 1),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.pending[state] = p
	b.mu.Unlock()
	defer func() {
		b.forget(state)
		close(p.done)
	}()

	popup(flow.AuthCodeURL(state, p.nonce, p.verifier))

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case res := <-p.results:
		if res.err != nil {
			p.committed <- res.err
			return res.err
		}
		err := commit(res.claims)
		p.committed <- err
		return err
	case <-timer.C:
		logger.Debug("OAuth popup timed out", "provider", kind)
		return fmt.Errorf("%w: no callback within %s", auth.ErrPopupClosed, b.timeout)
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", auth.ErrPopupClosed, ctx.Err())
	}
}

// HandleCallback resolves the sign-in waiting on state. errParam is the
// provider's "error" query parameter. It returns once the sign-in has
// committed (or failed) so the caller can render the final result.
func (b *Broker) HandleCallback(ctx context.Context, state, code, errParam string) error {
	b.mu.Lock()
	p, ok := b.pending[state]
	if ok {
		delete(b.pending, state)
	}
	b.mu.Unlock()
	if !ok {
		return ErrUnknownState
	}

	var res callbackResult
	switch {
	case errParam == "access_denied":
		res.err = fmt.Errorf("%w: %s denied access", auth.ErrPopupClosed, p.kind)
	case errParam != "":
		res.err = fmt.Errorf("%s returned error %q", p.kind, errParam)
	case code == "":
		res.err = errors.New("missing authorization code")
	default:
		res.claims, res.err = p.flow.Exchange(ctx, code, p.verifier, p.nonce)
	}
	p.results <- res

	select {
	case err := <-p.committed:
		return err
	case <-p.done:
		select {
		case err := <-p.committed:
			return err
		default:
			return ErrAbandoned
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) forget(state string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, state)
}

func generateNonce() (string, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(random), nil
}
