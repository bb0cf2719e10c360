package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/gwlsn/buswatch/internal/logger"
)

var errNoIdentity = errors.New("adapter returned no identity")

// Outcome is a delivered credential operation result, for UI feedback such as
// a welcome toast. Diagnostic carries a non-fatal problem, e.g. a display name
// that could not be saved after sign-up.
type Outcome struct {
	Op         string
	User       *AuthUser
	Err        error
	Diagnostic error
}

// Operations runs sign-in, sign-up and sign-out against an adapter. It never
// writes the store; the resulting session change arrives through the store's
// subscription.
//
// Requests are keyed by credential. A result is only delivered if no request
// issued later for the same key has already delivered one; older results that
// resolve late get ErrSuperseded. Results that resolve after the store was
// closed get ErrStoreClosed.
type Operations struct {
	adapter   Adapter
	store     *Store
	onOutcome func(Outcome)

	mu   sync.Mutex
	seq  uint64
	keys map[string]*inflight
}

type inflight struct {
	delivered uint64
	pending   int
}

// OperationsOption configures Operations.
type OperationsOption func(*Operations)

// WithOutcomeHandler registers fn to receive every delivered outcome.
// Cancelled OAuth sign-ins and stale results are not reported.
func WithOutcomeHandler(fn func(Outcome)) OperationsOption {
	return func(o *Operations) {
		o.onOutcome = fn
	}
}

// NewOperations creates credential operations bound to the lifetime of store.
func NewOperations(adapter Adapter, store *Store, opts ...OperationsOption) *Operations {
	o := &Operations{
		adapter: adapter,
		store:   store,
		keys:    make(map[string]*inflight),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SignInWithEmail verifies email and password with the adapter.
func (o *Operations) SignInWithEmail(ctx context.Context, email, password string) (*AuthUser, error) {
	const op = "sign_in"
	key := emailKey(email)
	token := o.begin(key)

	id, err := o.adapter.SignInWithPassword(ctx, email, password)
	if err == nil && id == nil {
		err = errNoIdentity
	}
	if err != nil {
		authErr := wrapError(op, err)
		logger.Info("Email sign-in failed", "kind", authErr.Kind, "error", err)
		return o.deliver(key, token, Outcome{Op: op, Err: authErr}, true)
	}

	user := NormalizeUser(id)
	return o.deliver(key, token, Outcome{Op: op, User: &user}, true)
}

// SignUpWithEmail registers an account and then saves name as its display
// name. A failed name update does not fail the sign-up: it is logged and
// reported as the outcome's Diagnostic, and the returned user still carries
// name.
func (o *Operations) SignUpWithEmail(ctx context.Context, email, password, name string) (*AuthUser, error) {
	const op = "sign_up"
	key := emailKey(email)
	token := o.begin(key)

	id, err := o.adapter.RegisterWithPassword(ctx, email, password)
	if err == nil && id == nil {
		err = errNoIdentity
	}
	if err != nil {
		authErr := wrapError(op, err)
		logger.Info("Email sign-up failed", "kind", authErr.Kind, "error", err)
		return o.deliver(key, token, Outcome{Op: op, Err: authErr}, true)
	}

	var diagnostic error
	name = strings.TrimSpace(name)
	if name != "" {
		if err := o.adapter.UpdateDisplayName(ctx, id, name); err != nil {
			diagnostic = &AuthError{Kind: KindProfileUpdateFailed, Op: "update_profile", Err: err}
			logger.Warn("Display name not saved after sign-up", "user_id", id.UID, "error", err)
		}
	}

	user := NormalizeUser(&Identity{
		UID:         id.UID,
		Email:       id.Email,
		DisplayName: name,
		PhotoURL:    id.PhotoURL,
	})
	return o.deliver(key, token, Outcome{Op: op, User: &user, Diagnostic: diagnostic}, true)
}

// SignInWithOAuth runs the provider's popup flow. A closed popup is a silent
// cancellation: both the user and the error are nil.
func (o *Operations) SignInWithOAuth(ctx context.Context, kind ProviderKind) (*AuthUser, error) {
	const op = "oauth_sign_in"
	key := "oauth:" + string(kind)
	token := o.begin(key)

	id, err := o.adapter.SignInWithOAuth(ctx, kind)
	if err == nil && id == nil {
		err = errNoIdentity
	}
	if err != nil {
		authErr := wrapError(op, err)
		if authErr.Kind == KindPopupClosed {
			logger.Debug("OAuth sign-in cancelled", "provider", kind)
			return nil, o.cancel(key)
		}
		logger.Info("OAuth sign-in failed", "provider", kind, "kind", authErr.Kind, "error", err)
		return o.deliver(key, token, Outcome{Op: op, Err: authErr}, true)
	}

	user := NormalizeUser(id)
	return o.deliver(key, token, Outcome{Op: op, User: &user}, true)
}

// SignOut asks the adapter to end the session. Failures are logged and not
// returned; the store changes state only when the adapter reports it.
func (o *Operations) SignOut(ctx context.Context) {
	const op = "sign_out"
	key := "signout"
	token := o.begin(key)

	if err := o.adapter.SignOut(ctx); err != nil {
		logger.Warn("Sign-out failed", "kind", KindOf(err), "error", err)
		_, _ = o.deliver(key, token, Outcome{Op: op}, false)
		return
	}
	_, _ = o.deliver(key, token, Outcome{Op: op}, true)
}

func (o *Operations) begin(key string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	state, ok := o.keys[key]
	if !ok {
		state = &inflight{}
		o.keys[key] = state
	}
	state.pending++
	return o.seq
}

// finish records that the request identified by token resolved and reports
// whether its result is still current.
func (o *Operations) finish(key string, token uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	state := o.keys[key]
	state.pending--
	current := token > state.delivered
	if current {
		state.delivered = token
	}
	if state.pending == 0 {
		delete(o.keys, key)
	}
	return current
}

// cancel records that a request for key resolved without a result. It does
// not supersede requests issued before it.
func (o *Operations) cancel(key string) error {
	o.mu.Lock()
	state := o.keys[key]
	state.pending--
	if state.pending == 0 {
		delete(o.keys, key)
	}
	o.mu.Unlock()

	if o.store != nil && o.store.Closed() {
		return ErrStoreClosed
	}
	return nil
}

func (o *Operations) deliver(key string, token uint64, outcome Outcome, report bool) (*AuthUser, error) {
	current := o.finish(key, token)
	if o.store != nil && o.store.Closed() {
		logger.Debug("Discarding result after session store teardown", "op", outcome.Op)
		return nil, ErrStoreClosed
	}
	if !current {
		logger.Debug("Discarding stale result", "op", outcome.Op)
		return nil, ErrSuperseded
	}
	if report && o.onOutcome != nil {
		o.onOutcome(outcome)
	}
	return outcome.User, outcome.Err
}

func emailKey(email string) string {
	return "email:" + strings.ToLower(strings.TrimSpace(email))
}
