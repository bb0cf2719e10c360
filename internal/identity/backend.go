// Package identity is the identity backend: accounts live in SQLite, browser
// sessions in a sessions.Persister, and OAuth sign-in goes through an
// oidc.Broker.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gwlsn/buswatch/internal/auth"
	"github.com/gwlsn/buswatch/internal/auth/oidc"
	"github.com/gwlsn/buswatch/internal/auth/password"
	"github.com/gwlsn/buswatch/internal/config"
	"github.com/gwlsn/buswatch/internal/identity/accounts"
	"github.com/gwlsn/buswatch/internal/identity/sessions"
	"github.com/gwlsn/buswatch/internal/logger"
)

const (
	// DefaultSessionTTL is how long an established session is kept.
	DefaultSessionTTL = 24 * time.Hour

	providerPassword = "password"
	restoreTimeout   = 5 * time.Second
)

// Backend holds what every browser session shares. Session returns the
// auth.Adapter for one browser.
type Backend struct {
	accounts *accounts.Store
	sessions sessions.Persister
	broker   *oidc.Broker
	hashAlgo string
	ttl      time.Duration
	now      func() time.Time
}

// Option configures a Backend.
type Option func(*Backend)

// WithBroker enables OAuth sign-in through broker.
func WithBroker(broker *oidc.Broker) Option {
	return func(b *Backend) { b.broker = broker }
}

// WithHashAlgo selects the algorithm for new password hashes.
func WithHashAlgo(algo string) Option {
	return func(b *Backend) { b.hashAlgo = algo }
}

// WithSessionTTL sets the lifetime of established sessions.
func WithSessionTTL(ttl time.Duration) Option {
	return func(b *Backend) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// NewBackend creates a backend over an account store and session persister.
func NewBackend(store *accounts.Store, persister sessions.Persister, opts ...Option) *Backend {
	b := &Backend{
		accounts: store,
		sessions: persister,
		hashAlgo: config.DefaultHashAlgo,
		ttl:      DefaultSessionTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Session returns the adapter for the browser session id. Each call returns
// an independent adapter; callers keep one per id.
func (b *Backend) Session(id string) *Session {
	return &Session{
		backend: b,
		id:      id,
		subs:    make(map[int]*subscription),
	}
}

// BootstrapAccounts creates the configured accounts that do not exist yet.
func (b *Backend) BootstrapAccounts(ctx context.Context, users []config.BootstrapUser) error {
	for _, u := range users {
		_, err := b.accounts.ByEmail(ctx, u.Email)
		if err == nil {
			continue
		}
		if !errors.Is(err, accounts.ErrNotFound) {
			return err
		}
		account, err := b.accounts.Create(ctx, u.Email, u.PasswordHash, strings.TrimSpace(u.Name))
		if err != nil {
			return fmt.Errorf("bootstrap %s: %w", u.Email, err)
		}
		logger.Info("Bootstrap account created", "user_id", account.ID)
	}
	return nil
}

func (b *Backend) verifyPassword(ctx context.Context, email, pw string) (*accounts.Account, error) {
	account, err := b.accounts.ByEmail(ctx, email)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, fmt.Errorf("%w: no account for email", auth.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}
	if account.PasswordHash == "" {
		return nil, fmt.Errorf("%w: account has no password", auth.ErrInvalidCredentials)
	}

	ok, err := password.Verify(account.PasswordHash, pw)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: password mismatch", auth.ErrInvalidCredentials)
	}
	return account, nil
}

func (b *Backend) register(ctx context.Context, email, pw string) (*accounts.Account, error) {
	hash, err := password.Hash(b.hashAlgo, pw)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account, err := b.accounts.Create(ctx, email, hash, "")
	if errors.Is(err, accounts.ErrDuplicateEmail) {
		return nil, fmt.Errorf("%w: %s", auth.ErrEmailInUse, strings.TrimSpace(email))
	}
	if err != nil {
		return nil, err
	}
	logger.Info("Account registered", "user_id", account.ID)
	return account, nil
}

func (b *Backend) linkExternal(ctx context.Context, kind auth.ProviderKind, claims *oidc.Claims) (*accounts.Account, error) {
	account, err := b.accounts.LinkExternal(ctx, accounts.External{
		Provider:      string(kind),
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		PhotoURL:      claims.Picture,
	})
	if errors.Is(err, accounts.ErrDuplicateEmail) {
		return nil, fmt.Errorf("%w: unverified %s email matches an existing account", auth.ErrEmailInUse, kind)
	}
	return account, err
}

// restoreRecord resolves the session persisted under id.
func (b *Backend) restoreRecord(ctx context.Context, id string) (*auth.Identity, time.Time, error) {
	rec, err := b.sessions.Load(ctx, id)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load session: %w", err)
	}
	if rec == nil {
		return nil, time.Time{}, nil
	}

	account, err := b.accounts.ByID(ctx, rec.UserID)
	if errors.Is(err, accounts.ErrNotFound) {
		logger.Info("Dropping session for deleted account", "user_id", rec.UserID)
		return nil, time.Time{}, b.sessions.Delete(ctx, id)
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	logger.Debug("Session restored", "user_id", account.ID, "provider", rec.Provider)
	return identityFor(account, rec.Provider), rec.ExpiresAt, nil
}

func identityFor(account *accounts.Account, provider string) *auth.Identity {
	return &auth.Identity{
		UID:         account.ID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		PhotoURL:    account.PhotoURL,
		Provider:    provider,
	}
}

func copyIdentity(id *auth.Identity) *auth.Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
