package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gwlsn/buswatch/internal/auth"
	"github.com/gwlsn/buswatch/internal/auth/oidc"
	"github.com/gwlsn/buswatch/internal/identity/accounts"
	"github.com/gwlsn/buswatch/internal/identity/sessions"
	"github.com/gwlsn/buswatch/internal/logger"
)

// Session implements auth.Adapter for one browser session.
type Session struct {
	backend *Backend
	id      string

	// dispatch is held while callbacks run, so unsubscribe waits out any
	// delivery in progress.
	dispatch sync.Mutex

	mu      sync.Mutex
	subs    map[int]*subscription
	next    int
	current *auth.Identity
	loaded  bool
	gen     uint64
	expiry  *time.Timer
	closed  bool
}

type subscription struct {
	fn      func(*auth.Identity)
	primed  bool
	removed bool
}

// ID returns the browser session id.
func (s *Session) ID() string {
	return s.id
}

// Subscribe registers fn and reports the restored session to it from a
// separate goroutine, then every later change.
func (s *Session) Subscribe(fn func(*auth.Identity)) func() {
	sub := &subscription{fn: fn}

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = sub
	s.mu.Unlock()

	go s.prime(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.dispatch.Lock()
			defer s.dispatch.Unlock()
			s.mu.Lock()
			defer s.mu.Unlock()
			sub.removed = true
			delete(s.subs, id)
		})
	}
}

// SignInWithPassword verifies email and password and signs this session in.
func (s *Session) SignInWithPassword(ctx context.Context, email, pw string) (*auth.Identity, error) {
	account, err := s.backend.verifyPassword(ctx, email, pw)
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, account, providerPassword)
}

// RegisterWithPassword creates a password account and signs this session in.
func (s *Session) RegisterWithPassword(ctx context.Context, email, pw string) (*auth.Identity, error) {
	account, err := s.backend.register(ctx, email, pw)
	if err != nil {
		return nil, err
	}
	return s.establish(ctx, account, providerPassword)
}

// UpdateDisplayName saves name on the account behind id. Subscribers are not
// notified.
func (s *Session) UpdateDisplayName(ctx context.Context, id *auth.Identity, name string) error {
	if id == nil {
		return fmt.Errorf("%w: no identity", auth.ErrProfileUpdateFailed)
	}
	if err := s.backend.accounts.UpdateDisplayName(ctx, id.UID, name); err != nil {
		return fmt.Errorf("%w: %v", auth.ErrProfileUpdateFailed, err)
	}

	s.mu.Lock()
	if s.current != nil && s.current.UID == id.UID {
		s.current.DisplayName = name
	}
	s.mu.Unlock()
	return nil
}

// SignInWithOAuth runs the provider's popup flow and signs the linked account
// into this session. The popup must be carried by ctx.
func (s *Session) SignInWithOAuth(ctx context.Context, kind auth.ProviderKind) (*auth.Identity, error) {
	broker := s.backend.broker
	if broker == nil {
		return nil, fmt.Errorf("%w: %s", auth.ErrUnsupportedProvider, kind)
	}
	popup, ok := auth.PopupFromContext(ctx)
	if !ok {
		return nil, errors.New("oauth sign-in requires a popup")
	}

	var signedIn *auth.Identity
	err := broker.SignIn(ctx, kind, popup, func(claims *oidc.Claims) error {
		account, err := s.backend.linkExternal(ctx, kind, claims)
		if err != nil {
			return err
		}
		signedIn, err = s.establish(ctx, account, string(kind))
		return err
	})
	if err != nil {
		return nil, err
	}
	return signedIn, nil
}

// SignOut ends this session and notifies subscribers.
func (s *Session) SignOut(ctx context.Context) error {
	if err := s.backend.sessions.Delete(ctx, s.id); err != nil {
		return fmt.Errorf("%w: delete session: %v", auth.ErrNetwork, err)
	}
	s.setCurrent(nil, time.Time{})
	s.notify()
	return nil
}

// Close stops the expiry timer. The persisted session is kept, so a later
// Session for the same id restores it.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
}

func (s *Session) establish(ctx context.Context, account *accounts.Account, provider string) (*auth.Identity, error) {
	now := s.backend.now()
	rec := sessions.Record{
		UserID:    account.ID,
		Provider:  provider,
		CreatedAt: now,
		ExpiresAt: now.Add(s.backend.ttl),
	}
	if err := s.backend.sessions.Save(ctx, s.id, rec); err != nil {
		return nil, fmt.Errorf("%w: save session: %v", auth.ErrNetwork, err)
	}

	id := identityFor(account, provider)
	s.setCurrent(id, rec.ExpiresAt)
	s.notify()
	logger.Info("Session established", "user_id", account.ID, "provider", provider)
	return copyIdentity(id), nil
}

// setCurrent replaces the session and, for a signed-in session, schedules
// its expiry.
func (s *Session) setCurrent(id *auth.Identity, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCurrentLocked(id, expiresAt)
}

func (s *Session) setCurrentLocked(id *auth.Identity, expiresAt time.Time) {
	s.current = id
	s.loaded = true
	s.gen++
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if id != nil && !expiresAt.IsZero() && !s.closed {
		gen := s.gen
		s.expiry = time.AfterFunc(expiresAt.Sub(s.backend.now()), func() { s.expire(gen) })
	}
}

// expire signs the session out when its TTL elapses, unless a later sign-in
// or sign-out replaced it.
func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		return
	}
	userID := ""
	if s.current != nil {
		userID = s.current.UID
	}
	s.current = nil
	s.gen++
	s.expiry = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	if err := s.backend.sessions.Delete(ctx, s.id); err != nil {
		logger.Warn("Failed to delete expired session", "error", err)
	}
	logger.Info("Session expired", "user_id", userID)
	s.notify()
}

// notify delivers the current session to every registration.
func (s *Session) notify() {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	current := s.current
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		sub.primed = true
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.fn(copyIdentity(current))
	}
}

// prime reports the restored session to a new registration unless a change
// already reached it.
func (s *Session) prime(sub *subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
	defer cancel()
	current := s.restore(ctx)

	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	skip := sub.removed || sub.primed
	sub.primed = true
	s.mu.Unlock()
	if skip {
		return
	}
	sub.fn(current)
}

// restore loads the persisted session once. A sign-in or sign-out that lands
// while loading wins over the loaded value.
func (s *Session) restore(ctx context.Context) *auth.Identity {
	s.mu.Lock()
	if s.loaded {
		current := copyIdentity(s.current)
		s.mu.Unlock()
		return current
	}
	gen := s.gen
	s.mu.Unlock()

	id, expiresAt, err := s.backend.restoreRecord(ctx, s.id)
	if err != nil {
		logger.Warn("Could not restore session, starting signed out", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.setCurrentLocked(id, expiresAt)
	}
	return copyIdentity(s.current)
}
