package auth

import (
	"context"
	"sync"
)

// NoopAdapter signs in a fixed demo operator without checking credentials.
// It backs the demo deployment mode.
type NoopAdapter struct {
	identity *Identity

	mu   sync.Mutex
	subs map[int]func(*Identity)
	next int
}

// NewNoopAdapter returns an adapter that always reports the demo operator.
func NewNoopAdapter() *NoopAdapter {
	return &NoopAdapter{
		identity: &Identity{UID: "demo", Email: "operator@buswatch.local", DisplayName: "Demo Operator", Provider: "demo"},
		subs:     make(map[int]func(*Identity)),
	}
}

// Subscribe reports the demo operator immediately.
func (a *NoopAdapter) Subscribe(fn func(*Identity)) func() {
	a.mu.Lock()
	id := a.next
	a.next++
	a.subs[id] = fn
	fn(a.copyIdentity())
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// SignInWithPassword always succeeds.
func (a *NoopAdapter) SignInWithPassword(_ context.Context, _, _ string) (*Identity, error) {
	return a.signIn(), nil
}

// RegisterWithPassword always succeeds.
func (a *NoopAdapter) RegisterWithPassword(_ context.Context, _, _ string) (*Identity, error) {
	return a.signIn(), nil
}

// UpdateDisplayName is a no-op.
func (a *NoopAdapter) UpdateDisplayName(_ context.Context, _ *Identity, _ string) error {
	return nil
}

// SignInWithOAuth always succeeds without opening a popup.
func (a *NoopAdapter) SignInWithOAuth(_ context.Context, _ ProviderKind) (*Identity, error) {
	return a.signIn(), nil
}

// SignOut is ignored; the demo operator stays signed in.
func (a *NoopAdapter) SignOut(_ context.Context) error {
	a.notify()
	return nil
}

func (a *NoopAdapter) signIn() *Identity {
	a.notify()
	return a.copyIdentity()
}

func (a *NoopAdapter) notify() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, fn := range a.subs {
		fn(a.copyIdentity())
	}
}

func (a *NoopAdapter) copyIdentity() *Identity {
	id := *a.identity
	return &id
}
