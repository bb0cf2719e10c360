package auth

import (
	"context"
	"sync"
)

// fakeAdapter records subscriptions and lets tests drive notifications and
// credential results.
type fakeAdapter struct {
	mu               sync.Mutex
	subscribeCalls   int
	unsubscribeCalls int
	fn               func(*Identity)

	signIn     func(ctx context.Context, email, password string) (*Identity, error)
	register   func(ctx context.Context, email, password string) (*Identity, error)
	updateName func(ctx context.Context, id *Identity, name string) error
	oauth      func(ctx context.Context, kind ProviderKind) (*Identity, error)
	signOut    func(ctx context.Context) error
}

func (f *fakeAdapter) Subscribe(fn func(*Identity)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	f.fn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.unsubscribeCalls++
	}
}

// emit delivers a notification to the registered callback, even after
// unsubscribe, to imitate a backend that calls back late.
func (f *fakeAdapter) emit(id *Identity) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

func (f *fakeAdapter) counts() (subscribed, unsubscribed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls, f.unsubscribeCalls
}

func (f *fakeAdapter) SignInWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	if f.signIn == nil {
		return &Identity{UID: "u-" + email, Email: email}, nil
	}
	return f.signIn(ctx, email, password)
}

func (f *fakeAdapter) RegisterWithPassword(ctx context.Context, email, password string) (*Identity, error) {
	if f.register == nil {
		return &Identity{UID: "u-" + email, Email: email}, nil
	}
	return f.register(ctx, email, password)
}

func (f *fakeAdapter) UpdateDisplayName(ctx context.Context, id *Identity, name string) error {
	if f.updateName == nil {
		return nil
	}
	return f.updateName(ctx, id, name)
}

func (f *fakeAdapter) SignInWithOAuth(ctx context.Context, kind ProviderKind) (*Identity, error) {
	if f.oauth == nil {
		return &Identity{UID: "oauth-user", Email: "oauth@example.com", DisplayName: "OAuth User"}, nil
	}
	return f.oauth(ctx, kind)
}

func (f *fakeAdapter) SignOut(ctx context.Context) error {
	if f.signOut == nil {
		return nil
	}
	return f.signOut(ctx)
}
