package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *outcomeRecorder) record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *outcomeRecorder) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

func TestSignInWithEmailInvalidCredentials(t *testing.T) {
	adapter := &fakeAdapter{
		signIn: func(context.Context, string, string) (*Identity, error) {
			return nil, fmt.Errorf("verify password: %w", ErrInvalidCredentials)
		},
	}
	store := NewStore(adapter)
	defer store.Close()
	adapter.emit(nil)
	before := store.State()

	ops := NewOperations(adapter, store)
	user, err := ops.SignInWithEmail(context.Background(), "a@b.com", "wrong")
	if user != nil {
		t.Errorf("user = %+v, want nil", user)
	}

	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.Kind != KindInvalidCredentials {
		t.Fatalf("err = %v, want invalid credentials", err)
	}

	if after := store.State(); after.Status != before.Status || after.Error != before.Error || after.User != nil {
		t.Errorf("store changed: before %+v, after %+v", before, after)
	}
}

func TestSignInWithEmailSuccess(t *testing.T) {
	rec := &outcomeRecorder{}
	adapter := &fakeAdapter{
		signIn: func(_ context.Context, email, _ string) (*Identity, error) {
			return &Identity{UID: "u1", Email: email, DisplayName: "Ann"}, nil
		},
	}
	store := NewStore(adapter)
	defer store.Close()

	ops := NewOperations(adapter, store, WithOutcomeHandler(rec.record))
	user, err := ops.SignInWithEmail(context.Background(), "ann@example.com", "pw")
	if err != nil {
		t.Fatalf("SignInWithEmail: %v", err)
	}
	if user.ID != "u1" || user.Name != "Ann" {
		t.Errorf("user = %+v", user)
	}

	// Operations never write the store; only the subscription does.
	if got := store.State().Status; got != StatusInitializing {
		t.Errorf("Status = %v, want initializing", got)
	}
	if outcomes := rec.all(); len(outcomes) != 1 || outcomes[0].User == nil {
		t.Errorf("outcomes = %+v, want one success", outcomes)
	}
}

func TestSignUpKeepsNameWhenProfileUpdateFails(t *testing.T) {
	rec := &outcomeRecorder{}
	adapter := &fakeAdapter{
		register: func(_ context.Context, email, _ string) (*Identity, error) {
			return &Identity{UID: "u1", Email: email}, nil
		},
		updateName: func(context.Context, *Identity, string) error {
			return ErrProfileUpdateFailed
		},
	}
	store := NewStore(adapter)
	defer store.Close()

	ops := NewOperations(adapter, store, WithOutcomeHandler(rec.record))
	user, err := ops.SignUpWithEmail(context.Background(), "a@b.com", "pw", "Ann")
	if err != nil {
		t.Fatalf("SignUpWithEmail returned error: %v", err)
	}
	if user.Name != "Ann" {
		t.Errorf("Name = %q, want Ann", user.Name)
	}

	outcomes := rec.all()
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %+v, want one", outcomes)
	}
	if KindOf(outcomes[0].Diagnostic) != KindProfileUpdateFailed {
		t.Errorf("Diagnostic = %v, want profile update failure", outcomes[0].Diagnostic)
	}
	if outcomes[0].Err != nil {
		t.Errorf("Err = %v, want nil", outcomes[0].Err)
	}
}

func TestSignUpEmailInUse(t *testing.T) {
	updated := false
	adapter := &fakeAdapter{
		register: func(context.Context, string, string) (*Identity, error) {
			return nil, ErrEmailInUse
		},
		updateName: func(context.Context, *Identity, string) error {
			updated = true
			return nil
		},
	}
	ops := NewOperations(adapter, nil)

	_, err := ops.SignUpWithEmail(context.Background(), "a@b.com", "pw", "Ann")
	if KindOf(err) != KindEmailInUse {
		t.Fatalf("err = %v, want email in use", err)
	}
	if updated {
		t.Error("display name updated after failed registration")
	}
}

func TestSignInWithOAuthPopupClosedIsSilent(t *testing.T) {
	rec := &outcomeRecorder{}
	adapter := &fakeAdapter{
		oauth: func(context.Context, ProviderKind) (*Identity, error) {
			return nil, fmt.Errorf("google: %w", ErrPopupClosed)
		},
	}
	ops := NewOperations(adapter, nil, WithOutcomeHandler(rec.record))

	user, err := ops.SignInWithOAuth(context.Background(), "google")
	if user != nil || err != nil {
		t.Fatalf("SignInWithOAuth = (%+v, %v), want (nil, nil)", user, err)
	}
	if outcomes := rec.all(); len(outcomes) != 0 {
		t.Errorf("cancellation reported: %+v", outcomes)
	}
}

func TestSignInWithOAuthNetworkError(t *testing.T) {
	adapter := &fakeAdapter{
		oauth: func(context.Context, ProviderKind) (*Identity, error) {
			return nil, context.DeadlineExceeded
		},
	}
	ops := NewOperations(adapter, nil)

	_, err := ops.SignInWithOAuth(context.Background(), "google")
	if KindOf(err) != KindNetwork {
		t.Fatalf("err = %v, want network error", err)
	}
}

func TestSignOutSwallowsFailure(t *testing.T) {
	rec := &outcomeRecorder{}
	adapter := &fakeAdapter{
		signOut: func(context.Context) error {
			return fmt.Errorf("%w: redis unavailable", ErrNetwork)
		},
	}
	store := NewStore(adapter)
	defer store.Close()
	adapter.emit(&Identity{UID: "u1", Email: "a@b.com"})

	ops := NewOperations(adapter, store, WithOutcomeHandler(rec.record))
	ops.SignOut(context.Background())

	// The failure is not surfaced and the store waits for the adapter.
	if got := store.State().Status; got != StatusAuthenticated {
		t.Errorf("Status = %v, want authenticated", got)
	}
	if outcomes := rec.all(); len(outcomes) != 0 {
		t.Errorf("failed sign-out reported: %+v", outcomes)
	}
}

func TestConcurrentSignInStaleFailureDiscarded(t *testing.T) {
	// The first request resolves with a failure after the second request
	// already succeeded. The success must be the visible outcome.
	rec := &outcomeRecorder{}
	entered := make(chan struct{})
	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})

	var mu sync.Mutex
	calls := 0
	adapter := &fakeAdapter{
		signIn: func(_ context.Context, email, _ string) (*Identity, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			entered <- struct{}{}
			if n == 1 {
				<-releaseFirst
				return nil, ErrInvalidCredentials
			}
			<-releaseSecond
			return &Identity{UID: "u1", Email: email}, nil
		},
	}
	store := NewStore(adapter)
	defer store.Close()
	ops := NewOperations(adapter, store, WithOutcomeHandler(rec.record))

	type result struct {
		user *AuthUser
		err  error
	}
	firstDone := make(chan result, 1)
	secondDone := make(chan result, 1)

	go func() {
		user, err := ops.SignInWithEmail(context.Background(), "a@b.com", "old")
		firstDone <- result{user, err}
	}()
	<-entered
	go func() {
		user, err := ops.SignInWithEmail(context.Background(), "A@B.com", "new")
		secondDone <- result{user, err}
	}()
	<-entered

	close(releaseSecond)
	second := <-secondDone
	if second.err != nil || second.user == nil {
		t.Fatalf("second = %+v, want success", second)
	}

	close(releaseFirst)
	first := <-firstDone
	if !errors.Is(first.err, ErrSuperseded) {
		t.Fatalf("first err = %v, want ErrSuperseded", first.err)
	}

	outcomes := rec.all()
	if len(outcomes) != 1 || outcomes[0].User == nil || outcomes[0].Err != nil {
		t.Fatalf("outcomes = %+v, want only the success", outcomes)
	}
}

func TestConcurrentSignInInOrderBothDelivered(t *testing.T) {
	// An earlier request that resolves first is still current.
	rec := &outcomeRecorder{}
	release := []chan struct{}{make(chan struct{}), make(chan struct{})}
	entered := make(chan int, 2)

	var mu sync.Mutex
	calls := 0
	adapter := &fakeAdapter{
		signIn: func(_ context.Context, email, _ string) (*Identity, error) {
			mu.Lock()
			n := calls
			calls++
			mu.Unlock()
			entered <- n
			<-release[n]
			if n == 0 {
				return nil, ErrInvalidCredentials
			}
			return &Identity{UID: "u1", Email: email}, nil
		},
	}
	ops := NewOperations(adapter, nil, WithOutcomeHandler(rec.record))

	done := make(chan error, 2)
	go func() {
		_, err := ops.SignInWithEmail(context.Background(), "a@b.com", "old")
		done <- err
	}()
	<-entered
	go func() {
		_, err := ops.SignInWithEmail(context.Background(), "a@b.com", "new")
		done <- err
	}()
	<-entered

	close(release[0])
	if err := <-done; KindOf(err) != KindInvalidCredentials {
		t.Fatalf("first err = %v, want invalid credentials", err)
	}
	close(release[1])
	if err := <-done; err != nil {
		t.Fatalf("second err = %v, want nil", err)
	}

	outcomes := rec.all()
	if len(outcomes) != 2 || outcomes[1].User == nil {
		t.Fatalf("outcomes = %+v, want failure then success", outcomes)
	}
}

func TestResultAfterStoreCloseDiscarded(t *testing.T) {
	rec := &outcomeRecorder{}
	release := make(chan struct{})
	entered := make(chan struct{})
	adapter := &fakeAdapter{
		signIn: func(_ context.Context, email, _ string) (*Identity, error) {
			close(entered)
			<-release
			return &Identity{UID: "u1", Email: email}, nil
		},
	}
	store := NewStore(adapter)
	ops := NewOperations(adapter, store, WithOutcomeHandler(rec.record))

	done := make(chan error, 1)
	go func() {
		_, err := ops.SignInWithEmail(context.Background(), "a@b.com", "pw")
		done <- err
	}()
	<-entered
	store.Close()
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, ErrStoreClosed) {
			t.Fatalf("err = %v, want ErrStoreClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sign-in never returned")
	}
	if outcomes := rec.all(); len(outcomes) != 0 {
		t.Errorf("outcome reported after teardown: %+v", outcomes)
	}
}

func TestInflightKeysReleased(t *testing.T) {
	ops := NewOperations(&fakeAdapter{}, nil)
	for i := 0; i < 3; i++ {
		if _, err := ops.SignInWithEmail(context.Background(), "a@b.com", "pw"); err != nil {
			t.Fatalf("SignInWithEmail: %v", err)
		}
	}
	ops.mu.Lock()
	defer ops.mu.Unlock()
	if len(ops.keys) != 0 {
		t.Errorf("keys not released: %v", ops.keys)
	}
}

func TestCancelledOAuthDoesNotSupersedeEarlierSignIn(t *testing.T) {
	// A popup closed by a later attempt must not discard an earlier attempt
	// that is still completing.
	rec := &outcomeRecorder{}
	entered := make(chan struct{})
	releaseFirst := make(chan struct{})

	var mu sync.Mutex
	calls := 0
	adapter := &fakeAdapter{
		oauth: func(context.Context, ProviderKind) (*Identity, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			entered <- struct{}{}
			if n == 1 {
				<-releaseFirst
				return &Identity{UID: "u1", Email: "ann@example.com"}, nil
			}
			return nil, fmt.Errorf("google: %w", ErrPopupClosed)
		},
	}
	store := NewStore(adapter)
	defer store.Close()
	ops := NewOperations(adapter, store, WithOutcomeHandler(rec.record))

	firstDone := make(chan error, 1)
	var firstUser *AuthUser
	go func() {
		user, err := ops.SignInWithOAuth(context.Background(), "google")
		firstUser = user
		firstDone <- err
	}()
	<-entered

	secondDone := make(chan error, 1)
	go func() {
		user, err := ops.SignInWithOAuth(context.Background(), "google")
		if user != nil {
			err = fmt.Errorf("cancelled sign-in returned user %+v", user)
		}
		secondDone <- err
	}()
	<-entered
	if err := <-secondDone; err != nil {
		t.Fatalf("cancelled sign-in: %v", err)
	}

	close(releaseFirst)
	if err := <-firstDone; err != nil {
		t.Fatalf("first err = %v, want success", err)
	}
	if firstUser == nil || firstUser.ID != "u1" {
		t.Errorf("first user = %+v, want u1", firstUser)
	}
	if outcomes := rec.all(); len(outcomes) != 1 || outcomes[0].User == nil {
		t.Errorf("outcomes = %+v, want one success", outcomes)
	}

	ops.mu.Lock()
	defer ops.mu.Unlock()
	if len(ops.keys) != 0 {
		t.Errorf("keys not released: %v", ops.keys)
	}
}
