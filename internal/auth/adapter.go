package auth

import "context"

// Adapter is the identity backend the session core depends on. It verifies
// credentials, runs OAuth flows and owns session persistence.
//
// Failures wrap one of the sentinel errors in this package so KindOf can
// classify them.
type Adapter interface {
	// Subscribe registers fn to be called with the current identity, or nil,
	// whenever the backend session changes. Once the returned function has
	// returned, fn is never called again for this registration.
	Subscribe(fn func(*Identity)) (unsubscribe func())

	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)
	RegisterWithPassword(ctx context.Context, email, password string) (*Identity, error)
	UpdateDisplayName(ctx context.Context, id *Identity, name string) error

	// SignInWithOAuth hands the provider's authorization URL to the popup
	// carried by ctx and blocks until the flow finishes.
	SignInWithOAuth(ctx context.Context, kind ProviderKind) (*Identity, error)

	SignOut(ctx context.Context) error
}

// Popup opens an authorization URL for the user.
type Popup func(authURL string)

type popupKey struct{}

// WithPopup returns a context carrying the popup used by OAuth sign-in.
func WithPopup(ctx context.Context, popup Popup) context.Context {
	return context.WithValue(ctx, popupKey{}, popup)
}

// PopupFromContext returns the popup carried by ctx, if any.
func PopupFromContext(ctx context.Context) (Popup, bool) {
	popup, ok := ctx.Value(popupKey{}).(Popup)
	return popup, ok && popup != nil
}
