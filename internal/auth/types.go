package auth

// AuthUser is the normalized identity exposed to the rest of the application.
// ID and Email never change once set. PhotoURL is empty when the provider has
// no picture.
type AuthUser struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL,omitempty"`
}

// Identity is the raw record an identity adapter delivers. Only UID is
// guaranteed to be set.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	Provider    string
}

// ProviderKind names an OAuth provider, e.g. "google".
type ProviderKind string

// Status is the tri-state session status.
type Status int

const (
	// StatusInitializing holds until the adapter's first notification.
	StatusInitializing Status = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SessionState is the store's view of the session. User is non-nil exactly
// when Status is StatusAuthenticated. Error is advisory text for display.
type SessionState struct {
	Status Status    `json:"status"`
	User   *AuthUser `json:"user"`
	Error  string    `json:"error,omitempty"`
}

func (s SessionState) clone() SessionState {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
