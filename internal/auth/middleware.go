package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// Decision is the route guard's verdict for a request.
type Decision int

const (
	// DecisionLoading renders a neutral placeholder; the session is not known yet.
	DecisionLoading Decision = iota
	// DecisionDenied redirects to the login page.
	DecisionDenied
	// DecisionGranted renders the protected content.
	DecisionGranted
)

func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionDenied:
		return "denied"
	case DecisionGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// Decide maps a session status to a guard decision. Initializing is never
// treated as denied.
func Decide(status Status) Decision {
	switch status {
	case StatusAuthenticated:
		return DecisionGranted
	case StatusUnauthenticated:
		return DecisionDenied
	default:
		return DecisionLoading
	}
}

// StateReader is the read side of the session store.
type StateReader interface {
	State() SessionState
}

// Guard gates protected routes on the session store. When Resolve is set it
// picks the store for each request and takes precedence over Store; a nil
// result means the request carries no session and is denied.
type Guard struct {
	Store       StateReader
	Resolve     func(*http.Request) StateReader
	LoginPath   string
	BypassPaths []string
}

// DefaultBypassPaths returns endpoints reachable without a session.
func DefaultBypassPaths(loginPath string) []string {
	return []string{"/healthz", loginPath, "/auth/*", "/api/session", "/api/session/stream"}
}

// NewGuard creates a route guard.
func NewGuard(store StateReader, loginPath string, bypassPaths []string) *Guard {
	return &Guard{Store: store, LoginPath: loginPath, BypassPaths: bypassPaths}
}

// NewSessionGuard creates a route guard that resolves the store per request.
func NewSessionGuard(resolve func(*http.Request) StateReader, loginPath string, bypassPaths []string) *Guard {
	return &Guard{Resolve: resolve, LoginPath: loginPath, BypassPaths: bypassPaths}
}

// Wrap wraps an HTTP handler with the guard. The handler only runs when the
// session is authenticated.
func (g *Guard) Wrap(next http.Handler) http.Handler {
	if g == nil || (g.Store == nil && g.Resolve == nil) {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.shouldBypass(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		state := g.state(r)
		switch Decide(state.Status) {
		case DecisionGranted:
			ctx := context.WithValue(r.Context(), contextKey{}, state.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		case DecisionDenied:
			if isAPIRequest(r.URL.Path) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			http.Redirect(w, r, g.LoginPath, http.StatusFound)
		default:
			if isAPIRequest(r.URL.Path) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session initializing", http.StatusServiceUnavailable)
				return
			}
			renderPlaceholder(w)
		}
	})
}

func (g *Guard) state(r *http.Request) SessionState {
	store := g.Store
	if g.Resolve != nil {
		store = g.Resolve(r)
	}
	if store == nil {
		return SessionState{Status: StatusUnauthenticated}
	}
	return store.State()
}

// UserFromContext returns the authenticated user if present.
func UserFromContext(ctx context.Context) (*AuthUser, bool) {
	user, ok := ctx.Value(contextKey{}).(*AuthUser)
	return user, ok && user != nil
}

func (g *Guard) shouldBypass(path string) bool {
	for _, bypass := range g.BypassPaths {
		if bypass == path {
			return true
		}
		if strings.HasSuffix(bypass, "*") {
			prefix := strings.TrimSuffix(bypass, "*")
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}
	return false
}

func isAPIRequest(path string) bool {
	if path == "/api" {
		return true
	}
	return strings.HasPrefix(path, "/api/")
}
