// Package api serves the dashboard, its sign-in pages and the session API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gwlsn/buswatch/internal/auth"
	"github.com/gwlsn/buswatch/internal/identity/sessions"
	"github.com/gwlsn/buswatch/internal/logger"
)

// CallbackResolver completes an OAuth sign-in from the provider's redirect.
type CallbackResolver interface {
	HandleCallback(ctx context.Context, state, code, errParam string) error
}

// Handler holds the HTTP handlers and their dependencies. Each browser gets
// its own session store, keyed by a signed session cookie.
type Handler struct {
	factory     AdapterFactory
	cookies     *sessions.Cookies
	guard       *auth.Guard
	loginPath   string
	allowSignup bool
	initTimeout time.Duration
	idleTimeout time.Duration
	now         func() time.Time

	callbacks CallbackResolver
	providers []auth.ProviderKind
	oauthWait time.Duration
	keepalive time.Duration

	mu        sync.Mutex
	clients   map[string]*client
	closed    bool
	stop      chan struct{}
	closeOnce sync.Once
}

// Option configures a Handler.
type Option func(*Handler)

// WithOAuth offers sign-in with providers and completes it through callbacks.
func WithOAuth(callbacks CallbackResolver, providers []auth.ProviderKind) Option {
	return func(h *Handler) {
		h.callbacks = callbacks
		h.providers = providers
	}
}

// WithLoginPath overrides the login page path (default /login).
func WithLoginPath(path string) Option {
	return func(h *Handler) {
		if path != "" {
			h.loginPath = path
		}
	}
}

// WithSignup enables or disables self-service sign-up. It is enabled by
// default.
func WithSignup(allow bool) Option {
	return func(h *Handler) { h.allowSignup = allow }
}

// WithInitTimeout bounds how long a browser's session stays initializing.
func WithInitTimeout(d time.Duration) Option {
	return func(h *Handler) { h.initTimeout = d }
}

// WithIdleTimeout sets how long an idle browser's session store is kept in
// memory.
func WithIdleTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.idleTimeout = d
		}
	}
}

// NewHandler creates the handler. factory supplies the identity adapter for
// each browser session and cookies carries the session id. Close releases
// the per-browser state.
func NewHandler(factory AdapterFactory, cookies *sessions.Cookies, opts ...Option) *Handler {
	h := &Handler{
		factory:     factory,
		cookies:     cookies,
		loginPath:   "/login",
		allowSignup: true,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
		oauthWait:   10 * time.Second,
		keepalive:   keepaliveInterval,
		clients:     make(map[string]*client),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.guard = auth.NewSessionGuard(h.resolveStore, h.loginPath, auth.DefaultBypassPaths(h.loginPath))

	go h.runJanitor()
	return h
}

// Routes returns the router. Everything not on the guard's bypass list
// requires a signed-in session.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(h.loadClient)
	r.Use(h.guard.Wrap)

	r.Get("/healthz", h.Healthz)
	r.Get(h.loginPath, h.LoginPage)

	r.Route("/auth", func(r chi.Router) {
		r.Use(sameOrigin)
		r.Post("/login", h.Login)
		r.Post("/signup", h.Signup)
		r.Get("/oauth/{provider}", h.OAuthStart)
		r.Get("/callback", h.OAuthCallback)
		r.Post("/logout", h.Logout)
	})

	r.Get("/api/session", h.Session)
	r.Get("/api/session/stream", h.SessionStream)

	r.Get("/", h.Dashboard)
	r.Get("/api/dashboard", h.DashboardSummary)
	return r
}

// Healthz handles GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Session handles GET /api/session
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, sessionState(r))
}

// sessionState is the request's session, or signed out when the browser has
// no session cookie.
func sessionState(r *http.Request) auth.SessionState {
	if c := clientFrom(r.Context()); c != nil {
		return c.store.State()
	}
	return auth.SessionState{Status: auth.StatusUnauthenticated}
}

// sameOrigin rejects cross-origin state-changing requests.
func sameOrigin(next http.Handler) http.Handler {
	protection := http.NewCrossOriginProtection()
	protection.SetDenyHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("Rejected cross-origin request", "method", r.Method, "path", r.URL.Path, "origin", r.Header.Get("Origin"))
		http.Error(w, "cross-origin request rejected", http.StatusForbidden)
	}))
	return protection.Handler(next)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}
