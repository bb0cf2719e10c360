package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gwlsn/buswatch/internal/auth"
	"github.com/gwlsn/buswatch/internal/auth/oidc"
	"github.com/gwlsn/buswatch/internal/logger"
)

const maxCredentialsBody = 1 << 16

var errMissingCredentials = errors.New("email and password are required")

const signupDisabledMessage = "Sign-up is disabled. Ask an operator for an account."

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Login handles POST /auth/login (form or JSON).
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(w, r)
	if err != nil {
		h.credentialsFailed(w, r, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.clientFor(w, r)
	if err != nil {
		h.credentialsFailed(w, r, statusFor(err), messageFor(err))
		return
	}

	// Detached from the request so a dropped connection does not abandon a
	// sign-in the backend already committed.
	ctx := context.WithoutCancel(r.Context())
	user, err := c.ops.SignInWithEmail(ctx, creds.Email, creds.Password)
	if err != nil {
		h.credentialsFailed(w, r, statusFor(err), messageFor(err))
		return
	}
	h.credentialsSucceeded(w, r, user)
}

// Signup handles POST /auth/signup (form or JSON).
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if !h.allowSignup {
		h.credentialsFailed(w, r, http.StatusForbidden, signupDisabledMessage)
		return
	}
	creds, err := readCredentials(w, r)
	if err != nil {
		h.credentialsFailed(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := h.clientFor(w, r)
	if err != nil {
		h.credentialsFailed(w, r, statusFor(err), messageFor(err))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	user, err := c.ops.SignUpWithEmail(ctx, creds.Email, creds.Password, creds.Name)
	if err != nil {
		h.credentialsFailed(w, r, statusFor(err), messageFor(err))
		return
	}

	// The backend may have announced the account before its name was saved.
	// A sign-out that landed in between wins.
	c.store.RefreshUser(user)
	h.credentialsSucceeded(w, r, user)
}

// Logout handles POST /auth/logout. It ends only the requesting browser's
// session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c := clientFrom(r.Context()); c != nil {
		c.ops.SignOut(context.WithoutCancel(r.Context()))
		h.dropClient(c.id)
	}
	h.cookies.Clear(w)
	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
}

type oauthResult struct {
	user *auth.AuthUser
	err  error
}

// OAuthStart handles GET /auth/oauth/{provider}. It starts the sign-in in the
// background and redirects the browser to the provider; the sign-in finishes
// when the provider redirects back to /auth/callback.
func (h *Handler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	kind := auth.ProviderKind(chi.URLParam(r, "provider"))
	if !h.offers(kind) {
		http.NotFound(w, r)
		return
	}

	c, err := h.clientFor(w, r)
	if err != nil {
		h.redirectToLogin(w, r, messageFor(err))
		return
	}

	urls := make(chan string, 1)
	results := make(chan oauthResult, 1)
	popup := func(authURL string) {
		select {
		case urls <- authURL:
		default:
		}
	}

	ctx := auth.WithPopup(context.WithoutCancel(r.Context()), popup)
	go func() {
		user, err := c.ops.SignInWithOAuth(ctx, kind)
		results <- oauthResult{user: user, err: err}
	}()

	timer := time.NewTimer(h.oauthWait)
	defer timer.Stop()

	select {
	case authURL := <-urls:
		http.Redirect(w, r, authURL, http.StatusFound)
	case res := <-results:
		// The adapter finished without needing the provider.
		if res.err != nil {
			h.redirectToLogin(w, r, messageFor(res.err))
			return
		}
		if res.user == nil {
			h.redirectToLogin(w, r, "")
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case <-timer.C:
		logger.Warn("OAuth sign-in did not produce an authorization URL", "provider", kind)
		http.Error(w, "sign-in provider did not respond", http.StatusGatewayTimeout)
	}
}

// OAuthCallback handles GET /auth/callback
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.callbacks == nil {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	err := h.callbacks.HandleCallback(r.Context(), q.Get("state"), q.Get("code"), q.Get("error"))
	switch {
	case err == nil:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case errors.Is(err, oidc.ErrUnknownState), errors.Is(err, oidc.ErrAbandoned):
		logger.Info("OAuth callback without a waiting sign-in", "error", err)
		h.redirectToLogin(w, r, "This sign-in has expired. Please try again.")
	case auth.KindOf(err) == auth.KindPopupClosed:
		h.redirectToLogin(w, r, "")
	default:
		logger.Info("OAuth callback failed", "error", err)
		h.redirectToLogin(w, r, messageFor(err))
	}
}

func (h *Handler) offers(kind auth.ProviderKind) bool {
	for _, p := range h.providers {
		if p == kind {
			return true
		}
	}
	return false
}

func (h *Handler) credentialsSucceeded(w http.ResponseWriter, r *http.Request, user *auth.AuthUser) {
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"user": user})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) credentialsFailed(w http.ResponseWriter, r *http.Request, status int, message string) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]string{"error": message})
		return
	}
	h.renderLogin(w, status, message)
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request, message string) {
	target := h.loginPath
	if message != "" {
		target += "?" + url.Values{"error": {message}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func readCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var creds credentials
	r.Body = http.MaxBytesReader(w, r.Body, maxCredentialsBody)

	if isJSON(r.Header.Get("Content-Type")) {
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
			return creds, errors.New("invalid request body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return creds, errors.New("invalid form")
		}
		creds.Email = r.PostForm.Get("email")
		creds.Password = r.PostForm.Get("password")
		creds.Name = r.PostForm.Get("name")
	}

	creds.Email = strings.TrimSpace(creds.Email)
	if creds.Email == "" || creds.Password == "" {
		return creds, errMissingCredentials
	}
	return creds, nil
}

func wantsJSON(r *http.Request) bool {
	return isJSON(r.Header.Get("Content-Type")) || strings.Contains(r.Header.Get("Accept"), "application/json")
}

func isJSON(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, auth.ErrStoreClosed):
		return http.StatusServiceUnavailable
	}

	switch auth.KindOf(err) {
	case auth.KindInvalidCredentials:
		return http.StatusUnauthorized
	case auth.KindEmailInUse:
		return http.StatusConflict
	case auth.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, auth.ErrSuperseded):
		return "A newer sign-in attempt replaced this one."
	case errors.Is(err, auth.ErrStoreClosed):
		return "The server is shutting down. Please try again."
	}
	return auth.KindOf(err).Message()
}
