// Package oidc runs OpenID Connect sign-in as a popup flow: the caller hands
// an authorization URL to the user and waits for the provider's callback.
package oidc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gwlsn/buswatch/internal/auth"
	"golang.org/x/oauth2"
)

// Claims are the identity facts taken from a verified ID token.
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchanger builds authorization URLs and redeems authorization codes for
// one provider.
type Exchanger interface {
	AuthCodeURL(state, nonce, verifier string) string
	Exchange(ctx context.Context, code, verifier, nonce string) (*Claims, error)
}

// Flow is the authorization code flow (with PKCE) for one OIDC provider.
type Flow struct {
	kind         auth.ProviderKind
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
}

// NewFlow discovers issuer and prepares a flow for kind.
func NewFlow(ctx context.Context, kind auth.ProviderKind, issuer, clientID, clientSecret, redirectURL string, scopes []string) (*Flow, error) {
	if issuer == "" {
		return nil, errors.New("oidc flow requires issuer")
	}
	if clientID == "" {
		return nil, errors.New("oidc flow requires client_id")
	}
	if redirectURL == "" {
		return nil, errors.New("oidc flow requires redirect_url")
	}

	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", issuer, err)
	}

	return &Flow{
		kind: kind,
		oauth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       normalizeScopes(scopes),
			Endpoint:     provider.Endpoint(),
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// AuthCodeURL returns the provider URL the popup should open.
func (f *Flow) AuthCodeURL(state, nonce, verifier string) string {
	return f.oauth2Config.AuthCodeURL(state,
		oidc.Nonce(nonce),
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
	)
}

// Exchange redeems code, verifies the ID token and its nonce, and returns
// the token's claims.
func (f *Flow) Exchange(ctx context.Context, code, verifier, nonce string) (*Claims, error) {
	token, err := f.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%s token exchange: %w", f.kind, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%s did not return an id_token", f.kind)
	}

	idToken, err := f.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%s id_token verification: %w", f.kind, err)
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return nil, errors.New("invalid nonce")
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s id_token claims: %w", f.kind, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%s id_token missing subject", f.kind)
	}
	return &claims, nil
}

func normalizeScopes(scopes []string) []string {
	hasOpenID := false
	normalized := make([]string, 0, len(scopes)+1)
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if scope == oidc.ScopeOpenID {
			hasOpenID = true
		}
		normalized = append(normalized, scope)
	}
	if len(normalized) == 0 {
		return []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if !hasOpenID {
		normalized = append([]string{oidc.ScopeOpenID}, normalized...)
	}
	return normalized
}
