package sessions

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CookieName is the name of the session cookie.
const CookieName = "buswatch_session"

// MinSecretLength is the shortest accepted signing secret, in bytes.
const MinSecretLength = 32

// Cookies issues and verifies HMAC-signed session id cookies.
type Cookies struct {
	secret []byte
	secure bool
	maxAge time.Duration
}

// NewCookies creates a codec signing with secret. Cookies live for maxAge and
// carry the Secure flag when secure is set.
func NewCookies(secret []byte, secure bool, maxAge time.Duration) (*Cookies, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("session cookie secret must be at least %d bytes", MinSecretLength)
	}
	return &Cookies{secret: secret, secure: secure, maxAge: maxAge}, nil
}

// RandomSecret returns a fresh signing secret.
func RandomSecret() ([]byte, error) {
	secret := make([]byte, MinSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("session: failed to generate secret: %w", err)
	}
	return secret, nil
}

// GenerateID returns a new random session id.
func GenerateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Read returns the session id carried by r's cookie, if it is present and
// correctly signed.
func (c *Cookies) Read(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	id, err := c.verify(cookie.Value)
	if err != nil {
		return "", false
	}
	return id, true
}

// Set issues the cookie for session id.
func (c *Cookies) Set(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id + "." + c.sign(id),
		Path:     "/",
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear removes the cookie from the browser.
func (c *Cookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c *Cookies) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Cookies) verify(value string) (string, error) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", errors.New("invalid session format")
	}
	signature, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", errors.New("invalid session signature")
	}
	expected := hmac.New(sha256.New, c.secret)
	expected.Write([]byte(id))
	if subtle.ConstantTimeCompare(signature, expected.Sum(nil)) != 1 {
		return "", errors.New("invalid session signature")
	}
	return id, nil
}
