package config

import (
	"testing"
)

func TestIsValidMode(t *testing.T) {
	tests := []struct {
		name string
		mode string
		want bool
	}{
		{"auth", "auth", true},
		{"demo", "demo", true},

		{"empty string", "", false},
		{"unknown mode", "kiosk", false},
		{"uppercase (case sensitive)", "Auth", false},
		{"extra whitespace", " demo ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidMode(tt.mode)
			if got != tt.want {
				t.Errorf("IsValidMode(%q) = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}
}

func TestValidateSanitizers(t *testing.T) {
	// Each sanitizer hands back its input when valid and the default
	// otherwise, so callers always get a usable value.
	tests := []struct {
		name     string
		validate func(string) string
		input    string
		want     string
	}{
		{"mode passes through", ValidateMode, "demo", "demo"},
		{"mode defaults", ValidateMode, "", DefaultMode},
		{"backend passes through", ValidateSessionBackend, "redis", "redis"},
		{"backend defaults", ValidateSessionBackend, "memcached", DefaultSessionBackend},
		{"hash passes through", ValidateHashAlgo, "argon2id", "argon2id"},
		{"hash defaults on argon2i", ValidateHashAlgo, "argon2i", DefaultHashAlgo},
		{"hash defaults on case mismatch", ValidateHashAlgo, "BCRYPT", DefaultHashAlgo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.validate(tt.input); got != tt.want {
				t.Errorf("validate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
