package auth

import "testing"

func TestDisplayName(t *testing.T) {
	// Precedence: display name, then email local part, then "User".
	tests := []struct {
		name        string
		displayName string
		email       string
		want        string
	}{
		{"display name wins", "Ann Lee", "ann@example.com", "Ann Lee"},
		{"display name is trimmed", "  Ann  ", "ann@example.com", "Ann"},
		{"blank display name falls back to email", "   ", "ann@example.com", "ann"},
		{"email local part", "", "a@b.com", "a"},
		{"email without at sign", "", "operator", "operator"},
		{"email with empty local part", "", "@b.com", DefaultUserName},
		{"nothing available", "", "", DefaultUserName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.displayName, tt.email); got != tt.want {
				t.Errorf("DisplayName(%q, %q) = %q, want %q", tt.displayName, tt.email, got, tt.want)
			}
		})
	}
}

func TestNormalizeUser(t *testing.T) {
	got := NormalizeUser(&Identity{UID: "u1", Email: "a@b.com", PhotoURL: "https://example.com/a.png"})
	want := AuthUser{ID: "u1", Email: "a@b.com", Name: "a", PhotoURL: "https://example.com/a.png"}
	if got != want {
		t.Errorf("NormalizeUser() = %+v, want %+v", got, want)
	}
}
