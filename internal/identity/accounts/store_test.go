package accounts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	created, err := store.Create(ctx, "Ann@Example.com", "hash", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	byEmail, err := store.ByEmail(ctx, "ann@example.com")
	if err != nil {
		t.Fatalf("ByEmail: %v", err)
	}
	if byEmail.ID != created.ID || byEmail.PasswordHash != "hash" {
		t.Errorf("ByEmail = %+v, want %+v", byEmail, created)
	}

	byID, err := store.ByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if byID.Email != "Ann@Example.com" {
		t.Errorf("Email = %q, want original casing", byID.Email)
	}

	if _, err := store.ByEmail(ctx, "bob@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ByEmail(missing) err = %v, want ErrNotFound", err)
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if _, err := store.Create(ctx, "ann@example.com", "hash", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, "ANN@example.com", "hash", ""); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("duplicate Create err = %v, want ErrDuplicateEmail", err)
	}
}

func TestUpdateDisplayName(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	account, err := store.Create(ctx, "ann@example.com", "hash", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.UpdateDisplayName(ctx, account.ID, "Ann"); err != nil {
		t.Fatalf("UpdateDisplayName: %v", err)
	}
	got, err := store.ByID(ctx, account.ID)
	if err != nil {
		t.Fatalf("ByID: %v", err)
	}
	if got.DisplayName != "Ann" {
		t.Errorf("DisplayName = %q, want Ann", got.DisplayName)
	}

	if err := store.UpdateDisplayName(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateDisplayName(missing) err = %v, want ErrNotFound", err)
	}
}

func TestLinkExternal(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	ext := External{
		Provider:      "google",
		Subject:       "sub-1",
		Email:         "ann@example.com",
		EmailVerified: true,
		Name:          "Ann Lee",
		PhotoURL:      "https://example.com/ann.png",
	}

	first, err := store.LinkExternal(ctx, ext)
	if err != nil {
		t.Fatalf("LinkExternal: %v", err)
	}
	if first.DisplayName != "Ann Lee" || first.PhotoURL != ext.PhotoURL {
		t.Errorf("profile not copied: %+v", first)
	}

	again, err := store.LinkExternal(ctx, ext)
	if err != nil {
		t.Fatalf("second LinkExternal: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("second sign-in created a new account: %s != %s", again.ID, first.ID)
	}
}

func TestLinkExternalToExistingAccount(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	existing, err := store.Create(ctx, "ann@example.com", "hash", "Annie")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	unverified := External{Provider: "keycloak", Subject: "kc-1", Email: "ann@example.com", Name: "Ann"}
	if _, err := store.LinkExternal(ctx, unverified); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("unverified link err = %v, want ErrDuplicateEmail", err)
	}

	verified := unverified
	verified.EmailVerified = true
	linked, err := store.LinkExternal(ctx, verified)
	if err != nil {
		t.Fatalf("verified LinkExternal: %v", err)
	}
	if linked.ID != existing.ID {
		t.Errorf("linked to %s, want existing %s", linked.ID, existing.ID)
	}
	if linked.DisplayName != "Annie" {
		t.Errorf("DisplayName = %q, provider must not override the operator's name", linked.DisplayName)
	}
}
