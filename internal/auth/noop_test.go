package auth

import (
	"context"
	"testing"
)

func TestNoopAdapterKeepsDemoOperatorSignedIn(t *testing.T) {
	adapter := NewNoopAdapter()
	store := NewStore(adapter)
	defer store.Close()

	ops := NewOperations(adapter, store)
	user, err := ops.SignInWithEmail(context.Background(), "anyone@example.com", "anything")
	if err != nil {
		t.Fatalf("SignInWithEmail: %v", err)
	}
	if user.ID != "demo" {
		t.Errorf("ID = %q, want demo", user.ID)
	}

	ops.SignOut(context.Background())
	if got := store.State().Status; got != StatusAuthenticated {
		t.Errorf("Status = %v, want authenticated", got)
	}
}
