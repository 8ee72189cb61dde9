package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAndAuthenticateAPIKey(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id := registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")

	created, err := e.CreateAPIKey(ctx, id, "ci deploy", []string{"deploy", "read"})
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if created.Key == "" || created.ID == "" {
		t.Fatal("created key missing material")
	}

	acct, err := e.AuthenticateAPIKey(ctx, created.Key)
	if err != nil {
		t.Fatalf("AuthenticateAPIKey: %v", err)
	}
	if acct.ID != id {
		t.Errorf("key resolves to %q, want %q", acct.ID, id)
	}

	// Listing never exposes the raw key.
	keys, err := e.ListAPIKeys(ctx, id)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("got %d keys, want 1", len(keys))
	}
	if keys[0].Name != "ci deploy" || !keys[0].Active {
		t.Errorf("unexpected summary: %+v", keys[0])
	}
}

func TestAuthenticateAPIKeyFailures(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id := registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")
	created, err := e.CreateAPIKey(ctx, id, "ops", nil)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	if _, err := e.AuthenticateAPIKey(ctx, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("empty key: err = %v", err)
	}
	if _, err := e.AuthenticateAPIKey(ctx, "not-a-key"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown key: err = %v", err)
	}

	// Revoked keys stop authenticating.
	if err := e.RevokeAPIKey(ctx, id, created.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := e.AuthenticateAPIKey(ctx, created.Key); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("revoked key: err = %v", err)
	}

	// Keys of inactive accounts stop authenticating.
	second, err := e.CreateAPIKey(ctx, id, "ops2", nil)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if err := e.DeactivateAccount(ctx, id); err != nil {
		t.Fatalf("DeactivateAccount: %v", err)
	}
	if _, err := e.AuthenticateAPIKey(ctx, second.Key); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("inactive account key: err = %v", err)
	}
}

func TestRevokeAPIKeyOwnerScoped(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	owner := registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")
	other := registerTestAccount(t, e, "eve@example.com", "eve", "another passphrase")

	created, err := e.CreateAPIKey(ctx, owner, "ops", nil)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	// A different account cannot revoke the key.
	if err := e.RevokeAPIKey(ctx, other, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-account revoke: err = %v, want ErrNotFound", err)
	}

	if err := e.RevokeAPIKey(ctx, owner, created.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	// Revoking twice reads as not found.
	if err := e.RevokeAPIKey(ctx, owner, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double revoke: err = %v, want ErrNotFound", err)
	}
}

func TestAPIKeyCap(t *testing.T) {
	cfg := defaultConfig()
	cfg.Token.Secret = testSecret
	cfg.Password.BcryptCost = 10
	cfg.APIKey.MaxKeysPerAccount = 2

	e := newTestEngine(t, withConfig(cfg))
	ctx := context.Background()

	id := registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")

	first, err := e.CreateAPIKey(ctx, id, "one", nil)
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if _, err := e.CreateAPIKey(ctx, id, "two", nil); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if _, err := e.CreateAPIKey(ctx, id, "three", nil); !errors.Is(err, ErrDuplicateCredential) {
		t.Errorf("over cap: err = %v, want ErrDuplicateCredential", err)
	}

	// Revoked keys free up a slot.
	if err := e.RevokeAPIKey(ctx, id, first.ID); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := e.CreateAPIKey(ctx, id, "three", nil); err != nil {
		t.Errorf("create after revoke: %v", err)
	}
}
