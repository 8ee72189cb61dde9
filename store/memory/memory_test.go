package memory

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/authsmith/authcore/store"
)

func testAccount(id, email, username string) *store.Account {
	return &store.Account{
		ID:           id,
		Email:        email,
		Username:     username,
		PasswordHash: "$2a$10$fake",
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
}

func hashOf(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func TestAccountLookups(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateAccount(ctx, testAccount("id1", "Ada@Example.com", "ada")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	// Email lookup is case-insensitive, username lookup is exact.
	for _, ident := range []string{"ada@example.com", "ADA@EXAMPLE.COM", "ada"} {
		a, err := s.AccountByIdentifier(ctx, ident)
		if err != nil {
			t.Errorf("AccountByIdentifier(%q): %v", ident, err)
			continue
		}
		if a.ID != "id1" {
			t.Errorf("AccountByIdentifier(%q) = %q", ident, a.ID)
		}
	}

	if _, err := s.AccountByIdentifier(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing identifier: err = %v", err)
	}
	if _, err := s.AccountByID(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing ID: err = %v", err)
	}
}

func TestAccountUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateAccount(ctx, testAccount("id1", "ada@example.com", "ada")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	if err := s.CreateAccount(ctx, testAccount("id2", "ada@example.com", "other")); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate email: err = %v", err)
	}
	if err := s.CreateAccount(ctx, testAccount("id3", "other@example.com", "ada")); !errors.Is(err, store.ErrDuplicate) {
		t.Errorf("duplicate username: err = %v", err)
	}
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateAccount(ctx, testAccount("id1", "ada@example.com", "ada")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	a, err := s.AccountByID(ctx, "id1")
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	a.PasswordHash = "mutated"

	again, err := s.AccountByID(ctx, "id1")
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	if again.PasswordHash == "mutated" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	sess := &store.Session{
		ID:        "s1",
		AccountID: "id1",
		TokenHash: hashOf("token-1"),
		Active:    true,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.SessionByTokenHash(ctx, hashOf("token-1"))
	if err != nil {
		t.Fatalf("SessionByTokenHash: %v", err)
	}
	if got.ID != "s1" {
		t.Errorf("got session %q", got.ID)
	}

	ok, err := s.RevokeSession(ctx, hashOf("token-1"))
	if err != nil || !ok {
		t.Fatalf("RevokeSession = %v, %v", ok, err)
	}
	ok, err = s.RevokeSession(ctx, hashOf("token-1"))
	if err != nil || ok {
		t.Errorf("second RevokeSession = %v, %v; want false, nil", ok, err)
	}
	ok, err = s.RevokeSession(ctx, hashOf("never-existed"))
	if err != nil || ok {
		t.Errorf("RevokeSession(missing) = %v, %v; want false, nil", ok, err)
	}
}

func TestConsumeBackupCodeAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()

	target := hashOf("code-1")
	if err := s.SaveMFAEnrollment(ctx, &store.MFAEnrollment{
		AccountID:        "id1",
		Secret:           []byte("secret"),
		Enabled:          true,
		BackupCodeHashes: [][32]byte{target, hashOf("code-2")},
	}); err != nil {
		t.Fatalf("SaveMFAEnrollment: %v", err)
	}

	// Many goroutines race for the same code; exactly one wins.
	const racers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeBackupCode(ctx, "id1", target)
			if err != nil {
				t.Errorf("ConsumeBackupCode: %v", err)
				return
			}
			if ok {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners int
	for range wins {
		winners++
	}
	if winners != 1 {
		t.Errorf("%d goroutines consumed the same code", winners)
	}
}

func TestRedeemResetToken(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateAccount(ctx, testAccount("id1", "ada@example.com", "ada")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := s.CreateResetToken(ctx, &store.ResetToken{
		ID:        "r1",
		AccountID: "id1",
		TokenHash: hashOf("reset-1"),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateResetToken: %v", err)
	}

	accountID, err := s.RedeemResetToken(ctx, hashOf("reset-1"), "new-hash", now)
	if err != nil {
		t.Fatalf("RedeemResetToken: %v", err)
	}
	if accountID != "id1" {
		t.Errorf("accountID = %q", accountID)
	}

	a, err := s.AccountByID(ctx, "id1")
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	if a.PasswordHash != "new-hash" {
		t.Error("password hash not updated atomically with redemption")
	}

	// Used tokens and expired tokens do not redeem.
	if _, err := s.RedeemResetToken(ctx, hashOf("reset-1"), "newer-hash", now); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("reused token: err = %v", err)
	}

	if err := s.CreateResetToken(ctx, &store.ResetToken{
		ID:        "r2",
		AccountID: "id1",
		TokenHash: hashOf("reset-2"),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("CreateResetToken: %v", err)
	}
	if _, err := s.RedeemResetToken(ctx, hashOf("reset-2"), "h", now.Add(2*time.Minute)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired token: err = %v", err)
	}
}

func TestAPIKeys(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"k1", "k2"} {
		if err := s.CreateAPIKey(ctx, &store.APIKey{
			ID:        id,
			AccountID: "id1",
			Name:      id,
			KeyHash:   hashOf(id),
			Active:    true,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("CreateAPIKey(%s): %v", id, err)
		}
	}

	keys, err := s.APIKeysByAccount(ctx, "id1")
	if err != nil {
		t.Fatalf("APIKeysByAccount: %v", err)
	}
	if len(keys) != 2 || keys[0].ID != "k1" || keys[1].ID != "k2" {
		t.Errorf("unexpected listing: %+v", keys)
	}

	k, err := s.APIKeyByHash(ctx, hashOf("k2"))
	if err != nil {
		t.Fatalf("APIKeyByHash: %v", err)
	}
	if k.ID != "k2" {
		t.Errorf("APIKeyByHash = %q", k.ID)
	}

	// Owner scoping.
	ok, err := s.RevokeAPIKey(ctx, "someone-else", "k1")
	if err != nil || ok {
		t.Errorf("cross-owner revoke = %v, %v; want false, nil", ok, err)
	}
	ok, err = s.RevokeAPIKey(ctx, "id1", "k1")
	if err != nil || !ok {
		t.Errorf("revoke = %v, %v; want true, nil", ok, err)
	}
}
