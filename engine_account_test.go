package authcore

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndLogin(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id := registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")

	res, err := e.Login(ctx, "ada@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login by email: %v", err)
	}
	if res.AccountID != id {
		t.Errorf("AccountID = %q, want %q", res.AccountID, id)
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		t.Error("login result missing tokens")
	}
	if res.TokenType != "bearer" {
		t.Errorf("TokenType = %q, want bearer", res.TokenType)
	}
	if res.Session == nil || res.Session.Token == "" {
		t.Error("login result missing session")
	}

	// Username works as an identifier too.
	if _, err := e.Login(ctx, "ada", "correct horse battery"); err != nil {
		t.Errorf("Login by username: %v", err)
	}
}

func TestLoginUniformFailure(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")

	// Unknown identifier and wrong password yield the same error.
	_, errUnknown := e.Login(ctx, "nobody@example.com", "whatever")
	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Errorf("unknown identifier: err = %v, want ErrInvalidCredentials", errUnknown)
	}
	_, errWrong := e.Login(ctx, "ada@example.com", "wrong password")
	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v, want ErrInvalidCredentials", errWrong)
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id := registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")
	if err := e.DeactivateAccount(ctx, id); err != nil {
		t.Fatalf("DeactivateAccount: %v", err)
	}

	if _, err := e.Login(ctx, "ada@example.com", "correct horse battery"); !errors.Is(err, ErrInactiveAccount) {
		t.Errorf("err = %v, want ErrInactiveAccount", err)
	}

	if err := e.ReactivateAccount(ctx, id); err != nil {
		t.Fatalf("ReactivateAccount: %v", err)
	}
	if _, err := e.Login(ctx, "ada@example.com", "correct horse battery"); err != nil {
		t.Errorf("login after reactivation: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")

	if _, err := e.Register(ctx, "ada@example.com", "other", "another password"); !errors.Is(err, ErrDuplicateCredential) {
		t.Errorf("duplicate email: err = %v, want ErrDuplicateCredential", err)
	}
	if _, err := e.Register(ctx, "other@example.com", "ada", "another password"); !errors.Is(err, ErrDuplicateCredential) {
		t.Errorf("duplicate username: err = %v, want ErrDuplicateCredential", err)
	}
	// Email matching is case-insensitive.
	if _, err := e.Register(ctx, "ADA@example.com", "ada2", "another password"); !errors.Is(err, ErrDuplicateCredential) {
		t.Errorf("case-varied duplicate email: err = %v, want ErrDuplicateCredential", err)
	}
}

func TestRegisterPolicy(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Register(ctx, "ada@example.com", "ada", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Errorf("short password: err = %v, want ErrPasswordPolicy", err)
	}
	if _, err := e.Register(ctx, "not-an-email", "ada", "long enough pw"); !errors.Is(err, ErrPasswordPolicy) {
		t.Errorf("bad email: err = %v", err)
	}
	if _, err := e.Register(ctx, "ada@example.com", "", "long enough pw"); !errors.Is(err, ErrPasswordPolicy) {
		t.Errorf("empty username: err = %v", err)
	}
}

func TestMarkAccountVerified(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id := registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")

	acct, err := e.store.AccountByID(ctx, id)
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	if acct.Verified {
		t.Error("account verified at registration")
	}

	if err := e.MarkAccountVerified(ctx, id); err != nil {
		t.Fatalf("MarkAccountVerified: %v", err)
	}
	acct, err = e.store.AccountByID(ctx, id)
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	if !acct.Verified {
		t.Error("verified flag not set")
	}

	if err := e.MarkAccountVerified(ctx, "no-such-account"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown account: err = %v, want ErrNotFound", err)
	}
}

func TestRefresh(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")
	login, err := e.Login(ctx, "ada@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := e.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken == "" {
		t.Error("Refresh returned no access token")
	}

	// The new access token must verify.
	accountID, err := e.VerifyAccessToken(refreshed.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if accountID != login.AccountID {
		t.Errorf("token subject = %q, want %q", accountID, login.AccountID)
	}

	// An access token is not a refresh token.
	if _, err := e.Refresh(ctx, login.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Refresh with access token: err = %v, want ErrInvalidToken", err)
	}
	if _, err := e.Refresh(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Refresh with garbage: err = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshInactiveAccount(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id := registerTestAccount(t, e, "ada@example.com", "ada", "correct horse battery")
	login, err := e.Login(ctx, "ada@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := e.DeactivateAccount(ctx, id); err != nil {
		t.Fatalf("DeactivateAccount: %v", err)
	}
	if _, err := e.Refresh(ctx, login.RefreshToken); !errors.Is(err, ErrInactiveAccount) {
		t.Errorf("err = %v, want ErrInactiveAccount", err)
	}
}

func TestChangePassword(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id := registerTestAccount(t, e, "ada@example.com", "ada", "first password!")
	login, err := e.Login(ctx, "ada@example.com", "first password!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := e.ChangePassword(ctx, id, "wrong old", "second password!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong old password: err = %v", err)
	}
	if err := e.ChangePassword(ctx, id, "first password!", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Errorf("short new password: err = %v", err)
	}
	if err := e.ChangePassword(ctx, id, "first password!", "first password!"); !errors.Is(err, ErrPasswordReuse) {
		t.Errorf("reused password: err = %v", err)
	}

	if err := e.ChangePassword(ctx, id, "first password!", "second password!"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	// Old password no longer works, new one does.
	if _, err := e.Login(ctx, "ada@example.com", "first password!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password still works: err = %v", err)
	}
	if _, err := e.Login(ctx, "ada@example.com", "second password!"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}

	// Sessions opened before the change are dead.
	acct, err := e.ResolveSession(ctx, login.Session.Token)
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if acct != nil {
		t.Error("session survived a password change")
	}
}

func TestUpgradeOnLogin(t *testing.T) {
	cfg := defaultConfig()
	cfg.Token.Secret = testSecret
	cfg.Password.BcryptCost = 10
	cfg.Password.Algorithm = "argon2id"

	e := newTestEngine(t, withConfig(cfg))
	ctx := context.Background()

	id := registerTestAccount(t, e, "ada@example.com", "ada", "migrating password")

	// Plant a bcrypt digest as if the account predated the argon2 policy.
	bcryptHasher := newTestEngine(t).hasher
	oldHash, err := bcryptHasher.Hash("migrating password")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := e.store.UpdatePasswordHash(ctx, id, oldHash); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}

	if _, err := e.Login(ctx, "ada@example.com", "migrating password"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	acct, err := e.store.AccountByID(ctx, id)
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	if acct.PasswordHash == oldHash {
		t.Error("stale digest not upgraded on login")
	}
	if !e.hasher.Verify("migrating password", acct.PasswordHash) {
		t.Error("upgraded digest does not verify")
	}
}

// Full lifecycle: register, login, refresh, change password, re-login.
func TestAccountLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	id := registerTestAccount(t, e, "grace@example.com", "grace", "initial password")

	login, err := e.Login(ctx, "grace@example.com", "initial password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	acct, err := e.ResolveSession(ctx, login.Session.Token)
	if err != nil || acct == nil {
		t.Fatalf("ResolveSession: acct=%v err=%v", acct, err)
	}
	if acct.ID != id {
		t.Errorf("session resolves to %q, want %q", acct.ID, id)
	}

	if _, err := e.Refresh(ctx, login.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := e.ChangePassword(ctx, id, "initial password", "rotated password"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	relogin, err := e.Login(ctx, "grace@example.com", "rotated password")
	if err != nil {
		t.Fatalf("re-login: %v", err)
	}
	if relogin.Session.Token == login.Session.Token {
		t.Error("re-login reused the old session token")
	}

	snap := e.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 2 {
		t.Errorf("login success counter = %d, want 2", snap.Counters[MetricLoginSuccess])
	}
	if snap.Counters[MetricPasswordChangeSuccess] != 1 {
		t.Errorf("password change counter = %d, want 1", snap.Counters[MetricPasswordChangeSuccess])
	}
}
