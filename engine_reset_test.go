package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// captureDelivery records delivered reset tokens per email.
type captureDelivery struct {
	mu     sync.Mutex
	tokens map[string][]string
}

func newCaptureDelivery() *captureDelivery {
	return &captureDelivery{tokens: make(map[string][]string)}
}

func (c *captureDelivery) deliver(_ context.Context, email, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[email] = append(c.tokens[email], token)
	return nil
}

func (c *captureDelivery) lastFor(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.tokens[email]
	if len(ts) == 0 {
		return ""
	}
	return ts[len(ts)-1]
}

func TestPasswordResetFlow(t *testing.T) {
	delivery := newCaptureDelivery()
	e := newTestEngine(t, withResetDelivery(delivery.deliver))
	ctx := context.Background()

	registerTestAccount(t, e, "ada@example.com", "ada", "original password")
	login, err := e.Login(ctx, "ada@example.com", "original password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := e.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}

	token := delivery.lastFor("ada@example.com")
	if token == "" {
		t.Fatal("no reset token delivered")
	}

	if err := e.ConfirmPasswordReset(ctx, token, "replacement password"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}

	// New password works, old one does not.
	if _, err := e.Login(ctx, "ada@example.com", "replacement password"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if _, err := e.Login(ctx, "ada@example.com", "original password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password: err = %v, want ErrInvalidCredentials", err)
	}

	// A reset is a compromise signal: all sessions go.
	acct, err := e.ResolveSession(ctx, login.Session.Token)
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if acct != nil {
		t.Error("session survived a password reset")
	}
}

func TestResetTokenSingleUse(t *testing.T) {
	delivery := newCaptureDelivery()
	e := newTestEngine(t, withResetDelivery(delivery.deliver))
	ctx := context.Background()

	registerTestAccount(t, e, "ada@example.com", "ada", "original password")
	if err := e.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := delivery.lastFor("ada@example.com")

	if err := e.ConfirmPasswordReset(ctx, token, "first new password"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if err := e.ConfirmPasswordReset(ctx, token, "second new password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Errorf("reused token: err = %v, want ErrResetTokenInvalid", err)
	}

	// The second confirm changed nothing.
	if _, err := e.Login(ctx, "ada@example.com", "first new password"); err != nil {
		t.Errorf("login after failed reuse: %v", err)
	}
}

func TestResetTokenExpiry(t *testing.T) {
	delivery := newCaptureDelivery()
	e := newTestEngine(t, withResetDelivery(delivery.deliver))
	ctx := context.Background()

	registerTestAccount(t, e, "ada@example.com", "ada", "original password")
	if err := e.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := delivery.lastFor("ada@example.com")

	fixTime(e, e.now().Add(e.config.Reset.TokenTTL).Add(1))

	if err := e.ConfirmPasswordReset(ctx, token, "too late password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Errorf("expired token: err = %v, want ErrResetTokenInvalid", err)
	}
}

func TestResetRequestDoesNotRevealAccounts(t *testing.T) {
	delivery := newCaptureDelivery()
	e := newTestEngine(t, withResetDelivery(delivery.deliver))
	ctx := context.Background()

	registerTestAccount(t, e, "ada@example.com", "ada", "original password")

	// Known and unknown emails return identically.
	if err := e.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Errorf("known email: %v", err)
	}
	if err := e.RequestPasswordReset(ctx, "ghost@example.com"); err != nil {
		t.Errorf("unknown email: %v", err)
	}

	// But only the real account gets a delivery.
	if delivery.lastFor("ada@example.com") == "" {
		t.Error("no delivery for the real account")
	}
	if delivery.lastFor("ghost@example.com") != "" {
		t.Error("delivery for a nonexistent account")
	}
}

func TestConfirmResetValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.ConfirmPasswordReset(ctx, "", "long enough password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Errorf("empty token: err = %v", err)
	}
	if err := e.ConfirmPasswordReset(ctx, "bogus-token", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Errorf("short password: err = %v", err)
	}
	if err := e.ConfirmPasswordReset(ctx, "bogus-token", "long enough password"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Errorf("unknown token: err = %v", err)
	}
}

func TestResetRequestRateLimited(t *testing.T) {
	delivery := newCaptureDelivery()
	e := newTestEngine(t, withResetDelivery(delivery.deliver), withRedis(newTestRedis(t)))
	ctx := context.Background()

	registerTestAccount(t, e, "ada@example.com", "ada", "original password")

	for i := 0; i < e.config.RateLimit.MaxResetRequests; i++ {
		if err := e.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	if err := e.RequestPasswordReset(ctx, "ada@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("over budget: err = %v, want ErrRateLimited", err)
	}
}
