package authcore

import (
	"context"
	"encoding/base32"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/authsmith/authcore/store/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type engineOption func(*Builder)

func withRedis(client redis.UniversalClient) engineOption {
	return func(b *Builder) { b.WithRedis(client) }
}

func withAuditSink(sink AuditSink) engineOption {
	return func(b *Builder) { b.WithAuditSink(sink) }
}

func withResetDelivery(deliver ResetDelivery) engineOption {
	return func(b *Builder) { b.WithResetDelivery(deliver) }
}

func withConfig(cfg Config) engineOption {
	return func(b *Builder) { b.WithConfig(cfg) }
}

// newTestEngine builds an engine on the in-memory store with a low-cost
// hasher so test runs stay fast.
func newTestEngine(t *testing.T, opts ...engineOption) *Engine {
	t.Helper()

	cfg := defaultConfig()
	cfg.Token.Secret = testSecret
	cfg.Password.BcryptCost = 10
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	b := New().WithStore(memory.New()).WithConfig(cfg)
	for _, opt := range opts {
		opt(b)
	}

	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(e.Close)

	return e
}

func newTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return client
}

// registerTestAccount creates an account and returns its ID.
func registerTestAccount(t *testing.T, e *Engine, email, username, password string) string {
	t.Helper()

	res, err := e.Register(context.Background(), email, username, password)
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res.AccountID
}

// totpCodeFor derives the currently valid code from a base32 secret, the
// way an authenticator app would.
func totpCodeFor(t *testing.T, e *Engine, encodedSecret string, at time.Time) string {
	t.Helper()

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(encodedSecret)
	if err != nil {
		t.Fatalf("decode totp secret: %v", err)
	}
	counter := at.Unix() / int64(e.config.MFA.Period)
	return hotpCode(secret, uint64(counter), e.config.MFA.Digits)
}

// fixTime pins the engine clock for deterministic expiry and TOTP tests.
func fixTime(e *Engine, at time.Time) {
	e.now = func() time.Time { return at }
}
