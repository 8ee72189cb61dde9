package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authsmith/authcore/internal/rate"
	"github.com/authsmith/authcore/password"
	"github.com/authsmith/authcore/store"
	"github.com/authsmith/authcore/token"
)

// Builder assembles an [Engine]. Configure it with the With* methods and
// call Build once; a Builder is not safe for concurrent use and must not
// be reused after Build.
type Builder struct {
	config        *Config
	store         store.Store
	redis         redis.UniversalClient
	auditSink     AuditSink
	resetDelivery ResetDelivery
	built         bool
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the default configuration. Zero-valued sections
// keep their defaults.
func (b *Builder) WithConfig(cfg Config) *Builder {
	c := cloneConfig(cfg)
	b.config = &c
	return b
}

// WithStore sets the persistence adapter. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis sets the Redis client backing rate limiting. Without it the
// engine runs with rate limiting disabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditSink sets the destination for audit events and enables the
// audit dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithResetDelivery sets the hook that carries raw password reset tokens
// to the account holder. Without it reset tokens are created but go
// nowhere.
func (b *Builder) WithResetDelivery(deliver ResetDelivery) *Builder {
	b.resetDelivery = deliver
	return b
}

// WithMetricsEnabled turns on the in-process counters.
func (b *Builder) WithMetricsEnabled(latencyHistograms bool) *Builder {
	if b.config == nil {
		c := defaultConfig()
		b.config = &c
	}
	b.config.Metrics.Enabled = true
	b.config.Metrics.EnableLatencyHistograms = latencyHistograms
	return b
}

// Build validates the configuration and constructs the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("authcore: builder already used")
	}
	if b.store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrEngineNotReady)
	}

	cfg := defaultConfig()
	if b.config != nil {
		cfg = mergeConfig(cfg, *b.config)
	}
	if b.auditSink != nil {
		cfg.Audit.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	hasher, err := password.New(password.Config{
		Algorithm:   password.Algorithm(cfg.Password.Algorithm),
		BcryptCost:  cfg.Password.BcryptCost,
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	codec, err := token.New(token.Config{
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		Secret:        cfg.Token.Secret,
		PrivateKey:    cfg.Token.PrivateKey,
		PublicKey:     cfg.Token.PublicKey,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	dummyHash, err := hasher.Hash("authcore-decoy-credential")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	var limiter *rate.Limiter
	if b.redis != nil {
		limiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle:     cfg.RateLimit.EnableIPThrottle,
			MaxLoginAttempts:     cfg.RateLimit.MaxLoginAttempts,
			LoginCooldown:        cfg.RateLimit.LoginCooldown,
			MaxResetRequests:     cfg.RateLimit.MaxResetRequests,
			ResetRequestCooldown: cfg.RateLimit.ResetRequestCooldown,
		})
	}

	e := &Engine{
		config:       cfg,
		store:        b.store,
		hasher:       hasher,
		codec:        codec,
		totp:         newTOTPManager(cfg.MFA),
		limiter:      limiter,
		audit:        newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:      NewMetrics(cfg.Metrics),
		resetDeliver: b.resetDelivery,
		dummyHash:    dummyHash,
		now:          time.Now,
	}

	b.built = true
	return e, nil
}

// mergeConfig overlays user-provided fields on the defaults; zero values
// keep the default so callers only state what they change.
func mergeConfig(def, user Config) Config {
	out := user

	// Boolean fields cannot distinguish "unset" from "off", so sections
	// left entirely zero take the default section wholesale. A caller who
	// sets any field in a section owns its booleans too.
	if out.Password == (PasswordConfig{}) {
		out.Password = def.Password
	}
	if out.RateLimit == (RateLimitConfig{}) {
		out.RateLimit = def.RateLimit
	}
	if out.Audit == (AuditConfig{}) {
		out.Audit = def.Audit
	}

	if out.Token.AccessTTL == 0 {
		out.Token.AccessTTL = def.Token.AccessTTL
	}
	if out.Token.RefreshTTL == 0 {
		out.Token.RefreshTTL = def.Token.RefreshTTL
	}
	if out.Token.SigningMethod == "" {
		out.Token.SigningMethod = def.Token.SigningMethod
	}
	if out.Token.Issuer == "" {
		out.Token.Issuer = def.Token.Issuer
	}

	if out.Password.Algorithm == "" {
		out.Password.Algorithm = def.Password.Algorithm
	}
	if out.Password.BcryptCost == 0 {
		out.Password.BcryptCost = def.Password.BcryptCost
	}
	if out.Password.Memory == 0 {
		out.Password.Memory = def.Password.Memory
	}
	if out.Password.Time == 0 {
		out.Password.Time = def.Password.Time
	}
	if out.Password.Parallelism == 0 {
		out.Password.Parallelism = def.Password.Parallelism
	}
	if out.Password.SaltLength == 0 {
		out.Password.SaltLength = def.Password.SaltLength
	}
	if out.Password.KeyLength == 0 {
		out.Password.KeyLength = def.Password.KeyLength
	}
	if out.Password.MinLength == 0 {
		out.Password.MinLength = def.Password.MinLength
	}

	if out.Session.Lifetime == 0 {
		out.Session.Lifetime = def.Session.Lifetime
	}

	if out.MFA.Issuer == "" {
		out.MFA.Issuer = def.MFA.Issuer
	}
	if out.MFA.Digits == 0 {
		out.MFA.Digits = def.MFA.Digits
	}
	if out.MFA.Period == 0 {
		out.MFA.Period = def.MFA.Period
	}
	if out.MFA.BackupCodeCount == 0 {
		out.MFA.BackupCodeCount = def.MFA.BackupCodeCount
	}
	if out.MFA.BackupCodeLength == 0 {
		out.MFA.BackupCodeLength = def.MFA.BackupCodeLength
	}
	// Skew 0 reads as unset, so a zero-tolerance verifier is not
	// expressible through the merge.
	if out.MFA.Skew == 0 {
		out.MFA.Skew = def.MFA.Skew
	}

	if out.Reset.TokenTTL == 0 {
		out.Reset.TokenTTL = def.Reset.TokenTTL
	}

	if out.RateLimit.MaxLoginAttempts == 0 {
		out.RateLimit.MaxLoginAttempts = def.RateLimit.MaxLoginAttempts
	}
	if out.RateLimit.LoginCooldown == 0 {
		out.RateLimit.LoginCooldown = def.RateLimit.LoginCooldown
	}
	if out.RateLimit.MaxResetRequests == 0 {
		out.RateLimit.MaxResetRequests = def.RateLimit.MaxResetRequests
	}
	if out.RateLimit.ResetRequestCooldown == 0 {
		out.RateLimit.ResetRequestCooldown = def.RateLimit.ResetRequestCooldown
	}

	if out.APIKey.MaxKeysPerAccount == 0 {
		out.APIKey.MaxKeysPerAccount = def.APIKey.MaxKeysPerAccount
	}

	if out.Audit.BufferSize == 0 {
		out.Audit.BufferSize = def.Audit.BufferSize
	}

	return out
}
