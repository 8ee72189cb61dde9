package authcore

import (
	"errors"
	"time"

	"github.com/authsmith/authcore/password"
	"github.com/authsmith/authcore/token"
)

// Config is the engine's full configuration tree. Zero values are filled
// in from defaultConfig by the builder; instances are treated as immutable
// after Build.
type Config struct {
	Token     TokenConfig
	Password  PasswordConfig
	Session   SessionConfig
	MFA       MFAConfig
	Reset     ResetConfig
	RateLimit RateLimitConfig
	APIKey    APIKeyConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// TokenConfig configures JWT issuance.
type TokenConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	Secret        []byte // hs256 shared secret
	PrivateKey    []byte // ed25519
	PublicKey     []byte // ed25519
	Issuer        string
	Leeway        time.Duration
}

// PasswordConfig configures hashing costs and the password policy.
type PasswordConfig struct {
	Algorithm      string // "bcrypt" (default) or "argon2id"
	BcryptCost     int
	Memory         uint32 // argon2id, in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

// SessionConfig configures opaque-token sessions.
type SessionConfig struct {
	Lifetime time.Duration
}

// MFAConfig configures TOTP enrollment and backup codes.
type MFAConfig struct {
	Issuer           string
	Digits           int
	Period           int
	Skew             int
	BackupCodeCount  int
	BackupCodeLength int
}

// ResetConfig configures the password reset flow.
type ResetConfig struct {
	TokenTTL time.Duration
}

// RateLimitConfig configures the Redis-backed attempt budgets. Limits are
// enforced only when the builder is given a Redis client.
type RateLimitConfig struct {
	EnableIPThrottle     bool
	MaxLoginAttempts     int
	LoginCooldown        time.Duration
	MaxResetRequests     int
	ResetRequestCooldown time.Duration
}

// APIKeyConfig configures programmatic credentials.
type APIKeyConfig struct {
	MaxKeysPerAccount int
}

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig configures in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "authcore",
		},
		Password: PasswordConfig{
			Algorithm:      "bcrypt",
			BcryptCost:     12,
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      8,
			UpgradeOnLogin: true,
		},
		Session: SessionConfig{
			Lifetime: 7 * 24 * time.Hour,
		},
		MFA: MFAConfig{
			Issuer:           "authcore",
			Digits:           6,
			Period:           30,
			Skew:             1,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
		},
		Reset: ResetConfig{
			TokenTTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle:     true,
			MaxLoginAttempts:     5,
			LoginCooldown:        15 * time.Minute,
			MaxResetRequests:     5,
			ResetRequestCooldown: 15 * time.Minute,
		},
		APIKey: APIKeyConfig{
			MaxKeysPerAccount: 20,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency. The builder
// calls it before constructing the engine.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	switch c.Token.SigningMethod {
	case string(token.MethodHS256):
		if len(c.Token.Secret) < 32 {
			return errors.New("hs256 requires Secret of at least 32 bytes")
		}
	case string(token.MethodEd25519):
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported Token SigningMethod")
	}

	// Password
	switch c.Password.Algorithm {
	case string(password.AlgorithmBcrypt):
		if c.Password.BcryptCost < 10 {
			return errors.New("Password BcryptCost must be >= 10")
		}
	case string(password.AlgorithmArgon2id):
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			return errors.New("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			return errors.New("Password Parallelism must be >= 1")
		}
	default:
		return errors.New("unsupported Password Algorithm")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}

	// Session
	if c.Session.Lifetime <= 0 {
		return errors.New("Session Lifetime must be > 0")
	}

	// MFA
	if c.MFA.Issuer == "" {
		return errors.New("MFA Issuer is required")
	}
	if c.MFA.Digits != 6 && c.MFA.Digits != 8 {
		return errors.New("MFA Digits must be 6 or 8")
	}
	if c.MFA.Period < 15 {
		return errors.New("MFA Period must be >= 15 seconds")
	}
	if c.MFA.Skew < 0 || c.MFA.Skew > 2 {
		return errors.New("MFA Skew must be between 0 and 2")
	}
	if c.MFA.BackupCodeCount <= 0 {
		return errors.New("MFA BackupCodeCount must be > 0")
	}
	if c.MFA.BackupCodeLength < 8 {
		return errors.New("MFA BackupCodeLength must be >= 8")
	}

	// Reset
	if c.Reset.TokenTTL <= 0 {
		return errors.New("Reset TokenTTL must be > 0")
	}

	// Rate limiting
	if c.RateLimit.MaxLoginAttempts <= 0 {
		return errors.New("RateLimit MaxLoginAttempts must be > 0")
	}
	if c.RateLimit.LoginCooldown <= 0 {
		return errors.New("RateLimit LoginCooldown must be > 0")
	}
	if c.RateLimit.MaxResetRequests <= 0 {
		return errors.New("RateLimit MaxResetRequests must be > 0")
	}
	if c.RateLimit.ResetRequestCooldown <= 0 {
		return errors.New("RateLimit ResetRequestCooldown must be > 0")
	}

	// API keys
	if c.APIKey.MaxKeysPerAccount <= 0 {
		return errors.New("APIKey MaxKeysPerAccount must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
