package authcore

import "time"

// SecurityReport is a snapshot of the engine's security-relevant
// configuration, suitable for an operator endpoint or startup log. It
// contains no key material.
type SecurityReport struct {
	PasswordAlgorithm   string
	PasswordMinLength   int
	TokenSigningMethod  string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	SessionLifetime     time.Duration
	ResetTokenTTL       time.Duration
	RateLimitingActive  bool
	MaxLoginAttempts    int
	LoginCooldown       time.Duration
	MFADigits           int
	MFAPeriodSeconds    int
	BackupCodesPerSetup int
	AuditEnabled        bool
	MetricsEnabled      bool
}

// SecurityReport reports the effective configuration after defaults and
// builder options are applied.
func (e *Engine) SecurityReport() SecurityReport {
	return SecurityReport{
		PasswordAlgorithm:   e.config.Password.Algorithm,
		PasswordMinLength:   e.config.Password.MinLength,
		TokenSigningMethod:  e.config.Token.SigningMethod,
		AccessTokenTTL:      e.config.Token.AccessTTL,
		RefreshTokenTTL:     e.config.Token.RefreshTTL,
		SessionLifetime:     e.config.Session.Lifetime,
		ResetTokenTTL:       e.config.Reset.TokenTTL,
		RateLimitingActive:  e.limiter != nil,
		MaxLoginAttempts:    e.config.RateLimit.MaxLoginAttempts,
		LoginCooldown:       e.config.RateLimit.LoginCooldown,
		MFADigits:           e.config.MFA.Digits,
		MFAPeriodSeconds:    e.config.MFA.Period,
		BackupCodesPerSetup: e.config.MFA.BackupCodeCount,
		AuditEnabled:        e.audit != nil,
		MetricsEnabled:      e.metrics.Enabled(),
	}
}
