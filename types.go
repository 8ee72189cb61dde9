package authcore

import (
	"context"
	"time"

	"github.com/authsmith/authcore/store"
)

// Account is the caller-facing view of a stored account.
type Account = store.Account

// Session is returned by [Engine.OpenSession] and as part of login. It is
// the only place the raw opaque tokens ever appear; the store keeps hashes.
type Session struct {
	ID           string
	AccountID    string
	Token        string
	RefreshToken string
	ExpiresAt    time.Time
}

// RegisterResult is returned by [Engine.Register].
type RegisterResult struct {
	AccountID string
}

// LoginResult is returned by the login family and [Engine.Refresh].
// TokenType is always "bearer".
type LoginResult struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Session      *Session
}

// MFASetup is returned by [Engine.SetupMFA]. Secret, URI, and BackupCodes
// are disclosed exactly once; afterwards only hashes remain.
type MFASetup struct {
	Secret      string
	URI         string
	BackupCodes []string
}

// MFAStatus reports enrollment state without exposing any secret material.
type MFAStatus struct {
	Enabled              bool
	BackupCodesRemaining int
}

// APIKeyResult is returned by [Engine.CreateAPIKey]. Key is the raw
// credential, disclosed exactly once.
type APIKeyResult struct {
	ID     string
	Name   string
	Key    string
	Scopes []string
}

// APIKeySummary describes an existing key without its material.
type APIKeySummary struct {
	ID        string
	Name      string
	Scopes    []string
	Active    bool
	CreatedAt time.Time
}

// ResetDelivery receives the raw reset token for out-of-band delivery
// (email, SMS). It is the only path the raw token travels; the token never
// appears in a caller-visible response.
type ResetDelivery func(ctx context.Context, email, token string) error
