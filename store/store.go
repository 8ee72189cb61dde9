// Package store defines the persistence records and the Store interface
// that callers implement to integrate authcore with their database.
//
// Adapters live in store/memory (mutex-guarded, single process) and
// store/pg (PostgreSQL via pgx). Read-modify-write operations such as
// session revocation, backup code consumption, and reset token redemption
// are CONDITIONAL at the adapter level: the adapter performs the check and
// the mutation in one atomic step (a conditional UPDATE, a transaction)
// rather than relying on in-process locks.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrUnavailable is returned when the backing database cannot be reached.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Account is a credential-bearing account record. Email and Username are
// both unique login identifiers.
type Account struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	Active       bool
	Verified     bool
	Superuser    bool
	CreatedAt    time.Time
}

// Session is a persisted login session. Only SHA-256 hashes of the opaque
// session and refresh tokens are stored; the raw tokens exist solely in
// the response handed to the caller at open time.
type Session struct {
	ID               string
	AccountID        string
	TokenHash        [32]byte
	RefreshTokenHash [32]byte
	DeviceInfo       string
	IP               string
	Active           bool
	CreatedAt        time.Time
	ExpiresAt        time.Time
}

// MFAEnrollment carries the raw TOTP secret, the enabled flag, and the
// hashes of the unspent backup codes. Plaintext backup codes are never
// persisted.
type MFAEnrollment struct {
	AccountID        string
	Secret           []byte
	Enabled          bool
	BackupCodeHashes [][32]byte
	CreatedAt        time.Time
}

// ResetToken is a single-use password reset challenge. TokenHash is the
// SHA-256 of the raw token delivered out of band.
type ResetToken struct {
	ID        string
	AccountID string
	TokenHash [32]byte
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// APIKey is a long-lived programmatic credential. KeyHash is the SHA-256
// of the raw key, which is shown to the owner exactly once at creation.
type APIKey struct {
	ID        string
	AccountID string
	Name      string
	KeyHash   [32]byte
	Scopes    []string
	Active    bool
	CreatedAt time.Time
}

// Store is the persistence collaborator for the engine. Implementations
// must map their backend's not-found, conflict, and connectivity failures
// to ErrNotFound, ErrDuplicate, and ErrUnavailable so the engine can
// translate them uniformly.
type Store interface {
	// CreateAccount persists a new account. ErrDuplicate when the email
	// or username is already taken.
	CreateAccount(ctx context.Context, a *Account) error
	// AccountByIdentifier looks an account up by email or username in a
	// single query.
	AccountByIdentifier(ctx context.Context, identifier string) (*Account, error)
	AccountByID(ctx context.Context, id string) (*Account, error)
	UpdatePasswordHash(ctx context.Context, accountID, newHash string) error
	SetAccountActive(ctx context.Context, accountID string, active bool) error
	SetAccountVerified(ctx context.Context, accountID string, verified bool) error

	CreateSession(ctx context.Context, s *Session) error
	SessionByTokenHash(ctx context.Context, tokenHash [32]byte) (*Session, error)
	// RevokeSession flips active=false for a currently active session.
	// Returns false when no active session matched, making revocation
	// idempotent from the caller's perspective.
	RevokeSession(ctx context.Context, tokenHash [32]byte) (bool, error)
	RevokeAccountSessions(ctx context.Context, accountID string) error

	MFAEnrollment(ctx context.Context, accountID string) (*MFAEnrollment, error)
	// SaveMFAEnrollment creates or replaces the enrollment for the account.
	SaveMFAEnrollment(ctx context.Context, e *MFAEnrollment) error
	SetMFAEnabled(ctx context.Context, accountID string, enabled bool) error
	ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error
	// ConsumeBackupCode atomically removes the matching hash from the
	// unspent set. Returns false without mutating anything when the hash
	// is not present. Concurrent calls for the same hash must yield at
	// most one true.
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)

	CreateResetToken(ctx context.Context, t *ResetToken) error
	// RedeemResetToken marks the token used AND updates the account's
	// password hash in one atomic step, but only when an unused,
	// unexpired token matches. Returns the account ID on success and
	// ErrNotFound when no redeemable token matched.
	RedeemResetToken(ctx context.Context, tokenHash [32]byte, newPasswordHash string, now time.Time) (string, error)

	CreateAPIKey(ctx context.Context, k *APIKey) error
	APIKeysByAccount(ctx context.Context, accountID string) ([]APIKey, error)
	APIKeyByHash(ctx context.Context, keyHash [32]byte) (*APIKey, error)
	// RevokeAPIKey deactivates a key owned by accountID. Returns false
	// when the key does not exist or belongs to another account.
	RevokeAPIKey(ctx context.Context, accountID, keyID string) (bool, error)
}
