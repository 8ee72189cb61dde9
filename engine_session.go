package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/authsmith/authcore/internal"
	"github.com/authsmith/authcore/store"
)

// OpenSession creates a server-side session for an account and returns
// the raw opaque tokens. This is the only moment the raw tokens exist;
// the store sees only their SHA-256 hashes. Device info and client IP
// are taken from the context when present.
func (e *Engine) OpenSession(ctx context.Context, accountID string) (*Session, error) {
	rawToken, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("open session: %v", err)
	}
	rawRefresh, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("open session: %v", err)
	}

	now := e.now().UTC()
	rec := &store.Session{
		ID:               uuid.NewString(),
		AccountID:        accountID,
		TokenHash:        internal.HashToken(rawToken),
		RefreshTokenHash: internal.HashToken(rawRefresh),
		DeviceInfo:       deviceInfoFromContext(ctx),
		IP:               clientIPFromContext(ctx),
		Active:           true,
		CreatedAt:        now,
		ExpiresAt:        now.Add(e.config.Session.Lifetime),
	}

	if err := e.store.CreateSession(ctx, rec); err != nil {
		return nil, wrapStoreErr("open session", err)
	}

	e.metricInc(MetricSessionOpened)
	e.emitAudit(ctx, auditEventSessionOpened, true, accountID, rec.ID, nil, nil)

	return &Session{
		ID:           rec.ID,
		AccountID:    accountID,
		Token:        rawToken,
		RefreshToken: rawRefresh,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

// ResolveSession looks up the account behind a raw session token. A
// missing, revoked, or expired session, or an inactive account, resolves
// to (nil, nil): absence of a session is not an error.
func (e *Engine) ResolveSession(ctx context.Context, rawToken string) (*store.Account, error) {
	if rawToken == "" {
		return nil, nil
	}

	sess, err := e.store.SessionByTokenHash(ctx, internal.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, wrapStoreErr("resolve session", err)
	}
	if !sess.Active || !e.now().Before(sess.ExpiresAt) {
		return nil, nil
	}

	acct, err := e.store.AccountByID(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, wrapStoreErr("resolve session", err)
	}
	if !acct.Active {
		return nil, nil
	}

	return acct, nil
}

// RevokeSession revokes the session behind a raw token. Returns false
// when no live session matched; revoking twice is not an error.
func (e *Engine) RevokeSession(ctx context.Context, rawToken string) (bool, error) {
	if rawToken == "" {
		return false, nil
	}

	revoked, err := e.store.RevokeSession(ctx, internal.HashToken(rawToken))
	if err != nil {
		return false, wrapStoreErr("revoke session", err)
	}
	if revoked {
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventSessionRevoked, true, "", "", nil, nil)
	}
	return revoked, nil
}

// RevokeAccountSessions revokes every session belonging to an account.
func (e *Engine) RevokeAccountSessions(ctx context.Context, accountID string) error {
	if err := e.store.RevokeAccountSessions(ctx, accountID); err != nil {
		return wrapStoreErr("revoke account sessions", err)
	}
	e.emitAudit(ctx, auditEventSessionRevoked, true, accountID, "", nil, nil)
	return nil
}
