package authcore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/authsmith/authcore/internal"
	"github.com/authsmith/authcore/internal/rate"
	"github.com/authsmith/authcore/store"
)

// RequestPasswordReset starts a password reset for the given email. The
// response is identical whether or not the email maps to an account, and
// the unknown-email path burns a small random delay so the two are not
// separable by timing either. The raw token travels only through the
// configured [ResetDelivery] hook; callers never see it.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}

	if e.limiter != nil {
		if err := e.limiter.CheckResetRequest(ctx, email); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.emitRateLimit(ctx, "password_reset", nil)
				return ErrRateLimited
			}
			log.Printf("authcore: reset rate check failed, continuing: %v", err)
		}
	}

	e.metricInc(MetricResetRequest)

	acct, err := e.store.AccountByIdentifier(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The happy path hashes a token and does a store write; fake
			// comparable work so response time stays flat.
			sleepEnumerationDecoy(ctx)
			e.emitAudit(ctx, auditEventResetRequested, true, "", "", nil, nil)
			return nil
		}
		return wrapStoreErr("request password reset", err)
	}

	rawToken, err := internal.NewOpaqueToken()
	if err != nil {
		return fmt.Errorf("request password reset: %v", err)
	}

	now := e.now().UTC()
	rec := &store.ResetToken{
		ID:        uuid.NewString(),
		AccountID: acct.ID,
		TokenHash: internal.HashToken(rawToken),
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.Reset.TokenTTL),
	}
	if err := e.store.CreateResetToken(ctx, rec); err != nil {
		return wrapStoreErr("request password reset", err)
	}

	if e.resetDeliver != nil {
		if err := e.resetDeliver(ctx, acct.Email, rawToken); err != nil {
			// Delivery failures stay internal; surfacing them would
			// reveal which emails have accounts.
			log.Printf("authcore: reset token delivery failed: %v", err)
		}
	}

	e.emitAudit(ctx, auditEventResetRequested, true, acct.ID, "", nil, nil)
	return nil
}

// ConfirmPasswordReset redeems a reset token and installs a new password.
// The token must be unused and unexpired; redemption and the password
// update happen atomically in the store, so a racing double redeem spends
// the token exactly once. All sessions are revoked on success.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string) error {
	if rawToken == "" {
		return ErrResetTokenInvalid
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("confirm password reset: hash: %v", err)
	}

	accountID, err := e.store.RedeemResetToken(ctx, internal.HashToken(rawToken), newHash, e.now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricResetConfirmFailure)
			e.emitAudit(ctx, auditEventResetConfirmFailed, false, "", "", ErrResetTokenInvalid, nil)
			return ErrResetTokenInvalid
		}
		return wrapStoreErr("confirm password reset", err)
	}

	// The reset proves control of the email, not of existing sessions.
	if err := e.store.RevokeAccountSessions(ctx, accountID); err != nil {
		log.Printf("authcore: failed to revoke sessions after reset for %s: %v", accountID, err)
	}

	e.metricInc(MetricResetConfirmSuccess)
	e.emitAudit(ctx, auditEventResetConfirmed, true, accountID, "", nil, nil)
	return nil
}

// sleepEnumerationDecoy blocks for 20-40ms, drawn from crypto/rand so
// the distribution cannot be modeled out of response-time measurements.
func sleepEnumerationDecoy(ctx context.Context) {
	const (
		minMs = 20
		maxMs = 40
	)

	span := big.NewInt(maxMs - minMs + 1)
	n, err := rand.Int(rand.Reader, span)

	delay := time.Duration(minMs) * time.Millisecond
	if err == nil {
		delay = time.Duration(minMs+n.Int64()) * time.Millisecond
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
