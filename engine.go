package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/authsmith/authcore/internal/rate"
	"github.com/authsmith/authcore/password"
	"github.com/authsmith/authcore/store"
	"github.com/authsmith/authcore/token"
)

// Engine is the credential and session lifecycle core. It owns hashing,
// token issuance, MFA, rate limiting, auditing, and metrics, and talks to
// durable state only through the [store.Store] interface. Construct one
// with [New] and the builder; the zero value is not usable.
//
// All methods are safe for concurrent use.
type Engine struct {
	config  Config
	store   store.Store
	hasher  *password.Hasher
	codec   *token.Codec
	totp    *totpManager
	limiter *rate.Limiter
	audit   *auditDispatcher
	metrics *Metrics

	resetDeliver ResetDelivery

	// dummyHash absorbs password verification for unknown identifiers so
	// lookup misses cost the same as a wrong password.
	dummyHash string

	now func() time.Time
}

// Close flushes the audit dispatcher. The engine must not be used after
// Close returns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	e.metrics.Observe(id, d)
}

// wrapStoreErr translates store sentinels into the engine's error
// taxonomy, preserving the original in the chain.
func wrapStoreErr(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%s: %w", op, ErrDuplicateCredential)
	default:
		return fmt.Errorf("%s: %v", op, err)
	}
}

func wrapLimiterErr(op string, err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return fmt.Errorf("%s: %w", op, ErrRateLimited)
	}
	return fmt.Errorf("%s: %v", op, err)
}

// Login authenticates an identifier (email or username) and password and,
// on success, opens a session and issues an access/refresh token pair.
//
// Unknown identifiers and wrong passwords both return
// [ErrInvalidCredentials]; the two are indistinguishable by error and by
// timing. Accounts with MFA enabled get [ErrMFARequired] with no tokens;
// complete the login with [Engine.LoginWithMFA] or
// [Engine.LoginWithBackupCode].
func (e *Engine) Login(ctx context.Context, identifier, plainPassword string) (*LoginResult, error) {
	start := e.now()

	acct, err := e.authenticatePassword(ctx, identifier, plainPassword)
	if err != nil {
		return nil, err
	}

	enrolled, err := e.mfaEnabled(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if enrolled {
		e.metricInc(MetricLoginMFARequired)
		e.emitAudit(ctx, auditEventLoginMFARequired, false, acct.ID, "", ErrMFARequired, nil)
		return nil, ErrMFARequired
	}

	return e.finishLogin(ctx, acct, identifier, plainPassword, start)
}

// LoginWithMFA completes a login for an MFA-enrolled account using a
// TOTP code.
func (e *Engine) LoginWithMFA(ctx context.Context, identifier, plainPassword, code string) (*LoginResult, error) {
	start := e.now()

	acct, err := e.authenticatePassword(ctx, identifier, plainPassword)
	if err != nil {
		return nil, err
	}

	ok, err := e.verifyEnrolledCode(ctx, acct.ID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricMFAFailure)
		e.noteLoginFailure(ctx, identifier)
		e.emitAudit(ctx, auditEventMFAFailure, false, acct.ID, "", ErrMFACodeInvalid, nil)
		return nil, ErrMFACodeInvalid
	}

	e.metricInc(MetricMFASuccess)
	return e.finishLogin(ctx, acct, identifier, plainPassword, start)
}

// LoginWithBackupCode completes a login for an MFA-enrolled account by
// consuming a single-use backup code.
func (e *Engine) LoginWithBackupCode(ctx context.Context, identifier, plainPassword, backupCode string) (*LoginResult, error) {
	start := e.now()

	acct, err := e.authenticatePassword(ctx, identifier, plainPassword)
	if err != nil {
		return nil, err
	}

	ok, err := e.ConsumeBackupCode(ctx, acct.ID, backupCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricBackupCodeFailed)
		e.noteLoginFailure(ctx, identifier)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, acct.ID, "", ErrBackupCodeInvalid, nil)
		return nil, ErrBackupCodeInvalid
	}

	return e.finishLogin(ctx, acct, identifier, plainPassword, start)
}

// Refresh exchanges a valid refresh token for a fresh access token. The
// refresh token itself is not rotated.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	accountID, err := e.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrInvalidToken, nil)
		return nil, ErrInvalidToken
	}

	acct, err := e.store.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, accountID, "", ErrInvalidToken, nil)
			return nil, ErrInvalidToken
		}
		return nil, wrapStoreErr("refresh", err)
	}
	if !acct.Active {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, acct.ID, "", ErrInactiveAccount, nil)
		return nil, ErrInactiveAccount
	}

	access, err := e.codec.Issue(acct.ID, token.KindAccess, e.config.Token.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("refresh: issue access token: %v", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, acct.ID, "", nil, nil)

	return &LoginResult{
		AccountID:   acct.ID,
		AccessToken: access,
		TokenType:   "bearer",
	}, nil
}

// VerifyAccessToken validates an access token and returns the account ID
// it was issued to. All failure modes collapse into [ErrInvalidToken].
func (e *Engine) VerifyAccessToken(tokenStr string) (string, error) {
	accountID, err := e.codec.Verify(tokenStr, token.KindAccess)
	if err != nil {
		return "", ErrInvalidToken
	}
	return accountID, nil
}

// authenticatePassword runs the shared front half of the login family:
// rate limit check, account lookup, password verification, and the
// active-account gate.
func (e *Engine) authenticatePassword(ctx context.Context, identifier, plainPassword string) (*store.Account, error) {
	ip := clientIPFromContext(ctx)

	if e.limiter != nil {
		if err := e.limiter.CheckLogin(ctx, identifier, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricLoginRateLimited)
				e.emitRateLimit(ctx, "login", nil)
				return nil, ErrRateLimited
			}
			// Redis being down must not lock everyone out. Fail open and
			// let the password check decide.
			log.Printf("authcore: login rate check failed, continuing: %v", err)
		}
	}

	acct, err := e.store.AccountByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Burn a verification anyway so the miss is not observable
			// through response time.
			e.hasher.Verify(plainPassword, e.dummyHash)
			e.metricInc(MetricLoginFailure)
			e.noteLoginFailure(ctx, identifier)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, wrapStoreErr("login", err)
	}

	if !e.hasher.Verify(plainPassword, acct.PasswordHash) {
		e.metricInc(MetricLoginFailure)
		e.noteLoginFailure(ctx, identifier)
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if !acct.Active {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, acct.ID, "", ErrInactiveAccount, nil)
		return nil, ErrInactiveAccount
	}

	return acct, nil
}

// finishLogin runs the shared back half: hash upgrade, session, token
// pair, limiter reset, and bookkeeping.
func (e *Engine) finishLogin(ctx context.Context, acct *store.Account, identifier, plainPassword string, start time.Time) (*LoginResult, error) {
	e.maybeUpgradeHash(ctx, acct, plainPassword)

	sess, err := e.OpenSession(ctx, acct.ID)
	if err != nil {
		return nil, err
	}

	access, err := e.codec.Issue(acct.ID, token.KindAccess, e.config.Token.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("login: issue access token: %v", err)
	}
	refresh, err := e.codec.Issue(acct.ID, token.KindRefresh, e.config.Token.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("login: issue refresh token: %v", err)
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, identifier, clientIPFromContext(ctx)); err != nil {
			log.Printf("authcore: failed to reset login counter: %v", err)
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.metricObserve(MetricLoginLatency, e.now().Sub(start))
	e.emitAudit(ctx, auditEventLoginSuccess, true, acct.ID, sess.ID, nil, nil)

	return &LoginResult{
		AccountID:    acct.ID,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		Session:      sess,
	}, nil
}

// maybeUpgradeHash rehashes the password under the current cost settings
// when the stored digest is stale. Best effort: a failure leaves the old
// digest in place and the login still succeeds.
func (e *Engine) maybeUpgradeHash(ctx context.Context, acct *store.Account, plainPassword string) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsRehash(acct.PasswordHash) {
		return
	}

	newHash, err := e.hasher.Hash(plainPassword)
	if err != nil {
		log.Printf("authcore: hash upgrade failed for account %s: %v", acct.ID, err)
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, acct.ID, newHash); err != nil {
		log.Printf("authcore: hash upgrade write failed for account %s: %v", acct.ID, err)
		return
	}
	acct.PasswordHash = newHash
}

// noteLoginFailure charges the failed attempt against the rate budget.
func (e *Engine) noteLoginFailure(ctx context.Context, identifier string) {
	if e.limiter == nil {
		return
	}
	err := e.limiter.IncrementLogin(ctx, identifier, clientIPFromContext(ctx))
	if err != nil && !errors.Is(err, rate.ErrRateLimited) {
		log.Printf("authcore: failed to record login attempt: %v", err)
	}
}

// mfaEnabled reports whether the account has an enabled MFA enrollment.
func (e *Engine) mfaEnabled(ctx context.Context, accountID string) (bool, error) {
	enrollment, err := e.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, wrapStoreErr("mfa lookup", err)
	}
	return enrollment.Enabled, nil
}

// verifyEnrolledCode checks a TOTP code against the account's enabled
// enrollment. No enrollment means no valid code.
func (e *Engine) verifyEnrolledCode(ctx context.Context, accountID, code string) (bool, error) {
	enrollment, err := e.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, wrapStoreErr("mfa lookup", err)
	}
	if !enrollment.Enabled {
		return false, nil
	}
	return e.totp.VerifyCode(enrollment.Secret, code, e.now()), nil
}
