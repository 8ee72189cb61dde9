package authcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/authsmith/authcore/store"
)

// Register creates a new account from an email, username, and plaintext
// password. The password is checked against the policy and hashed before
// anything touches the store. A conflicting email or username returns
// [ErrDuplicateCredential].
func (e *Engine) Register(ctx context.Context, email, username, plainPassword string) (*RegisterResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)

	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("register: %w: invalid email", ErrPasswordPolicy)
	}
	if username == "" {
		return nil, fmt.Errorf("register: %w: username required", ErrPasswordPolicy)
	}
	if err := e.checkPasswordPolicy(plainPassword); err != nil {
		return nil, err
	}

	hash, err := e.hasher.Hash(plainPassword)
	if err != nil {
		return nil, fmt.Errorf("register: hash password: %v", err)
	}

	acct := &store.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    e.now().UTC(),
	}

	if err := e.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterDuplicate, false, "", "", ErrDuplicateCredential, nil)
			return nil, ErrDuplicateCredential
		}
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", err, nil)
		return nil, wrapStoreErr("register", err)
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, acct.ID, "", nil, nil)

	return &RegisterResult{AccountID: acct.ID}, nil
}

// ChangePassword replaces an account's password after verifying the old
// one. All existing sessions are revoked; the caller must log in again.
// Reusing the current password is rejected with [ErrPasswordReuse].
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	acct, err := e.store.AccountByID(ctx, accountID)
	if err != nil {
		return wrapStoreErr("change password", err)
	}

	if !e.hasher.Verify(oldPassword, acct.PasswordHash) {
		e.metricInc(MetricPasswordChangeInvalidOld)
		e.emitAudit(ctx, auditEventPasswordChangeFail, false, accountID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		e.emitAudit(ctx, auditEventPasswordChangeFail, false, accountID, "", err, nil)
		return err
	}
	if e.hasher.Verify(newPassword, acct.PasswordHash) {
		e.metricInc(MetricPasswordChangeReuseRejected)
		e.emitAudit(ctx, auditEventPasswordChangeFail, false, accountID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("change password: hash: %v", err)
	}
	if err := e.store.UpdatePasswordHash(ctx, accountID, newHash); err != nil {
		return wrapStoreErr("change password", err)
	}

	// A changed password invalidates every open session.
	if err := e.store.RevokeAccountSessions(ctx, accountID); err != nil {
		log.Printf("authcore: failed to revoke sessions after password change for %s: %v", accountID, err)
	}

	if e.limiter != nil {
		if err := e.limiter.ResetLogin(ctx, acct.Email, clientIPFromContext(ctx)); err != nil {
			log.Printf("authcore: failed to reset login counter: %v", err)
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChanged, true, accountID, "", nil, nil)

	return nil
}

// DeactivateAccount marks an account inactive and revokes its sessions.
// Inactive accounts fail login and refresh until reactivated.
func (e *Engine) DeactivateAccount(ctx context.Context, accountID string) error {
	if err := e.store.SetAccountActive(ctx, accountID, false); err != nil {
		return wrapStoreErr("deactivate account", err)
	}
	if err := e.store.RevokeAccountSessions(ctx, accountID); err != nil {
		log.Printf("authcore: failed to revoke sessions on deactivation for %s: %v", accountID, err)
	}
	return nil
}

// MarkAccountVerified records that the account's email has been
// confirmed out of band.
func (e *Engine) MarkAccountVerified(ctx context.Context, accountID string) error {
	if err := e.store.SetAccountVerified(ctx, accountID, true); err != nil {
		return wrapStoreErr("mark verified", err)
	}
	return nil
}

// ReactivateAccount clears the inactive flag.
func (e *Engine) ReactivateAccount(ctx context.Context, accountID string) error {
	if err := e.store.SetAccountActive(ctx, accountID, true); err != nil {
		return wrapStoreErr("reactivate account", err)
	}
	return nil
}

// LoginAttempts reports the current failed-login counter for an
// identifier. Returns zero when rate limiting is not configured.
func (e *Engine) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	if e.limiter == nil {
		return 0, nil
	}
	return e.limiter.LoginAttempts(ctx, identifier)
}

func (e *Engine) checkPasswordPolicy(plainPassword string) error {
	if len(plainPassword) < e.config.Password.MinLength {
		return fmt.Errorf("%w: minimum length is %d", ErrPasswordPolicy, e.config.Password.MinLength)
	}
	return nil
}
