package authcore

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"

	"github.com/authsmith/authcore/internal"
	"github.com/authsmith/authcore/store"
)

// SetupMFA starts TOTP enrollment for an account. It returns the shared
// secret, the otpauth provisioning URI, and a fresh set of backup codes.
// Everything in the result is disclosed exactly once; the store keeps
// only the secret and code hashes. Enrollment stays disabled until
// [Engine.EnableMFA] confirms the account can produce a valid code.
//
// Calling SetupMFA again before enabling replaces the pending enrollment.
// Calling it on an already-enabled account returns [ErrDuplicateCredential].
func (e *Engine) SetupMFA(ctx context.Context, accountID string) (*MFASetup, error) {
	acct, err := e.store.AccountByID(ctx, accountID)
	if err != nil {
		return nil, wrapStoreErr("mfa setup", err)
	}

	existing, err := e.store.MFAEnrollment(ctx, accountID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, wrapStoreErr("mfa setup", err)
	}
	if existing != nil && existing.Enabled {
		return nil, fmt.Errorf("mfa setup: %w: already enabled", ErrDuplicateCredential)
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("mfa setup: %v", err)
	}

	codes, hashes, err := e.newBackupCodes(accountID)
	if err != nil {
		return nil, fmt.Errorf("mfa setup: %v", err)
	}

	enrollment := &store.MFAEnrollment{
		AccountID:        accountID,
		Secret:           secret,
		Enabled:          false,
		BackupCodeHashes: hashes,
		CreatedAt:        e.now().UTC(),
	}
	if err := e.store.SaveMFAEnrollment(ctx, enrollment); err != nil {
		return nil, wrapStoreErr("mfa setup", err)
	}

	e.emitAudit(ctx, auditEventMFASetup, true, accountID, "", nil, nil)

	return &MFASetup{
		Secret:      base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret),
		URI:         e.totp.ProvisionURI(secret, acct.Email),
		BackupCodes: codes,
	}, nil
}

// EnableMFA activates a pending enrollment once the account proves it can
// generate a valid code from the provisioned secret. A wrong code returns
// [ErrMFACodeInvalid]; a missing enrollment returns [ErrNotFound].
func (e *Engine) EnableMFA(ctx context.Context, accountID, code string) error {
	enrollment, err := e.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		return wrapStoreErr("mfa enable", err)
	}

	if !e.totp.VerifyCode(enrollment.Secret, code, e.now()) {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, accountID, "", ErrMFACodeInvalid, nil)
		return ErrMFACodeInvalid
	}

	if err := e.store.SetMFAEnabled(ctx, accountID, true); err != nil {
		return wrapStoreErr("mfa enable", err)
	}

	e.metricInc(MetricMFAEnabled)
	e.emitAudit(ctx, auditEventMFAEnabled, true, accountID, "", nil, nil)
	return nil
}

// DisableMFA turns MFA off for an account. The caller must present a
// currently valid TOTP code so a stolen session alone cannot weaken the
// account.
func (e *Engine) DisableMFA(ctx context.Context, accountID, code string) error {
	enrollment, err := e.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		return wrapStoreErr("mfa disable", err)
	}
	if !enrollment.Enabled {
		return fmt.Errorf("mfa disable: %w", ErrNotFound)
	}

	if !e.totp.VerifyCode(enrollment.Secret, code, e.now()) {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAFailure, false, accountID, "", ErrMFACodeInvalid, nil)
		return ErrMFACodeInvalid
	}

	if err := e.store.SetMFAEnabled(ctx, accountID, false); err != nil {
		return wrapStoreErr("mfa disable", err)
	}

	e.metricInc(MetricMFADisabled)
	e.emitAudit(ctx, auditEventMFADisabled, true, accountID, "", nil, nil)
	return nil
}

// VerifyMFACode checks a TOTP code against the account's enrollment,
// enabled or not. No enrollment means no valid code; that is not an
// error. Login gating on the enabled flag happens in the login family.
func (e *Engine) VerifyMFACode(ctx context.Context, accountID, code string) (bool, error) {
	enrollment, err := e.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, wrapStoreErr("mfa verify", err)
	}
	return e.totp.VerifyCode(enrollment.Secret, code, e.now()), nil
}

// MFAStatus reports whether MFA is enabled and how many backup codes
// remain unused.
func (e *Engine) MFAStatus(ctx context.Context, accountID string) (*MFAStatus, error) {
	enrollment, err := e.store.MFAEnrollment(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &MFAStatus{}, nil
		}
		return nil, wrapStoreErr("mfa status", err)
	}

	return &MFAStatus{
		Enabled:              enrollment.Enabled,
		BackupCodesRemaining: len(enrollment.BackupCodeHashes),
	}, nil
}

// newBackupCodes generates a fresh code set and the hashes to store.
func (e *Engine) newBackupCodes(accountID string) ([]string, [][32]byte, error) {
	count := e.config.MFA.BackupCodeCount
	codes := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)

	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(e.config.MFA.BackupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, internal.HashBackupCode(accountID, code))
	}

	return codes, hashes, nil
}
