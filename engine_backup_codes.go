package authcore

import (
	"context"

	"github.com/authsmith/authcore/internal"
)

// RegenerateBackupCodes replaces an account's backup codes with a fresh
// set and returns the new codes. Previously issued codes stop working
// immediately. Accounts without an enrollment get [ErrNotFound].
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID string) ([]string, error) {
	if _, err := e.store.MFAEnrollment(ctx, accountID); err != nil {
		return nil, wrapStoreErr("regenerate backup codes", err)
	}

	codes, hashes, err := e.newBackupCodes(accountID)
	if err != nil {
		return nil, err
	}

	if err := e.store.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, wrapStoreErr("regenerate backup codes", err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesReplaced, true, accountID, "", nil, nil)

	return codes, nil
}

// ConsumeBackupCode atomically spends a single-use backup code. Input is
// canonicalized first, so "abcd-efgh ij" and "ABCDEFGHIJ" are the same
// code. A miss returns (false, nil); a second use of the same code is a
// miss. Accounts without an enrollment get [ErrNotFound].
func (e *Engine) ConsumeBackupCode(ctx context.Context, accountID, code string) (bool, error) {
	if _, err := e.store.MFAEnrollment(ctx, accountID); err != nil {
		return false, wrapStoreErr("consume backup code", err)
	}

	canonical := internal.CanonicalizeBackupCode(code)
	if canonical == "" {
		return false, nil
	}

	hash := internal.HashBackupCode(accountID, canonical)
	ok, err := e.store.ConsumeBackupCode(ctx, accountID, hash)
	if err != nil {
		return false, wrapStoreErr("consume backup code", err)
	}

	if ok {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, accountID, "", nil, nil)
	}

	return ok, nil
}
