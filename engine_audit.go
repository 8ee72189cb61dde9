package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventRegisterSuccess     = "register_success"
	auditEventRegisterDuplicate   = "register_duplicate"
	auditEventRegisterFailure     = "register_failure"
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventLoginRateLimited    = "login_rate_limited"
	auditEventLoginMFARequired    = "login_mfa_required"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshInvalid      = "refresh_invalid"
	auditEventSessionOpened       = "session_opened"
	auditEventSessionRevoked      = "session_revoked"
	auditEventPasswordChanged     = "password_change_success"
	auditEventPasswordChangeFail  = "password_change_failure"
	auditEventResetRequested      = "password_reset_requested"
	auditEventResetConfirmed      = "password_reset_confirmed"
	auditEventResetConfirmFailed  = "password_reset_confirm_failed"
	auditEventMFASetup            = "mfa_setup"
	auditEventMFAEnabled          = "mfa_enabled"
	auditEventMFADisabled         = "mfa_disabled"
	auditEventMFAFailure          = "mfa_failure"
	auditEventBackupCodeUsed      = "backup_code_used"
	auditEventBackupCodeFailed    = "backup_code_failed"
	auditEventBackupCodesReplaced = "backup_codes_regenerated"
	auditEventAPIKeyCreated       = "api_key_created"
	auditEventAPIKeyRevoked       = "api_key_revoked"
	auditEventAPIKeyAuthFailed    = "api_key_auth_failed"
	auditEventRateLimitTriggered  = "rate_limit_triggered"
)

type auditErrCode string

const (
	auditErrInvalidCredentials auditErrCode = "invalid_credentials"
	auditErrInactiveAccount    auditErrCode = "account_inactive"
	auditErrDuplicate          auditErrCode = "duplicate"
	auditErrInvalidToken       auditErrCode = "invalid_token"
	auditErrMFARequired        auditErrCode = "mfa_required"
	auditErrMFAInvalid         auditErrCode = "mfa_invalid"
	auditErrBackupCodeInvalid  auditErrCode = "backup_code_invalid"
	auditErrResetTokenInvalid  auditErrCode = "reset_token_invalid"
	auditErrNotFound           auditErrCode = "not_found"
	auditErrRateLimited        auditErrCode = "rate_limited"
	auditErrPasswordPolicy     auditErrCode = "password_policy"
	auditErrPasswordReuse      auditErrCode = "password_reuse"
	auditErrUnavailable        auditErrCode = "backend_unavailable"
	auditErrInternal           auditErrCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

func auditErrorCode(err error) auditErrCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInactiveAccount):
		return auditErrInactiveAccount
	case errors.Is(err, ErrDuplicateCredential):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrMFARequired):
		return auditErrMFARequired
	case errors.Is(err, ErrMFACodeInvalid):
		return auditErrMFAInvalid
	case errors.Is(err, ErrBackupCodeInvalid):
		return auditErrBackupCodeInvalid
	case errors.Is(err, ErrResetTokenInvalid):
		return auditErrResetTokenInvalid
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
