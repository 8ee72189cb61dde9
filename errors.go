package authcore

import "errors"

var (
	// ErrDuplicateCredential is returned when registration collides with an
	// existing email or username.
	ErrDuplicateCredential = errors.New("credential already registered")
	// ErrInvalidCredentials is returned for an unknown identifier or a wrong
	// password. The two cases are intentionally indistinguishable.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveAccount is returned when the credentials are correct but the
	// account has been deactivated.
	ErrInactiveAccount = errors.New("account inactive")
	// ErrInvalidToken is returned for any JWT that fails verification:
	// signature, structure, kind, or expiry.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMFARequired is returned by Login when the account has MFA enabled
	// and no second factor was supplied.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFACodeInvalid is returned when a TOTP code fails verification.
	ErrMFACodeInvalid = errors.New("invalid mfa code")
	// ErrBackupCodeInvalid is returned when a backup code fails verification
	// or has already been spent.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrResetTokenInvalid is returned when a password reset token is
	// unknown, expired, or already used.
	ErrResetTokenInvalid = errors.New("invalid reset token")
	// ErrNotFound is returned when a referenced account, enrollment, or key
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is returned when an operation exceeds its attempt budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable is returned when the persistence backend cannot be
	// reached. Distinct from ErrNotFound so callers can fail open or closed
	// deliberately.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrPasswordPolicy is returned when a new password fails the minimum
	// requirements.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a password change supplies the
	// current password as the new one.
	ErrPasswordReuse = errors.New("new password must differ from current password")
	// ErrEngineNotReady is returned when an engine method is called before
	// Build completed.
	ErrEngineNotReady = errors.New("engine not initialized")
)
