// Package internaldefs maps engine metric IDs to exposition names and
// help text shared by the Prometheus and OpenTelemetry exporters.
package internaldefs

import authcore "github.com/authsmith/authcore"

// CounterDef describes one exported counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef describes one exported histogram.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramBounds are the upper bucket bounds in seconds, matching the
// engine's internal bucket layout. The final bucket is unbounded.
var HistogramBounds = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// HistogramBoundsSeconds is HistogramBounds as float64 values for
// exporters that need numeric bounds. The +Inf bound is omitted.
var HistogramBoundsSeconds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var counters = []CounterDef{
	{authcore.MetricRegisterSuccess, "authcore_register_success_total", "Accounts registered."},
	{authcore.MetricRegisterDuplicate, "authcore_register_duplicate_total", "Registrations rejected for a taken email or username."},
	{authcore.MetricLoginSuccess, "authcore_login_success_total", "Successful logins."},
	{authcore.MetricLoginFailure, "authcore_login_failure_total", "Logins rejected for bad credentials or an inactive account."},
	{authcore.MetricLoginRateLimited, "authcore_login_rate_limited_total", "Logins rejected by the attempt budget."},
	{authcore.MetricLoginMFARequired, "authcore_login_mfa_required_total", "Password-only logins gated on a second factor."},
	{authcore.MetricRefreshSuccess, "authcore_refresh_success_total", "Access tokens minted from refresh tokens."},
	{authcore.MetricRefreshFailure, "authcore_refresh_failure_total", "Refresh attempts with an invalid token or account."},
	{authcore.MetricSessionOpened, "authcore_session_opened_total", "Sessions opened."},
	{authcore.MetricSessionRevoked, "authcore_session_revoked_total", "Sessions revoked."},
	{authcore.MetricMFASuccess, "authcore_mfa_success_total", "TOTP codes accepted."},
	{authcore.MetricMFAFailure, "authcore_mfa_failure_total", "TOTP codes rejected."},
	{authcore.MetricMFAEnabled, "authcore_mfa_enabled_total", "MFA enrollments activated."},
	{authcore.MetricMFADisabled, "authcore_mfa_disabled_total", "MFA enrollments disabled."},
	{authcore.MetricBackupCodeUsed, "authcore_backup_code_used_total", "Backup codes consumed."},
	{authcore.MetricBackupCodeFailed, "authcore_backup_code_failed_total", "Backup code attempts that matched nothing."},
	{authcore.MetricBackupCodeRegenerated, "authcore_backup_code_regenerated_total", "Backup code set replacements."},
	{authcore.MetricPasswordChangeSuccess, "authcore_password_change_success_total", "Password changes."},
	{authcore.MetricPasswordChangeInvalidOld, "authcore_password_change_invalid_old_total", "Password changes rejected for a wrong current password."},
	{authcore.MetricPasswordChangeReuseRejected, "authcore_password_change_reuse_rejected_total", "Password changes rejected for reusing the current password."},
	{authcore.MetricResetRequest, "authcore_reset_request_total", "Password reset requests received."},
	{authcore.MetricResetConfirmSuccess, "authcore_reset_confirm_success_total", "Reset tokens redeemed."},
	{authcore.MetricResetConfirmFailure, "authcore_reset_confirm_failure_total", "Reset confirmations with an invalid token."},
	{authcore.MetricAPIKeyCreated, "authcore_api_key_created_total", "API keys created."},
	{authcore.MetricAPIKeyRevoked, "authcore_api_key_revoked_total", "API keys revoked."},
	{authcore.MetricAPIKeyAuthSuccess, "authcore_api_key_auth_success_total", "API key authentications."},
	{authcore.MetricAPIKeyAuthFailure, "authcore_api_key_auth_failure_total", "API key authentications rejected."},
	{authcore.MetricRateLimitHit, "authcore_rate_limit_hit_total", "Requests stopped by any rate budget."},
}

var histograms = []HistogramDef{
	{authcore.MetricLoginLatency, "authcore_login_duration_seconds", "End-to-end login latency."},
}

// Counters returns the counter definitions in a stable order.
func Counters() []CounterDef {
	return counters
}

// Histograms returns the histogram definitions in a stable order.
func Histograms() []HistogramDef {
	return histograms
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus expects.
func CumulativeBuckets(buckets []uint64) []uint64 {
	out := make([]uint64, len(buckets))
	var total uint64
	for i, b := range buckets {
		total += b
		out[i] = total
	}
	return out
}
