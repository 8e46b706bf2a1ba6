package internaldefs

import (
	goEnroll "github.com/MrEthical07/goEnroll"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   goEnroll.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   goEnroll.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goEnroll.MetricEmailOTPSent, Name: "goenroll_email_otp_sent_total", Help: "Email verification codes sent."},
	{ID: goEnroll.MetricEmailOTPFailed, Name: "goenroll_email_otp_failed_total", Help: "Email verification code sends that failed."},
	{ID: goEnroll.MetricEmailVerified, Name: "goenroll_email_verified_total", Help: "Email addresses verified."},
	{ID: goEnroll.MetricEmailVerifyFailed, Name: "goenroll_email_verify_failed_total", Help: "Rejected email verification codes."},
	{ID: goEnroll.MetricPhoneOTPSent, Name: "goenroll_phone_otp_sent_total", Help: "Phone verification codes sent."},
	{ID: goEnroll.MetricPhoneOTPFailed, Name: "goenroll_phone_otp_failed_total", Help: "Phone code sends that failed without blocking enrollment."},
	{ID: goEnroll.MetricPhoneVerified, Name: "goenroll_phone_verified_total", Help: "Phone numbers verified."},
	{ID: goEnroll.MetricPhoneVerifyFailed, Name: "goenroll_phone_verify_failed_total", Help: "Phone verifications that could not be confirmed."},
	{ID: goEnroll.MetricSecurityQuestionsSaved, Name: "goenroll_security_questions_saved_total", Help: "Security question sets saved."},
	{ID: goEnroll.MetricSecurityQuestionsFailed, Name: "goenroll_security_questions_failed_total", Help: "Security question saves that failed."},
	{ID: goEnroll.MetricBiometricSucceeded, Name: "goenroll_biometric_succeeded_total", Help: "Ceremonies that registered a platform credential."},
	{ID: goEnroll.MetricBiometricSkipped, Name: "goenroll_biometric_skipped_total", Help: "Ceremonies that skipped the platform credential."},
	{ID: goEnroll.MetricBiometricFailed, Name: "goenroll_biometric_failed_total", Help: "Ceremonies whose platform credential failed."},
	{ID: goEnroll.MetricCeremonyFailed, Name: "goenroll_ceremony_failed_total", Help: "Ceremonies that failed to register fallback credentials."},
	{ID: goEnroll.MetricProfileCreated, Name: "goenroll_profile_created_total", Help: "Profiles created."},
	{ID: goEnroll.MetricProfileCreationFailed, Name: "goenroll_profile_creation_failed_total", Help: "Profile creations that failed."},
	{ID: goEnroll.MetricRefreshSuccess, Name: "goenroll_refresh_success_total", Help: "Successful token refreshes."},
	{ID: goEnroll.MetricRefreshFailure, Name: "goenroll_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: goEnroll.MetricLogout, Name: "goenroll_logout_total", Help: "Logouts."},
	{ID: goEnroll.MetricReset, Name: "goenroll_reset_total", Help: "Silent auth resets."},
	{ID: goEnroll.MetricBusyRejected, Name: "goenroll_busy_rejected_total", Help: "Operations rejected while another was in flight."},
	{ID: goEnroll.MetricStaleCompletionDiscarded, Name: "goenroll_stale_completion_discarded_total", Help: "Completions discarded after the session ended."},
	{ID: goEnroll.MetricReferrerRejected, Name: "goenroll_referrer_rejected_total", Help: "Initializations rejected by the referrer allow-list."},
	{ID: goEnroll.MetricCacheHit, Name: "goenroll_cache_hit_total", Help: "Response cache hits."},
	{ID: goEnroll.MetricCacheMiss, Name: "goenroll_cache_miss_total", Help: "Response cache misses."},
	{ID: goEnroll.MetricRateLimitFallback, Name: "goenroll_rate_limit_fallback_total", Help: "Rate-limited reads answered from stale cache."},
	{ID: goEnroll.MetricRateLimitHit, Name: "goenroll_rate_limit_hit_total", Help: "Requests rejected with HTTP 429."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goEnroll.MetricOperationLatency, Name: "goenroll_operation_latency_seconds", Help: "Wall time of guarded engine operations."},
}

// HistogramBounds are the upper bounds of the latency buckets, in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix names each bound in instrument-safe form.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
