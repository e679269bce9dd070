// Package models defines account, usage, and conversation records.
package models

import "time"

// SubscriptionStatus mirrors the billing provider's subscription lifecycle.
type SubscriptionStatus string

const (
	SubNone              SubscriptionStatus = "none"
	SubActive            SubscriptionStatus = "active"
	SubPastDue           SubscriptionStatus = "past_due"
	SubCancelAtPeriodEnd SubscriptionStatus = "cancel_at_period_end"
	SubCanceled          SubscriptionStatus = "canceled"
)

// Entitled reports whether the subscription grants paid-tier limits.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubActive || s == SubCancelAtPeriodEnd
}

// Limit keys recognized in Account.Limits. Absent keys fall back to
// plan defaults; an explicit null on an active account means unlimited.
const (
	LimitMonthlyPrompts       = "monthly_prompts"
	LimitDocUploads           = "doc_uploads"
	LimitThreads              = "threads"
	LimitVoiceEnabled         = "voice_enabled"
	LimitVoiceMinutes         = "voice_minutes"
	LimitVoiceSessionMaxMin   = "voice_session_max_minutes"
	LimitVoiceCooldownMinutes = "voice_cooldown_minutes"
)

// Limits is a sparse cap map stored as a JSON column. Values are
// json.Number-ish floats or bools depending on the key; a key present
// with a nil value means "no cap" for numeric limits.
type Limits map[string]*float64

// Int returns the integer value for key plus whether the key exists
// and whether it is an explicit null (unlimited).
func (l Limits) Int(key string) (val int, present bool, unlimited bool) {
	if l == nil {
		return 0, false, false
	}
	v, ok := l[key]
	if !ok {
		return 0, false, false
	}
	if v == nil {
		return 0, true, true
	}
	return int(*v), true, false
}

// Bool reads a boolean-ish limit (stored as 0/1).
func (l Limits) Bool(key string) (val bool, present bool) {
	v, ok := l[key]
	if !ok || v == nil {
		return false, ok
	}
	return *v != 0, true
}

// Usage is the per-user usage record embedded in the account row.
// Voice session state lives here rather than in a separate entity:
// a user has at most one in-flight call.
type Usage struct {
	MonthKey         string
	PromptsUsed      int
	ImagesUsed       int
	DocsUsed         int
	ThreadsActive    int
	VoiceSecondsUsed int
	VoiceInProgress  bool
	VoiceStartedAtMs int64
	VoiceDeadlineMs  int64
	VoiceLastEndMs   int64
	FreeResetAt      *time.Time
}

// Account is one user row keyed by the anonymized user id. The raw
// identity-provider subject is never stored.
type Account struct {
	AnonUser         string
	SubscriptionSt   SubscriptionStatus
	PlanCode         string
	StripeCustomerID string
	Limits           Limits
	Usage            Usage
}
