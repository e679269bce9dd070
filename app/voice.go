package app

import (
	"context"
	"time"

	"github.com/Tristan-Hancock/maya-web-sub000/app/models"
)

// Free and paid voice policy defaults, in minutes. Paid values are
// per-field overridable through the account's limits map.
const (
	FreeVoiceCapMin      = 10
	FreeVoicePerCallMin  = 5
	FreeVoiceCooldownMin = 30

	PaidVoiceCapMin      = 60
	PaidVoicePerCallMin  = 30
	PaidVoiceCooldownMin = 5
)

// VoicePolicy is the policy band governing a user's voice usage.
type VoicePolicy struct {
	Plan            string // "free" or "paid"
	Enabled         bool
	CapMinutes      int
	PerCallMinutes  int
	CooldownMinutes int
}

// ResolveVoicePolicy computes the caller's voice band. It never fails:
// any unexpected input degrades to the safe free-tier policy.
func ResolveVoicePolicy(acct models.Account) VoicePolicy {
	free := VoicePolicy{
		Plan:            "free",
		Enabled:         true,
		CapMinutes:      FreeVoiceCapMin,
		PerCallMinutes:  FreeVoicePerCallMin,
		CooldownMinutes: FreeVoiceCooldownMin,
	}
	if !acct.SubscriptionSt.Entitled() {
		return free
	}

	pol := VoicePolicy{
		Plan:            "paid",
		Enabled:         true,
		CapMinutes:      voiceLimitOr(acct.Limits, models.LimitVoiceMinutes, PaidVoiceCapMin),
		PerCallMinutes:  voiceLimitOr(acct.Limits, models.LimitVoiceSessionMaxMin, PaidVoicePerCallMin),
		CooldownMinutes: voiceLimitOr(acct.Limits, models.LimitVoiceCooldownMinutes, PaidVoiceCooldownMin),
	}
	if enabled, present := acct.Limits.Bool(models.LimitVoiceEnabled); present {
		pol.Enabled = enabled
	}
	if pol.CapMinutes <= 0 || pol.PerCallMinutes <= 0 || pol.CooldownMinutes < 0 {
		return free
	}
	return pol
}

func voiceLimitOr(l models.Limits, key string, fallback int) int {
	v, present, unlimited := l.Int(key)
	if !present || unlimited {
		return fallback
	}
	return v
}

// VoiceProvisioner is the external realtime session provider contract.
type VoiceProvisioner interface {
	// ProvisionSession requests a realtime session capped at
	// maxSeconds and returns the client secret plus the provider's
	// declared expiry in unix milliseconds.
	ProvisionSession(ctx context.Context, maxSeconds int) (secret string, expiresAtMs int64, err error)
}

// VoiceManager admits, tracks, and settles realtime voice calls.
type VoiceManager struct {
	Provisioner VoiceProvisioner

	clock func() time.Time
}

func NewVoiceManager(p VoiceProvisioner) *VoiceManager {
	return &VoiceManager{Provisioner: p, clock: time.Now}
}

// Preflight runs admission control in order: minutes cap, cooldown,
// concurrent call, then provisioning. The persisted deadline is the
// stricter of the provider's expiry and the per-call cap — the server
// never promises more time than either bound allows.
func (m *VoiceManager) Preflight(ctx context.Context, anonUser string) (*models.VoicePreflightResponse, error) {
	now := m.clock()
	acct, err := EnsureAccount(ctx, anonUser, now)
	if err != nil {
		return nil, err
	}

	pol := ResolveVoicePolicy(acct)
	usedMin := acct.Usage.VoiceSecondsUsed / 60

	if !pol.Enabled {
		return nil, VoiceAdmissionError{Reason: "voice_disabled"}
	}
	if usedMin >= pol.CapMinutes {
		return nil, VoiceAdmissionError{
			Reason:      "minutes_exhausted",
			UsedMinutes: usedMin,
			CapMinutes:  pol.CapMinutes,
		}
	}
	if remaining := cooldownRemainingMs(pol, acct.Usage.VoiceLastEndMs, now.UnixMilli()); remaining > 0 {
		return nil, VoiceAdmissionError{
			Reason:      "cooldown_active",
			RemainingMs: remaining,
			UsedMinutes: usedMin,
			CapMinutes:  pol.CapMinutes,
		}
	}
	if acct.Usage.VoiceInProgress {
		return nil, VoiceAdmissionError{Reason: "call_in_progress"}
	}

	perCallSec := pol.PerCallMinutes * 60
	secret, providerExpiryMs, err := m.Provisioner.ProvisionSession(ctx, perCallSec)
	if err != nil {
		return nil, err
	}

	nowMs := now.UnixMilli()
	serverDeadlineMs := nowMs + int64(perCallSec)*1000
	if providerExpiryMs > 0 && providerExpiryMs < serverDeadlineMs {
		serverDeadlineMs = providerExpiryMs
	}

	granted, err := beginVoiceSession(ctx, anonUser, nowMs, serverDeadlineMs)
	if err != nil {
		return nil, err
	}
	if !granted {
		// A concurrent preflight won the flag between our read and
		// the conditional write.
		return nil, VoiceAdmissionError{Reason: "call_in_progress"}
	}

	voiceSessionsStarted.Inc()
	return &models.VoicePreflightResponse{
		SessionSecret:     secret,
		ServerDeadlineMs:  serverDeadlineMs,
		CapMinutes:        pol.CapMinutes,
		PerCallCapMinutes: pol.PerCallMinutes,
		CooldownMinutes:   pol.CooldownMinutes,
		UsedMinutes:       usedMin,
	}, nil
}

// End settles a finished call against the client's reported elapsed
// time. Ending with no call in progress bills zero seconds, making a
// double-end a safe no-op.
func (m *VoiceManager) End(ctx context.Context, anonUser string, reportedSec int) (*models.VoiceEndResponse, error) {
	now := m.clock()
	acct, err := EnsureAccount(ctx, anonUser, now)
	if err != nil {
		return nil, err
	}

	if !acct.Usage.VoiceInProgress {
		return &models.VoiceEndResponse{
			BilledSeconds:    0,
			TotalSecondsUsed: acct.Usage.VoiceSecondsUsed,
		}, nil
	}

	pol := ResolveVoicePolicy(acct)
	billed := billableSeconds(
		pol.PerCallMinutes*60,
		reportedSec,
		acct.Usage.VoiceStartedAtMs,
		acct.Usage.VoiceDeadlineMs,
		now.UnixMilli(),
	)

	settled, err := settleVoiceSession(ctx, anonUser, billed, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	if !settled {
		// Lost the settle race against another end request; that one
		// billed the call.
		return &models.VoiceEndResponse{
			BilledSeconds:    0,
			TotalSecondsUsed: acct.Usage.VoiceSecondsUsed,
		}, nil
	}

	return &models.VoiceEndResponse{
		BilledSeconds:    billed,
		TotalSecondsUsed: acct.Usage.VoiceSecondsUsed + billed,
	}, nil
}

// Status is a pure read of the caller's voice standing.
func (m *VoiceManager) Status(ctx context.Context, anonUser string) (*models.VoiceStatusResponse, error) {
	now := m.clock()
	acct, err := EnsureAccount(ctx, anonUser, now)
	if err != nil {
		return nil, err
	}
	pol := ResolveVoicePolicy(acct)

	return &models.VoiceStatusResponse{
		Plan:                pol.Plan,
		InProgress:          acct.Usage.VoiceInProgress,
		UsedMinutes:         acct.Usage.VoiceSecondsUsed / 60,
		CapMinutes:          pol.CapMinutes,
		CooldownRemainingMs: cooldownRemainingMs(pol, acct.Usage.VoiceLastEndMs, now.UnixMilli()),
	}, nil
}

// billableSeconds triple-clamps the settlement: the per-call cap, the
// client's report, and the server's own observed window, so neither a
// generous client nor a missed deadline check can overbill.
func billableSeconds(perCallCapSec, reportedSec int, startedMs, deadlineMs, nowMs int64) int {
	windowEndMs := nowMs
	if deadlineMs > 0 && deadlineMs < windowEndMs {
		windowEndMs = deadlineMs
	}
	maxWindowSec := int((windowEndMs - startedMs) / 1000)
	if maxWindowSec < 0 {
		maxWindowSec = 0
	}

	billed := reportedSec
	if billed < 0 {
		billed = 0
	}
	if billed > maxWindowSec {
		billed = maxWindowSec
	}
	if billed > perCallCapSec {
		billed = perCallCapSec
	}
	return billed
}

func cooldownRemainingMs(pol VoicePolicy, lastEndMs, nowMs int64) int64 {
	if lastEndMs == 0 || pol.CooldownMinutes == 0 {
		return 0
	}
	readyAt := lastEndMs + int64(pol.CooldownMinutes)*60_000
	if nowMs >= readyAt {
		return 0
	}
	return readyAt - nowMs
}
