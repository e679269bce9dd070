package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/Tristan-Hancock/maya-web-sub000/app/models"
)

// Free-tier caps. Free usage resets on a rolling window rather than
// calendar months.
const (
	FreePromptCap  = 25
	FreeDocCap     = 3
	FreeThreadCap  = 10
	FreeResetEvery = 14 * 24 * time.Hour
)

// Paid fallbacks when an active account's limits map omits a key.
const (
	PaidPromptFallback = 500
	PaidDocFallback    = 50
	PaidThreadFallback = 100
)

// Unlimited marks a cap with no numeric bound.
const Unlimited = -1

// Policy is the prompt/doc/thread cap band an account operates under.
type Policy struct {
	PromptCap int
	DocCap    int
	ThreadCap int
}

// PolicyFor resolves an account's caps. Entitled subscriptions read
// numeric caps from the limits map (explicit null = unlimited, absent
// key = paid fallback); everyone else gets the fixed free band.
func PolicyFor(acct models.Account) Policy {
	if !acct.SubscriptionSt.Entitled() {
		return Policy{PromptCap: FreePromptCap, DocCap: FreeDocCap, ThreadCap: FreeThreadCap}
	}
	return Policy{
		PromptCap: limitOr(acct.Limits, models.LimitMonthlyPrompts, PaidPromptFallback),
		DocCap:    limitOr(acct.Limits, models.LimitDocUploads, PaidDocFallback),
		ThreadCap: limitOr(acct.Limits, models.LimitThreads, PaidThreadFallback),
	}
}

func limitOr(l models.Limits, key string, fallback int) int {
	v, present, unlimited := l.Int(key)
	if !present {
		return fallback
	}
	if unlimited {
		return Unlimited
	}
	return v
}

// CanSendPrompt gates one prompt against the policy. A denial carries
// the exhausted cap and current usage.
func CanSendPrompt(acct models.Account, pol Policy) error {
	if pol.PromptCap == Unlimited {
		return nil
	}
	if acct.Usage.PromptsUsed >= pol.PromptCap {
		return CapacityError{Cap: "prompt_cap", Used: acct.Usage.PromptsUsed, Max: pol.PromptCap}
	}
	return nil
}

// CanUploadDoc gates one document upload.
func CanUploadDoc(acct models.Account, pol Policy) error {
	if pol.DocCap == Unlimited {
		return nil
	}
	if acct.Usage.DocsUsed >= pol.DocCap {
		return CapacityError{Cap: "doc_cap", Used: acct.Usage.DocsUsed, Max: pol.DocCap}
	}
	return nil
}

// EnsureAccount lazily creates the account row and returns it, with
// any due rollovers applied. Safe under concurrent first requests.
func EnsureAccount(ctx context.Context, anonUser string, now time.Time) (models.Account, error) {
	acct, err := getAccount(ctx, anonUser)
	if errors.Is(err, sql.ErrNoRows) {
		if err := insertAccountIfAbsent(ctx, anonUser, now); err != nil {
			return models.Account{}, err
		}
		acct, err = getAccount(ctx, anonUser)
	}
	if err != nil {
		return models.Account{}, err
	}
	return RolloverIfNeeded(ctx, acct, now)
}

// RolloverIfNeeded applies the two reset rules and returns the fresh
// account state.
//
// Month-scoped counters (voice seconds, thread slots) reset for every
// account when the stored month key goes stale. Prompt/image/doc
// counters reset only for non-entitled accounts, on a rolling window:
// an account without a scheduled reset gets one scheduled, not an
// immediate wipe, so legacy usage is not forgiven retroactively.
// Entitled accounts' prompt counters are the billing collaborator's
// responsibility and are never auto-reset here.
func RolloverIfNeeded(ctx context.Context, acct models.Account, now time.Time) (models.Account, error) {
	changed := false

	if nowKey := monthKey(now); acct.Usage.MonthKey != nowKey {
		if err := rolloverMonth(ctx, acct.AnonUser, acct.Usage.MonthKey, nowKey); err != nil {
			return models.Account{}, err
		}
		changed = true
	}

	if !acct.SubscriptionSt.Entitled() {
		switch {
		case acct.Usage.FreeResetAt == nil:
			if err := scheduleFreeReset(ctx, acct.AnonUser, now.Add(FreeResetEvery)); err != nil {
				return models.Account{}, err
			}
			changed = true
		case !now.Before(*acct.Usage.FreeResetAt):
			if err := resetFreeCounters(ctx, acct.AnonUser, now.Add(FreeResetEvery)); err != nil {
				return models.Account{}, err
			}
			changed = true
		}
	}

	if !changed {
		return acct, nil
	}
	return getAccount(ctx, acct.AnonUser)
}

// ReserveThreadSlot claims a new-conversation slot. This is the only
// operation where same-user races genuinely contend, and the
// conditional increment in the store is the sole correctness
// mechanism; a read-then-write here would double-admit.
func ReserveThreadSlot(ctx context.Context, acct models.Account, pol Policy) error {
	if pol.ThreadCap == Unlimited {
		return nil
	}
	granted, err := reserveThreadSlot(ctx, acct.AnonUser, pol.ThreadCap)
	if err != nil {
		return err
	}
	if !granted {
		return CapacityError{Cap: "thread_cap", Used: acct.Usage.ThreadsActive, Max: pol.ThreadCap}
	}
	return nil
}

// ReleaseThreadSlot is the best-effort compensation for a reservation
// whose turn failed. It never surfaces an error.
func ReleaseThreadSlot(ctx context.Context, anonUser string, pol Policy) {
	if pol.ThreadCap == Unlimited {
		return
	}
	if err := releaseThreadSlot(ctx, anonUser); err != nil {
		log.Printf("thread slot release failed user=%s err=%v", anonUser, err)
	}
}
