package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/Tristan-Hancock/maya-web-sub000/app/config"
	"github.com/Tristan-Hancock/maya-web-sub000/app/models"
)

var db *sql.DB

// MustInitDB initializes the global db and panics/logs fatally on error.
func MustInitDB() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DB.Username,
		cfg.DB.Password,
		cfg.DB.URL,
		cfg.DB.Port,
		cfg.DB.Database,
	)

	d, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("sql.Open: %v", err)
	}

	if err := d.Ping(); err != nil {
		log.Fatalf("db.Ping: %v", err)
	}

	log.Println("Connected to Postgres")
	db = d

	if err := ensureSchema(context.Background()); err != nil {
		log.Fatalf("ensureSchema: %v", err)
	}
}

func ensureSchema(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			anon_user            TEXT PRIMARY KEY,
			subscription_status  TEXT NOT NULL DEFAULT 'none',
			plan_code            TEXT NOT NULL DEFAULT '',
			stripe_customer_id   TEXT,
			limits               JSONB,
			month_key            TEXT NOT NULL,
			prompts_used         INT NOT NULL DEFAULT 0,
			images_used          INT NOT NULL DEFAULT 0,
			docs_used            INT NOT NULL DEFAULT 0,
			threads_active       INT NOT NULL DEFAULT 0,
			voice_seconds_used   INT NOT NULL DEFAULT 0,
			voice_in_progress    BOOLEAN NOT NULL DEFAULT FALSE,
			voice_started_at_ms  BIGINT NOT NULL DEFAULT 0,
			voice_deadline_ms    BIGINT NOT NULL DEFAULT 0,
			voice_last_end_ms    BIGINT NOT NULL DEFAULT 0,
			free_reset_at        TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS threads (
			internal_id      TEXT PRIMARY KEY,
			conversation_id  TEXT NOT NULL,
			anon_user        TEXT NOT NULL REFERENCES users(anon_user),
			title            TEXT NOT NULL DEFAULT '',
			message_count    INT NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_used_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS threads_anon_user_idx ON threads (anon_user);
	`)
	return err
}

func monthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// insertAccountIfAbsent is the idempotent lazy-create for first
// authenticated requests. ON CONFLICT DO NOTHING makes concurrent
// first-requests safe.
func insertAccountIfAbsent(ctx context.Context, anonUser string, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (anon_user, month_key)
		VALUES ($1, $2)
		ON CONFLICT (anon_user) DO NOTHING;
	`, anonUser, monthKey(now))
	return err
}

func getAccount(ctx context.Context, anonUser string) (models.Account, error) {
	var acct models.Account
	var stripeID sql.NullString
	var limitsRaw []byte
	var freeResetAt sql.NullTime

	err := db.QueryRowContext(ctx, `
		SELECT subscription_status, plan_code, stripe_customer_id, limits,
		       month_key, prompts_used, images_used, docs_used, threads_active,
		       voice_seconds_used, voice_in_progress,
		       voice_started_at_ms, voice_deadline_ms, voice_last_end_ms,
		       free_reset_at
		FROM users
		WHERE anon_user = $1;
	`, anonUser).Scan(
		&acct.SubscriptionSt,
		&acct.PlanCode,
		&stripeID,
		&limitsRaw,
		&acct.Usage.MonthKey,
		&acct.Usage.PromptsUsed,
		&acct.Usage.ImagesUsed,
		&acct.Usage.DocsUsed,
		&acct.Usage.ThreadsActive,
		&acct.Usage.VoiceSecondsUsed,
		&acct.Usage.VoiceInProgress,
		&acct.Usage.VoiceStartedAtMs,
		&acct.Usage.VoiceDeadlineMs,
		&acct.Usage.VoiceLastEndMs,
		&freeResetAt,
	)
	if err != nil {
		return models.Account{}, err
	}

	acct.AnonUser = anonUser
	if stripeID.Valid {
		acct.StripeCustomerID = stripeID.String
	}
	if len(limitsRaw) > 0 {
		if err := json.Unmarshal(limitsRaw, &acct.Limits); err != nil {
			return models.Account{}, fmt.Errorf("corrupt limits for user: %w", err)
		}
	}
	if freeResetAt.Valid {
		t := freeResetAt.Time
		acct.Usage.FreeResetAt = &t
	}
	return acct, nil
}

// reserveThreadSlot is the single race-safe reservation primitive: the
// increment lands only if the current count is still below cap. Zero
// rows affected means another request won the slot (or the cap is
// already full).
func reserveThreadSlot(ctx context.Context, anonUser string, cap int) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE users
		SET threads_active = threads_active + 1
		WHERE anon_user = $1 AND threads_active < $2;
	`, anonUser, cap)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// releaseThreadSlot is the compensating decrement, floored at zero.
// Failures are swallowed by the caller; a stranded slot self-heals at
// the next monthly rollover.
func releaseThreadSlot(ctx context.Context, anonUser string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users
		SET threads_active = GREATEST(threads_active - 1, 0)
		WHERE anon_user = $1;
	`, anonUser)
	return err
}

// resetFreeCounters applies a free-tier rolling reset and schedules
// the next one.
func resetFreeCounters(ctx context.Context, anonUser string, nextReset time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users
		SET prompts_used = 0, images_used = 0, docs_used = 0, free_reset_at = $2
		WHERE anon_user = $1;
	`, anonUser, nextReset)
	return err
}

// scheduleFreeReset stamps a reset time without touching counters.
// Used for legacy accounts seen for the first time without a schedule.
func scheduleFreeReset(ctx context.Context, anonUser string, resetAt time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users
		SET free_reset_at = $2
		WHERE anon_user = $1 AND free_reset_at IS NULL;
	`, anonUser, resetAt)
	return err
}

// rolloverMonth resets the month-scoped counters when the stored month
// key is stale. Guarding on the old key keeps concurrent rollovers
// idempotent.
func rolloverMonth(ctx context.Context, anonUser, oldKey, newKey string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users
		SET month_key = $3, voice_seconds_used = 0, threads_active = 0
		WHERE anon_user = $1 AND month_key = $2;
	`, anonUser, oldKey, newKey)
	return err
}

// markPromptUsed and markDocUsed commit usage after a fully successful
// turn. The increment happens inside the statement, so two
// simultaneous turns cannot lose an update.
func markPromptUsed(ctx context.Context, anonUser string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users SET prompts_used = prompts_used + 1 WHERE anon_user = $1;
	`, anonUser)
	return err
}

func markDocUsed(ctx context.Context, anonUser string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users SET docs_used = docs_used + 1 WHERE anon_user = $1;
	`, anonUser)
	return err
}

// decrementPromptsUsed compensates prompt usage when a thread is
// deleted, never dropping below zero.
func decrementPromptsUsed(ctx context.Context, anonUser string, by int) error {
	if by <= 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		UPDATE users
		SET prompts_used = GREATEST(prompts_used - $2, 0)
		WHERE anon_user = $1;
	`, anonUser, by)
	return err
}

// beginVoiceSession flips the in-progress flag only if no call is
// already running; zero rows affected means a concurrent call holds
// the session.
func beginVoiceSession(ctx context.Context, anonUser string, startedMs, deadlineMs int64) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE users
		SET voice_in_progress = TRUE, voice_started_at_ms = $2, voice_deadline_ms = $3
		WHERE anon_user = $1 AND voice_in_progress = FALSE;
	`, anonUser, startedMs, deadlineMs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// settleVoiceSession adds the billed seconds and clears the session
// fields. Guarded on voice_in_progress so a double-end settles once.
func settleVoiceSession(ctx context.Context, anonUser string, billedSec int, endMs int64) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE users
		SET voice_seconds_used = voice_seconds_used + $2,
		    voice_in_progress = FALSE,
		    voice_started_at_ms = 0,
		    voice_deadline_ms = 0,
		    voice_last_end_ms = $3
		WHERE anon_user = $1 AND voice_in_progress = TRUE;
	`, anonUser, billedSec, endMs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// stampVoiceCooldown starts a cooldown window without a settled call,
// used by the thread-deletion endpoint's optional cooldown flag.
func stampVoiceCooldown(ctx context.Context, anonUser string, endMs int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users SET voice_last_end_ms = $2 WHERE anon_user = $1;
	`, anonUser, endMs)
	return err
}

// insertThreadIfAbsent records a new conversation's metadata. The
// condition-guarded create keeps a concurrent duplicate from
// double-initializing the row.
func insertThreadIfAbsent(ctx context.Context, t models.Thread) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO threads (internal_id, conversation_id, anon_user, title, message_count, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		ON CONFLICT (internal_id) DO NOTHING;
	`, t.InternalID, t.ConversationID, t.AnonUser, t.Title, t.CreatedAt)
	return err
}

// touchThread bumps the turn counter and last-used stamp on every
// subsequent turn.
func touchThread(ctx context.Context, internalID string, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE threads
		SET message_count = message_count + 1, last_used_at = $2
		WHERE internal_id = $1;
	`, internalID, now)
	return err
}

func getThread(ctx context.Context, internalID, anonUser string) (models.Thread, error) {
	var t models.Thread
	err := db.QueryRowContext(ctx, `
		SELECT internal_id, conversation_id, anon_user, title, message_count, created_at, last_used_at
		FROM threads
		WHERE internal_id = $1 AND anon_user = $2;
	`, internalID, anonUser).Scan(
		&t.InternalID, &t.ConversationID, &t.AnonUser,
		&t.Title, &t.MessageCount, &t.CreatedAt, &t.LastUsedAt,
	)
	return t, err
}

// deleteThread removes the record and returns the message count the
// conversation had accumulated, for the prompt-usage rollback.
func deleteThread(ctx context.Context, internalID, anonUser string) (models.Thread, error) {
	var t models.Thread
	err := db.QueryRowContext(ctx, `
		DELETE FROM threads
		WHERE internal_id = $1 AND anon_user = $2
		RETURNING internal_id, conversation_id, anon_user, title, message_count, created_at, last_used_at;
	`, internalID, anonUser).Scan(
		&t.InternalID, &t.ConversationID, &t.AnonUser,
		&t.Title, &t.MessageCount, &t.CreatedAt, &t.LastUsedAt,
	)
	return t, err
}

func linkStripeCustomer(ctx context.Context, anonUser, customerID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users SET stripe_customer_id = $2 WHERE anon_user = $1;
	`, anonUser, customerID)
	return err
}

func updateSubscriptionByCustomer(ctx context.Context, customerID string, status models.SubscriptionStatus, planCode string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE users
		SET subscription_status = $2, plan_code = $3
		WHERE stripe_customer_id = $1;
	`, customerID, status, planCode)
	return err
}
