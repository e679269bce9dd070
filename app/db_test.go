package app

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// useMockDB swaps the package db for a sqlmock connection for the
// duration of one test.
func useMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error = %v", err)
	}
	old := db
	db = mockDB
	t.Cleanup(func() {
		db = old
		mockDB.Close()
	})
	return mock
}

var accountColumns = []string{
	"subscription_status", "plan_code", "stripe_customer_id", "limits",
	"month_key", "prompts_used", "images_used", "docs_used", "threads_active",
	"voice_seconds_used", "voice_in_progress",
	"voice_started_at_ms", "voice_deadline_ms", "voice_last_end_ms",
	"free_reset_at",
}

// accountRow is the adjustable source for mocked SELECTs of one user.
type accountRow struct {
	status        string
	planCode      string
	limitsJSON    []byte
	monthKey      string
	promptsUsed   int
	imagesUsed    int
	docsUsed      int
	threadsActive int
	voiceSecUsed  int
	voiceInProg   bool
	voiceStartMs  int64
	voiceDeadMs   int64
	voiceLastEnd  int64
	freeResetAt   *time.Time
}

func (r accountRow) rows() *sqlmock.Rows {
	status := r.status
	if status == "" {
		status = "none"
	}
	mk := r.monthKey
	if mk == "" {
		mk = monthKey(time.Now())
	}
	var reset any
	if r.freeResetAt != nil {
		reset = *r.freeResetAt
	}
	return sqlmock.NewRows(accountColumns).AddRow(
		status, r.planCode, nil, r.limitsJSON,
		mk, r.promptsUsed, r.imagesUsed, r.docsUsed, r.threadsActive,
		r.voiceSecUsed, r.voiceInProg,
		r.voiceStartMs, r.voiceDeadMs, r.voiceLastEnd,
		reset,
	)
}

func expectAccountSelect(mock sqlmock.Sqlmock, row accountRow) {
	mock.ExpectQuery("SELECT subscription_status, plan_code").
		WillReturnRows(row.rows())
}

func expectAccountMissing(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT subscription_status, plan_code").
		WillReturnError(sql.ErrNoRows)
}

func timePtr(t time.Time) *time.Time { return &t }

func floatPtr(f float64) *float64 { return &f }
