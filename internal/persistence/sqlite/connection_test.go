package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

func TestErrorMapper(t *testing.T) {
	t.Parallel()

	mapper := NewErrorMapper()
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: sql.ErrNoRows, want: persistence.ErrNotFound},
		{name: "second pairing in session", err: errors.New("constraint failed: UNIQUE constraint failed: meeting_participants.session_id, meeting_participants.participant_id (2067)"), want: persistence.ErrAlreadyPaired},
		{name: "code reused in session", err: errors.New("constraint failed: UNIQUE constraint failed: meeting_participants.session_id, meeting_participants.code (2067)"), want: persistence.ErrDuplicate},
		{name: "unique", err: errors.New("constraint failed: UNIQUE constraint failed: meetings.id (1555)"), want: persistence.ErrDuplicate},
		{name: "foreign key", err: errors.New("constraint failed: FOREIGN KEY constraint failed (787)"), want: persistence.ErrConstraintViolation},
		{name: "check", err: errors.New("constraint failed: CHECK constraint failed: rating (275)"), want: persistence.ErrConstraintViolation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := mapper.MapError(tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	other := errors.New("disk I/O error")
	if got := mapper.MapError(other); got != other {
		t.Fatalf("expected unknown errors to pass through, got %v", got)
	}
	if mapper.MapError(nil) != nil {
		t.Fatal("expected nil to stay nil")
	}
}

func TestRetryHelperRetriesLockedDatabase(t *testing.T) {
	t.Parallel()

	helper := NewRetryHelper(RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2})

	calls := 0
	err := helper.WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got %v after %d calls", err, calls)
	}

	calls = 0
	err = helper.WithRetry(context.Background(), func() error {
		calls++
		return errors.New("constraint failed: UNIQUE constraint failed: cohort_sessions.category (2067)")
	})
	if calls != 1 || !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected one mapped attempt, got %v after %d calls", err, calls)
	}

	calls = 0
	err = helper.WithRetry(context.Background(), func() error {
		calls++
		return errors.New("database is locked")
	})
	if calls != 4 || err == nil {
		t.Fatalf("expected retries to be exhausted after 4 calls, got %v after %d calls", err, calls)
	}
}

func TestRetryHelperStopsOnCancel(t *testing.T) {
	t.Parallel()

	helper := NewRetryHelper(RetryConfig{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := helper.WithRetry(ctx, func() error {
		calls++
		cancel()
		return errors.New("database is locked")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Fatalf("expected cancellation after one call, got %v after %d calls", err, calls)
	}
}

func TestTimeEncodingSortsAsText(t *testing.T) {
	t.Parallel()

	moscow := time.FixedZone("MSK", 3*60*60)
	earlier := time.Date(2024, 1, 8, 10, 0, 0, 5, moscow)
	later := earlier.Add(time.Nanosecond * 995)

	a, b := formatTime(earlier), formatTime(later)
	if !(a < b) {
		t.Fatalf("expected %q < %q", a, b)
	}
	parsed, err := parseTime(a)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(earlier) {
		t.Fatalf("expected %v, got %v", earlier, parsed)
	}

	if got, err := parseOptionalTime(sql.NullString{}); err != nil || got != nil {
		t.Fatalf("expected nil for NULL, got %v %v", got, err)
	}
	if placeholders(3) != "?, ?, ?" || placeholders(0) != "" {
		t.Fatalf("unexpected placeholders %q", placeholders(3))
	}
}

func TestMigrateIsIdempotentAndDataSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "secretcoffee.db")

	store, err := Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	weekStart := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	session := persistence.CohortSession{
		ID:        "session-1",
		Category:  "secret_coffee",
		WeekStart: weekStart,
		Status:    persistence.SessionPlanned,
		CreatedAt: weekStart,
		UpdatedAt: weekStart,
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Migrate(ctx); err != nil {
		t.Fatalf("migrate after reopen: %v", err)
	}
	got, err := reopened.FindSession(ctx, "secret_coffee", weekStart)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if got.ID != "session-1" || got.Status != persistence.SessionPlanned {
		t.Fatalf("unexpected session after reopen: %+v", got)
	}
}
