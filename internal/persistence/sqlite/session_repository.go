package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

const sessionColumns = `id, category, week_start, status, created_at, updated_at`

// CreateSession inserts a cohort session. (category, week_start) is unique.
func (s *Store) CreateSession(ctx context.Context, session persistence.CohortSession) error {
	if session.ID == "" || session.Category == "" || session.WeekStart.IsZero() {
		return persistence.ErrConstraintViolation
	}
	_, err := s.exec(ctx,
		`INSERT INTO cohort_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.Category,
		formatDate(session.WeekStart),
		string(session.Status),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	return err
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (persistence.CohortSession, error) {
	row := s.pool.DB().QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM cohort_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// FindSession retrieves the session of category for the week starting at weekStart.
func (s *Store) FindSession(ctx context.Context, category string, weekStart time.Time) (persistence.CohortSession, error) {
	row := s.pool.DB().QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM cohort_sessions WHERE category = ? AND week_start = ?`,
		category, formatDate(weekStart))
	return scanSession(row)
}

// ListSessions returns sessions ordered by week start.
func (s *Store) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.CohortSession, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, filter.Category)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if filter.WeekStartBefore != nil {
		clauses = append(clauses, "week_start < ?")
		args = append(args, formatDate(*filter.WeekStartBefore))
	}

	query := `SELECT ` + sessionColumns + ` FROM cohort_sessions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY week_start, id"

	rows, err := s.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var sessions []persistence.CohortSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus moves a session to status when it is currently in one of from.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, from []persistence.SessionStatus, to persistence.SessionStatus, at time.Time) error {
	if len(from) == 0 {
		return persistence.ErrConstraintViolation
	}
	args := []any{string(to), formatTime(at), id}
	for _, status := range from {
		args = append(args, string(status))
	}
	affected, err := s.exec(ctx,
		`UPDATE cohort_sessions SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders(len(from))+`)`,
		args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM cohort_sessions WHERE id = ?`, id)
	}
	return nil
}

// missingOrConflict distinguishes a missing row from a failed status guard.
func (s *Store) missingOrConflict(ctx context.Context, query, id string) error {
	found, err := exists(ctx, s.pool.DB(), query, id)
	if err != nil {
		return s.mapper.MapError(err)
	}
	if !found {
		return persistence.ErrNotFound
	}
	return persistence.ErrConflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (persistence.CohortSession, error) {
	var (
		session   persistence.CohortSession
		weekStart string
		status    string
		createdAt string
		updatedAt string
	)
	if err := row.Scan(&session.ID, &session.Category, &weekStart, &status, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return persistence.CohortSession{}, persistence.ErrNotFound
		}
		return persistence.CohortSession{}, fmt.Errorf("scan session: %w", err)
	}
	var err error
	if session.WeekStart, err = parseDate(weekStart); err != nil {
		return persistence.CohortSession{}, err
	}
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.CohortSession{}, err
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.CohortSession{}, err
	}
	session.Status = persistence.SessionStatus(status)
	return session, nil
}
