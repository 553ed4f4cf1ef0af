package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

// ClaimJobRun inserts the marker for key; the primary key decides the winner.
func (s *Store) ClaimJobRun(ctx context.Context, key, job string, at time.Time) (bool, error) {
	if key == "" {
		return false, persistence.ErrConstraintViolation
	}
	affected, err := s.exec(ctx,
		`INSERT INTO job_runs (key, job, status, claimed_at) VALUES (?, ?, ?, ?) ON CONFLICT (key) DO NOTHING`,
		key, job, string(persistence.JobRunClaimed), formatTime(at))
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// CompleteJobRun marks the side effect behind key as done.
func (s *Store) CompleteJobRun(ctx context.Context, key string, at time.Time) error {
	affected, err := s.exec(ctx,
		`UPDATE job_runs SET status = ?, completed_at = ? WHERE key = ?`,
		string(persistence.JobRunCompleted), formatTime(at), key)
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ReleaseJobRun drops a claimed, uncompleted marker so a later tick can retry.
func (s *Store) ReleaseJobRun(ctx context.Context, key string) error {
	affected, err := s.exec(ctx, `DELETE FROM job_runs WHERE key = ? AND status = ?`, key, string(persistence.JobRunClaimed))
	if err != nil {
		return err
	}
	if affected == 0 {
		found, err := exists(ctx, s.pool.DB(), `SELECT 1 FROM job_runs WHERE key = ?`, key)
		if err != nil {
			return s.mapper.MapError(err)
		}
		if found {
			return persistence.ErrConflict
		}
	}
	return nil
}

// GetJobRun retrieves the marker for key.
func (s *Store) GetJobRun(ctx context.Context, key string) (persistence.JobRun, error) {
	var (
		run         persistence.JobRun
		status      string
		claimedAt   string
		completedAt sql.NullString
	)
	err := s.pool.DB().QueryRowContext(ctx,
		`SELECT key, job, status, claimed_at, completed_at FROM job_runs WHERE key = ?`, key,
	).Scan(&run.Key, &run.Job, &status, &claimedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.JobRun{}, persistence.ErrNotFound
		}
		return persistence.JobRun{}, fmt.Errorf("scan job run: %w", err)
	}
	run.Status = persistence.JobRunStatus(status)
	if run.ClaimedAt, err = parseTime(claimedAt); err != nil {
		return persistence.JobRun{}, err
	}
	if run.CompletedAt, err = parseOptionalTime(completedAt); err != nil {
		return persistence.JobRun{}, err
	}
	return run, nil
}
