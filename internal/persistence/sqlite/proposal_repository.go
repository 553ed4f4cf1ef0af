package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

const proposalColumns = `id, meeting_id, proposer_id, scheduled_at, location, format, status, parent_id, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insertProposal writes p only while the proposer holds fewer than limit
// proposals for the meeting. The count and the insert are one statement.
func insertProposal(ctx context.Context, db execer, p persistence.Proposal, limit int) (int64, error) {
	if limit <= 0 {
		limit = int(^uint(0) >> 1)
	}
	result, err := db.ExecContext(ctx, `
		INSERT INTO proposals (`+proposalColumns+`)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		WHERE (SELECT COUNT(*) FROM proposals WHERE meeting_id = ? AND proposer_id = ?) < ?`,
		p.ID, p.MeetingID, p.ProposerID, formatTime(p.ScheduledAt), p.Location, string(p.Format),
		string(p.Status), p.ParentID, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
		p.MeetingID, p.ProposerID, limit,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func validProposal(p persistence.Proposal) bool {
	return p.ID != "" && p.MeetingID != "" && p.ProposerID != "" && !p.ScheduledAt.IsZero()
}

// CreateProposal inserts a proposal subject to the per-proposer limit.
func (s *Store) CreateProposal(ctx context.Context, p persistence.Proposal, limit int) error {
	if !validProposal(p) {
		return persistence.ErrConstraintViolation
	}
	var affected int64
	err := s.retry.WithRetry(ctx, func() error {
		var err error
		affected, err = insertProposal(ctx, s.pool.DB(), p, limit)
		return err
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrLimitReached
	}
	return nil
}

// GetProposal retrieves a proposal by ID.
func (s *Store) GetProposal(ctx context.Context, id string) (persistence.Proposal, error) {
	row := s.pool.DB().QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
	return scanProposal(row)
}

// ListProposals returns the negotiation history of a meeting.
func (s *Store) ListProposals(ctx context.Context, meetingID string) ([]persistence.Proposal, error) {
	rows, err := s.pool.DB().QueryContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE meeting_id = ? ORDER BY created_at, id`, meetingID)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var proposals []persistence.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// CountProposals returns how many proposals proposerID made for the meeting.
func (s *Store) CountProposals(ctx context.Context, meetingID, proposerID string) (int, error) {
	var count int
	err := s.pool.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proposals WHERE meeting_id = ? AND proposer_id = ?`, meetingID, proposerID,
	).Scan(&count)
	if err != nil {
		return 0, s.mapper.MapError(err)
	}
	return count, nil
}

// ResolveProposal moves a pending proposal to status.
func (s *Store) ResolveProposal(ctx context.Context, id string, status persistence.ProposalStatus, at time.Time) error {
	affected, err := s.exec(ctx,
		`UPDATE proposals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), formatTime(at), id, string(persistence.ProposalPending))
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM proposals WHERE id = ?`, id)
	}
	return nil
}

// AcceptProposal accepts a pending proposal and confirms its meeting atomically.
func (s *Store) AcceptProposal(ctx context.Context, id string, at time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		p, err := scanProposal(tx.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if p.Status != persistence.ProposalPending {
			return persistence.ErrConflict
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE meetings SET status = ?, scheduled_at = ?, location = ?, format = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			string(persistence.MeetingConfirmed), formatTime(p.ScheduledAt), p.Location, string(p.Format), formatTime(at),
			p.MeetingID, string(persistence.MeetingScheduling))
		if err != nil {
			return s.mapper.MapError(err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return persistence.ErrConflict
		}

		result, err = tx.ExecContext(ctx,
			`UPDATE proposals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(persistence.ProposalAccepted), formatTime(at), id, string(persistence.ProposalPending))
		if err != nil {
			return s.mapper.MapError(err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return persistence.ErrConflict
		}
		return nil
	})
}

// CounterProposal supersedes a pending proposal with counter.
func (s *Store) CounterProposal(ctx context.Context, id string, counter persistence.Proposal, limit int) error {
	counter.ParentID = id
	if !validProposal(counter) {
		return persistence.ErrConstraintViolation
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE proposals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(persistence.ProposalCountered), formatTime(counter.CreatedAt), id, string(persistence.ProposalPending))
		if err != nil {
			return s.mapper.MapError(err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			found, err := exists(ctx, tx, `SELECT 1 FROM proposals WHERE id = ?`, id)
			if err != nil {
				return err
			}
			if !found {
				return persistence.ErrNotFound
			}
			return persistence.ErrConflict
		}

		affected, err := insertProposal(ctx, tx, counter, limit)
		if err != nil {
			return s.mapper.MapError(err)
		}
		if affected == 0 {
			return persistence.ErrLimitReached
		}
		return nil
	})
}

func scanProposal(row rowScanner) (persistence.Proposal, error) {
	var (
		p           persistence.Proposal
		scheduledAt string
		format      string
		status      string
		createdAt   string
		updatedAt   string
	)
	err := row.Scan(&p.ID, &p.MeetingID, &p.ProposerID, &scheduledAt, &p.Location, &format, &status, &p.ParentID, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Proposal{}, persistence.ErrNotFound
		}
		return persistence.Proposal{}, fmt.Errorf("scan proposal: %w", err)
	}
	p.Format = persistence.MeetingFormat(format)
	p.Status = persistence.ProposalStatus(status)
	if p.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return persistence.Proposal{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Proposal{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Proposal{}, err
	}
	return p, nil
}
