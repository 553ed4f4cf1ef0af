package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

const meetingColumns = `id, session_id, participant_a, participant_b, code_a, code_b, recognition_sign, status,
	scheduled_at, location, format, emergency_stopped, moderator_notified, feedback_collected,
	average_rating, feedback_deadline, created_at, updated_at`

// CreateMeeting inserts the meeting and reserves both participants and their
// codes for the session in one transaction.
func (s *Store) CreateMeeting(ctx context.Context, m persistence.Meeting) error {
	if m.ID == "" || m.SessionID == "" || m.ParticipantA == "" || m.ParticipantB == "" {
		return persistence.ErrConstraintViolation
	}
	if m.ParticipantA == m.ParticipantB || m.CodeA == "" || m.CodeB == "" || m.CodeA == m.CodeB {
		return persistence.ErrConstraintViolation
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		paired, err := exists(ctx, tx,
			`SELECT 1 FROM meeting_participants WHERE session_id = ? AND participant_id IN (?, ?)`,
			m.SessionID, m.ParticipantA, m.ParticipantB)
		if err != nil {
			return err
		}
		if paired {
			return persistence.ErrAlreadyPaired
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meetings (`+meetingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.SessionID, m.ParticipantA, m.ParticipantB, m.CodeA, m.CodeB, m.RecognitionSign, string(m.Status),
			formatOptionalTime(m.ScheduledAt), m.Location, string(m.Format),
			boolToInt(m.EmergencyStopped), boolToInt(m.ModeratorNotified), boolToInt(m.FeedbackCollected),
			m.AverageRating, formatOptionalTime(m.FeedbackDeadline),
			formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
		); err != nil {
			return s.mapper.MapError(err)
		}

		for _, reservation := range [][2]string{{m.ParticipantA, m.CodeA}, {m.ParticipantB, m.CodeB}} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO meeting_participants (session_id, participant_id, meeting_id, code) VALUES (?, ?, ?, ?)`,
				m.SessionID, reservation[0], m.ID, reservation[1],
			); err != nil {
				return s.mapper.MapError(err)
			}
		}
		return nil
	})
}

// GetMeeting retrieves a meeting by ID.
func (s *Store) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	row := s.pool.DB().QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	return scanMeeting(row)
}

// ListMeetings returns meetings matching filter ordered by creation time.
func (s *Store) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.ParticipantID != "" {
		clauses = append(clauses, "(participant_a = ? OR participant_b = ?)")
		args = append(args, filter.ParticipantID, filter.ParticipantID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if filter.CreatedBefore != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, formatTime(*filter.CreatedBefore))
	}
	if filter.UpdatedBefore != nil {
		clauses = append(clauses, "updated_at < ?")
		args = append(args, formatTime(*filter.UpdatedBefore))
	}
	if filter.ScheduledAfter != nil {
		clauses = append(clauses, "scheduled_at IS NOT NULL AND scheduled_at > ?")
		args = append(args, formatTime(*filter.ScheduledAfter))
	}
	if filter.ScheduledBefore != nil {
		clauses = append(clauses, "scheduled_at IS NOT NULL AND scheduled_at <= ?")
		args = append(args, formatTime(*filter.ScheduledBefore))
	}
	if filter.FeedbackArmed != nil {
		if *filter.FeedbackArmed {
			clauses = append(clauses, "feedback_deadline IS NOT NULL")
		} else {
			clauses = append(clauses, "feedback_deadline IS NULL")
		}
	}
	if filter.FeedbackCollected != nil {
		clauses = append(clauses, "feedback_collected = ?")
		args = append(args, boolToInt(*filter.FeedbackCollected))
	}

	query := `SELECT ` + meetingColumns + ` FROM meetings`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var meetings []persistence.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// PairedParticipantIDs lists participants already reserved in the session.
func (s *Store) PairedParticipantIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.pool.DB().QueryContext(ctx,
		`SELECT participant_id FROM meeting_participants WHERE session_id = ? ORDER BY participant_id`, sessionID)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan paired participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TransitionMeeting changes only the status column, guarded by from.
func (s *Store) TransitionMeeting(ctx context.Context, id string, from []persistence.MeetingStatus, to persistence.MeetingStatus, at time.Time) error {
	return s.guardedMeetingUpdate(ctx, id, from, `status = ?, updated_at = ?`, string(to), formatTime(at))
}

// EmergencyStopMeeting cancels the meeting and raises the emergency flag.
func (s *Store) EmergencyStopMeeting(ctx context.Context, id string, from []persistence.MeetingStatus, at time.Time) error {
	return s.guardedMeetingUpdate(ctx, id, from,
		`status = ?, emergency_stopped = 1, updated_at = ?`, string(persistence.MeetingCancelled), formatTime(at))
}

func (s *Store) guardedMeetingUpdate(ctx context.Context, id string, from []persistence.MeetingStatus, set string, setArgs ...any) error {
	if len(from) == 0 {
		return persistence.ErrConstraintViolation
	}
	args := append(setArgs, id)
	for _, status := range from {
		args = append(args, string(status))
	}
	affected, err := s.exec(ctx,
		`UPDATE meetings SET `+set+` WHERE id = ? AND status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM meetings WHERE id = ?`, id)
	}
	return nil
}

// MarkModeratorNotified sets the moderator_notified flag.
func (s *Store) MarkModeratorNotified(ctx context.Context, id string, at time.Time) error {
	affected, err := s.exec(ctx, `UPDATE meetings SET moderator_notified = 1, updated_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ArmFeedback sets the deadline for a completed meeting that has none.
func (s *Store) ArmFeedback(ctx context.Context, id string, deadline, at time.Time) error {
	affected, err := s.exec(ctx,
		`UPDATE meetings SET feedback_deadline = ?, updated_at = ? WHERE id = ? AND status = ? AND feedback_deadline IS NULL`,
		formatTime(deadline), formatTime(at), id, string(persistence.MeetingCompleted))
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, `SELECT 1 FROM meetings WHERE id = ?`, id)
	}
	return nil
}

// SetAverageRating stores the aggregate and marks feedback collected.
func (s *Store) SetAverageRating(ctx context.Context, id string, average float64, at time.Time) error {
	affected, err := s.exec(ctx,
		`UPDATE meetings SET average_rating = ?, feedback_collected = 1, updated_at = ? WHERE id = ?`,
		average, formatTime(at), id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func scanMeeting(row rowScanner) (persistence.Meeting, error) {
	var (
		m                 persistence.Meeting
		status            string
		format            string
		scheduledAt       sql.NullString
		emergencyStopped  int
		moderatorNotified int
		feedbackCollected int
		averageRating     sql.NullFloat64
		feedbackDeadline  sql.NullString
		createdAt         string
		updatedAt         string
	)
	err := row.Scan(&m.ID, &m.SessionID, &m.ParticipantA, &m.ParticipantB, &m.CodeA, &m.CodeB, &m.RecognitionSign, &status,
		&scheduledAt, &m.Location, &format, &emergencyStopped, &moderatorNotified, &feedbackCollected,
		&averageRating, &feedbackDeadline, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Meeting{}, persistence.ErrNotFound
		}
		return persistence.Meeting{}, fmt.Errorf("scan meeting: %w", err)
	}

	m.Status = persistence.MeetingStatus(status)
	m.Format = persistence.MeetingFormat(format)
	m.EmergencyStopped = emergencyStopped == 1
	m.ModeratorNotified = moderatorNotified == 1
	m.FeedbackCollected = feedbackCollected == 1
	if averageRating.Valid {
		v := averageRating.Float64
		m.AverageRating = &v
	}
	if m.ScheduledAt, err = parseOptionalTime(scheduledAt); err != nil {
		return persistence.Meeting{}, err
	}
	if m.FeedbackDeadline, err = parseOptionalTime(feedbackDeadline); err != nil {
		return persistence.Meeting{}, err
	}
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Meeting{}, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Meeting{}, err
	}
	return m, nil
}
