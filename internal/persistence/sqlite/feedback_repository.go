package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/secret-coffee/internal/persistence"
)

const feedbackColumns = `meeting_id, participant_id, rating, comment, suggestions, created_at, updated_at`

// UpsertFeedback inserts or overwrites the feedback of one participant.
func (s *Store) UpsertFeedback(ctx context.Context, f persistence.Feedback) error {
	if f.MeetingID == "" || f.ParticipantID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := s.exec(ctx, `
		INSERT INTO feedback (`+feedbackColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (meeting_id, participant_id) DO UPDATE SET
			rating = excluded.rating,
			comment = excluded.comment,
			suggestions = excluded.suggestions,
			updated_at = excluded.updated_at`,
		f.MeetingID, f.ParticipantID, f.Rating, f.Comment, f.Suggestions, formatTime(f.CreatedAt), formatTime(f.UpdatedAt))
	return err
}

// GetFeedback retrieves one participant's feedback.
func (s *Store) GetFeedback(ctx context.Context, meetingID, participantID string) (persistence.Feedback, error) {
	row := s.pool.DB().QueryRowContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE meeting_id = ? AND participant_id = ?`, meetingID, participantID)
	return scanFeedback(row)
}

// ListFeedback returns all feedback of a meeting.
func (s *Store) ListFeedback(ctx context.Context, meetingID string) ([]persistence.Feedback, error) {
	rows, err := s.pool.DB().QueryContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback WHERE meeting_id = ? ORDER BY participant_id`, meetingID)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var out []persistence.Feedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFeedback(row rowScanner) (persistence.Feedback, error) {
	var (
		f         persistence.Feedback
		createdAt string
		updatedAt string
	)
	err := row.Scan(&f.MeetingID, &f.ParticipantID, &f.Rating, &f.Comment, &f.Suggestions, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Feedback{}, persistence.ErrNotFound
		}
		return persistence.Feedback{}, fmt.Errorf("scan feedback: %w", err)
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Feedback{}, err
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Feedback{}, err
	}
	return f, nil
}
