package sqlite

import (
	"context"
	"fmt"

	"github.com/example/secret-coffee/internal/persistence"
)

// CreateMessage stores a relayed message.
func (s *Store) CreateMessage(ctx context.Context, m persistence.Message) error {
	if m.ID == "" || m.MeetingID == "" || m.SenderID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := s.exec(ctx,
		`INSERT INTO messages (id, meeting_id, sender_id, text, forwarded, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.MeetingID, m.SenderID, m.Text, boolToInt(m.Forwarded), formatTime(m.CreatedAt))
	return err
}

// MarkForwarded flips the forwarded flag after a successful delivery.
func (s *Store) MarkForwarded(ctx context.Context, id string) error {
	affected, err := s.exec(ctx, `UPDATE messages SET forwarded = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// ListMessages returns a meeting's messages in submission order.
func (s *Store) ListMessages(ctx context.Context, meetingID string) ([]persistence.Message, error) {
	rows, err := s.pool.DB().QueryContext(ctx,
		`SELECT id, meeting_id, sender_id, text, forwarded, created_at FROM messages WHERE meeting_id = ? ORDER BY created_at, id`,
		meetingID)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var messages []persistence.Message
	for rows.Next() {
		var (
			m         persistence.Message
			forwarded int
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.MeetingID, &m.SenderID, &m.Text, &forwarded, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Forwarded = forwarded == 1
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
