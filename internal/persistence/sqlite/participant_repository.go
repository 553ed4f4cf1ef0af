package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/secret-coffee/internal/persistence"
)

const participantColumns = `id, category, group_name, chat_id, display_name, preferred_format, avoid, subscribed, created_at, updated_at`

// UpsertParticipant mirrors a member from the membership system.
func (s *Store) UpsertParticipant(ctx context.Context, p persistence.Participant) error {
	if p.ID == "" || p.Category == "" {
		return persistence.ErrConstraintViolation
	}
	format := p.PreferredFormat
	if format == "" {
		format = persistence.FormatBoth
	}
	_, err := s.exec(ctx, `
		INSERT INTO participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			category = excluded.category,
			group_name = excluded.group_name,
			chat_id = excluded.chat_id,
			display_name = excluded.display_name,
			preferred_format = excluded.preferred_format,
			avoid = excluded.avoid,
			subscribed = excluded.subscribed,
			updated_at = excluded.updated_at`,
		p.ID,
		p.Category,
		p.Group,
		p.ChatID,
		p.DisplayName,
		string(format),
		strings.Join(p.Avoid, ","),
		boolToInt(p.Subscribed),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	return err
}

// GetParticipant retrieves a participant by ID.
func (s *Store) GetParticipant(ctx context.Context, id string) (persistence.Participant, error) {
	row := s.pool.DB().QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	return scanParticipant(row)
}

// ListSubscribed returns subscribed participants of category ordered by ID.
func (s *Store) ListSubscribed(ctx context.Context, category string) ([]persistence.Participant, error) {
	rows, err := s.pool.DB().QueryContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE category = ? AND subscribed = 1 ORDER BY id`,
		category)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var participants []persistence.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

func scanParticipant(row rowScanner) (persistence.Participant, error) {
	var (
		p          persistence.Participant
		format     string
		avoid      string
		subscribed int
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&p.ID, &p.Category, &p.Group, &p.ChatID, &p.DisplayName, &format, &avoid, &subscribed, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return persistence.Participant{}, persistence.ErrNotFound
		}
		return persistence.Participant{}, fmt.Errorf("scan participant: %w", err)
	}
	p.PreferredFormat = persistence.MeetingFormat(format)
	p.Subscribed = subscribed == 1
	if avoid != "" {
		p.Avoid = strings.Split(avoid, ",")
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Participant{}, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Participant{}, err
	}
	return p, nil
}
