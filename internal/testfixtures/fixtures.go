package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

var (
	participantCounter uint64
	sessionCounter     uint64
	meetingCounter     uint64
)

// Moscow is the deployment zone used by the fixtures. It falls back to a
// fixed UTC+3 zone when the tz database is unavailable.
var Moscow = loadMoscow()

func loadMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// ReferenceTime is Monday 8 January 2024, 10:00 Moscow time: the start of a
// matching run.
func ReferenceTime() time.Time {
	return time.Date(2024, time.January, 8, 10, 0, 0, 0, Moscow)
}

// WeekStart is Monday 00:00 of the week containing ReferenceTime.
func WeekStart() time.Time {
	return time.Date(2024, time.January, 8, 0, 0, 0, 0, Moscow)
}

// ParticipantOption configures a participant fixture.
type ParticipantOption func(*persistence.Participant)

// WithGroup sets the participant's department.
func WithGroup(group string) ParticipantOption {
	return func(p *persistence.Participant) { p.Group = group }
}

// WithFormat sets the preferred meeting format.
func WithFormat(format persistence.MeetingFormat) ParticipantOption {
	return func(p *persistence.Participant) { p.PreferredFormat = format }
}

// WithDisplayName sets the participant's real name.
func WithDisplayName(name string) ParticipantOption {
	return func(p *persistence.Participant) { p.DisplayName = name }
}

// WithAvoid sets participants this one should not be paired with.
func WithAvoid(ids ...string) ParticipantOption {
	return func(p *persistence.Participant) { p.Avoid = ids }
}

// Unsubscribed marks the participant as opted out.
func Unsubscribed() ParticipantOption {
	return func(p *persistence.Participant) { p.Subscribed = false }
}

// NewParticipant returns a subscribed secret_coffee participant with id.
func NewParticipant(id string, opts ...ParticipantOption) persistence.Participant {
	idx := atomic.AddUint64(&participantCounter, 1)
	p := persistence.Participant{
		ID:              id,
		Category:        "secret_coffee",
		Group:           "engineering",
		ChatID:          fmt.Sprintf("%d", 100000+idx),
		DisplayName:     "Participant " + id,
		PreferredFormat: persistence.FormatBoth,
		Subscribed:      true,
		CreatedAt:       ReferenceTime().Add(-30 * 24 * time.Hour),
	}
	p.UpdatedAt = p.CreatedAt
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// NewSession returns a planned session for the reference week.
func NewSession(opts ...func(*persistence.CohortSession)) persistence.CohortSession {
	idx := atomic.AddUint64(&sessionCounter, 1)
	s := persistence.CohortSession{
		ID:        fmt.Sprintf("session-%03d", idx),
		Category:  "secret_coffee",
		WeekStart: WeekStart(),
		Status:    persistence.SessionPlanned,
		CreatedAt: WeekStart().Add(9 * time.Hour),
	}
	s.UpdatedAt = s.CreatedAt
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// MeetingOption configures a meeting fixture.
type MeetingOption func(*persistence.Meeting)

// WithStatus sets the meeting status.
func WithStatus(status persistence.MeetingStatus) MeetingOption {
	return func(m *persistence.Meeting) { m.Status = status }
}

// CreatedAt sets the meeting creation time.
func CreatedAt(t time.Time) MeetingOption {
	return func(m *persistence.Meeting) {
		m.CreatedAt = t
		m.UpdatedAt = t
	}
}

// ScheduledAt sets the agreed meeting time.
func ScheduledAt(t time.Time) MeetingOption {
	return func(m *persistence.Meeting) { m.ScheduledAt = &t }
}

// FeedbackDeadline arms the meeting's feedback window.
func FeedbackDeadline(t time.Time) MeetingOption {
	return func(m *persistence.Meeting) { m.FeedbackDeadline = &t }
}

// NewMeeting returns a scheduling meeting between a and b in sessionID.
func NewMeeting(sessionID, a, b string, opts ...MeetingOption) persistence.Meeting {
	idx := atomic.AddUint64(&meetingCounter, 1)
	m := persistence.Meeting{
		ID:              fmt.Sprintf("SC_FIX%05d", idx),
		SessionID:       sessionID,
		ParticipantA:    a,
		ParticipantB:    b,
		CodeA:           fmt.Sprintf("BRAVE_OWL_%05d", idx),
		CodeB:           fmt.Sprintf("CALM_ELK_%05d", idx),
		RecognitionSign: "blue scarf",
		Status:          persistence.MeetingScheduling,
		Format:          persistence.FormatOnline,
		CreatedAt:       ReferenceTime(),
	}
	m.UpdatedAt = m.CreatedAt
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Seed stores participants, a session and meetings, failing the test on error.
func Seed(tb testing.TB, store persistence.Store, session persistence.CohortSession, participants []persistence.Participant, meetings ...persistence.Meeting) {
	tb.Helper()
	ctx := context.Background()
	for _, p := range participants {
		if err := store.UpsertParticipant(ctx, p); err != nil {
			tb.Fatalf("seed participant %s: %v", p.ID, err)
		}
	}
	if session.ID != "" {
		if err := store.CreateSession(ctx, session); err != nil {
			tb.Fatalf("seed session %s: %v", session.ID, err)
		}
	}
	for _, m := range meetings {
		if err := store.CreateMeeting(ctx, m); err != nil {
			tb.Fatalf("seed meeting %s: %v", m.ID, err)
		}
	}
}
