package persistence

import "time"

// SessionStatus tracks the lifecycle of a cohort session.
type SessionStatus string

const (
	SessionPlanned   SessionStatus = "planned"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// CohortSession binds one activity category to one calendar week.
type CohortSession struct {
	ID        string
	Category  string
	WeekStart time.Time
	Status    SessionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MeetingFormat describes how a meeting takes place.
type MeetingFormat string

const (
	FormatOnline  MeetingFormat = "ONLINE"
	FormatOffline MeetingFormat = "OFFLINE"
	FormatBoth    MeetingFormat = "BOTH"
)

// Participant is a read model of a cohort member owned by the membership system.
type Participant struct {
	ID              string
	Category        string
	Group           string
	ChatID          string
	DisplayName     string
	PreferredFormat MeetingFormat
	Avoid           []string
	Subscribed      bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MeetingStatus enumerates the meeting lifecycle states.
type MeetingStatus string

const (
	MeetingPlanned    MeetingStatus = "planned"
	MeetingScheduling MeetingStatus = "scheduling"
	MeetingConfirmed  MeetingStatus = "confirmed"
	MeetingCompleted  MeetingStatus = "completed"
	MeetingCancelled  MeetingStatus = "cancelled"
	MeetingFailed     MeetingStatus = "failed"
)

// Meeting is one anonymous pairing inside a cohort session.
type Meeting struct {
	ID                string
	SessionID         string
	ParticipantA      string
	ParticipantB      string
	CodeA             string
	CodeB             string
	RecognitionSign   string
	Status            MeetingStatus
	ScheduledAt       *time.Time
	Location          string
	Format            MeetingFormat
	EmergencyStopped  bool
	ModeratorNotified bool
	FeedbackCollected bool
	AverageRating     *float64
	FeedbackDeadline  *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Involves reports whether participantID is one of the two parties.
func (m Meeting) Involves(participantID string) bool {
	return participantID != "" && (m.ParticipantA == participantID || m.ParticipantB == participantID)
}

// PartnerOf returns the other party of the meeting.
func (m Meeting) PartnerOf(participantID string) string {
	switch participantID {
	case m.ParticipantA:
		return m.ParticipantB
	case m.ParticipantB:
		return m.ParticipantA
	}
	return ""
}

// CodeOf returns the pseudonym issued to participantID.
func (m Meeting) CodeOf(participantID string) string {
	switch participantID {
	case m.ParticipantA:
		return m.CodeA
	case m.ParticipantB:
		return m.CodeB
	}
	return ""
}

// ProposalStatus tracks a negotiation offer.
type ProposalStatus string

const (
	ProposalPending   ProposalStatus = "pending"
	ProposalAccepted  ProposalStatus = "accepted"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalCountered ProposalStatus = "countered"
)

// Proposal is one negotiation offer. ParentID links a counter to the offer it supersedes.
type Proposal struct {
	ID          string
	MeetingID   string
	ProposerID  string
	ScheduledAt time.Time
	Location    string
	Format      MeetingFormat
	Status      ProposalStatus
	ParentID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Message is one relayed text item.
type Message struct {
	ID        string
	MeetingID string
	SenderID  string
	Text      string
	Forwarded bool
	CreatedAt time.Time
}

// Feedback is a single participant's rating of a meeting.
type Feedback struct {
	MeetingID     string
	ParticipantID string
	Rating        int
	Comment       string
	Suggestions   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// JobRunStatus tracks an idempotency marker.
type JobRunStatus string

const (
	JobRunClaimed   JobRunStatus = "claimed"
	JobRunCompleted JobRunStatus = "completed"
)

// JobRun marks a side effect performed by a scheduled job for one target.
type JobRun struct {
	Key         string
	Job         string
	Status      JobRunStatus
	ClaimedAt   time.Time
	CompletedAt *time.Time
}
