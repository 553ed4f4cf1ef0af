package persistence

import (
	"context"
	"time"
)

// SessionFilter narrows cohort session queries.
type SessionFilter struct {
	Category        string
	Statuses        []SessionStatus
	WeekStartBefore *time.Time
}

// SessionRepository stores cohort sessions. (Category, WeekStart) is unique.
type SessionRepository interface {
	CreateSession(ctx context.Context, session CohortSession) error
	GetSession(ctx context.Context, id string) (CohortSession, error)
	FindSession(ctx context.Context, category string, weekStart time.Time) (CohortSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]CohortSession, error)
	// UpdateSessionStatus moves the session to status only when its current
	// status is one of from, returning ErrConflict otherwise.
	UpdateSessionStatus(ctx context.Context, id string, from []SessionStatus, to SessionStatus, at time.Time) error
}

// ParticipantRepository reads cohort members.
type ParticipantRepository interface {
	UpsertParticipant(ctx context.Context, participant Participant) error
	GetParticipant(ctx context.Context, id string) (Participant, error)
	ListSubscribed(ctx context.Context, category string) ([]Participant, error)
}

// MeetingFilter narrows meeting queries. Zero values do not filter.
type MeetingFilter struct {
	SessionID       string
	ParticipantID   string
	Statuses        []MeetingStatus
	CreatedBefore   *time.Time
	ScheduledAfter  *time.Time
	ScheduledBefore *time.Time
	UpdatedBefore   *time.Time
	// FeedbackArmed filters on whether a feedback deadline is set.
	FeedbackArmed *bool
	// FeedbackCollected filters on the aggregated flag.
	FeedbackCollected *bool
}

// MeetingRepository stores meetings. Every mutation is narrow and conditional
// on the current status so concurrent writers resolve at the row.
type MeetingRepository interface {
	// CreateMeeting inserts the meeting and reserves both participants and
	// their codes for the session. Codes are unique within a session only.
	// Returns ErrDuplicate on identifier or code collision and
	// ErrAlreadyPaired when a participant is already reserved.
	CreateMeeting(ctx context.Context, meeting Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	ListMeetings(ctx context.Context, filter MeetingFilter) ([]Meeting, error)
	PairedParticipantIDs(ctx context.Context, sessionID string) ([]string, error)
	TransitionMeeting(ctx context.Context, id string, from []MeetingStatus, to MeetingStatus, at time.Time) error
	EmergencyStopMeeting(ctx context.Context, id string, from []MeetingStatus, at time.Time) error
	MarkModeratorNotified(ctx context.Context, id string, at time.Time) error
	// ArmFeedback sets the deadline only for completed meetings without one.
	ArmFeedback(ctx context.Context, id string, deadline, at time.Time) error
	SetAverageRating(ctx context.Context, id string, average float64, at time.Time) error
}

// ProposalRepository stores negotiation offers.
type ProposalRepository interface {
	// CreateProposal inserts the proposal unless the proposer already holds
	// limit proposals for the meeting, in which case ErrLimitReached is returned
	// and nothing is written.
	CreateProposal(ctx context.Context, proposal Proposal, limit int) error
	GetProposal(ctx context.Context, id string) (Proposal, error)
	ListProposals(ctx context.Context, meetingID string) ([]Proposal, error)
	CountProposals(ctx context.Context, meetingID, proposerID string) (int, error)
	// ResolveProposal moves a pending proposal to status.
	ResolveProposal(ctx context.Context, id string, status ProposalStatus, at time.Time) error
	// AcceptProposal accepts a pending proposal and confirms its scheduling
	// meeting with the proposed logistics in one atomic step.
	AcceptProposal(ctx context.Context, id string, at time.Time) error
	// CounterProposal marks a pending proposal countered and inserts counter,
	// subject to the same limit as CreateProposal.
	CounterProposal(ctx context.Context, id string, counter Proposal, limit int) error
}

// MessageRepository stores relayed messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, message Message) error
	MarkForwarded(ctx context.Context, id string) error
	ListMessages(ctx context.Context, meetingID string) ([]Message, error)
}

// FeedbackRepository stores one feedback record per (meeting, participant).
type FeedbackRepository interface {
	UpsertFeedback(ctx context.Context, feedback Feedback) error
	GetFeedback(ctx context.Context, meetingID, participantID string) (Feedback, error)
	ListFeedback(ctx context.Context, meetingID string) ([]Feedback, error)
}

// JobRunRepository stores idempotency markers.
type JobRunRepository interface {
	// ClaimJobRun inserts a marker for key and reports whether this caller
	// won the claim. An existing marker in any status yields false.
	ClaimJobRun(ctx context.Context, key, job string, at time.Time) (bool, error)
	CompleteJobRun(ctx context.Context, key string, at time.Time) error
	ReleaseJobRun(ctx context.Context, key string) error
	GetJobRun(ctx context.Context, key string) (JobRun, error)
}

// Store aggregates every repository with lifecycle hooks.
type Store interface {
	SessionRepository
	ParticipantRepository
	MeetingRepository
	ProposalRepository
	MessageRepository
	FeedbackRepository
	JobRunRepository
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ContainsMeetingStatus reports whether status is one of set.
func ContainsMeetingStatus(set []MeetingStatus, status MeetingStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// ContainsSessionStatus reports whether status is one of set.
func ContainsSessionStatus(set []SessionStatus, status SessionStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
