// Package memory provides an in-process persistence.Store with the same
// uniqueness and conditional-update semantics as the SQLite store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

type pairingKey struct {
	sessionID     string
	participantID string
}

// codeKey scopes participant codes to a session.
type codeKey struct {
	sessionID string
	code      string
}

type feedbackKey struct {
	meetingID     string
	participantID string
}

// Store keeps every entity in maps guarded by a single RWMutex.
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]persistence.CohortSession
	participants map[string]persistence.Participant
	meetings     map[string]persistence.Meeting
	pairings     map[pairingKey]string
	codes        map[codeKey]string
	proposals    map[string]persistence.Proposal
	messages     map[string]persistence.Message
	feedback     map[feedbackKey]persistence.Feedback
	jobRuns      map[string]persistence.JobRun
}

var _ persistence.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions:     make(map[string]persistence.CohortSession),
		participants: make(map[string]persistence.Participant),
		meetings:     make(map[string]persistence.Meeting),
		pairings:     make(map[pairingKey]string),
		codes:        make(map[codeKey]string),
		proposals:    make(map[string]persistence.Proposal),
		messages:     make(map[string]persistence.Message),
		feedback:     make(map[feedbackKey]persistence.Feedback),
		jobRuns:      make(map[string]persistence.JobRun),
	}
}

// Migrate is a no-op for the in-memory implementation.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op for the in-memory implementation.
func (s *Store) Close() error { return nil }

// --- SessionRepository ---

func (s *Store) CreateSession(ctx context.Context, session persistence.CohortSession) error {
	if session.ID == "" || session.Category == "" || session.WeekStart.IsZero() {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return persistence.ErrDuplicate
	}
	for _, existing := range s.sessions {
		if existing.Category == session.Category && sameDay(existing.WeekStart, session.WeekStart) {
			return persistence.ErrDuplicate
		}
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (persistence.CohortSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.CohortSession{}, persistence.ErrNotFound
	}
	return session, nil
}

func (s *Store) FindSession(ctx context.Context, category string, weekStart time.Time) (persistence.CohortSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.Category == category && sameDay(session.WeekStart, weekStart) {
			return session, nil
		}
	}
	return persistence.CohortSession{}, persistence.ErrNotFound
}

func (s *Store) ListSessions(ctx context.Context, filter persistence.SessionFilter) ([]persistence.CohortSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.CohortSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if filter.Category != "" && session.Category != filter.Category {
			continue
		}
		if len(filter.Statuses) > 0 && !persistence.ContainsSessionStatus(filter.Statuses, session.Status) {
			continue
		}
		if filter.WeekStartBefore != nil && !session.WeekStart.Before(*filter.WeekStartBefore) {
			continue
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WeekStart.Equal(out[j].WeekStart) {
			return out[i].ID < out[j].ID
		}
		return out[i].WeekStart.Before(out[j].WeekStart)
	})
	return out, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, id string, from []persistence.SessionStatus, to persistence.SessionStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if !persistence.ContainsSessionStatus(from, session.Status) {
		return persistence.ErrConflict
	}
	session.Status = to
	session.UpdatedAt = at
	s.sessions[id] = session
	return nil
}

// --- ParticipantRepository ---

func (s *Store) UpsertParticipant(ctx context.Context, participant persistence.Participant) error {
	if participant.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	participant.Avoid = append([]string(nil), participant.Avoid...)
	s.participants[participant.ID] = participant
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participant, ok := s.participants[id]
	if !ok {
		return persistence.Participant{}, persistence.ErrNotFound
	}
	return cloneParticipant(participant), nil
}

func (s *Store) ListSubscribed(ctx context.Context, category string) ([]persistence.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Participant, 0)
	for _, participant := range s.participants {
		if participant.Subscribed && participant.Category == category {
			out = append(out, cloneParticipant(participant))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- MeetingRepository ---

func (s *Store) CreateMeeting(ctx context.Context, meeting persistence.Meeting) error {
	if meeting.ID == "" || meeting.SessionID == "" || meeting.ParticipantA == "" || meeting.ParticipantB == "" {
		return persistence.ErrConstraintViolation
	}
	if meeting.ParticipantA == meeting.ParticipantB || meeting.CodeA == "" || meeting.CodeB == "" || meeting.CodeA == meeting.CodeB {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[meeting.SessionID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.meetings[meeting.ID]; ok {
		return persistence.ErrDuplicate
	}
	for _, pid := range []string{meeting.ParticipantA, meeting.ParticipantB} {
		if _, ok := s.pairings[pairingKey{meeting.SessionID, pid}]; ok {
			return persistence.ErrAlreadyPaired
		}
	}
	for _, code := range []string{meeting.CodeA, meeting.CodeB} {
		if _, ok := s.codes[codeKey{meeting.SessionID, code}]; ok {
			return persistence.ErrDuplicate
		}
	}

	s.pairings[pairingKey{meeting.SessionID, meeting.ParticipantA}] = meeting.ID
	s.pairings[pairingKey{meeting.SessionID, meeting.ParticipantB}] = meeting.ID
	s.codes[codeKey{meeting.SessionID, meeting.CodeA}] = meeting.ID
	s.codes[codeKey{meeting.SessionID, meeting.CodeB}] = meeting.ID
	s.meetings[meeting.ID] = cloneMeeting(meeting)
	return nil
}

func (s *Store) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return persistence.Meeting{}, persistence.ErrNotFound
	}
	return cloneMeeting(meeting), nil
}

func (s *Store) ListMeetings(ctx context.Context, filter persistence.MeetingFilter) ([]persistence.Meeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Meeting, 0)
	for _, meeting := range s.meetings {
		if matchesMeeting(meeting, filter) {
			out = append(out, cloneMeeting(meeting))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func matchesMeeting(meeting persistence.Meeting, filter persistence.MeetingFilter) bool {
	if filter.SessionID != "" && meeting.SessionID != filter.SessionID {
		return false
	}
	if filter.ParticipantID != "" && !meeting.Involves(filter.ParticipantID) {
		return false
	}
	if len(filter.Statuses) > 0 && !persistence.ContainsMeetingStatus(filter.Statuses, meeting.Status) {
		return false
	}
	if filter.CreatedBefore != nil && !meeting.CreatedAt.Before(*filter.CreatedBefore) {
		return false
	}
	if filter.UpdatedBefore != nil && !meeting.UpdatedAt.Before(*filter.UpdatedBefore) {
		return false
	}
	if filter.ScheduledAfter != nil && (meeting.ScheduledAt == nil || !meeting.ScheduledAt.After(*filter.ScheduledAfter)) {
		return false
	}
	if filter.ScheduledBefore != nil && (meeting.ScheduledAt == nil || meeting.ScheduledAt.After(*filter.ScheduledBefore)) {
		return false
	}
	if filter.FeedbackArmed != nil && (meeting.FeedbackDeadline != nil) != *filter.FeedbackArmed {
		return false
	}
	if filter.FeedbackCollected != nil && meeting.FeedbackCollected != *filter.FeedbackCollected {
		return false
	}
	return true
}

func (s *Store) PairedParticipantIDs(ctx context.Context, sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	for key := range s.pairings {
		if key.sessionID == sessionID {
			out = append(out, key.participantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) TransitionMeeting(ctx context.Context, id string, from []persistence.MeetingStatus, to persistence.MeetingStatus, at time.Time) error {
	return s.mutateMeeting(id, func(m *persistence.Meeting) error {
		if !persistence.ContainsMeetingStatus(from, m.Status) {
			return persistence.ErrConflict
		}
		m.Status = to
		m.UpdatedAt = at
		return nil
	})
}

func (s *Store) EmergencyStopMeeting(ctx context.Context, id string, from []persistence.MeetingStatus, at time.Time) error {
	return s.mutateMeeting(id, func(m *persistence.Meeting) error {
		if !persistence.ContainsMeetingStatus(from, m.Status) {
			return persistence.ErrConflict
		}
		m.Status = persistence.MeetingCancelled
		m.EmergencyStopped = true
		m.UpdatedAt = at
		return nil
	})
}

func (s *Store) MarkModeratorNotified(ctx context.Context, id string, at time.Time) error {
	return s.mutateMeeting(id, func(m *persistence.Meeting) error {
		m.ModeratorNotified = true
		m.UpdatedAt = at
		return nil
	})
}

func (s *Store) ArmFeedback(ctx context.Context, id string, deadline, at time.Time) error {
	return s.mutateMeeting(id, func(m *persistence.Meeting) error {
		if m.Status != persistence.MeetingCompleted || m.FeedbackDeadline != nil {
			return persistence.ErrConflict
		}
		m.FeedbackDeadline = &deadline
		m.UpdatedAt = at
		return nil
	})
}

func (s *Store) SetAverageRating(ctx context.Context, id string, average float64, at time.Time) error {
	return s.mutateMeeting(id, func(m *persistence.Meeting) error {
		m.AverageRating = &average
		m.FeedbackCollected = true
		m.UpdatedAt = at
		return nil
	})
}

func (s *Store) mutateMeeting(id string, fn func(*persistence.Meeting) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meeting, ok := s.meetings[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if err := fn(&meeting); err != nil {
		return err
	}
	s.meetings[id] = meeting
	return nil
}

// --- ProposalRepository ---

func (s *Store) CreateProposal(ctx context.Context, proposal persistence.Proposal, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertProposalLocked(proposal, limit)
}

func (s *Store) insertProposalLocked(proposal persistence.Proposal, limit int) error {
	if proposal.ID == "" || proposal.MeetingID == "" || proposal.ProposerID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.meetings[proposal.MeetingID]; !ok {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.proposals[proposal.ID]; ok {
		return persistence.ErrDuplicate
	}
	if limit > 0 && s.countProposalsLocked(proposal.MeetingID, proposal.ProposerID) >= limit {
		return persistence.ErrLimitReached
	}
	s.proposals[proposal.ID] = proposal
	return nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (persistence.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proposal, ok := s.proposals[id]
	if !ok {
		return persistence.Proposal{}, persistence.ErrNotFound
	}
	return proposal, nil
}

func (s *Store) ListProposals(ctx context.Context, meetingID string) ([]persistence.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Proposal, 0)
	for _, proposal := range s.proposals {
		if proposal.MeetingID == meetingID {
			out = append(out, proposal)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CountProposals(ctx context.Context, meetingID, proposerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countProposalsLocked(meetingID, proposerID), nil
}

func (s *Store) countProposalsLocked(meetingID, proposerID string) int {
	count := 0
	for _, proposal := range s.proposals {
		if proposal.MeetingID == meetingID && proposal.ProposerID == proposerID {
			count++
		}
	}
	return count
}

func (s *Store) ResolveProposal(ctx context.Context, id string, status persistence.ProposalStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if proposal.Status != persistence.ProposalPending {
		return persistence.ErrConflict
	}
	proposal.Status = status
	proposal.UpdatedAt = at
	s.proposals[id] = proposal
	return nil
}

func (s *Store) AcceptProposal(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[id]
	if !ok {
		return persistence.ErrNotFound
	}
	meeting, ok := s.meetings[proposal.MeetingID]
	if !ok {
		return persistence.ErrNotFound
	}
	if proposal.Status != persistence.ProposalPending || meeting.Status != persistence.MeetingScheduling {
		return persistence.ErrConflict
	}

	proposal.Status = persistence.ProposalAccepted
	proposal.UpdatedAt = at
	scheduled := proposal.ScheduledAt
	meeting.Status = persistence.MeetingConfirmed
	meeting.ScheduledAt = &scheduled
	meeting.Location = proposal.Location
	meeting.Format = proposal.Format
	meeting.UpdatedAt = at

	s.proposals[id] = proposal
	s.meetings[meeting.ID] = meeting
	return nil
}

func (s *Store) CounterProposal(ctx context.Context, id string, counter persistence.Proposal, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.proposals[id]
	if !ok {
		return persistence.ErrNotFound
	}
	if original.Status != persistence.ProposalPending {
		return persistence.ErrConflict
	}
	counter.ParentID = id
	if err := s.insertProposalLocked(counter, limit); err != nil {
		return err
	}
	original.Status = persistence.ProposalCountered
	original.UpdatedAt = counter.CreatedAt
	s.proposals[id] = original
	return nil
}

// --- MessageRepository ---

func (s *Store) CreateMessage(ctx context.Context, message persistence.Message) error {
	if message.ID == "" || message.MeetingID == "" || message.SenderID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[message.ID]; ok {
		return persistence.ErrDuplicate
	}
	s.messages[message.ID] = message
	return nil
}

func (s *Store) MarkForwarded(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[id]
	if !ok {
		return persistence.ErrNotFound
	}
	message.Forwarded = true
	s.messages[id] = message
	return nil
}

func (s *Store) ListMessages(ctx context.Context, meetingID string) ([]persistence.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Message, 0)
	for _, message := range s.messages {
		if message.MeetingID == meetingID {
			out = append(out, message)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- FeedbackRepository ---

func (s *Store) UpsertFeedback(ctx context.Context, feedback persistence.Feedback) error {
	if feedback.MeetingID == "" || feedback.ParticipantID == "" {
		return persistence.ErrConstraintViolation
	}
	if feedback.Rating < 1 || feedback.Rating > 5 {
		return fmt.Errorf("%w: rating %d out of range", persistence.ErrConstraintViolation, feedback.Rating)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := feedbackKey{feedback.MeetingID, feedback.ParticipantID}
	if existing, ok := s.feedback[key]; ok {
		feedback.CreatedAt = existing.CreatedAt
	}
	s.feedback[key] = feedback
	return nil
}

func (s *Store) GetFeedback(ctx context.Context, meetingID, participantID string) (persistence.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feedback, ok := s.feedback[feedbackKey{meetingID, participantID}]
	if !ok {
		return persistence.Feedback{}, persistence.ErrNotFound
	}
	return feedback, nil
}

func (s *Store) ListFeedback(ctx context.Context, meetingID string) ([]persistence.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Feedback, 0)
	for key, feedback := range s.feedback {
		if key.meetingID == meetingID {
			out = append(out, feedback)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

// --- JobRunRepository ---

func (s *Store) ClaimJobRun(ctx context.Context, key, job string, at time.Time) (bool, error) {
	if key == "" {
		return false, persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobRuns[key]; ok {
		return false, nil
	}
	s.jobRuns[key] = persistence.JobRun{Key: key, Job: job, Status: persistence.JobRunClaimed, ClaimedAt: at}
	return true, nil
}

func (s *Store) CompleteJobRun(ctx context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.jobRuns[key]
	if !ok {
		return persistence.ErrNotFound
	}
	run.Status = persistence.JobRunCompleted
	run.CompletedAt = &at
	s.jobRuns[key] = run
	return nil
}

func (s *Store) ReleaseJobRun(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.jobRuns[key]
	if !ok {
		return nil
	}
	if run.Status == persistence.JobRunCompleted {
		return persistence.ErrConflict
	}
	delete(s.jobRuns, key)
	return nil
}

func (s *Store) GetJobRun(ctx context.Context, key string) (persistence.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.jobRuns[key]
	if !ok {
		return persistence.JobRun{}, persistence.ErrNotFound
	}
	return run, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func cloneParticipant(p persistence.Participant) persistence.Participant {
	p.Avoid = append([]string(nil), p.Avoid...)
	return p
}

func cloneMeeting(m persistence.Meeting) persistence.Meeting {
	if m.ScheduledAt != nil {
		v := *m.ScheduledAt
		m.ScheduledAt = &v
	}
	if m.AverageRating != nil {
		v := *m.AverageRating
		m.AverageRating = &v
	}
	if m.FeedbackDeadline != nil {
		v := *m.FeedbackDeadline
		m.FeedbackDeadline = &v
	}
	return m
}
