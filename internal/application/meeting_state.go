package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

var meetingTransitions = map[persistence.MeetingStatus][]persistence.MeetingStatus{
	persistence.MeetingPlanned:    {persistence.MeetingScheduling},
	persistence.MeetingScheduling: {persistence.MeetingConfirmed, persistence.MeetingCancelled, persistence.MeetingFailed},
	persistence.MeetingConfirmed:  {persistence.MeetingCompleted, persistence.MeetingCancelled},
}

// IsTerminal reports whether status accepts no further transitions.
func IsTerminal(status persistence.MeetingStatus) bool {
	switch status {
	case persistence.MeetingCompleted, persistence.MeetingCancelled, persistence.MeetingFailed:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows from -> to.
func CanTransition(from, to persistence.MeetingStatus) bool {
	return persistence.ContainsMeetingStatus(meetingTransitions[from], to)
}

// MeetingService drives meeting status changes that are not owned by the
// negotiation, safety or feedback flows.
type MeetingService struct {
	store    persistence.Store
	deliver  Deliverer
	now      func() time.Time
	settings Settings
	logger   *slog.Logger
}

// NewMeetingService constructs a meeting service.
func NewMeetingService(deps Dependencies) *MeetingService {
	deps = deps.normalized()
	return &MeetingService{
		store:    deps.Store,
		deliver:  deps.Deliverer,
		now:      deps.Now,
		settings: deps.Settings,
		logger:   deps.Logger,
	}
}

func (s *MeetingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MeetingService", operation, attrs...)
}

// GetMeeting returns a meeting by id.
func (s *MeetingService) GetMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	meeting, err := s.store.GetMeeting(ctx, id)
	if err != nil {
		return persistence.Meeting{}, mapRepoError(err, "meeting", id)
	}
	return meeting, nil
}

// Transition moves a meeting along the lifecycle table. Any transition not in
// the table, including every transition out of a terminal status, fails with a
// StateConflictError.
func (s *MeetingService) Transition(ctx context.Context, id string, to persistence.MeetingStatus) (meeting persistence.Meeting, err error) {
	if s == nil {
		err = fmt.Errorf("MeetingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Transition", "meeting_id", id, "to", string(to))
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "meeting transition rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting transitioned")
	}()

	meeting, err = s.GetMeeting(ctx, id)
	if err != nil {
		return
	}
	meeting, err = s.transition(ctx, meeting, to)
	return
}

func (s *MeetingService) transition(ctx context.Context, meeting persistence.Meeting, to persistence.MeetingStatus) (persistence.Meeting, error) {
	operation := "transition to " + string(to)
	if !CanTransition(meeting.Status, to) {
		return meeting, &StateConflictError{MeetingID: meeting.ID, Status: string(meeting.Status), Operation: operation}
	}

	at := s.now()
	err := s.store.TransitionMeeting(ctx, meeting.ID, []persistence.MeetingStatus{meeting.Status}, to, at)
	if errors.Is(err, persistence.ErrConflict) {
		current, gerr := s.store.GetMeeting(ctx, meeting.ID)
		if gerr != nil {
			return meeting, mapRepoError(gerr, "meeting", meeting.ID)
		}
		return current, &StateConflictError{MeetingID: meeting.ID, Status: string(current.Status), Operation: operation}
	}
	if err != nil {
		return meeting, mapRepoError(err, "meeting", meeting.ID)
	}

	meeting.Status = to
	meeting.UpdatedAt = at
	return meeting, nil
}

// CompleteMeeting is the manual signal that a confirmed meeting took place.
func (s *MeetingService) CompleteMeeting(ctx context.Context, id string) (persistence.Meeting, error) {
	return s.Transition(ctx, id, persistence.MeetingCompleted)
}

// SweepInactive fails meetings that stayed in scheduling longer than the
// inactivity window. Both parties are told the meeting expired.
func (s *MeetingService) SweepInactive(ctx context.Context) (failed int, err error) {
	logger := s.loggerWith(ctx, "SweepInactive")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "inactive sweep failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "inactive sweep finished", "failed", failed)
	}()

	cutoff := s.now().Add(-s.settings.InactivityWindow)
	var meetings []persistence.Meeting
	meetings, err = s.store.ListMeetings(ctx, persistence.MeetingFilter{
		Statuses:      []persistence.MeetingStatus{persistence.MeetingScheduling},
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return
	}

	for _, meeting := range meetings {
		if _, terr := s.transition(ctx, meeting, persistence.MeetingFailed); terr != nil {
			logger.WarnContext(ctx, "skipping meeting", "meeting_id", meeting.ID, "error", terr, "error_kind", ErrorKind(terr))
			continue
		}
		failed++
		text := fmt.Sprintf("Secret coffee %s expired: no meeting time was agreed within %s. You will be matched again next week.",
			meeting.ID, formatWindow(s.settings.InactivityWindow))
		deliverAll(ctx, s.deliver, []string{meeting.ParticipantA, meeting.ParticipantB}, text)
	}
	return
}

// CompleteDue completes confirmed meetings whose scheduled time plus the
// completion grace has passed.
func (s *MeetingService) CompleteDue(ctx context.Context) (completed int, err error) {
	logger := s.loggerWith(ctx, "CompleteDue")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "meeting completion failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting completion finished", "completed", completed)
	}()

	cutoff := s.now().Add(-s.settings.CompletionGrace)
	var meetings []persistence.Meeting
	meetings, err = s.store.ListMeetings(ctx, persistence.MeetingFilter{
		Statuses:        []persistence.MeetingStatus{persistence.MeetingConfirmed},
		ScheduledBefore: &cutoff,
	})
	if err != nil {
		return
	}

	for _, meeting := range meetings {
		if _, terr := s.transition(ctx, meeting, persistence.MeetingCompleted); terr != nil {
			logger.WarnContext(ctx, "skipping meeting", "meeting_id", meeting.ID, "error", terr, "error_kind", ErrorKind(terr))
			continue
		}
		completed++
	}
	return
}

func formatWindow(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}
