package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

// EmergencyStopParams describes a safety report.
type EmergencyStopParams struct {
	MeetingID  string
	ReporterID string
	Reason     string
}

// EmergencyStopResult reports what the stop reached.
type EmergencyStopResult struct {
	Meeting           persistence.Meeting
	ModeratorNotified bool
	PartnerNotified   bool
}

// SafetyService cancels meetings on a participant's request and escalates to moderators.
type SafetyService struct {
	meetings   persistence.MeetingRepository
	deliver    Deliverer
	now        func() time.Time
	moderators []string
	location   *time.Location
	logger     *slog.Logger
}

// NewSafetyService constructs a safety service.
func NewSafetyService(deps Dependencies) *SafetyService {
	deps = deps.normalized()
	return &SafetyService{
		meetings:   deps.Store,
		deliver:    deps.Deliverer,
		now:        deps.Now,
		moderators: deps.Settings.ModeratorIDs,
		location:   deps.Settings.Location,
		logger:     deps.Logger,
	}
}

func (s *SafetyService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SafetyService", operation, attrs...)
}

// EmergencyStop cancels a meeting in scheduling or confirmed status. The
// moderators receive the full details; the partner receives a neutral notice
// that names neither the cause nor the reporter.
func (s *SafetyService) EmergencyStop(ctx context.Context, params EmergencyStopParams) (result EmergencyStopResult, err error) {
	if s == nil {
		err = fmt.Errorf("SafetyService is nil")
		return
	}

	logger := s.loggerWith(ctx, "EmergencyStop",
		"meeting_id", params.MeetingID,
		"participant_id", params.ReporterID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "emergency stop failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.WarnContext(ctx, "meeting emergency stopped",
			"moderator_notified", result.ModeratorNotified,
			"partner_notified", result.PartnerNotified,
		)
	}()

	var meeting persistence.Meeting
	meeting, err = s.meetings.GetMeeting(ctx, params.MeetingID)
	if err != nil {
		err = mapRepoError(err, "meeting", params.MeetingID)
		return
	}
	if !meeting.Involves(params.ReporterID) {
		vErr := &ValidationError{}
		vErr.add("participant_id", "participant is not part of this meeting")
		err = vErr
		return
	}
	if !persistence.ContainsMeetingStatus(relayableStatuses, meeting.Status) {
		err = &StateConflictError{MeetingID: meeting.ID, Status: string(meeting.Status), Operation: "emergency stop"}
		return
	}

	previous := meeting.Status
	at := s.now()
	if err = s.meetings.EmergencyStopMeeting(ctx, meeting.ID, relayableStatuses, at); err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			status := "unknown"
			if current, gerr := s.meetings.GetMeeting(ctx, meeting.ID); gerr == nil {
				status = string(current.Status)
			}
			err = &StateConflictError{MeetingID: meeting.ID, Status: status, Operation: "emergency stop"}
			return
		}
		err = mapRepoError(err, "meeting", meeting.ID)
		return
	}
	meeting.Status = persistence.MeetingCancelled
	meeting.EmergencyStopped = true
	meeting.UpdatedAt = at

	alert := s.moderatorAlert(meeting, previous, params, at)
	if deliverAll(ctx, s.deliver, s.moderators, alert) > 0 {
		if merr := s.meetings.MarkModeratorNotified(ctx, meeting.ID, s.now()); merr != nil {
			logger.ErrorContext(ctx, "failed to record moderator notification", "error", merr)
		} else {
			meeting.ModeratorNotified = true
			result.ModeratorNotified = true
		}
	} else {
		derr := &DeliveryError{Recipient: "moderators"}
		logger.ErrorContext(ctx, "no moderator received the safety alert", "error", derr, "error_kind", ErrorKind(derr))
	}

	partner := meeting.PartnerOf(params.ReporterID)
	if s.deliver != nil {
		result.PartnerNotified = s.deliver.Deliver(ctx, partner, partnerCancellationNotice(meeting.ID))
	}

	result.Meeting = meeting
	return
}

func partnerCancellationNotice(meetingID string) string {
	return fmt.Sprintf("Secret coffee %s has been cancelled for technical reasons. We apologise for the inconvenience; you will be matched again in a future round.", meetingID)
}

func (s *SafetyService) moderatorAlert(meeting persistence.Meeting, previous persistence.MeetingStatus, params EmergencyStopParams, at time.Time) string {
	var b strings.Builder
	b.WriteString("EMERGENCY STOP\n")
	fmt.Fprintf(&b, "Meeting: %s (session %s)\n", meeting.ID, meeting.SessionID)
	fmt.Fprintf(&b, "Status before stop: %s\n", previous)
	fmt.Fprintf(&b, "Reported by: %s (%s)\n", params.ReporterID, meeting.CodeOf(params.ReporterID))
	partner := meeting.PartnerOf(params.ReporterID)
	fmt.Fprintf(&b, "Other participant: %s (%s)\n", partner, meeting.CodeOf(partner))
	if meeting.ScheduledAt != nil {
		fmt.Fprintf(&b, "Scheduled: %s\n", meeting.ScheduledAt.In(s.location).Format(time.RFC1123))
	}
	if meeting.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", meeting.Location)
	}
	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		reason = "not given"
	}
	fmt.Fprintf(&b, "Reason: %s\n", reason)
	fmt.Fprintf(&b, "Reported at: %s", at.In(s.location).Format(time.RFC1123))
	return b.String()
}
