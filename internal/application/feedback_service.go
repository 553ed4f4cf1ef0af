package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

const (
	maxFeedbackTextLength = 2000

	jobFeedbackLifecycle = "feedback_lifecycle"
)

// SubmitFeedbackParams carries one participant's rating of a meeting.
type SubmitFeedbackParams struct {
	MeetingID     string
	ParticipantID string
	Rating        int
	Comment       string
	Suggestions   string
}

// AggregateResult is the outcome of aggregating a meeting's ratings.
type AggregateResult struct {
	Average float64
	Count   int
	// Applied is false when there was no feedback to aggregate.
	Applied bool
}

// LifecycleReport summarises one feedback lifecycle pass.
type LifecycleReport struct {
	Armed      int
	Reminded   int
	Aggregated int
}

// FeedbackService arms, collects and aggregates post-meeting feedback.
type FeedbackService struct {
	meetings persistence.MeetingRepository
	feedback persistence.FeedbackRepository
	runs     persistence.JobRunRepository
	deliver  Deliverer
	now      func() time.Time
	settings Settings
	logger   *slog.Logger
}

// NewFeedbackService constructs a feedback service.
func NewFeedbackService(deps Dependencies) *FeedbackService {
	deps = deps.normalized()
	return &FeedbackService{
		meetings: deps.Store,
		feedback: deps.Store,
		runs:     deps.Store,
		deliver:  deps.Deliverer,
		now:      deps.Now,
		settings: deps.Settings,
		logger:   deps.Logger,
	}
}

func (s *FeedbackService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "FeedbackService", operation, attrs...)
}

// Arm opens the feedback window of a completed meeting that has none yet and
// asks both parties for a rating. It reports whether this call armed it.
func (s *FeedbackService) Arm(ctx context.Context, meetingID string) (armed bool, err error) {
	logger := s.loggerWith(ctx, "Arm", "meeting_id", meetingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to arm feedback", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if armed {
			logger.InfoContext(ctx, "feedback armed")
		}
	}()

	var meeting persistence.Meeting
	meeting, err = s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		err = mapRepoError(err, "meeting", meetingID)
		return
	}
	// Not eligible yet: leave the marker unclaimed so a later pass can arm it.
	if meeting.Status != persistence.MeetingCompleted || meeting.FeedbackDeadline != nil {
		return
	}

	armed, err = once(ctx, s.runs, s.now, jobFeedbackLifecycle, "feedback_request_"+meetingID, func() error {

		now := s.now()
		deadline := now.Add(s.settings.FeedbackWindow)
		if aerr := s.meetings.ArmFeedback(ctx, meetingID, deadline, now); aerr != nil {
			if errors.Is(aerr, persistence.ErrConflict) {
				return errSkipEffect
			}
			return aerr
		}

		text := fmt.Sprintf("How was secret coffee %s? Please rate it from 1 to 5 before %s.",
			meeting.ID, deadline.In(s.settings.Location).Format("Mon 02 Jan 15:04"))
		for _, pid := range []string{meeting.ParticipantA, meeting.ParticipantB} {
			if s.deliver != nil && !s.deliver.Deliver(ctx, pid, text) {
				derr := &DeliveryError{Recipient: pid}
				logger.WarnContext(ctx, "feedback request not delivered", "error", derr, "error_kind", ErrorKind(derr))
			}
		}
		return nil
	})
	return
}

// Submit validates and upserts a participant's feedback. Repeat submissions
// overwrite the earlier one. Feedback is accepted for completed meetings
// until the deadline, when one is set.
func (s *FeedbackService) Submit(ctx context.Context, params SubmitFeedbackParams) (feedback persistence.Feedback, err error) {
	if s == nil {
		err = fmt.Errorf("FeedbackService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Submit",
		"meeting_id", params.MeetingID,
		"participant_id", params.ParticipantID,
	)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "feedback rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "feedback stored", "rating", feedback.Rating)
	}()

	vErr := validateFeedback(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var meeting persistence.Meeting
	meeting, err = s.meetings.GetMeeting(ctx, params.MeetingID)
	if err != nil {
		err = mapRepoError(err, "meeting", params.MeetingID)
		return
	}
	if !meeting.Involves(params.ParticipantID) {
		vErr.add("participant_id", "participant is not part of this meeting")
		err = vErr
		return
	}
	if meeting.Status != persistence.MeetingCompleted {
		err = &StateConflictError{MeetingID: meeting.ID, Status: string(meeting.Status), Operation: "submit feedback for"}
		return
	}
	now := s.now()
	if meeting.FeedbackDeadline != nil && now.After(*meeting.FeedbackDeadline) {
		err = &StateConflictError{MeetingID: meeting.ID, Status: "feedback closed", Operation: "submit feedback for"}
		return
	}

	feedback = persistence.Feedback{
		MeetingID:     meeting.ID,
		ParticipantID: params.ParticipantID,
		Rating:        params.Rating,
		Comment:       strings.TrimSpace(params.Comment),
		Suggestions:   strings.TrimSpace(params.Suggestions),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err = s.feedback.UpsertFeedback(ctx, feedback); err != nil {
		err = mapRepoError(err, "feedback", meeting.ID)
		return
	}
	if stored, gerr := s.feedback.GetFeedback(ctx, meeting.ID, params.ParticipantID); gerr == nil {
		feedback = stored
	}
	return
}

func validateFeedback(params SubmitFeedbackParams) *ValidationError {
	vErr := &ValidationError{}
	if params.Rating < 1 || params.Rating > 5 {
		vErr.add("rating", "rating must be between 1 and 5")
	}
	if len([]rune(params.Comment)) > maxFeedbackTextLength {
		vErr.add("comment", fmt.Sprintf("comment must be at most %d characters", maxFeedbackTextLength))
	}
	if len([]rune(params.Suggestions)) > maxFeedbackTextLength {
		vErr.add("suggestions", fmt.Sprintf("suggestions must be at most %d characters", maxFeedbackTextLength))
	}
	return vErr
}

// Aggregate stores the mean rating, rounded to two decimals, and marks the
// meeting's feedback as collected. Without any feedback it changes nothing
// and logs a warning.
func (s *FeedbackService) Aggregate(ctx context.Context, meetingID string) (result AggregateResult, err error) {
	logger := s.loggerWith(ctx, "Aggregate", "meeting_id", meetingID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to aggregate feedback", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if result.Applied {
			logger.InfoContext(ctx, "feedback aggregated", "average_rating", result.Average, "count", result.Count)
		}
	}()

	if _, err = s.meetings.GetMeeting(ctx, meetingID); err != nil {
		err = mapRepoError(err, "meeting", meetingID)
		return
	}

	var records []persistence.Feedback
	records, err = s.feedback.ListFeedback(ctx, meetingID)
	if err != nil {
		return
	}
	if len(records) == 0 {
		logger.WarnContext(ctx, "no feedback to aggregate")
		return
	}

	sum := 0
	for _, r := range records {
		sum += r.Rating
	}
	result.Count = len(records)
	result.Average = roundRating(float64(sum) / float64(len(records)))
	if err = s.meetings.SetAverageRating(ctx, meetingID, result.Average, s.now()); err != nil {
		err = mapRepoError(err, "meeting", meetingID)
		return
	}
	result.Applied = true
	return
}

func roundRating(v float64) float64 {
	return math.Round(v*100) / 100
}

// PendingFor lists completed meetings of the participant whose feedback
// window is open and which they have not rated yet.
func (s *FeedbackService) PendingFor(ctx context.Context, participantID string) ([]persistence.Meeting, error) {
	armed := true
	meetings, err := s.meetings.ListMeetings(ctx, persistence.MeetingFilter{
		ParticipantID: participantID,
		Statuses:      []persistence.MeetingStatus{persistence.MeetingCompleted},
		FeedbackArmed: &armed,
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	pending := make([]persistence.Meeting, 0, len(meetings))
	for _, meeting := range meetings {
		if meeting.FeedbackDeadline == nil || now.After(*meeting.FeedbackDeadline) {
			continue
		}
		_, ferr := s.feedback.GetFeedback(ctx, meeting.ID, participantID)
		switch {
		case errors.Is(ferr, persistence.ErrNotFound):
			pending = append(pending, meeting)
		case ferr != nil:
			return nil, ferr
		}
	}
	return pending, nil
}

// Lifecycle arms newly completed meetings, reminds participants who have not
// rated a meeting whose deadline is near, and aggregates ratings once the
// deadline plus the aggregation delay has passed. A failing meeting is logged
// and skipped.
func (s *FeedbackService) Lifecycle(ctx context.Context) (report LifecycleReport, err error) {
	logger := s.loggerWith(ctx, "Lifecycle")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "feedback lifecycle failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "feedback lifecycle finished",
			"armed", report.Armed, "reminded", report.Reminded, "aggregated", report.Aggregated)
	}()

	completed := []persistence.MeetingStatus{persistence.MeetingCompleted}
	notArmed, armed, notCollected := false, true, false

	var toArm []persistence.Meeting
	toArm, err = s.meetings.ListMeetings(ctx, persistence.MeetingFilter{Statuses: completed, FeedbackArmed: &notArmed})
	if err != nil {
		return
	}
	for _, meeting := range toArm {
		ok, aerr := s.Arm(ctx, meeting.ID)
		if aerr != nil {
			continue
		}
		if ok {
			report.Armed++
		}
	}

	var open []persistence.Meeting
	open, err = s.meetings.ListMeetings(ctx, persistence.MeetingFilter{Statuses: completed, FeedbackArmed: &armed, FeedbackCollected: &notCollected})
	if err != nil {
		return
	}

	now := s.now()
	for _, meeting := range open {
		deadline := *meeting.FeedbackDeadline
		switch {
		case !now.Before(deadline.Add(s.settings.AggregationDelay)):
			var result AggregateResult
			_, aerr := once(ctx, s.runs, s.now, jobFeedbackLifecycle, "feedback_aggregation_"+meeting.ID, func() error {
				var aggErr error
				result, aggErr = s.Aggregate(ctx, meeting.ID)
				return aggErr
			})
			if aerr != nil {
				logger.WarnContext(ctx, "skipping aggregation", "meeting_id", meeting.ID, "error", aerr, "error_kind", ErrorKind(aerr))
				continue
			}
			if result.Applied {
				report.Aggregated++
			}
		case now.Before(deadline) && !now.Before(deadline.Add(-s.settings.FeedbackReminderLead)):
			report.Reminded += s.remind(ctx, logger, meeting)
		}
	}
	return
}

func (s *FeedbackService) remind(ctx context.Context, logger *slog.Logger, meeting persistence.Meeting) int {
	reminded := 0
	for _, pid := range []string{meeting.ParticipantA, meeting.ParticipantB} {
		_, ferr := s.feedback.GetFeedback(ctx, meeting.ID, pid)
		if ferr == nil {
			continue
		}
		if !errors.Is(ferr, persistence.ErrNotFound) {
			logger.WarnContext(ctx, "skipping reminder", "meeting_id", meeting.ID, "participant_id", pid, "error", ferr)
			continue
		}

		key := fmt.Sprintf("feedback_reminder_%s_%s", meeting.ID, pid)
		ran, rerr := once(ctx, s.runs, s.now, jobFeedbackLifecycle, key, func() error {
			text := fmt.Sprintf("Reminder: the feedback window for secret coffee %s closes at %s. Please rate the meeting from 1 to 5.",
				meeting.ID, meeting.FeedbackDeadline.In(s.settings.Location).Format("Mon 02 Jan 15:04"))
			if s.deliver == nil || !s.deliver.Deliver(ctx, pid, text) {
				return &DeliveryError{Recipient: pid}
			}
			return nil
		})
		if rerr != nil {
			logger.WarnContext(ctx, "feedback reminder not delivered", "meeting_id", meeting.ID, "participant_id", pid, "error", rerr, "error_kind", ErrorKind(rerr))
			continue
		}
		if ran {
			reminded++
		}
	}
	return reminded
}
