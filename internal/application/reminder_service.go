package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/recurrence"
)

const (
	jobDailyReminders   = "daily_reminders"
	jobMeetingReminders = "meeting_reminders"
)

// ReminderReport counts reminders sent by one pass.
type ReminderReport struct {
	Unpaired   int
	Scheduling int
	Upcoming   int
}

// ReminderService nudges participants. Every reminder is guarded by an
// idempotency marker so overlapping or repeated runs do not resend it.
type ReminderService struct {
	store    persistence.Store
	deliver  Deliverer
	now      func() time.Time
	settings Settings
	logger   *slog.Logger
}

// NewReminderService constructs a reminder service.
func NewReminderService(deps Dependencies) *ReminderService {
	deps = deps.normalized()
	return &ReminderService{
		store:    deps.Store,
		deliver:  deps.Deliverer,
		now:      deps.Now,
		settings: deps.Settings,
		logger:   deps.Logger,
	}
}

func (s *ReminderService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReminderService", operation, attrs...)
}

// DailyReminders tells subscribed participants left without a partner in
// the active session that they are still in the pool, and nudges both
// parties of meetings still in scheduling. At most one reminder per
// participant and day.
func (s *ReminderService) DailyReminders(ctx context.Context) (report ReminderReport, err error) {
	now := s.now()
	date := recurrence.DateKey(now, s.settings.Location)
	logger := s.loggerWith(ctx, "DailyReminders", "date", date)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "daily reminders failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "daily reminders sent", "unpaired", report.Unpaired, "scheduling", report.Scheduling)
	}()

	var session persistence.CohortSession
	session, err = s.store.FindSession(ctx, s.settings.MatchingCategory, recurrence.WeekStart(now, s.settings.Location))
	if errors.Is(err, persistence.ErrNotFound) {
		err = nil
		return
	}
	if err != nil || session.Status != persistence.SessionActive {
		return
	}

	var subscribed []persistence.Participant
	subscribed, err = s.store.ListSubscribed(ctx, session.Category)
	if err != nil {
		return
	}
	var pairedIDs []string
	pairedIDs, err = s.store.PairedParticipantIDs(ctx, session.ID)
	if err != nil {
		return
	}
	paired := make(map[string]bool, len(pairedIDs))
	for _, id := range pairedIDs {
		paired[id] = true
	}

	for _, p := range subscribed {
		if paired[p.ID] {
			continue
		}
		key := fmt.Sprintf("daily_reminder_%s_%s", p.ID, date)
		if s.send(ctx, logger, jobDailyReminders, key, p.ID,
			"We could not find you a secret coffee partner this week. You stay subscribed and will be included in the next round.") {
			report.Unpaired++
		}
	}

	var scheduling []persistence.Meeting
	scheduling, err = s.store.ListMeetings(ctx, persistence.MeetingFilter{
		SessionID: session.ID,
		Statuses:  []persistence.MeetingStatus{persistence.MeetingScheduling},
	})
	if err != nil {
		return
	}
	for _, meeting := range scheduling {
		expires := meeting.CreatedAt.Add(s.settings.InactivityWindow).In(s.settings.Location)
		text := fmt.Sprintf("Secret coffee %s has no agreed time yet. Suggest or answer a proposal before %s, otherwise the meeting expires.",
			meeting.ID, expires.Format("Mon 02 Jan 15:04"))
		for _, pid := range []string{meeting.ParticipantA, meeting.ParticipantB} {
			if paired[pid] && s.send(ctx, logger, jobDailyReminders, fmt.Sprintf("daily_reminder_%s_%s", pid, date), pid, text) {
				report.Scheduling++
			}
		}
	}
	return
}

// MeetingReminders reminds both parties of confirmed meetings starting
// within the reminder lead. The marker is keyed by the scheduled time, so a
// rescheduled meeting is reminded again.
func (s *ReminderService) MeetingReminders(ctx context.Context) (report ReminderReport, err error) {
	logger := s.loggerWith(ctx, "MeetingReminders")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "meeting reminders failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "meeting reminders sent", "upcoming", report.Upcoming)
	}()

	now := s.now()
	until := now.Add(s.settings.MeetingReminderLead)
	var meetings []persistence.Meeting
	meetings, err = s.store.ListMeetings(ctx, persistence.MeetingFilter{
		Statuses:        []persistence.MeetingStatus{persistence.MeetingConfirmed},
		ScheduledAfter:  &now,
		ScheduledBefore: &until,
	})
	if err != nil {
		return
	}

	for _, meeting := range meetings {
		text := fmt.Sprintf("Secret coffee %s starts soon:\n%s\nRecognition sign: %s",
			meeting.ID, describeLogistics(*meeting.ScheduledAt, meeting.Location, meeting.Format, s.settings.Location), meeting.RecognitionSign)
		for _, pid := range []string{meeting.ParticipantA, meeting.ParticipantB} {
			key := fmt.Sprintf("meeting_reminder_%s_%d_%s", meeting.ID, meeting.ScheduledAt.Unix(), pid)
			if s.send(ctx, logger, jobMeetingReminders, key, pid, text) {
				report.Upcoming++
			}
		}
	}
	return
}

func (s *ReminderService) send(ctx context.Context, logger *slog.Logger, job, key, recipient, text string) bool {
	sent, err := once(ctx, s.store, s.now, job, key, func() error {
		if s.deliver == nil || !s.deliver.Deliver(ctx, recipient, text) {
			return &DeliveryError{Recipient: recipient}
		}
		return nil
	})
	if err != nil {
		logger.WarnContext(ctx, "reminder not delivered", "participant_id", recipient, "error", err, "error_kind", ErrorKind(err))
		return false
	}
	return sent
}
