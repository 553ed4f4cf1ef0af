package application

import "context"

// Job names of the recurring catalog.
const (
	JobCreateSessions    = "create_sessions"
	JobRunMatching       = jobRunMatching
	JobDailyReminders    = jobDailyReminders
	JobMeetingReminders  = jobMeetingReminders
	JobSweepInactive     = "sweep_inactive"
	JobPublishStats      = jobPublishStats
	JobFeedbackLifecycle = jobFeedbackLifecycle
	JobCompleteMeetings  = "complete_meetings"
)

// JobBodies maps every catalog job to the service call it runs. Item level
// failures are logged inside the services; only whole-job failures are
// returned so the scheduler can retry them.
func (s *Services) JobBodies() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		JobCreateSessions: func(ctx context.Context) error {
			_, err := s.Cohorts.CreateSessions(ctx)
			return err
		},
		JobRunMatching: func(ctx context.Context) error {
			_, err := s.Cohorts.RunMatching(ctx)
			return err
		},
		JobDailyReminders: func(ctx context.Context) error {
			_, err := s.Reminders.DailyReminders(ctx)
			return err
		},
		JobMeetingReminders: func(ctx context.Context) error {
			_, err := s.Reminders.MeetingReminders(ctx)
			return err
		},
		JobSweepInactive: func(ctx context.Context) error {
			_, err := s.Meetings.SweepInactive(ctx)
			return err
		},
		JobPublishStats: func(ctx context.Context) error {
			_, _, err := s.Stats.PublishStats(ctx)
			return err
		},
		JobFeedbackLifecycle: func(ctx context.Context) error {
			_, err := s.Feedback.Lifecycle(ctx)
			return err
		},
		JobCompleteMeetings: func(ctx context.Context) error {
			_, err := s.Meetings.CompleteDue(ctx)
			return err
		},
	}
}
