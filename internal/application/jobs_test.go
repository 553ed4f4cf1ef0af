package application

import (
	"context"
	"testing"
)

func TestJobBodiesCoverEveryJob(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	bodies := env.services.JobBodies()
	for _, name := range []string{
		JobCreateSessions,
		JobRunMatching,
		JobDailyReminders,
		JobMeetingReminders,
		JobSweepInactive,
		JobPublishStats,
		JobFeedbackLifecycle,
		JobCompleteMeetings,
	} {
		body, ok := bodies[name]
		if !ok || body == nil {
			t.Fatalf("missing job body for %s", name)
		}
	}

	// Bodies run against an empty store without error.
	for name, body := range bodies {
		if name == JobPublishStats {
			continue
		}
		if err := body(context.Background()); err != nil {
			t.Fatalf("job %s returned error: %v", name, err)
		}
	}
}
