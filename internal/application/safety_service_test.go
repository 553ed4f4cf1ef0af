package application

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/testfixtures"
)

func TestEmergencyStopCancelsAndAlertsModerators(t *testing.T) {
	t.Parallel()

	for _, status := range []persistence.MeetingStatus{persistence.MeetingScheduling, persistence.MeetingConfirmed} {
		env := newTestEnv(t)
		meeting := env.seedMeeting(t, testfixtures.WithStatus(status))

		result, err := env.services.Safety.EmergencyStop(context.Background(), EmergencyStopParams{
			MeetingID:  meeting.ID,
			ReporterID: "alice",
			Reason:     "felt unsafe",
		})
		if err != nil {
			t.Fatalf("status %s: EmergencyStop returned error: %v", status, err)
		}
		if !result.ModeratorNotified || !result.PartnerNotified {
			t.Fatalf("status %s: unexpected result %+v", status, result)
		}

		stored := env.meeting(t, meeting.ID)
		if stored.Status != persistence.MeetingCancelled || !stored.EmergencyStopped || !stored.ModeratorNotified {
			t.Fatalf("status %s: unexpected stored meeting %+v", status, stored)
		}

		for _, moderator := range []string{"moderator-1", "moderator-2"} {
			alerts := env.recorder.To(moderator)
			if len(alerts) != 1 {
				t.Fatalf("expected one alert for %s, got %d", moderator, len(alerts))
			}
			for _, want := range []string{meeting.ID, "alice", "bob", "felt unsafe", string(status)} {
				if !strings.Contains(alerts[0], want) {
					t.Fatalf("moderator alert missing %q: %q", want, alerts[0])
				}
			}
		}

		notices := env.recorder.To("bob")
		if len(notices) != 1 {
			t.Fatalf("expected one notice to the partner, got %d", len(notices))
		}
		for _, leaked := range []string{"alice", "Alice", meeting.CodeA, "unsafe", "emergency", "report"} {
			if strings.Contains(notices[0], leaked) {
				t.Fatalf("partner notice leaks %q: %q", leaked, notices[0])
			}
		}
		if len(env.recorder.To("alice")) != 0 {
			t.Fatalf("reporter should not be messaged")
		}
	}
}

func TestEmergencyStopWithoutReachableModerators(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	env.recorder.FailFor("moderator-1", "moderator-2")

	result, err := env.services.Safety.EmergencyStop(context.Background(), EmergencyStopParams{MeetingID: meeting.ID, ReporterID: "bob"})
	if err != nil {
		t.Fatalf("EmergencyStop returned error: %v", err)
	}
	if result.ModeratorNotified {
		t.Fatalf("expected moderator flag to stay unset")
	}
	stored := env.meeting(t, meeting.ID)
	if stored.Status != persistence.MeetingCancelled || stored.ModeratorNotified {
		t.Fatalf("unexpected stored meeting %+v", stored)
	}
}

func TestEmergencyStopRejectsTerminalMeetings(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t, testfixtures.WithStatus(persistence.MeetingCompleted))

	_, err := env.services.Safety.EmergencyStop(context.Background(), EmergencyStopParams{MeetingID: meeting.ID, ReporterID: "alice"})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(env.recorder.All()) != 0 {
		t.Fatalf("expected no notifications, got %+v", env.recorder.All())
	}
	if stored := env.meeting(t, meeting.ID); stored.EmergencyStopped {
		t.Fatalf("completed meeting must not be flagged")
	}
}

func TestEmergencyStopOutsider(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)

	_, err := env.services.Safety.EmergencyStop(context.Background(), EmergencyStopParams{MeetingID: meeting.ID, ReporterID: "mallory"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
