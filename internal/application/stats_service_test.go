package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/testfixtures"
)

func seedStatsWeek(t *testing.T, env *testEnv) {
	t.Helper()
	session := testfixtures.NewSession(func(s *persistence.CohortSession) { s.Status = persistence.SessionActive })
	var participants []persistence.Participant
	for i := 1; i <= 10; i++ {
		participants = append(participants, testfixtures.NewParticipant(fmt.Sprintf("p%d", i)))
	}
	completed := testfixtures.NewMeeting(session.ID, "p1", "p2", testfixtures.WithStatus(persistence.MeetingCompleted))
	testfixtures.Seed(t, env.store, session, participants,
		completed,
		testfixtures.NewMeeting(session.ID, "p3", "p4", testfixtures.WithStatus(persistence.MeetingCancelled)),
		testfixtures.NewMeeting(session.ID, "p5", "p6", testfixtures.WithStatus(persistence.MeetingFailed)),
		testfixtures.NewMeeting(session.ID, "p7", "p8"),
	)
	if err := env.store.SetAverageRating(context.Background(), completed.ID, 4, env.clock.Now()); err != nil {
		t.Fatalf("SetAverageRating returned error: %v", err)
	}

	old := testfixtures.NewSession(func(s *persistence.CohortSession) {
		s.WeekStart = testfixtures.WeekStart().AddDate(0, 0, -7)
	})
	testfixtures.Seed(t, env.store, old, nil, testfixtures.NewMeeting(old.ID, "p9", "p10", testfixtures.WithStatus(persistence.MeetingCompleted)))
}

func TestComputeWeeklyStats(t *testing.T) {
	t.Parallel()

	for name, factory := range testfixtures.StoreFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnvWithStore(t, factory(t))
			seedStatsWeek(t, env)

			stats, err := env.services.Stats.Compute(context.Background(), env.clock.Now())
			if err != nil {
				t.Fatalf("Compute returned error: %v", err)
			}
			if stats.Sessions != 1 || stats.Meetings != 4 || stats.Completed != 1 || stats.Cancelled != 1 || stats.Failed != 1 {
				t.Fatalf("unexpected counts %+v", stats)
			}
			if stats.Subscribed != 10 || stats.EngagedParticipants != 8 || stats.EngagementPercent != 80 {
				t.Fatalf("unexpected engagement %+v", stats)
			}
			if stats.MatchingSuccessPercent != 25 {
				t.Fatalf("unexpected success rate %v", stats.MatchingSuccessPercent)
			}
			if stats.AverageRating == nil || *stats.AverageRating != 4 {
				t.Fatalf("unexpected average rating %v", stats.AverageRating)
			}
		})
	}
}

func TestPublishStatsOncePerWeek(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	seedStatsWeek(t, env)
	ctx := context.Background()

	env.recorder.FailFor("admin-1")
	_, published, err := env.services.Stats.PublishStats(ctx)
	if !errors.Is(err, ErrDelivery) || published {
		t.Fatalf("expected delivery error, got %v, %v", published, err)
	}

	env.recorder.Recover()
	stats, published, err := env.services.Stats.PublishStats(ctx)
	if err != nil || !published {
		t.Fatalf("expected stats to be published after recovery, got %v, %v", published, err)
	}
	if stats.Meetings != 4 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	reports := env.recorder.To("admin-1")
	if len(reports) != 1 || !strings.Contains(reports[0], "Matching success: 25.00%") {
		t.Fatalf("unexpected reports %v", reports)
	}

	_, published, err = env.services.Stats.PublishStats(ctx)
	if err != nil || published {
		t.Fatalf("expected second publish in the same week to be skipped, got %v, %v", published, err)
	}
}

func TestFormatWeeklyStatsWithoutRatings(t *testing.T) {
	t.Parallel()

	text := FormatWeeklyStats(WeeklyStats{WeekStart: testfixtures.WeekStart()})
	if !strings.Contains(text, "week of 2024-01-08") || !strings.Contains(text, "Average rating: n/a") {
		t.Fatalf("unexpected report %q", text)
	}
}
