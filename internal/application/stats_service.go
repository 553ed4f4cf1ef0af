package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/recurrence"
)

const jobPublishStats = "publish_stats"

// WeeklyStats summarises one calendar week.
type WeeklyStats struct {
	WeekStart              time.Time
	Sessions               int
	Meetings               int
	Completed              int
	Cancelled              int
	Failed                 int
	Subscribed             int
	EngagedParticipants    int
	EngagementPercent      float64
	MatchingSuccessPercent float64
	AverageRating          *float64
}

// StatsService computes and publishes weekly statistics.
type StatsService struct {
	store    persistence.Store
	deliver  Deliverer
	now      func() time.Time
	settings Settings
	logger   *slog.Logger
}

// NewStatsService constructs a stats service.
func NewStatsService(deps Dependencies) *StatsService {
	deps = deps.normalized()
	return &StatsService{
		store:    deps.Store,
		deliver:  deps.Deliverer,
		now:      deps.Now,
		settings: deps.Settings,
		logger:   deps.Logger,
	}
}

func (s *StatsService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "StatsService", operation, attrs...)
}

// Compute gathers the statistics of the week containing at.
func (s *StatsService) Compute(ctx context.Context, at time.Time) (WeeklyStats, error) {
	weekStart := recurrence.WeekStart(at, s.settings.Location)
	stats := WeeklyStats{WeekStart: weekStart}
	nextWeek := weekStart.AddDate(0, 0, 7)

	sessions, err := s.store.ListSessions(ctx, persistence.SessionFilter{WeekStartBefore: &nextWeek})
	if err != nil {
		return stats, err
	}

	engaged := make(map[string]bool)
	ratingSum, rated := 0.0, 0
	for _, session := range sessions {
		// Stored week starts may carry a different zone; compare calendar dates.
		if session.WeekStart.Format("2006-01-02") != weekStart.Format("2006-01-02") {
			continue
		}
		stats.Sessions++

		meetings, err := s.store.ListMeetings(ctx, persistence.MeetingFilter{SessionID: session.ID})
		if err != nil {
			return stats, err
		}
		for _, m := range meetings {
			stats.Meetings++
			engaged[m.ParticipantA], engaged[m.ParticipantB] = true, true
			switch m.Status {
			case persistence.MeetingCompleted:
				stats.Completed++
			case persistence.MeetingCancelled:
				stats.Cancelled++
			case persistence.MeetingFailed:
				stats.Failed++
			}
			if m.AverageRating != nil {
				ratingSum += *m.AverageRating
				rated++
			}
		}
	}

	subscribed, err := s.store.ListSubscribed(ctx, s.settings.MatchingCategory)
	if err != nil {
		return stats, err
	}
	stats.Subscribed = len(subscribed)
	stats.EngagedParticipants = len(engaged)
	if stats.Subscribed > 0 {
		stats.EngagementPercent = roundRating(float64(stats.EngagedParticipants) / float64(stats.Subscribed) * 100)
	}
	if stats.Meetings > 0 {
		stats.MatchingSuccessPercent = roundRating(float64(stats.Completed) / float64(stats.Meetings) * 100)
	}
	if rated > 0 {
		avg := roundRating(ratingSum / float64(rated))
		stats.AverageRating = &avg
	}
	return stats, nil
}

// PublishStats sends the current week's statistics to the administrators,
// once per week. It reports whether this call published them.
func (s *StatsService) PublishStats(ctx context.Context) (stats WeeklyStats, published bool, err error) {
	now := s.now()
	week := recurrence.DateKey(recurrence.WeekStart(now, s.settings.Location), s.settings.Location)
	logger := s.loggerWith(ctx, "PublishStats", "week_start", week)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to publish weekly stats", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if published {
			logger.InfoContext(ctx, "weekly stats published", "meetings", stats.Meetings, "completed", stats.Completed)
		}
	}()

	published, err = once(ctx, s.store, s.now, jobPublishStats, "weekly_stats_"+week, func() error {
		var cerr error
		stats, cerr = s.Compute(ctx, now)
		if cerr != nil {
			return cerr
		}
		if deliverAll(ctx, s.deliver, s.settings.AdminIDs, FormatWeeklyStats(stats)) == 0 {
			return &DeliveryError{Recipient: "admins"}
		}
		return nil
	})
	return
}

// FormatWeeklyStats renders stats as a plain text report.
func FormatWeeklyStats(stats WeeklyStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Secret coffee weekly report (week of %s)\n", stats.WeekStart.Format("2006-01-02"))
	fmt.Fprintf(&b, "Sessions: %d\n", stats.Sessions)
	fmt.Fprintf(&b, "Meetings: %d (completed %d, cancelled %d, failed %d)\n", stats.Meetings, stats.Completed, stats.Cancelled, stats.Failed)
	fmt.Fprintf(&b, "Subscribed participants: %d\n", stats.Subscribed)
	fmt.Fprintf(&b, "Engagement: %.2f%%\n", stats.EngagementPercent)
	fmt.Fprintf(&b, "Matching success: %.2f%%\n", stats.MatchingSuccessPercent)
	if stats.AverageRating != nil {
		fmt.Fprintf(&b, "Average rating: %.2f", *stats.AverageRating)
	} else {
		b.WriteString("Average rating: n/a")
	}
	return b.String()
}
