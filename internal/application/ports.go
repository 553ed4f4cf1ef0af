package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/secret-coffee/internal/matching"
	"github.com/example/secret-coffee/internal/persistence"
)

// Deliverer pushes text to a participant or a configured operator chat.
type Deliverer interface {
	Deliver(ctx context.Context, recipient, text string) bool
}

// PairMatcher partitions candidates into pairs.
type PairMatcher interface {
	ComputePairs(ctx context.Context, candidates []matching.Candidate) []matching.Pair
}

// Anonymizer issues pseudonymous identifiers.
type Anonymizer interface {
	NewMeetingID() string
	NewParticipantCode() string
	NewRecognitionSign() string
}

// Settings holds the tunable policy values shared by the services.
type Settings struct {
	MaxProposals         int
	InactivityWindow     time.Duration
	FeedbackWindow       time.Duration
	FeedbackReminderLead time.Duration
	// AggregationDelay is how long after the feedback deadline ratings are aggregated.
	AggregationDelay    time.Duration
	CompletionGrace     time.Duration
	MeetingReminderLead time.Duration
	Location            *time.Location
	ActivityCategories  []string
	MatchingCategory    string
	ModeratorIDs        []string
	AdminIDs            []string
}

// DefaultSettings returns the reference policy values.
func DefaultSettings() Settings {
	return Settings{
		MaxProposals:         3,
		InactivityWindow:     48 * time.Hour,
		FeedbackWindow:       48 * time.Hour,
		FeedbackReminderLead: 24 * time.Hour,
		AggregationDelay:     5 * time.Minute,
		CompletionGrace:      2 * time.Hour,
		MeetingReminderLead:  time.Hour,
		Location:             time.UTC,
		ActivityCategories:   []string{"secret_coffee"},
		MatchingCategory:     "secret_coffee",
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.MaxProposals <= 0 {
		s.MaxProposals = def.MaxProposals
	}
	if s.InactivityWindow <= 0 {
		s.InactivityWindow = def.InactivityWindow
	}
	if s.FeedbackWindow <= 0 {
		s.FeedbackWindow = def.FeedbackWindow
	}
	if s.FeedbackReminderLead <= 0 {
		s.FeedbackReminderLead = def.FeedbackReminderLead
	}
	if s.AggregationDelay < 0 {
		s.AggregationDelay = 0
	}
	if s.CompletionGrace < 0 {
		s.CompletionGrace = 0
	}
	if s.MeetingReminderLead <= 0 {
		s.MeetingReminderLead = def.MeetingReminderLead
	}
	if s.Location == nil {
		s.Location = def.Location
	}
	if len(s.ActivityCategories) == 0 {
		s.ActivityCategories = def.ActivityCategories
	}
	if s.MatchingCategory == "" {
		s.MatchingCategory = def.MatchingCategory
	}
	if len(s.AdminIDs) == 0 {
		s.AdminIDs = s.ModeratorIDs
	}
	return s
}

// Dependencies are the collaborators shared by every service.
type Dependencies struct {
	Store       persistence.Store
	Deliverer   Deliverer
	Matcher     PairMatcher
	Anonymizer  Anonymizer
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
	Settings    Settings
}

func (d Dependencies) normalized() Dependencies {
	if d.IDGenerator == nil {
		d.IDGenerator = uuid.NewString
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Logger = defaultLogger(d.Logger)
	d.Settings = d.Settings.withDefaults()
	return d
}

// Services bundles every application service over one set of dependencies.
type Services struct {
	Meetings    *MeetingService
	Negotiation *NegotiationService
	Relay       *RelayService
	Safety      *SafetyService
	Feedback    *FeedbackService
	Cohorts     *CohortService
	Reminders   *ReminderService
	Stats       *StatsService
}

// NewServices wires all services.
func NewServices(deps Dependencies) *Services {
	deps = deps.normalized()
	feedback := NewFeedbackService(deps)
	return &Services{
		Meetings:    NewMeetingService(deps),
		Negotiation: NewNegotiationService(deps),
		Relay:       NewRelayService(deps),
		Safety:      NewSafetyService(deps),
		Feedback:    feedback,
		Cohorts:     NewCohortService(deps),
		Reminders:   NewReminderService(deps),
		Stats:       NewStatsService(deps),
	}
}

func mapRepoError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return &NotFoundError{Resource: resource, ID: id}
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %s %s", ErrAlreadyExists, resource, id)
	case errors.Is(err, persistence.ErrLimitReached):
		return ErrLimitExceeded
	}
	return err
}

func deliverAll(ctx context.Context, d Deliverer, recipients []string, text string) int {
	if d == nil {
		return 0
	}
	delivered := 0
	for _, r := range recipients {
		if d.Deliver(ctx, r, text) {
			delivered++
		}
	}
	return delivered
}
