package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/secret-coffee/internal/matching"
	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/recurrence"
)

const (
	// maxIdentifierAttempts bounds regeneration of meeting ids and codes that
	// collide with ones already issued.
	maxIdentifierAttempts = 5

	jobRunMatching = "run_matching"
)

// MatchingReport summarises one matching run.
type MatchingReport struct {
	SessionID  string
	Candidates int
	Pairs      int
	Created    int
	// Started counts meetings moved from planned to scheduling, including
	// ones left planned by an earlier run.
	Started   int
	Unmatched []string
}

// CohortService creates weekly sessions and pairs their participants into meetings.
type CohortService struct {
	store       persistence.Store
	matcher     PairMatcher
	anonymizer  Anonymizer
	deliver     Deliverer
	idGenerator func() string
	now         func() time.Time
	settings    Settings
	logger      *slog.Logger
}

// NewCohortService constructs a cohort service.
func NewCohortService(deps Dependencies) *CohortService {
	deps = deps.normalized()
	return &CohortService{
		store:       deps.Store,
		matcher:     deps.Matcher,
		anonymizer:  deps.Anonymizer,
		deliver:     deps.Deliverer,
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		settings:    deps.Settings,
		logger:      deps.Logger,
	}
}

func (s *CohortService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "CohortService", operation, attrs...)
}

// CreateSessions makes sure every activity category has a session for the
// current week and closes sessions of earlier weeks: active ones complete,
// planned ones are cancelled. Existing sessions are left alone, so repeated
// runs are harmless.
func (s *CohortService) CreateSessions(ctx context.Context) (created int, err error) {
	weekStart := recurrence.WeekStart(s.now(), s.settings.Location)
	logger := s.loggerWith(ctx, "CreateSessions", "week_start", recurrence.DateKey(weekStart, s.settings.Location))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create sessions", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "sessions ensured", "created", created)
	}()

	s.closePastSessions(ctx, logger, weekStart)

	var errs []error
	for _, category := range s.settings.ActivityCategories {
		_, isNew, serr := s.ensureSession(ctx, category, weekStart)
		if serr != nil {
			logger.ErrorContext(ctx, "failed to create session", "category", category, "error", serr)
			errs = append(errs, fmt.Errorf("category %s: %w", category, serr))
			continue
		}
		if isNew {
			created++
		}
	}
	err = errors.Join(errs...)
	return
}

func (s *CohortService) ensureSession(ctx context.Context, category string, weekStart time.Time) (persistence.CohortSession, bool, error) {
	session, err := s.store.FindSession(ctx, category, weekStart)
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return persistence.CohortSession{}, false, err
	}

	now := s.now()
	session = persistence.CohortSession{
		ID:        s.idGenerator(),
		Category:  category,
		WeekStart: weekStart,
		Status:    persistence.SessionPlanned,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			// Another run created it first.
			existing, ferr := s.store.FindSession(ctx, category, weekStart)
			return existing, false, ferr
		}
		return persistence.CohortSession{}, false, err
	}
	return session, true, nil
}

func (s *CohortService) closePastSessions(ctx context.Context, logger *slog.Logger, weekStart time.Time) {
	past, err := s.store.ListSessions(ctx, persistence.SessionFilter{
		Statuses:        []persistence.SessionStatus{persistence.SessionPlanned, persistence.SessionActive},
		WeekStartBefore: &weekStart,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to list past sessions", "error", err)
		return
	}
	for _, session := range past {
		to := persistence.SessionCompleted
		if session.Status == persistence.SessionPlanned {
			to = persistence.SessionCancelled
		}
		if err := s.store.UpdateSessionStatus(ctx, session.ID, []persistence.SessionStatus{session.Status}, to, s.now()); err != nil {
			logger.WarnContext(ctx, "failed to close session", "session_id", session.ID, "error", err)
			continue
		}
		logger.InfoContext(ctx, "session closed", "session_id", session.ID, "status", string(to))
	}
}

// RunMatching pairs the subscribed, not yet paired participants of the
// current week's matching session. Every pair becomes a meeting that moves
// straight to scheduling and both parties get an introduction. Planned
// meetings left behind by an earlier run are moved on as well. A pair that
// fails to persist is logged and skipped. The session turns active once it
// holds at least one meeting.
func (s *CohortService) RunMatching(ctx context.Context) (report MatchingReport, err error) {
	if s == nil {
		err = fmt.Errorf("CohortService is nil")
		return
	}

	category := s.settings.MatchingCategory
	weekStart := recurrence.WeekStart(s.now(), s.settings.Location)
	logger := s.loggerWith(ctx, "RunMatching", "category", category)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "matching run failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "matching run finished",
			"session_id", report.SessionID,
			"candidates", report.Candidates,
			"pairs", report.Pairs,
			"created", report.Created,
			"started", report.Started,
			"unmatched", len(report.Unmatched),
		)
	}()

	var session persistence.CohortSession
	session, _, err = s.ensureSession(ctx, category, weekStart)
	if err != nil {
		return
	}
	report.SessionID = session.ID
	if session.Status != persistence.SessionPlanned && session.Status != persistence.SessionActive {
		err = fmt.Errorf("%w: session %s is %s", ErrStateConflict, session.ID, session.Status)
		return
	}

	var candidates []persistence.Participant
	candidates, err = s.unpairedCandidates(ctx, session)
	if err != nil {
		return
	}
	report.Candidates = len(candidates)

	byID := make(map[string]persistence.Participant, len(candidates))
	input := make([]matching.Candidate, 0, len(candidates))
	for _, p := range candidates {
		byID[p.ID] = p
		input = append(input, matching.Candidate{ID: p.ID, Group: p.Group, Avoid: s.avoidList(ctx, logger, p)})
	}

	var pairs []matching.Pair
	if len(input) >= 2 && s.matcher != nil {
		pairs = s.matcher.ComputePairs(ctx, input)
	}
	report.Pairs = len(pairs)

	paired := make(map[string]bool, len(candidates))
	for _, pair := range pairs {
		a, okA := byID[pair.A]
		b, okB := byID[pair.B]
		if !okA || !okB || a.ID == b.ID {
			logger.WarnContext(ctx, "skipping pair with unknown participants", "participant_a", pair.A, "participant_b", pair.B)
			continue
		}
		meeting, cerr := s.createMeeting(ctx, session, a, b)
		if cerr != nil {
			logger.WarnContext(ctx, "skipping pair", "participant_a", a.ID, "participant_b", b.ID, "error", cerr, "error_kind", ErrorKind(cerr))
			continue
		}
		paired[a.ID], paired[b.ID] = true, true
		report.Created++
		logger.InfoContext(ctx, "meeting created", "meeting_id", meeting.ID)
	}
	for _, p := range candidates {
		if !paired[p.ID] {
			report.Unmatched = append(report.Unmatched, p.ID)
		}
	}

	report.Started = s.startScheduling(ctx, logger, session.ID)
	s.activate(ctx, logger, session)
	s.sendIntroductions(ctx, logger, session.ID)
	return
}

func (s *CohortService) unpairedCandidates(ctx context.Context, session persistence.CohortSession) ([]persistence.Participant, error) {
	subscribed, err := s.store.ListSubscribed(ctx, session.Category)
	if err != nil {
		return nil, err
	}
	pairedIDs, err := s.store.PairedParticipantIDs(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	paired := make(map[string]bool, len(pairedIDs))
	for _, id := range pairedIDs {
		paired[id] = true
	}

	out := make([]persistence.Participant, 0, len(subscribed))
	for _, p := range subscribed {
		if !paired[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

// avoidList combines the participant's own exclusions with everyone they
// have been paired with before.
func (s *CohortService) avoidList(ctx context.Context, logger *slog.Logger, p persistence.Participant) []string {
	avoid := append([]string(nil), p.Avoid...)
	previous, err := s.store.ListMeetings(ctx, persistence.MeetingFilter{ParticipantID: p.ID})
	if err != nil {
		logger.WarnContext(ctx, "failed to load previous partners", "participant_id", p.ID, "error", err)
		return avoid
	}
	for _, m := range previous {
		avoid = append(avoid, m.PartnerOf(p.ID))
	}
	return avoid
}

// createMeeting persists a planned meeting for the pair, regenerating
// identifiers on collision.
func (s *CohortService) createMeeting(ctx context.Context, session persistence.CohortSession, a, b persistence.Participant) (persistence.Meeting, error) {
	if s.anonymizer == nil {
		return persistence.Meeting{}, fmt.Errorf("anonymizer not configured")
	}

	var meeting persistence.Meeting
	var err error
	for attempt := 1; attempt <= maxIdentifierAttempts; attempt++ {
		now := s.now()
		meeting = persistence.Meeting{
			ID:              s.anonymizer.NewMeetingID(),
			SessionID:       session.ID,
			ParticipantA:    a.ID,
			ParticipantB:    b.ID,
			CodeA:           s.anonymizer.NewParticipantCode(),
			CodeB:           s.anonymizer.NewParticipantCode(),
			RecognitionSign: s.anonymizer.NewRecognitionSign(),
			Status:          persistence.MeetingPlanned,
			Format:          MeetingFormatFor(a.PreferredFormat, b.PreferredFormat),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if meeting.CodeA == meeting.CodeB {
			err = persistence.ErrDuplicate
			continue
		}
		err = s.store.CreateMeeting(ctx, meeting)
		if err == nil {
			break
		}
		if errors.Is(err, persistence.ErrAlreadyPaired) {
			return persistence.Meeting{}, fmt.Errorf("%w: participant already paired in session %s", ErrAlreadyExists, session.ID)
		}
		if !errors.Is(err, persistence.ErrDuplicate) {
			return persistence.Meeting{}, err
		}
	}
	if err != nil {
		return persistence.Meeting{}, fmt.Errorf("could not issue unique identifiers after %d attempts: %w", maxIdentifierAttempts, err)
	}

	return meeting, nil
}

// startScheduling moves every planned meeting of the session to scheduling.
// A meeting whose transition fails stays planned and is picked up again by
// the next matching run.
func (s *CohortService) startScheduling(ctx context.Context, logger *slog.Logger, sessionID string) int {
	planned, err := s.store.ListMeetings(ctx, persistence.MeetingFilter{
		SessionID: sessionID,
		Statuses:  []persistence.MeetingStatus{persistence.MeetingPlanned},
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to list planned meetings", "error", err)
		return 0
	}

	started := 0
	for _, meeting := range planned {
		err := s.store.TransitionMeeting(ctx, meeting.ID, []persistence.MeetingStatus{persistence.MeetingPlanned}, persistence.MeetingScheduling, s.now())
		switch {
		case err == nil:
			started++
		case errors.Is(err, persistence.ErrConflict):
			// Moved on concurrently.
		default:
			logger.WarnContext(ctx, "meeting left planned", "meeting_id", meeting.ID, "error", err)
		}
	}
	return started
}

func (s *CohortService) activate(ctx context.Context, logger *slog.Logger, session persistence.CohortSession) {
	if session.Status != persistence.SessionPlanned {
		return
	}
	meetings, err := s.store.ListMeetings(ctx, persistence.MeetingFilter{SessionID: session.ID})
	if err != nil || len(meetings) == 0 {
		return
	}
	err = s.store.UpdateSessionStatus(ctx, session.ID, []persistence.SessionStatus{persistence.SessionPlanned}, persistence.SessionActive, s.now())
	if err != nil && !errors.Is(err, persistence.ErrConflict) {
		logger.WarnContext(ctx, "failed to activate session", "session_id", session.ID, "error", err)
	}
}

// sendIntroductions tells each party of every scheduling meeting in the
// session its code, the recognition sign and who starts planning. Each
// introduction is sent at most once per participant.
func (s *CohortService) sendIntroductions(ctx context.Context, logger *slog.Logger, sessionID string) {
	meetings, err := s.store.ListMeetings(ctx, persistence.MeetingFilter{
		SessionID: sessionID,
		Statuses:  []persistence.MeetingStatus{persistence.MeetingScheduling},
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to list meetings for introductions", "error", err)
		return
	}

	for _, meeting := range meetings {
		for _, pid := range []string{meeting.ParticipantA, meeting.ParticipantB} {
			text := introductionText(meeting, pid)
			key := fmt.Sprintf("meeting_intro_%s_%s", meeting.ID, pid)
			_, ierr := once(ctx, s.store, s.now, jobRunMatching, key, func() error {
				if s.deliver == nil || !s.deliver.Deliver(ctx, pid, text) {
					return &DeliveryError{Recipient: pid}
				}
				return nil
			})
			if ierr != nil {
				logger.WarnContext(ctx, "introduction not delivered", "meeting_id", meeting.ID, "participant_id", pid, "error", ierr, "error_kind", ErrorKind(ierr))
			}
		}
	}
}

func introductionText(meeting persistence.Meeting, participantID string) string {
	partner := meeting.PartnerOf(participantID)
	next := "Your partner will suggest a time first; you can also message them through the bot."
	if participantID == meeting.ParticipantA {
		next = "You start: suggest a time and place for the meeting."
	}
	return fmt.Sprintf("You have a secret coffee partner this week!\nMeeting: %s\nYour code: %s\nPartner's code: %s\nFormat: %s\nRecognition sign: %s\n%s",
		meeting.ID, meeting.CodeOf(participantID), meeting.CodeOf(partner), meeting.Format, meeting.RecognitionSign, next)
}

// MeetingFormatFor derives a meeting's format from both preferences: offline
// only when both want offline, online otherwise.
func MeetingFormatFor(a, b persistence.MeetingFormat) persistence.MeetingFormat {
	if a == persistence.FormatOffline && b == persistence.FormatOffline {
		return persistence.FormatOffline
	}
	return persistence.FormatOnline
}
