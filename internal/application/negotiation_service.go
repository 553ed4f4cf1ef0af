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

const maxLocationLength = 200

// ProposalInput is the logistics part of a proposal or counter-proposal.
type ProposalInput struct {
	ScheduledAt time.Time
	Location    string
	Format      persistence.MeetingFormat
}

// ProposeParams describes a new proposal.
type ProposeParams struct {
	MeetingID     string
	ParticipantID string
	Input         ProposalInput
}

// ResponseAction is how a participant answers a proposal.
type ResponseAction string

const (
	ActionAccept  ResponseAction = "accept"
	ActionReject  ResponseAction = "reject"
	ActionCounter ResponseAction = "counter"
)

// RespondParams describes an answer to a pending proposal. Counter is
// required for ActionCounter and ignored otherwise.
type RespondParams struct {
	ProposalID    string
	ParticipantID string
	Action        ResponseAction
	Counter       *ProposalInput
}

// RespondResult carries the records affected by a response.
type RespondResult struct {
	Proposal persistence.Proposal
	Counter  *persistence.Proposal
	Meeting  persistence.Meeting
}

// NegotiationService runs the bounded proposal exchange for meetings in scheduling.
type NegotiationService struct {
	meetings    persistence.MeetingRepository
	proposals   persistence.ProposalRepository
	deliver     Deliverer
	idGenerator func() string
	now         func() time.Time
	settings    Settings
	logger      *slog.Logger
}

// NewNegotiationService constructs a negotiation service.
func NewNegotiationService(deps Dependencies) *NegotiationService {
	deps = deps.normalized()
	return &NegotiationService{
		meetings:    deps.Store,
		proposals:   deps.Store,
		deliver:     deps.Deliverer,
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		settings:    deps.Settings,
		logger:      deps.Logger,
	}
}

func (s *NegotiationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "NegotiationService", operation, attrs...)
}

// Propose records a new offer from a participant and notifies the partner.
// Once the participant holds the maximum number of proposals for the meeting
// the call fails with a LimitExceededError and nothing is stored.
func (s *NegotiationService) Propose(ctx context.Context, params ProposeParams) (proposal persistence.Proposal, err error) {
	if s == nil {
		err = fmt.Errorf("NegotiationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Propose",
		"meeting_id", params.MeetingID,
		"participant_id", params.ParticipantID,
	)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "proposal rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("proposal_id", proposal.ID).InfoContext(ctx, "proposal created")
	}()

	input, vErr := s.validateInput(params.Input, "")
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var meeting persistence.Meeting
	meeting, err = s.schedulingMeeting(ctx, params.MeetingID, params.ParticipantID, "propose")
	if err != nil {
		return
	}

	now := s.now()
	proposal = persistence.Proposal{
		ID:          s.idGenerator(),
		MeetingID:   meeting.ID,
		ProposerID:  params.ParticipantID,
		ScheduledAt: input.ScheduledAt,
		Location:    input.Location,
		Format:      input.Format,
		Status:      persistence.ProposalPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.proposals.CreateProposal(ctx, proposal, s.settings.MaxProposals); err != nil {
		if errors.Is(err, persistence.ErrLimitReached) {
			err = &LimitExceededError{Limit: s.settings.MaxProposals}
			return
		}
		err = mapRepoError(err, "proposal", proposal.ID)
		return
	}

	partner := meeting.PartnerOf(params.ParticipantID)
	s.notify(ctx, logger, partner, fmt.Sprintf("Your partner %s proposes a meeting:\n%s\nProposal: %s. Accept, reject or counter it.",
		meeting.CodeOf(params.ParticipantID), describeLogistics(proposal.ScheduledAt, proposal.Location, proposal.Format, s.settings.Location), proposal.ID))
	return
}

// Respond answers a pending proposal. Only the counterpart of the proposer
// may respond. Accepting confirms the meeting with the proposed logistics;
// rejecting leaves it in scheduling; countering records a new proposal from
// the responder that counts against their limit.
func (s *NegotiationService) Respond(ctx context.Context, params RespondParams) (result RespondResult, err error) {
	if s == nil {
		err = fmt.Errorf("NegotiationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Respond",
		"proposal_id", params.ProposalID,
		"participant_id", params.ParticipantID,
		"action", string(params.Action),
	)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "response rejected", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("meeting_id", result.Meeting.ID, "meeting_status", string(result.Meeting.Status)).InfoContext(ctx, "proposal answered")
	}()

	vErr := &ValidationError{}
	var counter ProposalInput
	switch params.Action {
	case ActionAccept, ActionReject:
	case ActionCounter:
		if params.Counter == nil {
			vErr.add("counter", "counter proposal is required")
			break
		}
		var cErr *ValidationError
		counter, cErr = s.validateInput(*params.Counter, "counter.")
		vErr.merge(cErr)
	default:
		vErr.add("action", "action must be accept, reject or counter")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var proposal persistence.Proposal
	proposal, err = s.proposals.GetProposal(ctx, params.ProposalID)
	if err != nil {
		err = mapRepoError(err, "proposal", params.ProposalID)
		return
	}

	var meeting persistence.Meeting
	meeting, err = s.schedulingMeeting(ctx, proposal.MeetingID, params.ParticipantID, "respond to proposal for")
	if err != nil {
		return
	}
	if proposal.ProposerID == params.ParticipantID {
		vErr.add("participant_id", "a proposal cannot be answered by its author")
		err = vErr
		return
	}
	if proposal.Status != persistence.ProposalPending {
		err = &StateConflictError{MeetingID: meeting.ID, Status: string(proposal.Status), Operation: "respond to proposal " + proposal.ID + " for"}
		return
	}

	now := s.now()
	responderCode := meeting.CodeOf(params.ParticipantID)
	switch params.Action {
	case ActionAccept:
		if err = s.proposals.AcceptProposal(ctx, proposal.ID, now); err != nil {
			err = s.conflictOrMapped(ctx, err, meeting, proposal, "accept proposal for")
			return
		}
		meeting, err = s.meetings.GetMeeting(ctx, meeting.ID)
		if err != nil {
			err = mapRepoError(err, "meeting", proposal.MeetingID)
			return
		}
		proposal.Status = persistence.ProposalAccepted
		proposal.UpdatedAt = now

		text := fmt.Sprintf("Secret coffee %s is confirmed:\n%s\nRecognition sign: %s",
			meeting.ID, describeLogistics(proposal.ScheduledAt, proposal.Location, proposal.Format, s.settings.Location), meeting.RecognitionSign)
		s.notify(ctx, logger, meeting.ParticipantA, text)
		s.notify(ctx, logger, meeting.ParticipantB, text)

	case ActionReject:
		if err = s.proposals.ResolveProposal(ctx, proposal.ID, persistence.ProposalRejected, now); err != nil {
			err = s.conflictOrMapped(ctx, err, meeting, proposal, "reject proposal for")
			return
		}
		proposal.Status = persistence.ProposalRejected
		proposal.UpdatedAt = now
		s.notify(ctx, logger, proposal.ProposerID, fmt.Sprintf("Your partner %s declined proposal %s. Feel free to suggest another time.", responderCode, proposal.ID))

	case ActionCounter:
		next := persistence.Proposal{
			ID:          s.idGenerator(),
			MeetingID:   meeting.ID,
			ProposerID:  params.ParticipantID,
			ScheduledAt: counter.ScheduledAt,
			Location:    counter.Location,
			Format:      counter.Format,
			Status:      persistence.ProposalPending,
			ParentID:    proposal.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err = s.proposals.CounterProposal(ctx, proposal.ID, next, s.settings.MaxProposals); err != nil {
			if errors.Is(err, persistence.ErrLimitReached) {
				err = &LimitExceededError{Limit: s.settings.MaxProposals}
				return
			}
			err = s.conflictOrMapped(ctx, err, meeting, proposal, "counter proposal for")
			return
		}
		proposal.Status = persistence.ProposalCountered
		proposal.UpdatedAt = now
		result.Counter = &next
		s.notify(ctx, logger, proposal.ProposerID, fmt.Sprintf("Your partner %s suggests another option:\n%s\nProposal: %s. Accept, reject or counter it.",
			responderCode, describeLogistics(next.ScheduledAt, next.Location, next.Format, s.settings.Location), next.ID))
	}

	result.Proposal = proposal
	result.Meeting = meeting
	return
}

// ListProposals returns the negotiation history of a meeting, oldest first.
func (s *NegotiationService) ListProposals(ctx context.Context, meetingID string) ([]persistence.Proposal, error) {
	if _, err := s.meetings.GetMeeting(ctx, meetingID); err != nil {
		return nil, mapRepoError(err, "meeting", meetingID)
	}
	return s.proposals.ListProposals(ctx, meetingID)
}

// RemainingProposals reports how many more proposals the participant may make.
func (s *NegotiationService) RemainingProposals(ctx context.Context, meetingID, participantID string) (int, error) {
	count, err := s.proposals.CountProposals(ctx, meetingID, participantID)
	if err != nil {
		return 0, err
	}
	if remaining := s.settings.MaxProposals - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

func (s *NegotiationService) schedulingMeeting(ctx context.Context, meetingID, participantID, operation string) (persistence.Meeting, error) {
	meeting, err := s.meetings.GetMeeting(ctx, meetingID)
	if err != nil {
		return persistence.Meeting{}, mapRepoError(err, "meeting", meetingID)
	}
	if !meeting.Involves(participantID) {
		vErr := &ValidationError{}
		vErr.add("participant_id", "participant is not part of this meeting")
		return persistence.Meeting{}, vErr
	}
	if meeting.Status != persistence.MeetingScheduling {
		return persistence.Meeting{}, &StateConflictError{MeetingID: meeting.ID, Status: string(meeting.Status), Operation: operation}
	}
	return meeting, nil
}

// conflictOrMapped turns a lost conditional update into a StateConflictError
// carrying the status observed afterwards.
func (s *NegotiationService) conflictOrMapped(ctx context.Context, err error, meeting persistence.Meeting, proposal persistence.Proposal, operation string) error {
	if !errors.Is(err, persistence.ErrConflict) {
		return mapRepoError(err, "proposal", proposal.ID)
	}
	status := string(meeting.Status)
	if current, gerr := s.meetings.GetMeeting(ctx, meeting.ID); gerr == nil {
		status = string(current.Status)
		if current.Status == persistence.MeetingScheduling {
			if p, perr := s.proposals.GetProposal(ctx, proposal.ID); perr == nil {
				status = string(p.Status)
			}
		}
	}
	return &StateConflictError{MeetingID: meeting.ID, Status: status, Operation: operation}
}

func (s *NegotiationService) validateInput(input ProposalInput, prefix string) (ProposalInput, *ValidationError) {
	vErr := &ValidationError{}
	input.Location = strings.TrimSpace(input.Location)
	input.Format = persistence.MeetingFormat(strings.ToUpper(strings.TrimSpace(string(input.Format))))

	switch {
	case input.ScheduledAt.IsZero():
		vErr.add(prefix+"scheduled_at", "scheduled time is required")
	case !input.ScheduledAt.After(s.now()):
		vErr.add(prefix+"scheduled_at", "scheduled time must be in the future")
	}

	switch input.Format {
	case persistence.FormatOnline, persistence.FormatOffline:
	default:
		vErr.add(prefix+"format", "format must be ONLINE or OFFLINE")
	}

	if input.Format == persistence.FormatOffline && input.Location == "" {
		vErr.add(prefix+"location", "location is required for offline meetings")
	}
	if len([]rune(input.Location)) > maxLocationLength {
		vErr.add(prefix+"location", fmt.Sprintf("location must be at most %d characters", maxLocationLength))
	}
	return input, vErr
}

func (s *NegotiationService) notify(ctx context.Context, logger *slog.Logger, recipient, text string) {
	if s.deliver == nil || recipient == "" {
		return
	}
	if !s.deliver.Deliver(ctx, recipient, text) {
		err := &DeliveryError{Recipient: recipient}
		logger.WarnContext(ctx, "negotiation notice not delivered", "error", err, "error_kind", ErrorKind(err))
	}
}

func describeLogistics(at time.Time, location string, format persistence.MeetingFormat, loc *time.Location) string {
	when := at
	if loc != nil {
		when = at.In(loc)
	}
	line := fmt.Sprintf("When: %s\nFormat: %s", when.Format("Mon 02 Jan 2006 15:04 MST"), strings.ToLower(string(format)))
	if location != "" {
		line += "\nWhere: " + location
	}
	return line
}
