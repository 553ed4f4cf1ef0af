package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
)

const maxMessageLength = 4000

var relayableStatuses = []persistence.MeetingStatus{persistence.MeetingScheduling, persistence.MeetingConfirmed}

// RelayParams describes a message sent through the relay.
type RelayParams struct {
	MeetingID string
	SenderID  string
	Text      string
}

// RelayService forwards free text between the two parties of a meeting
// without revealing who sent it.
type RelayService struct {
	meetings     persistence.MeetingRepository
	messages     persistence.MessageRepository
	participants persistence.ParticipantRepository
	deliver      Deliverer
	idGenerator  func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewRelayService constructs a relay service.
func NewRelayService(deps Dependencies) *RelayService {
	deps = deps.normalized()
	return &RelayService{
		meetings:     deps.Store,
		messages:     deps.Store,
		participants: deps.Store,
		deliver:      deps.Deliverer,
		idGenerator:  deps.IDGenerator,
		now:          deps.Now,
		logger:       deps.Logger,
	}
}

func (s *RelayService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RelayService", operation, attrs...)
}

// Relay stores the message and makes a single delivery attempt to the
// partner. It reports whether the message was delivered; an undelivered
// message stays stored with forwarded unset and is not retried.
func (s *RelayService) Relay(ctx context.Context, params RelayParams) (delivered bool, err error) {
	if s == nil {
		err = fmt.Errorf("RelayService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Relay",
		"meeting_id", params.MeetingID,
		"participant_id", params.SenderID,
	)
	var message persistence.Message
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "message not relayed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		if !delivered {
			derr := &DeliveryError{Recipient: "partner"}
			logger.WarnContext(ctx, "message stored but not delivered", "message_id", message.ID, "error", derr, "error_kind", ErrorKind(derr))
			return
		}
		logger.With("message_id", message.ID).InfoContext(ctx, "message relayed")
	}()

	text := strings.TrimSpace(params.Text)
	vErr := &ValidationError{}
	switch {
	case text == "":
		vErr.add("text", "message text is required")
	case len([]rune(text)) > maxMessageLength:
		vErr.add("text", fmt.Sprintf("message must be at most %d characters", maxMessageLength))
	}
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
	if !meeting.Involves(params.SenderID) {
		vErr.add("participant_id", "participant is not part of this meeting")
		err = vErr
		return
	}
	if !persistence.ContainsMeetingStatus(relayableStatuses, meeting.Status) {
		err = &StateConflictError{MeetingID: meeting.ID, Status: string(meeting.Status), Operation: "relay a message for"}
		return
	}

	displayName := ""
	if sender, perr := s.participants.GetParticipant(ctx, params.SenderID); perr == nil {
		displayName = sender.DisplayName
	}

	message = persistence.Message{
		ID:        s.idGenerator(),
		MeetingID: meeting.ID,
		SenderID:  params.SenderID,
		Text:      text,
		CreatedAt: s.now(),
	}
	if err = s.messages.CreateMessage(ctx, message); err != nil {
		err = mapRepoError(err, "message", message.ID)
		return
	}

	if s.deliver == nil {
		return
	}
	outgoing := fmt.Sprintf("Message from your partner %s:\n\n%s", meeting.CodeOf(params.SenderID), scrubIdentity(text, displayName))
	if !s.deliver.Deliver(ctx, meeting.PartnerOf(params.SenderID), outgoing) {
		return
	}

	delivered = true
	if err = s.messages.MarkForwarded(ctx, message.ID); err != nil {
		err = fmt.Errorf("mark message %s forwarded: %w", message.ID, err)
	}
	return
}

// History returns the messages exchanged in a meeting, oldest first.
func (s *RelayService) History(ctx context.Context, meetingID string) ([]persistence.Message, error) {
	if _, err := s.meetings.GetMeeting(ctx, meetingID); err != nil {
		return nil, mapRepoError(err, "meeting", meetingID)
	}
	return s.messages.ListMessages(ctx, meetingID)
}
