package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/testfixtures"
)

func onlineAt(env *testEnv, d time.Duration) ProposalInput {
	return ProposalInput{ScheduledAt: env.clock.Now().Add(d), Format: persistence.FormatOnline}
}

func TestProposeValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	now := env.clock.Now()

	cases := []struct {
		name  string
		input ProposalInput
		field string
	}{
		{"missing time", ProposalInput{Format: persistence.FormatOnline}, "scheduled_at"},
		{"past time", ProposalInput{ScheduledAt: now.Add(-time.Hour), Format: persistence.FormatOnline}, "scheduled_at"},
		{"bad format", ProposalInput{ScheduledAt: now.Add(time.Hour), Format: persistence.FormatBoth}, "format"},
		{"offline without location", ProposalInput{ScheduledAt: now.Add(time.Hour), Format: persistence.FormatOffline}, "location"},
		{"location too long", ProposalInput{ScheduledAt: now.Add(time.Hour), Format: persistence.FormatOffline, Location: strings.Repeat("x", 201)}, "location"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.services.Negotiation.Propose(context.Background(), ProposeParams{
				MeetingID:     meeting.ID,
				ParticipantID: "alice",
				Input:         tc.input,
			})
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if _, ok := vErr.FieldErrors[tc.field]; !ok {
				t.Fatalf("expected %s field error, got %v", tc.field, vErr.FieldErrors)
			}
		})
	}

	_, err := env.services.Negotiation.Propose(context.Background(), ProposeParams{
		MeetingID:     meeting.ID,
		ParticipantID: "mallory",
		Input:         onlineAt(env, time.Hour),
	})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected outsider proposal to fail validation, got %v", err)
	}
}

func TestProposeNotifiesPartnerWithCode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)

	proposal, err := env.services.Negotiation.Propose(context.Background(), ProposeParams{
		MeetingID:     meeting.ID,
		ParticipantID: "alice",
		Input:         ProposalInput{ScheduledAt: env.clock.Now().Add(26 * time.Hour), Format: "offline", Location: " Cafe on 3rd floor "},
	})
	if err != nil {
		t.Fatalf("Propose returned error: %v", err)
	}
	if proposal.Status != persistence.ProposalPending || proposal.Format != persistence.FormatOffline || proposal.Location != "Cafe on 3rd floor" {
		t.Fatalf("unexpected proposal %+v", proposal)
	}

	notices := env.recorder.To("bob")
	if len(notices) != 1 {
		t.Fatalf("expected one notice to bob, got %d", len(notices))
	}
	if !strings.Contains(notices[0], meeting.CodeA) || strings.Contains(notices[0], "Alice") {
		t.Fatalf("notice must name the proposer by code only: %q", notices[0])
	}
	if len(env.recorder.To("alice")) != 0 {
		t.Fatalf("proposer should not be notified")
	}
}

func TestProposeLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := env.services.Negotiation.Propose(ctx, ProposeParams{
			MeetingID:     meeting.ID,
			ParticipantID: "alice",
			Input:         onlineAt(env, time.Duration(i)*time.Hour),
		}); err != nil {
			t.Fatalf("proposal %d returned error: %v", i, err)
		}
	}

	_, err := env.services.Negotiation.Propose(ctx, ProposeParams{
		MeetingID:     meeting.ID,
		ParticipantID: "alice",
		Input:         onlineAt(env, 4*time.Hour),
	})
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) || limitErr.Limit != 3 {
		t.Fatalf("expected LimitExceededError with limit 3, got %v", err)
	}

	proposals, err := env.services.Negotiation.ListProposals(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("ListProposals returned error: %v", err)
	}
	if len(proposals) != 3 {
		t.Fatalf("expected rejected proposal not to be stored, got %d proposals", len(proposals))
	}

	remaining, err := env.services.Negotiation.RemainingProposals(ctx, meeting.ID, "alice")
	if err != nil || remaining != 0 {
		t.Fatalf("expected alice to have 0 remaining, got %d, %v", remaining, err)
	}
	remaining, err = env.services.Negotiation.RemainingProposals(ctx, meeting.ID, "bob")
	if err != nil || remaining != 3 {
		t.Fatalf("expected bob to keep his own budget, got %d, %v", remaining, err)
	}
}

func TestProposeRequiresScheduling(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t, testfixtures.WithStatus(persistence.MeetingCancelled))

	_, err := env.services.Negotiation.Propose(context.Background(), ProposeParams{
		MeetingID:     meeting.ID,
		ParticipantID: "alice",
		Input:         onlineAt(env, time.Hour),
	})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestRespondAcceptConfirmsMeeting(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	ctx := context.Background()
	when := env.clock.Now().Add(30 * time.Hour)

	proposal, err := env.services.Negotiation.Propose(ctx, ProposeParams{
		MeetingID:     meeting.ID,
		ParticipantID: "alice",
		Input:         ProposalInput{ScheduledAt: when, Format: persistence.FormatOffline, Location: "Lobby"},
	})
	if err != nil {
		t.Fatalf("Propose returned error: %v", err)
	}

	_, err = env.services.Negotiation.Respond(ctx, RespondParams{ProposalID: proposal.ID, ParticipantID: "alice", Action: ActionAccept})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected author response to fail validation, got %v", err)
	}

	env.recorder.Reset()
	result, err := env.services.Negotiation.Respond(ctx, RespondParams{ProposalID: proposal.ID, ParticipantID: "bob", Action: ActionAccept})
	if err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}
	if result.Proposal.Status != persistence.ProposalAccepted {
		t.Fatalf("expected accepted proposal, got %s", result.Proposal.Status)
	}

	stored := env.meeting(t, meeting.ID)
	if stored.Status != persistence.MeetingConfirmed {
		t.Fatalf("expected confirmed meeting, got %s", stored.Status)
	}
	if stored.ScheduledAt == nil || !stored.ScheduledAt.Equal(when) || stored.Location != "Lobby" || stored.Format != persistence.FormatOffline {
		t.Fatalf("expected logistics copied to meeting, got %+v", stored)
	}
	for _, who := range []string{"alice", "bob"} {
		notices := env.recorder.To(who)
		if len(notices) != 1 || !strings.Contains(notices[0], meeting.RecognitionSign) {
			t.Fatalf("expected %s to receive confirmation with recognition sign, got %v", who, notices)
		}
	}

	_, err = env.services.Negotiation.Respond(ctx, RespondParams{ProposalID: proposal.ID, ParticipantID: "bob", Action: ActionReject})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected responding to a confirmed meeting to conflict, got %v", err)
	}
}

func TestRespondRejectKeepsScheduling(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	ctx := context.Background()

	proposal, err := env.services.Negotiation.Propose(ctx, ProposeParams{MeetingID: meeting.ID, ParticipantID: "alice", Input: onlineAt(env, time.Hour)})
	if err != nil {
		t.Fatalf("Propose returned error: %v", err)
	}
	result, err := env.services.Negotiation.Respond(ctx, RespondParams{ProposalID: proposal.ID, ParticipantID: "bob", Action: ActionReject})
	if err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}
	if result.Proposal.Status != persistence.ProposalRejected || result.Meeting.Status != persistence.MeetingScheduling {
		t.Fatalf("unexpected result %+v", result)
	}

	_, err = env.services.Negotiation.Respond(ctx, RespondParams{ProposalID: proposal.ID, ParticipantID: "bob", Action: ActionAccept})
	var conflict *StateConflictError
	if !errors.As(err, &conflict) || conflict.Status != string(persistence.ProposalRejected) {
		t.Fatalf("expected conflict on resolved proposal, got %v", err)
	}
}

func TestRespondCounterCountsAgainstResponder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	ctx := context.Background()

	proposal, err := env.services.Negotiation.Propose(ctx, ProposeParams{MeetingID: meeting.ID, ParticipantID: "alice", Input: onlineAt(env, time.Hour)})
	if err != nil {
		t.Fatalf("Propose returned error: %v", err)
	}

	_, err = env.services.Negotiation.Respond(ctx, RespondParams{ProposalID: proposal.ID, ParticipantID: "bob", Action: ActionCounter})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected counter without input to fail validation, got %v", err)
	}

	counterInput := onlineAt(env, 5*time.Hour)
	result, err := env.services.Negotiation.Respond(ctx, RespondParams{
		ProposalID:    proposal.ID,
		ParticipantID: "bob",
		Action:        ActionCounter,
		Counter:       &counterInput,
	})
	if err != nil {
		t.Fatalf("Respond returned error: %v", err)
	}
	if result.Proposal.Status != persistence.ProposalCountered {
		t.Fatalf("expected original countered, got %s", result.Proposal.Status)
	}
	if result.Counter == nil || result.Counter.ProposerID != "bob" || result.Counter.ParentID != proposal.ID {
		t.Fatalf("unexpected counter %+v", result.Counter)
	}

	remaining, err := env.services.Negotiation.RemainingProposals(ctx, meeting.ID, "bob")
	if err != nil || remaining != 2 {
		t.Fatalf("expected bob to have 2 proposals left, got %d, %v", remaining, err)
	}

	// alice accepts the counter
	if _, err := env.services.Negotiation.Respond(ctx, RespondParams{ProposalID: result.Counter.ID, ParticipantID: "alice", Action: ActionAccept}); err != nil {
		t.Fatalf("accepting counter returned error: %v", err)
	}
	if got := env.meeting(t, meeting.ID).Status; got != persistence.MeetingConfirmed {
		t.Fatalf("expected confirmed meeting, got %s", got)
	}
}

func TestRespondCounterLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if _, err := env.services.Negotiation.Propose(ctx, ProposeParams{MeetingID: meeting.ID, ParticipantID: "bob", Input: onlineAt(env, time.Duration(i)*time.Hour)}); err != nil {
			t.Fatalf("bob proposal %d returned error: %v", i, err)
		}
	}
	proposal, err := env.services.Negotiation.Propose(ctx, ProposeParams{MeetingID: meeting.ID, ParticipantID: "alice", Input: onlineAt(env, time.Hour)})
	if err != nil {
		t.Fatalf("Propose returned error: %v", err)
	}

	counterInput := onlineAt(env, 8*time.Hour)
	_, err = env.services.Negotiation.Respond(ctx, RespondParams{ProposalID: proposal.ID, ParticipantID: "bob", Action: ActionCounter, Counter: &counterInput})
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}

	stored, err := env.store.GetProposal(ctx, proposal.ID)
	if err != nil {
		t.Fatalf("GetProposal returned error: %v", err)
	}
	if stored.Status != persistence.ProposalPending {
		t.Fatalf("expected original proposal to stay pending, got %s", stored.Status)
	}
}

func TestDescribeLogistics(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.January, 9, 9, 30, 0, 0, time.UTC)
	got := describeLogistics(at, "Lobby", persistence.FormatOffline, testfixtures.Moscow)
	if !strings.Contains(got, "12:30") || !strings.Contains(got, "Where: Lobby") || !strings.Contains(got, "offline") {
		t.Fatalf("unexpected logistics %q", got)
	}
	if strings.Contains(describeLogistics(at, "", persistence.FormatOnline, nil), "Where") {
		t.Fatalf("expected no location line for online meeting")
	}
}
