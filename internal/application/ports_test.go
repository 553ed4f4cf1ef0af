package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDependenciesDefaultIDGenerator(t *testing.T) {
	t.Parallel()

	deps := Dependencies{}.normalized()
	first, second := deps.IDGenerator(), deps.IDGenerator()
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("expected a UUID, got %q: %v", first, err)
	}
	if first == second {
		t.Fatalf("expected distinct ids, got %q twice", first)
	}
}

func TestProposeWorksWithoutExplicitIDGenerator(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.deps.IDGenerator = nil
	env.services = NewServices(env.deps)
	meeting := env.seedMeeting(t)

	proposal, err := env.services.Negotiation.Propose(context.Background(), ProposeParams{
		MeetingID:     meeting.ID,
		ParticipantID: "alice",
		Input:         ProposalInput{ScheduledAt: env.clock.Now().Add(26 * time.Hour), Format: "online"},
	})
	if err != nil {
		t.Fatalf("Propose returned error: %v", err)
	}
	if proposal.ID == "" {
		t.Fatal("expected the proposal to receive an id")
	}
	stored, err := env.store.ListProposals(context.Background(), meeting.ID)
	if err != nil || len(stored) != 1 || stored[0].ID != proposal.ID {
		t.Fatalf("expected the proposal to be stored, got %v, %v", stored, err)
	}
}
