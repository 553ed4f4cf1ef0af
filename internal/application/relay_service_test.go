package application

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/testfixtures"
)

func TestRelayScrubsIdentityAndMarksForwarded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	ctx := context.Background()

	delivered, err := env.services.Relay.Relay(ctx, RelayParams{
		MeetingID: meeting.ID,
		SenderID:  "alice",
		Text:      "Hi! I'm Alice, write me at alice.j@example.com or +7 (912) 345-67-89, or @alicej. Johnson says hello.",
	})
	if err != nil {
		t.Fatalf("Relay returned error: %v", err)
	}
	if !delivered {
		t.Fatalf("expected message to be delivered")
	}

	notices := env.recorder.To("bob")
	if len(notices) != 1 {
		t.Fatalf("expected one message to bob, got %d", len(notices))
	}
	got := notices[0]
	for _, leaked := range []string{"Alice", "alice.j@example.com", "345-67-89", "@alicej", "Johnson"} {
		if strings.Contains(got, leaked) {
			t.Fatalf("relayed text leaks %q: %q", leaked, got)
		}
	}
	if !strings.Contains(got, meeting.CodeA) {
		t.Fatalf("expected sender code in relayed text: %q", got)
	}

	history, err := env.services.Relay.History(ctx, meeting.ID)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history) != 1 || !history[0].Forwarded {
		t.Fatalf("expected one forwarded message, got %+v", history)
	}
	if !strings.Contains(history[0].Text, "alice.j@example.com") {
		t.Fatalf("expected original text to be stored unscrubbed")
	}
}

func TestRelayUndeliveredStaysUnforwarded(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	env.recorder.FailFor("bob")

	delivered, err := env.services.Relay.Relay(context.Background(), RelayParams{MeetingID: meeting.ID, SenderID: "alice", Text: "hello"})
	if err != nil {
		t.Fatalf("Relay returned error: %v", err)
	}
	if delivered {
		t.Fatalf("expected message not to be delivered")
	}
	if attempts := len(env.recorder.All()); attempts != 1 {
		t.Fatalf("expected a single delivery attempt, got %d", attempts)
	}

	history, err := env.services.Relay.History(context.Background(), meeting.ID)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history) != 1 || history[0].Forwarded {
		t.Fatalf("expected stored unforwarded message, got %+v", history)
	}
}

func TestRelayRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	meeting := env.seedMeeting(t)
	ctx := context.Background()

	var vErr *ValidationError
	if _, err := env.services.Relay.Relay(ctx, RelayParams{MeetingID: meeting.ID, SenderID: "alice", Text: "   "}); !errors.As(err, &vErr) {
		t.Fatalf("expected empty text to fail validation, got %v", err)
	}
	if _, err := env.services.Relay.Relay(ctx, RelayParams{MeetingID: meeting.ID, SenderID: "alice", Text: strings.Repeat("a", 4001)}); !errors.As(err, &vErr) {
		t.Fatalf("expected long text to fail validation, got %v", err)
	}
	if _, err := env.services.Relay.Relay(ctx, RelayParams{MeetingID: meeting.ID, SenderID: "mallory", Text: "hi"}); !errors.As(err, &vErr) {
		t.Fatalf("expected outsider to fail validation, got %v", err)
	}
	if _, err := env.services.Relay.Relay(ctx, RelayParams{MeetingID: "SC_NOPE", SenderID: "alice", Text: "hi"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRelayRefusesTerminalMeetings(t *testing.T) {
	t.Parallel()

	for _, status := range []persistence.MeetingStatus{persistence.MeetingCompleted, persistence.MeetingCancelled, persistence.MeetingFailed, persistence.MeetingPlanned} {
		env := newTestEnv(t)
		meeting := env.seedMeeting(t, testfixtures.WithStatus(status))

		_, err := env.services.Relay.Relay(context.Background(), RelayParams{MeetingID: meeting.ID, SenderID: "alice", Text: "hi"})
		if !errors.Is(err, ErrStateConflict) {
			t.Fatalf("status %s: expected state conflict, got %v", status, err)
		}
		history, _ := env.services.Relay.History(context.Background(), meeting.ID)
		if len(history) != 0 {
			t.Fatalf("status %s: expected nothing stored", status)
		}
	}
}

func TestScrubIdentity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, in, displayName, want string
	}{
		{"plain", "See you at noon", "Alice Johnson", "See you at noon"},
		{"date kept", "How about 2024-01-10?", "", "How about 2024-01-10?"},
		{"name part", "alice here", "Alice Johnson", "[hidden] here"},
		{"name inside word kept", "Malice is not a name", "Alice Johnson", "Malice is not a name"},
		{"email", "mail bob@corp.io", "", "mail [hidden]"},
		{"handle", "ping @bobby_s", "", "ping [hidden]"},
		{"short parts ignored", "Al is short", "Al Li", "Al is short"},
	}
	for _, tc := range cases {
		if got := scrubIdentity(tc.in, tc.displayName); got != tc.want {
			t.Fatalf("%s: scrubIdentity(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}
