package testfixtures

import (
	"context"
	"testing"
)

func TestIDGeneratorProducesSequentialIDs(t *testing.T) {
	t.Parallel()

	gen := NewIDGenerator("entity")
	if first, second := gen.Next(), gen.Next(); first != "entity-1" || second != "entity-2" {
		t.Fatalf("unexpected identifiers: %q, %q", first, second)
	}
}

func TestAnonymizerReturnsQueuedValuesFirst(t *testing.T) {
	t.Parallel()

	a := NewAnonymizer()
	a.QueueMeetingIDs("SC_DUPLICAT")
	a.QueueCodes("SAME_CODE_01", "SAME_CODE_01")

	if got := a.NewMeetingID(); got != "SC_DUPLICAT" {
		t.Fatalf("expected queued meeting id, got %q", got)
	}
	if got := a.NewMeetingID(); got != "SC_TEST0001" {
		t.Fatalf("expected generated meeting id after queue drained, got %q", got)
	}
	if a.NewParticipantCode() != "SAME_CODE_01" || a.NewParticipantCode() != "SAME_CODE_01" {
		t.Fatalf("expected queued codes")
	}
	if got := a.NewParticipantCode(); got != "QUIET_FOX_01" {
		t.Fatalf("expected generated code, got %q", got)
	}
}

func TestRecorderFailsForMarkedRecipients(t *testing.T) {
	t.Parallel()

	r := NewRecorder()
	r.FailFor("bob")
	if !r.Deliver(context.Background(), "alice", "hi") {
		t.Fatalf("expected delivery to alice")
	}
	if r.Deliver(context.Background(), "bob", "hi") {
		t.Fatalf("expected delivery to bob to fail")
	}
	if len(r.All()) != 2 || len(r.To("bob")) != 0 || r.Containing("hi") != 1 {
		t.Fatalf("unexpected recorder state %+v", r.All())
	}
}
