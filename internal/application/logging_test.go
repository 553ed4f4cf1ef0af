package application

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/example/secret-coffee/internal/logging"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}
	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var base, scoped bytes.Buffer
	baseLogger := slog.New(slog.NewTextHandler(&base, nil))
	ctx := logging.ContextWithLogger(context.Background(), slog.New(slog.NewTextHandler(&scoped, nil)))

	serviceLogger(ctx, baseLogger, "RelayService", "Relay", "meeting_id", "SC_1").Info("hello")

	if base.Len() != 0 {
		t.Fatalf("expected base logger to stay silent, got %q", base.String())
	}
	out := scoped.String()
	for _, want := range []string{"service=RelayService", "operation=Relay", "meeting_id=SC_1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}
