package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/secret-coffee/internal/logging"
)

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var sawLogger bool
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = logging.FromContext(r.Context()) != nil
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	if !sawLogger {
		t.Fatal("expected a request-scoped logger in the context")
	}
	id := rec.Header().Get(RequestIDHeader)
	if len(id) != 36 {
		t.Fatalf("expected a generated UUID request id, got %q", id)
	}
	out := buf.String()
	if !strings.Contains(out, id) || !strings.Contains(out, `"status":418`) {
		t.Fatalf("expected completion log with id and status, got %s", out)
	}
}

func TestRequestLoggerReusesInboundID(t *testing.T) {
	t.Parallel()

	handler := RequestLogger(quietLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("expected inbound id to be echoed, got %q", got)
	}
}

func TestRecovererConvertsPanic(t *testing.T) {
	t.Parallel()

	handler := Recoverer(quietLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "panic: boom") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":                "",
		"Bearer":          "",
		"Basic abc":       "",
		"Bearer abc":      "abc",
		"bearer   abc  ":  "abc",
		"  Bearer xyz   ": "xyz",
	}
	for header, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := extractBearerToken(req); got != want {
			t.Fatalf("header %q: expected %q, got %q", header, want, got)
		}
	}
}
