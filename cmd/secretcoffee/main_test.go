package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/example/secret-coffee/internal/config"
	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/persistence/memory"
	"github.com/example/secret-coffee/internal/persistence/sqlite"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupEnvironment points the binary at a fresh database and returns its DSN.
func setupEnvironment(t *testing.T) string {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "secretcoffee.db")
	for key, value := range map[string]string{
		"COFFEE_SQLITE_DSN":     dsn,
		"COFFEE_MODERATOR_IDS":  "moderator-1",
		"COFFEE_LOG_LEVEL":      "error",
		"COFFEE_REDIS_URL":      "",
		"COFFEE_MATCHING_URL":   "",
		"COFFEE_TELEGRAM_TOKEN": "",
		"COFFEE_SCHEDULE_FILE":  "",
		"COFFEE_OPERATOR_TOKEN": "",
	} {
		t.Setenv(key, value)
	}
	return dsn
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	opts, err := parseFlags([]string{"--run-once", "create_sessions,run_matching", "--schedule-file", "jobs.yaml"}, io.Discard)
	if err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if strings.Join(opts.runOnce, ",") != "create_sessions,run_matching" {
		t.Fatalf("unexpected run-once list %v", opts.runOnce)
	}
	if opts.scheduleFile != "jobs.yaml" || opts.migrateOnly {
		t.Fatalf("unexpected options %+v", opts)
	}

	if _, err := parseFlags([]string{"stray"}, io.Discard); err == nil {
		t.Fatal("expected positional arguments to be rejected")
	}
	if _, err := parseFlags([]string{"--unknown"}, io.Discard); err == nil {
		t.Fatal("expected unknown flag to be rejected")
	}
}

func TestRunMigrateOnly(t *testing.T) {
	dsn := setupEnvironment(t)

	var stderr bytes.Buffer
	if code := run(context.Background(), []string{"--migrate-only"}, io.Discard, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}

	store, err := sqlite.Open(dsn)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	sessions, err := store.ListSessions(context.Background(), persistence.SessionFilter{})
	if err != nil {
		t.Fatalf("expected migrated schema, got %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions after migrating, got %d", len(sessions))
	}
}

func TestRunOnceCreatesSessions(t *testing.T) {
	dsn := setupEnvironment(t)

	var stderr bytes.Buffer
	if code := run(context.Background(), []string{"--run-once", "create_sessions"}, io.Discard, &stderr); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, stderr.String())
	}

	store, err := sqlite.Open(dsn)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	sessions, err := store.ListSessions(context.Background(), persistence.SessionFilter{Category: "secret_coffee"})
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Status != persistence.SessionPlanned {
		t.Fatalf("expected one planned session, got %+v", sessions)
	}
}

func TestRunOnceUnknownJobFails(t *testing.T) {
	setupEnvironment(t)

	if code := run(context.Background(), []string{"--run-once", "brew_coffee"}, io.Discard, io.Discard); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestRunReportsMissingConfiguration(t *testing.T) {
	setupEnvironment(t)
	t.Setenv("COFFEE_MODERATOR_IDS", "")

	var stderr bytes.Buffer
	if code := run(context.Background(), []string{"--migrate-only"}, io.Discard, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "COFFEE_MODERATOR_IDS") {
		t.Fatalf("expected missing variable to be named, got %q", stderr.String())
	}
}

func TestRunAppliesScheduleFileFlag(t *testing.T) {
	setupEnvironment(t)

	path := filepath.Join(t.TempDir(), "jobs.yaml")
	if err := os.WriteFile(path, []byte("jobs:\n  nonexistent_job:\n    cron: \"0 9 * * 1\"\n"), 0o600); err != nil {
		t.Fatalf("write schedule file: %v", err)
	}

	var stderr bytes.Buffer
	if code := run(context.Background(), []string{"--migrate-only", "--schedule-file", path}, io.Discard, &stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "schedule file") {
		t.Fatalf("expected schedule file error, got %q", stderr.String())
	}
}

func TestNewSchedulerRegistersEnabledJobs(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Location: time.UTC,
		Jobs: map[string]config.JobConfig{
			"run_matching":   {Cron: "0 10 * * 1", Retry: config.RetryConfig{MaxRetries: 2, Backoff: time.Minute}},
			"sweep_inactive": {Cron: "0 18 * * *", Disabled: true},
		},
	}
	bodies := map[string]func(context.Context) error{
		"run_matching":   func(context.Context) error { return nil },
		"sweep_inactive": func(context.Context) error { return nil },
	}

	sched, err := newScheduler(cfg, bodies, false, quietLogger())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if jobs := sched.Jobs(); len(jobs) != 1 || jobs[0] != "run_matching" {
		t.Fatalf("expected only run_matching, got %v", jobs)
	}

	manual, err := newScheduler(cfg, bodies, true, quietLogger())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	if jobs := manual.Jobs(); len(jobs) != 2 {
		t.Fatalf("expected disabled job to be registered for manual runs, got %v", jobs)
	}
}

func TestNewSchedulerRejectsJobWithoutBody(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Jobs: map[string]config.JobConfig{"brew_coffee": {Cron: "* * * * *"}}}
	if _, err := newScheduler(cfg, nil, false, quietLogger()); err == nil {
		t.Fatal("expected an error for a job without implementation")
	}
}

func TestParticipantChats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	for _, p := range []persistence.Participant{
		{ID: "alice", Category: "secret_coffee", ChatID: "1001", Subscribed: true},
		{ID: "bob", Category: "secret_coffee", Subscribed: true},
	} {
		if err := store.UpsertParticipant(ctx, p); err != nil {
			t.Fatalf("seed participant: %v", err)
		}
	}

	resolver := participantChats(store)
	if chat, ok := resolver.ChatID(ctx, "alice"); !ok || chat != "1001" {
		t.Fatalf("expected alice to resolve to 1001, got %q %v", chat, ok)
	}
	if _, ok := resolver.ChatID(ctx, "bob"); ok {
		t.Fatal("expected participant without chat id to be unresolved")
	}
	if _, ok := resolver.ChatID(ctx, "moderator-1"); ok {
		t.Fatal("expected unknown recipient to be unresolved")
	}
}

func TestSettingsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		MaxProposals:     5,
		FeedbackWindow:   72 * time.Hour,
		AggregationDelay: time.Minute,
		Location:         time.UTC,
		ModeratorIDs:     []string{"m1"},
		AdminIDs:         []string{"a1"},
		MatchingCategory: "lunch",
	}
	settings := settingsFromConfig(cfg)
	if settings.MaxProposals != 5 || settings.FeedbackWindow != 72*time.Hour || settings.AggregationDelay != time.Minute {
		t.Fatalf("unexpected settings %+v", settings)
	}
	if settings.MatchingCategory != "lunch" || settings.AdminIDs[0] != "a1" || settings.ModeratorIDs[0] != "m1" {
		t.Fatalf("unexpected recipients or category %+v", settings)
	}
}

func TestOpenCacheDefaultsToMemory(t *testing.T) {
	t.Parallel()

	c, closeCache, err := openCache(context.Background(), config.Config{}, quietLogger())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer closeCache()
	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(context.Background(), "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("expected cached value, got %q %v", got, err)
	}
}

func TestOpenCacheRejectsBadRedisURL(t *testing.T) {
	t.Parallel()

	_, _, err := openCache(context.Background(), config.Config{RedisURL: "not-a-url"}, quietLogger())
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("expected parse error, got %v", err)
	}
}
