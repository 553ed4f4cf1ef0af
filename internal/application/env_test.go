package application

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/example/secret-coffee/internal/cache"
	"github.com/example/secret-coffee/internal/matching"
	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/testfixtures"
)

type testEnv struct {
	store      persistence.Store
	clock      *testfixtures.Clock
	recorder   *testfixtures.Recorder
	anonymizer *testfixtures.Anonymizer
	services   *Services
	settings   Settings
	deps       Dependencies
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSettings() Settings {
	settings := DefaultSettings()
	settings.Location = testfixtures.Moscow
	settings.ModeratorIDs = []string{"moderator-1", "moderator-2"}
	settings.AdminIDs = []string{"admin-1"}
	return settings
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, testfixtures.NewMemoryStore(t))
}

func newTestEnvWithStore(t *testing.T, store persistence.Store) *testEnv {
	t.Helper()
	env := &testEnv{
		store:      store,
		clock:      testfixtures.NewClock(time.Time{}),
		recorder:   testfixtures.NewRecorder(),
		anonymizer: testfixtures.NewAnonymizer(),
		settings:   testSettings(),
	}
	logger := quietLogger()
	matcher := matching.NewAdapter(matching.DisabledClient{}, cache.NewMemory(16, env.clock.Now), matching.Options{
		Rand:   rand.New(rand.NewPCG(42, 42)),
		Logger: logger,
	})
	env.deps = Dependencies{
		Store:       store,
		Deliverer:   env.recorder,
		Matcher:     matcher,
		Anonymizer:  env.anonymizer,
		IDGenerator: testfixtures.NewIDGenerator("id").NextFunc(),
		Now:         env.clock.Now,
		Logger:      logger,
		Settings:    env.settings,
	}
	env.services = NewServices(env.deps)
	return env
}

// withMatcher rebuilds the services around matcher.
func (e *testEnv) withMatcher(matcher PairMatcher) *testEnv {
	e.deps.Matcher = matcher
	e.services = NewServices(e.deps)
	return e
}

// seedMeeting stores a session, alice and bob, and one meeting between them.
func (e *testEnv) seedMeeting(t *testing.T, opts ...testfixtures.MeetingOption) persistence.Meeting {
	t.Helper()
	session := testfixtures.NewSession()
	meeting := testfixtures.NewMeeting(session.ID, "alice", "bob", opts...)
	testfixtures.Seed(t, e.store, session, []persistence.Participant{
		testfixtures.NewParticipant("alice", testfixtures.WithDisplayName("Alice Johnson")),
		testfixtures.NewParticipant("bob", testfixtures.WithDisplayName("Bob Stone")),
	}, meeting)
	return meeting
}

func (e *testEnv) meeting(t *testing.T, id string) persistence.Meeting {
	t.Helper()
	m, err := e.store.GetMeeting(context.Background(), id)
	if err != nil {
		t.Fatalf("GetMeeting(%s) returned error: %v", id, err)
	}
	return m
}
