// Command secretcoffee runs the anonymous pairing service: the recurring job
// scheduler plus a small operational HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/example/secret-coffee/internal/anonymize"
	"github.com/example/secret-coffee/internal/application"
	"github.com/example/secret-coffee/internal/cache"
	"github.com/example/secret-coffee/internal/config"
	"github.com/example/secret-coffee/internal/delivery"
	httptransport "github.com/example/secret-coffee/internal/http"
	"github.com/example/secret-coffee/internal/logging"
	"github.com/example/secret-coffee/internal/matching"
	"github.com/example/secret-coffee/internal/persistence"
	"github.com/example/secret-coffee/internal/persistence/sqlite"
	"github.com/example/secret-coffee/internal/scheduler"
)

const (
	shutdownTimeout  = 30 * time.Second
	cacheEntryLimit  = 1024
	redisKeyPrefix   = "secretcoffee:"
	matchingHTTPSlop = 5 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	scheduleFile string
	runOnce      []string
	migrateOnly  bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("secretcoffee", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.scheduleFile, "schedule-file", "", "YAML job catalog overriding COFFEE_SCHEDULE_FILE")
	flags.StringSliceVar(&opts.runOnce, "run-once", nil, "run the named jobs once, in order, and exit")
	flags.BoolVar(&opts.migrateOnly, "migrate-only", false, "apply database migrations and exit")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

// run returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	if opts.scheduleFile != "" {
		if err := cfg.ApplyScheduleFile(opts.scheduleFile); err != nil {
			fmt.Fprintf(stderr, "failed to load schedule file: %v\n", err)
			return 1
		}
	}

	logger := logging.New(stdout, cfg.LogLevel.String(), cfg.LogFormat)

	store, err := sqlite.OpenWithConfig(sqlite.Config{DSN: cfg.SQLiteDSN}, logger)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		return 1
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		return 1
	}
	if opts.migrateOnly {
		logger.Info("migrations applied")
		return 0
	}

	pairCache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to cache", "error", err)
		return 1
	}
	defer closeCache()

	services := application.NewServices(application.Dependencies{
		Store:       store,
		Deliverer:   newDeliverer(cfg, store, logger),
		Matcher:     newMatcher(cfg, pairCache, logger),
		Anonymizer:  anonymize.NewGenerator(),
		IDGenerator: uuid.NewString,
		Now:         time.Now,
		Logger:      logger,
		Settings:    settingsFromConfig(cfg),
	})

	sched, err := newScheduler(cfg, services.JobBodies(), len(opts.runOnce) > 0, logger)
	if err != nil {
		logger.Error("failed to register jobs", "error", err)
		return 1
	}

	if len(opts.runOnce) > 0 {
		return runOnce(ctx, sched, opts.runOnce, logger)
	}
	return serve(ctx, cfg, store, sched, logger)
}

func openCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (cache.Cache, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("using in-memory matching cache")
		return cache.NewMemory(cacheEntryLimit, time.Now), func() {}, nil
	}
	redisCache, err := cache.NewRedis(ctx, cfg.RedisURL, redisKeyPrefix)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis matching cache")
	return redisCache, func() {
		if err := redisCache.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	}, nil
}

func newMatcher(cfg config.Config, c cache.Cache, logger *slog.Logger) *matching.Adapter {
	var client matching.Client = matching.DisabledClient{}
	if cfg.MatchingURL != "" {
		// The adapter owns the per-call deadline; the transport bound only
		// catches a hung connection.
		client = matching.NewHTTPClient(cfg.MatchingURL, &http.Client{Timeout: cfg.MatchingTimeout + matchingHTTPSlop})
	} else {
		logger.Warn("COFFEE_MATCHING_URL is not set; pairings use the local fallback")
	}
	return matching.NewAdapter(client, c, matching.Options{
		Timeout: cfg.MatchingTimeout,
		TTL:     cfg.MatchingCacheTTL,
		Logger:  logger,
	})
}

func newDeliverer(cfg config.Config, participants persistence.ParticipantRepository, logger *slog.Logger) application.Deliverer {
	if cfg.TelegramToken == "" {
		logger.Warn("COFFEE_TELEGRAM_TOKEN is not set; messages are only logged")
		return delivery.NewLog(logger)
	}
	return delivery.NewTelegram(cfg.TelegramToken, participantChats(participants), delivery.TelegramOptions{Logger: logger})
}

// participantChats resolves participant IDs to their stored chat ids.
func participantChats(participants persistence.ParticipantRepository) delivery.ChatResolver {
	return delivery.ChatResolverFunc(func(ctx context.Context, recipient string) (string, bool) {
		participant, err := participants.GetParticipant(ctx, recipient)
		if err != nil || participant.ChatID == "" {
			return "", false
		}
		return participant.ChatID, true
	})
}

func settingsFromConfig(cfg config.Config) application.Settings {
	return application.Settings{
		MaxProposals:         cfg.MaxProposals,
		InactivityWindow:     cfg.InactivityWindow,
		FeedbackWindow:       cfg.FeedbackWindow,
		FeedbackReminderLead: cfg.FeedbackReminderLead,
		AggregationDelay:     cfg.AggregationDelay,
		CompletionGrace:      cfg.CompletionGrace,
		MeetingReminderLead:  cfg.MeetingReminderLead,
		Location:             cfg.Location,
		ActivityCategories:   cfg.ActivityCategories,
		MatchingCategory:     cfg.MatchingCategory,
		ModeratorIDs:         cfg.ModeratorIDs,
		AdminIDs:             cfg.AdminIDs,
	}
}

// newScheduler registers every configured job that has a body. Disabled
// jobs are skipped unless includeDisabled is set, which manual runs use.
func newScheduler(cfg config.Config, bodies map[string]func(context.Context) error, includeDisabled bool, logger *slog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(scheduler.Options{
		Location:     cfg.Location,
		TickInterval: cfg.TickInterval,
		Logger:       logger,
	})
	for _, name := range cfg.JobNames() {
		jobCfg := cfg.Jobs[name]
		if jobCfg.Disabled && !includeDisabled {
			logger.Info("job disabled", "job", name)
			continue
		}
		body, ok := bodies[name]
		if !ok {
			return nil, fmt.Errorf("job %q has no implementation", name)
		}
		err := sched.Register(scheduler.Job{
			Name:       name,
			Spec:       jobCfg.Cron,
			Run:        body,
			Retry:      scheduler.RetryPolicy{MaxRetries: jobCfg.Retry.MaxRetries, Backoff: jobCfg.Retry.Backoff},
			RunOnStart: jobCfg.RunOnStart,
		})
		if err != nil {
			return nil, err
		}
	}
	return sched, nil
}

func runOnce(ctx context.Context, sched *scheduler.Scheduler, names []string, logger *slog.Logger) int {
	for _, name := range names {
		if err := sched.RunJob(ctx, name); err != nil {
			logger.Error("manual job run failed", "job", name, "error", err)
			return 1
		}
	}
	return 0
}

func serve(ctx context.Context, cfg config.Config, store persistence.Store, sched *scheduler.Scheduler, logger *slog.Logger) int {
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}

	var server *http.Server
	serverErr := make(chan error, 1)
	if cfg.HTTPPort > 0 {
		server = newStatusServer(cfg, store, sched, logger)
		go func() {
			logger.Info("status server listening", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		logger.Error("status server failed", "error", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler did not stop cleanly", "error", err)
		exitCode = 1
	}
	return exitCode
}

func newStatusServer(cfg config.Config, store persistence.Store, sched *scheduler.Scheduler, logger *slog.Logger) *http.Server {
	routerCfg := httptransport.RouterConfig{
		Health: httptransport.NewHealthHandler(store, 0, logger),
		Jobs:   httptransport.NewJobHandler(sched, time.Now, logger),
		Middleware: []func(http.Handler) http.Handler{
			httptransport.RequestLogger(logger),
			httptransport.Recoverer(logger),
		},
	}
	if cfg.OperatorToken != "" {
		routerCfg.RunGuard = httptransport.RequireBearerToken(cfg.OperatorToken, logger)
	}

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httptransport.NewRouter(routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Manual job runs are synchronous.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}
