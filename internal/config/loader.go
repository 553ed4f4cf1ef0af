package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	// Zone names must resolve on hosts without a tz database.
	_ "time/tzdata"
)

const defaultSQLiteDSN = "file:secretcoffee.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

// Config captures environment driven configuration values for the secret coffee service.
type Config struct {
	HTTPPort  int
	SQLiteDSN string
	RedisURL  string

	MatchingURL      string
	MatchingTimeout  time.Duration
	MatchingCacheTTL time.Duration

	MaxProposals         int
	InactivityWindow     time.Duration
	FeedbackWindow       time.Duration
	FeedbackReminderLead time.Duration
	AggregationDelay     time.Duration
	CompletionGrace      time.Duration
	MeetingReminderLead  time.Duration

	Location           *time.Location
	ActivityCategories []string
	MatchingCategory   string
	ModeratorIDs       []string
	AdminIDs           []string

	TelegramToken string
	// OperatorToken guards the manual job trigger; empty leaves it unmounted.
	OperatorToken string
	TickInterval  time.Duration
	ScheduleFile  string
	LogLevel      slog.Level
	LogFormat     string

	// Jobs is the recurring catalog keyed by job name.
	Jobs map[string]JobConfig
}

// Load parses configuration values from the current process environment.
//
// Optional fields fall back to defaults. Every missing required variable and
// every malformed value is reported in one error.
func Load() (Config, error) {
	cfg := Config{
		HTTPPort:             8080,
		SQLiteDSN:            defaultSQLiteDSN,
		MatchingTimeout:      10 * time.Second,
		MatchingCacheTTL:     time.Hour,
		MaxProposals:         3,
		InactivityWindow:     48 * time.Hour,
		FeedbackWindow:       48 * time.Hour,
		FeedbackReminderLead: 24 * time.Hour,
		AggregationDelay:     5 * time.Minute,
		CompletionGrace:      2 * time.Hour,
		MeetingReminderLead:  time.Hour,
		ActivityCategories:   []string{"secret_coffee"},
		MatchingCategory:     "secret_coffee",
		TickInterval:         30 * time.Second,
		LogLevel:             slog.LevelInfo,
		LogFormat:            "json",
		Jobs:                 DefaultJobs(),
	}

	l := &loader{}

	cfg.HTTPPort = l.integer("COFFEE_HTTP_PORT", cfg.HTTPPort, 0)
	cfg.SQLiteDSN = l.str("COFFEE_SQLITE_DSN", cfg.SQLiteDSN)
	cfg.RedisURL = l.str("COFFEE_REDIS_URL", "")
	cfg.MatchingURL = strings.TrimRight(l.str("COFFEE_MATCHING_URL", ""), "/")
	cfg.MatchingTimeout = l.duration("COFFEE_MATCHING_TIMEOUT", cfg.MatchingTimeout)
	cfg.MatchingCacheTTL = l.duration("COFFEE_MATCHING_CACHE_TTL", cfg.MatchingCacheTTL)
	cfg.MaxProposals = l.integer("COFFEE_MAX_PROPOSALS", cfg.MaxProposals, 1)
	cfg.InactivityWindow = l.duration("COFFEE_INACTIVITY_WINDOW", cfg.InactivityWindow)
	cfg.FeedbackWindow = l.duration("COFFEE_FEEDBACK_WINDOW", cfg.FeedbackWindow)
	cfg.FeedbackReminderLead = l.duration("COFFEE_FEEDBACK_REMINDER_LEAD", cfg.FeedbackReminderLead)
	cfg.AggregationDelay = l.duration("COFFEE_FEEDBACK_AGGREGATION_DELAY", cfg.AggregationDelay)
	cfg.CompletionGrace = l.duration("COFFEE_COMPLETION_GRACE", cfg.CompletionGrace)
	cfg.MeetingReminderLead = l.duration("COFFEE_MEETING_REMINDER_LEAD", cfg.MeetingReminderLead)
	cfg.TickInterval = l.duration("COFFEE_TICK_INTERVAL", cfg.TickInterval)

	zone := l.str("COFFEE_TIMEZONE", "Europe/Moscow")
	if loc, err := time.LoadLocation(zone); err != nil {
		l.invalid = append(l.invalid, "COFFEE_TIMEZONE")
	} else {
		cfg.Location = loc
	}

	cfg.ActivityCategories = l.list("COFFEE_ACTIVITY_CATEGORIES", cfg.ActivityCategories)
	cfg.MatchingCategory = l.str("COFFEE_MATCHING_CATEGORY", cfg.MatchingCategory)

	cfg.ModeratorIDs = l.list("COFFEE_MODERATOR_IDS", nil)
	if len(cfg.ModeratorIDs) == 0 {
		l.missing = append(l.missing, "COFFEE_MODERATOR_IDS")
	}
	cfg.AdminIDs = l.list("COFFEE_ADMIN_IDS", cfg.ModeratorIDs)

	cfg.TelegramToken = l.str("COFFEE_TELEGRAM_TOKEN", "")
	cfg.OperatorToken = l.str("COFFEE_OPERATOR_TOKEN", "")
	cfg.ScheduleFile = l.str("COFFEE_SCHEDULE_FILE", "")

	if level := l.str("COFFEE_LOG_LEVEL", ""); level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
			l.invalid = append(l.invalid, "COFFEE_LOG_LEVEL")
		}
	}
	switch format := strings.ToLower(l.str("COFFEE_LOG_FORMAT", cfg.LogFormat)); format {
	case "json", "text":
		cfg.LogFormat = format
	default:
		l.invalid = append(l.invalid, "COFFEE_LOG_FORMAT")
	}

	if len(l.missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables are not set: %s", strings.Join(l.missing, ", "))
	}
	if len(l.invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variable values: %s", strings.Join(l.invalid, ", "))
	}

	if cfg.ScheduleFile != "" {
		if err := cfg.ApplyScheduleFile(cfg.ScheduleFile); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// loader collects problems while reading variables so they can be reported together.
type loader struct {
	missing []string
	invalid []string
}

func (l *loader) str(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func (l *loader) integer(key string, fallback, minimum int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < minimum {
		l.invalid = append(l.invalid, key)
		return fallback
	}
	return v
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		l.invalid = append(l.invalid, key)
		return fallback
	}
	return v
}

// list reads a comma separated value, dropping blanks.
func (l *loader) list(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
