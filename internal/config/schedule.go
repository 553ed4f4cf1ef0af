package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/example/secret-coffee/internal/recurrence"
)

// RetryConfig is the retry policy of one job.
type RetryConfig struct {
	MaxRetries int
	Backoff    time.Duration
}

// JobConfig is the cadence and retry policy of one recurring job.
type JobConfig struct {
	Cron     string
	Retry    RetryConfig
	Disabled bool
	// RunOnStart runs the job once when the scheduler starts.
	RunOnStart bool
}

// DefaultJobs returns the reference catalog, evaluated in the configured zone.
func DefaultJobs() map[string]JobConfig {
	return map[string]JobConfig{
		"create_sessions":    {Cron: "0 9 * * 1", Retry: RetryConfig{MaxRetries: 3, Backoff: 5 * time.Minute}, RunOnStart: true},
		"run_matching":       {Cron: "0 10 * * 1", Retry: RetryConfig{MaxRetries: 3, Backoff: 10 * time.Minute}},
		"daily_reminders":    {Cron: "0 9 * * *"},
		"meeting_reminders":  {Cron: "0 8-20 * * *"},
		"sweep_inactive":     {Cron: "0 18 * * *", Retry: RetryConfig{MaxRetries: 1, Backoff: 30 * time.Minute}},
		"publish_stats":      {Cron: "0 17 * * 5", Retry: RetryConfig{MaxRetries: 2, Backoff: 15 * time.Minute}},
		"feedback_lifecycle": {Cron: "*/15 * * * *"},
		"complete_meetings":  {Cron: "*/15 * * * *"},
	}
}

// scheduleFile is the YAML layout of COFFEE_SCHEDULE_FILE.
type scheduleFile struct {
	ActivityCategories []string                   `yaml:"activity_categories"`
	MatchingCategory   string                     `yaml:"matching_category"`
	Jobs               map[string]jobOverrideYAML `yaml:"jobs"`
}

type jobOverrideYAML struct {
	Cron       string           `yaml:"cron"`
	Retry      *retryConfigYAML `yaml:"retry"`
	Disabled   *bool            `yaml:"disabled"`
	RunOnStart *bool            `yaml:"run_on_start"`
}

type retryConfigYAML struct {
	MaxRetries int    `yaml:"max_retries"`
	Backoff    string `yaml:"backoff"`
}

// ApplyScheduleFile overrides the job catalog and categories from a YAML file.
func (c *Config) ApplyScheduleFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schedule file: %w", err)
	}
	if err := c.applySchedule(data); err != nil {
		return fmt.Errorf("schedule file %s: %w", path, err)
	}
	c.ScheduleFile = path
	return nil
}

func (c *Config) applySchedule(data []byte) error {
	var file scheduleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if c.Jobs == nil {
		c.Jobs = DefaultJobs()
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}

	var problems []string
	names := make([]string, 0, len(file.Jobs))
	for name := range file.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		override := file.Jobs[name]
		job, ok := c.Jobs[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown job %q", name))
			continue
		}
		if override.Cron != "" {
			if _, err := recurrence.ParseInLocation(override.Cron, loc); err != nil {
				problems = append(problems, fmt.Sprintf("job %s: %v", name, err))
				continue
			}
			job.Cron = override.Cron
		}
		if override.Retry != nil {
			retry := RetryConfig{MaxRetries: override.Retry.MaxRetries}
			if override.Retry.Backoff != "" {
				backoff, err := time.ParseDuration(override.Retry.Backoff)
				if err != nil || backoff < 0 {
					problems = append(problems, fmt.Sprintf("job %s: invalid backoff %q", name, override.Retry.Backoff))
					continue
				}
				retry.Backoff = backoff
			}
			if retry.MaxRetries < 0 {
				problems = append(problems, fmt.Sprintf("job %s: max_retries must not be negative", name))
				continue
			}
			job.Retry = retry
		}
		if override.Disabled != nil {
			job.Disabled = *override.Disabled
		}
		if override.RunOnStart != nil {
			job.RunOnStart = *override.RunOnStart
		}
		c.Jobs[name] = job
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	if len(file.ActivityCategories) > 0 {
		c.ActivityCategories = file.ActivityCategories
	}
	if file.MatchingCategory != "" {
		c.MatchingCategory = file.MatchingCategory
	}
	return nil
}

// JobNames returns the configured job names in a stable order.
func (c Config) JobNames() []string {
	names := make([]string, 0, len(c.Jobs))
	for name := range c.Jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
