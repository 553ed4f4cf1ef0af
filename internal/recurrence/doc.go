// Package recurrence computes when recurring work is due: standard 5-field
// cron expressions evaluated in a fixed time zone, and calendar-week helpers
// used to key weekly cohorts.
package recurrence
