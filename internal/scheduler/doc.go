// Package scheduler fires a catalog of recurring jobs on cron cadences.
//
// A single background loop wakes every tick interval and dispatches each job
// whose next slot has passed. Different jobs may run concurrently; one job
// never overlaps itself. A failing job is retried after its backoff up to its
// retry limit and then waits for its next slot. Job bodies run on a context
// that is not cancelled by Stop, so shutdown lets in-flight bodies finish.
package scheduler
