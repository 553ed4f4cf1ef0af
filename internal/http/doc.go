// Package http exposes the operational surface of the pairing service.
//
// Endpoints:
//   - GET /healthz: pings the store. 200 {"status":"ok"} or 503 with the
//     failure message.
//   - GET /jobs: the scheduler catalog as a list of scheduler.JobStatus.
//   - POST /jobs/{name}/run: runs one job synchronously. Mounted only when an
//     operator token is configured and guarded by RequireBearerToken. 404 for
//     an unknown job, 409 while the job is running, 500 when the body fails.
package http
