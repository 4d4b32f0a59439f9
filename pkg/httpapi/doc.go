// Package httpapi exposes the job engine over HTTP.
//
// Routes:
//
//	POST /jobs                  submit a job
//	GET  /jobs                  list stored jobs
//	GET  /jobs/{id}             fetch one job
//	POST /jobs/{id}/cancel      cancel a job
//	GET  /events                server-sent lifecycle events
//	GET  /events/recent         events mirrored to Redis, when a relay is set
//	POST /strands/reindex       reindex a strand inline or as a job
//	GET  /stats                 queue counters
//	GET  /healthz               liveness
package httpapi
