// Package main hosts the letterforge service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, submission intake
//     (multipart PDF uploads), letter downloads, ratings/analytics, and the
//     progress endpoints (JSON snapshot plus a Server-Sent Events stream).
//     Submission-scoped routes are guarded by the per-submission access token
//     issued at creation.
//   - Dispatcher & queue: submissions flow through a bounded in-memory queue
//     sized by config.Worker.QueueDepth and are fanned out to a fixed worker
//     pool sized by config.Worker.Concurrency. Context cancellation stops
//     workers cleanly on shutdown.
//   - Pipeline: workers extract text from the uploaded PDFs, organize the
//     facts with the configured chat model, design one stylistic template per
//     testimonial, generate five narrative blocks per letter, assemble, and
//     render PDF (headless Chrome) and DOCX outputs. Company logos are looked
//     up best-effort and embedded in the PDF letterhead.
//   - Progress: every pipeline step emits an event into the progress Tracker,
//     which retains a capped per-submission timeline for snapshots/replay,
//     relays live events to SSE subscribers, and batches events to sinks
//     (zap log lines, Prometheus counters, and the submission-status
//     projection onto the store).
//   - Persistence & fanout: uploads and rendered letters go to the configured
//     BlobStore (memory/local/GCS); submission metadata and ratings go to
//     Postgres when a DSN is set, otherwise memory. A compact Pub/Sub
//     notification is published when a submission finishes.
//
// Run locally: go run ./cmd/letterforge -config config.yaml, or rely on
// LETTERFORGE_* env overrides. The process reacts to SIGTERM with a graceful
// drain: HTTP first, then the queue, tracker, and renderer.
package main
