// Package progress provides the event primitives and the submission-scoped
// tracker that workers use to report processing progress. The tracker stores a
// capped per-submission timeline for replay, fans live events out to
// subscriber channels without ever blocking the emitter, and batches every
// event to pluggable sinks such as Prometheus metrics or the submission store
// on a background goroutine.
package progress
