package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/metrics"
	"github.com/proexhq/letterforge/internal/progress"
)

const keepaliveInterval = 30 * time.Second

// progressSnapshot handles GET /v1/submissions/{id}/progress and returns the
// full recorded timeline plus the current step.
func (s *Server) progressSnapshot(w http.ResponseWriter, r *http.Request) {
	sub := submissionFrom(r)
	events := s.tracker.Events(sub.ID)
	resp := map[string]any{
		"events":       events,
		"total_events": len(events),
		"completed":    s.tracker.IsCompleted(sub.ID),
	}
	if current, ok := s.tracker.CurrentStep(sub.ID); ok {
		resp["current_step"] = current
	}
	writeJSON(w, http.StatusOK, resp)
}

// progressCurrent handles GET /v1/submissions/{id}/progress/current.
func (s *Server) progressCurrent(w http.ResponseWriter, r *http.Request) {
	sub := submissionFrom(r)
	resp := map[string]any{
		"completed": s.tracker.IsCompleted(sub.ID),
	}
	if current, ok := s.tracker.CurrentStep(sub.ID); ok {
		resp["current_step"] = current
	}
	writeJSON(w, http.StatusOK, resp)
}

// progressStream handles GET /v1/submissions/{id}/progress/stream over
// Server-Sent Events. Completed submissions replay their timeline and close;
// in-flight submissions subscribe first, replay the snapshot, then relay live
// events until completion or client disconnect.
func (s *Server) progressStream(w http.ResponseWriter, r *http.Request) {
	sub := submissionFrom(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncActiveStreams()
	defer metrics.DecActiveStreams()

	// Fast path: nothing more will be emitted, replay and close.
	if s.tracker.IsCompleted(sub.ID) {
		for _, evt := range s.tracker.Events(sub.ID) {
			if !s.writeSSE(w, flusher, evt) {
				return
			}
		}
		return
	}

	ch, replay := s.tracker.Subscribe(sub.ID)
	defer s.tracker.Unsubscribe(sub.ID, ch)

	for _, evt := range replay {
		if !s.writeSSE(w, flusher, evt) {
			return
		}
	}

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			if !s.writeSSE(w, flusher, evt) {
				return
			}
			if evt.Type == progress.KindCompletion {
				return
			}
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt progress.Event) bool {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("marshal event failed", zap.Error(err))
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
