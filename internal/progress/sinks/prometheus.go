package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/proexhq/letterforge/internal/progress"
)

// PrometheusSink exports generation progress metrics via Prometheus. It owns
// all collectors for submissions started/completed/running, letter output,
// and per-kind event counters.
type PrometheusSink struct {
	submissionsStarted   prometheus.Counter
	submissionsCompleted *prometheus.CounterVec
	submissionsRunning   prometheus.Gauge
	submissionRuntime    *prometheus.HistogramVec

	lettersCompleted *prometheus.CounterVec
	events           *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		submissionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "letterforge_submissions_started_total",
			Help: "Total submissions that have begun processing.",
		}),
		submissionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letterforge_submissions_completed_total",
			Help: "Total submissions completed partitioned by result.",
		}, []string{"result"}),
		submissionsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "letterforge_submissions_running",
			Help: "Current number of submissions being processed.",
		}),
		submissionRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "letterforge_submission_runtime_seconds",
			Help:    "Wall time per completed submission.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"result"}),
		lettersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letterforge_letters_completed_total",
			Help: "Letters rendered partitioned by logo presence.",
		}, []string{"has_logo"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "letterforge_progress_events_total",
			Help: "Progress events emitted partitioned by kind.",
		}, []string{"type"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.submissionsStarted,
		s.submissionsCompleted,
		s.submissionsRunning,
		s.submissionRuntime,
		s.lettersCompleted,
		s.events,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	s.events.WithLabelValues(string(evt.Type)).Inc()
	switch evt.Type {
	case progress.KindPhaseStart:
		if s.tracker.start(evt.SubmissionID, evt.Timestamp) {
			s.submissionsStarted.Inc()
			s.submissionsRunning.Inc()
		}
	case progress.KindLetterComplete:
		hasLogo, _ := evt.Data["has_logo"].(bool)
		s.lettersCompleted.WithLabelValues(fmt.Sprintf("%t", hasLogo)).Inc()
	case progress.KindCompletion:
		result := "error"
		if success, _ := evt.Data["success"].(bool); success {
			result = "success"
		}
		s.submissionsCompleted.WithLabelValues(result).Inc()
		if started, ok := s.tracker.complete(evt.SubmissionID); ok {
			s.submissionsRunning.Dec()
			if d := evt.Timestamp.Sub(started); d > 0 {
				s.submissionRuntime.WithLabelValues(result).Observe(d.Seconds())
			}
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]time.Time)}
}

func (t *runTracker) start(id string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = at
	return true
}

func (t *runTracker) complete(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.running[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.running, id)
	return started, true
}
