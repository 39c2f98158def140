package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/proexhq/letterforge/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{
			SubmissionID: "sub-1",
			Type:         progress.KindPhaseStart,
			Timestamp:    now,
			Data:         map[string]any{"phase": "extracting", "message": "Extracting"},
		},
		{
			SubmissionID: "sub-1",
			Type:         progress.KindLetterComplete,
			Timestamp:    now.Add(20 * time.Second),
			Data:         map[string]any{"has_logo": true, "message": "Letter 1 complete"},
		},
		{
			SubmissionID: "sub-1",
			Type:         progress.KindCompletion,
			Timestamp:    now.Add(30 * time.Second),
			Data:         map[string]any{"success": true, "message": "All done"},
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.submissionsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.submissionsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.submissionsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.submissionsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.lettersCompleted.WithLabelValues("true")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("phase_start")))
	require.Equal(t, 1, testutil.CollectAndCount(sink.submissionRuntime, "letterforge_submission_runtime_seconds"))
}

// TestPrometheusSinkFailedRun checks the error result path and that repeated
// phase starts for one submission count it only once.
func TestPrometheusSinkFailedRun(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now().UTC()
	batch := []progress.Event{
		{
			SubmissionID: "sub-2",
			Type:         progress.KindPhaseStart,
			Timestamp:    now,
			Data:         map[string]any{"phase": "extracting", "message": "Extracting"},
		},
		{
			SubmissionID: "sub-2",
			Type:         progress.KindPhaseStart,
			Timestamp:    now.Add(5 * time.Second),
			Data:         map[string]any{"phase": "organizing", "message": "Organizing"},
		},
		{
			SubmissionID: "sub-2",
			Type:         progress.KindCompletion,
			Timestamp:    now.Add(10 * time.Second),
			Data:         map[string]any{"success": false, "message": "Generation failed"},
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.submissionsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.submissionsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.submissionsRunning))
}
