// Package progress defines the event structures emitted during submission processing.
package progress

import "time"

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported progress event kinds.
const (
	KindPhaseStart      Kind = "phase_start"
	KindPhaseProgress   Kind = "phase_progress"
	KindPhaseComplete   Kind = "phase_complete"
	KindLetterStart     Kind = "letter_start"
	KindLetterStep      Kind = "letter_step"
	KindLetterComplete  Kind = "letter_complete"
	KindLogoSearch      Kind = "logo_search"
	KindBlockGeneration Kind = "block_generation"
	KindCompletion      Kind = "completion"
	KindError           Kind = "error"
)

// Event captures a single milestone of submission progress. The wire shape is
// {type, timestamp, data}; the owning submission is implied by the channel or
// route the event travels on, so it is excluded from JSON.
type Event struct {
	// SubmissionID identifies the owning submission for sinks.
	SubmissionID string `json:"-"`
	// Type denotes which lifecycle milestone occurred.
	Type Kind `json:"type"`
	// Timestamp is the UTC time recorded by the tracker at emit.
	Timestamp time.Time `json:"timestamp"`
	// Data is the kind-specific payload; it always carries a "message" string.
	Data map[string]any `json:"data"`
}

// Message returns the human-readable message carried by the event data.
func (e Event) Message() string {
	msg, _ := e.Data["message"].(string)
	return msg
}
