package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the producer-facing surface of the Tracker. Workers depend on
// this interface so they stay agnostic about storage, fan-out, and sinks.
type Emitter interface {
	PhaseStart(submissionID, phase, message string, totalSteps int) Event
	PhaseProgress(submissionID, phase, message string, currentStep, totalSteps int, details map[string]any) Event
	PhaseComplete(submissionID, phase, message string) Event
	LetterStart(submissionID string, letterIndex int, recommenderName string, totalLetters int) Event
	LetterStep(submissionID string, letterIndex int, recommenderName, step, message string) Event
	LetterComplete(submissionID string, letterIndex int, recommenderName string, hasLogo bool) Event
	LogoSearch(submissionID, companyName, status, source string) Event
	BlockGeneration(submissionID string, letterIndex, blockNumber, totalBlocks int, blockName string) Event
	Completion(submissionID string, success bool, totalLetters, successfulLetters int, message string) Event
	Error(submissionID, phase, message, details string) Event
}
