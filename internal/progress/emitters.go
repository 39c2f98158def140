package progress

import (
	"fmt"
	"math"
)

// PhaseStart marks the start of a processing phase.
func (t *Tracker) PhaseStart(submissionID, phase, message string, totalSteps int) Event {
	return t.Emit(submissionID, KindPhaseStart, map[string]any{
		"phase":        phase,
		"message":      message,
		"total_steps":  totalSteps,
		"current_step": 0,
	})
}

// PhaseProgress updates progress within a phase. The percentage is rounded to
// the nearest integer and reported as 0 when totalSteps is zero. Details are
// merged into the payload only when provided.
func (t *Tracker) PhaseProgress(submissionID, phase, message string, currentStep, totalSteps int, details map[string]any) Event {
	percentage := 0
	if totalSteps > 0 {
		percentage = int(math.Round(float64(currentStep) / float64(totalSteps) * 100))
	}
	data := map[string]any{
		"phase":        phase,
		"message":      message,
		"current_step": currentStep,
		"total_steps":  totalSteps,
		"percentage":   percentage,
	}
	if details != nil {
		data["details"] = details
	}
	return t.Emit(submissionID, KindPhaseProgress, data)
}

// PhaseComplete marks a phase as complete.
func (t *Tracker) PhaseComplete(submissionID, phase, message string) Event {
	return t.Emit(submissionID, KindPhaseComplete, map[string]any{
		"phase":   phase,
		"message": message,
	})
}

// LetterStart marks the start of letter generation for one recommender.
func (t *Tracker) LetterStart(submissionID string, letterIndex int, recommenderName string, totalLetters int) Event {
	return t.Emit(submissionID, KindLetterStart, map[string]any{
		"letter_index":     letterIndex,
		"recommender_name": recommenderName,
		"total_letters":    totalLetters,
		"message":          fmt.Sprintf("Starting letter %d/%d: %s", letterIndex+1, totalLetters, recommenderName),
	})
}

// LetterStep reports progress within a single letter's generation.
func (t *Tracker) LetterStep(submissionID string, letterIndex int, recommenderName, step, message string) Event {
	return t.Emit(submissionID, KindLetterStep, map[string]any{
		"letter_index":     letterIndex,
		"recommender_name": recommenderName,
		"step":             step,
		"message":          message,
	})
}

// LetterComplete marks one letter as finished.
func (t *Tracker) LetterComplete(submissionID string, letterIndex int, recommenderName string, hasLogo bool) Event {
	return t.Emit(submissionID, KindLetterComplete, map[string]any{
		"letter_index":     letterIndex,
		"recommender_name": recommenderName,
		"has_logo":         hasLogo,
		"message":          fmt.Sprintf("Letter %d complete: %s", letterIndex+1, recommenderName),
	})
}

// LogoSearch reports the outcome of a company logo lookup.
func (t *Tracker) LogoSearch(submissionID, companyName, status, source string) Event {
	message := fmt.Sprintf("Logo %s: %s", companyName, status)
	if source != "" {
		message += " via " + source
	}
	return t.Emit(submissionID, KindLogoSearch, map[string]any{
		"company_name": companyName,
		"status":       status,
		"source":       source,
		"message":      message,
	})
}

// BlockGeneration reports generation of one narrative block within a letter.
func (t *Tracker) BlockGeneration(submissionID string, letterIndex, blockNumber, totalBlocks int, blockName string) Event {
	return t.Emit(submissionID, KindBlockGeneration, map[string]any{
		"letter_index": letterIndex,
		"block_number": blockNumber,
		"total_blocks": totalBlocks,
		"block_name":   blockName,
		"message":      fmt.Sprintf("Generating block %d/%d: %s", blockNumber, totalBlocks, blockName),
	})
}

// Completion marks processing as terminally finished. This is the only
// emitter that sets the completion flag; producers must call it exactly once
// per submission, on every terminal outcome.
func (t *Tracker) Completion(submissionID string, success bool, totalLetters, successfulLetters int, message string) Event {
	return t.Emit(submissionID, KindCompletion, map[string]any{
		"success":            success,
		"total_letters":      totalLetters,
		"successful_letters": successfulLetters,
		"message":            message,
	})
}

// Error reports a failure during a phase. It does not terminate the stream;
// producers follow it with a Completion carrying success=false.
func (t *Tracker) Error(submissionID, phase, message, details string) Event {
	return t.Emit(submissionID, KindError, map[string]any{
		"phase":   phase,
		"message": message,
		"details": details,
	})
}
