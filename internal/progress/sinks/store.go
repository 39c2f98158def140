package sinks

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/letters"
	"github.com/proexhq/letterforge/internal/progress"
)

// phaseStatus maps phase names carried in events to persisted statuses.
var phaseStatus = map[string]letters.SubmissionStatus{
	"extracting": letters.StatusExtracting,
	"organizing": letters.StatusOrganizing,
	"designing":  letters.StatusDesigning,
	"generating": letters.StatusGenerating,
}

// StoreSink projects lifecycle events onto persisted submission statuses. It
// is the single writer of status transitions, so producers only emit events
// and never touch the store directly.
type StoreSink struct {
	store  letters.SubmissionStore
	logger *zap.Logger

	mu        sync.Mutex
	lastError map[string]string
}

// NewStoreSink constructs a StoreSink for the provided store.
func NewStoreSink(store letters.SubmissionStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{
		store:     store,
		logger:    logger,
		lastError: make(map[string]string),
	}
}

// Consume applies status transitions for the batch. It respects ctx deadlines
// and returns store errors verbatim so the pipeline can log them.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	switch evt.Type {
	case progress.KindPhaseStart:
		phase, _ := evt.Data["phase"].(string)
		status, ok := phaseStatus[phase]
		if !ok {
			s.logger.Warn("unknown phase in progress event", zap.String("phase", phase))
			return nil
		}
		if err := s.store.UpdateSubmissionStatus(ctx, evt.SubmissionID, status, ""); err != nil {
			return fmt.Errorf("update status %s: %w", status, err)
		}
	case progress.KindError:
		s.rememberError(evt)
	case progress.KindCompletion:
		return s.completeSubmission(ctx, evt)
	}
	return nil
}

func (s *StoreSink) rememberError(evt progress.Event) {
	text := evt.Message()
	if details, _ := evt.Data["details"].(string); details != "" {
		text = fmt.Sprintf("%s: %s", text, details)
	}
	s.mu.Lock()
	s.lastError[evt.SubmissionID] = text
	s.mu.Unlock()
}

func (s *StoreSink) completeSubmission(ctx context.Context, evt progress.Event) error {
	success, _ := evt.Data["success"].(bool)

	s.mu.Lock()
	errText := s.lastError[evt.SubmissionID]
	delete(s.lastError, evt.SubmissionID)
	s.mu.Unlock()

	if success {
		if err := s.store.UpdateSubmissionStatus(ctx, evt.SubmissionID, letters.StatusCompleted, ""); err != nil {
			return fmt.Errorf("complete submission: %w", err)
		}
		return nil
	}
	if errText == "" {
		errText = evt.Message()
	}
	if err := s.store.UpdateSubmissionStatus(ctx, evt.SubmissionID, letters.StatusFailed, errText); err != nil {
		return fmt.Errorf("fail submission: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
