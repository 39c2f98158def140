package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/proexhq/letterforge/internal/letters"
)

// SubmissionStore provides an in-memory implementation for development/testing.
type SubmissionStore struct {
	mu      sync.RWMutex
	subs    map[string]letters.Submission
	ratings map[string][]letters.LetterRating
}

// NewSubmissionStore constructs a SubmissionStore.
func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{
		subs:    make(map[string]letters.Submission),
		ratings: make(map[string][]letters.LetterRating),
	}
}

// CreateSubmission stores a new submission in received status.
func (s *SubmissionStore) CreateSubmission(_ context.Context, sub letters.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.ID]; exists {
		return errors.New("submission already exists")
	}
	s.subs[sub.ID] = sub
	return nil
}

// UpdateSubmissionStatus updates the lifecycle state for a submission.
func (s *SubmissionStore) UpdateSubmissionStatus(
	_ context.Context,
	id string,
	status letters.SubmissionStatus,
	errText string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return letters.ErrNotFound
	}
	sub.Status = status
	sub.ErrorText = errText
	now := time.Now().UTC()
	if status == letters.StatusExtracting && sub.Started == nil {
		sub.Started = pointerTime(now)
	}
	if isTerminal(status) {
		sub.Finished = pointerTime(now)
	}
	s.subs[id] = sub
	return nil
}

// SaveProcessedData attaches generation output to a submission.
func (s *SubmissionStore) SaveProcessedData(_ context.Context, id string, data letters.ProcessedData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return letters.ErrNotFound
	}
	sub.ProcessedData = &data
	s.subs[id] = sub
	return nil
}

// GetSubmission fetches a submission by ID.
func (s *SubmissionStore) GetSubmission(_ context.Context, id string) (letters.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return letters.Submission{}, letters.ErrNotFound
	}
	return sub, nil
}

// ListSubmissions returns submissions for an owner, newest first. An empty
// owner returns every submission.
func (s *SubmissionStore) ListSubmissions(_ context.Context, ownerEmail string) ([]letters.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]letters.Submission, 0, len(s.subs))
	for _, sub := range s.subs {
		if ownerEmail != "" && sub.OwnerEmail != ownerEmail {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Submitted.After(out[j].Submitted)
	})
	return out, nil
}

// SaveRating appends one letter rating.
func (s *SubmissionStore) SaveRating(_ context.Context, rating letters.LetterRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[rating.SubmissionID]; !ok {
		return letters.ErrNotFound
	}
	s.ratings[rating.SubmissionID] = append(s.ratings[rating.SubmissionID], rating)
	return nil
}

// ListRatings returns all ratings recorded for a submission.
func (s *SubmissionStore) ListRatings(_ context.Context, submissionID string) ([]letters.LetterRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ratings := s.ratings[submissionID]
	out := make([]letters.LetterRating, len(ratings))
	copy(out, ratings)
	return out, nil
}

// TemplateAnalytics aggregates letter counts and ratings per template.
func (s *SubmissionStore) TemplateAnalytics(_ context.Context) ([]letters.TemplateStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		letters int64
		ratings int64
		sum     int64
	}
	byTemplate := make(map[string]*agg)
	bucket := func(id string) *agg {
		a := byTemplate[id]
		if a == nil {
			a = &agg{}
			byTemplate[id] = a
		}
		return a
	}

	for _, sub := range s.subs {
		if sub.ProcessedData == nil {
			continue
		}
		for _, letter := range sub.ProcessedData.Letters {
			bucket(letter.TemplateID).letters++
		}
	}
	for _, ratings := range s.ratings {
		for _, r := range ratings {
			a := bucket(r.TemplateID)
			a.ratings++
			a.sum += int64(r.Rating)
		}
	}

	out := make([]letters.TemplateStats, 0, len(byTemplate))
	for id, a := range byTemplate {
		stats := letters.TemplateStats{
			TemplateID:   id,
			TemplateName: letters.TemplateName(id),
			Letters:      a.letters,
			Ratings:      a.ratings,
		}
		if a.ratings > 0 {
			stats.AvgRating = float64(a.sum) / float64(a.ratings)
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status letters.SubmissionStatus) bool {
	switch status {
	case letters.StatusCompleted, letters.StatusFailed:
		return true
	default:
		return false
	}
}
