package letters

import (
	"context"
	"time"
)

// SubmissionStore persists submission and rating metadata.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub Submission) error
	UpdateSubmissionStatus(ctx context.Context, id string, status SubmissionStatus, errText string) error
	SaveProcessedData(ctx context.Context, id string, data ProcessedData) error
	GetSubmission(ctx context.Context, id string) (Submission, error)
	ListSubmissions(ctx context.Context, ownerEmail string) ([]Submission, error)
	SaveRating(ctx context.Context, rating LetterRating) error
	ListRatings(ctx context.Context, submissionID string) ([]LetterRating, error)
	TemplateAnalytics(ctx context.Context) ([]TemplateStats, error)
}

// BlobStore writes raw artifacts (uploads and rendered letters) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Publisher pushes completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for submission processing.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Extractor pulls plain text out of an uploaded PDF.
type Extractor interface {
	ExtractText(ctx context.Context, pdf []byte) (string, error)
}

// Organizer turns raw extracted text into structured facts.
type Organizer interface {
	Organize(ctx context.Context, texts map[string]string, testimonials []string) (OrganizedData, error)
}

// Designer produces one stylistically distinct design per testimony.
type Designer interface {
	DesignStructures(ctx context.Context, data OrganizedData) ([]DesignStructure, error)
}

// BlockGenerator writes one narrative block of a letter.
type BlockGenerator interface {
	GenerateBlock(ctx context.Context, block BlockSpec, testimony Testimony, design DesignStructure, data OrganizedData) (string, error)
}

// BlockSpec names one of the narrative blocks composed into a letter.
type BlockSpec struct {
	Number int
	Total  int
	Name   string
}

// Assembler merges generated blocks into a final letter body.
type Assembler interface {
	AssembleLetter(ctx context.Context, blocks []string, design DesignStructure) (string, error)
}

// LetterRenderer converts an assembled letter into output documents.
type LetterRenderer interface {
	RenderPDF(ctx context.Context, letter RenderedLetter) ([]byte, error)
	RenderDOCX(ctx context.Context, letter RenderedLetter) ([]byte, error)
}

// RenderedLetter carries everything the renderer needs for one document.
type RenderedLetter struct {
	Body        string
	Recommender string
	Title       string
	Company     string
	LogoURI     string
	// Logo holds the raw image bytes when a logo was found; the renderer
	// embeds them so output documents do not reference external storage.
	Logo            []byte
	LogoContentType string
	Design          DesignStructure
}

// Logo is a located company logo. A zero value means none was found.
type Logo struct {
	URI         string
	ContentType string
	Data        []byte
}

// Found reports whether the lookup produced a logo.
func (l Logo) Found() bool { return l.URI != "" }

// LogoFinder locates, stores and returns a company logo.
type LogoFinder interface {
	FindLogo(ctx context.Context, companyName, companyWebsite string) (Logo, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces submission IDs and access tokens (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
	NewToken() (string, error)
}
