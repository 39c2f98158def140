// Package letters defines core types shared across subsystems.
package letters

import (
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SubmissionStatus represents the lifecycle state of a submission.
type SubmissionStatus string

// Submission status values persisted in the submission store.
const (
	StatusReceived   SubmissionStatus = "received"
	StatusExtracting SubmissionStatus = "extracting"
	StatusOrganizing SubmissionStatus = "organizing"
	StatusDesigning  SubmissionStatus = "designing"
	StatusGenerating SubmissionStatus = "generating"
	StatusCompleted  SubmissionStatus = "completed"
	StatusFailed     SubmissionStatus = "failed"
)

// Submission represents the metadata persisted for each uploaded batch of
// applicant documents.
type Submission struct {
	ID              string           `json:"id"`
	OwnerEmail      string           `json:"email"`
	AccessToken     string           `json:"-"`
	Status          SubmissionStatus `json:"status"`
	NumTestimonials int              `json:"number_of_testimonials"`
	Submitted       time.Time        `json:"submitted_at"`
	Started         *time.Time       `json:"started_at,omitempty"`
	Finished        *time.Time       `json:"finished_at,omitempty"`
	ErrorText       string           `json:"error_text,omitempty"`
	ProcessedData   *ProcessedData   `json:"processed_data,omitempty"`
}

// UploadKind identifies one of the applicant document slots.
type UploadKind string

// Required and optional upload slots accepted by the submission endpoint.
const (
	UploadQuadro      UploadKind = "quadro"
	UploadCV          UploadKind = "cv"
	UploadStrategy    UploadKind = "estrategia"
	UploadOneNote     UploadKind = "onenote"
	UploadTestimonial UploadKind = "testimonial"
)

// UploadedDocument pairs an upload slot with its stored blob URI.
type UploadedDocument struct {
	Kind UploadKind `json:"kind"`
	// Index distinguishes testimonials; zero for singleton slots.
	Index int    `json:"index"`
	Name  string `json:"name"`
	// Path is the blob store key; URI is the backend-specific locator.
	Path string `json:"path"`
	URI  string `json:"uri"`
}

// Testimony captures the structured facts extracted for one recommender.
type Testimony struct {
	TestimonyID      string `json:"testimony_id"`
	RecommenderName  string `json:"recommender_name"`
	RecommenderTitle string `json:"recommender_title"`
	Company          string `json:"recommender_company"`
	CompanyWebsite   string `json:"recommender_company_website,omitempty"`
	Relationship     string `json:"relationship"`
	Text             string `json:"text"`
}

// OrganizedData is the LLM-cleaned view of all extracted documents.
type OrganizedData struct {
	Petitioner  Petitioner  `json:"petitioner"`
	Testimonies []Testimony `json:"testimonies"`
	Strategy    string      `json:"strategy,omitempty"`
}

// Petitioner describes the applicant the letters recommend.
type Petitioner struct {
	Name       string   `json:"name"`
	Field      string   `json:"field"`
	Highlights []string `json:"highlights,omitempty"`
}

// DesignStructure prescribes the stylistic shape of one letter.
type DesignStructure struct {
	TemplateID string   `json:"template_id"`
	Tone       string   `json:"tone"`
	Structure  []string `json:"structure"`
}

// TemplateName maps a template ID to its display name for analytics.
func TemplateName(id string) string {
	switch id {
	case "A":
		return "Technical Deep-Dive"
	case "B":
		return "Academic Case Study"
	case "C":
		return "Narrative Storytelling"
	case "D":
		return "Business Partnership"
	case "E":
		return "USA Support Letter"
	case "F":
		return "Technical Testimony"
	default:
		return id
	}
}

// LetterRecord describes one generated letter and its output artifacts.
type LetterRecord struct {
	TestimonyID string `json:"testimony_id"`
	Recommender string `json:"recommender"`
	TemplateID  string `json:"template_id"`
	PDFURI      string `json:"pdf_uri"`
	DOCXURI     string `json:"docx_uri"`
	HasLogo     bool   `json:"has_logo"`
}

// ProcessedData is persisted once a submission finishes successfully.
type ProcessedData struct {
	Letters   []LetterRecord `json:"letters"`
	Organized OrganizedData  `json:"organized_data"`
}

// LetterRating stores user feedback for a single generated letter.
type LetterRating struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	LetterIndex  int       `json:"letter_index"`
	TemplateID   string    `json:"template_id"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TemplateStats aggregates ratings per letter template.
type TemplateStats struct {
	TemplateID   string  `json:"template_id"`
	TemplateName string  `json:"template_name"`
	Letters      int64   `json:"letters"`
	Ratings      int64   `json:"ratings"`
	AvgRating    float64 `json:"avg_rating"`
}

// QueueItem wraps a submission ready for processing.
type QueueItem struct {
	SubmissionID string
	Documents    []UploadedDocument
	Attempt      int
	Submitted    int64
}
