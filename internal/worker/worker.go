// Package worker implements the letter generation pipeline loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/letters"
	"github.com/proexhq/letterforge/internal/metrics"
	"github.com/proexhq/letterforge/internal/progress"
	"github.com/proexhq/letterforge/internal/render"
)

// letterBlocks are generated in order for every letter.
var letterBlocks = []string{"opening", "credentials", "collaboration", "achievements", "endorsement"}

// Config controls Worker behavior.
type Config struct {
	// Topic receives a notification message when a submission finishes.
	Topic string
	// MaxRetries bounds re-enqueues after a fatal pipeline error.
	MaxRetries int
}

// Worker consumes queue items and runs the full generation pipeline:
// extract, organize, design, then one letter per testimonial.
type Worker struct {
	queue     letters.Queue
	subs      letters.SubmissionStore
	blobs     letters.BlobStore
	publisher letters.Publisher
	tracker   *progress.Tracker
	extractor letters.Extractor
	organizer letters.Organizer
	designer  letters.Designer
	blocks    letters.BlockGenerator
	assembler letters.Assembler
	renderer  letters.LetterRenderer
	logos     letters.LogoFinder
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue letters.Queue,
	subs letters.SubmissionStore,
	blobs letters.BlobStore,
	publisher letters.Publisher,
	tracker *progress.Tracker,
	extractor letters.Extractor,
	organizer letters.Organizer,
	designer letters.Designer,
	blocks letters.BlockGenerator,
	assembler letters.Assembler,
	renderer letters.LetterRenderer,
	logos letters.LogoFinder,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = "letterforge.submissions"
	}
	return &Worker{
		queue:     queue,
		subs:      subs,
		blobs:     blobs,
		publisher: publisher,
		tracker:   tracker,
		extractor: extractor,
		organizer: organizer,
		designer:  designer,
		blocks:    blocks,
		assembler: assembler,
		renderer:  renderer,
		logos:     logos,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued submission", zap.String("submission_id", item.SubmissionID))
		w.processSubmission(ctx, item)
	}
}

func (w *Worker) processSubmission(ctx context.Context, item letters.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	id := item.SubmissionID

	texts, testimonials, err := w.extractDocuments(ctx, item)
	if err != nil {
		w.failSubmission(ctx, item, "extracting", err)
		return
	}

	organized, err := w.organize(ctx, id, texts, testimonials)
	if err != nil {
		w.failSubmission(ctx, item, "organizing", err)
		return
	}

	designs, err := w.design(ctx, id, organized)
	if err != nil {
		w.failSubmission(ctx, item, "designing", err)
		return
	}

	records := w.generateLetters(ctx, id, organized, designs)
	if ctx.Err() != nil {
		return
	}

	processed := letters.ProcessedData{Letters: records, Organized: organized}
	if err := w.subs.SaveProcessedData(ctx, id, processed); err != nil {
		w.logger.Error("save processed data failed", zap.String("submission_id", id), zap.Error(err))
	}

	total := len(organized.Testimonies)
	successful := 0
	for _, rec := range records {
		if rec.PDFURI != "" || rec.DOCXURI != "" {
			successful++
		}
	}
	success := successful > 0
	msg := fmt.Sprintf("Generated %d/%d letters", successful, total)
	if !success {
		msg = "All letters failed to generate"
	}
	w.tracker.Completion(id, success, total, successful, msg)

	w.notify(ctx, id, success, records)
}

// extractDocuments pulls the plain text from every uploaded PDF. Non-testimonial
// slots are keyed by kind; testimonials come back in upload order.
func (w *Worker) extractDocuments(ctx context.Context, item letters.QueueItem) (map[string]string, []string, error) {
	id := item.SubmissionID
	docs := append([]letters.UploadedDocument(nil), item.Documents...)
	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Kind != docs[j].Kind {
			return docs[i].Kind < docs[j].Kind
		}
		return docs[i].Index < docs[j].Index
	})

	total := len(docs)
	w.tracker.PhaseStart(id, "extracting", fmt.Sprintf("Extracting text from %d documents", total), total)

	texts := make(map[string]string, total)
	var testimonials []string
	for i, doc := range docs {
		raw, err := w.blobs.GetObject(ctx, doc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", doc.Name, err)
		}
		text, err := w.extractor.ExtractText(ctx, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("extract %s: %w", doc.Name, err)
		}
		if doc.Kind == letters.UploadTestimonial {
			testimonials = append(testimonials, text)
		} else {
			texts[string(doc.Kind)] = text
		}
		w.tracker.PhaseProgress(id, "extracting", fmt.Sprintf("Extracted %s", doc.Name), i+1, total,
			map[string]any{"document": doc.Name})
	}
	w.tracker.PhaseComplete(id, "extracting", "All documents extracted")
	return texts, testimonials, nil
}

func (w *Worker) organize(ctx context.Context, id string, texts map[string]string, testimonials []string) (letters.OrganizedData, error) {
	w.tracker.PhaseStart(id, "organizing", "Organizing extracted content", 1)
	organized, err := w.organizer.Organize(ctx, texts, testimonials)
	if err != nil {
		return letters.OrganizedData{}, fmt.Errorf("organize: %w", err)
	}
	w.tracker.PhaseComplete(id, "organizing",
		fmt.Sprintf("Organized %d testimonies", len(organized.Testimonies)))
	return organized, nil
}

func (w *Worker) design(ctx context.Context, id string, organized letters.OrganizedData) ([]letters.DesignStructure, error) {
	w.tracker.PhaseStart(id, "designing", "Designing letter structures", 1)
	designs, err := w.designer.DesignStructures(ctx, organized)
	if err != nil {
		return nil, fmt.Errorf("design: %w", err)
	}
	if len(designs) != len(organized.Testimonies) {
		return nil, fmt.Errorf("design: got %d designs for %d testimonies", len(designs), len(organized.Testimonies))
	}
	w.tracker.PhaseComplete(id, "designing", "Letter structures ready")
	return designs, nil
}

// generateLetters produces one record per testimony. A failed letter is
// reported and skipped; the remaining letters still generate.
func (w *Worker) generateLetters(ctx context.Context, id string, organized letters.OrganizedData, designs []letters.DesignStructure) []letters.LetterRecord {
	total := len(organized.Testimonies)
	w.tracker.PhaseStart(id, "generating", fmt.Sprintf("Generating %d letters", total), total)

	records := make([]letters.LetterRecord, 0, total)
	for i, testimony := range organized.Testimonies {
		if ctx.Err() != nil {
			return records
		}
		rec, err := w.generateLetter(ctx, id, i, total, testimony, designs[i], organized)
		if err != nil {
			w.logger.Error("letter generation failed",
				zap.String("submission_id", id),
				zap.Int("letter", i+1),
				zap.Error(err),
			)
			w.tracker.Error(id, "generating",
				fmt.Sprintf("Letter %d (%s) failed", i+1, testimony.RecommenderName), err.Error())
			records = append(records, letters.LetterRecord{
				TestimonyID: testimony.TestimonyID,
				Recommender: testimony.RecommenderName,
				TemplateID:  designs[i].TemplateID,
			})
			continue
		}
		records = append(records, rec)
		w.tracker.PhaseProgress(id, "generating",
			fmt.Sprintf("Letter %d/%d done", i+1, total), i+1, total, nil)
	}
	w.tracker.PhaseComplete(id, "generating", "All letters processed")
	return records
}

func (w *Worker) generateLetter(
	ctx context.Context,
	id string,
	index, total int,
	testimony letters.Testimony,
	design letters.DesignStructure,
	organized letters.OrganizedData,
) (letters.LetterRecord, error) {
	name := testimony.RecommenderName
	w.tracker.LetterStart(id, index, name, total)

	logo := w.findLogo(ctx, id, index, testimony)

	blocks := make([]string, 0, len(letterBlocks))
	for n, blockName := range letterBlocks {
		w.tracker.BlockGeneration(id, index, n+1, len(letterBlocks), blockName)
		spec := letters.BlockSpec{Number: n + 1, Total: len(letterBlocks), Name: blockName}
		block, err := w.blocks.GenerateBlock(ctx, spec, testimony, design, organized)
		if err != nil {
			return letters.LetterRecord{}, fmt.Errorf("block %s: %w", blockName, err)
		}
		blocks = append(blocks, block)
	}

	w.tracker.LetterStep(id, index, name, "assemble", "Assembling letter")
	body, err := w.assembler.AssembleLetter(ctx, blocks, design)
	if err != nil {
		return letters.LetterRecord{}, fmt.Errorf("assemble: %w", err)
	}

	rendered := letters.RenderedLetter{
		Body:            body,
		Recommender:     name,
		Title:           testimony.RecommenderTitle,
		Company:         testimony.Company,
		LogoURI:         logo.URI,
		Logo:            logo.Data,
		LogoContentType: logo.ContentType,
		Design:          design,
	}

	rec := letters.LetterRecord{
		TestimonyID: testimony.TestimonyID,
		Recommender: name,
		TemplateID:  design.TemplateID,
		HasLogo:     logo.Found(),
	}

	w.tracker.LetterStep(id, index, name, "render", "Rendering documents")
	base := fmt.Sprintf("%s/letters/letter_%d_%s", id, index+1, slug(name))

	pdf, err := w.renderer.RenderPDF(ctx, rendered)
	switch {
	case errors.Is(err, render.ErrPDFDisabled):
		w.logger.Debug("pdf rendering disabled", zap.String("submission_id", id))
	case err != nil:
		return letters.LetterRecord{}, fmt.Errorf("render pdf: %w", err)
	default:
		uri, err := w.blobs.PutObject(ctx, base+".pdf", "application/pdf", pdf)
		if err != nil {
			return letters.LetterRecord{}, fmt.Errorf("store pdf: %w", err)
		}
		rec.PDFURI = uri
	}

	docx, err := w.renderer.RenderDOCX(ctx, rendered)
	if err != nil {
		return letters.LetterRecord{}, fmt.Errorf("render docx: %w", err)
	}
	uri, err := w.blobs.PutObject(ctx, base+".docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", docx)
	if err != nil {
		return letters.LetterRecord{}, fmt.Errorf("store docx: %w", err)
	}
	rec.DOCXURI = uri

	w.tracker.LetterComplete(id, index, name, rec.HasLogo)
	return rec, nil
}

// findLogo is best-effort; a missing logo never fails the letter.
func (w *Worker) findLogo(ctx context.Context, id string, index int, testimony letters.Testimony) letters.Logo {
	if w.logos == nil || testimony.Company == "" {
		return letters.Logo{}
	}
	w.tracker.LetterStep(id, index, testimony.RecommenderName, "logo", "Searching company logo")
	logo, err := w.logos.FindLogo(ctx, testimony.Company, testimony.CompanyWebsite)
	if err != nil || !logo.Found() {
		w.tracker.LogoSearch(id, testimony.Company, "not_found", "")
		return letters.Logo{}
	}
	w.tracker.LogoSearch(id, testimony.Company, "found", logo.URI)
	return logo
}

// failSubmission reports a fatal pipeline error. The item is re-enqueued while
// retry budget remains; otherwise the submission completes as failed.
func (w *Worker) failSubmission(ctx context.Context, item letters.QueueItem, phase string, err error) {
	if ctx.Err() != nil {
		return
	}
	id := item.SubmissionID
	w.logger.Error("pipeline failed",
		zap.String("submission_id", id),
		zap.String("phase", phase),
		zap.Int("attempt", item.Attempt),
		zap.Error(err),
	)
	w.tracker.Error(id, phase, fmt.Sprintf("Processing failed during %s", phase), err.Error())

	if item.Attempt < w.cfg.MaxRetries {
		item.Attempt++
		if qErr := w.queue.Enqueue(ctx, item); qErr == nil {
			return
		}
		w.logger.Error("re-enqueue failed", zap.String("submission_id", id))
	}
	w.tracker.Completion(id, false, 0, 0, fmt.Sprintf("Failed during %s", phase))
	w.notify(ctx, id, false, nil)
}

func (w *Worker) notify(ctx context.Context, id string, success bool, records []letters.LetterRecord) {
	if w.publisher == nil {
		return
	}
	payload := map[string]any{
		"submission_id": id,
		"success":       success,
		"letters":       len(records),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish notification failed", zap.String("submission_id", id), zap.Error(err))
	}
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "recommender"
	}
	return b.String()
}
