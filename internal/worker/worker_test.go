package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/letters"
	"github.com/proexhq/letterforge/internal/metrics"
	"github.com/proexhq/letterforge/internal/progress"
	publishermem "github.com/proexhq/letterforge/internal/publisher/memory"
	queuemem "github.com/proexhq/letterforge/internal/queue/memory"
	"github.com/proexhq/letterforge/internal/render"
	storagemem "github.com/proexhq/letterforge/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

type workerHarness struct {
	queue     *queuemem.Queue
	subs      *storagemem.SubmissionStore
	blobs     *storagemem.BlobStore
	publisher *publishermem.Publisher
	tracker   *progress.Tracker
	extractor *fakeExtractor
	organizer *fakeOrganizer
	designer  *fakeDesigner
	blocks    *fakeBlocks
	assembler *fakeAssembler
	renderer  *fakeRenderer
	logos     *fakeLogoFinder
	worker    *Worker
}

func newHarness(t *testing.T, cfg Config) *workerHarness {
	t.Helper()

	h := &workerHarness{
		queue:     queuemem.NewQueue(8),
		subs:      storagemem.NewSubmissionStore(),
		blobs:     storagemem.NewBlobStore(),
		publisher: publishermem.New(),
		tracker:   progress.NewTracker(progress.Config{}),
		extractor: &fakeExtractor{},
		organizer: &fakeOrganizer{data: twoTestimonies()},
		designer:  &fakeDesigner{},
		blocks:    &fakeBlocks{},
		assembler: &fakeAssembler{},
		renderer:  &fakeRenderer{},
		logos:     &fakeLogoFinder{},
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.tracker.Close(ctx)
	})
	h.worker = New(
		h.queue, h.subs, h.blobs, h.publisher, h.tracker,
		h.extractor, h.organizer, h.designer, h.blocks, h.assembler,
		h.renderer, h.logos, cfg, zap.NewNop(),
	)
	return h
}

func (h *workerHarness) submit(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.subs.CreateSubmission(ctx, letters.Submission{
		ID:     id,
		Status: letters.StatusReceived,
	}))
	docs := []letters.UploadedDocument{
		{Kind: letters.UploadQuadro, Name: "quadro.pdf", Path: id + "/uploads/quadro.pdf"},
		{Kind: letters.UploadCV, Name: "cv.pdf", Path: id + "/uploads/cv.pdf"},
		{Kind: letters.UploadTestimonial, Index: 1, Name: "testimonial_1.pdf", Path: id + "/uploads/testimonial_1.pdf"},
		{Kind: letters.UploadTestimonial, Index: 2, Name: "testimonial_2.pdf", Path: id + "/uploads/testimonial_2.pdf"},
	}
	for _, doc := range docs {
		_, err := h.blobs.PutObject(ctx, doc.Path, "application/pdf", []byte("pdf:"+doc.Name))
		require.NoError(t, err)
	}
	require.NoError(t, h.queue.Enqueue(ctx, letters.QueueItem{SubmissionID: id, Documents: docs}))
}

func twoTestimonies() letters.OrganizedData {
	return letters.OrganizedData{
		Petitioner: letters.Petitioner{Name: "Dr. Silva", Field: "Robotics"},
		Testimonies: []letters.Testimony{
			{TestimonyID: "testimony-1", RecommenderName: "Jane Roe", RecommenderTitle: "CTO", Company: "Acme", Text: "great"},
			{TestimonyID: "testimony-2", RecommenderName: "John Smith", Company: "Globex", Text: "superb"},
		},
	}
}

func waitCompleted(t *testing.T, tracker *progress.Tracker, id string) progress.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return tracker.IsCompleted(id)
	}, 2*time.Second, 10*time.Millisecond)
	for _, evt := range tracker.Events(id) {
		if evt.Type == progress.KindCompletion {
			return evt
		}
	}
	t.Fatal("no completion event recorded")
	return progress.Event{}
}

func TestWorker_SuccessFlow(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{Topic: "done"})
	h.submit(t, "sub-ok")
	go h.worker.Run(ctx)

	evt := waitCompleted(t, h.tracker, "sub-ok")
	require.Equal(t, true, evt.Data["success"])
	require.Equal(t, 2, evt.Data["successful_letters"])

	sub, err := h.subs.GetSubmission(context.Background(), "sub-ok")
	require.NoError(t, err)
	require.NotNil(t, sub.ProcessedData)
	require.Len(t, sub.ProcessedData.Letters, 2)
	first := sub.ProcessedData.Letters[0]
	require.Equal(t, "Jane Roe", first.Recommender)
	require.Contains(t, first.PDFURI, "sub-ok/letters/letter_1_jane_roe.pdf")
	require.Contains(t, first.DOCXURI, "sub-ok/letters/letter_1_jane_roe.docx")
	require.True(t, first.HasLogo)

	// Extraction keyed non-testimonial slots by kind and kept testimonial order.
	require.Equal(t, map[string]string{
		"quadro": "text of pdf:quadro.pdf",
		"cv":     "text of pdf:cv.pdf",
	}, h.organizer.gotTexts)
	require.Equal(t, []string{
		"text of pdf:testimonial_1.pdf",
		"text of pdf:testimonial_2.pdf",
	}, h.organizer.gotTestimonials)

	// Five blocks per letter.
	require.Equal(t, 10, h.blocks.calls())

	require.Eventually(t, func() bool {
		return len(h.publisher.Messages()) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "done", h.publisher.Messages()[0].Topic)
}

func TestWorker_FatalErrorRetriesThenFails(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{MaxRetries: 1})
	h.extractor.err = errors.New("corrupt pdf")
	h.submit(t, "sub-bad")
	go h.worker.Run(ctx)

	evt := waitCompleted(t, h.tracker, "sub-bad")
	require.Equal(t, false, evt.Data["success"])

	// Attempt 0 re-enqueued once; attempt 1 exhausted the budget.
	require.Equal(t, 2, h.extractor.calls())

	var errorEvents int
	for _, e := range h.tracker.Events("sub-bad") {
		if e.Type == progress.KindError {
			errorEvents++
		}
	}
	require.Equal(t, 2, errorEvents)
}

func TestWorker_LetterFailureIsIsolated(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{})
	h.blocks.failFor = "John Smith"
	h.submit(t, "sub-partial")
	go h.worker.Run(ctx)

	evt := waitCompleted(t, h.tracker, "sub-partial")
	require.Equal(t, true, evt.Data["success"])
	require.Equal(t, 1, evt.Data["successful_letters"])
	require.Equal(t, 2, evt.Data["total_letters"])

	sub, err := h.subs.GetSubmission(context.Background(), "sub-partial")
	require.NoError(t, err)
	require.Len(t, sub.ProcessedData.Letters, 2)
	require.NotEmpty(t, sub.ProcessedData.Letters[0].PDFURI)
	require.Empty(t, sub.ProcessedData.Letters[1].PDFURI)
	require.Empty(t, sub.ProcessedData.Letters[1].DOCXURI)
}

func TestWorker_PDFDisabledStillShipsDOCX(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{})
	h.renderer.pdfErr = render.ErrPDFDisabled
	h.submit(t, "sub-nopdf")
	go h.worker.Run(ctx)

	evt := waitCompleted(t, h.tracker, "sub-nopdf")
	require.Equal(t, true, evt.Data["success"])

	sub, err := h.subs.GetSubmission(context.Background(), "sub-nopdf")
	require.NoError(t, err)
	for _, rec := range sub.ProcessedData.Letters {
		require.Empty(t, rec.PDFURI)
		require.NotEmpty(t, rec.DOCXURI)
	}
}

func TestSlug(t *testing.T) {
	t.Parallel()

	if got := slug("Dr. Maria José"); got != "dr__maria_jos" {
		t.Fatalf("slug = %q", got)
	}
	if got := slug("!!!"); got != "recommender" {
		t.Fatalf("slug fallback = %q", got)
	}
}

// ---- fakes ----

type fakeExtractor struct {
	mu    sync.Mutex
	err   error
	count int
}

func (f *fakeExtractor) ExtractText(_ context.Context, pdf []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.err != nil {
		return "", f.err
	}
	return "text of " + string(pdf), nil
}

func (f *fakeExtractor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeOrganizer struct {
	mu              sync.Mutex
	data            letters.OrganizedData
	gotTexts        map[string]string
	gotTestimonials []string
}

func (f *fakeOrganizer) Organize(_ context.Context, texts map[string]string, testimonials []string) (letters.OrganizedData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotTexts = texts
	f.gotTestimonials = testimonials
	return f.data, nil
}

type fakeDesigner struct{}

func (fakeDesigner) DesignStructures(_ context.Context, data letters.OrganizedData) ([]letters.DesignStructure, error) {
	designs := make([]letters.DesignStructure, len(data.Testimonies))
	for i := range designs {
		designs[i] = letters.DesignStructure{TemplateID: string(rune('A' + i)), Tone: "formal"}
	}
	return designs, nil
}

type fakeBlocks struct {
	mu      sync.Mutex
	count   int
	failFor string
}

func (f *fakeBlocks) GenerateBlock(_ context.Context, block letters.BlockSpec, testimony letters.Testimony, _ letters.DesignStructure, _ letters.OrganizedData) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.failFor != "" && testimony.RecommenderName == f.failFor {
		return "", fmt.Errorf("model refused block %s", block.Name)
	}
	return fmt.Sprintf("[%s for %s]", block.Name, testimony.RecommenderName), nil
}

func (f *fakeBlocks) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

type fakeAssembler struct{}

func (fakeAssembler) AssembleLetter(_ context.Context, blocks []string, _ letters.DesignStructure) (string, error) {
	return strings.Join(blocks, "\n\n"), nil
}

type fakeRenderer struct {
	pdfErr error
}

func (f *fakeRenderer) RenderPDF(_ context.Context, letter letters.RenderedLetter) ([]byte, error) {
	if f.pdfErr != nil {
		return nil, f.pdfErr
	}
	return []byte("%PDF " + letter.Recommender), nil
}

func (f *fakeRenderer) RenderDOCX(_ context.Context, letter letters.RenderedLetter) ([]byte, error) {
	return []byte("PK " + letter.Recommender), nil
}

type fakeLogoFinder struct{}

func (fakeLogoFinder) FindLogo(_ context.Context, companyName, _ string) (letters.Logo, error) {
	if companyName == "Acme" {
		return letters.Logo{URI: "memory://logos/acme.png", ContentType: "image/png", Data: []byte("png")}, nil
	}
	return letters.Logo{}, nil
}
