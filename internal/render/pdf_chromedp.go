package render

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/letters"
)

// ErrPDFDisabled indicates headless PDF rendering has been disabled via
// configuration. Callers may treat it as soft and ship DOCX output only.
var ErrPDFDisabled = errors.New("pdf rendering disabled")

// Config controls the document renderer.
type Config struct {
	// HeadlessPDF enables PDF output through headless Chrome.
	HeadlessPDF bool
	MaxParallel int
	NavTimeout  time.Duration
}

// Renderer implements letters.LetterRenderer. PDF output goes through a
// shared headless Chrome instance; DOCX output is assembled directly.
type Renderer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	timeout         time.Duration
	pdfEnabled      bool
}

// New creates a Renderer. When cfg.HeadlessPDF is set, a browser is started
// eagerly so wiring errors surface at startup rather than mid-run.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}

	r := &Renderer{
		logger:     logger,
		sem:        make(chan struct{}, cfg.MaxParallel),
		timeout:    cfg.NavTimeout,
		pdfEnabled: cfg.HeadlessPDF,
	}
	if !cfg.HeadlessPDF {
		return r, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	r.allocatorCancel = allocatorCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	return r, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *Renderer) Close(context.Context) error {
	if r == nil {
		return nil
	}
	if r.browserCancel != nil {
		r.browserCancel()
	}
	if r.allocatorCancel != nil {
		r.allocatorCancel()
	}
	return nil
}

// RenderPDF prints the letter through headless Chrome.
func (r *Renderer) RenderPDF(ctx context.Context, letter letters.RenderedLetter) ([]byte, error) {
	if r == nil || !r.pdfEnabled {
		return nil, ErrPDFDisabled
	}

	html, err := letterHTML(letter)
	if err != nil {
		return nil, err
	}

	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("render pdf: %w", ctx.Err())
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTimeout()

	// Cancel the tab if the caller's context ends first.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(html))

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate(dataURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var printErr error
			pdf, _, printErr = page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return printErr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}
