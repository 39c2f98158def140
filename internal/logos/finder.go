// Package logos locates company logos for letterheads. It tries the Clearbit
// logo endpoint first and falls back to scraping the company website.
package logos

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/proexhq/letterforge/internal/letters"
	"github.com/proexhq/letterforge/internal/metrics"
)

// selectors are tried in order against the company homepage.
var selectors = []string{
	`img[class*="logo"]`,
	`img[id*="logo"]`,
	`a[class*="logo"] img`,
	`div[class*="logo"] img`,
	`header img`,
}

// Config controls the logo finder.
type Config struct {
	UserAgent string
	// RatePerSecond caps outbound requests across all lookups.
	RatePerSecond float64
	Timeout       time.Duration
	// ClearbitBase overrides the logo endpoint, mainly for tests.
	ClearbitBase string
}

// Finder implements letters.LogoFinder backed by HTTP scraping.
type Finder struct {
	cfg          Config
	blobs        letters.BlobStore
	limiter      *rate.Limiter
	client       *http.Client
	clearbitBase string
	logger       *zap.Logger
}

// New builds a Finder that stores found logos via the blob store.
func New(cfg Config, blobs letters.BlobStore, logger *zap.Logger) *Finder {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "letterforge-bot/0.1"
	}
	base := cfg.ClearbitBase
	if base == "" {
		base = "https://logo.clearbit.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{
		cfg:          cfg,
		blobs:        blobs,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		client:       &http.Client{Timeout: cfg.Timeout},
		clearbitBase: base,
		logger:       logger,
	}
}

// FindLogo returns the company logo with its stored URI, or a zero Logo when
// none could be located. Lookup failures are soft; they never fail the letter.
func (f *Finder) FindLogo(ctx context.Context, companyName, companyWebsite string) (letters.Logo, error) {
	domain := normalizeDomain(companyWebsite)
	if domain != "" {
		if logo := f.tryClearbit(ctx, companyName, domain); logo.Found() {
			metrics.ObserveLogoLookup("clearbit")
			return logo, nil
		}
		if logo := f.scrapeWebsite(ctx, companyName, domain, "https://"+domain); logo.Found() {
			metrics.ObserveLogoLookup("website")
			return logo, nil
		}
	}
	metrics.ObserveLogoLookup("not_found")
	return letters.Logo{}, nil
}

func (f *Finder) tryClearbit(ctx context.Context, companyName, domain string) letters.Logo {
	if err := f.waitBudget(ctx); err != nil {
		return letters.Logo{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.clearbitBase+"/"+domain, nil)
	if err != nil {
		return letters.Logo{}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("clearbit lookup failed", zap.String("domain", domain), zap.Error(err))
		return letters.Logo{}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return letters.Logo{}
	}
	data, err := readBody(resp)
	if err != nil || len(data) == 0 {
		return letters.Logo{}
	}
	return f.storeLogo(ctx, companyName, domain, resp.Header.Get("Content-Type"), data)
}

// scrapeWebsite loads the company homepage with colly and downloads the
// first image matching a logo selector.
func (f *Finder) scrapeWebsite(ctx context.Context, companyName, domain, baseURL string) letters.Logo {
	if err := f.waitBudget(ctx); err != nil {
		return letters.Logo{}
	}

	c := colly.NewCollector(colly.UserAgent(f.cfg.UserAgent))
	c.SetRequestTimeout(f.cfg.Timeout)

	var logoURL string
	for _, selector := range selectors {
		c.OnHTML(selector, func(e *colly.HTMLElement) {
			if logoURL != "" {
				return
			}
			if src := e.Attr("src"); src != "" {
				logoURL = e.Request.AbsoluteURL(src)
			}
		})
	}

	if err := f.visit(ctx, c, baseURL); err != nil {
		f.logger.Debug("website visit failed", zap.String("domain", domain), zap.Error(err))
		return letters.Logo{}
	}
	if logoURL == "" {
		return letters.Logo{}
	}

	if err := f.waitBudget(ctx); err != nil {
		return letters.Logo{}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoURL, nil)
	if err != nil {
		return letters.Logo{}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return letters.Logo{}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return letters.Logo{}
	}
	data, err := readBody(resp)
	if err != nil || len(data) == 0 {
		return letters.Logo{}
	}
	return f.storeLogo(ctx, companyName, domain, resp.Header.Get("Content-Type"), data)
}

func (f *Finder) storeLogo(ctx context.Context, companyName, domain, contentType string, data []byte) letters.Logo {
	if contentType == "" {
		contentType = "image/png"
	}
	path := fmt.Sprintf("logos/%s%s", domain, extensionFor(contentType))
	uri, err := f.blobs.PutObject(ctx, path, contentType, data)
	if err != nil {
		f.logger.Warn("store logo failed",
			zap.String("company", companyName),
			zap.String("domain", domain),
			zap.Error(err),
		)
		return letters.Logo{}
	}
	return letters.Logo{URI: uri, ContentType: contentType, Data: data}
}

// visit runs a collector visit while honoring context cancellation.
func (f *Finder) visit(ctx context.Context, c *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("visit canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		c.Wait()
		return nil
	}
}

func (f *Finder) waitBudget(ctx context.Context) error {
	start := time.Now()
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveLogoRateLimitDelay(waited)
	}
	return nil
}

func normalizeDomain(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.HasPrefix(website, "http") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "svg"):
		return ".svg"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	default:
		return ".png"
	}
}

// readBody reads at most 5 MiB of the response body.
func readBody(resp *http.Response) ([]byte, error) {
	const maxLogoBytes = 5 << 20
	return io.ReadAll(io.LimitReader(resp.Body, maxLogoBytes))
}
