package logos

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proexhq/letterforge/internal/metrics"
	storagemem "github.com/proexhq/letterforge/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

func TestFindLogoViaClearbit(t *testing.T) {
	t.Parallel()

	clearbit := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/acme.example", r.URL.Path)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	t.Cleanup(clearbit.Close)

	blobs := storagemem.NewBlobStore()
	finder := New(Config{
		RatePerSecond: 100,
		Timeout:       2 * time.Second,
		ClearbitBase:  clearbit.URL,
	}, blobs, nil)

	logo, err := finder.FindLogo(context.Background(), "Acme Corp", "https://www.acme.example")
	require.NoError(t, err)
	require.Equal(t, "memory://logos/acme.example.png", logo.URI)
	require.Equal(t, "image/png", logo.ContentType)
	require.Equal(t, []byte("png-bytes"), logo.Data)

	data, err := blobs.GetObject(context.Background(), "logos/acme.example.png")
	require.NoError(t, err)
	require.Equal(t, []byte("png-bytes"), data)
}

func TestFindLogoWithoutWebsite(t *testing.T) {
	t.Parallel()

	finder := New(Config{RatePerSecond: 100}, storagemem.NewBlobStore(), nil)
	logo, err := finder.FindLogo(context.Background(), "Mystery LLC", "")
	require.NoError(t, err)
	require.False(t, logo.Found())
}

func TestFindLogoSoftFailure(t *testing.T) {
	t.Parallel()

	// Both the logo endpoint and the homepage refuse to answer usefully.
	clearbit := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no logo", http.StatusNotFound)
	}))
	t.Cleanup(clearbit.Close)

	finder := New(Config{
		RatePerSecond: 100,
		Timeout:       500 * time.Millisecond,
		ClearbitBase:  clearbit.URL,
	}, storagemem.NewBlobStore(), nil)

	logo, err := finder.FindLogo(context.Background(), "Gone Inc", "gone.invalid")
	require.NoError(t, err, "lookup failures must stay soft")
	require.False(t, logo.Found())
}

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://www.acme.example/about": "acme.example",
		"acme.example":                   "acme.example",
		"http://ACME.example":            "acme.example",
		"":                               "",
		"   ":                            "",
	}
	for in, want := range cases {
		require.Equal(t, want, normalizeDomain(in), "input %q", in)
	}
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, ".svg", extensionFor("image/svg+xml"))
	require.Equal(t, ".jpg", extensionFor("image/jpeg"))
	require.Equal(t, ".png", extensionFor("image/png"))
	require.Equal(t, ".png", extensionFor(""))
}

func TestFindLogoScrapesWebsite(t *testing.T) {
	t.Parallel()

	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<html><body><header><img class="site-logo" src="/assets/logo.png"></header></body></html>`))
		case "/assets/logo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("scraped-png"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(site.Close)

	blobs := storagemem.NewBlobStore()
	finder := New(Config{
		RatePerSecond: 100,
		Timeout:       2 * time.Second,
	}, blobs, nil)

	host := strings.TrimPrefix(site.URL, "http://")
	logo := finder.scrapeWebsite(context.Background(), "Acme Corp", host, site.URL)
	require.Equal(t, "memory://logos/"+host+".png", logo.URI)
	require.Equal(t, []byte("scraped-png"), logo.Data)

	data, err := blobs.GetObject(context.Background(), "logos/"+host+".png")
	require.NoError(t, err)
	require.Equal(t, []byte("scraped-png"), data)
}
