package render

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/letters"
)

func sampleLetter() letters.RenderedLetter {
	return letters.RenderedLetter{
		Body:        "Dear Officer,\n\nI have worked with **Dr. Silva** for ten years.\n\nSincerely,",
		Recommender: "Jane Roe",
		Title:       "Chief Scientist",
		Company:     "Acme Research",
	}
}

func TestLetterHTML(t *testing.T) {
	t.Parallel()

	html, err := letterHTML(sampleLetter())
	require.NoError(t, err)

	require.Contains(t, html, "Acme Research")
	require.Contains(t, html, "Jane Roe")
	require.Contains(t, html, "Chief Scientist")
	require.Contains(t, html, "<strong>Dr. Silva</strong>")
	require.NotContains(t, html, "**")
	require.NotContains(t, html, "<img", "no logo bytes, no img tag")
}

func TestLetterHTMLEmbedsLogo(t *testing.T) {
	t.Parallel()

	letter := sampleLetter()
	letter.Logo = []byte{0x89, 'P', 'N', 'G'}
	letter.LogoContentType = "image/png"

	html, err := letterHTML(letter)
	require.NoError(t, err)
	require.Contains(t, html, "data:image/png;base64,")
}

func TestLetterHTMLEscapesBody(t *testing.T) {
	t.Parallel()

	letter := sampleLetter()
	letter.Body = "Loves <script>alert(1)</script> & math"

	html, err := letterHTML(letter)
	require.NoError(t, err)
	require.NotContains(t, html, "<script>")
	require.Contains(t, html, "&lt;script&gt;")
}

func TestSplitParagraphs(t *testing.T) {
	t.Parallel()

	paras := splitParagraphs("one\ntwo\n\n  three  \n\n\n\nfour")
	require.Equal(t, []string{"one two", "three", "four"}, paras)
	require.Empty(t, splitParagraphs("  \n\n  "))
}

func TestInlineHTML(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a <strong>b</strong> c", inlineHTML("a **b** c"))
	require.Equal(t, "unbalanced <strong>tail</strong>", inlineHTML("unbalanced **tail"))
	require.Equal(t, "5 &lt; 6", inlineHTML("5 < 6"))
}

func TestRenderDOCX(t *testing.T) {
	t.Parallel()

	r, err := New(Config{HeadlessPDF: false}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close(context.Background())

	out, err := r.RenderDOCX(context.Background(), sampleLetter())
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)

	names := make(map[string]bool, len(zr.File))
	var docXML string
	for _, f := range zr.File {
		names[f.Name] = true
		if f.Name == "word/document.xml" {
			rc, err := f.Open()
			require.NoError(t, err)
			raw, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			docXML = string(raw)
		}
	}
	require.True(t, names["[Content_Types].xml"])
	require.True(t, names["_rels/.rels"])
	require.True(t, names["word/document.xml"])

	require.Contains(t, docXML, "Acme Research")
	require.Contains(t, docXML, "Jane Roe")
	require.Contains(t, docXML, "<w:rPr><w:b/></w:rPr>")
	require.NotContains(t, docXML, "**")
	// Paragraph count: company, 3 body, spacer, 3 signature lines.
	require.Equal(t, 8, strings.Count(docXML, "<w:p>"))
}

func TestDocxParagraphEscapes(t *testing.T) {
	t.Parallel()

	got := docxParagraph("R&D <lab>", false)
	require.Contains(t, got, "R&amp;D &lt;lab&gt;")
}

func TestRenderPDFDisabled(t *testing.T) {
	t.Parallel()

	r, err := New(Config{HeadlessPDF: false}, zap.NewNop())
	require.NoError(t, err)
	defer r.Close(context.Background())

	_, err = r.RenderPDF(context.Background(), sampleLetter())
	require.ErrorIs(t, err, ErrPDFDisabled)
}
