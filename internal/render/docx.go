package render

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/proexhq/letterforge/internal/letters"
)

const docxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
  <Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
  <Default Extension="xml" ContentType="application/xml"/>
  <Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
</Types>`

const docxRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

// RenderDOCX produces a minimal WordprocessingML document. The letterhead and
// signature are plain text; logos are only embedded in the PDF output.
func (r *Renderer) RenderDOCX(_ context.Context, letter letters.RenderedLetter) ([]byte, error) {
	var doc strings.Builder
	doc.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	doc.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)

	if letter.Company != "" {
		doc.WriteString(docxParagraph(letter.Company, true))
	}
	for _, para := range splitParagraphs(letter.Body) {
		doc.WriteString(docxParagraph(para, false))
	}
	doc.WriteString(docxParagraph("", false))
	doc.WriteString(docxParagraph(letter.Recommender, true))
	if letter.Title != "" {
		doc.WriteString(docxParagraph(letter.Title, false))
	}
	if letter.Company != "" {
		doc.WriteString(docxParagraph(letter.Company, false))
	}

	doc.WriteString(`</w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	parts := []struct {
		name, body string
	}{
		{"[Content_Types].xml", docxContentTypes},
		{"_rels/.rels", docxRels},
		{"word/document.xml", doc.String()},
	}
	for _, part := range parts {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, fmt.Errorf("docx part %s: %w", part.name, err)
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("docx part %s: %w", part.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("docx close: %w", err)
	}
	return buf.Bytes(), nil
}

// docxParagraph renders one paragraph, honoring **bold** spans. An entirely
// bold paragraph is produced when boldAll is set.
func docxParagraph(text string, boldAll bool) string {
	var b strings.Builder
	b.WriteString(`<w:p>`)
	bold := boldAll
	for i, segment := range strings.Split(text, "**") {
		if i > 0 && !boldAll {
			bold = !bold
		}
		if segment == "" {
			continue
		}
		b.WriteString(`<w:r>`)
		if bold {
			b.WriteString(`<w:rPr><w:b/></w:rPr>`)
		}
		b.WriteString(`<w:t xml:space="preserve">`)
		b.WriteString(xmlEscape(segment))
		b.WriteString(`</w:t></w:r>`)
	}
	b.WriteString(`</w:p>`)
	return b.String()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
