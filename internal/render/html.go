// Package render converts assembled letters into PDF and DOCX documents.
package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"github.com/proexhq/letterforge/internal/letters"
)

var letterTemplate = template.Must(template.New("letter").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  @page { margin: 2.5cm; }
  body { font-family: Georgia, "Times New Roman", serif; font-size: 12pt; line-height: 1.5; color: #1a1a1a; }
  .letterhead { display: flex; align-items: center; justify-content: space-between; border-bottom: 2px solid #1a1a1a; padding-bottom: 12px; margin-bottom: 28px; }
  .letterhead .company { font-size: 14pt; font-weight: bold; }
  .letterhead img { max-height: 64px; max-width: 180px; }
  .signature { margin-top: 40px; }
  .signature .name { font-weight: bold; }
  p { margin: 0 0 12pt 0; text-align: justify; }
</style>
</head>
<body>
<div class="letterhead">
  <div class="company">{{.Company}}</div>
  {{if .LogoSrc}}<img src="{{.LogoSrc}}" alt="">{{end}}
</div>
{{.BodyHTML}}
<div class="signature">
  <p class="name">{{.Recommender}}</p>
  {{if .Title}}<p>{{.Title}}{{if .Company}}, {{.Company}}{{end}}</p>{{end}}
</div>
</body>
</html>
`))

type letterPage struct {
	Company     string
	Recommender string
	Title       string
	LogoSrc     template.URL
	BodyHTML    template.HTML
}

// letterHTML renders the full HTML document for one letter. The logo, when
// present, is inlined as a data URI so headless printing needs no network.
func letterHTML(letter letters.RenderedLetter) (string, error) {
	page := letterPage{
		Company:     letter.Company,
		Recommender: letter.Recommender,
		Title:       letter.Title,
		BodyHTML:    bodyToHTML(letter.Body),
	}
	if len(letter.Logo) > 0 {
		contentType := letter.LogoContentType
		if contentType == "" {
			contentType = "image/png"
		}
		page.LogoSrc = template.URL(fmt.Sprintf("data:%s;base64,%s",
			contentType, base64.StdEncoding.EncodeToString(letter.Logo)))
	}

	var buf bytes.Buffer
	if err := letterTemplate.Execute(&buf, page); err != nil {
		return "", fmt.Errorf("execute letter template: %w", err)
	}
	return buf.String(), nil
}

// bodyToHTML converts the letter body to HTML paragraphs. The generators emit
// light markdown; only paragraph breaks and bold runs are honored, anything
// else passes through as text.
func bodyToHTML(body string) template.HTML {
	var sb strings.Builder
	for _, para := range splitParagraphs(body) {
		sb.WriteString("<p>")
		sb.WriteString(inlineHTML(para))
		sb.WriteString("</p>\n")
	}
	return template.HTML(sb.String())
}

func splitParagraphs(body string) []string {
	raw := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		// collapse single newlines inside a paragraph
		p = strings.Join(strings.Fields(p), " ")
		out = append(out, p)
	}
	return out
}

// inlineHTML escapes the paragraph and renders **bold** runs.
func inlineHTML(p string) string {
	escaped := template.HTMLEscapeString(p)
	var sb strings.Builder
	bold := false
	for {
		idx := strings.Index(escaped, "**")
		if idx < 0 {
			sb.WriteString(escaped)
			break
		}
		sb.WriteString(escaped[:idx])
		if bold {
			sb.WriteString("</strong>")
		} else {
			sb.WriteString("<strong>")
		}
		bold = !bold
		escaped = escaped[idx+2:]
	}
	if bold {
		sb.WriteString("</strong>")
	}
	return sb.String()
}
