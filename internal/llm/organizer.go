package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/proexhq/letterforge/internal/letters"
)

const organizeSystem = `You organize raw text extracted from an applicant's
documents into structured facts for recommendation letters. Respond with a
single JSON object of the shape:
{"petitioner":{"name":"","field":"","highlights":[]},
 "testimonies":[{"testimony_id":"","recommender_name":"","recommender_title":"",
 "recommender_company":"","recommender_company_website":"","relationship":"","text":""}],
 "strategy":""}
Every testimonial becomes one testimony entry. Never invent recommenders that
do not appear in the testimonials.`

// Organize turns extracted document text into structured data. Keys of texts
// name the document slot (cv, quadro, estrategia, onenote); testimonials are
// passed positionally.
func (c *Client) Organize(ctx context.Context, texts map[string]string, testimonials []string) (letters.OrganizedData, error) {
	if len(testimonials) == 0 {
		return letters.OrganizedData{}, fmt.Errorf("organize: at least one testimonial is required")
	}

	var sb strings.Builder
	keys := make([]string, 0, len(texts))
	for k := range texts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "## Document: %s\n%s\n\n", k, texts[k])
	}
	for i, text := range testimonials {
		fmt.Fprintf(&sb, "## Testimonial %d\n%s\n\n", i+1, text)
	}

	var out letters.OrganizedData
	if err := c.chatJSON(ctx, "organize", organizeSystem, sb.String(), &out); err != nil {
		return letters.OrganizedData{}, err
	}
	if len(out.Testimonies) == 0 {
		return letters.OrganizedData{}, fmt.Errorf("organize: model returned no testimonies")
	}
	for i := range out.Testimonies {
		if out.Testimonies[i].TestimonyID == "" {
			out.Testimonies[i].TestimonyID = fmt.Sprintf("testimony-%d", i+1)
		}
	}
	return out, nil
}
