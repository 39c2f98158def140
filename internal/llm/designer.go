package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/proexhq/letterforge/internal/letters"
)

// templateIDs lists the letter templates a design may select from.
var templateIDs = []string{"A", "B", "C", "D", "E", "F"}

const designSystem = `You design the stylistic shape of recommendation
letters. For each testimony you receive, pick one template and a distinct
voice so that no two letters in the batch read alike. Available templates:
A Technical Deep-Dive, B Academic Case Study, C Narrative Storytelling,
D Business Partnership, E USA Support Letter, F Technical Testimony.
Respond with a single JSON object:
{"designs":[{"template_id":"A","tone":"","structure":["",""]}]}
with exactly one design per testimony, in input order.`

type designResponse struct {
	Designs []letters.DesignStructure `json:"designs"`
}

// DesignStructures produces one stylistically distinct design per testimony.
func (c *Client) DesignStructures(ctx context.Context, data letters.OrganizedData) ([]letters.DesignStructure, error) {
	if len(data.Testimonies) == 0 {
		return nil, fmt.Errorf("design: no testimonies to design for")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("design: marshal organized data: %w", err)
	}

	var resp designResponse
	if err := c.chatJSON(ctx, "design", designSystem, string(payload), &resp); err != nil {
		return nil, err
	}
	if len(resp.Designs) != len(data.Testimonies) {
		return nil, fmt.Errorf("design: expected %d designs, got %d", len(data.Testimonies), len(resp.Designs))
	}
	for i := range resp.Designs {
		if !validTemplate(resp.Designs[i].TemplateID) {
			// Fall back to a deterministic rotation rather than failing the run.
			resp.Designs[i].TemplateID = templateIDs[i%len(templateIDs)]
		}
	}
	return resp.Designs, nil
}

func validTemplate(id string) bool {
	for _, t := range templateIDs {
		if t == id {
			return true
		}
	}
	return false
}
