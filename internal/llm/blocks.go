package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/proexhq/letterforge/internal/letters"
)

// blockInstructions describes what each narrative block must cover. The five
// blocks compose into one letter in order.
var blockInstructions = map[string]string{
	"opening":       "Open the letter: who the recommender is, their title and company, and why they are qualified to recommend the applicant.",
	"credentials":   "Establish the applicant's credentials and field, grounded in the recommender's direct observations.",
	"collaboration": "Describe the working relationship: projects, duration, and the applicant's concrete role. This is the longest block.",
	"achievements":  "Detail the applicant's key achievements and measurable impact as witnessed by the recommender.",
	"endorsement":   "Close with an unambiguous endorsement and the recommender's willingness to be contacted.",
}

// GenerateBlock writes one narrative block in the recommender's first-person
// voice, following the letter's design.
func (c *Client) GenerateBlock(
	ctx context.Context,
	block letters.BlockSpec,
	testimony letters.Testimony,
	design letters.DesignStructure,
	data letters.OrganizedData,
) (string, error) {
	instructions, ok := blockInstructions[block.Name]
	if !ok {
		return "", fmt.Errorf("generate block: unknown block %q", block.Name)
	}

	system := fmt.Sprintf(`You write block %d of %d of a recommendation letter,
speaking 100%% in the first person as the recommender. Tone: %s.
Template: %s. %s
Return only the raw markdown for this block, with no code fences and no
headings that restate the block name.`,
		block.Number, block.Total, design.Tone,
		letters.TemplateName(design.TemplateID), instructions,
	)

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Applicant\nName: %s\nField: %s\n", data.Petitioner.Name, data.Petitioner.Field)
	if len(data.Petitioner.Highlights) > 0 {
		fmt.Fprintf(&sb, "Highlights: %s\n", strings.Join(data.Petitioner.Highlights, "; "))
	}
	if data.Strategy != "" {
		fmt.Fprintf(&sb, "\n## Strategy\n%s\n", data.Strategy)
	}
	testimonyJSON, err := json.Marshal(testimony)
	if err != nil {
		return "", fmt.Errorf("generate block: marshal testimony: %w", err)
	}
	fmt.Fprintf(&sb, "\n## Testimony\n%s\n", testimonyJSON)
	if len(design.Structure) > 0 {
		fmt.Fprintf(&sb, "\n## Narrative structure\n%s\n", strings.Join(design.Structure, "\n"))
	}

	content, err := c.chat(ctx, "block_"+block.Name, system, sb.String(), false)
	if err != nil {
		return "", err
	}
	content = strings.TrimSpace(stripCodeFence(content))
	if content == "" {
		return "", fmt.Errorf("generate block %s: model returned empty content", block.Name)
	}
	return content, nil
}
