package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/letters"
)

const assembleSystem = `You merge pre-written blocks of a recommendation
letter into one flowing document. Smooth the transitions between blocks,
remove repetition across them, and keep every factual claim intact. Do not
add new facts. Return only the final markdown letter body.`

// AssembleLetter merges the generated blocks into a final letter body. When
// the model call fails, the blocks are joined verbatim so a usable letter
// still comes out of the run.
func (c *Client) AssembleLetter(ctx context.Context, blocks []string, design letters.DesignStructure) (string, error) {
	if len(blocks) == 0 {
		return "", fmt.Errorf("assemble: no blocks to merge")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Tone: %s\nTemplate: %s\n\n", design.Tone, letters.TemplateName(design.TemplateID))
	for i, block := range blocks {
		fmt.Fprintf(&sb, "## Block %d\n%s\n\n", i+1, block)
	}

	content, err := c.chat(ctx, "assemble", assembleSystem, sb.String(), false)
	if err != nil {
		c.logger.Warn("assembly call failed, joining blocks verbatim", zap.Error(err))
		return strings.Join(blocks, "\n\n"), nil
	}
	content = strings.TrimSpace(stripCodeFence(content))
	if content == "" {
		return strings.Join(blocks, "\n\n"), nil
	}
	return content, nil
}
