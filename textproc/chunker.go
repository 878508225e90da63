package textproc

import (
	"github.com/embereye/docpilot/utils"
	"strings"
)

const chunkTokenBudget = 256

// SplitChunks performs hierarchical splitting: paragraphs first, then a token
// window over any paragraph that still exceeds the budget. Adjacent short
// paragraphs are packed together so chunks stay close to the budget.
func SplitChunks(body string) []string {
	paragraphs := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n")

	chunks := make([]string, 0, len(paragraphs))
	current := strings.Builder{}
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentTokens = 0
		}
	}

	for _, paragraph := range paragraphs {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		tokens := utils.CountTokens(paragraph)
		if tokens > chunkTokenBudget {
			flush()
			chunks = append(chunks, utils.SplitByTokens(paragraph, chunkTokenBudget)...)
			continue
		}

		if currentTokens+tokens > chunkTokenBudget {
			flush()
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(paragraph)
		currentTokens += tokens
	}
	flush()

	return chunks
}
