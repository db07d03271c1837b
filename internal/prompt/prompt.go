// Package prompt assembles generation requests from retrieved context,
// conversation history, and the question.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const groundedTemplate = `You are a helpful AI assistant. Answer the question based on the provided context.

Context:
%s
%sQuestion: %s

Instructions:
- Provide a clear, accurate answer based on the context
- If the context doesn't contain enough information, say so
- Be concise but comprehensive
- Use bullet points or numbered lists when appropriate
`

const declineTemplate = `You are a helpful AI assistant. No relevant context was found for the question below.

Question: %s

Instructions:
- Reply exactly: "I couldn't find any relevant information in the knowledge base."
- Do not invent an answer or cite sources
`

// Assembler renders prompts within a length budget.
type Assembler struct {
	historyWindow  int
	maxPromptChars int
}

// NewAssembler creates an Assembler. historyWindow is the number of most
// recent messages included; maxPromptChars bounds the whole prompt.
func NewAssembler(historyWindow, maxPromptChars int) *Assembler {
	if historyWindow <= 0 {
		historyWindow = 6
	}
	if maxPromptChars <= 0 {
		maxPromptChars = 8000
	}
	return &Assembler{historyWindow: historyWindow, maxPromptChars: maxPromptChars}
}

// Assemble builds the generation prompt. Context blocks keep their ranked
// order, highest similarity first. History is bounded to the most recent
// window and truncated from the oldest end when the prompt would exceed the
// length budget; context and question are never truncated in favor of history.
// For a no-context result the prompt instructs the model to decline.
func (a *Assembler) Assemble(question string, result *models.RetrievalResult, history []models.Message) string {
	if result == nil || result.NoContext || len(result.Chunks) == 0 {
		return fmt.Sprintf(declineTemplate, question)
	}

	var ctxBlocks []string
	for i, ch := range result.Chunks {
		text := utils.CollapseWhitespace(ch.Chunk.Text)
		ctxBlocks = append(ctxBlocks, fmt.Sprintf("[Source %d: %s]\n%s", i+1, ch.SourceTitle, text))
	}
	contextText := strings.Join(ctxBlocks, "\n\n")

	window := history
	if len(window) > a.historyWindow {
		window = window[len(window)-a.historyWindow:]
	}

	// Fixed part first; whatever budget remains goes to history.
	base := fmt.Sprintf(groundedTemplate, contextText, "", question)
	budget := a.maxPromptChars - len(base)

	historyText := renderHistory(window, budget)
	return fmt.Sprintf(groundedTemplate, contextText, historyText, question)
}

// renderHistory renders the newest turns that fit the budget, dropping from
// the oldest end, and returns them oldest-first.
func renderHistory(window []models.Message, budget int) string {
	if len(window) == 0 || budget <= 0 {
		return ""
	}
	const header = "\nConversation so far:\n"
	var lines []string
	used := len(header)
	for i := len(window) - 1; i >= 0; i-- {
		line := fmt.Sprintf("%s: %s\n", roleLabel(window[i].Role), window[i].Content)
		if used+len(line) > budget {
			break
		}
		lines = append(lines, line)
		used += len(line)
	}
	if len(lines) == 0 {
		return ""
	}
	// Collected newest-first; flip back to chronological order.
	var b strings.Builder
	b.WriteString(header)
	for i := len(lines) - 1; i >= 0; i-- {
		b.WriteString(lines[i])
	}
	return b.String()
}

func roleLabel(role string) string {
	switch role {
	case models.RoleAssistant:
		return "Assistant"
	default:
		return "User"
	}
}
