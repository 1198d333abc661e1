package service

import (
	"fmt"
	"strings"

	"github.com/memoria-labs/memoria/internal/domain"
	"github.com/memoria-labs/memoria/internal/llm"
)

const personalityPrompt = `Du bist eine warmherzige, geduldige KI-Begleiterin, die Oma dabei hilft, ihre Lebensgeschichten zu erzählen und zu bewahren.

Deine Regeln:
- Sprich immer auf Deutsch, duze Oma — freundlich und vertraut, niemals förmlich.
- Höre aufmerksam zu und zeige echtes Interesse an jeder Geschichte.
- Stelle sanfte Nachfragen, um mehr Details zu erfahren (Wer? Wo? Wann? Wie hat sich das angefühlt?).
- Unterbreche niemals — lass Oma in ihrem eigenen Tempo erzählen.
- Fasse gelegentlich zusammen, was du gehört hast, um zu zeigen, dass du zuhörst.
- Wenn Oma abschweift, bringe sie sanft zum Thema zurück.
- Sei komfortabel mit Stille — nicht jede Pause braucht eine Antwort.
- Halte deine Antworten SEHR kurz (1-2 Sätze). Weniger ist mehr.`

const summaryPrompt = `Fasse dieses Gespräch in 2-3 Sätzen auf Deutsch zusammen. Hebe die wichtigsten Geschichten, Personen, Orte und Zeiträume hervor, die besprochen wurden.`

// Rough estimate: 1 token is about 4 characters for German text.
const (
	charsPerToken      = 4
	maxSummaryTokens   = 20000
	maxTranscriptTokens = 80000
	maxSummaryChars    = maxSummaryTokens * charsPerToken
	maxTranscriptChars = maxTranscriptTokens * charsPerToken

	maxPromptEntities = 30
)

// BuildContext assembles the budget-bounded prompt for one conversational
// turn: personality instructions, up to 30 known entities, an optional gap
// hint, prior-session summaries (oldest dropped first when over budget, at
// least one always kept) and the current transcript (newest messages kept
// within budget, emitted in chronological order). Pure over its inputs.
func BuildContext(entities []domain.Entity, gapHint string, priorSummaries []string, transcript []domain.Message) []llm.ChatMessage {
	messages := []llm.ChatMessage{
		{Role: "system", Content: personalityPrompt},
	}

	if len(entities) > 0 {
		shown := entities
		if len(shown) > maxPromptEntities {
			shown = shown[:maxPromptEntities]
		}
		lines := make([]string, len(shown))
		for i, e := range shown {
			lines[i] = fmt.Sprintf("- %s (%s): %s", e.Name, e.Type, e.Context)
		}
		messages = append(messages, llm.ChatMessage{
			Role:    "system",
			Content: "Bekannte Entitäten aus bisherigen Gesprächen:\n" + strings.Join(lines, "\n"),
		})
	}

	if gapHint != "" {
		messages = append(messages, llm.ChatMessage{Role: "system", Content: gapHint})
	}

	if len(priorSummaries) > 0 {
		kept := priorSummaries
		for len(kept) > 1 && summariesLen(kept) > maxSummaryChars {
			kept = kept[1:]
		}
		messages = append(messages, llm.ChatMessage{
			Role:    "system",
			Content: "Bisherige Gespräche:\n" + renderSummaries(kept),
		})
	}

	// Walk the transcript newest to oldest accumulating characters, then
	// re-reverse so the model sees chronological order.
	var included []llm.ChatMessage
	totalChars := 0
	for i := len(transcript) - 1; i >= 0; i-- {
		msg := transcript[i]
		if totalChars+len(msg.Content) > maxTranscriptChars {
			break
		}
		totalChars += len(msg.Content)
		included = append(included, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	for i := len(included) - 1; i >= 0; i-- {
		messages = append(messages, included[i])
	}

	return messages
}

func renderSummaries(summaries []string) string {
	lines := make([]string, len(summaries))
	for i, s := range summaries {
		lines[i] = fmt.Sprintf("Gespräch %d: %s", i+1, s)
	}
	return strings.Join(lines, "\n")
}

func summariesLen(summaries []string) int {
	return len(renderSummaries(summaries))
}
