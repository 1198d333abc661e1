package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/memoria-labs/memoria/internal/domain"
	"github.com/memoria-labs/memoria/internal/llm"
)

const queryPrompt = `You are answering a family member's question about their grandmother's ("Oma's") life stories.
Use ONLY the information provided below from Oma's own conversations. Do not invent or assume facts.

If the provided information answers the question, compose a warm, narrative answer in German that weaves together Oma's own words and details. Reference specific stories naturally.

If the provided information does NOT contain relevant details, respond: "` + noStoriesAnswer + `"`

// noStoriesAnswer is the fixed polite sentence used when nothing relevant
// has been told yet.
const noStoriesAnswer = "Dazu hat Oma leider noch nichts erzählt. Vielleicht können Sie sie beim nächsten Gespräch danach fragen!"

// German function words, pronouns and interrogatives dropped from question
// keywords before matching entities.
var stopWords = map[string]bool{
	"der": true, "die": true, "das": true, "den": true, "dem": true, "des": true,
	"ein": true, "eine": true, "einen": true, "einem": true, "einer": true, "eines": true,
	"und": true, "oder": true, "aber": true, "auch": true, "noch": true, "nur": true,
	"sehr": true, "schon": true, "dann": true, "doch": true, "denn": true, "mal": true,
	"ich": true, "du": true, "er": true, "sie": true, "es": true, "wir": true, "ihr": true,
	"mich": true, "dich": true, "sich": true, "uns": true, "euch": true,
	"mir": true, "dir": true, "ihm": true, "ihnen": true,
	"mein": true, "meine": true, "dein": true, "deine": true, "sein": true, "seine": true,
	"unser": true, "unsere": true, "euer": true, "eure": true, "ihre": true,
	"ist": true, "sind": true, "war": true, "waren": true, "bin": true, "bist": true,
	"hat": true, "hatte": true, "haben": true, "hast": true, "wird": true, "werden": true,
	"wurde": true, "wurden": true, "kann": true, "will": true, "soll": true,
	"wer": true, "was": true, "wann": true, "wo": true, "wie": true,
	"warum": true, "wieso": true, "weshalb": true, "woher": true, "wohin": true,
	"welche": true, "welcher": true, "welches": true,
	"von": true, "mit": true, "bei": true, "nach": true, "aus": true, "vor": true,
	"zu": true, "zum": true, "zur": true, "im": true, "in": true, "am": true, "an": true,
	"auf": true, "für": true, "über": true, "unter": true, "um": true,
	"dass": true, "wenn": true, "als": true, "ob": true,
	"nicht": true, "kein": true, "keine": true, "man": true, "etwas": true,
	"weißt": true, "erzähl": true, "erzähle": true,
}

// Answer is the knowledge engine's result: a grounded narrative answer and
// the source messages it was grounded on.
type Answer struct {
	Answer  string            `json:"answer"`
	Sources []SourceReference `json:"sources"`
}

// SourceReference points a relative back to the conversation material an
// answer was grounded on.
type SourceReference struct {
	SessionID   string `json:"sessionId"`
	SessionDate string `json:"sessionDate"`
	MessageID   string `json:"messageId"`
	Excerpt     string `json:"excerpt"`
}

// AnswerQuestion matches stored entities against the question's keywords,
// collects the source messages behind the matches and asks the model for an
// answer grounded only in that material. With no configured model and no
// matching entities it short-circuits to the fixed negative sentence.
func (s *Service) AnswerQuestion(ctx context.Context, question string) (*Answer, error) {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return nil, domain.NewValidation("question is required")
	}
	if len([]rune(trimmed)) > 500 {
		return nil, domain.NewValidation("question must not exceed 500 characters")
	}

	keywords := extractKeywords(trimmed)

	allEntities, err := s.store.GetAllEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}

	matched := matchEntities(allEntities, keywords)
	if len(matched) == 0 {
		// Fall back to the store's own search across all entities.
		matched, err = s.searchByKeywords(ctx, keywords)
		if err != nil {
			return nil, err
		}
	}

	if !s.llm.IsConfigured() && len(matched) == 0 {
		return &Answer{Answer: noStoriesAnswer, Sources: []SourceReference{}}, nil
	}

	sources, userLines, err := s.collectSources(ctx, matched)
	if err != nil {
		return nil, err
	}

	prompt, err := buildGroundingPrompt(matched, userLines)
	if err != nil {
		return nil, err
	}

	answer, err := s.llm.ChatCompletion(ctx, []llm.ChatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: trimmed},
	}, 1000, 0.5)
	if err != nil {
		s.logger.Warn("knowledge query failed", zap.Error(err))
		return nil, domain.NewAIUnavailable("AI service is currently unavailable", err)
	}

	return &Answer{Answer: answer, Sources: sources}, nil
}

// extractKeywords lower-cases the question, strips punctuation, splits on
// whitespace and drops stop words and tokens of two characters or fewer.
func extractKeywords(question string) []string {
	lowered := strings.ToLower(question)
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '\t' || r == '\n':
			return r
		case r > 127:
			// Umlauts and other non-ASCII letters survive; ASCII
			// punctuation becomes a separator.
			return r
		default:
			return ' '
		}
	}, lowered)

	var keywords []string
	for _, token := range strings.Fields(cleaned) {
		if len([]rune(token)) <= 2 || stopWords[token] {
			continue
		}
		keywords = append(keywords, token)
	}
	return keywords
}

// matchEntities keeps entities whose name or context contains a keyword, or
// whose name is itself contained in a keyword. Case-insensitive.
func matchEntities(entities []domain.Entity, keywords []string) []domain.Entity {
	if len(keywords) == 0 {
		return nil
	}
	var matched []domain.Entity
	for _, entity := range entities {
		name := strings.ToLower(entity.Name)
		context := strings.ToLower(entity.Context)
		for _, kw := range keywords {
			if strings.Contains(name, kw) || strings.Contains(context, kw) || strings.Contains(kw, name) {
				matched = append(matched, entity)
				break
			}
		}
	}
	return matched
}

func (s *Service) searchByKeywords(ctx context.Context, keywords []string) ([]domain.Entity, error) {
	seen := make(map[string]bool)
	var matched []domain.Entity
	for _, kw := range keywords {
		results, err := s.store.SearchEntities(ctx, kw)
		if err != nil {
			return nil, fmt.Errorf("failed to search entities: %w", err)
		}
		for _, entity := range results {
			if !seen[entity.ID] {
				seen[entity.ID] = true
				matched = append(matched, entity)
			}
		}
	}
	return matched, nil
}

// collectSources walks the parallel source-id arrays of the matched
// entities and returns distinct source messages plus Oma's own utterances
// from the implicated sessions.
func (s *Service) collectSources(ctx context.Context, matched []domain.Entity) ([]SourceReference, []string, error) {
	sources := []SourceReference{}
	var userLines []string
	seenMessages := make(map[string]bool)
	seenSessions := make(map[string]bool)

	for _, entity := range matched {
		for i, sessionID := range entity.SourceSessionIDs {
			if i >= len(entity.SourceMessageIDs) {
				break
			}
			messageID := entity.SourceMessageIDs[i]
			if seenMessages[messageID] {
				continue
			}

			session, err := s.store.GetSession(ctx, sessionID)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load session: %w", err)
			}
			if session == nil {
				continue
			}
			messages, err := s.store.GetSessionMessages(ctx, sessionID)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load messages: %w", err)
			}

			if !seenSessions[sessionID] {
				seenSessions[sessionID] = true
				for _, msg := range messages {
					if msg.Role == domain.RoleUser {
						userLines = append(userLines, "Oma: "+msg.Content)
					}
				}
			}

			for _, msg := range messages {
				if msg.ID != messageID {
					continue
				}
				seenMessages[messageID] = true
				sources = append(sources, SourceReference{
					SessionID:   sessionID,
					SessionDate: session.StartedAt.Format("2006-01-02"),
					MessageID:   messageID,
					Excerpt:     truncate(msg.Content, 200),
				})
				break
			}
		}
	}
	return sources, userLines, nil
}

func buildGroundingPrompt(matched []domain.Entity, userLines []string) (string, error) {
	entityJSON, err := json.Marshal(matched)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entities: %w", err)
	}
	storyText := "(noch keine Geschichten)"
	if len(userLines) > 0 {
		storyText = strings.Join(userLines, "\n")
	}
	return fmt.Sprintf(`%s

BEKANNTE PERSONEN, ORTE, EREIGNISSE:
%s

GESCHICHTEN VON OMA:
%s

WICHTIG: Antworte immer auf Deutsch.`, queryPrompt, string(entityJSON), storyText), nil
}
