package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/memoria-labs/memoria/internal/domain"
	"github.com/memoria-labs/memoria/internal/llm"
)

const maxMessageLength = 10000

const (
	welcomeFirst = "Hallo! 💛 Wie schön, dass du da bist. Erzähl mir doch — was ist deine früheste Erinnerung?"

	welcomeReturning = "Schön, dass du wieder da bist! Worüber möchtest du heute erzählen?"

	shortSessionSummary = "Kurzes Gespräch ohne geteilte Geschichten."
)

// StartSession creates a new session and persists a static welcome as the
// first assistant message. The welcome is not model-generated, so starting a
// session never depends on model availability.
func (s *Service) StartSession(ctx context.Context) (*domain.Session, string, error) {
	prior, err := s.store.GetAllSessions(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list sessions: %w", err)
	}

	session, err := s.store.CreateSession(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create session: %w", err)
	}

	welcome := composeWelcome(prior)
	if _, err := s.store.AddMessage(ctx, session.ID, domain.RoleAssistant, welcome); err != nil {
		return nil, "", fmt.Errorf("failed to persist welcome: %w", err)
	}
	session.MessageCount = 1

	s.logger.Info("session started",
		zap.String("sessionId", session.ID),
		zap.Bool("firstSession", len(prior) == 0))
	return session, welcome, nil
}

// composeWelcome picks the first-session variant, or a returning variant
// that quotes the most recent ended summary truncated to 100 characters.
func composeWelcome(prior []domain.Session) string {
	if len(prior) == 0 {
		return welcomeFirst
	}
	for _, sess := range prior {
		if sess.Status == domain.SessionStatusEnded && sess.Summary != nil {
			return fmt.Sprintf("Schön, dass du wieder da bist! Letztes Mal haben wir darüber gesprochen: %s... Möchtest du daran anknüpfen oder etwas anderes erzählen?",
				truncate(*sess.Summary, 100))
		}
	}
	return welcomeReturning
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// HandleTurn persists the user message, assembles the bounded prompt, calls
// the model and persists the reply. Entity extraction of the user utterance
// is dispatched to the background queue after the reply is already secured;
// its failures never surface here. On model failure the user message stays
// persisted and no assistant message is written.
func (s *Service) HandleTurn(ctx context.Context, sessionID, text string) (*domain.Message, *domain.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, nil, domain.NewValidation("message is required")
	}
	if len([]rune(trimmed)) > maxMessageLength {
		return nil, nil, domain.NewValidation(fmt.Sprintf("message must not exceed %d characters", maxMessageLength))
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, nil, domain.NewNotFound("session not found")
	}
	if session.Status == domain.SessionStatusEnded {
		return nil, nil, domain.NewConflict("cannot send messages to an ended session")
	}

	userMsg, err := s.store.AddMessage(ctx, sessionID, domain.RoleUser, trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	if !s.llm.IsConfigured() {
		reply := s.llm.FallbackTurnResponse()
		assistantMsg, err := s.store.AddMessage(ctx, sessionID, domain.RoleAssistant, reply)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to persist fallback reply: %w", err)
		}
		return userMsg, assistantMsg, nil
	}

	prompt, turnCount, err := s.buildTurnPrompt(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	reply, err := s.llm.ChatCompletion(ctx, prompt, 200, 0.7)
	if err != nil {
		s.logger.Warn("turn completion failed",
			zap.String("sessionId", sessionID),
			zap.Int("turn", turnCount),
			zap.Error(err))
		return nil, nil, domain.NewAIUnavailable("AI service is currently unavailable", err)
	}

	assistantMsg, err := s.store.AddMessage(ctx, sessionID, domain.RoleAssistant, reply)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to persist assistant message: %w", err)
	}

	s.extractor.Enqueue(trimmed, userMsg.ID, sessionID)

	return userMsg, assistantMsg, nil
}

// buildTurnPrompt gathers everything the context builder needs and returns
// the assembled prompt plus the current turn count.
func (s *Service) buildTurnPrompt(ctx context.Context, sessionID string) ([]llm.ChatMessage, int, error) {
	transcript, err := s.store.GetSessionMessages(ctx, sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load transcript: %w", err)
	}
	turnCount := 0
	for _, msg := range transcript {
		if msg.Role == domain.RoleUser {
			turnCount++
		}
	}

	summaries, err := s.priorSummaries(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}

	entities, err := s.store.GetAllEntities(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load entities: %w", err)
	}

	hint := GapHint(ComputeCoverage(entities), turnCount)
	return BuildContext(entities, hint, summaries, transcript), turnCount, nil
}

// priorSummaries returns the summaries of other ended sessions, oldest
// first so the context builder can drop from the front when over budget.
func (s *Service) priorSummaries(ctx context.Context, excludeSessionID string) ([]string, error) {
	sessions, err := s.store.GetAllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var summaries []string
	// GetAllSessions is newest-first; walk backwards for oldest-first.
	for i := len(sessions) - 1; i >= 0; i-- {
		sess := sessions[i]
		if sess.ID == excludeSessionID || sess.Status != domain.SessionStatusEnded || sess.Summary == nil {
			continue
		}
		summaries = append(summaries, *sess.Summary)
	}
	return summaries, nil
}

// EndSession summarizes the transcript and transitions the session to
// ended. The transition happens even when summarization fails; the
// AIUnavailable error returned alongside the ended session is advisory so
// the summary can be retried out-of-band.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, domain.NewNotFound("session not found")
	}
	if session.Status == domain.SessionStatusEnded {
		return nil, domain.NewConflict("session is already ended")
	}

	summary, err := s.summarizeSession(ctx, sessionID)
	if err != nil {
		ended, endErr := s.store.EndSession(ctx, sessionID, nil)
		if endErr != nil {
			return nil, fmt.Errorf("failed to end session: %w", endErr)
		}
		s.logger.Warn("session ended without summary",
			zap.String("sessionId", sessionID),
			zap.Error(err))
		return ended, domain.NewAIUnavailable("summary generation failed", err)
	}

	ended, err := s.store.EndSession(ctx, sessionID, &summary)
	if err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	s.logger.Info("session ended", zap.String("sessionId", sessionID))
	return ended, nil
}

// summarizeSession asks the model for a 2-3 sentence German summary of the
// full transcript.
func (s *Service) summarizeSession(ctx context.Context, sessionID string) (string, error) {
	messages, err := s.store.GetSessionMessages(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load transcript: %w", err)
	}

	if !s.llm.IsConfigured() {
		if len(messages) <= 1 {
			return shortSessionSummary, nil
		}
		return s.llm.FallbackSummary(), nil
	}

	lines := make([]string, len(messages))
	for i, msg := range messages {
		speaker := "KI"
		if msg.Role == domain.RoleUser {
			speaker = "Oma"
		}
		lines[i] = speaker + ": " + msg.Content
	}

	prompt := []llm.ChatMessage{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: strings.Join(lines, "\n")},
	}
	return s.llm.ChatCompletion(ctx, prompt, 300, 0.3)
}

// LastSummary returns the most recent ended session's summary, or nil.
func (s *Service) LastSummary(ctx context.Context) (*string, error) {
	sessions, err := s.store.GetAllSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, sess := range sessions {
		if sess.Status == domain.SessionStatusEnded && sess.Summary != nil {
			return sess.Summary, nil
		}
	}
	return nil, nil
}

// GetSession returns a session or a not-found error.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, domain.NewNotFound("session not found")
	}
	return session, nil
}

// ListSessions returns all sessions newest-first.
func (s *Service) ListSessions(ctx context.Context) ([]domain.Session, error) {
	return s.store.GetAllSessions(ctx)
}

// SessionMessages returns a session's transcript or a not-found error.
func (s *Service) SessionMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil {
		return nil, domain.NewNotFound("session not found")
	}
	return s.store.GetSessionMessages(ctx, sessionID)
}
