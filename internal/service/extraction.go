package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/memoria-labs/memoria/internal/domain"
	"github.com/memoria-labs/memoria/internal/llm"
	"github.com/memoria-labs/memoria/internal/store"
)

const extractionPrompt = `You are an entity extraction system for a family story preservation app.
Extract entities from the following message spoken by an elderly person sharing family memories.

For each entity, provide:
- name: The entity name (person's name, place name, year, or event description)
- type: One of "person", "year", "place", "event"
- context: A brief description of how this entity relates to the story (1-2 sentences)
- relationship: For persons only — their relationship to the speaker (e.g., "Bruder", "Tochter", "Nachbar"). Null for non-person entities.
- decade: The decade this entity relates to (e.g., "1960s"). Infer from explicit years or contextual clues. Use null if no decade can be inferred.

Return a JSON array. If no entities are found, return an empty array [].
Do not invent entities. Only extract what is explicitly stated or clearly implied.`

var decadePattern = regexp.MustCompile(`^\d{4}s$`)

const extractionQueueSize = 64

type extractionJob struct {
	text      string
	messageID string
	sessionID string
}

// Extractor turns user utterances into structured entities and merges them
// into the store. Jobs arrive on a bounded queue consumed by a single
// goroutine, so turn replies never wait on extraction and extraction
// failures surface only in the log.
type Extractor struct {
	store  store.Store
	llm    llm.Client
	logger *zap.Logger

	jobs chan extractionJob
	wg   sync.WaitGroup

	closeOnce sync.Once
}

// NewExtractor creates an extractor and starts its consumer goroutine.
func NewExtractor(st store.Store, client llm.Client, logger *zap.Logger) *Extractor {
	e := &Extractor{
		store:  st,
		llm:    client,
		logger: logger,
		jobs:   make(chan extractionJob, extractionQueueSize),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

func (e *Extractor) run() {
	defer e.wg.Done()
	for job := range e.jobs {
		if _, err := e.Extract(context.Background(), job.text, job.messageID, job.sessionID); err != nil {
			e.logger.Error("entity extraction failed",
				zap.String("messageId", job.messageID),
				zap.Error(err))
		}
	}
}

// Enqueue submits an utterance for background extraction. Never blocks: when
// the queue is saturated the job is dropped with a warning, which is
// acceptable because extraction is best-effort.
func (e *Extractor) Enqueue(text, messageID, sessionID string) {
	select {
	case e.jobs <- extractionJob{text: text, messageID: messageID, sessionID: sessionID}:
	default:
		e.logger.Warn("extraction queue full, dropping job",
			zap.String("messageId", messageID))
	}
}

// Close drains the queue and stops the consumer.
func (e *Extractor) Close() {
	e.closeOnce.Do(func() {
		close(e.jobs)
	})
	e.wg.Wait()
}

type rawEntity struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Context      string  `json:"context"`
	Relationship *string `json:"relationship"`
	Decade       *string `json:"decade"`
}

// Extract prompts the model for entities in text, validates the candidates
// and merges the valid ones into the store. An unconfigured model is a
// no-op. Malformed model output is logged and yields an empty result, never
// an error; the returned error covers store failures only.
func (e *Extractor) Extract(ctx context.Context, text, messageID, sessionID string) ([]domain.Entity, error) {
	if !e.llm.IsConfigured() {
		return nil, nil
	}

	response, err := e.llm.ChatCompletion(ctx, []llm.ChatMessage{
		{Role: "system", Content: extractionPrompt},
		{Role: "user", Content: text},
	}, 2000, 0.3)
	if err != nil {
		e.logger.Error("extraction completion failed", zap.Error(err))
		return nil, nil
	}

	candidates, ok := parseEntityCandidates(response)
	if !ok {
		e.logger.Error("entity extraction returned non-JSON",
			zap.String("response", truncate(response, 200)))
		return nil, nil
	}

	now := time.Now().UTC()
	var entities []domain.Entity
	for _, raw := range candidates {
		name := strings.TrimSpace(raw.Name)
		if name == "" || raw.Type == "" {
			continue
		}
		entityType := domain.EntityType(raw.Type)
		if !domain.ValidEntityType(entityType) {
			e.logger.Warn("invalid entity type, discarding", zap.String("type", raw.Type))
			continue
		}

		decade := raw.Decade
		if decade != nil && !decadePattern.MatchString(*decade) {
			decade = nil
		}
		relationship := raw.Relationship
		if entityType != domain.EntityTypePerson {
			relationship = nil
		}

		entities = append(entities, domain.Entity{
			ID:               "ent_" + uuid.New().String()[:8],
			Name:             name,
			Type:             entityType,
			Context:          raw.Context,
			Relationship:     relationship,
			Decade:           decade,
			SourceMessageIDs: []string{messageID},
			SourceSessionIDs: []string{sessionID},
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	if len(entities) == 0 {
		return nil, nil
	}
	if err := e.store.AddEntities(ctx, entities); err != nil {
		return nil, err
	}
	return entities, nil
}

// parseEntityCandidates treats the model output as untrusted: it tolerates
// markdown code fences and rejects anything that is not a JSON array.
func parseEntityCandidates(response string) ([]rawEntity, bool) {
	jsonStr := strings.TrimSpace(response)
	if strings.HasPrefix(jsonStr, "```") {
		jsonStr = strings.TrimPrefix(jsonStr, "```json")
		jsonStr = strings.TrimPrefix(jsonStr, "```")
		jsonStr = strings.TrimSuffix(strings.TrimSpace(jsonStr), "```")
		jsonStr = strings.TrimSpace(jsonStr)
	}

	var candidates []rawEntity
	if err := json.Unmarshal([]byte(jsonStr), &candidates); err != nil {
		return nil, false
	}
	return candidates, true
}
