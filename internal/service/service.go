// Package service implements the conversation orchestration and
// knowledge-extraction engine: turn handling, prompt assembly, entity
// extraction, decade-gap analysis and the knowledge query engine.
package service

import (
	"go.uber.org/zap"

	"github.com/memoria-labs/memoria/internal/llm"
	"github.com/memoria-labs/memoria/internal/store"
)

type Service struct {
	store     store.Store
	llm       llm.Client
	extractor *Extractor
	logger    *zap.Logger
}

func New(st store.Store, client llm.Client, extractor *Extractor, logger *zap.Logger) *Service {
	return &Service{
		store:     st,
		llm:       client,
		extractor: extractor,
		logger:    logger,
	}
}
