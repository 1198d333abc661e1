package service

import (
	"context"
	"fmt"

	"github.com/memoria-labs/memoria/internal/domain"
)

// EntityFilter narrows ListEntities results.
type EntityFilter struct {
	Type   string
	Decade string
	Limit  int
	Offset int
}

// ListEntities returns entities newest-first with optional type and decade
// filters plus pagination. The second return value is the total after
// filtering, before pagination.
func (s *Service) ListEntities(ctx context.Context, filter EntityFilter) ([]domain.Entity, int, error) {
	entities, err := s.store.GetAllEntities(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load entities: %w", err)
	}

	filtered := make([]domain.Entity, 0, len(entities))
	for _, entity := range entities {
		if filter.Type != "" && string(entity.Type) != filter.Type {
			continue
		}
		if filter.Decade != "" && (entity.Decade == nil || *entity.Decade != filter.Decade) {
			continue
		}
		filtered = append(filtered, entity)
	}

	total := len(filtered)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}
	return filtered[offset:end], total, nil
}

// SearchEntities runs the store's ranked entity search.
func (s *Service) SearchEntities(ctx context.Context, query string) ([]domain.Entity, error) {
	return s.store.SearchEntities(ctx, query)
}
