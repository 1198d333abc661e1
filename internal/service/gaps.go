package service

import (
	"context"
	"fmt"

	"github.com/memoria-labs/memoria/internal/domain"
)

// ComputeCoverage classifies each of the ten fixed decades by how many
// entities carry that decade: 0 is empty, 1-2 thin, 3 or more covered.
func ComputeCoverage(entities []domain.Entity) []domain.DecadeCoverage {
	counts := make(map[string]int, len(domain.Decades))
	for _, decade := range domain.Decades {
		counts[decade] = 0
	}
	for _, entity := range entities {
		if entity.Decade == nil {
			continue
		}
		if _, ok := counts[*entity.Decade]; ok {
			counts[*entity.Decade]++
		}
	}

	coverage := make([]domain.DecadeCoverage, len(domain.Decades))
	for i, decade := range domain.Decades {
		count := counts[decade]
		status := domain.CoverageCovered
		switch {
		case count == 0:
			status = domain.CoverageEmpty
		case count <= 2:
			status = domain.CoverageThin
		}
		coverage[i] = domain.DecadeCoverage{Decade: decade, EntityCount: count, Status: status}
	}
	return coverage
}

// CoverageGaps returns the empty and thin decades in chronological order.
func CoverageGaps(coverage []domain.DecadeCoverage) []string {
	gaps := make([]string, 0, len(coverage))
	for _, d := range coverage {
		if d.Status == domain.CoverageEmpty || d.Status == domain.CoverageThin {
			gaps = append(gaps, d.Decade)
		}
	}
	return gaps
}

// GapHint renders a warm nudge toward the least-covered decade, at most once
// per five turns so the conversation stays led by the storyteller. Returns ""
// when no hint is due or no gap exists. Empty decades win over thin ones,
// earlier over later.
func GapHint(coverage []domain.DecadeCoverage, turnCount int) string {
	if turnCount <= 0 || turnCount%5 != 0 {
		return ""
	}

	var target *domain.DecadeCoverage
	for i := range coverage {
		if coverage[i].Status == domain.CoverageEmpty {
			target = &coverage[i]
			break
		}
	}
	if target == nil {
		for i := range coverage {
			if coverage[i].Status == domain.CoverageThin {
				target = &coverage[i]
				break
			}
		}
	}
	if target == nil {
		return ""
	}

	return fmt.Sprintf(`Die folgenden Jahrzehnte haben wenige oder keine Geschichten: %s (%d Entitäten). Wenn es passt, frage sanft nach dieser Zeit. Formuliere die Frage warm, z.B.: "Du hast noch nicht viel über die %s erzählt — wie war das Leben damals für dich?"`,
		target.Decade, target.EntityCount, target.Decade)
}

// Coverage returns the decade coverage derived from the stored entities.
func (s *Service) Coverage(ctx context.Context) ([]domain.DecadeCoverage, error) {
	entities, err := s.store.GetAllEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	return ComputeCoverage(entities), nil
}
