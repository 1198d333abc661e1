package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoria-labs/memoria/internal/domain"
)

func entitiesInDecade(decade string, count int) []domain.Entity {
	entities := make([]domain.Entity, count)
	for i := range entities {
		d := decade
		entities[i] = domain.Entity{
			Name:   "Entität",
			Type:   domain.EntityTypeEvent,
			Decade: &d,
		}
	}
	return entities
}

func TestComputeCoverageThresholds(t *testing.T) {
	var entities []domain.Entity
	entities = append(entities, entitiesInDecade("1950s", 1)...)
	entities = append(entities, entitiesInDecade("1960s", 2)...)
	entities = append(entities, entitiesInDecade("1970s", 3)...)
	// Entities without a decade count nowhere.
	entities = append(entities, domain.Entity{Name: "Hans", Type: domain.EntityTypePerson})

	coverage := ComputeCoverage(entities)
	require.Len(t, coverage, 10)

	byDecade := make(map[string]domain.DecadeCoverage)
	for _, d := range coverage {
		byDecade[d.Decade] = d
	}

	assert.Equal(t, domain.CoverageEmpty, byDecade["1930s"].Status)
	assert.Equal(t, domain.CoverageThin, byDecade["1950s"].Status)
	assert.Equal(t, 1, byDecade["1950s"].EntityCount)
	assert.Equal(t, domain.CoverageThin, byDecade["1960s"].Status)
	assert.Equal(t, domain.CoverageCovered, byDecade["1970s"].Status)
	assert.Equal(t, 3, byDecade["1970s"].EntityCount)
}

func TestComputeCoverageFixedOrder(t *testing.T) {
	coverage := ComputeCoverage(nil)

	require.Len(t, coverage, 10)
	assert.Equal(t, "1930s", coverage[0].Decade)
	assert.Equal(t, "2020s", coverage[9].Decade)
	for _, d := range coverage {
		assert.Equal(t, domain.CoverageEmpty, d.Status)
	}
}

func TestCoverageGaps(t *testing.T) {
	coverage := ComputeCoverage(entitiesInDecade("1950s", 2))
	gaps := CoverageGaps(coverage)

	// 1950s is thin, everything else empty, so all ten decades appear in
	// chronological order.
	require.Len(t, gaps, 10)
	assert.Equal(t, "1930s", gaps[0])
	assert.Equal(t, "1950s", gaps[2])
	assert.Equal(t, "2020s", gaps[9])
}

func TestCoverageGapsExcludesCovered(t *testing.T) {
	var entities []domain.Entity
	for _, decade := range domain.Decades {
		entities = append(entities, entitiesInDecade(decade, 3)...)
	}

	gaps := CoverageGaps(ComputeCoverage(entities))
	assert.Empty(t, gaps)
}

func TestGapHintCadence(t *testing.T) {
	coverage := ComputeCoverage(nil)

	assert.Empty(t, GapHint(coverage, 0))
	assert.Empty(t, GapHint(coverage, 1))
	assert.Empty(t, GapHint(coverage, 4))
	assert.NotEmpty(t, GapHint(coverage, 5))
	assert.Empty(t, GapHint(coverage, 6))
	assert.NotEmpty(t, GapHint(coverage, 10))
}

func TestGapHintPrefersEmptyOverThin(t *testing.T) {
	var entities []domain.Entity
	// 1930s thin, 1940s empty, everything later covered.
	entities = append(entities, entitiesInDecade("1930s", 1)...)
	for _, decade := range domain.Decades[2:] {
		entities = append(entities, entitiesInDecade(decade, 3)...)
	}

	hint := GapHint(ComputeCoverage(entities), 5)
	assert.Contains(t, hint, "1940s")
	assert.NotContains(t, hint, "1930s")
}

func TestGapHintFallsBackToThin(t *testing.T) {
	var entities []domain.Entity
	entities = append(entities, entitiesInDecade("1950s", 2)...)
	for _, decade := range domain.Decades {
		if decade == "1950s" {
			continue
		}
		entities = append(entities, entitiesInDecade(decade, 3)...)
	}

	hint := GapHint(ComputeCoverage(entities), 5)
	assert.Contains(t, hint, "1950s")
	assert.Contains(t, hint, "(2 Entitäten)")
}

func TestGapHintNoGaps(t *testing.T) {
	var entities []domain.Entity
	for _, decade := range domain.Decades {
		entities = append(entities, entitiesInDecade(decade, 3)...)
	}

	assert.Empty(t, GapHint(ComputeCoverage(entities), 5))
}
