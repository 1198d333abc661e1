package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoria-labs/memoria/internal/domain"
)

func TestBuildContextMinimal(t *testing.T) {
	messages := BuildContext(nil, "", nil, nil)

	require.Len(t, messages, 1)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, personalityPrompt, messages[0].Content)
}

func TestBuildContextIncludesEntitiesAndHint(t *testing.T) {
	entities := []domain.Entity{
		{Name: "Onkel Hans", Type: domain.EntityTypePerson, Context: "Omas Bruder"},
	}
	hint := "Frag nach den 1950s."

	messages := BuildContext(entities, hint, nil, nil)

	require.Len(t, messages, 3)
	assert.Contains(t, messages[1].Content, "Bekannte Entitäten")
	assert.Contains(t, messages[1].Content, "- Onkel Hans (person): Omas Bruder")
	assert.Equal(t, hint, messages[2].Content)
}

func TestBuildContextCapsEntities(t *testing.T) {
	entities := make([]domain.Entity, 40)
	for i := range entities {
		entities[i] = domain.Entity{
			Name:    fmt.Sprintf("Person %d", i),
			Type:    domain.EntityTypePerson,
			Context: "bekannt",
		}
	}

	messages := BuildContext(entities, "", nil, nil)

	require.Len(t, messages, 2)
	assert.Equal(t, maxPromptEntities, strings.Count(messages[1].Content, "\n- "))
	assert.Contains(t, messages[1].Content, "Person 29")
	assert.NotContains(t, messages[1].Content, "Person 30")
}

func TestBuildContextDropsOldestSummaries(t *testing.T) {
	big := strings.Repeat("x", maxSummaryChars/2)
	summaries := []string{"erste alte Zusammenfassung", big, big}

	messages := BuildContext(nil, "", summaries, nil)

	require.Len(t, messages, 2)
	assert.NotContains(t, messages[1].Content, "erste alte Zusammenfassung")
	assert.Contains(t, messages[1].Content, "Bisherige Gespräche:")
}

func TestBuildContextKeepsAtLeastOneSummary(t *testing.T) {
	oversized := strings.Repeat("x", maxSummaryChars+100)

	messages := BuildContext(nil, "", []string{oversized}, nil)

	require.Len(t, messages, 2)
	assert.Contains(t, messages[1].Content, "Gespräch 1: ")
}

func TestBuildContextTranscriptNewestWithinBudget(t *testing.T) {
	chunk := strings.Repeat("a", maxTranscriptChars/3)
	transcript := []domain.Message{
		{Role: domain.RoleUser, Content: "älteste " + chunk},
		{Role: domain.RoleAssistant, Content: "mittlere " + chunk},
		{Role: domain.RoleUser, Content: "neueste " + chunk},
	}

	messages := BuildContext(nil, "", nil, transcript)

	// The oldest message pushes the total over budget and is dropped.
	require.Len(t, messages, 3)
	assert.True(t, strings.HasPrefix(messages[1].Content, "mittlere "))
	assert.True(t, strings.HasPrefix(messages[2].Content, "neueste "))
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "user", messages[2].Role)
}

func TestBuildContextTranscriptChronological(t *testing.T) {
	transcript := []domain.Message{
		{Role: domain.RoleAssistant, Content: "Hallo!"},
		{Role: domain.RoleUser, Content: "Ich erinnere mich an Hans."},
		{Role: domain.RoleAssistant, Content: "Erzähl mir mehr."},
	}

	messages := BuildContext(nil, "", nil, transcript)

	require.Len(t, messages, 4)
	assert.Equal(t, "Hallo!", messages[1].Content)
	assert.Equal(t, "Ich erinnere mich an Hans.", messages[2].Content)
	assert.Equal(t, "Erzähl mir mehr.", messages[3].Content)
}

func TestBuildContextSectionOrder(t *testing.T) {
	entities := []domain.Entity{{Name: "Hans", Type: domain.EntityTypePerson, Context: "Bruder"}}
	transcript := []domain.Message{{Role: domain.RoleUser, Content: "Hallo"}}

	messages := BuildContext(entities, "Hinweis", []string{"Zusammenfassung"}, transcript)

	require.Len(t, messages, 5)
	assert.Equal(t, personalityPrompt, messages[0].Content)
	assert.Contains(t, messages[1].Content, "Bekannte Entitäten")
	assert.Equal(t, "Hinweis", messages[2].Content)
	assert.Contains(t, messages[3].Content, "Bisherige Gespräche")
	assert.Equal(t, "Hallo", messages[4].Content)
}
