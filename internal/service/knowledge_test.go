package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memoria-labs/memoria/internal/domain"
)

func TestExtractKeywords(t *testing.T) {
	keywords := extractKeywords("Wo hat Onkel Hans früher gewohnt?")
	assert.Equal(t, []string{"onkel", "hans", "früher", "gewohnt"}, keywords)
}

func TestExtractKeywordsDropsShortTokens(t *testing.T) {
	keywords := extractKeywords("Was ist am 1. Mai in Ulm passiert?")
	// "ulm" survives at three characters, "mai" too; "am", "1" and stop words
	// do not.
	assert.Equal(t, []string{"mai", "ulm", "passiert"}, keywords)
}

func TestExtractKeywordsKeepsUmlauts(t *testing.T) {
	keywords := extractKeywords("Erzähl mir von München und Köln!")
	assert.Equal(t, []string{"münchen", "köln"}, keywords)
}

func TestExtractKeywordsEmptyQuestion(t *testing.T) {
	assert.Empty(t, extractKeywords("Wer war das?"))
}

func TestMatchEntitiesBothDirections(t *testing.T) {
	entities := []domain.Entity{
		{ID: "ent_1", Name: "Onkel Hans", Type: domain.EntityTypePerson, Context: "Bruder"},
		{ID: "ent_2", Name: "München", Type: domain.EntityTypePlace, Context: "Stadt"},
		{ID: "ent_3", Name: "Hof", Type: domain.EntityTypePlace, Context: "Bauernhof der Familie"},
	}

	// Keyword contained in entity name.
	matched := matchEntities(entities, []string{"hans"})
	require.Len(t, matched, 1)
	assert.Equal(t, "ent_1", matched[0].ID)

	// Entity name contained in keyword.
	matched = matchEntities(entities, []string{"bauernhofs"})
	require.Len(t, matched, 1)
	assert.Equal(t, "ent_3", matched[0].ID)

	// Keyword matching context only.
	matched = matchEntities(entities, []string{"stadt"})
	require.Len(t, matched, 1)
	assert.Equal(t, "ent_2", matched[0].ID)
}

func TestAnswerQuestionValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.AnswerQuestion(ctx, "   ")
	assert.Equal(t, domain.ErrorValidation, domain.KindOf(err))

	_, err = svc.AnswerQuestion(ctx, strings.Repeat("a", 501))
	assert.Equal(t, domain.ErrorValidation, domain.KindOf(err))
}

func TestAnswerQuestionNoStoriesUnconfigured(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestService(t)
	mock.Configured = false

	answer, err := svc.AnswerQuestion(ctx, "Wo hat Hans gewohnt?")
	require.NoError(t, err)
	assert.Equal(t, noStoriesAnswer, answer.Answer)
	assert.Empty(t, answer.Sources)
}

func TestAnswerQuestionGroundsOnSources(t *testing.T) {
	ctx := context.Background()
	svc, st, mock := newTestService(t)

	session, _, err := svc.StartSession(ctx)
	require.NoError(t, err)
	userMsg, err := st.AddMessage(ctx, session.ID, domain.RoleUser, "Mein Bruder Hans zog 1965 nach München.")
	require.NoError(t, err)

	require.NoError(t, st.AddEntities(ctx, []domain.Entity{{
		Name:             "Hans",
		Type:             domain.EntityTypePerson,
		Context:          "Omas Bruder, der nach München zog",
		SourceMessageIDs: []string{userMsg.ID},
		SourceSessionIDs: []string{session.ID},
	}}))

	mock.QueueResponse("Hans, Omas Bruder, zog 1965 nach München.")
	answer, err := svc.AnswerQuestion(ctx, "Wo hat Hans gewohnt?")
	require.NoError(t, err)

	assert.Equal(t, "Hans, Omas Bruder, zog 1965 nach München.", answer.Answer)
	require.Len(t, answer.Sources, 1)
	source := answer.Sources[0]
	assert.Equal(t, session.ID, source.SessionID)
	assert.Equal(t, userMsg.ID, source.MessageID)
	assert.Equal(t, "Mein Bruder Hans zog 1965 nach München.", source.Excerpt)
	assert.Equal(t, session.StartedAt.Format("2006-01-02"), source.SessionDate)

	// The grounding prompt carries Oma's own words and the German directive.
	require.Len(t, mock.Calls, 1)
	prompt := mock.Calls[0][0].Content
	assert.Contains(t, prompt, "Oma: Mein Bruder Hans zog 1965 nach München.")
	assert.Contains(t, prompt, "Antworte immer auf Deutsch")
}

func TestAnswerQuestionDedupesSources(t *testing.T) {
	ctx := context.Background()
	svc, st, mock := newTestService(t)

	session, _, err := svc.StartSession(ctx)
	require.NoError(t, err)
	userMsg, err := st.AddMessage(ctx, session.ID, domain.RoleUser, "Hans und München gehören zusammen.")
	require.NoError(t, err)

	// Two entities sharing the same source message.
	require.NoError(t, st.AddEntities(ctx, []domain.Entity{
		{
			Name:             "Hans",
			Type:             domain.EntityTypePerson,
			Context:          "Bruder",
			SourceMessageIDs: []string{userMsg.ID},
			SourceSessionIDs: []string{session.ID},
		},
		{
			Name:             "München",
			Type:             domain.EntityTypePlace,
			Context:          "Stadt von Hans",
			SourceMessageIDs: []string{userMsg.ID},
			SourceSessionIDs: []string{session.ID},
		},
	}))

	mock.QueueResponse("Beide kommen in derselben Geschichte vor.")
	answer, err := svc.AnswerQuestion(ctx, "Was weißt du über Hans und München?")
	require.NoError(t, err)
	assert.Len(t, answer.Sources, 1)
}

func TestAnswerQuestionTruncatesExcerpt(t *testing.T) {
	ctx := context.Background()
	svc, st, mock := newTestService(t)

	session, _, err := svc.StartSession(ctx)
	require.NoError(t, err)
	long := "Hans " + strings.Repeat("erzählte und erzählte ", 20)
	userMsg, err := st.AddMessage(ctx, session.ID, domain.RoleUser, long)
	require.NoError(t, err)

	require.NoError(t, st.AddEntities(ctx, []domain.Entity{{
		Name:             "Hans",
		Type:             domain.EntityTypePerson,
		Context:          "Bruder",
		SourceMessageIDs: []string{userMsg.ID},
		SourceSessionIDs: []string{session.ID},
	}}))

	mock.QueueResponse("Eine lange Geschichte.")
	answer, err := svc.AnswerQuestion(ctx, "Was hat Hans erzählt?")
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Len(t, []rune(answer.Sources[0].Excerpt), 200)
}

func TestAnswerQuestionModelFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, mock := newTestService(t)

	mock.QueueError(errors.New("upstream down"))
	_, err := svc.AnswerQuestion(ctx, "Wo hat Hans gewohnt?")
	assert.Equal(t, domain.ErrorAIUnavailable, domain.KindOf(err))
}
