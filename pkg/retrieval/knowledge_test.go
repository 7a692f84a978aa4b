package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/storage"
	"github.com/aurora-ai/amica/pkg/storage/storagetest"
)

func TestExtractKeywords(t *testing.T) {
	got := extractKeywords("I can't sleep, the anxiety is too much!")
	assert.Equal(t, []string{"sleep", "anxiety", "too", "much"}, got)

	// Stop words and short tokens are dropped in both languages.
	got = extractKeywords("non riesco a dormire per l'ansia")
	assert.Equal(t, []string{"riesco", "dormire", "ansia"}, got)

	assert.Empty(t, extractKeywords("the and for"))
}

func TestKeywordScore(t *testing.T) {
	item := &storage.KnowledgeItem{
		Title:    "Sleep hygiene basics",
		Content:  "Good sleep starts with a regular schedule. Poor sleep compounds stress.",
		Category: "sleep",
	}

	// "sleep" appears twice in content, once in title (+2), once in
	// category (+1).
	assert.Equal(t, 5, keywordScore(item, []string{"sleep"}))
	assert.Equal(t, 1, keywordScore(item, []string{"stress"}))
	assert.Equal(t, 0, keywordScore(item, []string{"running"}))
}

func TestDedupeByTitle(t *testing.T) {
	items := []*storage.KnowledgeItem{
		{ID: 1, Title: "Box Breathing"},
		{ID: 2, Title: "box breathing"},
		{ID: 3, Title: "Grounding"},
	}

	got := dedupeByTitle(items)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, int64(3), got[1].ID)
}

func TestKnowledgeRetriever_Relevant(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	seed := []*storage.KnowledgeItem{
		{ID: 1, Title: "Box breathing", Content: "Box breathing eases anxiety attacks", Category: "anxiety", IsGlobal: true, ValidationStatus: storage.ValidationValidated},
		{ID: 2, Title: "Sleep hygiene", Content: "Fixed bedtimes improve sleep", Category: "sleep", IsGlobal: true, ValidationStatus: storage.ValidationValidated},
		{ID: 3, Title: "Mindful minute", Content: "A one minute pause resets attention", Category: "mindfulness", IsGlobal: true, ValidationStatus: storage.ValidationValidated},
		{ID: 4, Title: "Aria warmup", Content: "Companion specific greeting ritual", Category: "persona", CompanionID: "aria"},
	}
	for _, item := range seed {
		require.NoError(t, store.InsertKnowledge(ctx, item))
	}

	retriever := NewKnowledgeRetriever(store, zap.NewNop())

	got := retriever.Relevant(ctx, "aria", "my anxiety is bad tonight")

	titles := make(map[string]bool)
	for _, item := range got {
		titles[item.Title] = true
	}

	// Keyword match on "anxiety", plus the mindfulness item pulled in by
	// the anxiety topic group.
	assert.True(t, titles["Box breathing"])
	assert.True(t, titles["Mindful minute"])
	assert.False(t, titles["Sleep hygiene"])
	assert.LessOrEqual(t, len(got), 5)
}

func TestKnowledgeRetriever_CapsAtFive(t *testing.T) {
	store := storagetest.New()
	ctx := context.Background()

	for i := int64(1); i <= 8; i++ {
		require.NoError(t, store.InsertKnowledge(ctx, &storage.KnowledgeItem{
			ID:               i,
			Title:            string(rune('A'+i)) + " anxiety tip",
			Content:          "anxiety anxiety anxiety",
			Category:         "anxiety",
			IsGlobal:         true,
			ValidationStatus: storage.ValidationValidated,
		}))
	}

	retriever := NewKnowledgeRetriever(store, zap.NewNop())
	got := retriever.Relevant(ctx, "aria", "anxiety again")
	assert.Len(t, got, 5)
}

func TestKnowledgeRetriever_SoftFailsOnStoreError(t *testing.T) {
	store := storagetest.New()
	store.Err = assert.AnError

	retriever := NewKnowledgeRetriever(store, zap.NewNop())
	got := retriever.Relevant(context.Background(), "aria", "anxiety")
	assert.Empty(t, got)
}
