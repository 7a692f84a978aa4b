package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/goals"
	"github.com/aurora-ai/amica/pkg/llm"
	"github.com/aurora-ai/amica/pkg/pipeline"
	"github.com/aurora-ai/amica/pkg/safety"
	"github.com/aurora-ai/amica/pkg/storage"
	"github.com/aurora-ai/amica/pkg/storage/storagetest"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	responses []string
	calls     int
	err       error
}

func (p *scriptedProvider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if p.calls >= len(p.responses) {
		return "{}", nil
	}
	r := p.responses[p.calls]
	p.calls++
	return r, nil
}

func (p *scriptedProvider) StreamWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (llm.Stream, error) {
	return nil, nil
}

func (p *scriptedProvider) Close() error { return nil }

func newExtractor(t *testing.T, store storage.Store, provider llm.Provider) *pipeline.Extractor {
	node := newPipelineNode(t)
	tracker := goals.NewTracker(store, provider, "test-model", 50, node, zap.NewNop())
	return pipeline.NewExtractor(store, provider, tracker, "test-model", node, zap.NewNop())
}

func conversationOf(turns ...string) []llm.Message {
	var messages []llm.Message
	for i, content := range turns {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: content})
	}
	return messages
}

func TestExtractor_ExtractInsights(t *testing.T) {
	store := storagetest.New()
	provider := &scriptedProvider{responses: []string{
		`{"insights": [
			{"key": "sister_name", "value": "Giulia", "type": "person", "confidence": 0.9},
			{"key": "favorite_music", "value": "jazz", "type": "preference", "confidence": 0.8},
			{"key": "maybe_vegan", "value": "possibly vegan", "type": "personal", "confidence": 0.4},
			{"key": "recent_mood", "value": "stressed about work", "type": "emotional_state", "confidence": 0.7}
		]}`,
	}}
	extractor := newExtractor(t, store, provider)

	count, err := extractor.ExtractInsights(context.Background(), "user-1", "aria",
		conversationOf("my sister Giulia visited", "how nice", "I listen to jazz when stressed", "tell me more"))
	require.NoError(t, err)

	// The 0.4 confidence insight is below the floor.
	assert.Equal(t, 3, count)
	require.Len(t, store.Context, 3)

	for _, entry := range store.Context {
		assert.Equal(t, "private", entry.PrivacyLevel)
		switch entry.Key {
		case "sister_name", "favorite_music":
			assert.True(t, entry.CrossCompanion, entry.Key)
		case "recent_mood":
			assert.False(t, entry.CrossCompanion, entry.Key)
		}
	}
}

func TestExtractor_ExtractGlobalKnowledge(t *testing.T) {
	store := storagetest.New()
	provider := &scriptedProvider{responses: []string{
		`{"facts": [
			{"fact": "naming an emotion reduces its intensity", "category": "cbt", "confidence": 0.85, "isPersonal": false},
			{"fact": "the user's sister lives in Milan", "category": "personal", "confidence": 0.95, "isPersonal": true},
			{"fact": "cold showers cure everything", "category": "health", "confidence": 0.5, "isPersonal": false}
		]}`,
	}}
	extractor := newExtractor(t, store, provider)

	long := "I read that naming an emotion reduces its intensity, and it really worked for me when my sister visited from Milan last week."
	count, err := extractor.ExtractGlobalKnowledge(context.Background(),
		conversationOf(long, "interesting"))
	require.NoError(t, err)

	// Personal facts and low-confidence facts never enter the queue.
	assert.Equal(t, 1, count)
	require.Len(t, store.Pending, 1)
	assert.Equal(t, "naming an emotion reduces its intensity", store.Pending[0].ExtractedFact)
	assert.Equal(t, storage.PendingNew, store.Pending[0].Status)
}

func TestExtractor_ExtractGlobalKnowledgeSkipsThinContent(t *testing.T) {
	store := storagetest.New()
	provider := &scriptedProvider{}
	extractor := newExtractor(t, store, provider)

	count, err := extractor.ExtractGlobalKnowledge(context.Background(),
		conversationOf("hi", "hello"))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, provider.calls)
}

func TestExtractor_ProcessTurnCreatesGoal(t *testing.T) {
	store := storagetest.New()
	provider := &scriptedProvider{responses: []string{
		`{"description": "quit smoking", "category": "habits"}`,
	}}
	extractor := newExtractor(t, store, provider)

	err := extractor.ProcessTurn(context.Background(), "user-1", "aria",
		conversationOf("I've decided to quit smoking", "that is wonderful"),
		safety.IntentNewGoal)
	require.NoError(t, err)

	require.Len(t, store.Goals, 1)
	assert.Equal(t, "quit smoking", store.Goals[0].Description)
}

func TestExtractor_ProcessTurnSkipsShortConversations(t *testing.T) {
	store := storagetest.New()
	provider := &scriptedProvider{}
	extractor := newExtractor(t, store, provider)

	err := extractor.ProcessTurn(context.Background(), "user-1", "aria",
		conversationOf("hello"), safety.IntentNone)
	require.NoError(t, err)
	assert.Zero(t, provider.calls)
}

func TestExtractor_ProcessTurnSurvivesProviderFailure(t *testing.T) {
	store := storagetest.New()
	provider := &scriptedProvider{err: assert.AnError}
	extractor := newExtractor(t, store, provider)

	long := "I have been thinking a lot about how regular exercise completely changes my mood and energy during the week."
	err := extractor.ProcessTurn(context.Background(), "user-1", "aria",
		conversationOf(long, "tell me more", "it really helps", "good"),
		safety.IntentNone)
	assert.NoError(t, err)
}
