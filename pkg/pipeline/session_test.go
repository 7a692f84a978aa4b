package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/llm"
	"github.com/aurora-ai/amica/pkg/pipeline"
	"github.com/aurora-ai/amica/pkg/storage/storagetest"
)

const analysisResponse = `{
	"mood": "stressed",
	"intensity": 7,
	"topics": ["work", "sleep"],
	"keyInsight": "Work pressure is affecting the user's sleep.",
	"entities": {
		"people": [{"name": "Marco", "relationship": "boss", "context": "new project deadline", "sentiment": "negative"}],
		"events": ["project deadline on Friday"],
		"preferences": ["prefers talking in the evening"]
	}
}`

// failNTimesProvider fails with a fixed error n times, then succeeds.
type failNTimesProvider struct {
	failures int
	err      error
	response string
	calls    int
}

func (p *failNTimesProvider) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	p.calls++
	if p.calls <= p.failures {
		return "", p.err
	}
	return p.response, nil
}

func (p *failNTimesProvider) StreamWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (llm.Stream, error) {
	return nil, nil
}

func (p *failNTimesProvider) Close() error { return nil }

func sessionMessages() []llm.Message {
	return conversationOf(
		"work has been brutal, Marco keeps moving the deadline",
		"that sounds exhausting",
		"I barely sleep because of it",
		"let's talk about what might help",
	)
}

func TestAnalyzer_Analyze(t *testing.T) {
	store := storagetest.New()
	provider := &failNTimesProvider{response: analysisResponse}
	analyzer := pipeline.NewAnalyzer(store, provider, "test-model", newPipelineNode(t), zap.NewNop())

	analysis, err := analyzer.Analyze(context.Background(), "user-1", "aria", sessionMessages(), 600)
	require.NoError(t, err)
	assert.Equal(t, "stressed", analysis.Mood)
	assert.Equal(t, 7, analysis.Intensity)

	// Mood row, event row, preference row.
	assert.Len(t, store.Context, 3)

	require.Len(t, store.Persons, 1)
	assert.Equal(t, "Marco", store.Persons[0].PersonName)
	assert.Equal(t, "boss", store.Persons[0].Relationship)

	require.Len(t, store.Summaries, 1)
	assert.Equal(t, "chat", store.Summaries[0].Kind)
	assert.Equal(t, 600, store.Summaries[0].DurationSeconds)

	require.Len(t, store.Insights, 1)
	assert.Equal(t, []string{"work", "sleep"}, store.Insights[0].Topics)
}

func TestAnalyzer_RetriesOnRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps")
	}

	store := storagetest.New()
	provider := &failNTimesProvider{
		failures: 1,
		err:      core.ErrRateLimited,
		response: analysisResponse,
	}
	analyzer := pipeline.NewAnalyzer(store, provider, "test-model", newPipelineNode(t), zap.NewNop())

	analysis, err := analyzer.Analyze(context.Background(), "user-1", "aria", sessionMessages(), 600)
	require.NoError(t, err)
	assert.Equal(t, "stressed", analysis.Mood)
	assert.Equal(t, 2, provider.calls)
}

func TestAnalyzer_NoRetryOnOtherErrors(t *testing.T) {
	store := storagetest.New()
	provider := &failNTimesProvider{
		failures: 5,
		err:      assert.AnError,
	}
	analyzer := pipeline.NewAnalyzer(store, provider, "user-1", newPipelineNode(t), zap.NewNop())

	_, err := analyzer.Analyze(context.Background(), "user-1", "aria", sessionMessages(), 600)
	assert.Error(t, err)
	assert.Equal(t, 1, provider.calls)
}

func TestAnalyzer_RetryStopsOnCancel(t *testing.T) {
	store := storagetest.New()
	provider := &failNTimesProvider{
		failures: 5,
		err:      core.ErrUpstreamUnavailable,
	}
	analyzer := pipeline.NewAnalyzer(store, provider, "test-model", newPipelineNode(t), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := analyzer.Analyze(ctx, "user-1", "aria", sessionMessages(), 600)
	assert.Error(t, err)
	// The first attempt fails, the backoff is interrupted by the deadline.
	assert.Equal(t, 1, provider.calls)
}

func TestCallSummarizer_Summarize(t *testing.T) {
	store := storagetest.New()
	provider := &failNTimesProvider{response: `{
		"summary": "The user talked through a stressful week at work.",
		"topic": "work stress",
		"mood": "tired",
		"keyPoints": ["deadline pressure", "poor sleep"]
	}`}
	summarizer := pipeline.NewCallSummarizer(store, provider, "test-model", newPipelineNode(t), zap.NewNop())

	summary, err := summarizer.Summarize(context.Background(), "user-1", "aria", "Aria",
		[]string{"user: rough week", "assistant: tell me about it"}, 125)
	require.NoError(t, err)
	assert.Equal(t, "work stress", summary.Topic)

	// Seconds round up to whole minutes.
	assert.Equal(t, 3, summary.DurationMinutes)

	require.Len(t, store.Summaries, 1)
	assert.Equal(t, "call", store.Summaries[0].Kind)
	assert.Equal(t, 125, store.Summaries[0].DurationSeconds)
}
