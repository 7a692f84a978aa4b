package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/llm"
	"github.com/aurora-ai/amica/pkg/storage"
)

// CallSummary is the structured summary of one voice call.
type CallSummary struct {
	Summary         string   `json:"summary"`
	Topic           string   `json:"topic"`
	Mood            string   `json:"mood"`
	KeyPoints       []string `json:"keyPoints"`
	DurationMinutes int      `json:"durationMinutes"`
}

// CallSummarizer turns call transcripts into a persisted summary.
type CallSummarizer struct {
	store    storage.Store
	provider llm.Provider
	node     *snowflake.Node
	logger   *zap.Logger

	extractionModel string
}

// NewCallSummarizer creates a call summarizer.
func NewCallSummarizer(store storage.Store, provider llm.Provider, extractionModel string, node *snowflake.Node, logger *zap.Logger) *CallSummarizer {
	return &CallSummarizer{
		store:           store,
		provider:        provider,
		node:            node,
		logger:          logger,
		extractionModel: extractionModel,
	}
}

// Summarize condenses the transcripts and persists a call-kind session
// summary row.
func (c *CallSummarizer) Summarize(ctx context.Context, userID, companionID, companionName string, transcripts []string, durationSeconds int) (*CallSummary, error) {
	prompt := fmt.Sprintf(`Summarize this voice call between the user and %s.

Transcript:
%s

Return JSON: {"summary": "<2-3 sentence summary>", "topic": "<main topic>", "mood": "<user's mood>", "keyPoints": ["point1"]}
Preserve the user's language.`, companionName, strings.Join(transcripts, "\n"))

	response, err := c.provider.GenerateWithMessages(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.WithModel(c.extractionModel),
		llm.WithTemperature(0.3),
		llm.WithJSONResponse(),
	)
	if err != nil {
		return nil, core.WrapError("SummarizeCall", err)
	}

	var summary CallSummary
	if err := json.Unmarshal([]byte(llm.StripCodeBlocks(response)), &summary); err != nil {
		return nil, core.WrapError("SummarizeCall", fmt.Errorf("parse summary: %w", err))
	}
	summary.DurationMinutes = (durationSeconds + 59) / 60

	err = c.store.InsertSessionSummary(ctx, &storage.SessionSummary{
		ID:              c.node.Generate().Int64(),
		UserID:          userID,
		CompanionID:     companionID,
		Kind:            "call",
		Summary:         summary.Summary,
		Topic:           summary.Topic,
		Mood:            summary.Mood,
		KeyPoints:       summary.KeyPoints,
		DurationSeconds: durationSeconds,
	})
	if err != nil {
		c.logger.Warn("call summary insert failed", zap.Error(err))
	}

	return &summary, nil
}
