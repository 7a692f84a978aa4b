package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/llm"
	"github.com/aurora-ai/amica/pkg/storage"
)

// analysisRetries is how many extra attempts the analysis call gets on
// upstream rate limiting or unavailability. This is the only retrying path;
// every other upstream call is single-attempt.
const analysisRetries = 2

// analysisBackoffs are the waits before each retry.
var analysisBackoffs = [analysisRetries]time.Duration{2 * time.Second, 4 * time.Second}

// PersonMention is one person surfaced by session analysis.
type PersonMention struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	Context      string `json:"context"`
	Sentiment    string `json:"sentiment"`
}

// SessionAnalysis is the structured result of analyzing one chat session.
type SessionAnalysis struct {
	Mood       string   `json:"mood"`
	Intensity  int      `json:"intensity"`
	Topics     []string `json:"topics"`
	KeyInsight string   `json:"keyInsight"`
	Entities   struct {
		People      []PersonMention `json:"people"`
		Events      []string        `json:"events"`
		Preferences []string        `json:"preferences"`
	} `json:"entities"`
}

// Analyzer runs post-session analysis and persists what it learns.
type Analyzer struct {
	store    storage.Store
	provider llm.Provider
	node     *snowflake.Node
	logger   *zap.Logger

	extractionModel string
}

// NewAnalyzer creates a session analyzer.
func NewAnalyzer(store storage.Store, provider llm.Provider, extractionModel string, node *snowflake.Node, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		store:           store,
		provider:        provider,
		node:            node,
		logger:          logger,
		extractionModel: extractionModel,
	}
}

// Analyze asks the extraction model for the session's emotional state,
// topics, and entities, then persists people to the social graph, events and
// preferences as user context, and a summary plus insight row.
func (a *Analyzer) Analyze(ctx context.Context, userID, companionID string, messages []llm.Message, durationSeconds int) (*SessionAnalysis, error) {
	prompt := fmt.Sprintf(`Analyze this conversation session.

Conversation:
%s

Return JSON: {"mood": "<dominant user mood>", "intensity": <1-10>, "topics": ["topic1"], "keyInsight": "<the single most important thing learned about the user>", "entities": {"people": [{"name": "", "relationship": "", "context": "", "sentiment": ""}], "events": ["<event the user mentioned>"], "preferences": ["<stated preference>"]}}
Preserve the user's language.`, renderConversation(messages))

	response, err := a.generateWithRetry(ctx, prompt)
	if err != nil {
		return nil, core.WrapError("AnalyzeSession", err)
	}

	var analysis SessionAnalysis
	if err := json.Unmarshal([]byte(llm.StripCodeBlocks(response)), &analysis); err != nil {
		return nil, core.WrapError("AnalyzeSession", fmt.Errorf("parse analysis: %w", err))
	}

	a.persist(ctx, userID, companionID, &analysis, durationSeconds)
	return &analysis, nil
}

// generateWithRetry retries only on upstream rate limiting or
// unavailability, with fixed 2s then 4s backoff.
func (a *Analyzer) generateWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= analysisRetries; attempt++ {
		if attempt > 0 {
			a.logger.Info("retrying session analysis",
				zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-time.After(analysisBackoffs[attempt-1]):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		response, err := a.provider.GenerateWithMessages(ctx,
			[]llm.Message{{Role: "user", Content: prompt}},
			llm.WithModel(a.extractionModel),
			llm.WithTemperature(0.3),
			llm.WithJSONResponse(),
		)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !errors.Is(err, core.ErrRateLimited) && !errors.Is(err, core.ErrUpstreamUnavailable) {
			return "", err
		}
	}
	return "", lastErr
}

// persist writes everything the analysis learned. Each write fails
// independently and is only logged.
func (a *Analyzer) persist(ctx context.Context, userID, companionID string, analysis *SessionAnalysis, durationSeconds int) {
	if analysis.Mood != "" {
		err := a.store.UpsertUserContext(ctx, &storage.UserContextEntry{
			UserID:      userID,
			CompanionID: companionID,
			ContextType: "emotional_state",
			Key:         "recent_mood",
			Value:       analysis.Mood,
			Confidence:  0.8,
		})
		if err != nil {
			a.logger.Warn("mood upsert failed", zap.Error(err))
		}
	}

	for _, p := range analysis.Entities.People {
		if p.Name == "" {
			continue
		}
		err := a.store.UpsertPerson(ctx, &storage.SocialGraphPerson{
			ID:           a.node.Generate().Int64(),
			UserID:       userID,
			CompanionID:  companionID,
			PersonName:   p.Name,
			Relationship: p.Relationship,
			Context:      p.Context,
			Sentiment:    p.Sentiment,
		})
		if err != nil {
			a.logger.Warn("person upsert failed",
				zap.String("name", p.Name), zap.Error(err))
		}
	}

	for _, event := range analysis.Entities.Events {
		a.upsertFact(ctx, userID, companionID, "event", event)
	}
	for _, pref := range analysis.Entities.Preferences {
		a.upsertFact(ctx, userID, companionID, "preference", pref)
	}

	err := a.store.InsertSessionSummary(ctx, &storage.SessionSummary{
		ID:              a.node.Generate().Int64(),
		UserID:          userID,
		CompanionID:     companionID,
		Kind:            "chat",
		Summary:         analysis.KeyInsight,
		Topic:           strings.Join(analysis.Topics, ", "),
		Mood:            analysis.Mood,
		DurationSeconds: durationSeconds,
	})
	if err != nil {
		a.logger.Warn("session summary insert failed", zap.Error(err))
	}

	err = a.store.InsertSessionInsight(ctx, &storage.SessionInsight{
		ID:          a.node.Generate().Int64(),
		UserID:      userID,
		CompanionID: companionID,
		Mood:        analysis.Mood,
		Intensity:   analysis.Intensity,
		Topics:      analysis.Topics,
		KeyInsight:  analysis.KeyInsight,
	})
	if err != nil {
		a.logger.Warn("session insight insert failed", zap.Error(err))
	}
}

func (a *Analyzer) upsertFact(ctx context.Context, userID, companionID, factType, value string) {
	if value == "" {
		return
	}
	err := a.store.UpsertUserContext(ctx, &storage.UserContextEntry{
		UserID:         userID,
		CompanionID:    companionID,
		CrossCompanion: crossCompanionTypes[factType],
		ContextType:    factType,
		Key:            slugKey(value),
		Value:          value,
		Confidence:     0.7,
	})
	if err != nil {
		a.logger.Warn("fact upsert failed",
			zap.String("type", factType), zap.Error(err))
	}
}

// slugKey derives a stable snake_case key from the first words of a value.
func slugKey(value string) string {
	fields := strings.Fields(strings.ToLower(value))
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, "_")
}
