package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/goals"
	"github.com/aurora-ai/amica/pkg/llm"
	"github.com/aurora-ai/amica/pkg/safety"
	"github.com/aurora-ai/amica/pkg/storage"
)

const (
	// minTurnMessages gates the whole pipeline.
	minTurnMessages = 2

	// minInsightMessages gates insight extraction.
	minInsightMessages = 4

	// knowledgeUserTurns is how many trailing user turns feed global
	// knowledge extraction.
	knowledgeUserTurns = 5

	// minKnowledgeChars skips global extraction on thin content.
	minKnowledgeChars = 100
)

// crossCompanionTypes are insight types shared with every companion.
var crossCompanionTypes = map[string]bool{
	"person":       true,
	"relationship": true,
	"personal":     true,
	"preference":   true,
}

// Extractor runs the per-turn memory learning steps.
type Extractor struct {
	store    storage.Store
	provider llm.Provider
	tracker  *goals.Tracker
	node     *snowflake.Node
	logger   *zap.Logger

	extractionModel string

	// globalFloor is the minimum confidence to enqueue a global
	// knowledge candidate.
	globalFloor float64

	// personalFloor is the minimum confidence to upsert a personal
	// insight.
	personalFloor float64
}

// NewExtractor creates an extractor.
func NewExtractor(store storage.Store, provider llm.Provider, tracker *goals.Tracker, extractionModel string, node *snowflake.Node, logger *zap.Logger) *Extractor {
	return &Extractor{
		store:           store,
		provider:        provider,
		tracker:         tracker,
		node:            node,
		logger:          logger,
		extractionModel: extractionModel,
		globalFloor:     0.7,
		personalFloor:   0.6,
	}
}

// ProcessTurn runs the detached post-turn pipeline: goal writes for the
// classified intent, insight extraction, then global knowledge extraction.
//
// Steps fail independently; an error in one never stops the next.
func (e *Extractor) ProcessTurn(ctx context.Context, userID, companionID string, messages []llm.Message, intent safety.GoalIntent) error {
	if len(messages) < minTurnMessages {
		return nil
	}

	latest := llm.LastUserContent(messages)

	switch intent {
	case safety.IntentNewGoal:
		if _, err := e.tracker.CreateGoal(ctx, userID, companionID, latest); err != nil {
			e.logger.Warn("goal creation failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	case safety.IntentCompletion:
		if _, err := e.tracker.CompleteGoal(ctx, userID, companionID, latest); err != nil {
			e.logger.Warn("goal completion failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	if len(messages) >= minInsightMessages {
		if _, err := e.ExtractInsights(ctx, userID, companionID, messages); err != nil {
			e.logger.Warn("insight extraction failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	if _, err := e.ExtractGlobalKnowledge(ctx, messages); err != nil {
		e.logger.Warn("global knowledge extraction failed",
			zap.String("user_id", userID), zap.Error(err))
	}

	return nil
}

// insight is one extracted {key, value, type} fact.
type insight struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ExtractInsights asks the extraction model for facts the user explicitly
// stated and upserts each as a user-context row. Types naming people,
// relationships, personal details, or preferences are flagged
// cross-companion.
//
// Returns how many insights were persisted.
func (e *Extractor) ExtractInsights(ctx context.Context, userID, companionID string, messages []llm.Message) (int, error) {
	prompt := fmt.Sprintf(`Extract facts the user explicitly stated about themselves in this conversation. Never invent or infer beyond what was said.

Conversation:
%s

Return JSON: {"insights": [{"key": "<snake_case_key>", "value": "<fact>", "type": "<person|relationship|personal|preference|event|emotional_state|other>", "confidence": <0.0-1.0>}]}
Preserve the user's language in values. If nothing was stated, return {"insights": []}.`, renderConversation(messages))

	response, err := e.provider.GenerateWithMessages(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.WithModel(e.extractionModel),
		llm.WithTemperature(0.2),
		llm.WithJSONResponse(),
	)
	if err != nil {
		return 0, core.WrapError("ExtractInsights", err)
	}

	var parsed struct {
		Insights []insight `json:"insights"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeBlocks(response)), &parsed); err != nil {
		return 0, core.WrapError("ExtractInsights", fmt.Errorf("parse insights: %w", err))
	}

	count := 0
	for _, ins := range parsed.Insights {
		if ins.Key == "" || ins.Value == "" || ins.Confidence < e.personalFloor {
			continue
		}

		err := e.store.UpsertUserContext(ctx, &storage.UserContextEntry{
			UserID:         userID,
			CompanionID:    companionID,
			CrossCompanion: crossCompanionTypes[ins.Type],
			ContextType:    ins.Type,
			Key:            ins.Key,
			Value:          ins.Value,
			Confidence:     ins.Confidence,
			PrivacyLevel:   "private",
		})
		if err != nil {
			e.logger.Warn("insight upsert failed",
				zap.String("user_id", userID),
				zap.String("key", ins.Key), zap.Error(err))
			continue
		}
		count++
	}

	e.logger.Debug("insights extracted",
		zap.String("user_id", userID), zap.Int("count", count))
	return count, nil
}

// knowledgeCandidate is one extracted universal fact.
type knowledgeCandidate struct {
	Fact       string  `json:"fact"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	IsPersonal bool    `json:"isPersonal"`
}

// ExtractGlobalKnowledge asks the extraction model for universal wisdom or
// technique statements in the last user turns and enqueues confident,
// non-personal candidates for the dedup batch.
//
// This path never writes the knowledge table directly; promotion happens
// only through the batch. Returns how many candidates were enqueued.
func (e *Extractor) ExtractGlobalKnowledge(ctx context.Context, messages []llm.Message) (int, error) {
	content := lastUserTurns(messages, knowledgeUserTurns)
	if len(content) < minKnowledgeChars {
		return 0, nil
	}

	prompt := fmt.Sprintf(`From the user statements below, extract only UNIVERSAL wisdom, techniques, or general truths that would help anyone. Never extract personal facts about this specific user.

User statements:
%s

Return JSON: {"facts": [{"fact": "<universal statement>", "category": "<topic category>", "confidence": <0.0-1.0>, "isPersonal": <true if about this specific user>}]}
If there is nothing universal, return {"facts": []}.`, content)

	response, err := e.provider.GenerateWithMessages(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.WithModel(e.extractionModel),
		llm.WithTemperature(0.2),
		llm.WithJSONResponse(),
	)
	if err != nil {
		return 0, core.WrapError("ExtractGlobalKnowledge", err)
	}

	var parsed struct {
		Facts []knowledgeCandidate `json:"facts"`
	}
	if err := json.Unmarshal([]byte(llm.StripCodeBlocks(response)), &parsed); err != nil {
		return 0, core.WrapError("ExtractGlobalKnowledge", fmt.Errorf("parse facts: %w", err))
	}

	count := 0
	for _, candidate := range parsed.Facts {
		// Personal facts never enter the global path.
		if candidate.IsPersonal || candidate.Fact == "" || candidate.Confidence < e.globalFloor {
			continue
		}

		err := e.store.EnqueuePending(ctx, &storage.PendingKnowledge{
			ID:            e.node.Generate().Int64(),
			ExtractedFact: candidate.Fact,
			Category:      candidate.Category,
			Confidence:    candidate.Confidence,
		})
		if err != nil {
			e.logger.Warn("pending knowledge enqueue failed", zap.Error(err))
			continue
		}
		count++
	}

	e.logger.Debug("knowledge candidates enqueued", zap.Int("count", count))
	return count, nil
}

// renderConversation flattens messages into role-prefixed lines.
func renderConversation(messages []llm.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role + ": " + m.Content + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// lastUserTurns joins the content of the trailing n user messages.
func lastUserTurns(messages []llm.Message, n int) string {
	var turns []string
	for i := len(messages) - 1; i >= 0 && len(turns) < n; i-- {
		if messages[i].Role == "user" {
			turns = append([]string{messages[i].Content}, turns...)
		}
	}
	return strings.Join(turns, "\n")
}
