// Package goals implements the per-user goal state machine: reading goals
// for the prompt, creating goals from classified intents, and completing
// them with a one-time token reward.
package goals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/core"
	"github.com/aurora-ai/amica/pkg/llm"
	"github.com/aurora-ai/amica/pkg/storage"
)

// goalsLimit caps the goals injected into one prompt.
const goalsLimit = 10

// SimilarityStrategy decides whether a candidate goal description duplicates
// an existing one. The default is intentionally crude; swap it without
// touching the tracker.
type SimilarityStrategy interface {
	Similar(candidate, existing string) bool
}

// FirstTokenOverlap reports a duplicate when the first meaningful token of
// both descriptions matches.
type FirstTokenOverlap struct{}

// Similar compares the first token of each description, case-insensitive.
func (FirstTokenOverlap) Similar(candidate, existing string) bool {
	c := firstToken(candidate)
	e := firstToken(existing)
	return c != "" && c == e
}

func firstToken(s string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Tracker manages the user's temporal goals.
type Tracker struct {
	store      storage.Store
	provider   llm.Provider
	similarity SimilarityStrategy
	node       *snowflake.Node
	logger     *zap.Logger

	// extractionModel is the cheaper model used for classification calls.
	extractionModel string

	// rewardTokens is the fixed one-time reward for a completed goal.
	rewardTokens int64
}

// NewTracker creates a goal tracker.
//
// Parameters:
//   - store: Persistent goal storage
//   - provider: LLM provider for description extraction and goal matching
//   - extractionModel: Model name for extraction calls
//   - rewardTokens: Fixed one-time reward granted per completed goal
//   - node: Snowflake ID generator
//   - logger: Structured logger
func NewTracker(store storage.Store, provider llm.Provider, extractionModel string, rewardTokens int64, node *snowflake.Node, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:           store,
		provider:        provider,
		similarity:      FirstTokenOverlap{},
		node:            node,
		logger:          logger,
		extractionModel: extractionModel,
		rewardTokens:    rewardTokens,
	}
}

// SetSimilarityStrategy swaps the duplicate-detection heuristic.
func (t *Tracker) SetSimilarityStrategy(s SimilarityStrategy) {
	t.similarity = s
}

// Active returns up to 10 active or paused goals for the prompt.
//
// Soft-fails to empty on error.
func (t *Tracker) Active(ctx context.Context, userID, companionID string) []*storage.Goal {
	goals, err := t.store.GoalsByStatus(ctx, userID, companionID,
		[]storage.GoalStatus{storage.GoalActive, storage.GoalPaused}, goalsLimit)
	if err != nil {
		t.logger.Warn("goal read failed",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return goals
}

// goalExtraction is the model's answer for a new-goal message.
type goalExtraction struct {
	Description string `json:"description"`
	Category    string `json:"category"`
}

// CreateGoal extracts a goal from a new-goal message and inserts it unless a
// likely duplicate already exists.
//
// Returns the created goal, or nil when a duplicate suppressed the insert.
func (t *Tracker) CreateGoal(ctx context.Context, userID, companionID, message string) (*storage.Goal, error) {
	prompt := fmt.Sprintf(`The user has just declared a personal goal. Extract it.

User message: %q

Return JSON: {"description": "<short goal description, a few words>", "category": "<one of: health, habits, relationships, work, personal>"}
Preserve the user's language in the description.`, message)

	response, err := t.provider.GenerateWithMessages(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.WithModel(t.extractionModel),
		llm.WithTemperature(0.2),
		llm.WithJSONResponse(),
	)
	if err != nil {
		return nil, core.WrapError("CreateGoal", err)
	}

	var extracted goalExtraction
	if err := json.Unmarshal([]byte(llm.StripCodeBlocks(response)), &extracted); err != nil {
		return nil, core.WrapError("CreateGoal", fmt.Errorf("parse extraction: %w", err))
	}
	if extracted.Description == "" {
		return nil, nil
	}

	existing, err := t.store.GoalsByStatus(ctx, userID, companionID,
		[]storage.GoalStatus{storage.GoalActive, storage.GoalPaused}, goalsLimit)
	if err != nil {
		return nil, core.WrapError("CreateGoal", err)
	}
	for _, g := range existing {
		if t.similarity.Similar(extracted.Description, g.Description) {
			t.logger.Info("suppressed duplicate goal",
				zap.String("user_id", userID),
				zap.String("candidate", extracted.Description),
				zap.String("existing", g.Description))
			return nil, nil
		}
	}

	goal := &storage.Goal{
		ID:          t.node.Generate().Int64(),
		UserID:      userID,
		CompanionID: companionID,
		Description: extracted.Description,
		Category:    extracted.Category,
		Status:      storage.GoalActive,
	}
	if err := t.store.InsertGoal(ctx, goal); err != nil {
		return nil, core.WrapError("CreateGoal", err)
	}

	t.logger.Info("goal created",
		zap.String("user_id", userID),
		zap.Int64("goal_id", goal.ID),
		zap.String("description", goal.Description))
	return goal, nil
}

// goalMatch is the model's answer for a completion message.
type goalMatch struct {
	GoalID int64 `json:"goalId"`
	Match  bool  `json:"match"`
}

// CompleteGoal matches a completion message against the user's active goals
// and, on a match, transitions the goal and grants the one-time reward.
//
// The reward is granted only when the status transition actually happened,
// so repeating the same completion message never pays twice.
func (t *Tracker) CompleteGoal(ctx context.Context, userID, companionID, message string) (*storage.Goal, error) {
	active, err := t.store.GoalsByStatus(ctx, userID, companionID,
		[]storage.GoalStatus{storage.GoalActive}, goalsLimit)
	if err != nil {
		return nil, core.WrapError("CompleteGoal", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	var list strings.Builder
	for _, g := range active {
		fmt.Fprintf(&list, "- id %d: %s\n", g.ID, g.Description)
	}

	prompt := fmt.Sprintf(`The user reports having achieved something. Decide which of their active goals, if any, this completes.

Active goals:
%s
User message: %q

Return JSON: {"match": true/false, "goalId": <id of the completed goal, or 0>}`, list.String(), message)

	response, err := t.provider.GenerateWithMessages(ctx,
		[]llm.Message{{Role: "user", Content: prompt}},
		llm.WithModel(t.extractionModel),
		llm.WithTemperature(0.2),
		llm.WithJSONResponse(),
	)
	if err != nil {
		return nil, core.WrapError("CompleteGoal", err)
	}

	var match goalMatch
	if err := json.Unmarshal([]byte(llm.StripCodeBlocks(response)), &match); err != nil {
		return nil, core.WrapError("CompleteGoal", fmt.Errorf("parse match: %w", err))
	}
	if !match.Match || match.GoalID == 0 {
		return nil, nil
	}

	var matched *storage.Goal
	for _, g := range active {
		if g.ID == match.GoalID {
			matched = g
			break
		}
	}
	if matched == nil {
		return nil, nil
	}

	achievedAt := time.Now()
	transitioned, err := t.store.CompleteGoal(ctx, matched.ID, achievedAt)
	if err != nil {
		return nil, core.WrapError("CompleteGoal", err)
	}
	if !transitioned {
		// Already completed; never reward twice.
		return nil, nil
	}

	if err := t.store.GrantTokens(ctx, userID, t.rewardTokens, "goal_completed", matched.ID); err != nil {
		t.logger.Error("goal reward grant failed",
			zap.String("user_id", userID),
			zap.Int64("goal_id", matched.ID), zap.Error(err))
	}

	matched.Status = storage.GoalCompleted
	matched.AchievedAt = &achievedAt
	t.logger.Info("goal completed",
		zap.String("user_id", userID),
		zap.Int64("goal_id", matched.ID))
	return matched, nil
}

// FormatGoals renders goals as a short natural-language block, or "" when
// there are none.
func FormatGoals(goals []*storage.Goal) string {
	if len(goals) == 0 {
		return ""
	}

	var b strings.Builder
	for _, g := range goals {
		line := g.Description
		if g.Category != "" {
			line += fmt.Sprintf(" (%s)", g.Category)
		}
		if g.Status == storage.GoalPaused {
			line += " [paused]"
		}
		b.WriteString("- " + line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
