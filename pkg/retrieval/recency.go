package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/storage"
)

// firstConversationNarrative is returned when no interaction has been
// recorded yet.
const firstConversationNarrative = "This is your first conversation with this user. Introduce yourself naturally and take time to get to know them."

// RecencyTracker reads and writes the reserved last-interaction row, turning
// elapsed time into a conversation-continuity instruction.
type RecencyTracker struct {
	store  storage.Store
	logger *zap.Logger
}

// NewRecencyTracker creates a recency tracker.
func NewRecencyTracker(store storage.Store, logger *zap.Logger) *RecencyTracker {
	return &RecencyTracker{store: store, logger: logger}
}

// Narrative returns the continuity instruction for the current turn.
//
// Soft-fails: a read error degrades to the first-conversation narrative.
func (r *RecencyTracker) Narrative(ctx context.Context, userID, companionID string) string {
	entry, err := r.store.UserContextValue(ctx, userID, companionID,
		storage.ContextTypeSystem, storage.RecencyKey)
	if err != nil {
		r.logger.Debug("no recency row, treating as first conversation",
			zap.String("user_id", userID), zap.Error(err))
		return firstConversationNarrative
	}

	last, err := time.Parse(time.RFC3339, entry.Value)
	if err != nil {
		r.logger.Warn("unparseable recency timestamp",
			zap.String("user_id", userID), zap.String("value", entry.Value))
		return firstConversationNarrative
	}

	return ContinuityInstruction(time.Since(last))
}

// Update upserts the last-interaction timestamp.
//
// Called after every turn, deferred in the handler so it runs even when the
// turn fails. Keeps recency monotonic.
func (r *RecencyTracker) Update(ctx context.Context, userID, companionID string) {
	err := r.store.UpsertUserContext(ctx, &storage.UserContextEntry{
		UserID:      userID,
		CompanionID: companionID,
		ContextType: storage.ContextTypeSystem,
		Key:         storage.RecencyKey,
		Value:       time.Now().Format(time.RFC3339),
		Confidence:  1.0,
	})
	if err != nil {
		r.logger.Warn("failed to update last interaction",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// ContinuityInstruction maps elapsed time since the last interaction to a
// continuity instruction. Pure; bucket boundaries are in hours.
func ContinuityInstruction(elapsed time.Duration) string {
	hours := elapsed.Hours()
	switch {
	case hours < 1:
		return "You are mid-conversation with the user. Continue naturally without greeting them again."
	case hours < 5:
		return "The user was here a few hours ago. Maintain the thread of the earlier conversation."
	case hours < 24:
		return "The user last spoke to you earlier today. Ask how the rest of their day has been going."
	case hours < 48:
		return "The user last spoke to you yesterday. You can refer to your last conversation as yesterday."
	case hours < 168:
		return "It has been a few days since you last talked. Acknowledge the gap lightly and catch up."
	default:
		return "It has been weeks since you last talked. Express genuine warmth at reconnecting before anything else."
	}
}
