package retrieval

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/storage"
)

// mistakesLimit caps the feedback rows injected into one prompt.
const mistakesLimit = 10

// Mistakes reads learned negative-feedback patterns so the companion avoids
// repeating them.
type Mistakes struct {
	store  storage.Store
	logger *zap.Logger
}

// NewMistakes creates a mistakes accessor.
func NewMistakes(store storage.Store, logger *zap.Logger) *Mistakes {
	return &Mistakes{store: store, logger: logger}
}

// Recent returns up to 10 feedback rows, newest first.
//
// Soft-fails to empty on error.
func (m *Mistakes) Recent(ctx context.Context, userID, companionID string) []*storage.InteractionFeedback {
	feedback, err := m.store.RecentFeedback(ctx, userID, companionID, mistakesLimit)
	if err != nil {
		m.logger.Warn("feedback read failed",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return feedback
}

// FormatMistakes renders feedback as a short block of patterns to avoid, or
// "" when there are none.
func FormatMistakes(feedback []*storage.InteractionFeedback) string {
	if len(feedback) == 0 {
		return ""
	}

	var b strings.Builder
	for _, f := range feedback {
		b.WriteString("- " + f.LearnedPattern + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
