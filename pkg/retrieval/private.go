package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/storage"
)

// privateMemoryLimit caps the user-context rows injected into one prompt.
const privateMemoryLimit = 30

// PrivateMemory reads the user's personal memory facts.
type PrivateMemory struct {
	store  storage.Store
	logger *zap.Logger
}

// NewPrivateMemory creates a private-memory accessor.
func NewPrivateMemory(store storage.Store, logger *zap.Logger) *PrivateMemory {
	return &PrivateMemory{store: store, logger: logger}
}

// Entries returns up to 30 rows ordered by descending confidence, scoped to
// the companion or explicitly cross-companion. The reserved recency row is
// excluded by the store query.
//
// Soft-fails to empty on error.
func (p *PrivateMemory) Entries(ctx context.Context, userID, companionID string) []*storage.UserContextEntry {
	entries, err := p.store.UserContext(ctx, userID, companionID, privateMemoryLimit)
	if err != nil {
		p.logger.Warn("private memory read failed",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return entries
}

// FormatPrivateMemory renders entries as a short natural-language block, or
// "" when there are none.
func FormatPrivateMemory(entries []*storage.UserContextEntry) string {
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", humanizeKey(e.Key), e.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

// humanizeKey turns a snake_case context key into readable words.
func humanizeKey(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}
