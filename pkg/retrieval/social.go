package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/storage"
)

// socialGraphLimit caps the people injected into one prompt.
const socialGraphLimit = 10

// SocialGraph reads the people the user has mentioned.
type SocialGraph struct {
	store  storage.Store
	logger *zap.Logger
}

// NewSocialGraph creates a social-graph accessor.
func NewSocialGraph(store storage.Store, logger *zap.Logger) *SocialGraph {
	return &SocialGraph{store: store, logger: logger}
}

// People returns up to 10 people, most recently mentioned first.
//
// Soft-fails to empty on error.
func (s *SocialGraph) People(ctx context.Context, userID, companionID string) []*storage.SocialGraphPerson {
	people, err := s.store.People(ctx, userID, companionID, socialGraphLimit)
	if err != nil {
		s.logger.Warn("social graph read failed",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return people
}

// FormatPeople renders the social graph as a short natural-language block,
// or "" when there is no one to mention.
func FormatPeople(people []*storage.SocialGraphPerson) string {
	if len(people) == 0 {
		return ""
	}

	var b strings.Builder
	for _, p := range people {
		line := p.PersonName
		if p.Relationship != "" {
			line = fmt.Sprintf("%s (%s)", p.PersonName, p.Relationship)
		}
		if p.Context != "" {
			line += ": " + p.Context
		}
		if p.Sentiment != "" {
			line += fmt.Sprintf(" [sentiment: %s]", p.Sentiment)
		}
		b.WriteString("- " + line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
