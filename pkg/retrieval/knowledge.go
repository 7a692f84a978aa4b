package retrieval

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/storage"
)

// knowledgeLimit caps the knowledge items injected into one prompt.
const knowledgeLimit = 5

// knowledgeReadLimit caps how many candidates are loaded per scope before
// ranking.
const knowledgeReadLimit = 50

// stopWords are tokens ignored during keyword extraction.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "you": true, "are": true,
	"with": true, "that": true, "this": true, "have": true, "was": true,
	"not": true, "but": true, "can": true, "all": true, "what": true,
	"how": true, "when": true, "just": true, "like": true,
	"che": true, "con": true, "non": true, "per": true, "una": true,
	"sono": true, "della": true, "come": true, "più": true, "anche": true,
	"questo": true, "molto": true, "fare": true, "hanno": true,
}

// topicGroup maps message tokens to the knowledge categories they imply.
type topicGroup struct {
	tokens     []string
	categories []string
}

var topicGroups = []topicGroup{
	{
		tokens:     []string{"anxious", "anxiety", "panic", "worry", "ansia", "panico", "preoccup"},
		categories: []string{"anxiety", "cbt", "mindfulness"},
	},
	{
		tokens:     []string{"sleep", "insomnia", "tired", "sonno", "insonnia", "dormire"},
		categories: []string{"sleep", "relaxation"},
	},
	{
		tokens:     []string{"stress", "overwhelm", "burnout", "pressione"},
		categories: []string{"stress", "mindfulness", "cbt"},
	},
	{
		tokens:     []string{"relationship", "partner", "friend", "family", "relazione", "famiglia", "amici"},
		categories: []string{"relationships", "communication"},
	},
	{
		tokens:     []string{"habit", "smoking", "drinking", "quit", "craving", "abitudine", "fumare", "smettere"},
		categories: []string{"habits", "addiction", "motivation"},
	},
}

// KnowledgeRetriever ranks shared knowledge against the latest user message.
type KnowledgeRetriever struct {
	store  storage.Store
	logger *zap.Logger
}

// NewKnowledgeRetriever creates a knowledge retriever.
func NewKnowledgeRetriever(store storage.Store, logger *zap.Logger) *KnowledgeRetriever {
	return &KnowledgeRetriever{store: store, logger: logger}
}

// Relevant returns up to 5 knowledge items relevant to the message: the
// keyword-scored set unioned with the topic-category set, deduplicated by
// title.
//
// Soft-fails: any read error yields an empty list and never blocks the turn.
func (k *KnowledgeRetriever) Relevant(ctx context.Context, companionID, message string) []*storage.KnowledgeItem {
	global, err := k.store.GlobalKnowledge(ctx, knowledgeReadLimit)
	if err != nil {
		k.logger.Warn("global knowledge read failed", zap.Error(err))
		global = nil
	}

	scoped, err := k.store.CompanionKnowledge(ctx, companionID, knowledgeReadLimit)
	if err != nil {
		k.logger.Warn("companion knowledge read failed",
			zap.String("companion_id", companionID), zap.Error(err))
		scoped = nil
	}

	candidates := dedupeByTitle(append(global, scoped...))
	keywords := extractKeywords(message)

	var scored []*storage.KnowledgeItem
	for _, item := range candidates {
		item.Score = float64(keywordScore(item, keywords))
		if item.Score > 0 {
			scored = append(scored, item)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	topical := byTopicCategories(candidates, message)

	merged := dedupeByTitle(append(scored, topical...))
	if len(merged) > knowledgeLimit {
		merged = merged[:knowledgeLimit]
	}
	return merged
}

// extractKeywords tokenizes a message into lowercased content keywords,
// dropping stop words and tokens shorter than 3 characters.
func extractKeywords(message string) []string {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	var keywords []string
	for _, f := range fields {
		if len(f) > 2 && !stopWords[f] {
			keywords = append(keywords, f)
		}
	}
	return keywords
}

// keywordScore counts keyword occurrences in content, with a +2 bonus per
// title hit and +1 per category hit.
func keywordScore(item *storage.KnowledgeItem, keywords []string) int {
	content := strings.ToLower(item.Content)
	title := strings.ToLower(item.Title)
	category := strings.ToLower(item.Category)

	score := 0
	for _, kw := range keywords {
		score += strings.Count(content, kw)
		if strings.Contains(title, kw) {
			score += 2
		}
		if strings.Contains(category, kw) {
			score++
		}
	}
	return score
}

// byTopicCategories selects candidates whose category matches a topic group
// triggered by the message.
func byTopicCategories(candidates []*storage.KnowledgeItem, message string) []*storage.KnowledgeItem {
	lower := strings.ToLower(message)

	wanted := map[string]bool{}
	for _, group := range topicGroups {
		for _, token := range group.tokens {
			if strings.Contains(lower, token) {
				for _, cat := range group.categories {
					wanted[cat] = true
				}
				break
			}
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	var matched []*storage.KnowledgeItem
	for _, item := range candidates {
		if wanted[strings.ToLower(item.Category)] {
			matched = append(matched, item)
		}
	}
	return matched
}

// dedupeByTitle keeps the first item per title, preserving order.
func dedupeByTitle(items []*storage.KnowledgeItem) []*storage.KnowledgeItem {
	seen := make(map[string]bool, len(items))
	var out []*storage.KnowledgeItem
	for _, item := range items {
		key := strings.ToLower(item.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}
