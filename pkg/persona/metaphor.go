package persona

import "strings"

// fallbackMetaphorCount is how many arbitrary entries are returned when no
// keyword category matches.
const fallbackMetaphorCount = 2

// metaphorCategory pairs a category with the message keywords that select
// it. Both Italian and English forms are listed; matching is substring-based
// over the lowercased message, first category wins.
type metaphorCategory struct {
	name     string
	keywords []string
}

var metaphorCategories = []metaphorCategory{
	{"growth", []string{
		"crescere", "imparare", "migliorare", "progresso", "obiettivo",
		"grow", "learn", "improve", "progress", "goal", "better",
	}},
	{"resilience", []string{
		"difficile", "fatica", "stanco", "fallito", "ricaduta", "mollare",
		"difficult", "hard", "struggle", "tired", "failed", "relapse", "give up",
	}},
	{"change", []string{
		"cambiare", "nuovo", "iniziare", "ricominciare", "smettere",
		"change", "new", "start", "begin", "quit", "restart",
	}},
	{"peace", []string{
		"calma", "pace", "tranquillo", "respirare", "ansia", "stress",
		"calm", "peace", "quiet", "breathe", "anxious", "stress",
	}},
	{"connection", []string{
		"amico", "famiglia", "amore", "solo", "solitudine", "mancare",
		"friend", "family", "love", "alone", "lonely", "miss",
	}},
	{"time", []string{
		"tempo", "aspettare", "pazienza", "fretta", "lento",
		"time", "wait", "patience", "hurry", "slow", "someday",
	}},
	{"nature-general", []string{
		"natura", "albero", "mare", "montagna", "stagione",
		"nature", "tree", "sea", "mountain", "season",
	}},
}

// MatchCategory maps a user message to a metaphor category by keyword, or
// returns "" when nothing matches.
func MatchCategory(message string) string {
	lower := strings.ToLower(message)
	for _, category := range metaphorCategories {
		for _, keyword := range category.keywords {
			if strings.Contains(lower, keyword) {
				return category.name
			}
		}
	}
	return ""
}

// SelectMetaphors picks the companion metaphors relevant to a message.
//
// Entries in the matched keyword category are returned first. With no match,
// up to 2 arbitrary companion entries are returned instead, so a metaphor is
// still occasionally available.
func (l *Library) SelectMetaphors(companionID, message string) []*Metaphor {
	all := l.metaphors[companionID]
	if len(all) == 0 {
		return nil
	}

	category := MatchCategory(message)
	if category != "" {
		var matched []*Metaphor
		for _, m := range all {
			if m.Category == category {
				matched = append(matched, m)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}

	if len(all) > fallbackMetaphorCount {
		return all[:fallbackMetaphorCount]
	}
	return all
}
