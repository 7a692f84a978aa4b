// Package safety holds the stateless message classifiers: the crisis
// detector and the goal-intent classifier.
package safety

import "strings"

// excerptLimit bounds the message excerpt stored in the audit log.
const excerptLimit = 200

// Signal is a non-nil crisis detection result.
type Signal struct {
	// Pattern is the matched pattern.
	Pattern string

	// Excerpt is a bounded excerpt of the triggering message.
	Excerpt string
}

// Detector classifies a user utterance for crisis content.
//
// Callers must fail closed: if Detect returns an error, treat the message as
// a crisis rather than skipping the safety block.
type Detector interface {
	Detect(message string) (*Signal, error)
}

// RuleDetector matches an ordered list of self-harm and suicide-intent
// patterns. Any match wins; there is no confidence threshold. Coverage is
// not guaranteed; the list is extendable without touching callers.
type RuleDetector struct {
	patterns []string
}

// defaultCrisisPatterns covers Italian and English phrasing observed in
// production traffic. Order matters only for which pattern gets logged.
var defaultCrisisPatterns = []string{
	// Italian
	"voglio morire",
	"vorrei morire",
	"farla finita",
	"non voglio più vivere",
	"non ce la faccio più a vivere",
	"uccidermi",
	"ammazzarmi",
	"farmi del male",
	"autolesion",
	"suicid",
	// English
	"want to die",
	"wish i was dead",
	"kill myself",
	"end my life",
	"end it all",
	"hurt myself",
	"harm myself",
	"self harm",
	"self-harm",
	"no reason to live",
	"better off dead",
	"suicide",
}

// NewRuleDetector creates a detector with the default pattern list.
func NewRuleDetector() *RuleDetector {
	return &RuleDetector{patterns: defaultCrisisPatterns}
}

// NewRuleDetectorWithPatterns creates a detector with a custom ordered
// pattern list.
func NewRuleDetectorWithPatterns(patterns []string) *RuleDetector {
	return &RuleDetector{patterns: patterns}
}

// Detect tests the message against the pattern list, returning the first
// match or nil.
func (d *RuleDetector) Detect(message string) (*Signal, error) {
	lower := strings.ToLower(message)
	for _, pattern := range d.patterns {
		if strings.Contains(lower, pattern) {
			return &Signal{
				Pattern: pattern,
				Excerpt: excerpt(message),
			}, nil
		}
	}
	return nil, nil
}

// excerpt bounds a message for audit logging.
func excerpt(message string) string {
	runes := []rune(message)
	if len(runes) <= excerptLimit {
		return message
	}
	return string(runes[:excerptLimit])
}
