// Package persona holds the static companion data: avatar identities with
// leveled deep secrets, and the metaphor library.
//
// Everything here is read-only reference data, loaded once at startup from an
// injected JSON file. Nothing in the runtime pipeline mutates it.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/aurora-ai/amica/pkg/storage"
)

// maxAffinityLevel is the ceiling of the per-user affinity counter.
const maxAffinityLevel = 10

// messagesPerLevel is how many total messages accrue one affinity level.
const messagesPerLevel = 25

// DeepSecret is a leveled, intimate fact about a companion's identity.
//
// A secret at level L may be disclosed only to users whose affinity level is
// at least L.
type DeepSecret struct {
	Level  int    `json:"level"`
	Secret string `json:"secret"`
}

// AvatarIdentity is the static biography of one companion.
type AvatarIdentity struct {
	CompanionID string `json:"companionId"`

	Biography string `json:"biography"`

	// SpeechPatterns are phrasing habits the companion should keep.
	SpeechPatterns []string `json:"speechPatterns"`

	// ForbiddenPhrases must never appear in a response.
	ForbiddenPhrases []string `json:"forbiddenPhrases"`

	// MustRemember are facts the companion always keeps in character.
	MustRemember []string `json:"mustRemember"`

	DeepSecrets []DeepSecret `json:"deepSecrets"`
}

// Metaphor is one entry of the per-companion analogy library.
type Metaphor struct {
	CompanionID  string `json:"companionId"`
	Category     string `json:"category"`
	Theme        string `json:"theme"`
	Text         string `json:"text"`
	UsageContext string `json:"usageContext"`
}

// Library is the loaded persona data, indexed by companion.
type Library struct {
	identities map[string]*AvatarIdentity
	metaphors  map[string][]*Metaphor
}

// libraryFile is the on-disk JSON shape of a persona library.
type libraryFile struct {
	Identities []*AvatarIdentity `json:"identities"`
	Metaphors  []*Metaphor       `json:"metaphors"`
}

// NewLibrary builds an empty library. Companions without configured
// identities are valid; the composer omits the identity section.
func NewLibrary() *Library {
	return &Library{
		identities: make(map[string]*AvatarIdentity),
		metaphors:  make(map[string][]*Metaphor),
	}
}

// LoadLibrary reads a persona library from a JSON file.
//
// Parameters:
//   - path: Path to the JSON file; empty returns an empty library
//
// Returns:
//   - *Library: The loaded library
//   - error: Error if the file cannot be read or parsed
func LoadLibrary(path string) (*Library, error) {
	lib := NewLibrary()
	if path == "" {
		return lib, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadLibrary: %w", err)
	}

	var file libraryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("LoadLibrary: parse %s: %w", path, err)
	}

	for _, identity := range file.Identities {
		lib.identities[identity.CompanionID] = identity
	}
	for _, m := range file.Metaphors {
		lib.metaphors[m.CompanionID] = append(lib.metaphors[m.CompanionID], m)
	}
	return lib, nil
}

// Identity returns the static identity for a companion, or nil when the
// companion has no configured identity.
func (l *Library) Identity(companionID string) *AvatarIdentity {
	return l.identities[companionID]
}

// Metaphors returns the companion's full metaphor library.
func (l *Library) Metaphors(companionID string) []*Metaphor {
	return l.metaphors[companionID]
}

// DefaultAffinity is the affinity state assumed for a user with no stored
// row: level 1, no messages, no unlocked secrets.
func DefaultAffinity(userID, companionID string) *storage.UserAffinity {
	return &storage.UserAffinity{
		UserID:        userID,
		CompanionID:   companionID,
		AffinityLevel: 1,
	}
}

// EligibleSecrets filters an identity's deep secrets down to those whose
// level the user's affinity has reached.
func EligibleSecrets(identity *AvatarIdentity, affinityLevel int) []DeepSecret {
	if identity == nil {
		return nil
	}

	var eligible []DeepSecret
	for _, secret := range identity.DeepSecrets {
		if secret.Level <= affinityLevel {
			eligible = append(eligible, secret)
		}
	}
	return eligible
}

// UnlockedLevels merges the levels of newly disclosed secrets into an
// existing unlocked-level set, deduplicated and ascending. Levels are never
// removed once recorded.
func UnlockedLevels(existing []int, secrets []DeepSecret) []int {
	if len(secrets) == 0 {
		return existing
	}

	seen := make(map[int]bool, len(existing)+len(secrets))
	for _, level := range existing {
		seen[level] = true
	}
	for _, secret := range secrets {
		seen[secret.Level] = true
	}

	levels := make([]int, 0, len(seen))
	for level := range seen {
		levels = append(levels, level)
	}
	sort.Ints(levels)
	return levels
}

// AccruedLevel maps a lifetime message count to an affinity level.
//
// One level per 25 messages, starting at 1, capped at 10. Callers must never
// lower a stored level; the store upsert keeps the maximum.
func AccruedLevel(totalMessages int) int {
	level := 1 + totalMessages/messagesPerLevel
	if level > maxAffinityLevel {
		return maxAffinityLevel
	}
	return level
}
