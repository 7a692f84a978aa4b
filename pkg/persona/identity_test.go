package persona_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-ai/amica/pkg/persona"
)

const testLibraryJSON = `{
	"identities": [
		{
			"companionId": "aria",
			"biography": "Grew up near the sea in Liguria.",
			"speechPatterns": ["uses short sentences"],
			"forbiddenPhrases": ["as an AI"],
			"mustRemember": ["loves the sea"],
			"deepSecrets": [
				{"level": 3, "secret": "Once gave up a scholarship."},
				{"level": 7, "secret": "Still writes letters to her grandmother."}
			]
		}
	],
	"metaphors": [
		{"companionId": "aria", "category": "growth", "theme": "garden", "text": "A garden grows one season at a time.", "usageContext": "when discussing progress"},
		{"companionId": "aria", "category": "peace", "theme": "tide", "text": "The tide always goes back out.", "usageContext": "when discussing anxiety"},
		{"companionId": "aria", "category": "time", "theme": "river", "text": "A river never hurries and still arrives.", "usageContext": "when discussing patience"}
	]
}`

func writeTestLibrary(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "personas.json")
	require.NoError(t, os.WriteFile(path, []byte(testLibraryJSON), 0644))
	return path
}

func TestLoadLibrary(t *testing.T) {
	lib, err := persona.LoadLibrary(writeTestLibrary(t))
	require.NoError(t, err)

	identity := lib.Identity("aria")
	require.NotNil(t, identity)
	assert.Contains(t, identity.Biography, "Liguria")
	assert.Len(t, identity.DeepSecrets, 2)

	assert.Nil(t, lib.Identity("unknown"))
	assert.Len(t, lib.Metaphors("aria"), 3)
	assert.Empty(t, lib.Metaphors("unknown"))
}

func TestLoadLibrary_EmptyPath(t *testing.T) {
	lib, err := persona.LoadLibrary("")
	require.NoError(t, err)
	assert.Nil(t, lib.Identity("aria"))
}

func TestLoadLibrary_MissingFile(t *testing.T) {
	_, err := persona.LoadLibrary("/nonexistent/personas.json")
	assert.Error(t, err)
}

func TestEligibleSecrets(t *testing.T) {
	lib, err := persona.LoadLibrary(writeTestLibrary(t))
	require.NoError(t, err)
	identity := lib.Identity("aria")

	// Below every secret level.
	assert.Empty(t, persona.EligibleSecrets(identity, 2))

	// The level 3 secret unlocks at exactly 3; level 7 stays hidden.
	secrets := persona.EligibleSecrets(identity, 3)
	require.Len(t, secrets, 1)
	assert.Contains(t, secrets[0].Secret, "scholarship")

	secrets = persona.EligibleSecrets(identity, 6)
	assert.Len(t, secrets, 1)

	secrets = persona.EligibleSecrets(identity, 7)
	assert.Len(t, secrets, 2)

	assert.Nil(t, persona.EligibleSecrets(nil, 10))
}

func TestAccruedLevel(t *testing.T) {
	tests := []struct {
		messages int
		want     int
	}{
		{0, 1},
		{24, 1},
		{25, 2},
		{49, 2},
		{50, 3},
		{225, 10},
		{1000, 10},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, persona.AccruedLevel(tt.messages), "messages %d", tt.messages)
	}
}

func TestDefaultAffinity(t *testing.T) {
	affinity := persona.DefaultAffinity("user-1", "aria")
	assert.Equal(t, 1, affinity.AffinityLevel)
	assert.Equal(t, 0, affinity.TotalMessages)
}

func TestUnlockedLevels(t *testing.T) {
	secrets := []persona.DeepSecret{
		{Level: 3, Secret: "scholarship"},
		{Level: 7, Secret: "grandmother"},
	}

	assert.Equal(t, []int{3, 7}, persona.UnlockedLevels(nil, secrets))

	// Already recorded levels are kept and deduplicated.
	assert.Equal(t, []int{3, 7}, persona.UnlockedLevels([]int{3}, secrets))
	assert.Equal(t, []int{2, 3, 7}, persona.UnlockedLevels([]int{7, 2}, secrets))

	// No new disclosures leave the set untouched.
	assert.Equal(t, []int{3}, persona.UnlockedLevels([]int{3}, nil))
	assert.Nil(t, persona.UnlockedLevels(nil, nil))
}
