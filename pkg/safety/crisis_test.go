package safety_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-ai/amica/pkg/safety"
)

func TestRuleDetector_Detect(t *testing.T) {
	detector := safety.NewRuleDetector()

	tests := []struct {
		message string
		crisis  bool
	}{
		{"a volte penso che voglio morire", true},
		{"non ce la faccio più a vivere così", true},
		{"I just want to die", true},
		{"I hurt my ankle running by myself yesterday", false},
		{"I've been thinking I might harm myself", true},
		{"there's no reason to live anymore", true},
		{"vorrei farla finita", true},
		{"I had a terrible day at work", false},
		{"il traffico oggi mi ha ucciso", false},
		{"my plant died this week", false},
	}

	for _, tt := range tests {
		signal, err := detector.Detect(tt.message)
		require.NoError(t, err)
		if tt.crisis {
			require.NotNil(t, signal, "expected crisis: %q", tt.message)
			assert.NotEmpty(t, signal.Pattern)
			assert.NotEmpty(t, signal.Excerpt)
		} else {
			assert.Nil(t, signal, "false positive: %q", tt.message)
		}
	}
}

func TestRuleDetector_CaseInsensitive(t *testing.T) {
	detector := safety.NewRuleDetector()

	signal, err := detector.Detect("I WANT TO DIE")
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, "want to die", signal.Pattern)
}

func TestRuleDetector_ExcerptBounded(t *testing.T) {
	detector := safety.NewRuleDetector()

	long := "voglio morire " + strings.Repeat("à", 500)
	signal, err := detector.Detect(long)
	require.NoError(t, err)
	require.NotNil(t, signal)
	assert.Equal(t, 200, len([]rune(signal.Excerpt)))
}

func TestRuleDetector_CustomPatterns(t *testing.T) {
	detector := safety.NewRuleDetectorWithPatterns([]string{"red flag phrase"})

	signal, err := detector.Detect("this contains the red flag phrase somewhere")
	require.NoError(t, err)
	require.NotNil(t, signal)

	// The defaults are gone.
	signal, err = detector.Detect("I want to die")
	require.NoError(t, err)
	assert.Nil(t, signal)
}
