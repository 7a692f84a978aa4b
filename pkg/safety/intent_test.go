package safety_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aurora-ai/amica/pkg/safety"
)

func TestClassifyGoalIntent(t *testing.T) {
	tests := []struct {
		message string
		want    safety.GoalIntent
	}{
		{"I've decided to quit smoking for good", safety.IntentNewGoal},
		{"ho deciso di smettere di fumare", safety.IntentNewGoal},
		{"my goal is to run three times a week", safety.IntentNewGoal},
		{"I'm so tempted to smoke right now", safety.IntentCraving},
		{"ho una voglia di fumare terribile", safety.IntentCraving},
		{"I did it, a whole week smoke-free!", safety.IntentCompletion},
		{"ce l'ho fatta, dieci giorni senza sigarette", safety.IntentCompletion},
		{"tell me about your day", safety.IntentNone},
		{"che tempo fa oggi", safety.IntentNone},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, safety.ClassifyGoalIntent(tt.message), "%q", tt.message)
	}
}

func TestClassifyGoalIntent_PriorityOrder(t *testing.T) {
	// A declaration that also mentions an achievement still classifies as
	// a new goal.
	got := safety.ClassifyGoalIntent("I did it before and failed, but starting today I quit for real")
	assert.Equal(t, safety.IntentNewGoal, got)

	// Craving outranks completion.
	got = safety.ClassifyGoalIntent("three days without smoking but I'm so tempted right now")
	assert.Equal(t, safety.IntentCraving, got)
}
