package safety

import "strings"

// GoalIntent is the classified goal-related intent of a user utterance.
type GoalIntent string

const (
	// IntentNewGoal means the user is declaring a new goal.
	IntentNewGoal GoalIntent = "new_goal"

	// IntentCraving means the user is fighting an urge against an
	// existing goal.
	IntentCraving GoalIntent = "craving"

	// IntentCompletion means the user is reporting a goal achieved.
	IntentCompletion GoalIntent = "completion"

	// IntentNone means no goal-related intent was detected.
	IntentNone GoalIntent = "none"
)

var newGoalPatterns = []string{
	"ho deciso di",
	"voglio smettere",
	"voglio iniziare",
	"il mio obiettivo",
	"da oggi",
	"mi impegno a",
	"i've decided to",
	"i have decided to",
	"decided to quit",
	"i want to quit",
	"i want to stop",
	"i want to start",
	"my goal is",
	"i'm going to start",
	"starting today i",
	"i promise to",
}

var cravingPatterns = []string{
	"ho una voglia",
	"voglia di fumare",
	"voglia di bere",
	"sto per cedere",
	"tentazione",
	"craving",
	"i'm tempted",
	"so tempted",
	"dying for a",
	"i really need a cigarette",
	"i really need a drink",
	"about to give in",
}

var completionPatterns = []string{
	"ce l'ho fatta",
	"sono riuscito",
	"sono riuscita",
	"obiettivo raggiunto",
	"giorni senza",
	"settimana senza",
	"i did it",
	"i made it",
	"smoke-free",
	"smoke free",
	"days clean",
	"days without",
	"week without",
	"i reached my goal",
	"i achieved",
}

// ClassifyGoalIntent classifies the latest user utterance.
//
// Patterns are tested in priority order: new_goal, then craving, then
// completion. A message matching none returns IntentNone.
func ClassifyGoalIntent(message string) GoalIntent {
	lower := strings.ToLower(message)

	for _, p := range newGoalPatterns {
		if strings.Contains(lower, p) {
			return IntentNewGoal
		}
	}
	for _, p := range cravingPatterns {
		if strings.Contains(lower, p) {
			return IntentCraving
		}
	}
	for _, p := range completionPatterns {
		if strings.Contains(lower, p) {
			return IntentCompletion
		}
	}
	return IntentNone
}
