// Package retrieval implements the per-turn memory sources: temporal
// context, conversation recency, knowledge ranking, private memory, the
// social graph, and mistakes to avoid.
//
// Every source is independent. The turn handler fans them out concurrently
// and each degrades to an empty or default value on failure, so a single
// broken source never aborts a turn.
package retrieval

import (
	"fmt"
	"time"
)

// Day parts returned by ResolveTemporal.
const (
	DayPartMorning   = "morning"
	DayPartAfternoon = "afternoon"
	DayPartEvening   = "evening"
	DayPartNight     = "night"
)

// TemporalContext describes the user's local moment.
type TemporalContext struct {
	// LocalTime is the formatted local date and time.
	LocalTime string

	// DayPart is morning, afternoon, evening, or night.
	DayPart string

	// Tone is the day-part-specific tone guidance.
	Tone string
}

// dayPartTones is the tone guidance per day part.
var dayPartTones = map[string]string{
	DayPartMorning:   "It is morning for the user. Be energizing and forward-looking; the day is still ahead.",
	DayPartAfternoon: "It is afternoon for the user. Be steady and practical; check in on how the day is going.",
	DayPartEvening:   "It is evening for the user. Be warm and reflective; help the user wind down from the day.",
	DayPartNight:     "It is late at night for the user. Be calm and gentle; keep the energy low and soothing.",
}

// ResolveTemporal classifies the user's local moment.
//
// Pure: no I/O. An unknown or empty timezone falls back to fallbackZone, and
// an unknown fallback to UTC.
//
// Parameters:
//   - now: The reference instant
//   - timezone: IANA timezone name from the request, may be empty
//   - fallbackZone: Default timezone when the request gives none
//
// Returns the resolved temporal context.
func ResolveTemporal(now time.Time, timezone, fallbackZone string) TemporalContext {
	loc := loadLocation(timezone)
	if loc == nil {
		loc = loadLocation(fallbackZone)
	}
	if loc == nil {
		loc = time.UTC
	}

	local := now.In(loc)
	dayPart := classifyHour(local.Hour())

	return TemporalContext{
		LocalTime: fmt.Sprintf("%s, %s", local.Format("Monday, January 2, 2006"), local.Format("15:04")),
		DayPart:   dayPart,
		Tone:      dayPartTones[dayPart],
	}
}

// classifyHour maps a local hour to a day part.
func classifyHour(h int) string {
	switch {
	case h >= 6 && h < 12:
		return DayPartMorning
	case h >= 12 && h < 18:
		return DayPartAfternoon
	case h >= 18 && h < 23:
		return DayPartEvening
	default:
		return DayPartNight
	}
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil
	}
	return loc
}
