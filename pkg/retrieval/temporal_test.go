package retrieval_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aurora-ai/amica/pkg/retrieval"
)

func TestResolveTemporal_DayPartBoundaries(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{5, retrieval.DayPartNight},
		{6, retrieval.DayPartMorning},
		{11, retrieval.DayPartMorning},
		{12, retrieval.DayPartAfternoon},
		{17, retrieval.DayPartAfternoon},
		{18, retrieval.DayPartEvening},
		{22, retrieval.DayPartEvening},
		{23, retrieval.DayPartNight},
		{0, retrieval.DayPartNight},
		{3, retrieval.DayPartNight},
	}

	for _, tt := range tests {
		now := time.Date(2025, 3, 10, tt.hour, 30, 0, 0, time.UTC)
		tc := retrieval.ResolveTemporal(now, "UTC", "UTC")
		assert.Equal(t, tt.want, tc.DayPart, "hour %d", tt.hour)
		assert.NotEmpty(t, tc.Tone)
	}
}

func TestResolveTemporal_TimezoneShiftsDayPart(t *testing.T) {
	// 23:00 UTC is night in London but still evening in New York.
	now := time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)

	utc := retrieval.ResolveTemporal(now, "UTC", "")
	assert.Equal(t, retrieval.DayPartNight, utc.DayPart)

	ny := retrieval.ResolveTemporal(now, "America/New_York", "")
	assert.Equal(t, retrieval.DayPartEvening, ny.DayPart)
}

func TestResolveTemporal_FallbackZone(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	// An unknown request timezone falls back to the configured default.
	tc := retrieval.ResolveTemporal(now, "Not/AZone", "Europe/Rome")
	assert.Equal(t, retrieval.DayPartMorning, tc.DayPart)
	assert.Contains(t, tc.LocalTime, "09:00")

	// Unknown fallback ends at UTC instead of failing.
	tc = retrieval.ResolveTemporal(now, "", "Also/Invalid")
	assert.Contains(t, tc.LocalTime, "08:00")
}

func TestResolveTemporal_LocalTimeFormat(t *testing.T) {
	now := time.Date(2025, 3, 10, 14, 5, 0, 0, time.UTC)
	tc := retrieval.ResolveTemporal(now, "UTC", "")
	assert.Equal(t, "Monday, March 10, 2025, 14:05", tc.LocalTime)
}
