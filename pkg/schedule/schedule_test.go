package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/dunning/pkg/models"
)

var workday = &models.WorkHours{Start: "09:00", End: "18:00"}

func TestNext_FridayEveningSnapsToMonday(t *testing.T) {
	friday := time.Date(2025, 3, 14, 19, 0, 0, 0, time.UTC)

	got, err := Next(friday,
		models.DurationSpec{Unit: models.UnitMinutes, Amount: 0},
		models.ScheduleRules{ExcludeWeekends: true, WorkHours: workday})

	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 17, 9, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.Monday, got.Weekday())
}

func TestNext_IsDeterministic(t *testing.T) {
	base := time.Date(2025, 6, 6, 17, 45, 12, 345, time.UTC)
	spec := models.DurationSpec{Unit: models.UnitHours, Amount: 3}
	rules := models.ScheduleRules{BusinessDaysOnly: true, Timezone: "America/New_York", WorkHours: workday}

	first, err := Next(base, spec, rules)
	require.NoError(t, err)

	for range 10 {
		again, err := Next(base, spec, rules)
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
		assert.Equal(t, first, again)
	}
}

func TestNext(t *testing.T) {
	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	tests := []struct {
		name     string
		base     time.Time
		spec     models.DurationSpec
		rules    models.ScheduleRules
		expected time.Time
	}{
		{
			name:     "plain minutes",
			base:     time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			spec:     models.DurationSpec{Unit: models.UnitMinutes, Amount: 90},
			expected: time.Date(2025, 3, 10, 11, 30, 0, 0, time.UTC),
		},
		{
			name:     "weeks",
			base:     time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
			spec:     models.DurationSpec{Unit: models.UnitWeeks, Amount: 2},
			expected: time.Date(2025, 3, 24, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "days landing on saturday move to monday",
			base:     time.Date(2025, 3, 13, 10, 0, 0, 0, time.UTC),
			spec:     models.DurationSpec{Unit: models.UnitDays, Amount: 2},
			rules:    models.ScheduleRules{BusinessDaysOnly: true},
			expected: time.Date(2025, 3, 17, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "weekend kept without skip",
			base:     time.Date(2025, 3, 13, 10, 0, 0, 0, time.UTC),
			spec:     models.DurationSpec{Unit: models.UnitDays, Amount: 2},
			expected: time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "early morning snaps to start",
			base:     time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC),
			spec:     models.DurationSpec{Unit: models.UnitHours, Amount: 1},
			rules:    models.ScheduleRules{WorkHours: workday},
			expected: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			name:     "exactly end is kept",
			base:     time.Date(2025, 3, 10, 17, 0, 0, 0, time.UTC),
			spec:     models.DurationSpec{Unit: models.UnitHours, Amount: 1},
			rules:    models.ScheduleRules{WorkHours: workday},
			expected: time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC),
		},
		{
			name:     "after end without weekend skip lands on saturday",
			base:     time.Date(2025, 3, 14, 18, 30, 0, 0, time.UTC),
			spec:     models.DurationSpec{Unit: models.UnitMinutes, Amount: 0},
			rules:    models.ScheduleRules{WorkHours: workday},
			expected: time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "work hours apply in the configured zone",
			// 23:00 UTC is 20:00 in Sao Paulo, after hours there.
			base:     time.Date(2025, 3, 11, 23, 0, 0, 0, time.UTC),
			spec:     models.DurationSpec{Unit: models.UnitMinutes, Amount: 0},
			rules:    models.ScheduleRules{Timezone: "America/Sao_Paulo", WorkHours: workday},
			expected: time.Date(2025, 3, 12, 9, 0, 0, 0, saoPaulo).UTC(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.base, tt.spec, tt.rules)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestNext_InvalidInput(t *testing.T) {
	base := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	_, err := Next(base, models.DurationSpec{Unit: "months", Amount: 1}, models.ScheduleRules{})
	assert.ErrorIs(t, err, models.ErrInvalidNodeConfig)

	_, err = Next(base, models.DurationSpec{Unit: models.UnitDays, Amount: 1}, models.ScheduleRules{Timezone: "Nowhere/City"})
	assert.ErrorIs(t, err, models.ErrInvalidNodeConfig)

	_, err = Next(base, models.DurationSpec{Unit: models.UnitDays, Amount: 1},
		models.ScheduleRules{WorkHours: &models.WorkHours{Start: "9am", End: "18:00"}})
	assert.ErrorIs(t, err, models.ErrInvalidNodeConfig)
}
