package schedule

import (
	"testing"
	"time"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpec(t *testing.T) {
	tests := []struct {
		name    string
		trigger models.ScheduleTrigger
		want    string
	}{
		{"daily", models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:30"}, "CRON_TZ=UTC 30 9 * * *"},
		{"weekly default", models.ScheduleTrigger{Recurrence: models.RecurrenceWeekly, AtTime: "08:00"}, "CRON_TZ=UTC 0 8 * * 1"},
		{"weekly friday", models.ScheduleTrigger{Recurrence: models.RecurrenceWeekly, AtTime: "18:05", Weekday: "friday"}, "CRON_TZ=UTC 5 18 * * 5"},
		{"monthly", models.ScheduleTrigger{Recurrence: models.RecurrenceMonthly, AtTime: "07:00", DayOfMonth: 25}, "CRON_TZ=UTC 0 7 25 * *"},
		{"yearly", models.ScheduleTrigger{Recurrence: models.RecurrenceYearly, AtTime: "00:00", DayOfMonth: 31, Month: 12}, "CRON_TZ=UTC 0 0 31 12 *"},
		{"timezone", models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:00", Timezone: "Africa/Nairobi"}, "CRON_TZ=Africa/Nairobi 0 9 * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := Spec(&tt.trigger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec)
		})
	}
}

func TestSpec_Invalid(t *testing.T) {
	_, err := Spec(&models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "9am"})
	require.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = Spec(&models.ScheduleTrigger{Recurrence: "hourly", AtTime: "09:00"})
	require.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = Spec(&models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:00", Timezone: "Mars/Olympus"})
	require.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestDue(t *testing.T) {
	sched, err := Parse(&models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:00"})
	require.NoError(t, err)

	grace := time.Minute
	fireAt := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	fire, due := Due(sched, fireAt.Add(30*time.Second), grace)
	require.True(t, due)
	assert.True(t, fireAt.Equal(fire))

	_, due = Due(sched, fireAt, grace)
	assert.True(t, due)

	_, due = Due(sched, fireAt.Add(-time.Second), grace)
	assert.False(t, due)

	_, due = Due(sched, fireAt.Add(2*time.Minute), grace)
	assert.False(t, due)
}

func TestDue_Timezone(t *testing.T) {
	sched, err := Parse(&models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:00", Timezone: "Africa/Nairobi"})
	require.NoError(t, err)

	// 09:00 in Nairobi (UTC+3) is 06:00 UTC.
	fire, due := Due(sched, time.Date(2026, 10, 16, 6, 0, 10, 0, time.UTC), time.Minute)
	require.True(t, due)
	assert.Equal(t, 9, fire.Hour())
	assert.Equal(t, "2026-10-16", WindowKey(models.RecurrenceDaily, fire))
}

func TestWindowKey(t *testing.T) {
	fire := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, "2026-10-16", WindowKey(models.RecurrenceDaily, fire))
	assert.Equal(t, "2026-W42", WindowKey(models.RecurrenceWeekly, fire))
	assert.Equal(t, "2026-10", WindowKey(models.RecurrenceMonthly, fire))
	assert.Equal(t, "2026", WindowKey(models.RecurrenceYearly, fire))
}
