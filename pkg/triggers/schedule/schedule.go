// Package schedule turns schedule triggers into cron schedules and firing windows.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/robfig/cron/v3"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Location returns the trigger timezone, UTC when unset.
func Location(trigger *models.ScheduleTrigger) (*time.Location, error) {
	if trigger.Timezone == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(trigger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidSchedule, trigger.Timezone, err)
	}

	return loc, nil
}

// Spec builds the cron expression for a schedule trigger, prefixed with its timezone.
//
// Weekly schedules default to Monday, monthly to the 1st, yearly to January 1st.
// Monthly schedules on days 29-31 skip months that lack the day.
func Spec(trigger *models.ScheduleTrigger) (string, error) {
	at, err := time.Parse("15:04", trigger.AtTime)
	if err != nil {
		return "", fmt.Errorf("%w: at_time %q must be HH:MM", ErrInvalidSchedule, trigger.AtTime)
	}

	loc, err := Location(trigger)
	if err != nil {
		return "", err
	}

	day := trigger.DayOfMonth
	if day == 0 {
		day = 1
	}

	month := trigger.Month
	if month == 0 {
		month = 1
	}

	var fields string

	switch trigger.Recurrence {
	case models.RecurrenceDaily:
		fields = fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour())
	case models.RecurrenceWeekly:
		weekday := time.Monday

		if trigger.Weekday != "" {
			var ok bool

			weekday, ok = weekdays[trigger.Weekday]
			if !ok {
				return "", fmt.Errorf("%w: weekday %q", ErrInvalidSchedule, trigger.Weekday)
			}
		}

		fields = fmt.Sprintf("%d %d * * %d", at.Minute(), at.Hour(), weekday)
	case models.RecurrenceMonthly:
		fields = fmt.Sprintf("%d %d %d * *", at.Minute(), at.Hour(), day)
	case models.RecurrenceYearly:
		fields = fmt.Sprintf("%d %d %d %d *", at.Minute(), at.Hour(), day, month)
	default:
		return "", fmt.Errorf("%w: recurrence %q", ErrInvalidSchedule, trigger.Recurrence)
	}

	return "CRON_TZ=" + loc.String() + " " + fields, nil
}

// Parse returns the cron schedule of a trigger.
//
// nolint:ireturn
func Parse(trigger *models.ScheduleTrigger) (cron.Schedule, error) {
	spec, err := Spec(trigger)
	if err != nil {
		return nil, err
	}

	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}

	return sched, nil
}

// Due returns the fire time inside (now-grace, now], if there is one,
// expressed in the schedule timezone.
func Due(sched cron.Schedule, now time.Time, grace time.Duration) (time.Time, bool) {
	fire := sched.Next(now.Add(-grace))
	if fire.IsZero() || fire.After(now) {
		return time.Time{}, false
	}

	if spec, ok := sched.(*cron.SpecSchedule); ok {
		fire = fire.In(spec.Location)
	}

	return fire, true
}

// WindowKey names the calendar period a fire time belongs to, in the trigger timezone:
// a date for daily, an ISO week for weekly, a month for monthly and a year for yearly.
func WindowKey(recurrence models.Recurrence, fire time.Time) string {
	switch recurrence {
	case models.RecurrenceWeekly:
		year, week := fire.ISOWeek()

		return fmt.Sprintf("%04d-W%02d", year, week)
	case models.RecurrenceMonthly:
		return fire.Format("2006-01")
	case models.RecurrenceYearly:
		return fire.Format("2006")
	default:
		return models.FormatDate(fire)
	}
}
