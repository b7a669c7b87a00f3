// Package recurrence materializes recurring events into concrete instance
// rows, one per occurrence.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/hearthkeep/famsync/internal/db"
)

// DefaultCap bounds expansion of rules with no end condition.
const DefaultCap = 52

// scanLimit bounds the raw date walk so sparse weekly rules cannot loop
// unbounded while hunting for matching weekdays.
const scanLimit = 1000

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Instances expands a recurring parent event into instance rows. The parent
// itself is the first occurrence; instances cover the occurrences after it.
// Instances inherit the parent's fields, point back via ParentEventID, and
// enter the sync pipeline independently with fresh sync state.
func Instances(parent *db.Event, loc *time.Location, limit int) ([]*db.Event, error) {
	if !parent.IsRecurring {
		return nil, nil
	}
	if !parent.RecurrencePattern.IsValid() {
		return nil, fmt.Errorf("invalid recurrence pattern %q", parent.RecurrencePattern)
	}
	if limit <= 0 {
		limit = DefaultCap
	}

	start, err := time.ParseInLocation("2006-01-02", parent.EventDate, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid event date %q: %w", parent.EventDate, err)
	}

	interval := parent.RecurrenceInterval
	if interval < 1 {
		interval = 1
	}

	var endDate time.Time
	var remaining int
	switch parent.RecurrenceEndType {
	case db.RecurEndDate:
		endDate, err = time.ParseInLocation("2006-01-02", parent.RecurrenceEndDate, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid recurrence end date %q: %w", parent.RecurrenceEndDate, err)
		}
		remaining = limit
	case db.RecurEndCount:
		// The parent is occurrence one.
		remaining = parent.RecurrenceEndCount - 1
		if remaining > limit {
			remaining = limit
		}
	default:
		remaining = limit
	}

	var instances []*db.Event
	current := start
	for i := 0; i < scanLimit && len(instances) < remaining; i++ {
		next, ok := advance(current, start, parent, interval)
		if !ok {
			break
		}
		current = next

		if !endDate.IsZero() && current.After(endDate) {
			break
		}

		instances = append(instances, instanceOf(parent, current.Format("2006-01-02")))
	}

	return instances, nil
}

// advance steps to the next occurrence after current.
func advance(current, start time.Time, parent *db.Event, interval int) (time.Time, bool) {
	switch parent.RecurrencePattern {
	case db.RecurDaily:
		return current.AddDate(0, 0, interval), true

	case db.RecurWeekly:
		days := weekdaySet(parent.RecurrenceDaysOfWeek)
		if len(days) == 0 {
			return current.AddDate(0, 0, 7*interval), true
		}
		// Walk forward a day at a time, honoring the week interval
		// relative to the start date's week.
		next := current
		for i := 0; i < 7*interval+7; i++ {
			next = next.AddDate(0, 0, 1)
			if !days[next.Weekday()] {
				continue
			}
			weeks := int(next.Sub(startOfWeek(start)).Hours() / (24 * 7))
			if weeks%interval == 0 {
				return next, true
			}
		}
		return time.Time{}, false

	case db.RecurMonthly:
		return addMonthsClamped(current, interval, start.Day()), true

	case db.RecurYearly:
		next := current.AddDate(interval, 0, 0)
		// Feb 29 clamps to Feb 28 in non-leap years.
		if next.Day() != current.Day() {
			next = next.AddDate(0, 0, -next.Day())
		}
		return next, true
	}

	return time.Time{}, false
}

// addMonthsClamped adds months while keeping the day-of-month anchored to
// the original day, clamped to the target month's length. Without the clamp
// a Jan 31 monthly event drifts through Mar 3.
func addMonthsClamped(t time.Time, months, anchorDay int) time.Time {
	year, month, _ := t.Date()
	first := time.Date(year, month, 1, 0, 0, 0, 0, t.Location()).AddDate(0, months, 0)

	day := anchorDay
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}

	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func startOfWeek(t time.Time) time.Time {
	return t.AddDate(0, 0, -int(t.Weekday()))
}

func weekdaySet(joined string) map[time.Weekday]bool {
	set := make(map[time.Weekday]bool)
	for _, part := range strings.Split(joined, ",") {
		name := strings.TrimSpace(strings.ToLower(part))
		if day, ok := weekdayNames[name]; ok {
			set[day] = true
		}
	}
	return set
}

// instanceOf copies the parent into a fresh instance row for one date.
func instanceOf(parent *db.Event, date string) *db.Event {
	return &db.Event{
		FamilyID:            parent.FamilyID,
		SourceAccountID:     parent.SourceAccountID,
		Title:               parent.Title,
		Description:         parent.Description,
		EventDate:           date,
		EventTime:           parent.EventTime,
		EndTime:             parent.EndTime,
		Location:            parent.Location,
		Category:            parent.Category,
		MemberNames:         parent.MemberNames,
		SourceEmailID:       parent.SourceEmailID,
		SourceEmailSubject:  parent.SourceEmailSubject,
		RequiresAction:      parent.RequiresAction,
		ActionDeadline:      parent.ActionDeadline,
		ActionDescription:   parent.ActionDescription,
		IsConfirmed:         parent.IsConfirmed,
		ParentEventID:       parent.ID,
		IsRecurringInstance: true,
	}
}
