// Package feed renders a family's confirmed events as an iCalendar feed for
// subscription in external calendar apps.
package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/hearthkeep/famsync/internal/db"
)

const prodID = "-//hearthkeep//famsync//EN"

// Encode renders the events as a VCALENDAR. All-day events become DATE
// values; timed events carry zoned start and end instants.
func Encode(family *db.Family, events []*db.Event, loc *time.Location) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText("X-WR-CALNAME", family.Name)

	for _, event := range events {
		component, err := encodeEvent(event, loc)
		if err != nil {
			return "", err
		}
		cal.Children = append(cal.Children, component)
	}

	var buf strings.Builder
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}

	return buf.String(), nil
}

func encodeEvent(event *db.Event, loc *time.Location) (*ical.Component, error) {
	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, event.ID+"@famsync")
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, event.UpdatedAt.UTC())
	vevent.Props.SetText(ical.PropSummary, event.Title)

	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.Category != "" {
		vevent.Props.SetText(ical.PropCategories, event.Category)
	}

	if event.EventTime == "" {
		day, err := time.ParseInLocation("2006-01-02", event.EventDate, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid event date %q: %w", event.EventDate, err)
		}
		setDate(vevent.Props, ical.PropDateTimeStart, day)
		setDate(vevent.Props, ical.PropDateTimeEnd, day.AddDate(0, 0, 1))
		return vevent.Component, nil
	}

	start, err := time.ParseInLocation("2006-01-02 15:04", event.EventDate+" "+event.EventTime, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid event time %q %q: %w", event.EventDate, event.EventTime, err)
	}

	endTime := event.EndTime
	if endTime == "" {
		endTime = event.EventTime
	}
	end, err := time.ParseInLocation("2006-01-02 15:04", event.EventDate+" "+endTime, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid end time %q: %w", endTime, err)
	}

	vevent.Props.SetDateTime(ical.PropDateTimeStart, start)
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, end)

	return vevent.Component, nil
}

// setDate writes an all-day DATE property, which SetDateTime cannot produce.
func setDate(props ical.Props, name string, day time.Time) {
	prop := ical.NewProp(name)
	prop.Params.Set(ical.ParamValue, string(ical.ValueDate))
	prop.Value = day.Format("20060102")
	props.Set(prop)
}
