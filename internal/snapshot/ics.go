// Package snapshot keeps the latest filtered events of every subscription
// on disk, as an iCalendar file and as JSON.
package snapshot

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"google.golang.org/api/calendar/v3"
)

const productID = "-//calendar-feed//Google Calendar snapshot//EN"

const dateLayout = "2006-01-02"

// RenderICS creates an iCalendar document named calendarID from events.
// Events without a usable start are skipped.
func RenderICS(calendarID string, events []*calendar.Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	cal.SetXWRCalName(calendarID)

	stamp := now.UTC()
	for _, ev := range events {
		if ev == nil || ev.Start == nil {
			continue
		}
		addEvent(cal, ev, stamp)
	}

	return cal.Serialize()
}

func addEvent(cal *ical.Calendar, ev *calendar.Event, stamp time.Time) {
	start, startAllDay, ok := eventTime(ev.Start)
	if !ok {
		return
	}

	vevent := cal.AddEvent(eventUID(ev))
	vevent.SetDtStampTime(stamp)

	if startAllDay {
		vevent.SetAllDayStartAt(start)
	} else {
		vevent.SetStartAt(start)
	}
	if end, endAllDay, ok := eventTime(ev.End); ok {
		if endAllDay {
			vevent.SetAllDayEndAt(end)
		} else {
			vevent.SetEndAt(end)
		}
	}

	vevent.SetSummary(ev.Summary)
	if ev.Location != "" {
		vevent.SetLocation(ev.Location)
	}
	if ev.Description != "" {
		vevent.SetDescription(ev.Description)
	}
	if ev.HtmlLink != "" {
		vevent.SetURL(ev.HtmlLink)
	}
}

func eventUID(ev *calendar.Event) string {
	if ev.ICalUID != "" {
		return ev.ICalUID
	}
	return fmt.Sprintf("%s@google.com", ev.Id)
}

// eventTime reads a Google event time. All-day events carry only a date.
func eventTime(t *calendar.EventDateTime) (time.Time, bool, bool) {
	if t == nil {
		return time.Time{}, false, false
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, false
		}
		return parsed.UTC(), false, true
	}
	if t.Date != "" {
		parsed, err := time.Parse(dateLayout, t.Date)
		if err != nil {
			return time.Time{}, false, false
		}
		return parsed, true, true
	}
	return time.Time{}, false, false
}
