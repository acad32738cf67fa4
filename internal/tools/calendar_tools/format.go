package calendar_tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teemow/calbridge/internal/calendar"
	"github.com/teemow/calbridge/internal/dispatch"
)

func formatValue(value any) string {
	switch v := value.(type) {
	case *dispatch.EventList:
		return formatEventList(v)
	case *calendar.EventSummary:
		return formatEvent(v)
	case *dispatch.CalendarList:
		return formatCalendarList(v)
	case *dispatch.DeleteResult:
		return fmt.Sprintf("Successfully deleted event %s from calendar %s\n", v.EventID, v.CalendarID)
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func formatEventList(list *dispatch.EventList) string {
	if list.Count == 0 {
		return "No upcoming events found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d events:\n\n", list.Count)
	for i, event := range list.Events {
		fmt.Fprintf(&b, "%d. %s\n", i+1, event.Summary)
		fmt.Fprintf(&b, "   ID: %s\n", event.ID)
		fmt.Fprintf(&b, "   Start: %s\n", formatTime(event.Start, event.AllDay))
		fmt.Fprintf(&b, "   End: %s\n", formatTime(event.End, event.AllDay))
		if event.Location != "" {
			fmt.Fprintf(&b, "   Location: %s\n", event.Location)
		}
		if event.MeetLink != "" {
			fmt.Fprintf(&b, "   Meet: %s\n", event.MeetLink)
		}
		if len(event.Attendees) > 0 {
			fmt.Fprintf(&b, "   Attendees: %d\n", len(event.Attendees))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatEvent(event *calendar.EventSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n", event.Summary)
	fmt.Fprintf(&b, "ID: %s\n", event.ID)
	fmt.Fprintf(&b, "Start: %s\n", formatTime(event.Start, event.AllDay))
	fmt.Fprintf(&b, "End: %s\n", formatTime(event.End, event.AllDay))
	if event.Status != "" {
		fmt.Fprintf(&b, "Status: %s\n", event.Status)
	}
	if event.HTMLLink != "" {
		fmt.Fprintf(&b, "Link: %s\n", event.HTMLLink)
	}
	if event.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", event.Description)
	}
	if event.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", event.Location)
	}
	if event.Organizer != "" {
		fmt.Fprintf(&b, "Organizer: %s\n", event.Organizer)
	}
	if event.MeetLink != "" {
		fmt.Fprintf(&b, "Google Meet: %s\n", event.MeetLink)
	}
	for _, rule := range event.Recurrence {
		fmt.Fprintf(&b, "Recurrence: %s\n", rule)
	}

	if len(event.Attendees) > 0 {
		fmt.Fprintf(&b, "\nAttendees (%d):\n", len(event.Attendees))
		for _, att := range event.Attendees {
			fmt.Fprintf(&b, "  - %s", att.Email)
			if att.ResponseStatus != "" {
				fmt.Fprintf(&b, " (%s)", att.ResponseStatus)
			}
			if att.DisplayName != "" {
				fmt.Fprintf(&b, " - %s", att.DisplayName)
			}
			if att.Optional {
				b.WriteString(" [optional]")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatCalendarList(list *dispatch.CalendarList) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d calendar(s):\n\n", list.Count)
	for i, cal := range list.Calendars {
		fmt.Fprintf(&b, "%d. %s\n", i+1, cal.Summary)
		fmt.Fprintf(&b, "   ID: %s\n", cal.ID)
		fmt.Fprintf(&b, "   Access Role: %s\n", cal.AccessRole)
		if cal.Primary {
			b.WriteString("   [PRIMARY]\n")
		}
		if cal.Description != "" {
			fmt.Fprintf(&b, "   Description: %s\n", cal.Description)
		}
		if cal.TimeZone != "" {
			fmt.Fprintf(&b, "   Time Zone: %s\n", cal.TimeZone)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatTime(t time.Time, allDay bool) string {
	if allDay {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}
