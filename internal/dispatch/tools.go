package dispatch

import (
	"strings"
)

// Calendar operations exposed as tools.
const (
	OpListEvents    = "list_events"
	OpGetEvent      = "get_event"
	OpCreateEvent   = "create_event"
	OpUpdateEvent   = "update_event"
	OpDeleteEvent   = "delete_event"
	OpListCalendars = "list_calendars"

	toolPrefix = "calendar_"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
)

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
}

// Tool describes one exposed Calendar operation.
type Tool struct {
	// Name is the canonical tool name, e.g. calendar_list_events.
	Name        string
	Operation   string
	Description string
	// Write marks tools that modify the calendar.
	Write  bool
	Params []Param
}

var (
	calendarIDParam = Param{Name: "calendar_id", Type: ParamString, Description: "Calendar ID (default: 'primary')"}
	eventIDParam    = Param{Name: "event_id", Type: ParamString, Required: true, Description: "ID of the event"}
	timeZoneParam   = Param{Name: "time_zone", Type: ParamString, Description: "IANA time zone used for times without an offset (default: UTC)"}
)

func eventFieldParams(required bool) []Param {
	return []Param{
		{Name: "summary", Type: ParamString, Required: required, Description: "Event title"},
		{Name: "start", Type: ParamString, Required: required, Description: "Start time in ISO 8601 format (e.g. 2026-01-10T10:00:00), or YYYY-MM-DD for all-day events"},
		{Name: "end", Type: ParamString, Required: required, Description: "End time in ISO 8601 format, or YYYY-MM-DD for all-day events"},
		{Name: "description", Type: ParamString, Description: "Event description"},
		{Name: "location", Type: ParamString, Description: "Event location"},
		timeZoneParam,
		{Name: "all_day", Type: ParamBoolean, Description: "Create an all-day event (default: false)"},
		{Name: "attendees", Type: ParamString, Description: "Comma-separated list of attendee email addresses"},
		{Name: "recurrence", Type: ParamString, Description: "Comma-separated RRULE, EXRULE, RDATE or EXDATE lines"},
	}
}

var tools = []Tool{
	{
		Name:        toolPrefix + OpListEvents,
		Operation:   OpListEvents,
		Description: "List upcoming events from the user's Google Calendar",
		Params: []Param{
			{Name: "max_results", Type: ParamNumber, Description: "Maximum number of events to return (default: 10)"},
			calendarIDParam,
			{Name: "time_min", Type: ParamString, Description: "Lower bound for event end time in ISO 8601 format (default: now)"},
			{Name: "time_max", Type: ParamString, Description: "Upper bound for event start time in ISO 8601 format"},
			{Name: "query", Type: ParamString, Description: "Free text search terms"},
			timeZoneParam,
		},
	},
	{
		Name:        toolPrefix + OpGetEvent,
		Operation:   OpGetEvent,
		Description: "Get details of a specific calendar event",
		Params:      []Param{eventIDParam, calendarIDParam},
	},
	{
		Name:        toolPrefix + OpCreateEvent,
		Operation:   OpCreateEvent,
		Description: "Create a new event in the user's Google Calendar",
		Write:       true,
		Params: append(append([]Param{calendarIDParam}, eventFieldParams(true)...),
			Param{Name: "add_google_meet", Type: ParamBoolean, Description: "Attach a Google Meet conference (default: false)"}),
	},
	{
		Name:        toolPrefix + OpUpdateEvent,
		Operation:   OpUpdateEvent,
		Description: "Update fields of an existing calendar event; omitted fields are left unchanged",
		Write:       true,
		Params:      append([]Param{eventIDParam, calendarIDParam}, eventFieldParams(false)...),
	},
	{
		Name:        toolPrefix + OpDeleteEvent,
		Operation:   OpDeleteEvent,
		Description: "Delete a calendar event",
		Write:       true,
		Params:      []Param{eventIDParam, calendarIDParam},
	},
	{
		Name:        toolPrefix + OpListCalendars,
		Operation:   OpListCalendars,
		Description: "List all calendars accessible to the user",
	},
}

var toolsByOperation = func() map[string]Tool {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Operation] = t
	}
	return m
}()

// Tools returns the tool catalog. Write tools are left out when readOnly
// is set.
func Tools(readOnly bool) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if readOnly && t.Write {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Lookup finds a tool by its canonical name or one of its aliases:
// the bare operation (list_events) or the dotted form (calendar.list_events).
func Lookup(name string) (Tool, bool) {
	op := strings.TrimSpace(name)
	switch {
	case strings.HasPrefix(op, toolPrefix):
		op = strings.TrimPrefix(op, toolPrefix)
	case strings.HasPrefix(op, "calendar."):
		op = strings.TrimPrefix(op, "calendar.")
	}
	t, ok := toolsByOperation[op]
	return t, ok
}

// CanonicalName returns the canonical tool name for name, or "" if the
// tool is unknown.
func CanonicalName(name string) string {
	t, ok := Lookup(name)
	if !ok {
		return ""
	}
	return t.Name
}
