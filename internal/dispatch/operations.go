package dispatch

import (
	"context"

	"golang.org/x/oauth2"

	"github.com/teemow/calbridge/internal/calendar"
	bridgeerrors "github.com/teemow/calbridge/internal/errors"
)

// CalendarAPI is the subset of *calendar.Client the dispatcher uses.
type CalendarAPI interface {
	ListEvents(ctx context.Context, input calendar.ListEventsInput) ([]calendar.EventSummary, error)
	GetEvent(ctx context.Context, calendarID, eventID string) (*calendar.EventSummary, error)
	CreateEvent(ctx context.Context, calendarID string, input calendar.EventInput) (*calendar.EventSummary, error)
	UpdateEvent(ctx context.Context, calendarID, eventID string, input calendar.EventInput) (*calendar.EventSummary, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	ListCalendars(ctx context.Context) ([]calendar.CalendarInfo, error)
}

// ClientFactory builds a Calendar client for one access token.
type ClientFactory func(ctx context.Context, token *oauth2.Token) (CalendarAPI, error)

// call runs one prepared operation against an authorized client.
type call func(ctx context.Context, api CalendarAPI) (any, error)

// prepare validates the arguments for tool and returns the bound call.
// It never touches the network.
func prepare(tool Tool, args arguments) (call, error) {
	switch tool.Operation {
	case OpListEvents:
		return prepareListEvents(args)
	case OpGetEvent:
		calendarID, eventID, err := eventRef(args)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, api CalendarAPI) (any, error) {
			return api.GetEvent(ctx, calendarID, eventID)
		}, nil
	case OpCreateEvent:
		return prepareCreateEvent(args)
	case OpUpdateEvent:
		return prepareUpdateEvent(args)
	case OpDeleteEvent:
		calendarID, eventID, err := eventRef(args)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, api CalendarAPI) (any, error) {
			if err := api.DeleteEvent(ctx, calendarID, eventID); err != nil {
				return nil, err
			}
			return &DeleteResult{Deleted: true, CalendarID: calendarID, EventID: eventID}, nil
		}, nil
	case OpListCalendars:
		return func(ctx context.Context, api CalendarAPI) (any, error) {
			cals, err := api.ListCalendars(ctx)
			if err != nil {
				return nil, err
			}
			return &CalendarList{Calendars: cals, Count: len(cals)}, nil
		}, nil
	default:
		return nil, bridgeerrors.UnknownTool(tool.Name)
	}
}

func calendarID(args arguments) (string, error) {
	id, err := args.str("calendar_id")
	if err != nil {
		return "", err
	}
	if id == "" {
		id = calendar.PrimaryCalendarID
	}
	return id, nil
}

func eventRef(args arguments) (string, string, error) {
	calID, err := calendarID(args)
	if err != nil {
		return "", "", err
	}
	eventID, err := args.requiredStr("event_id")
	if err != nil {
		return "", "", err
	}
	return calID, eventID, nil
}

func prepareListEvents(args arguments) (call, error) {
	calID, err := calendarID(args)
	if err != nil {
		return nil, err
	}
	input := calendar.ListEventsInput{CalendarID: calID}

	maxResults, present, err := args.integer("max_results")
	if err != nil {
		return nil, err
	}
	if present && (maxResults < 1 || maxResults > maxListResults) {
		return nil, bridgeerrors.InvalidArguments("max_results must be between 1 and %d", maxListResults)
	}
	input.MaxResults = maxResults

	loc, _, err := args.location()
	if err != nil {
		return nil, err
	}
	if input.TimeMin, _, err = args.timestamp("time_min", loc); err != nil {
		return nil, err
	}
	if input.TimeMax, _, err = args.timestamp("time_max", loc); err != nil {
		return nil, err
	}
	if !input.TimeMin.IsZero() && !input.TimeMax.IsZero() && !input.TimeMax.After(input.TimeMin) {
		return nil, bridgeerrors.InvalidArguments("time_max must be after time_min")
	}
	if input.Query, err = args.str("query"); err != nil {
		return nil, err
	}

	return func(ctx context.Context, api CalendarAPI) (any, error) {
		events, err := api.ListEvents(ctx, input)
		if err != nil {
			return nil, err
		}
		return &EventList{Events: events, Count: len(events)}, nil
	}, nil
}

// eventFields reads the shared create/update fields. On update every field
// is optional.
func eventFields(args arguments, required bool) (calendar.EventInput, error) {
	var input calendar.EventInput
	var err error

	text := args.str
	if required {
		text = args.requiredStr
	}
	if input.Summary, err = text("summary"); err != nil {
		return input, err
	}
	if input.Description, err = args.str("description"); err != nil {
		return input, err
	}
	if input.Location, err = args.str("location"); err != nil {
		return input, err
	}
	if input.Attendees, err = args.list("attendees"); err != nil {
		return input, err
	}
	if input.Recurrence, err = args.list("recurrence"); err != nil {
		return input, err
	}
	if input.AllDay, err = args.boolean("all_day"); err != nil {
		return input, err
	}

	loc, tz, err := args.location()
	if err != nil {
		return input, err
	}
	input.TimeZone = tz

	if required {
		if _, err := args.requiredStr("start"); err != nil {
			return input, err
		}
		if _, err := args.requiredStr("end"); err != nil {
			return input, err
		}
	}
	start, startDate, err := args.timestamp("start", loc)
	if err != nil {
		return input, err
	}
	end, endDate, err := args.timestamp("end", loc)
	if err != nil {
		return input, err
	}
	input.Start, input.End = start, end

	if !start.IsZero() && !end.IsZero() {
		if startDate && endDate {
			input.AllDay = true
		}
		if input.AllDay && !end.After(start) {
			// all-day end dates are exclusive
			input.End = start.AddDate(0, 0, 1)
		} else if !end.After(start) {
			return input, bridgeerrors.InvalidArguments("end must be after start")
		}
	}
	return input, nil
}

func prepareCreateEvent(args arguments) (call, error) {
	calID, err := calendarID(args)
	if err != nil {
		return nil, err
	}
	input, err := eventFields(args, true)
	if err != nil {
		return nil, err
	}
	if input.UseDefaultConferenceData, err = args.boolean("add_google_meet"); err != nil {
		return nil, err
	}
	return func(ctx context.Context, api CalendarAPI) (any, error) {
		return api.CreateEvent(ctx, calID, input)
	}, nil
}

func prepareUpdateEvent(args arguments) (call, error) {
	calID, eventID, err := eventRef(args)
	if err != nil {
		return nil, err
	}
	input, err := eventFields(args, false)
	if err != nil {
		return nil, err
	}
	if isEmptyUpdate(input) {
		return nil, bridgeerrors.InvalidArguments("update_event needs at least one field to change")
	}
	return func(ctx context.Context, api CalendarAPI) (any, error) {
		return api.UpdateEvent(ctx, calID, eventID, input)
	}, nil
}

func isEmptyUpdate(in calendar.EventInput) bool {
	return in.Summary == "" && in.Description == "" && in.Location == "" &&
		in.Start.IsZero() && in.End.IsZero() &&
		len(in.Attendees) == 0 && len(in.Recurrence) == 0
}

// defaultClientFactory talks to the real Calendar API, or to endpoint when
// set.
func defaultClientFactory(endpoint string) ClientFactory {
	return func(ctx context.Context, token *oauth2.Token) (CalendarAPI, error) {
		return calendar.NewClient(ctx, token, calendar.Options{Endpoint: endpoint})
	}
}

var _ CalendarAPI = (*calendar.Client)(nil)
