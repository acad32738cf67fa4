package calendar

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	// PrimaryCalendarID addresses the user's primary calendar.
	PrimaryCalendarID = "primary"
	// DefaultMaxResults caps list_events when the caller gives no limit.
	DefaultMaxResults = 10

	dateLayout = "2006-01-02"
)

// Force HTTP/1.1 by disabling HTTP/2; shared so connections are reused
// across per-request clients.
var baseTransport http.RoundTripper = func() http.RoundTripper {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ForceAttemptHTTP2 = false
	return t
}()

// Client wraps the Google Calendar service for one user's access token.
type Client struct {
	svc *calendar.Service
}

// Options configures NewClient.
type Options struct {
	// Endpoint overrides the Calendar API base URL (tests).
	Endpoint string
	// Transport overrides the base HTTP transport.
	Transport http.RoundTripper
}

// NewClient creates a Calendar client authorized with token. The client is
// meant to live for one dispatch; token is never refreshed by it.
func NewClient(ctx context.Context, token *oauth2.Token, opts Options) (*Client, error) {
	if token == nil || token.AccessToken == "" {
		return nil, fmt.Errorf("access token cannot be empty")
	}

	transport := opts.Transport
	if transport == nil {
		transport = baseTransport
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(token),
			Base:   transport,
		},
	}

	clientOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	svc, err := calendar.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ListEvents lists upcoming single events ordered by start time.
func (c *Client) ListEvents(ctx context.Context, input ListEventsInput) ([]EventSummary, error) {
	calendarID := input.CalendarID
	if calendarID == "" {
		calendarID = PrimaryCalendarID
	}
	maxResults := input.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	timeMin := input.TimeMin
	if timeMin.IsZero() {
		timeMin = time.Now()
	}

	call := c.svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		MaxResults(maxResults).
		SingleEvents(true).
		OrderBy("startTime")
	if !input.TimeMax.IsZero() {
		call = call.TimeMax(input.TimeMax.Format(time.RFC3339))
	}
	if input.Query != "" {
		call = call.Q(input.Query)
	}

	events, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	summaries := make([]EventSummary, 0, len(events.Items))
	for _, event := range events.Items {
		summaries = append(summaries, toEventSummary(event))
	}
	return summaries, nil
}

// GetEvent retrieves a specific event by ID
func (c *Client) GetEvent(ctx context.Context, calendarID, eventID string) (*EventSummary, error) {
	event, err := c.svc.Events.Get(calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	summary := toEventSummary(event)
	return &summary, nil
}

// CreateEvent creates a new calendar event
func (c *Client) CreateEvent(ctx context.Context, calendarID string, input EventInput) (*EventSummary, error) {
	event := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Start:       toEventDateTime(input.Start, input.AllDay, input.TimeZone),
		End:         toEventDateTime(input.End, input.AllDay, input.TimeZone),
		Recurrence:  input.Recurrence,
	}
	if len(input.Attendees) > 0 {
		event.Attendees = toAttendees(input.Attendees)
	}

	call := c.svc.Events.Insert(calendarID, event)
	if input.UseDefaultConferenceData {
		call = call.ConferenceDataVersion(1)
		event.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId: ulid.Make().String(),
			},
		}
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	summary := toEventSummary(created)
	return &summary, nil
}

// UpdateEvent patches an existing event. Zero-valued fields of input are
// left untouched.
func (c *Client) UpdateEvent(ctx context.Context, calendarID, eventID string, input EventInput) (*EventSummary, error) {
	patch := &calendar.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Recurrence:  input.Recurrence,
	}
	if !input.Start.IsZero() {
		patch.Start = toEventDateTime(input.Start, input.AllDay, input.TimeZone)
	}
	if !input.End.IsZero() {
		patch.End = toEventDateTime(input.End, input.AllDay, input.TimeZone)
	}
	if len(input.Attendees) > 0 {
		patch.Attendees = toAttendees(input.Attendees)
	}

	updated, err := c.svc.Events.Patch(calendarID, eventID, patch).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	summary := toEventSummary(updated)
	return &summary, nil
}

// DeleteEvent deletes a calendar event
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := c.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// ListCalendars lists all calendars accessible to the user
func (c *Client) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	list, err := c.svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	calendars := make([]CalendarInfo, 0, len(list.Items))
	for _, entry := range list.Items {
		calendars = append(calendars, toCalendarInfo(entry))
	}
	return calendars, nil
}
