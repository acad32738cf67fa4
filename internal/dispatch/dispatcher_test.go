package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/teemow/calbridge/internal/calendar"
	"github.com/teemow/calbridge/internal/calendar/calendartest"
	bridgeerrors "github.com/teemow/calbridge/internal/errors"
)

type fakeResolver struct {
	mu        sync.Mutex
	tokens    map[string]string
	refreshTo  string
	forceErr   error
	resolveErr error

	resolveCalls int
	forceCalls   int
	staleSeen    []string
}

func newFakeResolver(tokens map[string]string) *fakeResolver {
	return &fakeResolver{tokens: tokens}
}

func (f *fakeResolver) Resolve(_ context.Context, userID string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	tok, ok := f.tokens[userID]
	if !ok {
		return nil, bridgeerrors.Unauthenticated(userID, f.AuthURL(userID))
	}
	return &oauth2.Token{AccessToken: tok}, nil
}

func (f *fakeResolver) ForceRefresh(_ context.Context, userID, stale string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceCalls++
	f.staleSeen = append(f.staleSeen, stale)
	if f.forceErr != nil {
		return nil, f.forceErr
	}
	f.tokens[userID] = f.refreshTo
	return &oauth2.Token{AccessToken: f.refreshTo}, nil
}

func (f *fakeResolver) AuthURL(userID string) string {
	return "https://bridge.example.com/auth/google?user_id=" + url.QueryEscape(userID)
}

type recordedOp struct {
	service, operation, status string
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) RecordGoogleAPIOperation(_ context.Context, service, operation, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{service, operation, status})
}

func newTestDispatcher(t *testing.T, resolver TokenResolver, fake *calendartest.Server, mutate ...func(*Config)) *Dispatcher {
	t.Helper()
	cfg := Config{CalendarEndpoint: fake.Endpoint()}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(resolver, cfg)
}

func meta(userID string) map[string]any {
	return map[string]any{MetaUserID: userID}
}

func TestDispatch_MissingUserID(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
	}{
		{"nil meta", nil},
		{"no user_id", map[string]any{"other": "x"}},
		{"empty user_id", map[string]any{MetaUserID: "  "}},
		{"non-string user_id", map[string]any{MetaUserID: 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := calendartest.NewServer(t, "tok")
			resolver := newFakeResolver(map[string]string{"abc": "tok"})
			d := newTestDispatcher(t, resolver, fake)

			res := d.Dispatch(context.Background(), "calendar_list_events", nil, tt.meta)
			require.True(t, res.IsError())
			assert.Equal(t, bridgeerrors.KindMissingUserID, res.Err.Kind)
			assert.Zero(t, resolver.resolveCalls)
			assert.Zero(t, fake.Requests.Load())
		})
	}
}

func TestDispatch_UnknownTool(t *testing.T) {
	fake := calendartest.NewServer(t, "tok")
	d := newTestDispatcher(t, newFakeResolver(map[string]string{"abc": "tok"}), fake)

	res := d.Dispatch(context.Background(), "calendar_send_invite", nil, meta("abc"))
	require.True(t, res.IsError())
	assert.Equal(t, bridgeerrors.KindUnknownTool, res.Err.Kind)
	assert.Zero(t, fake.Requests.Load())
}

func TestDispatch_Aliases(t *testing.T) {
	for _, name := range []string{"calendar_list_events", "list_events", "calendar.list_events"} {
		t.Run(name, func(t *testing.T) {
			fake := calendartest.NewServer(t, "tok")
			d := newTestDispatcher(t, newFakeResolver(map[string]string{"abc": "tok"}), fake)

			res := d.Dispatch(context.Background(), name, nil, meta("abc"))
			require.False(t, res.IsError(), "%+v", res.Err)
			assert.Equal(t, "calendar_list_events", res.Tool)
			list, ok := res.Value.(*EventList)
			require.True(t, ok)
			assert.Zero(t, list.Count)
		})
	}
}

func TestDispatch_Unauthenticated(t *testing.T) {
	fake := calendartest.NewServer(t, "tok")
	d := newTestDispatcher(t, newFakeResolver(map[string]string{}), fake)

	res := d.Dispatch(context.Background(), "calendar_list_events", nil, meta("abc"))
	require.True(t, res.IsError())
	assert.Equal(t, bridgeerrors.KindUnauthenticated, res.Err.Kind)
	assert.Contains(t, res.Err.AuthURL, "user_id=abc")
	assert.Contains(t, res.Err.Message, "abc")
	assert.False(t, res.Err.Retryable)
	assert.Zero(t, fake.Requests.Load())
}

func TestDispatch_ReadOnly(t *testing.T) {
	fake := calendartest.NewServer(t, "tok")
	d := newTestDispatcher(t, newFakeResolver(map[string]string{"abc": "tok"}), fake, func(c *Config) {
		c.ReadOnly = true
	})

	for _, name := range []string{"calendar_create_event", "calendar_update_event", "calendar_delete_event"} {
		res := d.Dispatch(context.Background(), name, map[string]any{"event_id": "e1"}, meta("abc"))
		require.True(t, res.IsError(), name)
		assert.Equal(t, bridgeerrors.KindReadOnly, res.Err.Kind, name)
	}
	assert.Zero(t, fake.Requests.Load())

	res := d.Dispatch(context.Background(), "calendar_list_calendars", nil, meta("abc"))
	assert.False(t, res.IsError())

	for _, tool := range d.Tools() {
		assert.False(t, tool.Write, tool.Name)
	}
	assert.True(t, d.ReadOnly())
}

func TestDispatch_InvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		tool   string
		params map[string]any
	}{
		{"create without summary", "calendar_create_event", map[string]any{"start": "2026-01-10T10:00:00", "end": "2026-01-10T11:00:00"}},
		{"create without end", "calendar_create_event", map[string]any{"summary": "x", "start": "2026-01-10T10:00:00"}},
		{"create with bad start", "calendar_create_event", map[string]any{"summary": "x", "start": "tomorrow", "end": "2026-01-10T11:00:00"}},
		{"create end before start", "calendar_create_event", map[string]any{"summary": "x", "start": "2026-01-10T10:00:00", "end": "2026-01-10T09:00:00"}},
		{"create bad time zone", "calendar_create_event", map[string]any{"summary": "x", "start": "2026-01-10T10:00:00", "end": "2026-01-10T11:00:00", "time_zone": "Mars/Olympus"}},
		{"summary not a string", "calendar_create_event", map[string]any{"summary": 5, "start": "2026-01-10T10:00:00", "end": "2026-01-10T11:00:00"}},
		{"get without event_id", "calendar_get_event", map[string]any{}},
		{"delete without event_id", "calendar_delete_event", nil},
		{"update without fields", "calendar_update_event", map[string]any{"event_id": "e1"}},
		{"max_results zero", "calendar_list_events", map[string]any{"max_results": float64(0)}},
		{"max_results fractional", "calendar_list_events", map[string]any{"max_results": 2.5}},
		{"time_max before time_min", "calendar_list_events", map[string]any{"time_min": "2026-01-02", "time_max": "2026-01-01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := calendartest.NewServer(t, "tok")
			resolver := newFakeResolver(map[string]string{"abc": "tok"})
			d := newTestDispatcher(t, resolver, fake)

			res := d.Dispatch(context.Background(), tt.tool, tt.params, meta("abc"))
			require.True(t, res.IsError())
			assert.Equal(t, bridgeerrors.KindInvalidArguments, res.Err.Kind)
			assert.Zero(t, resolver.resolveCalls)
			assert.Zero(t, fake.Requests.Load())
		})
	}
}

func TestDispatch_EventLifecycle(t *testing.T) {
	ctx := context.Background()
	fake := calendartest.NewServer(t, "tok")
	rec := &fakeRecorder{}
	d := newTestDispatcher(t, newFakeResolver(map[string]string{"abc": "tok"}), fake, func(c *Config) {
		c.Recorder = rec
	})

	res := d.Dispatch(ctx, "create_event", map[string]any{
		"summary":   "Test",
		"start":     "2026-01-10T10:00:00",
		"end":       "2026-01-10T11:00:00",
		"attendees": "a@example.com, b@example.com",
	}, meta("abc"))
	require.False(t, res.IsError(), "%+v", res.Err)
	created, ok := res.Value.(*calendar.EventSummary)
	require.True(t, ok)
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.HTMLLink)
	assert.Len(t, created.Attendees, 2)

	stored := fake.Events("primary")
	require.Len(t, stored, 1)
	assert.Equal(t, "2026-01-10T10:00:00Z", stored[0].Start.DateTime)

	res = d.Dispatch(ctx, "calendar_update_event", map[string]any{"eventId": created.ID, "location": "Room 1"}, meta("abc"))
	require.False(t, res.IsError(), "%+v", res.Err)
	assert.Equal(t, "Room 1", res.Value.(*calendar.EventSummary).Location)

	res = d.Dispatch(ctx, "calendar_get_event", map[string]any{"event_id": created.ID}, meta("abc"))
	require.False(t, res.IsError(), "%+v", res.Err)
	assert.Equal(t, "Test", res.Value.(*calendar.EventSummary).Summary)

	res = d.Dispatch(ctx, "calendar_delete_event", map[string]any{"event_id": created.ID}, meta("abc"))
	require.False(t, res.IsError(), "%+v", res.Err)
	assert.Equal(t, &DeleteResult{Deleted: true, CalendarID: "primary", EventID: created.ID}, res.Value)
	assert.Empty(t, fake.Events("primary"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.ops, 4)
	assert.Equal(t, recordedOp{"calendar", OpCreateEvent, "success"}, rec.ops[0])
	assert.Equal(t, recordedOp{"calendar", OpDeleteEvent, "success"}, rec.ops[3])
}

func TestDispatch_ListEventsArguments(t *testing.T) {
	fake := calendartest.NewServer(t, "tok")
	fake.AddEvent("primary", &gcal.Event{
		Id:      "e1",
		Summary: "Standup",
		Start:   &gcal.EventDateTime{DateTime: "2026-10-19T09:00:00Z"},
		End:     &gcal.EventDateTime{DateTime: "2026-10-19T09:15:00Z"},
	})
	d := newTestDispatcher(t, newFakeResolver(map[string]string{"abc": "tok"}), fake)

	res := d.Dispatch(context.Background(), "calendar_list_events", map[string]any{
		"max_results": float64(3),
		"time_min":    "2026-10-19T00:00:00",
		"time_zone":   "Europe/Berlin",
		"query":       "standup",
	}, meta("abc"))
	require.False(t, res.IsError(), "%+v", res.Err)
	list := res.Value.(*EventList)
	assert.Equal(t, 1, list.Count)

	q := fake.LastListQuery()
	assert.Equal(t, "3", q.Get("maxResults"))
	assert.Equal(t, "2026-10-19T00:00:00+02:00", q.Get("timeMin"))
	assert.Equal(t, "standup", q.Get("q"))
}

func TestDispatch_RetriesOnceAfterUnauthorized(t *testing.T) {
	fake := calendartest.NewServer(t, "fresh")
	resolver := newFakeResolver(map[string]string{"abc": "stale"})
	resolver.refreshTo = "fresh"
	d := newTestDispatcher(t, resolver, fake)

	res := d.Dispatch(context.Background(), "calendar_list_calendars", nil, meta("abc"))
	require.False(t, res.IsError(), "%+v", res.Err)
	assert.Equal(t, 1, resolver.forceCalls)
	assert.Equal(t, []string{"stale"}, resolver.staleSeen)
	assert.EqualValues(t, 2, fake.Requests.Load())
}

func TestDispatch_UnauthorizedAfterRefresh(t *testing.T) {
	fake := calendartest.NewServer(t)
	resolver := newFakeResolver(map[string]string{"abc": "stale"})
	resolver.refreshTo = "still-bad"
	d := newTestDispatcher(t, resolver, fake)

	res := d.Dispatch(context.Background(), "calendar_list_calendars", nil, meta("abc"))
	require.True(t, res.IsError())
	assert.Equal(t, bridgeerrors.KindUpstreamError, res.Err.Kind)
	assert.Equal(t, 1, resolver.forceCalls)
	assert.EqualValues(t, 2, fake.Requests.Load())
}

func TestDispatch_ForceRefreshFailure(t *testing.T) {
	fake := calendartest.NewServer(t)
	resolver := newFakeResolver(map[string]string{"abc": "stale"})
	resolver.forceErr = bridgeerrors.Unauthenticated("abc", resolver.AuthURL("abc"))
	d := newTestDispatcher(t, resolver, fake)

	res := d.Dispatch(context.Background(), "calendar_list_events", nil, meta("abc"))
	require.True(t, res.IsError())
	assert.Equal(t, bridgeerrors.KindUnauthenticated, res.Err.Kind)
	assert.NotEmpty(t, res.Err.AuthURL)
	assert.EqualValues(t, 1, fake.Requests.Load())
}

func TestDispatch_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		kind      bridgeerrors.Kind
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, bridgeerrors.KindUpstreamUnavailable, true},
		{"bad gateway", http.StatusBadGateway, bridgeerrors.KindUpstreamUnavailable, true},
		{"rate limited", http.StatusTooManyRequests, bridgeerrors.KindUpstreamUnavailable, true},
		{"forbidden", http.StatusForbidden, bridgeerrors.KindUpstreamError, false},
		{"not found", http.StatusNotFound, bridgeerrors.KindUpstreamError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := calendartest.NewServer(t, "tok")
			fake.FailWith(tt.status)
			resolver := newFakeResolver(map[string]string{"abc": "tok"})
			rec := &fakeRecorder{}
			d := newTestDispatcher(t, resolver, fake, func(c *Config) { c.Recorder = rec })

			res := d.Dispatch(context.Background(), "calendar_list_events", nil, meta("abc"))
			require.True(t, res.IsError())
			assert.Equal(t, tt.kind, res.Err.Kind)
			assert.Equal(t, tt.retryable, res.Err.Retryable)
			assert.Zero(t, resolver.forceCalls)
			require.Len(t, rec.ops, 1)
			assert.Equal(t, "error", rec.ops[0].status)
		})
	}
}

type blockingAPI struct {
	CalendarAPI
}

func (blockingAPI) ListCalendars(ctx context.Context) ([]calendar.CalendarInfo, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDispatch_UpstreamTimeout(t *testing.T) {
	resolver := newFakeResolver(map[string]string{"abc": "tok"})
	d := New(resolver, Config{
		UpstreamTimeout: 20 * time.Millisecond,
		NewClient: func(context.Context, *oauth2.Token) (CalendarAPI, error) {
			return blockingAPI{}, nil
		},
	})

	start := time.Now()
	res := d.Dispatch(context.Background(), "calendar_list_calendars", nil, meta("abc"))
	require.True(t, res.IsError())
	assert.Equal(t, bridgeerrors.KindUpstreamUnavailable, res.Err.Kind)
	assert.True(t, res.Err.Retryable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

type tokenCapturingAPI struct {
	CalendarAPI
	token string
}

func (a tokenCapturingAPI) ListCalendars(context.Context) ([]calendar.CalendarInfo, error) {
	return []calendar.CalendarInfo{{ID: a.token}}, nil
}

func TestDispatch_UsesCallersToken(t *testing.T) {
	resolver := newFakeResolver(map[string]string{"alice": "tok-a", "bob": "tok-b"})
	d := New(resolver, Config{
		NewClient: func(_ context.Context, token *oauth2.Token) (CalendarAPI, error) {
			return tokenCapturingAPI{token: token.AccessToken}, nil
		},
	})

	var wg sync.WaitGroup
	results := make([]*Result, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "alice"
			if i%2 == 1 {
				user = "bob"
			}
			results[i] = d.Dispatch(context.Background(), "list_calendars", nil, meta(user))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		require.False(t, res.IsError())
		want := "tok-a"
		if i%2 == 1 {
			want = "tok-b"
		}
		assert.Equal(t, want, res.Value.(*CalendarList).Calendars[0].ID)
	}
}

func TestDispatch_InternalErrorsHideCause(t *testing.T) {
	storeErr := bridgeerrors.Internal(errors.New("token_store.get.sqlite: open /var/lib/calbridge/tokens.db: permission denied"))

	tests := []struct {
		name     string
		resolver *fakeResolver
		factory  func(context.Context, *oauth2.Token) (CalendarAPI, error)
		cause    string
	}{
		{
			name:     "client factory",
			resolver: newFakeResolver(map[string]string{"abc": "tok"}),
			factory: func(context.Context, *oauth2.Token) (CalendarAPI, error) {
				return nil, assert.AnError
			},
			cause: assert.AnError.Error(),
		},
		{
			name:     "token store",
			resolver: &fakeResolver{tokens: map[string]string{}, resolveErr: storeErr},
			cause:    "/var/lib/calbridge/tokens.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			d := New(tt.resolver, Config{
				NewClient: tt.factory,
				Logger:    slog.New(slog.NewTextHandler(&logs, nil)),
			})

			res := d.Dispatch(context.Background(), "list_calendars", nil, meta("abc"))
			require.True(t, res.IsError())
			assert.Equal(t, bridgeerrors.KindInternal, res.Err.Kind)
			assert.Equal(t, "internal error", res.Err.Message)
			assert.False(t, res.Err.Retryable)
			assert.NotContains(t, res.Err.Message, tt.cause)

			assert.Contains(t, logs.String(), "level=ERROR")
			assert.Contains(t, logs.String(), tt.cause, "the cause is kept for operators")
		})
	}
}
