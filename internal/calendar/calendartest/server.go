// Package calendartest provides an in-memory fake of the Google Calendar v3
// API for tests.
package calendartest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	calendar "google.golang.org/api/calendar/v3"
)

// Server is a fake Calendar API. Requests must carry a bearer token from
// the accepted set or they get a 401.
type Server struct {
	srv *httptest.Server

	Requests atomic.Int32

	mu        sync.Mutex
	accepted  map[string]bool
	events    map[string][]*calendar.Event
	calendars []*calendar.CalendarListEntry
	forced    int
	lastQuery url.Values
	nextID    int
}

// NewServer starts a fake accepting the given access tokens. It is closed
// when the test ends.
func NewServer(t interface{ Cleanup(func()) }, acceptedTokens ...string) *Server {
	s := &Server{
		accepted: map[string]bool{},
		events:   map[string][]*calendar.Event{},
		calendars: []*calendar.CalendarListEntry{
			{Id: "primary-id@example.com", Summary: "Primary", Primary: true, AccessRole: "owner", TimeZone: "UTC"},
		},
	}
	for _, tok := range acceptedTokens {
		s.accepted[tok] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendar/v3/calendars/{cal}/events", s.listEvents)
	mux.HandleFunc("POST /calendar/v3/calendars/{cal}/events", s.insertEvent)
	mux.HandleFunc("GET /calendar/v3/calendars/{cal}/events/{id}", s.getEvent)
	mux.HandleFunc("PATCH /calendar/v3/calendars/{cal}/events/{id}", s.patchEvent)
	mux.HandleFunc("DELETE /calendar/v3/calendars/{cal}/events/{id}", s.deleteEvent)
	mux.HandleFunc("GET /calendar/v3/users/me/calendarList", s.listCalendars)

	s.srv = httptest.NewServer(s.middleware(mux))
	t.Cleanup(s.srv.Close)
	return s
}

// Endpoint is the value for option.WithEndpoint.
func (s *Server) Endpoint() string {
	return s.srv.URL + "/calendar/v3/"
}

// Accept adds an access token to the accepted set.
func (s *Server) Accept(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted[token] = true
}

// Revoke removes an access token from the accepted set.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accepted, token)
}

// FailWith makes every request fail with status until reset with 0.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced = status
}

// AddEvent seeds an event into calendarID.
func (s *Server) AddEvent(calendarID string, event *calendar.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[calendarID] = append(s.events[calendarID], event)
}

// Events returns the events stored in calendarID.
func (s *Server) Events(calendarID string) []*calendar.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*calendar.Event(nil), s.events[calendarID]...)
}

// LastListQuery returns the query of the most recent events list call.
func (s *Server) LastListQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Requests.Add(1)
		s.mu.Lock()
		forced := s.forced
		ok := s.accepted[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
		s.mu.Unlock()

		if forced != 0 {
			writeError(w, forced, "forced failure")
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid Credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.lastQuery = r.URL.Query()
	items := append([]*calendar.Event(nil), s.events[r.PathValue("cal")]...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, &calendar.Events{Items: items})
}

func (s *Server) insertEvent(w http.ResponseWriter, r *http.Request) {
	var event calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	s.nextID++
	event.Id = fmt.Sprintf("evt%d", s.nextID)
	event.HtmlLink = "https://www.google.com/calendar/event?eid=" + event.Id
	event.Status = "confirmed"
	cal := r.PathValue("cal")
	s.events[cal] = append(s.events[cal], &event)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, &event)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	event := s.find(r.PathValue("cal"), r.PathValue("id"))
	s.mu.Unlock()
	if event == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) patchEvent(w http.ResponseWriter, r *http.Request) {
	var patch calendar.Event
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event := s.find(r.PathValue("cal"), r.PathValue("id"))
	if event == nil {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if patch.Summary != "" {
		event.Summary = patch.Summary
	}
	if patch.Description != "" {
		event.Description = patch.Description
	}
	if patch.Location != "" {
		event.Location = patch.Location
	}
	if patch.Start != nil {
		event.Start = patch.Start
	}
	if patch.End != nil {
		event.End = patch.End
	}
	if len(patch.Attendees) > 0 {
		event.Attendees = patch.Attendees
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, id := r.PathValue("cal"), r.PathValue("id")
	for i, e := range s.events[cal] {
		if e.Id == id {
			s.events[cal] = append(s.events[cal][:i], s.events[cal][i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Not Found")
}

func (s *Server) listCalendars(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	items := append([]*calendar.CalendarListEntry(nil), s.calendars...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, &calendar.CalendarList{Items: items})
}

func (s *Server) find(cal, id string) *calendar.Event {
	for _, e := range s.events[cal] {
		if e.Id == id {
			return e
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": status, "message": message},
	})
}
