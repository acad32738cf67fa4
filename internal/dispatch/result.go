package dispatch

import (
	"github.com/teemow/calbridge/internal/calendar"
	bridgeerrors "github.com/teemow/calbridge/internal/errors"
)

// ToolError is the structured error returned to MCP callers.
type ToolError struct {
	Kind    bridgeerrors.Kind `json:"kind"`
	Message string            `json:"message"`
	// AuthURL is set when the user has to (re)authorize.
	AuthURL   string `json:"auth_url,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *ToolError) Error() string { return e.Message }

// Result is the outcome of one dispatch. Exactly one of Value and Err is set.
type Result struct {
	Tool  string     `json:"tool"`
	Value any        `json:"result,omitempty"`
	Err   *ToolError `json:"error,omitempty"`
}

// IsError reports whether the dispatch failed.
func (r *Result) IsError() bool { return r.Err != nil }

func success(tool string, value any) *Result {
	return &Result{Tool: tool, Value: value}
}

func failure(tool string, err error) *Result {
	e := bridgeerrors.As(err)
	return &Result{
		Tool: tool,
		Err: &ToolError{
			Kind:      e.Kind,
			Message:   publicMessage(e),
			AuthURL:   e.AuthURL,
			Retryable: e.Retryable(),
		},
	}
}

// publicMessage keeps the causes of internal errors (store drivers, file
// paths) out of tool results.
func publicMessage(e *bridgeerrors.Error) string {
	if e.Kind != bridgeerrors.KindInternal {
		return e.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return bridgeerrors.ErrInternal.Error()
}

// Operation results that are not plain event summaries.
type (
	EventList struct {
		Events []calendar.EventSummary `json:"events"`
		Count  int                     `json:"count"`
	}

	CalendarList struct {
		Calendars []calendar.CalendarInfo `json:"calendars"`
		Count     int                     `json:"count"`
	}

	DeleteResult struct {
		Deleted    bool   `json:"deleted"`
		CalendarID string `json:"calendar_id"`
		EventID    string `json:"event_id"`
	}
)
