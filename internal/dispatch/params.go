package dispatch

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	bridgeerrors "github.com/teemow/calbridge/internal/errors"
)

// maxListResults is the largest page the Calendar API returns.
const maxListResults = 2500

// camelCase spellings accepted alongside the documented names.
var paramAliases = map[string]string{
	"calendar_id":     "calendarId",
	"event_id":        "eventId",
	"max_results":     "maxResults",
	"time_min":        "timeMin",
	"time_max":        "timeMax",
	"time_zone":       "timeZone",
	"all_day":         "allDay",
	"add_google_meet": "addGoogleMeet",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

type arguments map[string]any

func (a arguments) raw(name string) (any, bool) {
	if v, ok := a[name]; ok && v != nil {
		return v, true
	}
	if alias, ok := paramAliases[name]; ok {
		if v, ok := a[alias]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (a arguments) str(name string) (string, error) {
	v, ok := a.raw(name)
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", bridgeerrors.InvalidArguments("%s must be a string", name)
	}
	return strings.TrimSpace(s), nil
}

func (a arguments) requiredStr(name string) (string, error) {
	s, err := a.str(name)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", bridgeerrors.InvalidArguments("%s is required", name)
	}
	return s, nil
}

// integer accepts JSON numbers and numeric strings. The second return
// reports whether the argument was present.
func (a arguments) integer(name string) (int64, bool, error) {
	v, ok := a.raw(name)
	if !ok {
		return 0, false, nil
	}
	invalid := bridgeerrors.InvalidArguments("%s must be an integer", name)
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, true, invalid
		}
		return int64(n), true, nil
	case int:
		return int64(n), true, nil
	case int64:
		return n, true, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, true, invalid
		}
		return i, true, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, true, invalid
		}
		return i, true, nil
	default:
		return 0, true, invalid
	}
}

func (a arguments) boolean(name string) (bool, error) {
	v, ok := a.raw(name)
	if !ok {
		return false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, bridgeerrors.InvalidArguments("%s must be a boolean", name)
		}
		return parsed, nil
	default:
		return false, bridgeerrors.InvalidArguments("%s must be a boolean", name)
	}
}

// list accepts a comma-separated string or an array of strings.
func (a arguments) list(name string) ([]string, error) {
	v, ok := a.raw(name)
	if !ok {
		return nil, nil
	}
	switch l := v.(type) {
	case string:
		return parseCommaSeparatedList(l), nil
	case []string:
		return compact(l), nil
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, bridgeerrors.InvalidArguments("%s must contain only strings", name)
			}
			out = append(out, s)
		}
		return compact(out), nil
	default:
		return nil, bridgeerrors.InvalidArguments("%s must be a string or an array of strings", name)
	}
}

func (a arguments) location() (*time.Location, string, error) {
	tz, err := a.str("time_zone")
	if err != nil {
		return nil, "", err
	}
	if tz == "" {
		return time.UTC, "", nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, "", bridgeerrors.InvalidArguments("time_zone %q is not a valid IANA time zone", tz)
	}
	return loc, tz, nil
}

// timestamp parses an optional ISO 8601 argument. Values without an offset
// are read in loc. dateOnly is set for plain YYYY-MM-DD values.
func (a arguments) timestamp(name string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	s, err := a.str(name)
	if err != nil || s == "" {
		return time.Time{}, false, err
	}
	return parseTimestamp(name, s, loc)
}

func parseTimestamp(name, value string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, false, nil
	}
	for _, layout := range timeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, false, nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, bridgeerrors.InvalidArguments("%s must be an ISO 8601 date or datetime, got %q", name, value)
}

// parseCommaSeparatedList splits a comma-separated string into a slice of
// trimmed non-empty strings.
func parseCommaSeparatedList(input string) []string {
	if input == "" {
		return nil
	}
	return compact(strings.Split(input, ","))
}

func compact(items []string) []string {
	var out []string
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
