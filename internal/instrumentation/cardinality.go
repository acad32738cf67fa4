package instrumentation

import (
	"github.com/teemow/calbridge/internal/logging"
)

// Label values used in place of unbounded inputs.
const (
	LabelUnknown = "unknown"
	LabelNone    = "none"
)

// ToolLabel bounds the tool label to canonical names. Callers may send any
// tool name; only known tools become their own series.
func ToolLabel(canonical string) string {
	if canonical == "" {
		return LabelUnknown
	}
	return canonical
}

// ErrorKindLabel returns kind, or "none" for successful calls.
func ErrorKindLabel(kind string) string {
	if kind == "" {
		return LabelNone
	}
	return kind
}

// UserLabel returns the hashed user id used when detailed labels are on.
func UserLabel(userID string) string {
	if userID == "" {
		return LabelUnknown
	}
	return logging.AnonymizeUserID(userID)
}
