package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWithHelpers(t *testing.T) {
	logger := slog.Default()
	if WithOperation(logger, "credential.resolve") == nil {
		t.Error("WithOperation returned nil")
	}
	if WithTool(logger, "calendar_list_events") == nil {
		t.Error("WithTool returned nil")
	}
	if WithUser(logger, "abc") == nil {
		t.Error("WithUser returned nil")
	}
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"operation", Operation("credential.refresh"), KeyOperation, "credential.refresh"},
		{"backend", Backend("sqlite"), KeyBackend, "sqlite"},
		{"tool", Tool("calendar_get_event"), KeyTool, "calendar_get_event"},
		{"status", Status(StatusSuccess), KeyStatus, "success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("test error"))
	if attr.Key != KeyError {
		t.Errorf("Err key = %q, want %q", attr.Key, KeyError)
	}
	if attr.Value.String() != "test error" {
		t.Errorf("Err value = %q, want %q", attr.Value.String(), "test error")
	}

	attr = Err(nil)
	if attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty string (empty group)", attr.Key)
	}
}

func TestAnonymizeUserID(t *testing.T) {
	tests := []struct {
		userID   string
		wantLen  int
		hasValue bool
	}{
		{"abc", 21, true}, // "user:" + 16 hex chars
		{"tenant-42/user 7", 21, true},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.userID, func(t *testing.T) {
			result := AnonymizeUserID(tt.userID)
			if !tt.hasValue {
				if result != "" {
					t.Errorf("AnonymizeUserID(%q) = %q, want empty string", tt.userID, result)
				}
				return
			}
			if len(result) != tt.wantLen {
				t.Errorf("AnonymizeUserID(%q) length = %d, want %d", tt.userID, len(result), tt.wantLen)
			}
			if !strings.HasPrefix(result, "user:") {
				t.Errorf("AnonymizeUserID(%q) should start with 'user:', got %q", tt.userID, result)
			}
			if strings.Contains(result, tt.userID) {
				t.Errorf("AnonymizeUserID(%q) leaks the raw id", tt.userID)
			}
		})
	}

	if AnonymizeUserID("abc") != AnonymizeUserID("abc") {
		t.Error("AnonymizeUserID should be deterministic")
	}
	if AnonymizeUserID("abc") == AnonymizeUserID("abd") {
		t.Error("different user ids should produce different hashes")
	}
}

func TestUserHash(t *testing.T) {
	attr := UserHash("abc")
	if attr.Key != KeyUserHash {
		t.Errorf("UserHash key = %q, want %q", attr.Key, KeyUserHash)
	}
	if len(attr.Value.String()) != 21 {
		t.Errorf("UserHash value length = %d, want 21", len(attr.Value.String()))
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "<empty>"},
		{"abc123", "[token:6 chars]"},
		{"ya29.a_very_long_token", "[token:22 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := SanitizeToken(tt.token)
			if result != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, result, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf, FormatJSON, false)
		logger.Info("hello", Status(StatusSuccess))

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
		}
		if entry["status"] != "success" {
			t.Errorf("status = %v, want success", entry["status"])
		}
	})

	t.Run("text drops debug unless enabled", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogger(&buf, FormatText, false).Debug("hidden")
		if buf.Len() != 0 {
			t.Errorf("debug message logged at info level: %q", buf.String())
		}

		NewLogger(&buf, "unknown", true).Debug("shown")
		if !strings.Contains(buf.String(), "shown") {
			t.Errorf("debug message missing: %q", buf.String())
		}
	})
}
