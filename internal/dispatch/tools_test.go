package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"calendar_list_events", "calendar_list_events"},
		{"list_events", "calendar_list_events"},
		{"calendar.create_event", "calendar_create_event"},
		{" get_event ", "calendar_get_event"},
		{"calendar_", ""},
		{"gmail_list_emails", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalName(tt.name))
		})
	}
}

func TestTools(t *testing.T) {
	all := Tools(false)
	assert.Len(t, all, 6)

	readOnly := Tools(true)
	names := make([]string, 0, len(readOnly))
	for _, tool := range readOnly {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"calendar_list_events", "calendar_get_event", "calendar_list_calendars"}, names)

	for _, tool := range all {
		for _, p := range tool.Params {
			assert.NotEmpty(t, p.Description, "%s.%s", tool.Name, p.Name)
		}
	}
}
