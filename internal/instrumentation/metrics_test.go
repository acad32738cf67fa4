package instrumentation

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

// counterPoints returns the data points of the named Int64 counter.
func counterPoints(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s is not an int64 sum", name)
			}
			return sum.DataPoints
		}
	}
	return nil
}

func attrValue(set attribute.Set, key string) string {
	v, ok := set.Value(attribute.Key(key))
	if !ok {
		return ""
	}
	return v.AsString()
}

func TestMetrics_RecordTokenStoreOperation(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordTokenStoreOperation(ctx, "sqlite", "get", "success")
	m.RecordTokenStoreOperation(ctx, "sqlite", "get", "success")
	m.RecordTokenStoreOperation(ctx, "sqlite", "get", "not_found")

	points := counterPoints(t, reader, "token_store_operations_total")
	if len(points) != 2 {
		t.Fatalf("expected 2 series, got %d", len(points))
	}
	for _, p := range points {
		if attrValue(p.Attributes, attrBackend) != "sqlite" {
			t.Errorf("unexpected backend label %q", attrValue(p.Attributes, attrBackend))
		}
		switch attrValue(p.Attributes, attrStatus) {
		case "success":
			if p.Value != 2 {
				t.Errorf("expected 2 successes, got %d", p.Value)
			}
		case "not_found":
			if p.Value != 1 {
				t.Errorf("expected 1 not_found, got %d", p.Value)
			}
		default:
			t.Errorf("unexpected status %q", attrValue(p.Attributes, attrStatus))
		}
	}
}

func TestMetrics_RecordToolInvocation(t *testing.T) {
	tests := []struct {
		name      string
		detailed  bool
		errorKind string
		wantKind  string
		wantUser  bool
	}{
		{"success", false, "", LabelNone, false},
		{"failure", false, "unauthenticated", "unauthenticated", false},
		{"detailed labels", true, "", LabelNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader := newTestMetrics(t, tt.detailed)
			m.RecordToolInvocation(context.Background(), "calendar_list_events", StatusSuccess, tt.errorKind, "alice", 10*time.Millisecond)

			points := counterPoints(t, reader, "mcp_tool_invocations_total")
			if len(points) != 1 {
				t.Fatalf("expected 1 series, got %d", len(points))
			}
			attrs := points[0].Attributes
			if got := attrValue(attrs, attrErrorKind); got != tt.wantKind {
				t.Errorf("error_kind = %q, want %q", got, tt.wantKind)
			}
			user := attrValue(attrs, attrUser)
			if tt.wantUser {
				if user == "" || user == "alice" {
					t.Errorf("expected hashed user label, got %q", user)
				}
			} else if user != "" {
				t.Errorf("expected no user label, got %q", user)
			}
		})
	}
}

func TestMetrics_UnknownToolLabel(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	m.RecordToolInvocation(context.Background(), "", StatusError, "unknown_tool", "", time.Millisecond)

	points := counterPoints(t, reader, "mcp_tool_invocations_total")
	if len(points) != 1 || attrValue(points[0].Attributes, attrTool) != LabelUnknown {
		t.Fatalf("expected tool label %q, got %+v", LabelUnknown, points)
	}
}

func TestMetrics_OAuthCounters(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordOAuthAuth(ctx, "success")
	m.RecordOAuthTokenRefresh(ctx, "invalid_grant")
	m.RecordOAuthTokenRefresh(ctx, "invalid_grant")

	auth := counterPoints(t, reader, "oauth_auth_total")
	if len(auth) != 1 || auth[0].Value != 1 {
		t.Errorf("unexpected oauth_auth_total: %+v", auth)
	}
	refresh := counterPoints(t, reader, "oauth_token_refresh_total")
	if len(refresh) != 1 || refresh[0].Value != 2 || attrValue(refresh[0].Attributes, attrResult) != "invalid_grant" {
		t.Errorf("unexpected oauth_token_refresh_total: %+v", refresh)
	}
}

func TestMetrics_HTTPAndUpstream(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "POST", "/mcp", 200, 5*time.Millisecond)
	m.RecordGoogleAPIOperation(ctx, ServiceCalendar, "list_events", StatusError, 30*time.Millisecond)

	if got := counterPoints(t, reader, "http_requests_total"); len(got) != 1 || attrValue(got[0].Attributes, attrStatus) != "200" {
		t.Errorf("unexpected http_requests_total: %+v", got)
	}
	if got := counterPoints(t, reader, "google_api_operations_total"); len(got) != 1 || attrValue(got[0].Attributes, attrOperation) != "list_events" {
		t.Errorf("unexpected google_api_operations_total: %+v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()
	for _, m := range []*Metrics{nil, {}} {
		m.RecordHTTPRequest(ctx, "GET", "/", 200, time.Millisecond)
		m.RecordGoogleAPIOperation(ctx, ServiceCalendar, "get_event", StatusSuccess, time.Millisecond)
		m.RecordOAuthAuth(ctx, "success")
		m.RecordOAuthTokenRefresh(ctx, "success")
		m.RecordTokenStoreOperation(ctx, "memory", "put", "success")
		m.RecordToolInvocation(ctx, "calendar_get_event", StatusSuccess, "", "u", time.Millisecond)
		m.IncrementActiveSessions(ctx)
		m.DecrementActiveSessions(ctx)
	}
}
