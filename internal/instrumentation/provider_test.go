package instrumentation

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if provider.Enabled() {
		t.Error("expected provider to be disabled")
	}
	if provider.Metrics() == nil {
		t.Error("expected metrics to be non-nil even when disabled")
	}
	if provider.PrometheusHandler() != nil {
		t.Error("expected no prometheus handler when disabled")
	}
	if err := provider.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no error on shutdown, got %v", err)
	}
}

func TestNewProvider_PrometheusHandler(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = provider.Shutdown(ctx) }()

	provider.Metrics().RecordTokenStoreOperation(ctx, "sqlite", "get", "success")

	handler := provider.PrometheusHandler()
	if handler == nil {
		t.Fatal("expected prometheus handler")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "token_store_operations_total") {
		t.Errorf("expected token_store_operations_total in scrape output")
	}
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"bad metrics exporter", Config{Enabled: true, MetricsExporter: "statsd"}},
		{"bad tracing exporter", Config{Enabled: true, TracingExporter: "zipkin"}},
		{"otlp without endpoint", Config{Enabled: true, TracingExporter: ExporterOTLP}},
		{"sampling out of range", Config{Enabled: true, TraceSamplingRate: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(context.Background(), tt.config); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewProvider_StdoutExporters(t *testing.T) {
	ctx := context.Background()
	provider, err := NewProvider(ctx, Config{
		Enabled:           true,
		MetricsExporter:   ExporterStdout,
		TracingExporter:   ExporterStdout,
		TraceSamplingRate: 1,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if provider.PrometheusHandler() != nil {
		t.Error("expected no prometheus handler for stdout exporter")
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
