package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/calbridge/internal/tokenstore"
)

const testBaseURL = "https://bridge.example.com"

var testStateSecret = []byte("0123456789abcdef0123456789abcdef")

// fakeTokenEndpoint mimics Google's token endpoint.
type fakeTokenEndpoint struct {
	srv *httptest.Server

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32

	mu                  sync.Mutex
	refreshStatus       int
	refreshError        string
	refreshDelay        time.Duration
	rotateRefreshToken  string
	omitExchangeRefresh bool
}

func newFakeTokenEndpoint(t *testing.T) *fakeTokenEndpoint {
	t.Helper()
	f := &fakeTokenEndpoint{refreshStatus: http.StatusOK}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTokenEndpoint) endpoint() *oauth2.Endpoint {
	return &oauth2.Endpoint{
		AuthURL:   f.srv.URL + "/o/oauth2/auth",
		TokenURL:  f.srv.URL + "/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (f *fakeTokenEndpoint) setRefreshFailure(status int, code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshStatus = status
	f.refreshError = code
}

func (f *fakeTokenEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	status, code, delay := f.refreshStatus, f.refreshError, f.refreshDelay
	rotate, omitRefresh := f.rotateRefreshToken, f.omitExchangeRefresh
	f.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.exchangeCalls.Add(1)
		if r.PostForm.Get("code") != "good-code" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Malformed auth code."})
			return
		}
		body := map[string]any{
			"access_token": "ya29.exchanged",
			"expires_in":   3599,
			"token_type":   "Bearer",
			"scope":        CalendarScope,
		}
		if !omitRefresh {
			body["refresh_token"] = "1//granted"
		}
		writeJSON(w, http.StatusOK, body)

	case "refresh_token":
		n := f.refreshCalls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		if status != http.StatusOK {
			writeJSON(w, status, map[string]any{"error": code})
			return
		}
		body := map[string]any{
			"access_token": fmt.Sprintf("ya29.refreshed-%d", n),
			"expires_in":   3599,
			"token_type":   "Bearer",
		}
		if rotate != "" {
			body["refresh_token"] = rotate
		}
		writeJSON(w, http.StatusOK, body)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type countingRecorder struct {
	mu      sync.Mutex
	auth    map[string]int
	refresh map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{auth: map[string]int{}, refresh: map[string]int{}}
}

func (c *countingRecorder) RecordOAuthAuth(_ context.Context, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth[result]++
}

func (c *countingRecorder) RecordOAuthTokenRefresh(_ context.Context, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh[result]++
}

func (c *countingRecorder) refreshCount(result string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh[result]
}

func newTestFlowManager(t *testing.T, f *fakeTokenEndpoint, store tokenstore.Store, recorder Recorder) *FlowManager {
	t.Helper()
	m, err := NewFlowManager(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		BaseURL:      testBaseURL,
		StateSecret:  testStateSecret,
		Endpoint:     f.endpoint(),
		HTTPClient:   f.srv.Client(),
		Timeout:      2 * time.Second,
		Recorder:     recorder,
	}, store)
	require.NoError(t, err)
	return m
}
