package cmd

import (
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calbridge/internal/tokenstore"
)

// clearEnv blanks every variable the serve command reads so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET", "MCP_BASE_URL", "BASE_URL",
		"OAUTH_ENCRYPTION_KEY", "VALKEY_URL", "VALKEY_PASSWORD",
		"CALBRIDGE_TRANSPORT", "CALBRIDGE_HTTP_ADDR", "CALBRIDGE_READ_ONLY",
		"CALBRIDGE_GOOGLE_CLIENT_ID", "CALBRIDGE_GOOGLE_CLIENT_SECRET", "CALBRIDGE_BASE_URL",
		"CALBRIDGE_STATE_SECRET", "CALBRIDGE_TOKEN_STORE", "CALBRIDGE_DATABASE_URL",
		"CALBRIDGE_ENCRYPTION_KEY", "CALBRIDGE_UPSTREAM_TIMEOUT", "CALBRIDGE_LOG_FORMAT",
	} {
		t.Setenv(name, "")
	}
}

func parseServeConfig(t *testing.T, args ...string) (serveConfig, error) {
	t.Helper()
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	addServeFlags(fs)
	require.NoError(t, fs.Parse(args))
	v, err := newConfig(fs)
	require.NoError(t, err)
	return loadServeConfig(v)
}

var clientFlags = []string{"--google-client-id", "id", "--google-client-secret", "secret"}

func TestLoadServeConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := parseServeConfig(t, clientFlags...)
	require.NoError(t, err)

	assert.Equal(t, transportStdio, cfg.Transport)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "http://localhost:8080", cfg.OAuth.BaseURL)
	assert.True(t, cfg.OAuth.EphemeralState)
	assert.Len(t, cfg.OAuth.StateSecret, 32)
	assert.Equal(t, 15*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, tokenstore.TypeSQL, cfg.Store.Type)
	assert.True(t, strings.HasPrefix(cfg.Store.DatabaseURL, "sqlite://"))
	assert.True(t, strings.HasSuffix(cfg.Store.DatabaseURL, filepath.Join("calbridge", "tokens.db")))
	assert.False(t, cfg.ReadOnly)
	assert.Nil(t, cfg.Store.EncryptionKey)
}

func TestLoadServeConfig_Environment(t *testing.T) {
	clearEnv(t)
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	t.Setenv("GOOGLE_CLIENT_ID", "legacy-id")
	t.Setenv("GOOGLE_CLIENT_SECRET", "legacy-secret")
	t.Setenv("MCP_BASE_URL", "https://calendar.example.com/")
	t.Setenv("CALBRIDGE_TRANSPORT", "streamable-http")
	t.Setenv("CALBRIDGE_READ_ONLY", "true")
	t.Setenv("CALBRIDGE_UPSTREAM_TIMEOUT", "5s")
	t.Setenv("CALBRIDGE_STATE_SECRET", "0123456789abcdef0123")
	t.Setenv("CALBRIDGE_ENCRYPTION_KEY", key)

	cfg, err := parseServeConfig(t)
	require.NoError(t, err)

	assert.Equal(t, "legacy-id", cfg.OAuth.ClientID)
	assert.Equal(t, "legacy-secret", cfg.OAuth.ClientSecret)
	assert.Equal(t, "https://calendar.example.com", cfg.OAuth.BaseURL)
	assert.Equal(t, transportStreamableHTTP, cfg.Transport)
	assert.True(t, cfg.ReadOnly)
	assert.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	assert.False(t, cfg.OAuth.EphemeralState)
	assert.Equal(t, []byte("0123456789abcdef0123"), cfg.OAuth.StateSecret)
	assert.Len(t, cfg.Store.EncryptionKey, 32)
}

func TestLoadServeConfig_FlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_CLIENT_ID", "from-env")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("CALBRIDGE_HTTP_ADDR", "127.0.0.1:9000")

	cfg, err := parseServeConfig(t, "--google-client-id", "from-flag")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.OAuth.ClientID)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.OAuth.BaseURL)
}

func TestLoadServeConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing client", nil, configCodeMissingGoogleClient},
		{"bad transport", append([]string{"--transport", "sse"}, clientFlags...), configCodeInvalidTransport},
		{"bad log format", append([]string{"--log-format", "xml"}, clientFlags...), configCodeInvalidLogFormat},
		{"bad timeout", append([]string{"--upstream-timeout", "0s"}, clientFlags...), configCodeInvalidTimeout},
		{"bad rate limit", append([]string{"--rate-limit", "-1"}, clientFlags...), configCodeInvalidRateLimit},
		{"short state secret", append([]string{"--state-secret", "short"}, clientFlags...), configCodeInvalidStateSecret},
		{"bad encryption key", append([]string{"--encryption-key", "not-base64!"}, clientFlags...), configCodeInvalidEncryptionKey},
		{"public base url without state secret", append([]string{"--base-url", "https://cal.example.com"}, clientFlags...), configCodeMissingStateSecret},
		{"public listen address without state secret", append([]string{"--http-addr", "10.0.0.5:8080"}, clientFlags...), configCodeMissingStateSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := parseServeConfig(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLocalBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "http://localhost:8080"},
		{"0.0.0.0:9000", "http://localhost:9000"},
		{"127.0.0.1:8081", "http://127.0.0.1:8081"},
		{"[::1]:8082", "http://[::1]:8082"},
		{"garbage", "http://localhost:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, localBaseURL(tt.addr))
		})
	}
}

func TestStoreConfigPrepare(t *testing.T) {
	dir := t.TempDir()

	sqlite := storeConfig{Type: tokenstore.TypeSQL, DatabaseURL: tokenstore.SQLiteURL(filepath.Join(dir, "a", "b", "tokens.db"))}
	require.NoError(t, sqlite.prepare())
	assert.DirExists(t, filepath.Join(dir, "a", "b"))

	badger := storeConfig{Type: tokenstore.TypeBadger, BadgerDir: filepath.Join(dir, "badger")}
	require.NoError(t, badger.prepare())
	assert.DirExists(t, filepath.Join(dir, "badger"))

	postgres := storeConfig{Type: tokenstore.TypeSQL, DatabaseURL: "postgres://localhost/calbridge"}
	assert.NoError(t, postgres.prepare())
}
