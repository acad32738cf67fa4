package cmd

import (
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/teemow/calbridge/internal/dispatch"
	"github.com/teemow/calbridge/internal/logging"
	"github.com/teemow/calbridge/internal/server"
	"github.com/teemow/calbridge/internal/tokenstore"
)

// envPrefix prefixes every flag when read from the environment, e.g.
// --http-addr is CALBRIDGE_HTTP_ADDR.
const envPrefix = "CALBRIDGE"

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

const (
	configCodeInvalidTransport     = "config.invalid_transport"
	configCodeInvalidLogFormat     = "config.invalid_log_format"
	configCodeMissingGoogleClient  = "config.missing_google_client"
	configCodeInvalidEncryptionKey = "config.invalid_encryption_key"
	configCodeInvalidStateSecret   = "config.invalid_state_secret"
	configCodeMissingStateSecret   = "config.missing_state_secret"
	configCodeInvalidTimeout       = "config.invalid_upstream_timeout"
	configCodeInvalidRateLimit     = "config.invalid_rate_limit"
)

// legacyEnv lists unprefixed variable names still honoured for some keys.
var legacyEnv = map[string][]string{
	"google-client-id":     {"GOOGLE_CLIENT_ID"},
	"google-client-secret": {"GOOGLE_CLIENT_SECRET"},
	"base-url":             {"MCP_BASE_URL", "BASE_URL"},
	"encryption-key":       {"OAUTH_ENCRYPTION_KEY"},
	"valkey-url":           {"VALKEY_URL"},
	"valkey-password":      {"VALKEY_PASSWORD"},
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// newConfig binds flags to a fresh viper instance. Explicit flags win over
// the environment, which wins over flag defaults.
func newConfig(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	for key, names := range legacyEnv {
		if flags.Lookup(key) == nil {
			continue
		}
		envNames := append([]string{envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, envNames...)...); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}
	return v, nil
}

func defaultDatabaseURL() string {
	return tokenstore.SQLiteURL(filepath.Join(xdg.DataHome, "calbridge", "tokens.db"))
}

func addLoggingFlags(fs *pflag.FlagSet) {
	fs.Bool("debug", false, "Enable debug logging")
	fs.String("log-format", logging.FormatText, "Log format: text or json")
}

func addStoreFlags(fs *pflag.FlagSet) {
	fs.String("token-store", tokenstore.TypeSQL, "Token store backend: sql, badger, valkey or memory")
	fs.String("database-url", defaultDatabaseURL(), "Database URL for the sql backend (sqlite:///path or postgres://...)")
	fs.String("badger-dir", filepath.Join(xdg.DataHome, "calbridge", "badger"), "Directory of the badger backend")
	fs.String("valkey-url", "", "Valkey server address (host:port)")
	fs.String("valkey-password", "", "Valkey password")
	fs.Int("valkey-db", 0, "Valkey database number")
	fs.Bool("valkey-tls", false, "Enable TLS towards Valkey")
	fs.String("valkey-tls-ca-file", "", "Custom CA certificate for Valkey TLS")
	fs.String("valkey-key-prefix", "calbridge:", "Prefix for Valkey keys")
	fs.String("encryption-key", "", "Base64 encoded 32-byte key sealing stored tokens at rest")
}

func addOAuthFlags(fs *pflag.FlagSet) {
	fs.String("google-client-id", "", "Google OAuth client id (or GOOGLE_CLIENT_ID)")
	fs.String("google-client-secret", "", "Google OAuth client secret (or GOOGLE_CLIENT_SECRET)")
	fs.String("base-url", "", "Public base URL of the bridge (or MCP_BASE_URL); derived from --http-addr for localhost")
	fs.String("state-secret", "", "Secret signing the OAuth state parameter; required unless base-url is a loopback address (random per process then)")
}

type storeConfig struct {
	Type          string
	DatabaseURL   string
	BadgerDir     string
	Valkey        tokenstore.ValkeyOptions
	EncryptionKey []byte
}

func loadStoreConfig(v *viper.Viper) (storeConfig, error) {
	cfg := storeConfig{
		Type:        strings.ToLower(strings.TrimSpace(v.GetString("token-store"))),
		DatabaseURL: v.GetString("database-url"),
		BadgerDir:   v.GetString("badger-dir"),
		Valkey: tokenstore.ValkeyOptions{
			Addr:       v.GetString("valkey-url"),
			Password:   v.GetString("valkey-password"),
			DB:         v.GetInt("valkey-db"),
			TLSEnabled: v.GetBool("valkey-tls"),
			TLSCAFile:  v.GetString("valkey-tls-ca-file"),
			KeyPrefix:  v.GetString("valkey-key-prefix"),
		},
	}
	if encoded := strings.TrimSpace(v.GetString("encryption-key")); encoded != "" {
		key, err := tokenstore.EncryptionKeyFromBase64(encoded)
		if err != nil {
			return storeConfig{}, configError(configCodeInvalidEncryptionKey, err.Error())
		}
		cfg.EncryptionKey = key
	}
	return cfg, nil
}

// prepare creates the parent directory of a local SQLite file or Badger
// directory so first runs work out of the box.
func (c storeConfig) prepare() error {
	var dir string
	switch c.Type {
	case "", tokenstore.TypeSQL:
		path, ok := strings.CutPrefix(c.DatabaseURL, "sqlite://")
		if !ok || path == "" || strings.HasPrefix(path, ":memory:") {
			return nil
		}
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		dir = filepath.Dir(path)
	case tokenstore.TypeBadger:
		dir = c.BadgerDir
	default:
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

type oauthConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	StateSecret  []byte
	// EphemeralState is set when StateSecret was generated; consent links
	// then do not survive a restart.
	EphemeralState bool
}

func loadOAuthConfig(v *viper.Viper, httpAddr string) (oauthConfig, error) {
	cfg := oauthConfig{
		ClientID:     strings.TrimSpace(v.GetString("google-client-id")),
		ClientSecret: strings.TrimSpace(v.GetString("google-client-secret")),
		BaseURL:      strings.TrimRight(strings.TrimSpace(v.GetString("base-url")), "/"),
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return oauthConfig{}, configError(configCodeMissingGoogleClient,
			"google-client-id and google-client-secret must be provided (flags, CALBRIDGE_* or GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET)")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = localBaseURL(httpAddr)
	}

	if secret := v.GetString("state-secret"); secret != "" {
		if len(secret) < 16 {
			return oauthConfig{}, configError(configCodeInvalidStateSecret, "state-secret must be at least 16 bytes")
		}
		cfg.StateSecret = []byte(secret)
	} else {
		cfg.StateSecret = make([]byte, 32)
		if _, err := rand.Read(cfg.StateSecret); err != nil {
			return oauthConfig{}, fmt.Errorf("failed to generate state secret: %w", err)
		}
		cfg.EphemeralState = true
	}
	return cfg, nil
}

// localBaseURL derives http://localhost:<port> from a listen address.
func localBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return "http://localhost:8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

type serveConfig struct {
	Transport string
	HTTPAddr  string

	Store storeConfig
	OAuth oauthConfig

	ReadOnly        bool
	UpstreamTimeout time.Duration
	RegisterAliases bool

	Debug     bool
	LogFormat string

	MetricsEnabled bool
	MetricsAddr    string

	RateLimit      float64
	RateLimitBurst int
	TrustProxy     bool
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.String("transport", transportStdio, "Transport type: stdio or streamable-http")
	fs.String("http-addr", server.DefaultHTTPAddr, "HTTP listen address for the OAuth routes and streamable-http transport")
	fs.Bool("read-only", false, "Only expose read tools (list_events, get_event, list_calendars)")
	fs.Duration("upstream-timeout", dispatch.DefaultUpstreamTimeout, "Timeout of each Google API call")
	fs.Bool("register-aliases", false, "Also register dotted tool names such as calendar.list_events")
	fs.Bool("metrics-enabled", true, "Serve Prometheus metrics on a dedicated listener")
	fs.String("metrics-addr", ":9090", "Metrics listen address")
	fs.Float64("rate-limit", server.DefaultRateLimit, "Auth route requests per second per client IP (0 disables)")
	fs.Int("rate-limit-burst", server.DefaultRateLimitBurst, "Auth route burst per client IP")
	fs.Bool("trust-proxy", false, "Trust X-Forwarded-For and X-Real-IP for client IPs")
	addLoggingFlags(fs)
	addStoreFlags(fs)
	addOAuthFlags(fs)
}

func loadServeConfig(v *viper.Viper) (serveConfig, error) {
	cfg := serveConfig{
		Transport:       strings.ToLower(strings.TrimSpace(v.GetString("transport"))),
		HTTPAddr:        v.GetString("http-addr"),
		ReadOnly:        v.GetBool("read-only"),
		UpstreamTimeout: v.GetDuration("upstream-timeout"),
		RegisterAliases: v.GetBool("register-aliases"),
		Debug:           v.GetBool("debug"),
		LogFormat:       strings.ToLower(v.GetString("log-format")),
		MetricsEnabled:  v.GetBool("metrics-enabled"),
		MetricsAddr:     v.GetString("metrics-addr"),
		RateLimit:       v.GetFloat64("rate-limit"),
		RateLimitBurst:  v.GetInt("rate-limit-burst"),
		TrustProxy:      v.GetBool("trust-proxy"),
	}

	switch cfg.Transport {
	case transportStdio, transportStreamableHTTP:
	default:
		return serveConfig{}, configError(configCodeInvalidTransport,
			fmt.Sprintf("unsupported transport type: %s (supported: stdio, streamable-http)", cfg.Transport))
	}
	switch cfg.LogFormat {
	case logging.FormatText, logging.FormatJSON:
	default:
		return serveConfig{}, configError(configCodeInvalidLogFormat, "log-format must be text or json")
	}
	if cfg.UpstreamTimeout <= 0 {
		return serveConfig{}, configError(configCodeInvalidTimeout, "upstream-timeout must be positive")
	}
	if cfg.RateLimit < 0 || cfg.RateLimitBurst < 0 {
		return serveConfig{}, configError(configCodeInvalidRateLimit, "rate-limit and rate-limit-burst must not be negative")
	}

	store, err := loadStoreConfig(v)
	if err != nil {
		return serveConfig{}, err
	}
	cfg.Store = store

	oauth, err := loadOAuthConfig(v, cfg.HTTPAddr)
	if err != nil {
		return serveConfig{}, err
	}
	// A public deployment may restart or run several replicas between the
	// consent redirect and the callback; both must verify the same state.
	if oauth.EphemeralState && !server.IsLoopbackURL(oauth.BaseURL) {
		return serveConfig{}, configError(configCodeMissingStateSecret,
			fmt.Sprintf("state-secret (or CALBRIDGE_STATE_SECRET) is required when base-url %s is not a loopback address", oauth.BaseURL))
	}
	cfg.OAuth = oauth
	return cfg, nil
}
