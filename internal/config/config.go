// Package config loads gqlclient settings from flags, environment variables
// and an optional config file through viper.
//
// Precedence, highest first: flag, GQLCLIENT_* environment variable, config
// file, default. Keys are dotted; the environment form replaces "." and "-"
// with "_" (ws.endpoint -> GQLCLIENT_WS_ENDPOINT).
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hanpama/gqlink/internal/logging"
)

// EnvPrefix prefixes every environment variable read by the CLI.
const EnvPrefix = "GQLCLIENT"

// Keys
const (
	KeyConfig       = "config"
	KeyEndpoint     = "endpoint"
	KeyWSEndpoint   = "ws.endpoint"
	KeyHeader       = "header"
	KeyTimeout      = "timeout"
	KeyPretty       = "pretty"
	KeyLogLevel     = "log.level"
	KeyLogFormat    = "log.format"
	KeyOTelEndpoint = "otel.endpoint"
	KeyOTelService  = "otel.service"
	KeyMetricsAddr  = "metrics.addr"
)

var (
	ErrNoEndpoint = errors.New("config: endpoint is required")
)

// Config is the resolved CLI configuration.
type Config struct {
	Endpoint     string
	WSEndpoint   string
	Header       http.Header
	Timeout      time.Duration
	Pretty       bool
	LogLevel     string
	LogFormat    string
	OTelEndpoint string
	OTelService  string
	MetricsAddr  string
}

// New returns a viper instance with defaults and environment lookup set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyTimeout, 30*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, logging.FormatText)
	v.SetDefault(KeyOTelService, "gqlclient")
	return v
}

// RegisterFlags adds the global flags to fs and binds them to v.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String(KeyConfig, "", "Config file (yaml, json or toml)")
	fs.String(KeyEndpoint, "", "GraphQL HTTP endpoint, e.g. http://localhost:8080/graphql")
	fs.String(KeyWSEndpoint, "", "GraphQL WebSocket endpoint (default: endpoint with ws:// or wss://)")
	fs.StringArray(KeyHeader, nil, `Request header "Name: value". Repeatable`)
	fs.Duration(KeyTimeout, 30*time.Second, "Per-request timeout for HTTP operations (0 disables)")
	fs.Bool(KeyPretty, false, "Pretty-print JSON results")
	fs.String(KeyLogLevel, "info", "Log level: debug, info, warn, error")
	fs.String(KeyLogFormat, logging.FormatText, "Log format: text or json")
	fs.String(KeyOTelEndpoint, "", "OTLP collector endpoint")
	fs.String(KeyOTelService, "gqlclient", "OpenTelemetry service name")
	fs.String(KeyMetricsAddr, "", "Serve Prometheus metrics on this address, e.g. :9090")
	return v.BindPFlags(fs)
}

// Load reads the optional config file and resolves and validates the
// configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	if file := v.GetString(KeyConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	cfg := &Config{
		Endpoint:     strings.TrimSpace(v.GetString(KeyEndpoint)),
		WSEndpoint:   strings.TrimSpace(v.GetString(KeyWSEndpoint)),
		Timeout:      v.GetDuration(KeyTimeout),
		Pretty:       v.GetBool(KeyPretty),
		LogLevel:     v.GetString(KeyLogLevel),
		LogFormat:    strings.ToLower(v.GetString(KeyLogFormat)),
		OTelEndpoint: v.GetString(KeyOTelEndpoint),
		OTelService:  v.GetString(KeyOTelService),
		MetricsAddr:  v.GetString(KeyMetricsAddr),
	}
	h, err := parseHeaders(headerList(v.Get(KeyHeader)))
	if err != nil {
		return nil, err
	}
	cfg.Header = h

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Endpoint == "" && c.WSEndpoint == "" {
		return ErrNoEndpoint
	}
	if c.Endpoint != "" {
		if err := checkURL(KeyEndpoint, c.Endpoint, "http", "https"); err != nil {
			return err
		}
	}
	if c.WSEndpoint == "" {
		c.WSEndpoint = wsURL(c.Endpoint)
	} else if err := checkURL(KeyWSEndpoint, c.WSEndpoint, "ws", "wss"); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return fmt.Errorf("config: %s must not be negative", KeyTimeout)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %s: %w", KeyLogLevel, err)
	}
	switch c.LogFormat {
	case logging.FormatText, logging.FormatJSON:
	default:
		return fmt.Errorf("config: %s must be %q or %q, got %q", KeyLogFormat, logging.FormatText, logging.FormatJSON, c.LogFormat)
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("config: %s %q must be an absolute %s URL", key, raw, strings.Join(schemes, " or "))
}

// wsURL derives the WebSocket endpoint from the HTTP one.
func wsURL(httpURL string) string {
	switch {
	case strings.HasPrefix(httpURL, "https://"):
		return "wss://" + strings.TrimPrefix(httpURL, "https://")
	case strings.HasPrefix(httpURL, "http://"):
		return "ws://" + strings.TrimPrefix(httpURL, "http://")
	}
	return ""
}

// headerList normalizes the header key: flags and config files give a list,
// the environment a comma separated string.
func headerList(v any) []string {
	switch h := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(h) == "" {
			return nil
		}
		return strings.Split(h, ",")
	case []string:
		return h
	case []any:
		out := make([]string, len(h))
		for i, s := range h {
			out[i] = fmt.Sprint(s)
		}
		return out
	default:
		return []string{fmt.Sprint(h)}
	}
}

func parseHeaders(list []string) (http.Header, error) {
	h := http.Header{}
	for _, entry := range list {
		name, value, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("config: invalid %s %q, want \"Name: value\"", KeyHeader, entry)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
