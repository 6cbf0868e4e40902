package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// Set replaces the current Config without validating it.
func Set(cfg *Config) {
	set(cfg)
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for forkline.
type Config struct {
	Server          ServerConfig    `mapstructure:"server"           toml:"server"`
	Auth            AuthConfig      `mapstructure:"auth"             toml:"auth"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"       toml:"rate_limit"`
	Cache           CacheConfig     `mapstructure:"cache"            toml:"cache"`
	Tracing         TracingConfig   `mapstructure:"tracing"          toml:"tracing"`
	Metrics         MetricsConfig   `mapstructure:"metrics"          toml:"metrics"`
	Audit           AuditConfig     `mapstructure:"audit"            toml:"audit"`
	Routes          []RouteConfig   `mapstructure:"routes"           toml:"routes"`
	DefaultResponse ResponseConfig  `mapstructure:"default_response" toml:"default_response"`
}

// ServerConfig holds the core server settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	Port         int    `mapstructure:"port"          toml:"port"`
	AdminPort    int    `mapstructure:"admin_port"    toml:"admin_port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"   toml:"tls_enabled"`
	CertFile     string `mapstructure:"cert_file"     toml:"cert_file"`
	KeyFile      string `mapstructure:"key_file"      toml:"key_file"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`
	MaxBodySize  int64  `mapstructure:"max_body_size" toml:"max_body_size"`
}

// Addr returns host:port for the request listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// AdminAddr returns host:port for the admin listener.
func (s ServerConfig) AdminAddr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.AdminPort)
}

// AuthConfig holds the credentials used by routes that require auth.
// Users maps a user name to a key reference understood by the vault
// (keyring://, env:, file://). Viper lower-cases map keys, so user names
// are case-insensitive.
type AuthConfig struct {
	Realm       string            `mapstructure:"realm"        toml:"realm"`
	Users       map[string]string `mapstructure:"users"        toml:"users"`
	BearerToken string            `mapstructure:"bearer_token" toml:"bearer_token"`
}

// RateLimitConfig controls the token-bucket limiter stage.
type RateLimitConfig struct {
	Enabled    bool    `mapstructure:"enabled"     toml:"enabled"`
	Rate       float64 `mapstructure:"rate"        toml:"rate"` // requests per second
	Burst      int     `mapstructure:"burst"       toml:"burst"`
	PerClient  bool    `mapstructure:"per_client"  toml:"per_client"`
	MaxClients int     `mapstructure:"max_clients" toml:"max_clients"`
}

// CacheConfig controls the response cache stage.
type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled"     toml:"enabled"`
	Size       int  `mapstructure:"size"        toml:"size"`
	TTLSeconds int  `mapstructure:"ttl_seconds" toml:"ttl_seconds"`
}

// TTL returns the cache TTL as a time.Duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "forkline"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
	PerStage    bool    `mapstructure:"per_stage"    toml:"per_stage"`    // one span per middleware
}

// MetricsConfig controls the admin listener and the Prometheus collector.
type MetricsConfig struct {
	Enabled        bool     `mapstructure:"enabled"         toml:"enabled"`
	StageTiming    bool     `mapstructure:"stage_timing"    toml:"stage_timing"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// AuditConfig controls the request audit log kept in SQLite.
type AuditConfig struct {
	Enabled       bool `mapstructure:"enabled"        toml:"enabled"`
	RetentionDays int  `mapstructure:"retention_days" toml:"retention_days"`
}

// RouteConfig declares one fork. A request enters the route when its path
// starts with Prefix and, if set, its method is one of Methods and header
// Header equals HeaderValue. Inside the route the optional stages run in
// this order: RequireHTTPS, auth, Headers, then the terminal response.
// A route with no terminal response falls through to the next route.
type RouteConfig struct {
	Name         string            `mapstructure:"name"          toml:"name"`
	Prefix       string            `mapstructure:"prefix"        toml:"prefix"`
	Methods      []string          `mapstructure:"methods"       toml:"methods"`
	Header       string            `mapstructure:"header"        toml:"header"`
	HeaderValue  string            `mapstructure:"header_value"  toml:"header_value"`
	StripPrefix  bool              `mapstructure:"strip_prefix"  toml:"strip_prefix"`
	Auth         string            `mapstructure:"auth"          toml:"auth"` // "", "basic", "bearer"
	RequireHTTPS bool              `mapstructure:"require_https" toml:"require_https"`
	Headers      map[string]string `mapstructure:"headers"       toml:"headers"`
	Echo         bool              `mapstructure:"echo"          toml:"echo"`
	Response     *ResponseConfig   `mapstructure:"response"      toml:"response,omitempty"`
}

// Label returns the route name, or its prefix when unnamed.
func (r RouteConfig) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Prefix
}

// ResponseConfig is a fixed response.
type ResponseConfig struct {
	Status      int    `mapstructure:"status"       toml:"status"`
	Body        string `mapstructure:"body"         toml:"body"`
	ContentType string `mapstructure:"content_type" toml:"content_type"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (FORKLINE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.forkline/forkline.toml
//  4. ./forkline.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: FORKLINE_SERVER_PORT etc.
	v.SetEnvPrefix("FORKLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".forkline"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("forkline")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default config to ~/.forkline/forkline.toml unless
// a file is already there. It returns the path of the config file.
func InitConfig() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".forkline")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	data, err := toml.Marshal(DefaultConfig())
	if err != nil {
		return "", fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}

// ExportConfig writes the current config to path as TOML.
func ExportConfig(path string) error {
	data, err := toml.Marshal(Get())
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig validates the TOML file at path, makes it the current config
// and persists it over the active config file.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the config file used by the last successful Load,
// or "" if none was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every scalar key with viper so that env var
// binding works even when no config file is present. Routes and the auth
// user table only come from the config file.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.admin_port", d.Server.AdminPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	// Auth
	v.SetDefault("auth.realm", d.Auth.Realm)
	v.SetDefault("auth.bearer_token", d.Auth.BearerToken)

	// Rate limit
	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.rate", d.RateLimit.Rate)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.per_client", d.RateLimit.PerClient)
	v.SetDefault("rate_limit.max_clients", d.RateLimit.MaxClients)

	// Cache
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.ttl_seconds", d.Cache.TTLSeconds)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
	v.SetDefault("tracing.per_stage", d.Tracing.PerStage)

	// Metrics
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.stage_timing", d.Metrics.StageTiming)
	v.SetDefault("metrics.allowed_origins", d.Metrics.AllowedOrigins)

	// Audit
	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.retention_days", d.Audit.RetentionDays)

	// Default response
	v.SetDefault("default_response.status", d.DefaultResponse.Status)
	v.SetDefault("default_response.body", d.DefaultResponse.Body)
	v.SetDefault("default_response.content_type", d.DefaultResponse.ContentType)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
