package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port for the request listener.
const DefaultPort = 7680

// DefaultAdminPort is the default port for the admin listener.
const DefaultAdminPort = 7681

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.forkline"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "forkline.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
const DefaultWriteTimeout = 30

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size (1 MiB).
const DefaultMaxBodySize = 1 << 20

// DefaultRealm is the default basic-auth realm.
const DefaultRealm = "forkline"

// DefaultRate is the default sustained request rate per second.
const DefaultRate = 10.0

// DefaultBurst is the default rate limiter burst.
const DefaultBurst = 20

// DefaultMaxClients bounds the number of per-client limiters kept in memory.
const DefaultMaxClients = 10000

// DefaultCacheSize is the default number of cached responses.
const DefaultCacheSize = 1000

// DefaultCacheTTL is the default response cache TTL in seconds.
const DefaultCacheTTL = 60

// DefaultRetentionDays is the default audit log retention in days.
const DefaultRetentionDays = 30

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "forkline"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidTracingExporters lists the allowed tracing exporters.
var ValidTracingExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// ValidAuthModes lists the allowed route auth values. The empty string
// means the route is open.
var ValidAuthModes = []string{"", "basic", "bearer"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			Port:         DefaultPort,
			AdminPort:    DefaultAdminPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Auth: AuthConfig{
			Realm: DefaultRealm,
			Users: map[string]string{},
		},
		RateLimit: RateLimitConfig{
			Enabled:    false,
			Rate:       DefaultRate,
			Burst:      DefaultBurst,
			PerClient:  true,
			MaxClients: DefaultMaxClients,
		},
		Cache: CacheConfig{
			Enabled:    false,
			Size:       DefaultCacheSize,
			TTLSeconds: DefaultCacheTTL,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			StageTiming:    true,
			AllowedOrigins: []string{"http://localhost:7681"},
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: DefaultRetentionDays,
		},
		Routes: []RouteConfig{},
		DefaultResponse: ResponseConfig{
			Status:      404,
			Body:        "not found\n",
			ContentType: "text/plain; charset=utf-8",
		},
	}
}
