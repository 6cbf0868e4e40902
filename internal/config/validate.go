package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", cfg.Server.Port))
	}
	if cfg.Server.AdminPort < 1 || cfg.Server.AdminPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.admin_port must be between 1 and 65535, got %d", cfg.Server.AdminPort))
	}
	if cfg.Metrics.Enabled && cfg.Server.Port == cfg.Server.AdminPort {
		errs = append(errs, fmt.Sprintf("server.port and server.admin_port must differ, both are %d", cfg.Server.Port))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.TLSEnabled {
		if cfg.Server.CertFile == "" {
			errs = append(errs, "server.cert_file must be set when tls_enabled is true")
		}
		if cfg.Server.KeyFile == "" {
			errs = append(errs, "server.key_file must be set when tls_enabled is true")
		}
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Rate limit validation
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.Rate <= 0 {
			errs = append(errs, fmt.Sprintf("rate_limit.rate must be positive, got %g", cfg.RateLimit.Rate))
		}
		if cfg.RateLimit.Burst < 1 {
			errs = append(errs, fmt.Sprintf("rate_limit.burst must be at least 1, got %d", cfg.RateLimit.Burst))
		}
		if cfg.RateLimit.PerClient && cfg.RateLimit.MaxClients < 1 {
			errs = append(errs, fmt.Sprintf("rate_limit.max_clients must be at least 1, got %d", cfg.RateLimit.MaxClients))
		}
	}

	// Cache validation
	if cfg.Cache.Enabled {
		if cfg.Cache.Size < 1 {
			errs = append(errs, fmt.Sprintf("cache.size must be at least 1, got %d", cfg.Cache.Size))
		}
		if cfg.Cache.TTLSeconds < 1 {
			errs = append(errs, fmt.Sprintf("cache.ttl_seconds must be at least 1, got %d", cfg.Cache.TTLSeconds))
		}
	}

	// Tracing validation
	if cfg.Tracing.Enabled && !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter))
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %g", cfg.Tracing.SampleRate))
	}

	// Audit validation
	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, fmt.Sprintf("audit.retention_days must be non-negative, got %d", cfg.Audit.RetentionDays))
	}

	// Route validation
	for i, r := range cfg.Routes {
		errs = append(errs, validateRoute(fmt.Sprintf("routes[%d]", i), r, cfg.Auth)...)
	}

	if msg := validateStatus(cfg.DefaultResponse.Status); msg != "" {
		errs = append(errs, "default_response.status "+msg)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateRoute(field string, r RouteConfig, auth AuthConfig) []string {
	var errs []string

	if !strings.HasPrefix(r.Prefix, "/") || strings.Trim(r.Prefix, "/") == "" {
		errs = append(errs, fmt.Sprintf("%s.prefix must start with / and name at least one segment, got %q", field, r.Prefix))
	}
	for _, m := range r.Methods {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, fmt.Sprintf("%s.methods must not contain empty entries", field))
			break
		}
	}
	if r.HeaderValue != "" && r.Header == "" {
		errs = append(errs, fmt.Sprintf("%s.header must be set when header_value is set", field))
	}
	if !isValidEnum(r.Auth, ValidAuthModes) {
		errs = append(errs, fmt.Sprintf("%s.auth must be one of \"basic\" or \"bearer\", got %q", field, r.Auth))
	}
	switch strings.ToLower(r.Auth) {
	case "basic":
		if len(auth.Users) == 0 {
			errs = append(errs, fmt.Sprintf("%s.auth is basic but auth.users is empty", field))
		}
	case "bearer":
		if auth.BearerToken == "" {
			errs = append(errs, fmt.Sprintf("%s.auth is bearer but auth.bearer_token is not set", field))
		}
	}
	if r.Echo && r.Response != nil {
		errs = append(errs, fmt.Sprintf("%s may set echo or response, not both", field))
	}
	if r.Response != nil {
		if msg := validateStatus(r.Response.Status); msg != "" {
			errs = append(errs, field+".response.status "+msg)
		}
	}
	return errs
}

func validateStatus(code int) string {
	if code < 100 || code > 599 {
		return fmt.Sprintf("must be between 100 and 599, got %d", code)
	}
	return ""
}

// isValidEnum checks whether val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if lower == a {
			return true
		}
	}
	return false
}
