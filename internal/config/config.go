package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	AuthMode        string        `mapstructure:"AUTH_MODE"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	MetricsCacheTTL time.Duration `mapstructure:"METRICS_CACHE_TTL"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL     string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant   string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	LogFile         string        `mapstructure:"LOG_FILE"`

	ContactDays     int `mapstructure:"TCM_CONTACT_DAYS"`
	FollowUpDays    int `mapstructure:"TCM_FOLLOWUP_DAYS"`
	ReadmissionDays int `mapstructure:"READMISSION_WINDOW_DAYS"`

	OTelServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`
	OTelOTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelOTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var defaults = map[string]interface{}{
	"PORT":                    "8000",
	"ENV":                     "development",
	"AUTH_MODE":               "",
	"DB_MAX_CONNS":            20,
	"DB_MIN_CONNS":            5,
	"METRICS_CACHE_TTL":       "5m",
	"DEFAULT_TENANT":          "default",
	"CORS_ORIGINS":            "http://localhost:3000",
	"RATE_LIMIT_RPS":          50,
	"RATE_LIMIT_BURST":        100,
	"LOG_LEVEL":               "info",
	"TCM_CONTACT_DAYS":        2,
	"TCM_FOLLOWUP_DAYS":       14,
	"READMISSION_WINDOW_DAYS": 30,
	"OTEL_SERVICE_NAME":       "tcm-server",
}

var envKeys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "METRICS_CACHE_TTL", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL",
	"AUTH_SIGNING_KEY", "DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST", "LOG_LEVEL", "LOG_FILE", "TCM_CONTACT_DAYS", "TCM_FOLLOWUP_DAYS",
	"READMISSION_WINDOW_DAYS", "OTEL_SERVICE_NAME", "OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_EXPORTER_OTLP_INSECURE",
}

// Load reads .env (when present) and the environment, then validates.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind explicitly so Unmarshal sees env-only keys.
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments run without tokens and everything else requires a JWT.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.ResolvedAuthMode() {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case "jwt":
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires AUTH_SIGNING_KEY or AUTH_JWKS_URL")
		}
		if c.IsProduction() && c.AuthSigningKey != "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is for development only; use AUTH_JWKS_URL in production")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", c.AuthMode)
	}

	if c.ContactDays <= 0 || c.FollowUpDays <= 0 || c.ReadmissionDays <= 0 {
		return fmt.Errorf("TCM window days must be positive (contact=%d, follow-up=%d, readmission=%d)",
			c.ContactDays, c.FollowUpDays, c.ReadmissionDays)
	}
	if c.FollowUpDays < c.ContactDays {
		return fmt.Errorf("TCM_FOLLOWUP_DAYS (%d) must not be shorter than TCM_CONTACT_DAYS (%d)",
			c.FollowUpDays, c.ContactDays)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
