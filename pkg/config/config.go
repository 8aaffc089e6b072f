package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gopkg.in/yaml.v3"

	"github.com/aimoverse/aimo-gateway/pkg/auth"
	"github.com/aimoverse/aimo-gateway/pkg/email"
	"github.com/aimoverse/aimo-gateway/pkg/invitation"
	"github.com/aimoverse/aimo-gateway/pkg/middleware"
	"github.com/aimoverse/aimo-gateway/pkg/observability"
	"github.com/aimoverse/aimo-gateway/pkg/storage"
	"github.com/aimoverse/aimo-gateway/pkg/upstream"
	"github.com/aimoverse/aimo-gateway/pkg/usage"
	"github.com/aimoverse/aimo-gateway/pkg/wallet"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Invitation    InvitationConfig    `yaml:"invitation"`
	Usage         UsageConfig         `yaml:"usage"`
	Storage       storage.Config      `yaml:"storage"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Email         EmailConfig         `yaml:"email"`
	Wallet        WalletConfig        `yaml:"wallet"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	BasePath        string        `yaml:"base_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`

	// Health/metrics server (separate port for k8s liveness and readiness)
	HealthPort string `yaml:"health_port"`

	// Per-IP throttle on the public login endpoints
	ThrottleRequests int           `yaml:"throttle_requests"`
	ThrottleWindow   time.Duration `yaml:"throttle_window"`
	ThrottleBurst    int           `yaml:"throttle_burst"`

	// Peers whose forwarding headers are believed when keying the throttle
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// AuthConfig holds credential and admin settings
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	Algorithm    string        `yaml:"algorithm"`
	TokenExpiry  time.Duration `yaml:"token_expiry"`
	DefaultQuota int           `yaml:"default_quota"`
	AdminAPIKey  string        `yaml:"admin_api_key"`
	// ExcludedPaths extends the public routes the auth gate lets through
	ExcludedPaths []string `yaml:"excluded_paths"`
}

// InvitationConfig holds invitation code lifetimes and the lookup cache
type InvitationConfig struct {
	UnboundTTL    time.Duration `yaml:"unbound_ttl"`
	BoundTTL      time.Duration `yaml:"bound_ttl"`
	CacheSize     int           `yaml:"cache_size"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	SweepEnabled  bool          `yaml:"sweep_enabled"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	ListLimit     int           `yaml:"list_limit"`
}

// UsageConfig holds the daily counter settings
type UsageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
	// Timezone names the calendar used for the daily reset
	Timezone   string   `yaml:"timezone"`
	Atomic     bool     `yaml:"atomic"`
	Exclusions []string `yaml:"exclusions"`
}

// UpstreamConfig holds the LLM and classifier endpoints
type UpstreamConfig struct {
	CompletionURL       string        `yaml:"completion_url"`
	CompletionAPIKey    string        `yaml:"completion_api_key"`
	CompletionModel     string        `yaml:"completion_model"`
	CompletionTimeout   time.Duration `yaml:"completion_timeout"`
	ClassifierURL       string        `yaml:"classifier_url"`
	ClassifierAPIKey    string        `yaml:"classifier_api_key"`
	ClassifierThreshold float64       `yaml:"classifier_threshold"`
	ClassifierTimeout   time.Duration `yaml:"classifier_timeout"`
}

// EmailConfig holds Listmonk and verification code settings
type EmailConfig struct {
	ListmonkURL string        `yaml:"listmonk_url"`
	Username    string        `yaml:"username"`
	APIKey      string        `yaml:"api_key"`
	ListID      int           `yaml:"list_id"`
	TemplateID  int           `yaml:"template_id"`
	Timeout     time.Duration `yaml:"timeout"`
	CodeTTL     time.Duration `yaml:"code_ttl"`

	// Wrong guesses allowed before a pending code is burned
	MaxCodeAttempts int `yaml:"max_code_attempts"`
}

// WalletConfig holds Privy settings
type WalletConfig struct {
	PrivyAppID     string        `yaml:"privy_app_id"`
	PrivyAppSecret string        `yaml:"privy_app_secret"`
	PrivyAPIURL    string        `yaml:"privy_api_url"`
	JWKSURL        string        `yaml:"jwks_url"`
	Timeout        time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level.
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             "8080",
			BasePath:         "/api/v1",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     90 * time.Second,
			IdleTimeout:      60 * time.Second,
			ShutdownTimeout:  30 * time.Second,
			MaxBodyBytes:     1 << 20,
			CORSOrigins:      []string{"*"},
			HealthPort:       "9090",
			ThrottleRequests: 20,
			ThrottleWindow:   time.Minute,
			ThrottleBurst:    5,
		},
		Auth: AuthConfig{
			Algorithm:    auth.DefaultAlgorithm,
			TokenExpiry:  auth.DefaultExpiry,
			DefaultQuota: auth.DefaultQuota,
		},
		Invitation: InvitationConfig{
			UnboundTTL:    invitation.DefaultUnboundTTL,
			BoundTTL:      invitation.DefaultBoundTTL,
			CacheSize:     invitation.DefaultCacheSize,
			CacheTTL:      invitation.DefaultCacheTTL,
			SweepEnabled:  true,
			SweepSchedule: invitation.DefaultSweepSchedule,
			ListLimit:     invitation.DefaultListLimit,
		},
		Usage: UsageConfig{
			KeyPrefix: usage.DefaultPrefix,
			Timezone:  "Local",
		},
		Storage: storage.DefaultConfig(),
		Upstream: UpstreamConfig{
			CompletionTimeout:   upstream.DefaultTimeout,
			ClassifierThreshold: upstream.DefaultThreshold,
			ClassifierTimeout:   10 * time.Second,
		},
		Email: EmailConfig{
			Username:        email.DefaultUsername,
			Timeout:         email.DefaultTimeout,
			CodeTTL:         email.DefaultCodeTTL,
			MaxCodeAttempts: email.DefaultMaxAttempts,
		},
		Wallet: WalletConfig{
			PrivyAPIURL: wallet.DefaultPrivyAPIURL,
			Timeout:     wallet.DefaultTimeout,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "aimo-gateway",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file
// named by AIMO_CONFIG_FILE if set, then AIMO_* environment variables, and
// validates the result.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("AIMO_CONFIG_FILE", ""); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("AIMO_HOST", s.Host)
	s.Port = getEnv("AIMO_PORT", s.Port)
	s.BasePath = getEnv("AIMO_BASE_PATH", s.BasePath)
	s.ReadTimeout = getEnvDuration("AIMO_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("AIMO_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("AIMO_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("AIMO_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("AIMO_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.CORSOrigins = getEnvList("AIMO_CORS_ORIGINS", s.CORSOrigins)
	s.HealthPort = getEnv("AIMO_HEALTH_PORT", s.HealthPort)
	s.ThrottleRequests = getEnvInt("AIMO_THROTTLE_REQUESTS", s.ThrottleRequests)
	s.ThrottleWindow = getEnvDuration("AIMO_THROTTLE_WINDOW", s.ThrottleWindow)
	s.ThrottleBurst = getEnvInt("AIMO_THROTTLE_BURST", s.ThrottleBurst)
	s.TrustedProxies = getEnvList("AIMO_TRUSTED_PROXIES", s.TrustedProxies)

	a := &c.Auth
	a.JWTSecret = getEnv("AIMO_JWT_SECRET", a.JWTSecret)
	a.Algorithm = getEnv("AIMO_JWT_ALGORITHM", a.Algorithm)
	if days := getEnvInt("AIMO_JWT_EXPIRE_DAYS", 0); days > 0 {
		a.TokenExpiry = time.Duration(days) * 24 * time.Hour
	}
	a.DefaultQuota = getEnvInt("AIMO_DEFAULT_QUOTA", a.DefaultQuota)
	a.AdminAPIKey = getEnv("AIMO_ADMIN_API_KEY", a.AdminAPIKey)
	a.ExcludedPaths = getEnvList("AIMO_AUTH_EXCLUDED_PATHS", a.ExcludedPaths)

	inv := &c.Invitation
	if days := getEnvInt("AIMO_INVITATION_EXPIRE_DAYS", 0); days > 0 {
		inv.UnboundTTL = time.Duration(days) * 24 * time.Hour
	}
	if days := getEnvInt("AIMO_INVITATION_BOUND_EXPIRE_DAYS", 0); days > 0 {
		inv.BoundTTL = time.Duration(days) * 24 * time.Hour
	}
	inv.CacheSize = getEnvInt("AIMO_INVITATION_CACHE_SIZE", inv.CacheSize)
	inv.CacheTTL = getEnvDuration("AIMO_INVITATION_CACHE_TTL", inv.CacheTTL)
	inv.SweepEnabled = getEnvBool("AIMO_INVITATION_SWEEP_ENABLED", inv.SweepEnabled)
	inv.SweepSchedule = getEnv("AIMO_INVITATION_SWEEP_SCHEDULE", inv.SweepSchedule)
	inv.ListLimit = getEnvInt("AIMO_INVITATION_LIST_LIMIT", inv.ListLimit)

	u := &c.Usage
	u.KeyPrefix = getEnv("AIMO_USAGE_KEY_PREFIX", u.KeyPrefix)
	u.Timezone = getEnv("AIMO_USAGE_TIMEZONE", u.Timezone)
	u.Atomic = getEnvBool("AIMO_USAGE_ATOMIC", u.Atomic)
	u.Exclusions = getEnvList("AIMO_RATE_LIMIT_EXCLUSIONS", u.Exclusions)

	st := &c.Storage
	st.PostgresURL = getEnv("AIMO_POSTGRES_URL", st.PostgresURL)
	st.MaxConns = getEnvInt("AIMO_POSTGRES_MAX_CONNS", st.MaxConns)
	st.MinConns = getEnvInt("AIMO_POSTGRES_MIN_CONNS", st.MinConns)
	st.PingTimeout = getEnvDuration("AIMO_POSTGRES_TIMEOUT", st.PingTimeout)
	st.RedisURL = getEnv("AIMO_REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv("AIMO_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt("AIMO_REDIS_DB", st.RedisDB)
	st.RedisPoolSize = getEnvInt("AIMO_REDIS_POOL_SIZE", st.RedisPoolSize)
	st.RedisMaxRetries = getEnvInt("AIMO_REDIS_MAX_RETRIES", st.RedisMaxRetries)

	up := &c.Upstream
	up.CompletionURL = getEnv("AIMO_COMPLETION_URL", up.CompletionURL)
	up.CompletionAPIKey = getEnv("AIMO_COMPLETION_API_KEY", up.CompletionAPIKey)
	up.CompletionModel = getEnv("AIMO_COMPLETION_MODEL", up.CompletionModel)
	up.CompletionTimeout = getEnvDuration("AIMO_COMPLETION_TIMEOUT", up.CompletionTimeout)
	up.ClassifierURL = getEnv("AIMO_CLASSIFIER_URL", up.ClassifierURL)
	up.ClassifierAPIKey = getEnv("AIMO_CLASSIFIER_API_KEY", up.ClassifierAPIKey)
	up.ClassifierThreshold = getEnvFloat("AIMO_CLASSIFIER_THRESHOLD", up.ClassifierThreshold)
	up.ClassifierTimeout = getEnvDuration("AIMO_CLASSIFIER_TIMEOUT", up.ClassifierTimeout)

	e := &c.Email
	e.ListmonkURL = getEnv("AIMO_LISTMONK_URL", e.ListmonkURL)
	e.Username = getEnv("AIMO_LISTMONK_USERNAME", e.Username)
	e.APIKey = getEnv("AIMO_LISTMONK_API_KEY", e.APIKey)
	e.ListID = getEnvInt("AIMO_LISTMONK_LIST_ID", e.ListID)
	e.TemplateID = getEnvInt("AIMO_LISTMONK_TEMPLATE_ID", e.TemplateID)
	e.Timeout = getEnvDuration("AIMO_LISTMONK_TIMEOUT", e.Timeout)
	e.CodeTTL = getEnvDuration("AIMO_EMAIL_CODE_TTL", e.CodeTTL)
	e.MaxCodeAttempts = getEnvInt("AIMO_EMAIL_MAX_ATTEMPTS", e.MaxCodeAttempts)

	w := &c.Wallet
	w.PrivyAppID = getEnv("AIMO_PRIVY_APP_ID", w.PrivyAppID)
	w.PrivyAppSecret = getEnv("AIMO_PRIVY_APP_SECRET", w.PrivyAppSecret)
	w.PrivyAPIURL = getEnv("AIMO_PRIVY_API_URL", w.PrivyAPIURL)
	w.JWKSURL = getEnv("AIMO_PRIVY_JWKS_URL", w.JWKSURL)
	w.Timeout = getEnvDuration("AIMO_PRIVY_TIMEOUT", w.Timeout)

	o := &c.Observability
	o.LogLevel = getEnv("AIMO_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("AIMO_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("AIMO_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("AIMO_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("AIMO_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("AIMO_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("AIMO_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("AIMO_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("base path must start with /")
	}
	if _, err := middleware.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		return err
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if _, ok := jwt.GetSigningMethod(c.Auth.Algorithm).(*jwt.SigningMethodHMAC); !ok {
		return fmt.Errorf("unsupported JWT algorithm: %s (must be HS256, HS384 or HS512)", c.Auth.Algorithm)
	}
	if c.Auth.TokenExpiry <= 0 {
		return fmt.Errorf("token expiry must be positive")
	}
	if c.Auth.DefaultQuota <= 0 {
		return fmt.Errorf("default quota must be positive")
	}

	if c.Invitation.UnboundTTL <= 0 || c.Invitation.BoundTTL <= 0 {
		return fmt.Errorf("invitation code lifetimes must be positive")
	}
	if c.Email.CodeTTL <= 0 {
		return fmt.Errorf("email code TTL must be positive")
	}
	if c.Email.MaxCodeAttempts <= 0 {
		return fmt.Errorf("email max code attempts must be positive")
	}

	if _, err := c.Usage.Location(); err != nil {
		return err
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r <= 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be in (0, 1], got %v", r)
		}
	}

	return nil
}

// Location resolves Timezone. An empty name means the process's local zone.
func (u UsageConfig) Location() (*time.Location, error) {
	if u.Timezone == "" || u.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid usage timezone %q: %w", u.Timezone, err)
	}
	return loc, nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
