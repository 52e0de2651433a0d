package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// Auth modes
const (
	AuthModeLocal = "local"
	AuthModeOIDC  = "oidc"
)

// Selection store kinds
const (
	SelectionStoreMemory = "memory"
	SelectionStoreFile   = "file"
	SelectionStoreRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Identity      IdentityConfig      `yaml:"identity"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Plans is the plan catalog: defaults overlaid with Identity.PlansFile
	Plans accounts.PlanCatalog `yaml:"-"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// SessionCookie names the cookie carrying the session id
	SessionCookie string `yaml:"session_cookie"`
	// SessionIdleTimeout closes sessions nobody used for this long
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	CookieSecure       bool          `yaml:"cookie_secure"`

	// Per client address limit on the /v1/auth routes. Zero disables it.
	AuthRateLimit  int           `yaml:"auth_rate_limit"`
	AuthRateWindow time.Duration `yaml:"auth_rate_window"`
	AuthRateBurst  int           `yaml:"auth_rate_burst"`
}

// DatabaseConfig holds the account store connection settings
type DatabaseConfig struct {
	Driver         string        `yaml:"driver"`
	URL            string        `yaml:"url"`
	ReplicaURLs    string        `yaml:"replica_urls"`
	MaxConns       int           `yaml:"max_conns"`
	MinConns       int           `yaml:"min_conns"`
	Timeout        time.Duration `yaml:"timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
	AutoMigrate    bool          `yaml:"auto_migrate"`
}

// RedisConfig holds the Redis settings used by the selection store
type RedisConfig struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
	KeyPrefix  string `yaml:"key_prefix"`
}

// AuthConfig selects and configures the authenticator and token scheduler
type AuthConfig struct {
	Mode string `yaml:"mode"`

	// local
	JWTSecret       string        `yaml:"jwt_secret"`
	Issuer          string        `yaml:"issuer"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	BcryptCost      int           `yaml:"bcrypt_cost"`

	// oidc
	OIDCIssuerURL    string   `yaml:"oidc_issuer_url"`
	OIDCClientID     string   `yaml:"oidc_client_id"`
	OIDCClientSecret string   `yaml:"oidc_client_secret"`
	OIDCScopes       []string `yaml:"oidc_scopes"`

	// token scheduler
	SafetyBuffer   time.Duration `yaml:"safety_buffer"`
	MinDelay       time.Duration `yaml:"min_delay"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// IdentityConfig holds account resolution and cache settings
type IdentityConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`

	AccountTTL      time.Duration `yaml:"account_ttl"`
	BusinessTTL     time.Duration `yaml:"business_ttl"`
	AdminTTL        time.Duration `yaml:"admin_ttl"`
	SubscriptionTTL time.Duration `yaml:"subscription_ttl"`

	SelectionStore string `yaml:"selection_store"`
	SelectionPath  string `yaml:"selection_path"`

	TrialLength time.Duration `yaml:"trial_length"`
	PlansFile   string        `yaml:"plans_file"`
}

// AuditConfig selects the audit trail sinks. Both may be enabled.
type AuditConfig struct {
	// Database writes events to the audit_events table and enables
	// GET /v1/identity/audit
	Database bool `yaml:"database"`
	// Dir enables the JSON lines file sink
	Dir         string `yaml:"dir"`
	MaxFileSize int64  `yaml:"max_file_size"`
	MaxFiles    int    `yaml:"max_files"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
	// OTelSampleRatio is the share of root traces exported; 0 exports all
	OTelSampleRatio float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               "8080",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			IdleTimeout:        60 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			SessionCookie:      "tenancy_session",
			SessionIdleTimeout: 24 * time.Hour,
			AuthRateLimit:      20,
			AuthRateWindow:     time.Minute,
			AuthRateBurst:      5,
		},
		Database: DatabaseConfig{
			Driver:         accounts.DriverSQLite,
			URL:            "file:tenancy.db?_foreign_keys=on",
			MaxConns:       20,
			MinConns:       5,
			Timeout:        30 * time.Second,
			HealthInterval: 30 * time.Second,
			AutoMigrate:    true,
		},
		Redis: RedisConfig{
			MaxRetries: 3,
			PoolSize:   10,
			KeyPrefix:  accounts.DefaultSelectionKeyPrefix,
		},
		Auth: AuthConfig{
			Mode:            AuthModeLocal,
			Issuer:          "tenancy",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 30 * 24 * time.Hour,
			SafetyBuffer:    5 * time.Minute,
			MinDelay:        10 * time.Second,
			RefreshTimeout:  30 * time.Second,
		},
		Identity: IdentityConfig{
			RetryAttempts:   1,
			RetryDelay:      time.Second,
			AccountTTL:      2 * time.Minute,
			BusinessTTL:     2 * time.Minute,
			AdminTTL:        5 * time.Minute,
			SubscriptionTTL: 5 * time.Minute,
			SelectionStore:  SelectionStoreMemory,
			TrialLength:     accounts.DefaultTrialLength,
		},
		Audit: AuditConfig{
			Database:    true,
			MaxFileSize: 100 * 1024 * 1024,
			MaxFiles:    10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tenancy",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// TENANCY_CONFIG_FILE and TENANCY_* environment variables, in that order of
// precedence from lowest to highest
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("TENANCY_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Server = loadServerConfig(cfg.Server)
	cfg.Database = loadDatabaseConfig(cfg.Database)
	cfg.Redis = loadRedisConfig(cfg.Redis)
	cfg.Auth = loadAuthConfig(cfg.Auth)
	cfg.Identity = loadIdentityConfig(cfg.Identity)
	cfg.Audit = loadAuditConfig(cfg.Audit)
	cfg.Observability = loadObservabilityConfig(cfg.Observability)

	plans := accounts.DefaultPlanCatalog()
	if cfg.Identity.PlansFile != "" {
		var err error
		if plans, err = accounts.LoadPlanCatalog(cfg.Identity.PlansFile); err != nil {
			return nil, err
		}
	}
	cfg.Plans = plans

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML file at path
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig(cfg ServerConfig) ServerConfig {
	return ServerConfig{
		Host:               getEnv("TENANCY_HOST", cfg.Host),
		Port:               getEnv("TENANCY_PORT", cfg.Port),
		ReadTimeout:        getEnvDuration("TENANCY_READ_TIMEOUT", cfg.ReadTimeout),
		WriteTimeout:       getEnvDuration("TENANCY_WRITE_TIMEOUT", cfg.WriteTimeout),
		IdleTimeout:        getEnvDuration("TENANCY_IDLE_TIMEOUT", cfg.IdleTimeout),
		ShutdownTimeout:    getEnvDuration("TENANCY_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout),
		SessionCookie:      getEnv("TENANCY_SESSION_COOKIE", cfg.SessionCookie),
		SessionIdleTimeout: getEnvDuration("TENANCY_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout),
		CookieSecure:       getEnvBool("TENANCY_COOKIE_SECURE", cfg.CookieSecure),
		AuthRateLimit:      getEnvInt("TENANCY_AUTH_RATE_LIMIT", cfg.AuthRateLimit),
		AuthRateWindow:     getEnvDuration("TENANCY_AUTH_RATE_WINDOW", cfg.AuthRateWindow),
		AuthRateBurst:      getEnvInt("TENANCY_AUTH_RATE_BURST", cfg.AuthRateBurst),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig(cfg DatabaseConfig) DatabaseConfig {
	return DatabaseConfig{
		Driver:         getEnv("TENANCY_DATABASE_DRIVER", cfg.Driver),
		URL:            getEnv("TENANCY_DATABASE_URL", cfg.URL),
		ReplicaURLs:    getEnv("TENANCY_DATABASE_REPLICA_URLS", cfg.ReplicaURLs),
		MaxConns:       getEnvInt("TENANCY_DATABASE_MAX_CONNS", cfg.MaxConns),
		MinConns:       getEnvInt("TENANCY_DATABASE_MIN_CONNS", cfg.MinConns),
		Timeout:        getEnvDuration("TENANCY_DATABASE_TIMEOUT", cfg.Timeout),
		HealthInterval: getEnvDuration("TENANCY_DATABASE_HEALTH_INTERVAL", cfg.HealthInterval),
		AutoMigrate:    getEnvBool("TENANCY_DATABASE_AUTO_MIGRATE", cfg.AutoMigrate),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig(cfg RedisConfig) RedisConfig {
	return RedisConfig{
		URL:        getEnv("TENANCY_REDIS_URL", cfg.URL),
		Password:   getEnv("TENANCY_REDIS_PASSWORD", cfg.Password),
		DB:         getEnvInt("TENANCY_REDIS_DB", cfg.DB),
		MaxRetries: getEnvInt("TENANCY_REDIS_MAX_RETRIES", cfg.MaxRetries),
		PoolSize:   getEnvInt("TENANCY_REDIS_POOL_SIZE", cfg.PoolSize),
		KeyPrefix:  getEnv("TENANCY_REDIS_KEY_PREFIX", cfg.KeyPrefix),
	}
}

// loadAuthConfig loads authentication configuration from environment
func loadAuthConfig(cfg AuthConfig) AuthConfig {
	scopes := cfg.OIDCScopes
	if raw := getEnv("TENANCY_OIDC_SCOPES", ""); raw != "" {
		scopes = splitList(raw)
	}

	return AuthConfig{
		Mode:             strings.ToLower(getEnv("TENANCY_AUTH_MODE", cfg.Mode)),
		JWTSecret:        getEnv("TENANCY_JWT_SECRET", cfg.JWTSecret),
		Issuer:           getEnv("TENANCY_JWT_ISSUER", cfg.Issuer),
		AccessTokenTTL:   getEnvDuration("TENANCY_ACCESS_TOKEN_TTL", cfg.AccessTokenTTL),
		RefreshTokenTTL:  getEnvDuration("TENANCY_REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL),
		BcryptCost:       getEnvInt("TENANCY_BCRYPT_COST", cfg.BcryptCost),
		OIDCIssuerURL:    getEnv("TENANCY_OIDC_ISSUER_URL", cfg.OIDCIssuerURL),
		OIDCClientID:     getEnv("TENANCY_OIDC_CLIENT_ID", cfg.OIDCClientID),
		OIDCClientSecret: getEnv("TENANCY_OIDC_CLIENT_SECRET", cfg.OIDCClientSecret),
		OIDCScopes:       scopes,
		SafetyBuffer:     getEnvDuration("TENANCY_TOKEN_SAFETY_BUFFER", cfg.SafetyBuffer),
		MinDelay:         getEnvDuration("TENANCY_TOKEN_MIN_DELAY", cfg.MinDelay),
		RefreshTimeout:   getEnvDuration("TENANCY_TOKEN_REFRESH_TIMEOUT", cfg.RefreshTimeout),
	}
}

// loadIdentityConfig loads resolution and cache configuration from environment
func loadIdentityConfig(cfg IdentityConfig) IdentityConfig {
	return IdentityConfig{
		RetryAttempts:   getEnvInt("TENANCY_RESOLVE_RETRY_ATTEMPTS", cfg.RetryAttempts),
		RetryDelay:      getEnvDuration("TENANCY_RESOLVE_RETRY_DELAY", cfg.RetryDelay),
		AccountTTL:      getEnvDuration("TENANCY_CACHE_ACCOUNT_TTL", cfg.AccountTTL),
		BusinessTTL:     getEnvDuration("TENANCY_CACHE_BUSINESS_TTL", cfg.BusinessTTL),
		AdminTTL:        getEnvDuration("TENANCY_CACHE_ADMIN_TTL", cfg.AdminTTL),
		SubscriptionTTL: getEnvDuration("TENANCY_CACHE_SUBSCRIPTION_TTL", cfg.SubscriptionTTL),
		SelectionStore:  strings.ToLower(getEnv("TENANCY_SELECTION_STORE", cfg.SelectionStore)),
		SelectionPath:   getEnv("TENANCY_SELECTION_PATH", cfg.SelectionPath),
		TrialLength:     getEnvDuration("TENANCY_TRIAL_LENGTH", cfg.TrialLength),
		PlansFile:       getEnv("TENANCY_PLANS_FILE", cfg.PlansFile),
	}
}

// loadAuditConfig loads audit trail configuration from environment
func loadAuditConfig(cfg AuditConfig) AuditConfig {
	return AuditConfig{
		Database:    getEnvBool("TENANCY_AUDIT_DATABASE", cfg.Database),
		Dir:         getEnv("TENANCY_AUDIT_DIR", cfg.Dir),
		MaxFileSize: int64(getEnvInt("TENANCY_AUDIT_MAX_FILE_SIZE", int(cfg.MaxFileSize))),
		MaxFiles:    getEnvInt("TENANCY_AUDIT_MAX_FILES", cfg.MaxFiles),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig(cfg ObservabilityConfig) ObservabilityConfig {
	level := cfg.LogLevel
	if raw := getEnv("TENANCY_LOG_LEVEL", ""); raw != "" {
		level = observability.ParseLogLevel(raw)
	}

	return ObservabilityConfig{
		LogLevel:           level,
		MetricsEnabled:     getEnvBool("TENANCY_METRICS_ENABLED", cfg.MetricsEnabled),
		OTelEnabled:        getEnvBool("TENANCY_OTEL_ENABLED", cfg.OTelEnabled),
		OTelEndpoint:       getEnv("TENANCY_OTEL_ENDPOINT", cfg.OTelEndpoint),
		OTelServiceName:    getEnv("TENANCY_OTEL_SERVICE_NAME", cfg.OTelServiceName),
		OTelServiceVersion: getEnv("TENANCY_OTEL_SERVICE_VERSION", cfg.OTelServiceVersion),
		OTelInsecure:       getEnvBool("TENANCY_OTEL_INSECURE", cfg.OTelInsecure),
		OTelSampleRatio:    getEnvFloat("TENANCY_OTEL_SAMPLE_RATIO", cfg.OTelSampleRatio),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.SessionCookie == "" {
		return fmt.Errorf("session cookie name is required")
	}
	if c.Server.AuthRateLimit > 0 && c.Server.AuthRateWindow <= 0 {
		return fmt.Errorf("auth rate window must be positive when rate limiting is enabled")
	}

	// Validate database config
	switch c.Database.Driver {
	case accounts.DriverPostgres, accounts.DriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)", c.Database.Driver, accounts.DriverPostgres, accounts.DriverSQLite)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	// Validate auth config
	switch c.Auth.Mode {
	case AuthModeLocal:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required for local auth")
		}
	case AuthModeOIDC:
		if c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "" {
			return fmt.Errorf("OIDC issuer URL and client ID are required for oidc auth")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be %s or %s)", c.Auth.Mode, AuthModeLocal, AuthModeOIDC)
	}

	// Validate identity config
	if c.Identity.RetryAttempts < 0 {
		return fmt.Errorf("resolve retry attempts must not be negative")
	}
	for name, ttl := range map[string]time.Duration{
		"account":      c.Identity.AccountTTL,
		"business":     c.Identity.BusinessTTL,
		"admin":        c.Identity.AdminTTL,
		"subscription": c.Identity.SubscriptionTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s cache TTL must be positive", name)
		}
	}
	switch c.Identity.SelectionStore {
	case SelectionStoreMemory:
	case SelectionStoreFile:
		if c.Identity.SelectionPath == "" {
			return fmt.Errorf("selection path is required for the file selection store")
		}
	case SelectionStoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis selection store")
		}
	default:
		return fmt.Errorf("invalid selection store: %s (must be memory, file, or redis)", c.Identity.SelectionStore)
	}

	// Validate audit config
	if c.Audit.Dir != "" && (c.Audit.MaxFileSize <= 0 || c.Audit.MaxFiles <= 0) {
		return fmt.Errorf("audit max file size and max files must be positive when the file sink is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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

// getEnvFloat returns a float environment variable or a default
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
