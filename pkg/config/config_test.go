package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STRING", "custom")
	t.Setenv("TEST_BOOL_TRUE", "TRUE")
	t.Setenv("TEST_BOOL_ONE", "1")
	t.Setenv("TEST_BOOL_OTHER", "yes")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty-two")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_DURATION_BAD", "soon")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_FLOAT_BAD", "quarter")

	assert.Equal(t, "custom", getEnv("TEST_STRING", "default"))
	assert.Equal(t, "default", getEnv("TEST_STRING_UNSET", "default"))

	assert.True(t, getEnvBool("TEST_BOOL_TRUE", false))
	assert.True(t, getEnvBool("TEST_BOOL_ONE", false))
	assert.False(t, getEnvBool("TEST_BOOL_OTHER", true))
	assert.True(t, getEnvBool("TEST_BOOL_UNSET", true))

	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("TEST_INT_BAD", 7))

	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", 0))
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DURATION_BAD", time.Minute))

	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 1))
	assert.Equal(t, 1.0, getEnvFloat("TEST_FLOAT_BAD", 1))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"openid", "email"}, splitList(" openid, ,email "))
	assert.Nil(t, splitList(""))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TENANCY_JWT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, accounts.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, AuthModeLocal, cfg.Auth.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Auth.SafetyBuffer)
	assert.Equal(t, 10*time.Second, cfg.Auth.MinDelay)
	assert.Equal(t, 1, cfg.Identity.RetryAttempts)
	assert.Equal(t, time.Second, cfg.Identity.RetryDelay)
	assert.Equal(t, 2*time.Minute, cfg.Identity.AccountTTL)
	assert.Equal(t, 2*time.Minute, cfg.Identity.BusinessTTL)
	assert.Equal(t, 5*time.Minute, cfg.Identity.AdminTTL)
	assert.Equal(t, 5*time.Minute, cfg.Identity.SubscriptionTTL)
	assert.Equal(t, SelectionStoreMemory, cfg.Identity.SelectionStore)
	assert.Equal(t, accounts.DefaultPlanCatalog(), cfg.Plans)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Audit.Database)
	assert.Empty(t, cfg.Audit.Dir)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("TENANCY_PORT", "9000")
	t.Setenv("TENANCY_DATABASE_DRIVER", "postgres")
	t.Setenv("TENANCY_DATABASE_URL", "postgres://localhost/tenancy")
	t.Setenv("TENANCY_AUTH_MODE", "OIDC")
	t.Setenv("TENANCY_OIDC_ISSUER_URL", "https://id.example.com")
	t.Setenv("TENANCY_OIDC_CLIENT_ID", "dashboard")
	t.Setenv("TENANCY_OIDC_SCOPES", "openid,email")
	t.Setenv("TENANCY_SELECTION_STORE", "redis")
	t.Setenv("TENANCY_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("TENANCY_RESOLVE_RETRY_DELAY", "250ms")
	t.Setenv("TENANCY_CACHE_ADMIN_TTL", "10m")
	t.Setenv("TENANCY_LOG_LEVEL", "debug")
	t.Setenv("TENANCY_AUDIT_DATABASE", "false")
	t.Setenv("TENANCY_AUDIT_DIR", "/var/log/tenancy")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, accounts.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, AuthModeOIDC, cfg.Auth.Mode)
	assert.Equal(t, []string{"openid", "email"}, cfg.Auth.OIDCScopes)
	assert.Equal(t, SelectionStoreRedis, cfg.Identity.SelectionStore)
	assert.Equal(t, 250*time.Millisecond, cfg.Identity.RetryDelay)
	assert.Equal(t, 10*time.Minute, cfg.Identity.AdminTTL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Audit.Database)
	assert.Equal(t, "/var/log/tenancy", cfg.Audit.Dir)
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	plansPath := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(plansPath, []byte("maven:\n  max_users: 25\n"), 0o600))

	configPath := filepath.Join(dir, "tenancy.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
server:
  port: "7000"
auth:
  jwt_secret: from-file
identity:
  account_ttl: 30s
  selection_store: file
  selection_path: `+filepath.Join(dir, "selections.json")+`
  plans_file: `+plansPath+`
observability:
  log_level: warn
`), 0o600))

	t.Setenv("TENANCY_CONFIG_FILE", configPath)
	t.Setenv("TENANCY_PORT", "7001")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	// environment wins over the file
	assert.Equal(t, "7001", cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 30*time.Second, cfg.Identity.AccountTTL)
	assert.Equal(t, 2*time.Minute, cfg.Identity.BusinessTTL)
	assert.Equal(t, SelectionStoreFile, cfg.Identity.SelectionStore)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 25, cfg.Plans[accounts.PlanMaven].MaxUsers)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("TENANCY_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))
		t.Setenv("TENANCY_CONFIG_FILE", path)
		_, err := LoadConfig()
		assert.Error(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := LoadConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT secret")
	})
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.JWTSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port"},
		{"missing cookie", func(c *Config) { c.Server.SessionCookie = "" }, "session cookie"},
		{"rate limit without window", func(c *Config) { c.Server.AuthRateWindow = 0 }, "auth rate window"},
		{"rate limit disabled", func(c *Config) {
			c.Server.AuthRateLimit = 0
			c.Server.AuthRateWindow = 0
		}, ""},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid database driver"},
		{"missing database url", func(c *Config) { c.Database.URL = "" }, "database URL"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT secret"},
		{"oidc without issuer", func(c *Config) { c.Auth.Mode = AuthModeOIDC }, "OIDC issuer"},
		{"bad auth mode", func(c *Config) { c.Auth.Mode = "saml" }, "invalid auth mode"},
		{"negative retries", func(c *Config) { c.Identity.RetryAttempts = -1 }, "retry attempts"},
		{"zero ttl", func(c *Config) { c.Identity.AdminTTL = 0 }, "admin cache TTL"},
		{"file store without path", func(c *Config) { c.Identity.SelectionStore = SelectionStoreFile }, "selection path"},
		{"redis store without url", func(c *Config) { c.Identity.SelectionStore = SelectionStoreRedis }, "redis URL"},
		{"bad selection store", func(c *Config) { c.Identity.SelectionStore = "etcd" }, "invalid selection store"},
		{"audit file without rotation limits", func(c *Config) {
			c.Audit.Dir = "/var/log/tenancy"
			c.Audit.MaxFiles = 0
		}, "audit max file size"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "OpenTelemetry endpoint"},
		{"otel without service name", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelServiceName = ""
		}, "OpenTelemetry service name"},
		{"otel sample ratio above one", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelSampleRatio = 1.5
		}, "sample ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
