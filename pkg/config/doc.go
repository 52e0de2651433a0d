// Package config loads and validates the service configuration.
//
// Values come from three layers, lowest precedence first: built-in
// defaults, an optional YAML file named by TENANCY_CONFIG_FILE, and
// TENANCY_* environment variables.
//
// Server settings:
//
//	TENANCY_HOST="0.0.0.0"
//	TENANCY_PORT="8080"
//	TENANCY_SESSION_COOKIE="tenancy_session"
//	TENANCY_SESSION_IDLE_TIMEOUT="24h"
//	TENANCY_AUTH_RATE_LIMIT="20"  # per client address per window, 0 disables
//
// Database settings:
//
//	TENANCY_DATABASE_DRIVER="postgres"  # postgres, sqlite3
//	TENANCY_DATABASE_URL="postgres://localhost/tenancy"
//	TENANCY_DATABASE_REPLICA_URLS="postgres://replica1/tenancy,postgres://replica2/tenancy"
//
// Authentication settings:
//
//	TENANCY_AUTH_MODE="local"  # local, oidc
//	TENANCY_JWT_SECRET="..."
//	TENANCY_OIDC_ISSUER_URL="https://id.example.com"
//	TENANCY_OIDC_CLIENT_ID="dashboard"
//	TENANCY_TOKEN_SAFETY_BUFFER="5m"
//
// Identity settings:
//
//	TENANCY_RESOLVE_RETRY_ATTEMPTS="1"
//	TENANCY_RESOLVE_RETRY_DELAY="1s"
//	TENANCY_CACHE_ACCOUNT_TTL="2m"
//	TENANCY_SELECTION_STORE="redis"  # memory, file, redis
//	TENANCY_REDIS_URL="redis://localhost:6379/0"
//	TENANCY_PLANS_FILE="/etc/tenancy/plans.yaml"
//
// Audit settings:
//
//	TENANCY_AUDIT_DATABASE="true"  # audit_events table, enables GET /v1/identity/audit
//	TENANCY_AUDIT_DIR="/var/log/tenancy"  # JSON lines file sink
//
// Observability settings:
//
//	TENANCY_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANCY_METRICS_ENABLED="true"
//	TENANCY_OTEL_ENABLED="true"
//	TENANCY_OTEL_ENDPOINT="otel-collector:4317"
//	TENANCY_OTEL_SAMPLE_RATIO="0.1"  # 0 exports every trace
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
