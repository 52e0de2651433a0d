package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/api"
	"github.com/platinummonkey/tenancy/pkg/audit"
	"github.com/platinummonkey/tenancy/pkg/auth"
	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/identity"
	"github.com/platinummonkey/tenancy/pkg/middleware"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// sessionReapInterval is how often idle sessions are looked for
const sessionReapInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the identity HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, stop)
	},
}

func serve(ctx context.Context, stop context.CancelFunc) (err error) {
	log := observability.Component(logger, "server")

	// Stages run last registered first, so resources are registered as they
	// are opened. A failed startup releases whatever was already opened.
	shutdown := observability.NewShutdownManager(log, cfg.Server.ShutdownTimeout)
	defer func() {
		if err != nil {
			_ = shutdown.Shutdown()
		}
	}()

	tracing, err := observability.StartTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, observability.Component(logger, "tracing"))
	if err != nil {
		return err
	}
	shutdown.OnShutdown("tracing", tracing.Shutdown)

	var (
		promRegistry *prometheus.Registry
		metrics      *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		promRegistry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(promRegistry)
	}

	b, err := openBackend(cfg, log, metrics)
	if err != nil {
		return err
	}
	shutdown.OnShutdown("backend", func(context.Context) error { return b.Close() })
	if cfg.Database.AutoMigrate {
		if err := b.migrate(ctx, log); err != nil {
			return err
		}
	}
	b.conns.StartHealthCheckRoutine(ctx, cfg.Database.HealthInterval)

	authn, err := newAuthenticator(ctx, cfg, b, logger)
	if err != nil {
		return err
	}

	auditLog, auditSearch, err := newAuditLogger(cfg, b)
	if err != nil {
		return err
	}
	shutdown.OnShutdown("audit", func(context.Context) error { return auditLog.Close() })

	registry := api.NewSessionRegistry(func() (*identity.Facade, error) {
		return identity.NewFacade(identity.FacadeDeps{
			Authenticator: authn,
			Resolver:      b.resolver,
			Store:         b.store,
			Catalog:       cfg.Plans,
		},
			identity.WithFacadeLogger(observability.Component(logger, "identity")),
			identity.WithFacadeMetrics(metrics),
			identity.WithCacheTTLs(identity.CacheTTLs{
				Account:      cfg.Identity.AccountTTL,
				Business:     cfg.Identity.BusinessTTL,
				Admin:        cfg.Identity.AdminTTL,
				Subscription: cfg.Identity.SubscriptionTTL,
			}),
			identity.WithSchedulerOptions(
				auth.WithSafetyBuffer(cfg.Auth.SafetyBuffer),
				auth.WithMinDelay(cfg.Auth.MinDelay),
				auth.WithRefreshTimeout(cfg.Auth.RefreshTimeout),
			),
		)
	},
		api.WithIdleTimeout(cfg.Server.SessionIdleTimeout),
		api.WithRegistryLogger(observability.Component(logger, "sessions")),
		api.WithRegistryMetrics(metrics),
		api.WithRegistryAudit(auditLog),
	)
	reaperDone := registry.StartReaper(ctx, sessionReapInterval)
	// Facades may still be loading from the store and writing expiry events,
	// so sessions close before the audit sink and the database.
	shutdown.OnShutdown("sessions", func(ctx context.Context) error {
		registry.Close()
		select {
		case <-reaperDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	health := observability.NewHealthChecker(version)
	health.AddCheck("database", true, b.conns.HealthCheck)
	if b.redis != nil {
		health.AddCheck("redis", cfg.Identity.SelectionStore == config.SelectionStoreRedis, func(ctx context.Context) error {
			return b.redis.Ping(ctx).Err()
		})
	}

	server, err := api.NewServer(api.ServerDeps{
		Registry:    registry,
		Resolver:    b.resolver,
		Businesses:  b.store,
		Health:      health,
		Prometheus:  promRegistry,
		AuthLimiter: newAuthLimiter(ctx, cfg, b),
		Audit:       auditLog,
		AuditSearch: auditSearch,
		Metrics:     metrics,
		Logger:      observability.Component(logger, "api"),
	}, api.ServerOptions{
		SessionCookie:  cfg.Server.SessionCookie,
		CookieSecure:   cfg.Server.CookieSecure,
		SessionMaxAge:  cfg.Server.SessionIdleTimeout,
		AuthRetryAfter: cfg.Server.AuthRateWindow,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown.OnShutdown("http", httpServer.Shutdown)

	listenErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":      httpServer.Addr,
			"auth_mode": cfg.Auth.Mode,
			"selection": cfg.Identity.SelectionStore,
		}).Info("Starting tenancy server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
			stop()
		}
	}()

	shutdownErr := shutdown.WaitForShutdown(ctx)
	select {
	case err := <-listenErr:
		return fmt.Errorf("server error: %w", err)
	default:
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	log.Info("Server stopped")
	return nil
}

// newAuthenticator builds the configured authenticator. Local sign-ups get a
// trial account provisioned in the background.
func newAuthenticator(ctx context.Context, cfg *config.Config, b *backend, logger *logrus.Logger) (auth.Authenticator, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeOIDC:
		return auth.NewOIDCAuthenticator(ctx, auth.OIDCConfig{
			IssuerURL:    cfg.Auth.OIDCIssuerURL,
			ClientID:     cfg.Auth.OIDCClientID,
			ClientSecret: cfg.Auth.OIDCClientSecret,
			Scopes:       cfg.Auth.OIDCScopes,
			Logger:       observability.Component(logger, "oidc"),
		})
	default:
		local, err := auth.NewLocalAuthenticator(b.conns.Primary(), auth.LocalConfig{
			JWTSecret:       []byte(cfg.Auth.JWTSecret),
			Issuer:          cfg.Auth.Issuer,
			AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
			RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
			BcryptCost:      cfg.Auth.BcryptCost,
			Logger:          observability.Component(logger, "local_auth"),
		})
		if err != nil {
			return nil, err
		}

		provisioner := accounts.NewProvisioner(b.conns.Primary(), nil, cfg.Identity.TrialLength,
			observability.Component(logger, "provisioner"))
		local.OnSignUp(func(ctx context.Context, user *auth.User) error {
			_, err := provisioner.ProvisionAccount(ctx, user.ID)
			return err
		})
		return local, nil
	}
}

// newAuthLimiter returns the limiter for the credential routes: shared
// through Redis when configured, per process otherwise
func newAuthLimiter(ctx context.Context, cfg *config.Config, b *backend) middleware.Limiter {
	if cfg.Server.AuthRateLimit <= 0 {
		return nil
	}
	limits := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Server.AuthRateLimit,
		WindowDuration:    cfg.Server.AuthRateWindow,
		BurstSize:         cfg.Server.AuthRateBurst,
	}
	if b.redis != nil {
		return middleware.NewDistributedRateLimiter(b.redis, limits, "")
	}
	limiter := middleware.NewRateLimiter(limits, nil)
	limiter.StartCleanup(ctx)
	return limiter
}

// newAuditLogger opens the configured audit sinks. The search side is only
// available with the database sink.
func newAuditLogger(cfg *config.Config, b *backend) (audit.Logger, api.AuditSearcher, error) {
	var (
		sinks  []audit.Logger
		search api.AuditSearcher
	)
	if cfg.Audit.Database {
		db, err := audit.NewDBLogger(b.conns.Primary())
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, db)
		search = db
	}
	if cfg.Audit.Dir != "" {
		file, err := audit.NewFileLogger(audit.FileLoggerConfig{
			Dir:      cfg.Audit.Dir,
			MaxSize:  cfg.Audit.MaxFileSize,
			MaxFiles: cfg.Audit.MaxFiles,
		})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, file)
	}

	switch len(sinks) {
	case 0:
		return audit.NopLogger{}, nil, nil
	case 1:
		return sinks[0], search, nil
	default:
		return audit.NewMultiLogger(sinks...), search, nil
	}
}
