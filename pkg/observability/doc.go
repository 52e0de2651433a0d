// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
// One logrus logger is built at startup and handed to components as
// entries tagged with their name:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	log := observability.Component(logger, "resolver")
//	log.WithField("user_id", userID).Info("Account resolved")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordResolution("owner_paid")
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// A nil *Metrics records nothing.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("database", true, cm.HealthCheck)
//	checker.AddCheck("redis", false, selections.Ping)
//	router.HandleFunc("/readyz", checker.Readiness)
//
// # Tracing
//
//	tracing, err := observability.StartTracing(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tenancy",
//	}, log)
//	shutdown.OnShutdown("tracing", tracing.Shutdown)
//
//	ctx, span := observability.StartSpan(ctx, "accounts.Resolve", attribute.String("user.id", userID))
//	defer span.End()
//
// # Shutdown
//
// Stages run one at a time, last registered first, under one deadline:
//
//	shutdown := observability.NewShutdownManager(log, 30*time.Second)
//	shutdown.OnShutdown("database", func(context.Context) error { return db.Close() })
//	shutdown.OnShutdown("http", server.Shutdown)
//	err := shutdown.WaitForShutdown(ctx)
package observability
