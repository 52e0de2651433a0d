package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/config"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// backend holds the storage shared by every command
type backend struct {
	conns      *accounts.ConnectionManager
	store      *accounts.SQLStore
	redis      *redis.Client
	selections accounts.SelectionStore
	resolver   *accounts.Resolver
}

func openBackend(cfg *config.Config, log *logrus.Entry, metrics *observability.Metrics) (*backend, error) {
	conns, err := accounts.NewConnectionManager(accounts.ConnectionConfig{
		Driver:      cfg.Database.Driver,
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: accounts.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
	}, log.WithField("component", "database"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &backend{
		conns: conns,
		store: accounts.NewSQLStoreWithReplicas(conns),
	}

	if cfg.Redis.URL != "" {
		b.redis, err = accounts.NewRedisClient(accounts.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
	}

	switch cfg.Identity.SelectionStore {
	case config.SelectionStoreFile:
		b.selections, err = accounts.NewFileSelectionStore(cfg.Identity.SelectionPath)
		if err != nil {
			b.Close()
			return nil, err
		}
	case config.SelectionStoreRedis:
		b.selections = accounts.NewRedisSelectionStoreFromClient(b.redis, cfg.Redis.KeyPrefix)
	default:
		b.selections = accounts.NewMemorySelectionStore()
	}

	b.resolver = accounts.NewResolver(b.store, b.selections,
		accounts.WithRetryPolicy(accounts.RetryPolicy{
			MaxRetries: cfg.Identity.RetryAttempts,
			Delay:      cfg.Identity.RetryDelay,
		}),
		accounts.WithResolverLogger(log.WithField("component", "account_resolver")),
		accounts.WithResolverMetrics(metrics),
	)
	return b, nil
}

func (b *backend) migrate(ctx context.Context, log *logrus.Entry) error {
	return accounts.RunMigrations(ctx, b.conns.Primary(), log.WithField("component", "migrations"))
}

func (b *backend) Close() error {
	var errs []error
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := b.conns.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
