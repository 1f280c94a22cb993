package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

const auditWorkers = 4

// app holds the components shared by every command
type app struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	db       *sql.DB
	redis    *redis.Client
	registry *prometheus.Registry
	metrics  *observability.Metrics
	manager  *rbac.Manager
	audit    audit.Logger

	detachAudit func()
}

type appOptions struct {
	// otelMetrics is set by serve once the global meter provider is installed
	otelMetrics *observability.OTelMetrics
}

// loadApp reads the configuration and opens the application with a logger
// writing to stderr so that command output stays on stdout
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	log := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stderr)
	return newApp(ctx, cfg, log, appOptions{})
}

func newApp(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, opts appOptions) (*app, error) {
	db, err := openDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := rbac.RunMigrations(ctx, db, log); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a := &app{cfg: cfg, log: log, db: db}

	if cfg.Redis.URL != "" {
		a.redis, err = rbac.NewRedisClient(ctx, rbac.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		log.WithField("url", cfg.Redis.URL).Info("Connected to redis")
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewMetrics(a.registry)

	rbacCfg := rbac.DefaultConfig()
	rbacCfg.CacheEnabled = cfg.Cache.Enabled
	rbacCfg.CacheSize = cfg.Cache.Size
	rbacCfg.CacheTTL = cfg.Cache.TTL
	rbacCfg.RedisPrefix = cfg.Redis.KeyPrefix
	rbacCfg.SeedDefaults = cfg.Database.SeedDefaults
	rbacCfg.RequireAuthorization = cfg.Server.RequireAuthorization

	managerOpts := []rbac.ManagerOption{
		rbac.WithLogger(log),
		rbac.WithMetrics(a.metrics),
	}
	if a.redis != nil {
		managerOpts = append(managerOpts, rbac.WithRedis(a.redis))
	}
	if opts.otelMetrics != nil {
		managerOpts = append(managerOpts, rbac.WithOTelMetrics(opts.otelMetrics))
	}
	a.manager = rbac.NewManager(db, rbacCfg, managerOpts...)

	if cfg.Audit.Enabled {
		a.audit, err = buildAuditLogger(ctx, cfg.Audit, db, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.detachAudit = audit.NewSubscriber(a.audit, log).Attach(a.manager.Bus())
	}

	return a, nil
}

// openDB opens and verifies the configured database
func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// buildAuditLogger assembles the configured audit sinks. The logrus sink is
// always present; file and database sinks are optional.
func buildAuditLogger(ctx context.Context, cfg config.AuditConfig, db *sql.DB, log logrus.FieldLogger) (audit.Logger, error) {
	sinks := []audit.Logger{audit.NewLogrusLogger(log)}

	if cfg.FilePath != "" {
		fileLogger, err := audit.NewFileLogger(audit.FileLoggerConfig{BasePath: cfg.FilePath})
		if err != nil {
			return nil, fmt.Errorf("failed to create file audit logger: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}

	if cfg.Database {
		dbLogger, err := audit.NewDBLogger(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("failed to create database audit logger: %w", err)
		}
		sinks = append(sinks, dbLogger)
	}

	multi := audit.NewMultiLogger(log, sinks...)
	if cfg.Async {
		multi.SetAsync(ctx, auditWorkers)
	}
	return multi, nil
}

// Close releases everything opened by newApp, audit sinks first so that
// queued events are flushed while the database is still open
func (a *app) Close() error {
	if a.detachAudit != nil {
		a.detachAudit()
	}
	if a.manager != nil {
		a.manager.Close()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close audit logger")
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	return a.db.Close()
}
