package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatekeeper/pkg/async"
	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

const (
	dbStatsSchedule = "@every 15s"

	// jobTimeout bounds one run of a scheduled job
	jobTimeout = 5 * time.Minute

	// manifestReloadTimeout bounds one re-application of a changed manifest
	manifestReloadTimeout = time.Minute
)

func newServeCommand() *Command {
	cmd := &Command{
		Name:        "serve",
		Description: "Run the permission API server",
		Flags:       flag.NewFlagSet("serve", flag.ExitOnError),
		Run:         runServe,
	}

	cmd.Flags.String("port", "", "Port to listen on (overrides GATEKEEPER_PORT)")
	cmd.Flags.String("manifest", "", "Role manifest to apply at startup (overrides GATEKEEPER_MANIFEST_PATH)")

	return cmd
}

func runServe(args []string) error {
	cmd := newServeCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if port := cmd.Flags.Lookup("port").Value.String(); port != "" {
		cfg.Server.Port = port
	}
	if manifest := cmd.Flags.Lookup("manifest").Value.String(); manifest != "" {
		cfg.Manifest.Path = manifest
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, log)
}

// serve runs the API and health servers until ctx is cancelled
func serve(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) error {
	obs := cfg.Observability
	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        obs.OTelEnabled,
		Endpoint:       obs.OTelEndpoint,
		ServiceName:    obs.OTelServiceName,
		ServiceVersion: obs.OTelServiceVersion,
		Insecure:       obs.OTelInsecure,
		SampleRatio:    obs.OTelSampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	var opts appOptions
	if providers != nil {
		if opts.otelMetrics, err = observability.NewOTelMetrics(); err != nil {
			return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
		}
	}

	a, err := newApp(ctx, cfg, log, opts)
	if err != nil {
		return err
	}

	if err := a.manager.Initialize(ctx); err != nil {
		a.Close()
		return err
	}

	if cfg.Manifest.Path != "" {
		if err := applyManifestFile(ctx, a, cfg.Manifest.Path); err != nil {
			a.Close()
			return err
		}
	}

	scheduler, err := scheduleJobs(ctx, a)
	if err != nil {
		a.Close()
		return err
	}
	scheduler.Start()

	router := mux.NewRouter()
	router.Use(httputil.RequestID)
	router.Use(httputil.Recovery(log))
	router.Use(httputil.Logging(log))
	if obs.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(a.metrics))
	}
	a.manager.RegisterRoutes(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "gatekeeper"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(a.db, a.redis, obs.OTelServiceVersion))
	if obs.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(a.registry)).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Registered functions run in reverse order: the database closes last
	sm := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	sm.Register("app", func(context.Context) error { return a.Close() })
	sm.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, log)
	})
	sm.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	sm.Register("health server", healthServer.Shutdown)

	if cfg.Manifest.Watch {
		go watchManifest(ctx, a, cfg.Manifest)
	}

	errCh := make(chan error, 2)
	go func() {
		log.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()
	go func() {
		log.WithField("addr", server.Addr).Info("Gatekeeper API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return sm.Shutdown(context.Background())
	case err := <-errCh:
		log.WithError(err).Error("Server failed")
		if shutdownErr := sm.Shutdown(context.Background()); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	}
}

// scheduleJobs registers the catalog sync, assignment purge and pool stats
// jobs. Empty schedules disable a job.
func scheduleJobs(ctx context.Context, a *app) (*cron.Cron, error) {
	c := cron.New()

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"permission catalog sync", a.cfg.Jobs.SyncSchedule, func(ctx context.Context) error {
			if !a.manager.Service().SyncRolePermissions(ctx) {
				return errors.New("permission catalog sync failed")
			}
			return nil
		}},
		{"expired assignment purge", a.cfg.Jobs.PurgeSchedule, func(ctx context.Context) error {
			_, err := a.manager.PurgeExpired(ctx)
			return err
		}},
		{"database pool stats", dbStatsSchedule, func(context.Context) error {
			a.metrics.RecordDBStats(a.db)
			return nil
		}},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		if _, err := c.AddFunc(job.schedule, func() {
			if err := runJob(ctx, jobTimeout, job.run); err != nil {
				a.log.WithError(err).WithField("job", job.name).Warn("Scheduled job failed")
			}
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		a.log.WithFields(logrus.Fields{"job": job.name, "schedule": job.schedule}).Info("Scheduled job")
	}
	return c, nil
}

// runJob runs fn under timeout. A panic in fn is returned as an error.
func runJob(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
	}()
	return fn(ctx)
}

func applyManifestFile(ctx context.Context, a *app, path string) error {
	manifest, err := rbac.LoadManifest(path)
	if err != nil {
		return err
	}
	result, err := rbac.ApplyManifest(ctx, a.manager.Service(), manifest, rbac.AuditMeta{
		Actor:  "system",
		Reason: "role manifest " + path,
	})
	if err != nil {
		return fmt.Errorf("failed to apply manifest: %w", err)
	}
	a.log.WithFields(logrus.Fields{
		"path":      path,
		"created":   len(result.Created),
		"updated":   len(result.Updated),
		"unchanged": len(result.Unchanged),
	}).Info("Role manifest applied")
	return nil
}

// watchManifest re-applies the manifest whenever it changes. Each reload runs
// in the background under a timeout, one at a time. A bad edit is logged and
// the previous roles stay in place.
func watchManifest(ctx context.Context, a *app, cfg config.ManifestConfig) {
	defer observability.RecoverPanic(a.log, "manifest watcher")

	var reloading sync.Mutex
	err := rbac.WatchManifest(ctx, cfg.Path, cfg.Debounce, a.log, func() {
		async.SafeGo(ctx, a.log, manifestReloadTimeout, "manifest reload", func(ctx context.Context) error {
			reloading.Lock()
			defer reloading.Unlock()
			return applyManifestFile(ctx, a, cfg.Path)
		})
	})
	if err != nil {
		a.log.WithError(err).Error("Manifest watcher stopped")
	}
}
