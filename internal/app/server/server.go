package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"kpiboard/internal/app/workspace"
	"kpiboard/internal/domain/audit"
	"kpiboard/internal/domain/drafts"
	"kpiboard/internal/domain/identity"
	"kpiboard/internal/domain/reports"
	"kpiboard/internal/domain/roster"
	"kpiboard/internal/domain/workforce"
	"kpiboard/internal/platform/config"
	"kpiboard/internal/platform/crypto"
	"kpiboard/internal/platform/db"
	"kpiboard/internal/platform/jobs"
	"kpiboard/internal/platform/logger"
	"kpiboard/internal/platform/metrics"
	"kpiboard/internal/platform/redis"
	analyticshandler "kpiboard/internal/transport/http/handlers/analytics"
	audithandler "kpiboard/internal/transport/http/handlers/audit"
	authhandler "kpiboard/internal/transport/http/handlers/auth"
	operatorshandler "kpiboard/internal/transport/http/handlers/operators"
	settingshandler "kpiboard/internal/transport/http/handlers/settings"
	"kpiboard/internal/transport/http/middleware"
)

const sweepInterval = time.Minute

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config   config.Config
	Log      zerolog.Logger
	Identity *identity.Adapter
	Spaces   *workspace.Registry
	Limiter  middleware.Limiter
	Drafts   operatorshandler.Drafts
	Reports  operatorshandler.Reports
	Metrics  *metrics.Collector
	Audit    *audit.Service
	Keys     *middleware.IdempotencyStore
	Ready    map[string]Pinger
}

// NewRouter mounts probes, metrics and the versioned API.
func NewRouter(d Deps) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID(d.Log))
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(d.Config.IsProd()))
	if d.Metrics != nil {
		router.Use(middleware.Metrics(d.Metrics))
	}
	router.Use(middleware.BodyLimit(d.Config.MaxBodyBytes))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, dep := range d.Ready {
			if err := dep.Ping(ctx); err != nil {
				logger.From(r.Context()).Warn().Err(err).Str("dependency", name).Msg("readiness check failed")
				http.Error(w, name+" not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if d.Metrics != nil && d.Config.MetricsEnabled {
		router.Handle("/metrics", d.Metrics.Handler())
	}

	var traffic settingshandler.Traffic
	if d.Metrics != nil {
		traffic = d.Metrics
	}
	var (
		auditRecorder middleware.AuditRecorder
		auditEvents   audithandler.Events
	)
	if d.Audit != nil {
		auditRecorder = d.Audit
		auditEvents = d.Audit
	}
	var keys middleware.IdempotencyKeys
	if d.Keys != nil {
		keys = d.Keys
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(d.Limiter, d.Config.RateLimitPerMin, time.Minute))
		r.Use(middleware.SensitiveMutationRateLimit(d.Limiter, d.Config.RateLimitPerMin, time.Minute))

		authHandler := authhandler.NewHandler(d.Identity, d.Spaces)
		authHandler.RegisterPublic(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.Identity, d.Spaces))
			r.Use(middleware.Idempotency(keys))
			r.Use(middleware.Audit(auditRecorder))
			authHandler.RegisterRoutes(r)
			operatorshandler.NewHandler(d.Identity, d.Drafts, d.Reports).RegisterRoutes(r)
			analyticshandler.NewHandler().RegisterRoutes(r)
			settingshandler.NewHandler(traffic).RegisterRoutes(r)
			audithandler.NewHandler(auditEvents).RegisterRoutes(r)
		})
	})

	return router
}

// Run starts the service and blocks until SIGINT or SIGTERM.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := logger.New(logger.Options{ServiceName: "kpiboard", Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db connect failed: %w", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, db.Migrations, "migrations"); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool, cfg); err != nil {
			return fmt.Errorf("seed failed: %w", err)
		}
	}

	cache, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connect failed: %w", err)
	}
	defer func() { _ = cache.Close() }()

	sealer, err := crypto.New(cfg.ReportsKey)
	if err != nil {
		return err
	}

	collector := metrics.New()
	scheduler := jobs.New(log, cfg.BackendTimeout)
	scheduler.Observe(collector.JobRun)

	hub := roster.NewHub(pool, log)
	go hub.Run(ctx)

	rosterStore := roster.NewStore(pool)
	adapter := identity.NewAdapter(identity.NewStore(pool), rosterStore, cache, identity.AdapterOptions{
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		BackendTimeout: cfg.BackendTimeout,
		Logger:         log,
	})
	backends := func(principalID string, role workforce.Role) roster.Backend {
		return rosterStore.As(principalID, role)
	}
	spaces := workspace.NewRegistry(adapter, backends, hub, scheduler, workspace.Options{
		PollInterval:   cfg.PollInterval,
		IdleAfter:      cfg.IdleAfter,
		BackendTimeout: cfg.BackendTimeout,
		FallbackRoster: cfg.FallbackRoster,
		Metrics:        collector,
		Logger:         log,
	})
	if err := scheduler.Every("workspace-sweep", jobs.JobSweep, sweepInterval, spaces.Sweep); err != nil {
		return err
	}
	scheduler.Start()

	router := NewRouter(Deps{
		Config:   cfg,
		Log:      log,
		Identity: adapter,
		Spaces:   spaces,
		Limiter:  cache,
		Drafts:   drafts.NewService(cache, cfg.DraftTTL),
		Reports:  reports.NewService(cfg.ReportsDir, sealer),
		Metrics:  collector,
		Audit:    audit.New(pool),
		Keys:     middleware.NewIdempotencyStore(pool),
		Ready:    map[string]Pinger{"database": pool, "redis": cache},
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Bool("reports_sealed", sealer.Configured()).Msg("kpiboard listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	spaces.Shutdown()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("background jobs did not stop in time")
	}
	return nil
}
