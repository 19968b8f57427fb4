package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/jara-app/rewards-gateway/internal/api/gateway"
	"github.com/jara-app/rewards-gateway/internal/cache"
	"github.com/jara-app/rewards-gateway/internal/config"
	"github.com/jara-app/rewards-gateway/internal/localstore"
	"github.com/jara-app/rewards-gateway/internal/notify"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/remote/rest"
	"github.com/jara-app/rewards-gateway/internal/repository"
	"github.com/jara-app/rewards-gateway/internal/service/scheduler"
	"github.com/jara-app/rewards-gateway/internal/service/session"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway and background jobs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

// backend is the identity and data pair selected by backend.mode.
type backend struct {
	auth     remote.Auth
	data     remote.Data
	accounts scheduler.Purger
	checks   map[string]gateway.HealthCheck
	close    func()
}

func openBackend(ctx context.Context, cfg *config.Config, clock clockwork.Clock, loc *time.Location, log *logger.Logger) (*backend, error) {
	if cfg.Backend.Mode == config.BackendModeREST {
		client := rest.NewClient(&cfg.Backend, log)
		log.Info().Str("url", cfg.Backend.URL).Msg("Using hosted backend")
		return &backend{auth: client, data: client, checks: map[string]gateway.HealthCheck{}, close: func() {}}, nil
	}

	if err := repository.RunMigrations(cfg.Database.Postgres.URL(), log); err != nil {
		return nil, err
	}
	db, err := repository.NewDB(&cfg.Database.Postgres, log)
	if err != nil {
		return nil, err
	}
	data := repository.NewBackend(db, clock, loc)
	if err := data.EnsureCoinPool(ctx, cfg.Economy.TotalSupply); err != nil {
		_ = db.Close()
		return nil, err
	}
	accounts := repository.NewAccounts(db, clock)
	log.Info().Str("host", cfg.Database.Postgres.Host).Msg("Using reference backend")

	return &backend{
		auth:     accounts,
		data:     data,
		accounts: accounts,
		checks: map[string]gateway.HealthCheck{
			"database": func(context.Context) error { return db.Health() },
		},
		close: func() { _ = db.Close() },
	}, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Missions.Location()
	if err != nil {
		return err
	}
	clock := clockwork.NewRealClock()

	be, err := openBackend(ctx, cfg, clock, loc, log)
	if err != nil {
		return fmt.Errorf("failed to open backend: %w", err)
	}
	defer be.close()

	store, err := localstore.Open(&cfg.LocalStore, log)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer store.Close()

	var poolCache *cache.PoolCache
	if cfg.Database.Redis.Host != "" {
		redisCache, err := cache.NewCache(&cfg.Database.Redis, log)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisCache.Close()
		poolCache = cache.NewPoolCache(redisCache, cfg.Economy.PoolCacheTTL(), log)
		be.checks["redis"] = redisCache.Health
	} else {
		log.Info().Msg("Redis not configured, pool snapshots are per-session")
	}

	sessions := session.NewManager(session.Deps{
		Auth:      be.auth,
		Data:      be.data,
		Store:     store,
		PoolCache: poolCache,
		Config:    cfg,
		Clock:     clock,
		Location:  loc,
		Log:       log,
	})
	defer sessions.Close()

	jobs := scheduler.NewService(cfg, be.data, poolCache, sessions, notify.NewClient(&cfg.Notify, log), be.accounts, clock, log)
	if err := jobs.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer jobs.Stop()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	metricsPath := ""
	if cfg.Metrics.Prometheus.Enabled {
		metricsPath = cfg.Metrics.Prometheus.Path
	}
	gateway.NewHandler(sessions, be.checks, log).Register(router, metricsPath)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("backend", cfg.Backend.Mode).Msg("Gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	return nil
}
