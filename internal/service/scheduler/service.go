// Package scheduler runs the gateway's background jobs: pool refresh and
// low-pool alerting, mission rollover, idle session eviction and expired
// account session cleanup.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"github.com/jara-app/rewards-gateway/internal/cache"
	"github.com/jara-app/rewards-gateway/internal/config"
	prommetrics "github.com/jara-app/rewards-gateway/internal/metrics"
	"github.com/jara-app/rewards-gateway/internal/remote"
	"github.com/jara-app/rewards-gateway/internal/service/session"
	"github.com/jara-app/rewards-gateway/pkg/logger"
)

// Job names, used as metric labels.
const (
	JobPoolRefresh     = "pool_refresh"
	JobRolloverSweep   = "rollover_sweep"
	JobSessionEviction = "session_eviction"
	JobAccountPurge    = "account_purge"
)

const alertCooldown = 24 * time.Hour

// PoolSource reads the canonical pool counters.
type PoolSource interface {
	GetCoinPool(ctx context.Context) (*remote.CoinPool, error)
}

// Alerter raises the low-pool operator notice.
type Alerter interface {
	SendLowPoolAlert(ctx context.Context, pool *remote.CoinPool, threshold int) error
}

// Purger drops expired account sessions.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type job struct {
	name string
	schedule string
	run  func(ctx context.Context) error
}

// Service handles background job scheduling.
type Service struct {
	config    *config.Config
	pool      PoolSource
	poolCache *cache.PoolCache
	sessions  *session.Manager
	alerter   Alerter
	accounts  Purger
	clock     clockwork.Clock
	log       *logger.Logger
	cron      *cron.Cron

	mu        sync.Mutex
	lastAlert time.Time
}

// NewService creates a new scheduler service. poolCache, alerter and accounts
// are optional.
func NewService(
	cfg *config.Config,
	pool PoolSource,
	poolCache *cache.PoolCache,
	sessions *session.Manager,
	alerter Alerter,
	accounts Purger,
	clock clockwork.Clock,
	log *logger.Logger,
) *Service {
	return &Service{
		config:    cfg,
		pool:      pool,
		poolCache: poolCache,
		sessions:  sessions,
		alerter:   alerter,
		accounts:  accounts,
		clock:     clock,
		log:       log.Component("scheduler"),
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Service) Start() error {
	if !s.config.Scheduler.Enabled {
		s.log.Info().Msg("Scheduler is disabled in configuration")
		return nil
	}

	location, err := time.LoadLocation(s.config.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.config.Scheduler.Timezone, err)
	}
	s.cron = cron.New(cron.WithLocation(location))

	jobs := []job{
		{JobPoolRefresh, s.config.Scheduler.PoolRefresh, s.runPoolRefresh},
		{JobRolloverSweep, s.config.Scheduler.RolloverSweep, s.runRolloverSweep},
		{JobSessionEviction, s.config.Scheduler.SessionEviction, s.runSessionEviction},
	}
	if s.accounts != nil {
		jobs = append(jobs, job{JobAccountPurge, s.config.Scheduler.AccountPurge, s.runAccountPurge})
	}

	for _, j := range jobs {
		if j.schedule == "" {
			s.log.Debug().Str("job", j.name).Msg("Job has no schedule, skipping")
			continue
		}
		name, run := j.name, j.run
		if _, err := s.cron.AddFunc(j.schedule, func() { s.runJob(context.Background(), name, run) }); err != nil {
			return fmt.Errorf("failed to register %s job: %w", name, err)
		}
		s.log.Info().Str("job", name).Str("schedule", j.schedule).Msg("Job registered")
	}

	s.cron.Start()

	nextRun := ""
	if entries := s.cron.Entries(); len(entries) > 0 {
		nextRun = entries[0].Next.Format(time.RFC3339)
	}
	s.log.Info().
		Str("timezone", s.config.Scheduler.Timezone).
		Int("jobs", len(s.cron.Entries())).
		Str("next_run", nextRun).
		Msg("Scheduler started successfully")

	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.log.Info().Msg("Scheduler stopped")
	}
}

// runJob times one job execution and records its outcome.
func (s *Service) runJob(ctx context.Context, name string, run func(ctx context.Context) error) {
	start := s.clock.Now()
	defer func() {
		prommetrics.ObserveSchedulerJobDuration(name, s.clock.Since(start).Seconds())
	}()

	if err := run(ctx); err != nil {
		s.log.Error().Err(err).Str("job", name).Dur("duration", s.clock.Since(start)).Msg("Job failed")
		prommetrics.RecordSchedulerJobRun(name, "error")
		return
	}
	prommetrics.RecordSchedulerJobRun(name, "success")
}

// runPoolRefresh reads the canonical pool, shares it through the cache, pushes
// it into every live session and raises the low-pool alert once per cooldown.
func (s *Service) runPoolRefresh(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, s.config.Economy.RemoteTimeout())
	pool, err := s.pool.GetCoinPool(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to read coin pool: %w", err)
	}

	if s.poolCache != nil {
		s.poolCache.PutPool(ctx, pool)
	}
	prommetrics.SetCoinPoolRemaining(pool.Remaining)
	if s.sessions != nil {
		s.sessions.RefreshPools(ctx)
	}

	threshold := s.config.Economy.LowPoolThreshold
	if pool.Remaining > threshold || s.alerter == nil || !s.claimAlert(ctx) {
		return nil
	}
	s.log.Warn().Int("remaining", pool.Remaining).Int("threshold", threshold).Msg("Coin pool running low")
	if err := s.alerter.SendLowPoolAlert(ctx, pool, threshold); err != nil {
		return fmt.Errorf("failed to send low pool alert: %w", err)
	}
	return nil
}

// claimAlert arbitrates the alert across replicas through the cache, or
// locally when there is none.
func (s *Service) claimAlert(ctx context.Context) bool {
	if s.poolCache != nil {
		return s.poolCache.ClaimLowPoolAlert(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if !s.lastAlert.IsZero() && now.Sub(s.lastAlert) < alertCooldown {
		return false
	}
	s.lastAlert = now
	return true
}

func (s *Service) runRolloverSweep(_ context.Context) error {
	n := s.sessions.SweepRollover()
	s.log.Info().Int("sessions_reset", n).Msg("Mission rollover sweep completed")
	return nil
}

func (s *Service) runSessionEviction(_ context.Context) error {
	s.sessions.EvictIdle()
	return nil
}

func (s *Service) runAccountPurge(ctx context.Context) error {
	n, err := s.accounts.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Info().Int64("purged", n).Msg("Purged expired account sessions")
	}
	return nil
}
