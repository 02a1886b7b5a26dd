// Package scheduler drives the background loops: tick (limit settlement),
// prune (expiry + deletion) and sanity (ledger reconciliation). Every
// iteration first takes the leader lease so that replicated deployments
// run exactly one active sweep.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/didac-crst/mockexchange-api/internal/alert"
	"github.com/didac-crst/mockexchange-api/internal/config"
	"github.com/didac-crst/mockexchange-api/internal/core"
	"github.com/didac-crst/mockexchange-api/internal/engine"
	"github.com/didac-crst/mockexchange-api/internal/store"
)

const (
	leaderKey = "engine:leader"

	// sweepTimeout bounds one loop iteration.
	sweepTimeout = 30 * time.Second
)

// Core is the slice of the engine the loops drive.
type Core interface {
	TickAll(ctx context.Context) (int, error)
	Prune(ctx context.Context, expireAfter, staleAfter time.Duration) (engine.PruneStats, error)
	OverviewAssets(ctx context.Context) (*engine.AssetsReport, error)
}

// Alerter receives sanity-check failures. *alert.Manager satisfies it.
type Alerter interface {
	Notify(ctx context.Context, level alert.Level, title, message string, fields map[string]string)
}

// Config holds the loop periods and thresholds. Zero Prune/Sanity
// intervals disable those loops.
type Config struct {
	TickInterval   time.Duration
	PruneInterval  time.Duration
	SanityInterval time.Duration
	ExpireAfter    time.Duration
	StaleAfter     time.Duration
	LeaderTTL      time.Duration
}

// FromLoops maps the YAML loop settings into a scheduler Config.
func FromLoops(l config.LoopsConfig) Config {
	return Config{
		TickInterval:   l.TickInterval(),
		PruneInterval:  l.PruneInterval(),
		SanityInterval: l.SanityInterval(),
		ExpireAfter:    l.ExpireAfter(),
		StaleAfter:     l.StaleAfter(),
		LeaderTTL:      l.LeaderTTL(),
	}
}

// Scheduler owns the loop goroutines.
type Scheduler struct {
	store      store.Store
	core       Core
	alerts     Alerter // nil disables alerting
	cfg        Config
	logger     core.ILogger
	instanceID string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. alerts may be nil.
func New(st store.Store, c Core, alerts Alerter, cfg Config, logger core.ILogger) *Scheduler {
	return &Scheduler{
		store:      st,
		core:       c,
		alerts:     alerts,
		cfg:        cfg,
		logger:     logger.WithField("component", "scheduler"),
		instanceID: uuid.NewString(),
	}
}

// Start launches the loops. Call Stop to shut them down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.runLoop(ctx, "tick", s.cfg.TickInterval, s.tickPass)
	s.runLoop(ctx, "prune", s.cfg.PruneInterval, s.prunePass)
	s.runLoop(ctx, "sanity", s.cfg.SanityInterval, s.sanityPass)
	s.logger.Info("scheduler started",
		"instance_id", s.instanceID,
		"tick_interval", s.cfg.TickInterval,
		"prune_interval", s.cfg.PruneInterval,
		"sanity_interval", s.cfg.SanityInterval)
}

// Stop shuts the loops down and waits for in-flight sweeps.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// runLoop spawns one ticker-driven loop; a non-positive interval disables
// it. Pass errors are logged and never kill the loop.
func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, pass func(ctx context.Context) error) {
	if interval <= 0 {
		s.logger.Info("loop disabled", "loop", name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.isLeader(ctx) {
					continue
				}
				passCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
				if err := pass(passCtx); err != nil && ctx.Err() == nil {
					s.logger.Error("loop pass failed", "loop", name, "error", err)
				}
				cancel()
			}
		}
	}()
}

// isLeader acquires or renews the leader lease. Only the holder runs loop
// bodies; everyone else keeps ticking and takes over when the lease lapses.
func (s *Scheduler) isLeader(ctx context.Context) bool {
	ok, err := s.store.SetNX(ctx, leaderKey, s.instanceID, s.cfg.LeaderTTL)
	if err != nil {
		s.logger.Error("leader election failed", "error", err)
		return false
	}
	if ok {
		s.logger.Info("leader lease acquired", "instance_id", s.instanceID)
		return true
	}
	holder, err := s.store.Get(ctx, leaderKey)
	if err != nil || holder != s.instanceID {
		return false
	}
	if _, err := s.store.Expire(ctx, leaderKey, s.cfg.LeaderTTL); err != nil {
		s.logger.Error("leader lease renewal failed", "error", err)
		return false
	}
	return true
}

func (s *Scheduler) tickPass(ctx context.Context) error {
	n, err := s.core.TickAll(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("tick pass settled orders", "count", n)
	}
	return nil
}

func (s *Scheduler) prunePass(ctx context.Context) error {
	_, err := s.core.Prune(ctx, s.cfg.ExpireAfter, s.cfg.StaleAfter)
	return err
}

func (s *Scheduler) sanityPass(ctx context.Context) error {
	report, err := s.core.OverviewAssets(ctx)
	if err != nil {
		return err
	}
	if report.Mismatches == 0 {
		return nil
	}

	s.logger.Error("consistency check failed", "mismatches", report.Mismatches)
	if s.alerts == nil {
		return nil
	}
	fields := map[string]string{"mismatches": fmt.Sprintf("%d", report.Mismatches)}
	for _, row := range report.Assets {
		if row.Mismatch {
			fields[row.Asset] = fmt.Sprintf("used=%v expected=%v", row.Used, row.ExpectedUsed)
		}
	}
	s.alerts.Notify(ctx, alert.LevelCritical,
		"Balance reconciliation mismatch",
		"The used balance diverged from the open-order reservations.",
		fields)
	return nil
}
