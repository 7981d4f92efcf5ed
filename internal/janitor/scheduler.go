// Package janitor drives periodic storage and registry hygiene.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"clipstream/internal/diskspace"
	"clipstream/internal/jobs"
	"clipstream/internal/logging"
	"clipstream/internal/progress"
)

// Settings holds the scheduler's thresholds and cadences.
type Settings struct {
	RoutineSpec       string
	AggressiveSpec    string
	WarnPercent       int
	RoutineReclaim    int64
	AggressiveReclaim int64
	TokenMaxAge       time.Duration
}

// Scheduler runs two independent cleanup cadences: routine housekeeping and
// emergency quota enforcement. Ticks never overlap for the same directory
// and a failed tick never prevents future ticks.
type Scheduler struct {
	disk     *diskspace.Manager
	registry *jobs.Registry
	store    *progress.Store
	settings Settings
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool

	// Held for the duration of one eviction sweep; a tick that cannot take
	// it skips instead of running two evictions over the same directory.
	sweep sync.Mutex
}

// New constructs a scheduler. Start must be called to begin ticking.
func New(disk *diskspace.Manager, registry *jobs.Registry, store *progress.Store, settings Settings, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		disk:     disk,
		registry: registry,
		store:    store,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "janitor"),
	}
}

// Start registers both cadences and begins ticking. Double start is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("janitor already started")
	}

	runner := cron.New()
	if _, err := runner.AddFunc(s.settings.RoutineSpec, func() { s.RoutineTick(context.Background()) }); err != nil {
		return err
	}
	if _, err := runner.AddFunc(s.settings.AggressiveSpec, func() { s.AggressiveTick(context.Background()) }); err != nil {
		return err
	}
	runner.Start()

	s.cron = runner
	s.started = true
	s.logger.Info("cleanup scheduler started",
		logging.String("routine", s.settings.RoutineSpec),
		logging.String("aggressive", s.settings.AggressiveSpec))
	return nil
}

// Stop halts ticking. Safe to call when not started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
	s.started = false
	s.logger.Info("cleanup scheduler stopped")
}

// RoutineTick performs hourly housekeeping: stale-token and stale-record
// sweeps, then a moderate eviction when usage passes the warning threshold.
func (s *Scheduler) RoutineTick(ctx context.Context) {
	s.registry.SweepStale(s.settings.TokenMaxAge)
	s.sweepOrphanedRecords()

	stats, err := s.disk.Stats(ctx)
	if err != nil {
		s.logger.Warn("disk stats failed", logging.Error(err))
		return
	}
	if stats.PercentUsed <= s.settings.WarnPercent {
		return
	}

	if !s.sweep.TryLock() {
		s.logger.Debug("routine sweep skipped, eviction in progress")
		return
	}
	defer s.sweep.Unlock()

	result := s.disk.EvictOldest(ctx, s.settings.RoutineReclaim)
	s.logSweep("routine", result)
}

// AggressiveTick enforces the quota ceiling with a larger reclaim target.
func (s *Scheduler) AggressiveTick(ctx context.Context) {
	exceeded, err := s.disk.QuotaExceeded(ctx)
	if err != nil {
		s.logger.Warn("quota check failed", logging.Error(err))
		return
	}
	if !exceeded {
		return
	}

	if !s.sweep.TryLock() {
		s.logger.Debug("aggressive sweep skipped, eviction in progress")
		return
	}
	defer s.sweep.Unlock()

	s.logger.Warn("quota exceeded, evicting oldest entries")
	result := s.disk.EvictOldest(ctx, s.settings.AggressiveReclaim)
	s.logSweep("aggressive", result)
}

// sweepOrphanedRecords drops progress records whose job token is gone and
// that carry a terminal state; their grace timers normally handle this, but
// a crashed runner can orphan entries.
func (s *Scheduler) sweepOrphanedRecords() {
	for _, id := range s.store.Keys() {
		rec, ok := s.store.Get(id)
		if !ok {
			continue
		}
		if rec.Terminal() && !s.registry.IsCancelled(id) && !s.registryHas(id) {
			s.store.Clear(id)
		}
	}
}

func (s *Scheduler) registryHas(id string) bool {
	for _, info := range s.registry.List() {
		if info.ID == id {
			return true
		}
	}
	return false
}

func (s *Scheduler) logSweep(kind string, result diskspace.EvictResult) {
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		return
	}
	s.logger.Info("eviction sweep finished",
		logging.String("kind", kind),
		logging.Int64("freed_bytes", result.Freed),
		logging.Int("removed", len(result.Removed)),
		logging.Int("errors", len(result.Errors)))
}
