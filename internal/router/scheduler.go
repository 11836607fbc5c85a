package router

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cloudops-platform/orgevents/pkg/healthfeed"
	"github.com/cloudops-platform/orgevents/pkg/logger"
)

// tickInterval is how often the scheduler wakes to check whether any
// cron schedule has come due. Fine enough for minute-granularity cron
// expressions without busy-waiting.
const tickInterval = 15 * time.Second

// Scheduler drives the timer triggers (scheduled_sync, recalculate_counts)
// on their configured cron expressions, translating each fire into a
// synthetic trigger payload routed through Router.
type Scheduler struct {
	router            *Router
	syncSchedule      cron.Schedule
	recomputeSchedule cron.Schedule
	lookbackDays      int
	log               *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup

	nextSync      time.Time
	nextRecompute time.Time
}

// NewScheduler builds a Scheduler from standard 5-field cron
// expressions for the sync and recompute timers.
func NewScheduler(r *Router, syncCron, recomputeCron string, lookbackDays int, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	syncSchedule, err := parser.Parse(syncCron)
	if err != nil {
		return nil, err
	}
	recomputeSchedule, err := parser.Parse(recomputeCron)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Scheduler{
		router:            r,
		syncSchedule:      syncSchedule,
		recomputeSchedule: recomputeSchedule,
		lookbackDays:      lookbackDays,
		log:               log,
		nextSync:          syncSchedule.Next(now),
		nextRecompute:     recomputeSchedule.Next(now),
	}, nil
}

// Start begins the polling loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.Info("scheduler started")
}

// Stop halts the polling loop and waits for the in-flight tick, if
// any, to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	dueSync := !now.Before(s.nextSync)
	dueRecompute := !now.Before(s.nextRecompute)
	if dueSync {
		s.nextSync = s.syncSchedule.Next(now)
	}
	if dueRecompute {
		s.nextRecompute = s.recomputeSchedule.Next(now)
	}
	s.mu.Unlock()

	if dueSync {
		window := healthfeed.Window{Start: now.AddDate(0, 0, -s.lookbackDays), End: now}
		payload := []byte(`{"mode":"scheduled_sync"}`)
		if err := s.router.Route(ctx, payload, window); err != nil {
			s.log.WithError(err).Warn("scheduled sync run failed")
		}
	}

	if dueRecompute {
		payload := []byte(`{"mode":"recalculate_counts"}`)
		if err := s.router.Route(ctx, payload, healthfeed.Window{}); err != nil {
			s.log.WithError(err).Warn("scheduled recompute run failed")
		}
	}
}
