package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs periodic alert sweeps in the background. Sweeps can
// also be triggered on demand; a trigger while a sweep is queued is
// coalesced.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

type SchedulerConfig struct {
	Engine   *Engine
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:   cfg.Engine,
		interval: cfg.Interval,
		now:      nowFn,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
	})
}

func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}

func (s *Scheduler) Trigger() {
	if s == nil {
		return
	}
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	var ticker *time.Ticker
	if s.interval > 0 {
		ticker = time.NewTicker(s.interval)
		defer ticker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.trigger:
			s.sweep(ctx)
		case <-s.tickChan(ticker):
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) tickChan(ticker *time.Ticker) <-chan time.Time {
	if ticker == nil {
		return nil
	}
	return ticker.C
}

func (s *Scheduler) sweep(ctx context.Context) {
	created, err := s.engine.Sweep(ctx, s.now())
	if err != nil {
		s.logger.Warn("alert sweep failed", "error", err)
		return
	}
	if len(created) > 0 {
		s.logger.Info("alert sweep raised alerts", "count", len(created))
	}
}
