package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/XavierBriggs/Delphi/internal/cache"
	"github.com/XavierBriggs/Delphi/internal/events"
	"github.com/XavierBriggs/Delphi/internal/logging"
	"github.com/XavierBriggs/Delphi/internal/metrics"
	"github.com/XavierBriggs/Delphi/internal/poller"
	"github.com/XavierBriggs/Delphi/internal/query"
	"github.com/XavierBriggs/Delphi/internal/ratelimit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval  = 60 * time.Second
	DefaultSweepInterval = 5 * time.Minute
)

// Target is one pollable source
type Target interface {
	SourceID() string
	Poll(ctx context.Context, tickID string) poller.Result
}

// Refresher recomputes snapshots after new data lands
type Refresher interface {
	Refresh(ctx context.Context, marketKeys []string) query.RefreshReport
}

// Sweeper evicts expired cache entries
type Sweeper interface {
	Sweep() int
	Stats() cache.Stats
	MaxAge() time.Duration
}

// Pruner drops movement history not seen since a cutoff
type Pruner interface {
	Prune(cutoff time.Time) int
}

// UsageReporter exposes rate limiter consumption
type UsageReporter interface {
	Usage() map[string]ratelimit.Usage
}

// Config holds scheduler intervals
type Config struct {
	PollInterval  time.Duration
	SweepInterval time.Duration
}

// TickReport summarizes one tick
type TickReport struct {
	TickID    string
	Results   []poller.Result
	Markets   []string // markets written by successful polls
	Refreshed int
	Duration  time.Duration
}

// Scheduler orchestrates polling for all registered sources
type Scheduler struct {
	cfg       Config
	targets   []Target
	refresher Refresher
	store     Sweeper
	pruner    Pruner
	usage     UsageReporter
	sink      events.Sink
	log       *logging.Logger
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithPruner prunes movement history on every sweep
func WithPruner(p Pruner) Option {
	return func(s *Scheduler) { s.pruner = p }
}

// WithUsage publishes rate limiter usage gauges every tick
func WithUsage(u UsageReporter) Option {
	return func(s *Scheduler) { s.usage = u }
}

// WithSink sets the event sink
func WithSink(sink events.Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithLogger sets the logger
func WithLogger(log *logging.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a new polling scheduler
func NewScheduler(cfg Config, targets []Target, refresher Refresher, store Sweeper, opts ...Option) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	s := &Scheduler{
		cfg:       cfg,
		targets:   targets,
		refresher: refresher,
		store:     store,
		sink:      events.NopSink{},
		log:       logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "scheduler")
	return s
}

// Start begins the tick and sweep loops. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if len(s.targets) == 0 {
		return fmt.Errorf("no sources registered")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.tickLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.sweepLoop(ctx)
	}()

	s.log.Info("scheduler started",
		"sources", len(s.targets),
		"poll_interval", s.cfg.PollInterval,
		"sweep_interval", s.cfg.SweepInterval,
	)
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for an in-flight tick
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick polls every source concurrently, waits for all of them to settle and
// refreshes the snapshots of the markets they wrote
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	start := time.Now()
	report := TickReport{
		TickID:  uuid.NewString(),
		Results: make([]poller.Result, len(s.targets)),
	}

	var g errgroup.Group
	for i, target := range s.targets {
		i, target := i, target
		g.Go(func() error {
			report.Results[i] = target.Poll(ctx, report.TickID)
			return nil
		})
	}
	_ = g.Wait()

	touched := make(map[string]struct{})
	for _, res := range report.Results {
		if res.Outcome != poller.OutcomeSuccess {
			continue
		}
		for _, m := range res.Markets {
			touched[m] = struct{}{}
		}
	}
	report.Markets = make([]string, 0, len(touched))
	for m := range touched {
		report.Markets = append(report.Markets, m)
	}
	sort.Strings(report.Markets)

	if len(report.Markets) > 0 && s.refresher != nil {
		refresh := s.refresher.Refresh(ctx, report.Markets)
		report.Refreshed = refresh.Refreshed
		for market, err := range refresh.Failed {
			s.log.Warn("snapshot refresh failed", "tick_id", report.TickID, "market", market, "error", err)
		}
	}

	if s.usage != nil {
		for id, u := range s.usage.Usage() {
			metrics.RecordRateLimitUsage(id, u.DailyCount, u.HourlyCount)
		}
	}

	report.Duration = time.Since(start)
	metrics.RecordTick()

	outcomes := make(map[poller.Outcome]int)
	for _, res := range report.Results {
		outcomes[res.Outcome]++
	}
	s.log.Info("tick complete",
		"tick_id", report.TickID,
		"success", outcomes[poller.OutcomeSuccess],
		"failed", outcomes[poller.OutcomeFailed],
		"denied", outcomes[poller.OutcomeDenied],
		"busy", outcomes[poller.OutcomeBusy],
		"markets", len(report.Markets),
		"refreshed", report.Refreshed,
		"duration", report.Duration,
	)
	s.sink.Emit(ctx, events.Event{
		Type:       events.TickComplete,
		TickID:     report.TickID,
		Markets:    len(report.Markets),
		DurationMS: report.Duration.Milliseconds(),
		At:         s.now(),
	})
	return report
}

// Sweep evicts expired entries and stale movement history
func (s *Scheduler) Sweep(ctx context.Context) int {
	removed := s.store.Sweep()
	pruned := 0
	if s.pruner != nil {
		pruned = s.pruner.Prune(s.now().Add(-s.store.MaxAge()))
	}

	metrics.RecordSweep(removed)
	metrics.RecordCacheEntries(s.store.Stats().CountByCategory())

	s.log.Info("cache sweep", "removed", removed, "history_pruned", pruned)
	s.sink.Emit(ctx, events.Event{Type: events.CacheSweep, Removed: removed, At: s.now()})
	return removed
}
