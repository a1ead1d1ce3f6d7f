// Package query serves consensus snapshots and operator statistics from the
// cache. Nothing here triggers upstream requests.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/XavierBriggs/Delphi/internal/aggregator"
	"github.com/XavierBriggs/Delphi/internal/cache"
	"github.com/XavierBriggs/Delphi/internal/events"
	"github.com/XavierBriggs/Delphi/internal/logging"
	"github.com/XavierBriggs/Delphi/internal/poller"
	"github.com/XavierBriggs/Delphi/internal/ratelimit"
	"github.com/XavierBriggs/Delphi/pkg/models"
	"golang.org/x/sync/singleflight"
)

// Aggregator computes a snapshot for a market from cached quotes
type Aggregator interface {
	Aggregate(ctx context.Context, marketKey string) (models.OddsSnapshot, error)
}

// UsageReporter exposes rate limiter consumption
type UsageReporter interface {
	Usage() map[string]ratelimit.Usage
}

// StatusReporter exposes a poller's health
type StatusReporter interface {
	SourceID() string
	Status() poller.Status
}

// SnapshotObserver receives every newly computed snapshot
type SnapshotObserver interface {
	ObserveSnapshot(ctx context.Context, snap models.OddsSnapshot)
}

// SnapshotKey is the cache key of a market's derived snapshot
func SnapshotKey(marketKey string) string {
	return "snapshot:" + marketKey
}

// Option configures a Service
type Option func(*Service)

// WithObserver registers a snapshot observer
func WithObserver(o SnapshotObserver) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// WithPollers registers pollers whose status is reported by GetUsageStats
func WithPollers(pollers ...StatusReporter) Option {
	return func(s *Service) { s.pollers = append(s.pollers, pollers...) }
}

// WithSink sets the event sink
func WithSink(sink events.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLogger sets the logger
func WithLogger(log *logging.Logger) Option {
	return func(s *Service) { s.log = log }
}

// Service is the read API over the cache
type Service struct {
	store      *cache.Store
	aggregator Aggregator
	limiter    UsageReporter
	pollers    []StatusReporter
	observers  []SnapshotObserver
	sink       events.Sink
	log        *logging.Logger

	group singleflight.Group
}

// NewService creates the query service
func NewService(store *cache.Store, agg Aggregator, limiter UsageReporter, opts ...Option) *Service {
	s := &Service{
		store:      store,
		aggregator: agg,
		limiter:    limiter,
		sink:       events.NopSink{},
		log:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "query")
	return s
}

// GetSnapshot returns the consensus snapshot of a market. A fresh cached
// snapshot is returned as-is; otherwise one aggregation runs, concurrent
// callers for the same market sharing it. If no quotes remain but an old
// snapshot does, that snapshot is returned flagged stale.
func (s *Service) GetSnapshot(ctx context.Context, marketKey string) (models.OddsSnapshot, error) {
	if _, err := models.ParseMarketKey(marketKey); err != nil {
		return models.OddsSnapshot{}, err
	}

	payload, fresh, found := s.store.Get(SnapshotKey(marketKey))
	cached, isSnapshot := payload.(models.OddsSnapshot)
	if found && fresh && isSnapshot {
		return cached.Clone(), nil
	}

	snap, err := s.compute(ctx, marketKey)
	if errors.Is(err, ErrNotFound) && found && isSnapshot {
		stale := cached.Clone()
		stale.Stale = true
		return stale, nil
	}
	if err != nil {
		return models.OddsSnapshot{}, err
	}
	return snap.Clone(), nil
}

// RefreshReport summarizes a Refresh call
type RefreshReport struct {
	Refreshed int
	NotFound  int
	Failed    map[string]error
}

// Refresh recomputes the snapshots of the given markets regardless of the
// cached snapshot's freshness
func (s *Service) Refresh(ctx context.Context, marketKeys []string) RefreshReport {
	report := RefreshReport{Failed: make(map[string]error)}
	for _, key := range marketKeys {
		if ctx.Err() != nil {
			report.Failed[key] = ctx.Err()
			continue
		}
		_, err := s.compute(ctx, key)
		switch {
		case err == nil:
			report.Refreshed++
		case errors.Is(err, ErrNotFound):
			report.NotFound++
		default:
			report.Failed[key] = err
		}
	}
	return report
}

// GetBulk returns snapshots for every market that has one, skipping the rest
func (s *Service) GetBulk(ctx context.Context, marketKeys []string) map[string]models.OddsSnapshot {
	out := make(map[string]models.OddsSnapshot, len(marketKeys))
	for _, key := range marketKeys {
		snap, err := s.GetSnapshot(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.Debug("bulk snapshot failed", "market", key, "error", err)
			}
			continue
		}
		out[key] = snap
	}
	return out
}

// compute aggregates, caches and publishes one market's snapshot
func (s *Service) compute(ctx context.Context, marketKey string) (models.OddsSnapshot, error) {
	v, err, _ := s.group.Do(marketKey, func() (interface{}, error) {
		snap, err := s.aggregator.Aggregate(ctx, marketKey)
		if errors.Is(err, aggregator.ErrNoQuotes) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, marketKey)
		}
		if err != nil {
			return nil, err
		}

		if err := s.store.Put(SnapshotKey(marketKey), marketKey, snap, cache.CategorySnapshots); err != nil {
			s.log.Error("snapshot cache put failed", "market", marketKey, "error", err)
		}
		for _, o := range s.observers {
			o.ObserveSnapshot(ctx, snap.Clone())
		}
		return snap, nil
	})
	if err != nil {
		return models.OddsSnapshot{}, err
	}
	return v.(models.OddsSnapshot), nil
}

// CacheStats is the operator view of the cache
type CacheStats struct {
	cache.Stats
	Entries []cache.EntryInfo `json:"entry_details"`
}

// GetCacheStats returns entry counts, hit rate and per-entry ages
func (s *Service) GetCacheStats() CacheStats {
	return CacheStats{Stats: s.store.Stats(), Entries: s.store.Entries()}
}

// SourceUsage combines a source's budget consumption and poller health
type SourceUsage struct {
	Budget ratelimit.Usage `json:"budget"`
	Poller *poller.Status  `json:"poller,omitempty"`
}

// UsageStats is the operator view of upstream consumption
type UsageStats struct {
	Sources    map[string]SourceUsage `json:"sources"`
	TotalCalls int64                  `json:"total_calls"`
	CallsToday int                    `json:"calls_today"`
	CallsHour  int                    `json:"calls_this_hour"`
}

// GetUsageStats returns per-source budget usage and poller status
func (s *Service) GetUsageStats() UsageStats {
	stats := UsageStats{Sources: make(map[string]SourceUsage)}
	for id, u := range s.limiter.Usage() {
		stats.Sources[id] = SourceUsage{Budget: u}
		stats.TotalCalls += u.TotalCalls
		stats.CallsToday += u.DailyCount
		stats.CallsHour += u.HourlyCount
	}
	for _, p := range s.pollers {
		st := p.Status()
		usage := stats.Sources[p.SourceID()]
		usage.Poller = &st
		stats.Sources[p.SourceID()] = usage
	}
	return stats
}

// ClearCache drops every cache entry and returns how many were removed
func (s *Service) ClearCache(ctx context.Context) int {
	removed := s.store.Clear()
	s.log.Warn("cache cleared by operator", "removed", removed)
	s.sink.Emit(ctx, events.Event{Type: events.CacheClear, Removed: removed, At: time.Now()})
	return removed
}

// ListMarkets returns every market with cached data, sorted
func (s *Service) ListMarkets() []string {
	return s.store.MarketKeys()
}

// GetGames merges game metadata across sources. For a game reported by
// several sources the freshest entry wins, ties broken by source order.
func (s *Service) GetGames() []models.Game {
	type candidate struct {
		game      models.Game
		writtenAt time.Time
	}
	merged := make(map[string]candidate)

	for _, item := range s.store.Scan(cache.CategoryGames) {
		games, ok := item.Payload.([]models.Game)
		if !ok {
			continue
		}
		for _, g := range games {
			cur, exists := merged[g.GameID]
			if !exists || item.WrittenAt.After(cur.writtenAt) {
				merged[g.GameID] = candidate{game: g, writtenAt: item.WrittenAt}
			}
		}
	}

	out := make([]models.Game, 0, len(merged))
	for _, c := range merged {
		out = append(out, c.game)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommenceTime.Equal(out[j].CommenceTime) {
			return out[i].CommenceTime.Before(out[j].CommenceTime)
		}
		return out[i].GameID < out[j].GameID
	})
	return out
}
