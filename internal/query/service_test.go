package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/XavierBriggs/Delphi/internal/aggregator"
	"github.com/XavierBriggs/Delphi/internal/cache"
	"github.com/XavierBriggs/Delphi/internal/events"
	"github.com/XavierBriggs/Delphi/internal/poller"
	"github.com/XavierBriggs/Delphi/internal/ratelimit"
	"github.com/XavierBriggs/Delphi/pkg/models"
	"github.com/XavierBriggs/Delphi/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lebron = testutil.NewTestKey("g1", "lebron_james")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// countingAggregator wraps the real aggregator and counts passes
type countingAggregator struct {
	inner *aggregator.Aggregator
	delay time.Duration
	calls atomic.Int64
}

func (c *countingAggregator) Aggregate(ctx context.Context, key string) (models.OddsSnapshot, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	return c.inner.Aggregate(ctx, key)
}

type recordingObserver struct {
	mu    sync.Mutex
	snaps []models.OddsSnapshot
}

func (r *recordingObserver) ObserveSnapshot(_ context.Context, snap models.OddsSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

type fixture struct {
	clock    *clock
	store    *cache.Store
	agg      *countingAggregator
	limiter  *ratelimit.Limiter
	observer *recordingObserver
	svc      *Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)}
	store, err := cache.NewStore(cache.Config{}, cache.WithClock(c.Now))
	require.NoError(t, err)

	f := &fixture{
		clock:    c,
		store:    store,
		agg:      &countingAggregator{inner: aggregator.New(store, nil, aggregator.WithClock(c.Now))},
		limiter:  ratelimit.NewLimiter(map[string]ratelimit.Budget{"theoddsapi": {DailyCap: 10, HourlyCap: 5}}),
		observer: &recordingObserver{},
	}
	opts = append([]Option{WithObserver(f.observer)}, opts...)
	f.svc = NewService(store, f.agg, f.limiter, opts...)
	return f
}

func (f *fixture) putQuotes(t *testing.T, source string, quotes ...models.SourceQuote) {
	t.Helper()
	key := quotes[0].MarketKey.String()
	require.NoError(t, f.store.Put(poller.PropsKey(source, key), key, quotes, cache.CategoryProps))
}

func TestGetSnapshot_NotFound(t *testing.T) {
	f := newFixture(t)

	snap, err := f.svc.GetSnapshot(context.Background(), lebron.String())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, snap.Sources, "no placeholder data")
	assert.Empty(t, snap.MarketKey)
}

func TestGetSnapshot_InvalidKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetSnapshot(context.Background(), "not-a-key")
	assert.ErrorIs(t, err, models.ErrInvalidMarketKey)
}

func TestGetSnapshot_CachesFreshSnapshot(t *testing.T) {
	f := newFixture(t)
	f.putQuotes(t, "theoddsapi", testutil.NewTestQuote(lebron, "fanduel", 24.5, -110, -110))

	first, err := f.svc.GetSnapshot(context.Background(), lebron.String())
	require.NoError(t, err)
	second, err := f.svc.GetSnapshot(context.Background(), lebron.String())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), f.agg.calls.Load())
	assert.Len(t, f.observer.snaps, 1)

	f.clock.Advance(31 * time.Second)
	_, err = f.svc.GetSnapshot(context.Background(), lebron.String())
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.agg.calls.Load(), "snapshot ttl elapsed")
}

func TestGetSnapshot_ConcurrentCallersShareOneAggregation(t *testing.T) {
	f := newFixture(t)
	f.agg.delay = 50 * time.Millisecond
	f.putQuotes(t, "theoddsapi", testutil.NewTestQuote(lebron, "fanduel", 24.5, -110, -110))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.GetSnapshot(context.Background(), lebron.String())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.agg.calls.Load())
}

func TestGetSnapshot_ReturnsIndependentCopies(t *testing.T) {
	f := newFixture(t)
	f.putQuotes(t, "theoddsapi", testutil.WithVolume(testutil.NewTestQuote(lebron, "fanduel", 24.5, -110, -110), 7))

	snap, err := f.svc.GetSnapshot(context.Background(), lebron.String())
	require.NoError(t, err)
	snap.Sources[0].SourceID = "mutated"
	*snap.Sources[0].Volume = 0

	again, err := f.svc.GetSnapshot(context.Background(), lebron.String())
	require.NoError(t, err)
	assert.Equal(t, "fanduel", again.Sources[0].SourceID)
	assert.Equal(t, int64(7), *again.Sources[0].Volume)
}

func TestGetSnapshot_StaleSnapshotWhenQuotesGone(t *testing.T) {
	f := newFixture(t)
	f.putQuotes(t, "theoddsapi", testutil.NewTestQuote(lebron, "fanduel", 24.5, -110, -110))
	_, err := f.svc.GetSnapshot(context.Background(), lebron.String())
	require.NoError(t, err)

	// quotes vanish, only the derived snapshot remains
	require.NoError(t, f.store.Put(poller.PropsKey("theoddsapi", lebron.String()), lebron.String(), []models.SourceQuote{}, cache.CategoryProps))
	f.clock.Advance(time.Minute)

	snap, err := f.svc.GetSnapshot(context.Background(), lebron.String())
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Len(t, snap.Sources, 1)
}

func TestGetSnapshot_InvalidOddsSurfaced(t *testing.T) {
	f := newFixture(t)
	f.putQuotes(t, "theoddsapi", testutil.NewTestQuote(lebron, "fanduel", 24.5, 0, -110))

	_, err := f.svc.GetSnapshot(context.Background(), lebron.String())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	other := testutil.NewTestKey("g1", "anthony_davis")
	f.putQuotes(t, "theoddsapi", testutil.NewTestQuote(lebron, "fanduel", 24.5, -110, -110))
	f.putQuotes(t, "theoddsapi", testutil.NewTestQuote(other, "fanduel", 20.5, 0, -110))

	report := f.svc.Refresh(context.Background(), []string{lebron.String(), other.String(), "g9:nobody:player_points"})
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 1, report.NotFound)
	assert.Contains(t, report.Failed, other.String())

	// refresh bypasses the fresh snapshot
	f.svc.Refresh(context.Background(), []string{lebron.String()})
	assert.Equal(t, int64(4), f.agg.calls.Load())
}

func TestGetBulk(t *testing.T) {
	f := newFixture(t)
	f.putQuotes(t, "theoddsapi", testutil.NewTestQuote(lebron, "fanduel", 24.5, -110, -110))

	out := f.svc.GetBulk(context.Background(), []string{lebron.String(), "g9:nobody:player_points", "bad"})
	assert.Len(t, out, 1)
	assert.Contains(t, out, lebron.String())
}

type stubPoller struct{ st poller.Status }

func (s stubPoller) SourceID() string      { return s.st.SourceID }
func (s stubPoller) Status() poller.Status { return s.st }

func TestGetUsageStats(t *testing.T) {
	f := newFixture(t, WithPollers(stubPoller{st: poller.Status{SourceID: "theoddsapi", Successes: 3}}))
	f.limiter.TryAcquire("theoddsapi")
	f.limiter.TryAcquire("theoddsapi")

	stats := f.svc.GetUsageStats()
	require.Contains(t, stats.Sources, "theoddsapi")
	usage := stats.Sources["theoddsapi"]
	assert.Equal(t, 2, usage.Budget.DailyCount)
	assert.Equal(t, 10, usage.Budget.DailyCap)
	require.NotNil(t, usage.Poller)
	assert.Equal(t, int64(3), usage.Poller.Successes)
	assert.Equal(t, int64(2), stats.TotalCalls)
	assert.Equal(t, 2, stats.CallsHour)
}

func TestGetCacheStatsAndClear(t *testing.T) {
	rec := &events.Recorder{}
	f := newFixture(t, WithSink(rec))
	f.putQuotes(t, "theoddsapi", testutil.NewTestQuote(lebron, "fanduel", 24.5, -110, -110))
	_, err := f.svc.GetSnapshot(context.Background(), lebron.String())
	require.NoError(t, err)

	stats := f.svc.GetCacheStats()
	assert.Equal(t, 2, stats.Stats.Entries)
	assert.Len(t, stats.Entries, 2)
	assert.Equal(t, []string{lebron.String()}, f.svc.ListMarkets())

	assert.Equal(t, 2, f.svc.ClearCache(context.Background()))
	assert.Empty(t, f.svc.ListMarkets())
	require.Len(t, rec.ByType(events.CacheClear), 1)
	assert.Equal(t, 2, rec.ByType(events.CacheClear)[0].Removed)
}

func TestGetGames_MergesFreshestFirst(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 1, 10, 19, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.Put(poller.GamesKey("sportsgameodds"), "", []models.Game{
		{GameID: "g1", HomeTeam: "LA Lakers", AwayTeam: "Boston Celtics", CommenceTime: base, Provider: "sportsgameodds"},
	}, cache.CategoryGames))
	f.clock.Advance(time.Minute)
	require.NoError(t, f.store.Put(poller.GamesKey("theoddsapi"), "", []models.Game{
		{GameID: "g2", HomeTeam: "Denver Nuggets", AwayTeam: "Utah Jazz", CommenceTime: base.Add(-time.Hour), Provider: "theoddsapi"},
		{GameID: "g1", HomeTeam: "Los Angeles Lakers", AwayTeam: "Boston Celtics", CommenceTime: base, Provider: "theoddsapi"},
	}, cache.CategoryGames))

	games := f.svc.GetGames()
	require.Len(t, games, 2)
	assert.Equal(t, "g2", games[0].GameID, "ordered by start time")
	assert.Equal(t, "theoddsapi", games[1].Provider, "fresher write wins")
	assert.Equal(t, "Los Angeles Lakers", games[1].HomeTeam)
}
