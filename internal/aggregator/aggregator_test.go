package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/XavierBriggs/Delphi/internal/cache"
	"github.com/XavierBriggs/Delphi/internal/delta"
	"github.com/XavierBriggs/Delphi/internal/events"
	"github.com/XavierBriggs/Delphi/internal/poller"
	"github.com/XavierBriggs/Delphi/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func TestAggregate_CombinesSourcesAndCategories(t *testing.T) {
	c := &clock{t: now}
	store, err := cache.NewStore(cache.Config{}, cache.WithClock(c.Now))
	require.NoError(t, err)

	key := lebron.String()
	require.NoError(t, store.Put(poller.PropsKey("theoddsapi", key), key,
		[]models.SourceQuote{q("draftkings", 25.5, -120, -100), q("fanduel", 24.5, -110, -110)}, cache.CategoryProps))
	require.NoError(t, store.Put(poller.PropsKey("sportsgameodds", key), key,
		[]models.SourceQuote{q("sportsgameodds", 25, -115, -105)}, cache.CategoryProps))
	require.NoError(t, store.Put("snapshot:"+key, key, "ignored", cache.CategorySnapshots))

	rec := &events.Recorder{}
	agg := New(store, delta.NewTracker(0), WithSink(rec), WithClock(c.Now))

	snap, err := agg.Aggregate(context.Background(), key)
	require.NoError(t, err)
	assert.Len(t, snap.Sources, 3)
	assert.Equal(t, "25", snap.Consensus.Line.String())
	assert.False(t, snap.Stale)

	complete := rec.ByType(events.AggregateComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, key, complete[0].MarketKey)
	assert.Equal(t, snap.Consensus.Confidence, complete[0].Confidence)

	_, fresh, _ := store.Get(poller.PropsKey("theoddsapi", key))
	require.True(t, fresh)
	assert.Equal(t, int64(1), store.Stats().Hits, "aggregation reads do not count as hits")
}

func TestAggregate_StaleWhenNoEntryFresh(t *testing.T) {
	c := &clock{t: now}
	store, err := cache.NewStore(cache.Config{}, cache.WithClock(c.Now))
	require.NoError(t, err)

	key := lebron.String()
	require.NoError(t, store.Put(poller.PropsKey("theoddsapi", key), key, []models.SourceQuote{q("fanduel", 24.5, -110, -110)}, cache.CategoryProps))
	require.NoError(t, store.Put(poller.OddsKey("other", key), key, []models.SourceQuote{q("betmgm", 24.5, -110, -110)}, cache.CategoryOdds))

	agg := New(store, nil, WithClock(c.Now))

	c.t = now.Add(10 * time.Minute) // odds stale, props fresh
	snap, err := agg.Aggregate(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, snap.Stale)

	c.t = now.Add(20 * time.Minute)
	snap, err = agg.Aggregate(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, snap.Stale, "stale data is still served, flagged")
	assert.Len(t, snap.Sources, 2)
}

func TestAggregate_UsesTrackerHistory(t *testing.T) {
	store, err := cache.NewStore(cache.Config{})
	require.NoError(t, err)
	tracker := delta.NewTracker(0)

	key := lebron.String()
	first := q("fanduel", 23.5, -110, -110)
	second := q("fanduel", 24.5, -110, -110)
	tracker.Observe([]models.SourceQuote{first})
	tracker.Observe([]models.SourceQuote{second})
	require.NoError(t, store.Put(poller.PropsKey("theoddsapi", key), key, []models.SourceQuote{second}, cache.CategoryProps))

	snap, err := New(store, tracker).Aggregate(context.Background(), key)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, snap.MarketMetrics.LineMovement, 1e-12)
}

func TestAggregate_SteadyMarketHasNoMovement(t *testing.T) {
	store, err := cache.NewStore(cache.Config{})
	require.NoError(t, err)
	tracker := delta.NewTracker(0)

	key := lebron.String()
	tracker.Observe([]models.SourceQuote{q("fanduel", 24.5, -110, -110)})
	steady := q("fanduel", 25.5, -115, -105)
	for i := 0; i < 5; i++ {
		tracker.Observe([]models.SourceQuote{steady})
	}
	require.NoError(t, store.Put(poller.PropsKey("theoddsapi", key), key, []models.SourceQuote{steady}, cache.CategoryProps))

	snap, err := New(store, tracker).Aggregate(context.Background(), key)
	require.NoError(t, err)
	assert.Zero(t, snap.MarketMetrics.LineMovement)
	assert.Zero(t, snap.MarketMetrics.PriceMovement)
}

func TestAggregate_NoQuotes(t *testing.T) {
	store, err := cache.NewStore(cache.Config{})
	require.NoError(t, err)

	_, err = New(store, nil).Aggregate(context.Background(), "g1:nobody:player_points")
	assert.ErrorIs(t, err, ErrNoQuotes)
}
