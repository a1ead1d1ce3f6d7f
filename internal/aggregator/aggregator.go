package aggregator

import (
	"context"
	"time"

	"github.com/XavierBriggs/Delphi/internal/cache"
	"github.com/XavierBriggs/Delphi/internal/events"
	"github.com/XavierBriggs/Delphi/internal/logging"
	"github.com/XavierBriggs/Delphi/internal/metrics"
	"github.com/XavierBriggs/Delphi/internal/poller"
	"github.com/XavierBriggs/Delphi/pkg/models"
)

// QuoteReader reads cached entries for a market without hit accounting
type QuoteReader interface {
	Collect(marketKey string, categories ...cache.Category) []cache.Item
}

// History supplies each origin's level before its most recent change
type History interface {
	Previous(marketKey string) map[string]models.SourceQuote
}

// Aggregator builds snapshots from the cache
type Aggregator struct {
	store   QuoteReader
	history History
	sink    events.Sink
	log     *logging.Logger
	now     func() time.Time
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithSink sets the event sink
func WithSink(sink events.Sink) Option {
	return func(a *Aggregator) { a.sink = sink }
}

// WithLogger sets the logger
func WithLogger(log *logging.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// New creates an Aggregator. history may be nil, in which case movement is zero.
func New(store QuoteReader, history History, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:   store,
		history: history,
		sink:    events.NopSink{},
		log:     logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("component", "aggregator")
	return a
}

// Aggregate computes the snapshot of one market from every cached quote entry.
// The snapshot is stale when none of the contributing entries is fresh.
func (a *Aggregator) Aggregate(ctx context.Context, marketKey string) (models.OddsSnapshot, error) {
	items := a.store.Collect(marketKey, poller.QuoteCategories...)

	var quotes []models.SourceQuote
	anyFresh := false
	for _, item := range items {
		payload, ok := item.Payload.([]models.SourceQuote)
		if !ok || len(payload) == 0 {
			continue
		}
		quotes = append(quotes, payload...)
		if item.Fresh {
			anyFresh = true
		}
	}
	if len(quotes) == 0 {
		return models.OddsSnapshot{}, ErrNoQuotes
	}

	var previous map[string]models.SourceQuote
	if a.history != nil {
		previous = a.history.Previous(marketKey)
	}

	snap, err := Compute(marketKey, quotes, previous, a.now())
	if err != nil {
		a.log.Warn("aggregation failed", "market", marketKey, "error", err)
		return models.OddsSnapshot{}, err
	}
	snap.Stale = !anyFresh

	metrics.RecordConfidence(snap.Consensus.Confidence)
	a.log.Debug("aggregate complete",
		"market", marketKey,
		"sources", len(snap.Sources),
		"confidence", snap.Consensus.Confidence,
		"stale", snap.Stale,
	)
	a.sink.Emit(ctx, events.Event{
		Type:       events.AggregateComplete,
		MarketKey:  marketKey,
		Quotes:     len(snap.Sources),
		Confidence: snap.Consensus.Confidence,
		Line:       snap.Consensus.Line.String(),
		OverPrice:  snap.Consensus.OverPrice,
		UnderPrice: snap.Consensus.UnderPrice,
		Stale:      snap.Stale,
		At:         snap.ComputedAt,
	})
	return snap, nil
}
