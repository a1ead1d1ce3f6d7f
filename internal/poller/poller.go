package poller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/XavierBriggs/Delphi/internal/cache"
	"github.com/XavierBriggs/Delphi/internal/delta"
	"github.com/XavierBriggs/Delphi/internal/events"
	"github.com/XavierBriggs/Delphi/internal/logging"
	"github.com/XavierBriggs/Delphi/internal/metrics"
	"github.com/XavierBriggs/Delphi/pkg/contracts"
	"github.com/XavierBriggs/Delphi/pkg/models"
)

// DefaultFetchTimeout bounds one upstream request
const DefaultFetchTimeout = 10 * time.Second

// Outcome is the result class of one poll
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeDenied  Outcome = "denied"
	OutcomeBusy    Outcome = "busy"
)

// Limiter gates upstream requests
type Limiter interface {
	TryAcquire(sourceID string) bool
}

// Store receives normalized payloads
type Store interface {
	Put(key, marketKey string, payload any, category cache.Category) error
}

// ChangeObserver records quote movement
type ChangeObserver interface {
	Observe(quotes []models.SourceQuote) []delta.Delta
}

// Config holds poller configuration
type Config struct {
	FetchTimeout time.Duration
}

// Result describes one poll
type Result struct {
	SourceID string
	Outcome  Outcome
	Quotes   int      // accepted quotes written to the cache
	Rejected int      // quotes dropped by validation
	Changed  int      // accepted quotes that moved since last seen
	Games    int      // game records written
	Markets  []string // market keys written, sorted
	Err      error
	Duration time.Duration
}

// Status is the running health of a poller
type Status struct {
	SourceID            string                `json:"source_id"`
	LastPollAt          time.Time             `json:"last_poll_at,omitempty"`
	LastSuccessAt       time.Time             `json:"last_success_at,omitempty"`
	LastError           string                `json:"last_error,omitempty"`
	LastErrorAt         time.Time             `json:"last_error_at,omitempty"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	Successes           int64                 `json:"successes"`
	Failures            int64                 `json:"failures"`
	Denied              int64                 `json:"denied"`
	Skipped             int64                 `json:"skipped"`
	QuotesIngested      int64                 `json:"quotes_ingested"`
	QuotesRejected      int64                 `json:"quotes_rejected"`
	ProviderLimits      *contracts.RateLimits `json:"provider_limits,omitempty"`
}

// Option configures a Poller
type Option func(*Poller)

// WithValidator replaces the per-quote validation (default SourceQuote.Validate)
func WithValidator(validate func(models.SourceQuote) error) Option {
	return func(p *Poller) {
		p.validate = validate
	}
}

// WithTracker feeds accepted quotes to a movement tracker
func WithTracker(tracker ChangeObserver) Option {
	return func(p *Poller) {
		p.tracker = tracker
	}
}

// WithSink sets the event sink
func WithSink(sink events.Sink) Option {
	return func(p *Poller) {
		p.sink = sink
	}
}

// WithLogger sets the logger
func WithLogger(log *logging.Logger) Option {
	return func(p *Poller) {
		p.log = log
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// Poller polls one upstream source
type Poller struct {
	cfg      Config
	source   contracts.QuoteSource
	limiter  Limiter
	store    Store
	tracker  ChangeObserver
	sink     events.Sink
	log      *logging.Logger
	validate func(models.SourceQuote) error
	now      func() time.Time

	inflight sync.Mutex

	mu     sync.Mutex
	status Status
}

// New creates a new Poller
func New(cfg Config, source contracts.QuoteSource, limiter Limiter, store Store, opts ...Option) *Poller {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	p := &Poller{
		cfg:      cfg,
		source:   source,
		limiter:  limiter,
		store:    store,
		sink:     events.NopSink{},
		log:      logging.NewNop(),
		validate: models.SourceQuote.Validate,
		now:      time.Now,
		status:   Status{SourceID: source.SourceID()},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "poller", "source", source.SourceID())
	return p
}

// SourceID returns the polled source's identifier
func (p *Poller) SourceID() string {
	return p.source.SourceID()
}

// Poll runs one poll. It never returns an error to the caller; failures are
// reported in the Result and contained to this source.
func (p *Poller) Poll(ctx context.Context, tickID string) Result {
	id := p.source.SourceID()

	if !p.inflight.TryLock() {
		p.mu.Lock()
		p.status.Skipped++
		p.mu.Unlock()

		p.log.Debug("previous poll still running, skipping", "tick_id", tickID)
		metrics.RecordPoll(id, string(OutcomeBusy), 0)
		p.sink.Emit(ctx, events.Event{Type: events.PollSkipped, TickID: tickID, SourceID: id, At: p.now()})
		return Result{SourceID: id, Outcome: OutcomeBusy}
	}
	defer p.inflight.Unlock()

	startedAt := p.now()
	p.mu.Lock()
	p.status.LastPollAt = startedAt
	p.mu.Unlock()

	if !p.limiter.TryAcquire(id) {
		p.mu.Lock()
		p.status.Denied++
		p.mu.Unlock()

		p.log.Info("rate limit budget exhausted, skipping fetch", "tick_id", tickID)
		metrics.RecordPoll(id, string(OutcomeDenied), 0)
		p.sink.Emit(ctx, events.Event{Type: events.PollDenied, TickID: tickID, SourceID: id, At: startedAt})
		return Result{SourceID: id, Outcome: OutcomeDenied}
	}

	start := time.Now()
	raw, err := p.fetch(ctx)
	if err != nil {
		return p.fail(ctx, tickID, &SourceFetchError{SourceID: id, Stage: StageFetch, Err: err}, time.Since(start))
	}

	receivedAt := p.now()
	fetched, err := p.source.Normalize(raw, receivedAt)
	if err != nil {
		return p.fail(ctx, tickID, &SourceFetchError{SourceID: id, Stage: StageNormalize, Err: err}, time.Since(start))
	}
	if fetched == nil {
		fetched = &models.FetchResult{}
	}

	res := p.ingest(fetched, receivedAt)
	res.Duration = time.Since(start)

	p.mu.Lock()
	p.status.LastSuccessAt = receivedAt
	p.status.ConsecutiveFailures = 0
	p.status.Successes++
	p.status.QuotesIngested += int64(res.Quotes)
	p.status.QuotesRejected += int64(res.Rejected)
	p.mu.Unlock()

	metrics.RecordPoll(id, string(OutcomeSuccess), res.Duration)
	metrics.RecordQuotes(id, res.Quotes, res.Rejected)

	p.log.Info("poll complete",
		"tick_id", tickID,
		"quotes", res.Quotes,
		"rejected", res.Rejected,
		"changed", res.Changed,
		"markets", len(res.Markets),
		"games", res.Games,
		"duration", res.Duration,
	)
	p.sink.Emit(ctx, events.Event{
		Type:       events.PollSuccess,
		TickID:     tickID,
		SourceID:   id,
		Quotes:     res.Quotes,
		Rejected:   res.Rejected,
		Markets:    len(res.Markets),
		DurationMS: res.Duration.Milliseconds(),
		At:         receivedAt,
	})
	return res
}

// Status returns a copy of the poller's health
func (p *Poller) Status() Status {
	p.mu.Lock()
	st := p.status
	p.mu.Unlock()

	if reporter, ok := p.source.(contracts.RateLimitReporter); ok {
		limits := reporter.RateLimits()
		st.ProviderLimits = &limits
	}
	return st
}

type fetchResult struct {
	raw []byte
	err error
}

// fetch runs the upstream request under the fetch timeout. The goroutine
// writes to a buffered channel so an abandoned fetch never blocks; its late
// result is discarded.
func (p *Poller) fetch(ctx context.Context) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	ch := make(chan fetchResult, 1)
	go func() {
		raw, err := p.source.Fetch(fetchCtx)
		ch <- fetchResult{raw: raw, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, ErrFetchTimeout
		}
		return r.raw, r.err
	case <-fetchCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrFetchTimeout
	}
}

// ingest validates and stores a normalized fetch
func (p *Poller) ingest(fetched *models.FetchResult, receivedAt time.Time) Result {
	id := p.source.SourceID()
	res := Result{SourceID: id, Outcome: OutcomeSuccess}

	touched := make(map[string]struct{})
	var accepted []models.SourceQuote

	store := func(quotes []models.SourceQuote, category cache.Category, keyFn func(string, string) string) {
		byMarket := make(map[string][]models.SourceQuote)
		for _, q := range quotes {
			if q.Provider == "" {
				q.Provider = id
			}
			if q.ObservedAt.IsZero() {
				q.ObservedAt = receivedAt
			}
			if err := p.validate(q); err != nil {
				res.Rejected++
				p.log.Debug("dropping invalid quote", "market", q.MarketKey.String(), "book", q.SourceID, "error", err)
				continue
			}
			market := q.MarketKey.String()
			byMarket[market] = append(byMarket[market], q.Clone())
		}

		for market, quotes := range byMarket {
			sort.Slice(quotes, func(i, j int) bool { return quotes[i].SourceID < quotes[j].SourceID })
			if err := p.store.Put(keyFn(id, market), market, quotes, category); err != nil {
				p.log.Error("cache put failed", "market", market, "error", err)
				continue
			}
			touched[market] = struct{}{}
			res.Quotes += len(quotes)
			accepted = append(accepted, quotes...)
		}
	}

	store(fetched.Odds, cache.CategoryOdds, OddsKey)
	store(fetched.Props, cache.CategoryProps, PropsKey)

	if len(fetched.Games) > 0 {
		games := make([]models.Game, len(fetched.Games))
		copy(games, fetched.Games)
		for i := range games {
			if games[i].Provider == "" {
				games[i].Provider = id
			}
		}
		if err := p.store.Put(GamesKey(id), "", games, cache.CategoryGames); err != nil {
			p.log.Error("cache put failed", "key", GamesKey(id), "error", err)
		} else {
			res.Games = len(games)
		}
	}

	if p.tracker != nil && len(accepted) > 0 {
		res.Changed = len(p.tracker.Observe(accepted))
	}

	res.Markets = make([]string, 0, len(touched))
	for market := range touched {
		res.Markets = append(res.Markets, market)
	}
	sort.Strings(res.Markets)
	return res
}

// fail records a failed poll and leaves the cache untouched
func (p *Poller) fail(ctx context.Context, tickID string, err *SourceFetchError, duration time.Duration) Result {
	now := p.now()

	p.mu.Lock()
	p.status.Failures++
	p.status.ConsecutiveFailures++
	p.status.LastError = err.Error()
	p.status.LastErrorAt = now
	failures := p.status.ConsecutiveFailures
	p.mu.Unlock()

	metrics.RecordPoll(err.SourceID, string(OutcomeFailed), duration)
	p.log.Warn("poll failed",
		"tick_id", tickID,
		"stage", err.Stage,
		"consecutive_failures", failures,
		"error", err.Err,
	)
	p.sink.Emit(ctx, events.Event{
		Type:       events.PollFailure,
		TickID:     tickID,
		SourceID:   err.SourceID,
		Error:      err.Error(),
		DurationMS: duration.Milliseconds(),
		At:         now,
	})
	return Result{SourceID: err.SourceID, Outcome: OutcomeFailed, Err: err, Duration: duration}
}
