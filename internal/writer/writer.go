package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/XavierBriggs/Delphi/internal/logging"
	"github.com/XavierBriggs/Delphi/pkg/models"
	"github.com/lib/pq"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
)

// Schema creates the latest-snapshot table
const Schema = `
CREATE TABLE IF NOT EXISTS odds_snapshots (
	market_key      text PRIMARY KEY,
	game_id         text NOT NULL,
	subject         text NOT NULL,
	prop_type       text NOT NULL,
	line            numeric NOT NULL,
	over_price      integer NOT NULL,
	under_price     integer NOT NULL,
	confidence      double precision NOT NULL,
	total_volume    bigint NOT NULL,
	line_movement   double precision NOT NULL,
	price_movement  double precision NOT NULL,
	volatility      double precision NOT NULL,
	vig             double precision NOT NULL,
	fair_over_prob  double precision NOT NULL,
	fair_under_prob double precision NOT NULL,
	source_count    integer NOT NULL,
	sources         jsonb NOT NULL,
	stale           boolean NOT NULL,
	computed_at     timestamptz NOT NULL
)`

const upsertQuery = `
	INSERT INTO odds_snapshots (
		market_key, game_id, subject, prop_type, line, over_price, under_price,
		confidence, total_volume, line_movement, price_movement, volatility,
		vig, fair_over_prob, fair_under_prob, source_count, sources, stale, computed_at
	)
	SELECT * FROM UNNEST(
		$1::text[], $2::text[], $3::text[], $4::text[], $5::numeric[], $6::int[], $7::int[],
		$8::float8[], $9::bigint[], $10::float8[], $11::float8[], $12::float8[],
		$13::float8[], $14::float8[], $15::float8[], $16::int[], $17::jsonb[], $18::boolean[], $19::timestamptz[]
	)
	ON CONFLICT (market_key) DO UPDATE SET
		line = EXCLUDED.line,
		over_price = EXCLUDED.over_price,
		under_price = EXCLUDED.under_price,
		confidence = EXCLUDED.confidence,
		total_volume = EXCLUDED.total_volume,
		line_movement = EXCLUDED.line_movement,
		price_movement = EXCLUDED.price_movement,
		volatility = EXCLUDED.volatility,
		vig = EXCLUDED.vig,
		fair_over_prob = EXCLUDED.fair_over_prob,
		fair_under_prob = EXCLUDED.fair_under_prob,
		source_count = EXCLUDED.source_count,
		sources = EXCLUDED.sources,
		stale = EXCLUDED.stale,
		computed_at = EXCLUDED.computed_at
	WHERE odds_snapshots.computed_at <= EXCLUDED.computed_at
`

// Config configures a SnapshotWriter
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// SnapshotWriter keeps the latest snapshot of every market in Postgres.
// Snapshots are buffered per market so a batch holds at most one row per key;
// a later snapshot for the same market replaces the buffered one.
type SnapshotWriter struct {
	db  *sql.DB
	cfg Config
	log *logging.Logger

	buffer map[string]models.OddsSnapshot
	mu     sync.Mutex

	flushChan chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewSnapshotWriter creates a new batching writer
func NewSnapshotWriter(db *sql.DB, cfg Config, log *logging.Logger) *SnapshotWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &SnapshotWriter{
		db:        db,
		cfg:       cfg,
		log:       log.With("component", "snapshot_writer"),
		buffer:    make(map[string]models.OddsSnapshot, cfg.BatchSize),
		flushChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
}

// EnsureSchema creates the snapshot table if it does not exist
func (w *SnapshotWriter) EnsureSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("create odds_snapshots: %w", err)
	}
	return nil
}

// Start begins the background flush loop, driven by the ticker and by full batches
func (w *SnapshotWriter) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.Flush(ctx); err != nil {
					w.log.Warn("flush failed", "error", err)
				}
			case <-w.flushChan:
				if err := w.Flush(ctx); err != nil {
					w.log.Warn("flush failed", "error", err)
				}
			case <-w.stopChan:
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := w.Flush(flushCtx); err != nil {
					w.log.Warn("final flush failed", "error", err)
				}
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop flushes what is buffered and shuts down the writer
func (w *SnapshotWriter) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
}

// ObserveSnapshot buffers a freshly computed snapshot. A full batch wakes the
// flush loop; the caller never waits on Postgres.
func (w *SnapshotWriter) ObserveSnapshot(_ context.Context, snap models.OddsSnapshot) {
	if _, err := models.ParseMarketKey(snap.MarketKey); err != nil {
		w.log.Warn("dropping snapshot", "market", snap.MarketKey, "error", err)
		return
	}

	w.mu.Lock()
	if prev, ok := w.buffer[snap.MarketKey]; ok && prev.ComputedAt.After(snap.ComputedAt) {
		w.mu.Unlock()
		return
	}
	w.buffer[snap.MarketKey] = snap.Clone()
	shouldFlush := len(w.buffer) >= w.cfg.BatchSize
	w.mu.Unlock()

	if shouldFlush {
		select {
		case w.flushChan <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered markets
func (w *SnapshotWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Flush upserts buffered snapshots in one transaction. On failure the batch
// is put back unless a newer snapshot for the same market arrived meanwhile.
func (w *SnapshotWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = make(map[string]models.OddsSnapshot, w.cfg.BatchSize)
	w.mu.Unlock()

	if err := w.write(ctx, batch); err != nil {
		w.requeue(batch)
		return err
	}

	w.log.Debug("snapshots flushed", "count", len(batch))
	return nil
}

func (w *SnapshotWriter) write(ctx context.Context, batch map[string]models.OddsSnapshot) error {
	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := len(keys)
	marketKeys := make([]string, n)
	gameIDs := make([]string, n)
	subjects := make([]string, n)
	propTypes := make([]string, n)
	lines := make([]string, n)
	overPrices := make([]int64, n)
	underPrices := make([]int64, n)
	confidences := make([]float64, n)
	volumes := make([]int64, n)
	lineMoves := make([]float64, n)
	priceMoves := make([]float64, n)
	volatilities := make([]float64, n)
	vigs := make([]float64, n)
	fairOver := make([]float64, n)
	fairUnder := make([]float64, n)
	sourceCounts := make([]int64, n)
	sources := make([]string, n)
	stales := make([]bool, n)
	computedAts := make([]string, n)

	for i, key := range keys {
		snap := batch[key]
		mk, err := models.ParseMarketKey(snap.MarketKey)
		if err != nil {
			return fmt.Errorf("snapshot %q: %w", snap.MarketKey, err)
		}
		encoded, err := json.Marshal(snap.Sources)
		if err != nil {
			return fmt.Errorf("marshal sources for %s: %w", snap.MarketKey, err)
		}

		marketKeys[i] = snap.MarketKey
		gameIDs[i] = mk.GameID
		subjects[i] = mk.Subject
		propTypes[i] = mk.PropType
		lines[i] = snap.Consensus.Line.String()
		overPrices[i] = int64(snap.Consensus.OverPrice)
		underPrices[i] = int64(snap.Consensus.UnderPrice)
		confidences[i] = snap.Consensus.Confidence
		volumes[i] = snap.MarketMetrics.TotalVolume
		lineMoves[i] = snap.MarketMetrics.LineMovement
		priceMoves[i] = snap.MarketMetrics.PriceMovement
		volatilities[i] = snap.MarketMetrics.Volatility
		vigs[i] = snap.Pricing.Vig
		fairOver[i] = snap.Pricing.FairOverProbability
		fairUnder[i] = snap.Pricing.FairUnderProbability
		sourceCounts[i] = int64(len(snap.Sources))
		sources[i] = string(encoded)
		stales[i] = snap.Stale
		computedAts[i] = snap.ComputedAt.UTC().Format(time.RFC3339Nano)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, upsertQuery,
		pq.Array(marketKeys), pq.Array(gameIDs), pq.Array(subjects), pq.Array(propTypes),
		pq.Array(lines), pq.Array(overPrices), pq.Array(underPrices),
		pq.Array(confidences), pq.Array(volumes), pq.Array(lineMoves), pq.Array(priceMoves), pq.Array(volatilities),
		pq.Array(vigs), pq.Array(fairOver), pq.Array(fairUnder), pq.Array(sourceCounts),
		pq.Array(sources), pq.Array(stales), pq.Array(computedAts),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (w *SnapshotWriter) requeue(batch map[string]models.OddsSnapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, snap := range batch {
		if cur, ok := w.buffer[k]; ok && !snap.ComputedAt.After(cur.ComputedAt) {
			continue
		}
		w.buffer[k] = snap
	}
}
