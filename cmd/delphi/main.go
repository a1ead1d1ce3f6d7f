package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/XavierBriggs/Delphi/adapters/sportsgameodds"
	"github.com/XavierBriggs/Delphi/adapters/theoddsapi"
	"github.com/XavierBriggs/Delphi/internal/aggregator"
	"github.com/XavierBriggs/Delphi/internal/api"
	"github.com/XavierBriggs/Delphi/internal/cache"
	"github.com/XavierBriggs/Delphi/internal/config"
	"github.com/XavierBriggs/Delphi/internal/delta"
	"github.com/XavierBriggs/Delphi/internal/events"
	"github.com/XavierBriggs/Delphi/internal/logging"
	"github.com/XavierBriggs/Delphi/internal/metrics"
	"github.com/XavierBriggs/Delphi/internal/poller"
	"github.com/XavierBriggs/Delphi/internal/query"
	"github.com/XavierBriggs/Delphi/internal/ratelimit"
	"github.com/XavierBriggs/Delphi/internal/registry"
	"github.com/XavierBriggs/Delphi/internal/scheduler"
	"github.com/XavierBriggs/Delphi/internal/writer"
	"github.com/XavierBriggs/Delphi/pkg/contracts"
	"github.com/XavierBriggs/Delphi/sports/basketball_nba"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

var configPath = flag.String("config", "", "Path to configuration file (defaults and DELPHI_* env vars apply without one)")

func main() {
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "delphi: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ttls := make(map[cache.Category]time.Duration)
	for name, ttl := range cfg.CategoryTTLs() {
		ttls[cache.Category(name)] = ttl
	}
	store, err := cache.NewStore(cache.Config{TTLs: ttls, MaxAge: cfg.Cache.MaxAge})
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}

	// Event sinks: always logged, optionally streamed to Redis
	sinks := events.Multi{events.NewLogSink(log)}
	var redisSink *events.RedisSink
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		redisSink = events.NewRedisSink(client, events.RedisConfig{
			Stream:        cfg.Redis.Stream,
			MaxLen:        cfg.Redis.MaxLen,
			BatchSize:     cfg.Redis.BatchSize,
			FlushInterval: cfg.Redis.FlushInterval,
		}, log)
		redisSink.Start(ctx)
		sinks = append(sinks, redisSink)
		log.Info("redis event stream enabled", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
	}

	// Optional Postgres retention of the latest snapshot per market
	var snapshotWriter *writer.SnapshotWriter
	if cfg.Postgres.Enabled {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		snapshotWriter = writer.NewSnapshotWriter(db, writer.Config{
			BatchSize:     cfg.Postgres.BatchSize,
			FlushInterval: cfg.Postgres.FlushInterval,
		}, log)
		if err := snapshotWriter.EnsureSchema(ctx); err != nil {
			return err
		}
		snapshotWriter.Start(ctx)
		log.Info("postgres snapshot writer enabled")
	}

	nba := basketball_nba.NewModule()
	sports := map[string]sportEntry{
		nba.GetSportKey(): {module: nba, regions: nba.Config().Regions, leagueID: nba.Config().LeagueID},
	}

	budgets := make(map[string]ratelimit.Budget)
	sourceSports := make(map[string]contracts.SportModule)
	sourceRegistry := registry.NewSourceRegistry()
	for _, sc := range cfg.EnabledSources() {
		sport, ok := sports[sportKey(sc)]
		if !ok {
			return fmt.Errorf("source %s: unsupported sport %q", sc.ID, sc.Sport)
		}
		source, err := buildSource(sc, sport)
		if err != nil {
			return fmt.Errorf("source %s: %w", sc.ID, err)
		}
		if err := sourceRegistry.Register(source, sc.Priority); err != nil {
			return err
		}
		budgets[sc.ID] = ratelimit.Budget{DailyCap: sc.DailyCap, HourlyCap: sc.HourlyCap}
		sourceSports[sc.ID] = sport.module
	}
	limiter := ratelimit.NewLimiter(budgets, ratelimit.WithLocation(cfg.Location()))
	tracker := delta.NewTracker(delta.DefaultDepth)

	var (
		targets  []scheduler.Target
		statuses []query.StatusReporter
	)
	for _, entry := range sourceRegistry.Entries() {
		sport := sourceSports[entry.Source.SourceID()]
		p := poller.New(poller.Config{FetchTimeout: cfg.FetchTimeout}, entry.Source, limiter, store,
			poller.WithValidator(sport.ValidateQuote),
			poller.WithTracker(tracker),
			poller.WithSink(sinks),
			poller.WithLogger(log),
		)
		targets = append(targets, p)
		statuses = append(statuses, p)
		log.Info("source registered", "source", entry.Source.SourceID(), "priority", entry.Priority)
	}

	agg := aggregator.New(store, tracker, aggregator.WithSink(sinks), aggregator.WithLogger(log))
	queryOpts := []query.Option{
		query.WithPollers(statuses...),
		query.WithSink(sinks),
		query.WithLogger(log),
	}
	if snapshotWriter != nil {
		queryOpts = append(queryOpts, query.WithObserver(snapshotWriter))
	}
	svc := query.NewService(store, agg, limiter, queryOpts...)

	sched := scheduler.NewScheduler(scheduler.Config{
		PollInterval:  cfg.PollInterval,
		SweepInterval: cfg.SweepInterval,
	}, targets, svc, store,
		scheduler.WithPruner(tracker),
		scheduler.WithUsage(limiter),
		scheduler.WithSink(sinks),
		scheduler.WithLogger(log),
	)

	server := api.NewServer(cfg.HTTP.Addr, svc, log)
	serverErr := server.Start()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	log.Info("delphi started",
		"sources", sourceRegistry.Count(),
		"poll_interval", cfg.PollInterval,
		"http_addr", cfg.HTTP.Addr,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("shutdown signal received", "signal", sig.String())
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", "error", err)
	}
	sched.Stop()
	if snapshotWriter != nil {
		snapshotWriter.Stop()
	}
	if redisSink != nil {
		redisSink.Stop()
	}
	cancel()

	log.Info("delphi stopped")
	return runErr
}

// sportEntry pairs a sport module with the provider defaults it supplies
type sportEntry struct {
	module   contracts.SportModule
	regions  []string
	leagueID string
}

func buildSource(sc config.SourceConfig, sport sportEntry) (contracts.QuoteSource, error) {
	regions := sc.Regions
	if len(regions) == 0 {
		regions = sport.regions
	}

	switch sc.Type {
	case config.SourceTypeTheOddsAPI:
		client, err := theoddsapi.NewClient(theoddsapi.Config{
			ID:         sc.ID,
			APIKey:     sc.APIKey,
			BaseURL:    sc.BaseURL,
			Sport:      sport.module.GetSportKey(),
			Regions:    regions,
			Markets:    sc.Markets,
			Bookmakers: sc.Bookmakers,
		}, sport.module)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.SourceTypeSportsGameOdds:
		client, err := sportsgameodds.NewClient(sportsgameodds.Config{
			ID:         sc.ID,
			APIKey:     sc.APIKey,
			BaseURL:    sc.BaseURL,
			LeagueID:   sport.leagueID,
			Bookmakers: sc.Bookmakers,
		}, sport.module)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", sc.Type)
	}
}

func sportKey(sc config.SourceConfig) string {
	if sc.Sport == "" {
		return "basketball_nba"
	}
	return sc.Sport
}
