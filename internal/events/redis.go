package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/XavierBriggs/Delphi/internal/logging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	defaultStream        = "delphi.events"
)

// RedisConfig configures a RedisSink
type RedisConfig struct {
	Stream        string
	MaxLen        int64 // approximate stream cap, 0 for unbounded
	BatchSize     int
	FlushInterval time.Duration
}

// RedisSink batches events and publishes them to a Redis Stream.
// Each stream entry carries the event type and its JSON encoding under "data".
type RedisSink struct {
	redis *redis.Client
	cfg   RedisConfig
	log   *logging.Logger

	buffer []Event
	mu     sync.Mutex

	flushChan chan struct{}
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewRedisSink creates a batching stream publisher
func NewRedisSink(client *redis.Client, cfg RedisConfig, log *logging.Logger) *RedisSink {
	if cfg.Stream == "" {
		cfg.Stream = defaultStream
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &RedisSink{
		redis:     client,
		cfg:       cfg,
		log:       log.With("component", "redis_sink", "stream", cfg.Stream),
		buffer:    make([]Event, 0, cfg.BatchSize),
		flushChan: make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background flush loop, driven by the ticker and by full batches
func (s *RedisSink) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Flush(ctx); err != nil {
					s.log.Warn("flush failed", "error", err)
				}
			case <-s.flushChan:
				if err := s.Flush(ctx); err != nil {
					s.log.Warn("flush failed", "error", err)
				}
			case <-s.stopChan:
				// final flush must outlive a cancelled parent context
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.Flush(flushCtx); err != nil {
					s.log.Warn("final flush failed", "error", err)
				}
				cancel()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop flushes what is buffered and shuts down the flush loop
func (s *RedisSink) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

// Emit buffers an event. A full batch wakes the flush loop; Emit itself never
// waits on Redis.
func (s *RedisSink) Emit(_ context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, e)
	shouldFlush := len(s.buffer) >= s.cfg.BatchSize
	s.mu.Unlock()

	if shouldFlush {
		select {
		case s.flushChan <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered events
func (s *RedisSink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Flush publishes every buffered event in one pipeline. Events of a failed
// flush are dropped; the stream is best effort.
func (s *RedisSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.buffer
	s.buffer = make([]Event, 0, s.cfg.BatchSize)
	s.mu.Unlock()

	pipe := s.redis.Pipeline()
	for _, e := range batch {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}

		args := &redis.XAddArgs{
			Stream: s.cfg.Stream,
			Values: map[string]interface{}{
				"type": string(e.Type),
				"data": data,
			},
		}
		if s.cfg.MaxLen > 0 {
			args.MaxLen = s.cfg.MaxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline exec for stream: %w", err)
	}
	return nil
}
