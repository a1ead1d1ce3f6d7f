// Package events carries the structured records emitted by pollers, the
// aggregator and the scheduler to observability sinks.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/XavierBriggs/Delphi/internal/logging"
)

// Type names an event
type Type string

const (
	PollSuccess       Type = "poll.success"
	PollFailure       Type = "poll.failure"
	PollDenied        Type = "poll.denied"
	PollSkipped       Type = "poll.skipped"
	AggregateComplete Type = "aggregate.complete"
	CacheSweep        Type = "cache.sweep"
	CacheClear        Type = "cache.clear"
	TickComplete      Type = "tick.complete"
)

// Event is one structured observability record
type Event struct {
	ID         string    `json:"id,omitempty"`
	Type       Type      `json:"type"`
	TickID     string    `json:"tick_id,omitempty"`
	SourceID   string    `json:"source_id,omitempty"`
	MarketKey  string    `json:"market_key,omitempty"`
	Quotes     int       `json:"quotes,omitempty"`
	Rejected   int       `json:"rejected,omitempty"`
	Markets    int       `json:"markets,omitempty"`
	Removed    int       `json:"removed,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Line       string    `json:"line,omitempty"`
	OverPrice  int       `json:"over_price,omitempty"`
	UnderPrice int       `json:"under_price,omitempty"`
	Stale      bool      `json:"stale,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	At         time.Time `json:"at"`
}

// Sink receives events. Emit must not block on slow consumers for long and
// must be safe for concurrent use.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// NopSink discards events
type NopSink struct{}

// Emit implements Sink
func (NopSink) Emit(context.Context, Event) {}

// Multi fans an event out to several sinks in order
type Multi []Sink

// Emit implements Sink
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		s.Emit(ctx, e)
	}
}

// LogSink writes every event as a structured log line
type LogSink struct {
	log *logging.Logger
}

// NewLogSink creates a sink logging through log
func NewLogSink(log *logging.Logger) *LogSink {
	return &LogSink{log: log.With("component", "events")}
}

// Emit implements Sink
func (s *LogSink) Emit(_ context.Context, e Event) {
	fields := []interface{}{"type", e.Type}
	if e.TickID != "" {
		fields = append(fields, "tick_id", e.TickID)
	}
	if e.SourceID != "" {
		fields = append(fields, "source", e.SourceID)
	}
	if e.MarketKey != "" {
		fields = append(fields, "market", e.MarketKey)
	}
	if e.Error != "" {
		fields = append(fields, "error", e.Error)
		s.log.Warn("event", fields...)
		return
	}
	s.log.Debug("event", fields...)
}

// Recorder keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink
func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByType returns recorded events of one type
func (r *Recorder) ByType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
