package contracts

import (
	"context"
	"time"

	"github.com/XavierBriggs/Delphi/pkg/models"
)

// QuoteSource defines the capability every upstream provider exposes to the poller.
// Fetch and Normalize are split so a raw payload can be captured or replayed
// independently of parsing.
type QuoteSource interface {
	// SourceID returns the stable identifier used for budgets, cache keys and logs
	SourceID() string

	// Fetch performs one upstream fetch, the unit a rate limit budget counts,
	// and returns the raw payload
	Fetch(ctx context.Context) ([]byte, error)

	// Normalize parses a raw body into quotes and game metadata
	Normalize(raw []byte, receivedAt time.Time) (*models.FetchResult, error)
}

// RateLimitReporter is implemented by sources that surface provider-side quota headers
type RateLimitReporter interface {
	RateLimits() RateLimits
}

// RateLimits is the provider's own view of remaining quota
type RateLimits struct {
	RequestsRemaining int       `json:"requests_remaining"`
	RequestsUsed      int       `json:"requests_used"`
	UpdatedAt         time.Time `json:"updated_at"`
}
