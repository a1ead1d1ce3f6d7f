package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/XavierBriggs/Delphi/pkg/models"
	"github.com/shopspring/decimal"
)

// NewTestGame creates a test game
func NewTestGame(gameID, homeTeam, awayTeam string, hoursUntilStart float64) models.Game {
	return models.Game{
		GameID:       gameID,
		SportKey:     "basketball_nba",
		HomeTeam:     homeTeam,
		AwayTeam:     awayTeam,
		CommenceTime: time.Now().Add(time.Duration(hoursUntilStart * float64(time.Hour))),
		Status:       "upcoming",
	}
}

// NewTestKey creates a player points market key for a game
func NewTestKey(gameID, subject string) models.MarketKey {
	return models.MarketKey{GameID: gameID, Subject: subject, PropType: "player_points"}
}

// NewTestQuote creates a test quote
func NewTestQuote(key models.MarketKey, sourceID string, line float64, over, under int) models.SourceQuote {
	return models.SourceQuote{
		SourceID:   sourceID,
		MarketKey:  key,
		Line:       decimal.NewFromFloat(line),
		OverPrice:  over,
		UnderPrice: under,
		ObservedAt: time.Now(),
	}
}

// WithVolume returns q with a volume set
func WithVolume(q models.SourceQuote, volume int64) models.SourceQuote {
	q.Volume = &volume
	return q
}

// GoldenFixture is a two-way market with known pricing outputs
type GoldenFixture struct {
	Name          string
	OverPrice     int
	UnderPrice    int
	ExpectedVig   float64 // percent
	ExpectedFair  float64 // de-vigged over probability
	ExpectedEdges map[int]float64
}

// GetGoldenFixtures returns test fixtures with expected outputs
func GetGoldenFixtures() []GoldenFixture {
	return []GoldenFixture{
		{
			Name:         "Standard Juice",
			OverPrice:    -110,
			UnderPrice:   -110,
			ExpectedVig:  4.7619,
			ExpectedFair: 0.50,
			ExpectedEdges: map[int]float64{
				-110: -4.5455, // fair even money vs -110
				100:  0,
			},
		},
		{
			Name:         "Favorite Underdog",
			OverPrice:    -150,
			UnderPrice:   130,
			ExpectedVig:  3.4783,
			ExpectedFair: 0.5798,
		},
		{
			Name:         "No Margin",
			OverPrice:    100,
			UnderPrice:   -100,
			ExpectedVig:  0,
			ExpectedFair: 0.50,
		},
		{
			Name:         "Heavy Favorite",
			OverPrice:    -300,
			UnderPrice:   240,
			ExpectedVig:  4.4118,
			ExpectedFair: 0.7183,
		},
	}
}

// MockQuoteSource is a test source returning predetermined results
type MockQuoteSource struct {
	ID            string
	FetchFunc     func(ctx context.Context) ([]byte, error)
	NormalizeFunc func(raw []byte, receivedAt time.Time) (*models.FetchResult, error)

	// Result is returned by Normalize when NormalizeFunc is nil
	Result *models.FetchResult
	// Delay blocks Fetch until it elapses or the context ends
	Delay time.Duration

	fetches atomic.Int64
	mu      sync.Mutex
}

// SourceID implements contracts.QuoteSource
func (m *MockQuoteSource) SourceID() string {
	return m.ID
}

// Fetch implements contracts.QuoteSource
func (m *MockQuoteSource) Fetch(ctx context.Context) ([]byte, error) {
	m.fetches.Add(1)
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return []byte("{}"), nil
}

// Normalize implements contracts.QuoteSource
func (m *MockQuoteSource) Normalize(raw []byte, receivedAt time.Time) (*models.FetchResult, error) {
	if m.NormalizeFunc != nil {
		return m.NormalizeFunc(raw, receivedAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Result == nil {
		return &models.FetchResult{}, nil
	}
	return &models.FetchResult{
		Props: models.CloneQuotes(m.Result.Props),
		Odds:  models.CloneQuotes(m.Result.Odds),
		Games: append([]models.Game(nil), m.Result.Games...),
	}, nil
}

// SetResult swaps the result returned by Normalize
func (m *MockQuoteSource) SetResult(r *models.FetchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Result = r
}

// Fetches returns how many times Fetch was called
func (m *MockQuoteSource) Fetches() int64 {
	return m.fetches.Load()
}
