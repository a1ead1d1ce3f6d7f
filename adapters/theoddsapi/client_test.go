package theoddsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/XavierBriggs/Delphi/sports/basketball_nba"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lakersCeltics is the canonical ID of e1: 00:30Z on Jan 10 is the evening of Jan 9 in New York
const lakersCeltics = "20250109_boston_celtics_at_los_angeles_lakers"

const gameOddsJSON = `[{
	"id": "e1", "sport_key": "basketball_nba", "commence_time": "2025-01-10T00:30:00Z",
	"home_team": "LA Lakers", "away_team": "Boston Celtics",
	"bookmakers": [{
		"key": "fanduel", "title": "FanDuel", "last_update": "2025-01-09T20:00:00Z",
		"markets": [{"key": "totals", "outcomes": [
			{"name": "Over", "price": -110, "point": 228.5},
			{"name": "Under", "price": -110, "point": 228.5}
		]}, {"key": "h2h", "outcomes": [
			{"name": "LA Lakers", "price": -150},
			{"name": "Boston Celtics", "price": 130}
		]}]
	}]
}]`

const eventsJSON = `[
	{"id": "e2", "sport_key": "basketball_nba", "commence_time": "2025-01-10T03:00:00Z", "home_team": "Denver Nuggets", "away_team": "Phoenix Suns"},
	{"id": "e1", "sport_key": "basketball_nba", "commence_time": "2025-01-10T00:30:00Z", "home_team": "LA Lakers", "away_team": "Boston Celtics"}
]`

const eventPropsJSON = `{
	"id": "e1", "sport_key": "basketball_nba", "commence_time": "2025-01-10T00:30:00Z",
	"home_team": "LA Lakers", "away_team": "Boston Celtics",
	"bookmakers": [{
		"key": "draftkings", "title": "DraftKings", "last_update": "2025-01-09T20:05:00Z",
		"markets": [{"key": "player_points", "last_update": "2025-01-09T20:04:00Z", "outcomes": [
			{"name": "Over", "description": "LeBron James", "price": -115, "point": 25.5},
			{"name": "Under", "description": "LeBron James", "price": -105, "point": 25.5},
			{"name": "Over", "description": "Anthony Davis", "price": -120, "point": 27.5}
		]}]
	}]
}`

func newTestServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "test_key", r.URL.Query().Get("apiKey"))
		w.Header().Set("x-requests-remaining", "480")
		w.Header().Set("x-requests-used", "20")

		switch r.URL.Path {
		case "/v4/sports/basketball_nba/odds":
			assert.Equal(t, "totals,team_totals", r.URL.Query().Get("markets"))
			assert.Equal(t, "american", r.URL.Query().Get("oddsFormat"))
			_, _ = w.Write([]byte(gameOddsJSON))
		case "/v4/sports/basketball_nba/events":
			_, _ = w.Write([]byte(eventsJSON))
		case "/v4/sports/basketball_nba/events/e1/odds":
			assert.Equal(t, "player_points", r.URL.Query().Get("markets"))
			_, _ = w.Write([]byte(eventPropsJSON))
		case "/v4/sports/basketball_nba/events/e2/odds":
			http.Error(w, `{"message":"event not found"}`, http.StatusNotFound)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:     "test_key",
		BaseURL:    baseURL,
		Markets:    []string{"totals", "team_totals", "player_points"},
		RetryDelay: time.Millisecond,
	}, basketball_nba.NewModule())
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{}, basketball_nba.NewModule())
	assert.Error(t, err)

	_, err = NewClient(Config{APIKey: "k"}, nil)
	assert.Error(t, err)

	c, err := NewClient(Config{APIKey: "k"}, basketball_nba.NewModule())
	require.NoError(t, err)
	assert.Equal(t, "basketball_nba", c.cfg.Sport)
	assert.Equal(t, DefaultBaseURL, c.cfg.BaseURL)
	assert.Equal(t, SourceID, c.SourceID())
}

func TestFetchAndNormalize(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	raw, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load(), "odds, events, and two event odds requests")

	receivedAt := time.Date(2025, 1, 9, 21, 0, 0, 0, time.UTC)
	res, err := c.Normalize(raw, receivedAt)
	require.NoError(t, err)

	require.Len(t, res.Odds, 1)
	total := res.Odds[0]
	assert.Equal(t, "fanduel", total.SourceID)
	assert.Equal(t, SourceID, total.Provider)
	assert.Equal(t, lakersCeltics+":game:totals", total.MarketKey.String())
	assert.Equal(t, "228.5", total.Line.String())
	assert.Equal(t, time.Date(2025, 1, 9, 20, 0, 0, 0, time.UTC), total.ObservedAt)

	require.Len(t, res.Props, 1, "unpaired Anthony Davis over is dropped")
	prop := res.Props[0]
	assert.Equal(t, lakersCeltics+":lebron_james:player_points", prop.MarketKey.String())
	assert.Equal(t, -115, prop.OverPrice)
	assert.Equal(t, -105, prop.UnderPrice)
	assert.Equal(t, time.Date(2025, 1, 9, 20, 4, 0, 0, time.UTC), prop.ObservedAt)

	require.Len(t, res.Games, 2)
	assert.Equal(t, lakersCeltics, res.Games[0].GameID)
	assert.Equal(t, "e1", res.Games[0].ProviderEventID)
	assert.Equal(t, "20250109_phoenix_suns_at_denver_nuggets", res.Games[1].GameID)
	assert.Equal(t, "Los Angeles Lakers", res.Games[0].HomeTeam)
	assert.Equal(t, "upcoming", res.Games[0].Status)
	assert.Equal(t, SourceID, res.Games[1].Provider)

	limits := c.RateLimits()
	assert.Equal(t, 480, limits.RequestsRemaining)
	assert.Equal(t, 20, limits.RequestsUsed)
	assert.False(t, limits.UpdatedAt.IsZero())
}

func TestFetch_MaxEvents(t *testing.T) {
	var calls atomic.Int32
	srv := newTestServer(t, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.cfg.MaxEvents = 1

	raw, err := c.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	res, err := c.Normalize(raw, time.Now())
	require.NoError(t, err)
	require.Len(t, res.Props, 1, "only the soonest event's props are requested")
	assert.Equal(t, lakersCeltics, res.Props[0].MarketKey.GameID)
}

func TestFetch_UnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNormalize_Errors(t *testing.T) {
	c := newTestClient(t, "http://unused")

	_, err := c.Normalize([]byte(`{not json`), time.Now())
	assert.Error(t, err)

	res, err := c.Normalize([]byte(`[]`), time.Now())
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestNormalize_LiveGame(t *testing.T) {
	c := newTestClient(t, "http://unused")
	res, err := c.Normalize([]byte(gameOddsJSON), time.Date(2025, 1, 10, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, res.Games, 1)
	assert.Equal(t, "live", res.Games[0].Status)
}

func TestPairOutcomes(t *testing.T) {
	p := func(v float64) *float64 { return &v }
	pairs := pairOutcomes([]outcome{
		{Name: "Over", Description: "B", Price: 100, Point: p(10.5)},
		{Name: "Under", Description: "B", Price: -120, Point: p(10.5)},
		{Name: "Over", Description: "A", Price: -110, Point: p(5.5)},
		{Name: "Under", Description: "A", Price: -110, Point: p(6.5)},
		{Name: "Over", Description: "A", Price: -110},
	})
	require.Len(t, pairs, 1)
	assert.Equal(t, "B", pairs[0].description)
	assert.Equal(t, 100, pairs[0].over)
	assert.Equal(t, -120, pairs[0].under)
}

func TestNormalize_QuotesPassValidation(t *testing.T) {
	c := newTestClient(t, "http://unused")
	sport := basketball_nba.NewModule()

	for _, payload := range []string{gameOddsJSON, "[" + eventPropsJSON + "]"} {
		res, err := c.Normalize([]byte(payload), time.Now())
		require.NoError(t, err)
		require.False(t, res.Empty())
		for _, q := range append(res.Odds, res.Props...) {
			assert.NoError(t, sport.ValidateQuote(q))
		}
	}
}

func TestNormalize_FallsBackToEventIDWithoutStartTime(t *testing.T) {
	c := newTestClient(t, "http://unused")
	payload := `[{"id": "e9", "sport_key": "basketball_nba", "home_team": "Denver Nuggets", "away_team": "Phoenix Suns",
		"bookmakers": [{"key": "fanduel", "markets": [{"key": "totals", "outcomes": [
			{"name": "Over", "price": -110, "point": 230.5},
			{"name": "Under", "price": -110, "point": 230.5}
		]}]}]}]`

	res, err := c.Normalize([]byte(payload), time.Now())
	require.NoError(t, err)
	require.Len(t, res.Odds, 1)
	assert.Equal(t, "e9:game:totals", res.Odds[0].MarketKey.String())
}

func TestNormalize_SubjectSlugs(t *testing.T) {
	c := newTestClient(t, "http://unused")
	payload := `[{"id": "e3", "sport_key": "basketball_nba", "commence_time": "2025-01-10T03:00:00Z",
		"home_team": "Denver Nuggets", "away_team": "Phoenix Suns",
		"bookmakers": [{"key": "fanduel", "markets": [{"key": "player_points", "outcomes": [
			{"name": "Over", "description": "Nikola Jokić", "price": -110, "point": 29.5},
			{"name": "Under", "description": "Nikola Jokić", "price": -110, "point": 29.5},
			{"name": "Over", "description": "--", "price": -110, "point": 10.5},
			{"name": "Under", "description": "--", "price": -110, "point": 10.5}
		]}]}]}]`

	res, err := c.Normalize([]byte(payload), time.Now())
	require.NoError(t, err)
	require.Len(t, res.Props, 1, "outcomes without a usable subject are dropped")
	assert.Equal(t, "20250109_phoenix_suns_at_denver_nuggets:nikola_jokic:player_points", res.Props[0].MarketKey.String())
}
