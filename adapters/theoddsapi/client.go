package theoddsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/XavierBriggs/Delphi/adapters/internal/upstream"
	"github.com/XavierBriggs/Delphi/pkg/contracts"
	"github.com/XavierBriggs/Delphi/pkg/models"
)

const (
	SourceID         = "theoddsapi"
	DefaultBaseURL   = "https://api.the-odds-api.com"
	apiVersion       = "v4"
	defaultMaxEvents = 10
)

// Config configures the client
type Config struct {
	ID         string // source id for budgets and cache keys, defaults to SourceID
	APIKey     string
	BaseURL    string
	Sport      string   // e.g. basketball_nba
	Regions    []string // e.g. us, us2
	Markets    []string // internal market keys; props are fetched per event
	Bookmakers []string // optional bookmaker filter

	// MaxEvents caps the per-event props requests of one fetch
	MaxEvents  int
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

// Client implements contracts.QuoteSource for The Odds API v4
type Client struct {
	cfg   Config
	sport contracts.SportModule
	http  *upstream.Client
	now   func() time.Time

	rateLimits contracts.RateLimits
	mu         sync.RWMutex
}

var (
	_ contracts.QuoteSource       = (*Client)(nil)
	_ contracts.RateLimitReporter = (*Client)(nil)
)

// NewClient creates a new The Odds API client
func NewClient(cfg Config, sport contracts.SportModule) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("theoddsapi: api key is required")
	}
	if sport == nil {
		return nil, fmt.Errorf("theoddsapi: sport module is required")
	}
	if cfg.ID == "" {
		cfg.ID = SourceID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Sport == "" {
		cfg.Sport = sport.GetSportKey()
	}
	if len(cfg.Regions) == 0 {
		cfg.Regions = []string{"us"}
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = append(sport.GetGameMarkets(), sport.GetPropsMarkets()...)
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}

	return &Client{
		cfg:   cfg,
		sport: sport,
		http: upstream.New(upstream.Options{
			HTTPClient: cfg.HTTPClient,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		}),
		now: time.Now,
	}, nil
}

// SourceID implements contracts.QuoteSource
func (c *Client) SourceID() string {
	return c.cfg.ID
}

// RateLimits returns the quota reported by the last response
func (c *Client) RateLimits() contracts.RateLimits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rateLimits
}

// Fetch retrieves game markets from the sport odds endpoint and player props
// from the per-event endpoint, merged into one JSON array of events.
// Events without props still appear so their game metadata is kept.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	gameMarkets, propMarkets := c.splitMarkets()

	byID := make(map[string]*oddsResponse)
	var order []string
	add := func(ev oddsResponse) {
		if cur, ok := byID[ev.ID]; ok {
			cur.Bookmakers = append(cur.Bookmakers, ev.Bookmakers...)
			return
		}
		e := ev
		byID[ev.ID] = &e
		order = append(order, ev.ID)
	}

	if len(gameMarkets) > 0 {
		body, err := c.get(ctx, fmt.Sprintf("/sports/%s/odds", c.cfg.Sport), c.oddsParams(gameMarkets))
		if err != nil {
			return nil, fmt.Errorf("fetch odds failed: %w", err)
		}
		var events []oddsResponse
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, fmt.Errorf("parse odds response: %w", err)
		}
		for _, ev := range events {
			add(ev)
		}
	}

	if len(propMarkets) > 0 {
		events, err := c.fetchEvents(ctx)
		if err != nil {
			return nil, err
		}
		for i, ev := range events {
			if i >= c.cfg.MaxEvents {
				break
			}
			odds, err := c.fetchEventOdds(ctx, ev.ID, propMarkets)
			if err != nil {
				return nil, err
			}
			if odds == nil {
				add(oddsResponse{ID: ev.ID, SportKey: ev.SportKey, CommenceTime: ev.CommenceTime, HomeTeam: ev.HomeTeam, AwayTeam: ev.AwayTeam})
				continue
			}
			add(*odds)
		}
	}

	merged := make([]oddsResponse, 0, len(order))
	for _, id := range order {
		merged = append(merged, *byID[id])
	}
	return json.Marshal(merged)
}

// Normalize converts an odds payload into paired over/under quotes and game
// metadata. Unknown markets and outcomes without a matching side are dropped.
func (c *Client) Normalize(raw []byte, receivedAt time.Time) (*models.FetchResult, error) {
	var events []oddsResponse
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, fmt.Errorf("parse odds payload: %w", err)
	}

	result := &models.FetchResult{}
	seenGames := make(map[string]bool)

	for _, event := range events {
		commenceTime := parseTime(event.CommenceTime, time.Time{})
		gameID := c.sport.CanonicalGameID(event.HomeTeam, event.AwayTeam, commenceTime)
		if gameID == "" {
			gameID = event.ID
		}

		if !seenGames[gameID] {
			seenGames[gameID] = true
			game := models.Game{
				GameID:          gameID,
				ProviderEventID: event.ID,
				SportKey:        event.SportKey,
				HomeTeam:        c.sport.NormalizeTeamName(event.HomeTeam),
				AwayTeam:        c.sport.NormalizeTeamName(event.AwayTeam),
				CommenceTime:    commenceTime,
				Status:          gameStatus(commenceTime, receivedAt),
				Provider:        c.cfg.ID,
			}
			if c.sport.ValidateGame(game, receivedAt) == nil {
				result.Games = append(result.Games, game)
			}
		}

		for _, bookmaker := range event.Bookmakers {
			bookUpdate := parseTime(bookmaker.LastUpdate, receivedAt)

			for _, market := range bookmaker.Markets {
				propType, ok := c.sport.MapVendorMarketKey(SourceID, market.Key)
				if !ok {
					continue
				}
				observedAt := parseTime(market.LastUpdate, bookUpdate)

				for _, p := range pairOutcomes(market.Outcomes) {
					subject := "game"
					if p.description != "" {
						subject = models.Slug(p.description)
					}
					if subject == "" {
						continue
					}
					q := models.SourceQuote{
						SourceID:   bookmaker.Key,
						Provider:   c.cfg.ID,
						MarketKey:  models.MarketKey{GameID: gameID, Subject: subject, PropType: propType},
						Line:       p.line,
						OverPrice:  p.over,
						UnderPrice: p.under,
						ObservedAt: observedAt,
					}
					if c.sport.IsPropsMarket(propType) {
						result.Props = append(result.Props, q)
					} else {
						result.Odds = append(result.Odds, q)
					}
				}
			}
		}
	}

	return result, nil
}

func (c *Client) splitMarkets() (game, props []string) {
	for _, m := range c.cfg.Markets {
		if c.sport.IsPropsMarket(m) {
			props = append(props, m)
		} else {
			game = append(game, m)
		}
	}
	return game, props
}

func (c *Client) oddsParams(markets []string) url.Values {
	params := url.Values{}
	params.Set("regions", strings.Join(c.cfg.Regions, ","))
	params.Set("markets", strings.Join(markets, ","))
	params.Set("oddsFormat", "american")
	params.Set("dateFormat", "iso")
	if len(c.cfg.Bookmakers) > 0 {
		params.Set("bookmakers", strings.Join(c.cfg.Bookmakers, ","))
	}
	return params
}

// fetchEvents lists upcoming events, soonest first
func (c *Client) fetchEvents(ctx context.Context) ([]eventResponse, error) {
	params := url.Values{}
	params.Set("dateFormat", "iso")

	body, err := c.get(ctx, fmt.Sprintf("/sports/%s/events", c.cfg.Sport), params)
	if err != nil {
		return nil, fmt.Errorf("fetch events failed: %w", err)
	}

	var events []eventResponse
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("parse events response: %w", err)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CommenceTime < events[j].CommenceTime })
	return events, nil
}

// fetchEventOdds returns nil when the event has no odds available
func (c *Client) fetchEventOdds(ctx context.Context, eventID string, markets []string) (*oddsResponse, error) {
	body, err := c.get(ctx, fmt.Sprintf("/sports/%s/events/%s/odds", c.cfg.Sport, eventID), c.oddsParams(markets))
	if err != nil {
		var httpErr *upstream.HTTPError
		if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusNotFound || httpErr.StatusCode == http.StatusUnprocessableEntity) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch event odds failed: %w", err)
	}

	var resp oddsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse event odds response: %w", err)
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("apiKey", c.cfg.APIKey)
	fullURL := fmt.Sprintf("%s/%s%s?%s", c.cfg.BaseURL, apiVersion, path, params.Encode())
	return c.http.Get(ctx, fullURL, nil, c.updateRateLimits)
}

// updateRateLimits extracts rate limit info from response headers
func (c *Client) updateRateLimits(headers http.Header) {
	remaining := headers.Get("x-requests-remaining")
	used := headers.Get("x-requests-used")
	if remaining == "" && used == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if val, err := strconv.Atoi(remaining); err == nil {
		c.rateLimits.RequestsRemaining = val
	}
	if val, err := strconv.Atoi(used); err == nil {
		c.rateLimits.RequestsUsed = val
	}
	c.rateLimits.UpdatedAt = c.now()
}
