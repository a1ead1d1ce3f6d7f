// Package sportsgameodds adapts the SportsGameOdds v2 events API to a quote
// source. Over and under sides are separate odds keyed by oddID; they are
// paired per bookmaker before becoming quotes.
package sportsgameodds

import (
	"context"
	"encoding/json"
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
	"github.com/shopspring/decimal"
)

const (
	SourceID        = "sportsgameodds"
	DefaultBaseURL  = "https://api.sportsgameodds.com"
	defaultLeague   = "NBA"
	defaultPageSize = 50
	defaultMaxPages = 5
)

// Config configures the client
type Config struct {
	ID         string // source id for budgets and cache keys, defaults to SourceID
	APIKey     string
	BaseURL    string
	LeagueID   string
	Bookmakers []string // optional bookmaker filter

	PageSize   int
	MaxPages   int
	HTTPClient *http.Client
	MaxRetries int
	RetryDelay time.Duration
}

// Client implements contracts.QuoteSource for SportsGameOdds
type Client struct {
	cfg        Config
	sport      contracts.SportModule
	http       *upstream.Client
	bookmakers map[string]bool
	now        func() time.Time

	rateLimits contracts.RateLimits
	mu         sync.RWMutex
}

var (
	_ contracts.QuoteSource       = (*Client)(nil)
	_ contracts.RateLimitReporter = (*Client)(nil)
)

// NewClient creates a SportsGameOdds client
func NewClient(cfg Config, sport contracts.SportModule) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sportsgameodds: api key is required")
	}
	if sport == nil {
		return nil, fmt.Errorf("sportsgameodds: sport module is required")
	}
	if cfg.ID == "" {
		cfg.ID = SourceID
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.LeagueID == "" {
		cfg.LeagueID = defaultLeague
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}

	var books map[string]bool
	if len(cfg.Bookmakers) > 0 {
		books = make(map[string]bool, len(cfg.Bookmakers))
		for _, b := range cfg.Bookmakers {
			books[b] = true
		}
	}

	return &Client{
		cfg:        cfg,
		sport:      sport,
		bookmakers: books,
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

// Fetch pages through the league's events with odds available and returns
// them as a single events payload
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	header := http.Header{}
	header.Set("x-api-key", c.cfg.APIKey)

	merged := eventsResponse{Success: true}
	cursor := ""
	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		params.Set("leagueID", c.cfg.LeagueID)
		params.Set("oddsAvailable", "true")
		params.Set("limit", strconv.Itoa(c.cfg.PageSize))
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.http.Get(ctx, c.cfg.BaseURL+"/v2/events?"+params.Encode(), header, c.updateRateLimits)
		if err != nil {
			return nil, fmt.Errorf("fetch events failed: %w", err)
		}

		var resp eventsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("parse events response: %w", err)
		}
		if !resp.Success {
			return nil, fmt.Errorf("events response reported failure")
		}
		merged.Data = append(merged.Data, resp.Data...)

		if resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	return json.Marshal(merged)
}

// Normalize converts an events payload into quotes and game metadata
func (c *Client) Normalize(raw []byte, receivedAt time.Time) (*models.FetchResult, error) {
	var resp eventsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse events payload: %w", err)
	}

	result := &models.FetchResult{}
	for _, ev := range resp.Data {
		game := c.game(ev, receivedAt)
		if c.sport.ValidateGame(game, receivedAt) == nil {
			result.Games = append(result.Games, game)
		}
		if ev.Status.Completed || ev.Status.Cancelled {
			continue
		}

		oddIDs := make([]string, 0, len(ev.Odds))
		for id := range ev.Odds {
			oddIDs = append(oddIDs, id)
		}
		sort.Strings(oddIDs)

		for _, id := range oddIDs {
			over := ev.Odds[id]
			if over.SideID != "over" || over.BetTypeID != "ou" || over.PeriodID != "game" {
				continue
			}
			under, ok := ev.Odds[strings.TrimSuffix(id, "-over")+"-under"]
			if !ok || !strings.HasSuffix(id, "-over") {
				continue
			}

			key, ok := c.marketKey(ev, game, over)
			if !ok {
				continue
			}

			for _, q := range c.pair(key, over, under, receivedAt) {
				if c.sport.IsPropsMarket(key.PropType) {
					result.Props = append(result.Props, q)
				} else {
					result.Odds = append(result.Odds, q)
				}
			}
		}
	}
	return result, nil
}

func (c *Client) game(ev event, receivedAt time.Time) models.Game {
	commence, err := time.Parse(time.RFC3339, ev.Status.StartsAt)
	if err != nil {
		commence = time.Time{}
	}

	status := "upcoming"
	switch {
	case ev.Status.Completed:
		status = "completed"
	case ev.Status.Started:
		status = "live"
	}

	gameID := c.sport.CanonicalGameID(ev.Teams.Home.Names.Long, ev.Teams.Away.Names.Long, commence)
	if gameID == "" {
		gameID = ev.EventID
	}

	return models.Game{
		GameID:          gameID,
		ProviderEventID: ev.EventID,
		SportKey:        c.sport.GetSportKey(),
		HomeTeam:        c.sport.NormalizeTeamName(ev.Teams.Home.Names.Long),
		AwayTeam:        c.sport.NormalizeTeamName(ev.Teams.Away.Names.Long),
		CommenceTime:    commence,
		Status:          status,
		Provider:        c.cfg.ID,
	}
}

// marketKey resolves the market an over/under pair belongs to. Full-game
// points are the game total, home/away points are team totals, anything
// else keyed by a player is a prop.
func (c *Client) marketKey(ev event, game models.Game, o odd) (models.MarketKey, bool) {
	key := models.MarketKey{GameID: game.GameID}

	switch o.StatEntityID {
	case "all":
		if o.StatID != "points" {
			return key, false
		}
		key.Subject, key.PropType = "game", "totals"
	case "home", "away":
		if o.StatID != "points" {
			return key, false
		}
		name := game.HomeTeam
		if o.StatEntityID == "away" {
			name = game.AwayTeam
		}
		key.Subject, key.PropType = models.Slug(name), "team_totals"
	default:
		propType, ok := c.sport.MapVendorMarketKey(SourceID, o.StatID)
		if !ok {
			return key, false
		}
		playerID := o.PlayerID
		if playerID == "" {
			playerID = o.StatEntityID
		}
		if p, ok := ev.Players[playerID]; ok && p.Name != "" {
			key.Subject = models.Slug(p.Name)
		} else {
			key.Subject = playerSlug(playerID, ev.LeagueID)
		}
		key.PropType = propType
	}

	if key.Subject == "" {
		return key, false
	}
	return key, true
}

// pair builds one quote per bookmaker offering both sides at the same line
func (c *Client) pair(key models.MarketKey, over, under odd, receivedAt time.Time) []models.SourceQuote {
	books := make([]string, 0, len(over.ByBookmaker))
	for book := range over.ByBookmaker {
		if c.bookmakers == nil || c.bookmakers[book] {
			books = append(books, book)
		}
	}
	sort.Strings(books)

	var quotes []models.SourceQuote
	for _, book := range books {
		o := over.ByBookmaker[book]
		u, ok := under.ByBookmaker[book]
		if !ok || !o.Available || !u.Available {
			continue
		}

		line, err := decimal.NewFromString(o.OverUnder)
		if err != nil {
			continue
		}
		if u.OverUnder != "" {
			if underLine, err := decimal.NewFromString(u.OverUnder); err != nil || !underLine.Equal(line) {
				continue
			}
		}

		overPrice, err1 := parsePrice(o.Odds)
		underPrice, err2 := parsePrice(u.Odds)
		if err1 != nil || err2 != nil {
			continue
		}

		observedAt := receivedAt
		if t, err := time.Parse(time.RFC3339, o.LastUpdatedAt); err == nil {
			observedAt = t
		}

		quotes = append(quotes, models.SourceQuote{
			SourceID:   book,
			Provider:   c.cfg.ID,
			MarketKey:  key,
			Line:       line,
			OverPrice:  overPrice,
			UnderPrice: underPrice,
			ObservedAt: observedAt,
		})
	}
	return quotes
}

// updateRateLimits extracts rate limit info from response headers
func (c *Client) updateRateLimits(headers http.Header) {
	remaining, err := strconv.Atoi(headers.Get("x-ratelimit-remaining"))
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimits.RequestsRemaining = remaining
	if limit, err := strconv.Atoi(headers.Get("x-ratelimit-limit")); err == nil && limit >= remaining {
		c.rateLimits.RequestsUsed = limit - remaining
	}
	c.rateLimits.UpdatedAt = c.now()
}

// parsePrice reads American odds such as "-110" or "+120"
func parsePrice(s string) (int, error) {
	return strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "+"))
}

// playerSlug derives a subject from an ID like LEBRON_JAMES_1_NBA
func playerSlug(playerID, league string) string {
	parts := strings.Split(playerID, "_")
	if n := len(parts); n > 0 && league != "" && strings.EqualFold(parts[n-1], league) {
		parts = parts[:n-1]
	}
	if n := len(parts); n > 0 {
		if _, err := strconv.Atoi(parts[n-1]); err == nil {
			parts = parts[:n-1]
		}
	}
	return models.Slug(strings.Join(parts, " "))
}
