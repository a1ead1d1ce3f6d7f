package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/XavierBriggs/Delphi/internal/cache"
	"github.com/XavierBriggs/Delphi/internal/query"
	"github.com/XavierBriggs/Delphi/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	snapshots map[string]models.OddsSnapshot
	failWith  error
	cleared   int
	bulkKeys  []string
}

func (f *fakeService) GetSnapshot(_ context.Context, key string) (models.OddsSnapshot, error) {
	if _, err := models.ParseMarketKey(key); err != nil {
		return models.OddsSnapshot{}, err
	}
	if f.failWith != nil {
		return models.OddsSnapshot{}, f.failWith
	}
	snap, ok := f.snapshots[key]
	if !ok {
		return models.OddsSnapshot{}, fmt.Errorf("%w: %s", query.ErrNotFound, key)
	}
	return snap, nil
}

func (f *fakeService) GetBulk(_ context.Context, keys []string) map[string]models.OddsSnapshot {
	f.bulkKeys = keys
	out := make(map[string]models.OddsSnapshot)
	for _, k := range keys {
		if snap, ok := f.snapshots[k]; ok {
			out[k] = snap
		}
	}
	return out
}

func (f *fakeService) GetCacheStats() query.CacheStats {
	return query.CacheStats{Stats: cache.Stats{Entries: 3, Hits: 2, Misses: 1}}
}

func (f *fakeService) GetUsageStats() query.UsageStats {
	return query.UsageStats{TotalCalls: 7, CallsToday: 7, CallsHour: 2}
}

func (f *fakeService) ClearCache(context.Context) int {
	f.cleared++
	return 3
}

func (f *fakeService) ListMarkets() []string {
	keys := make([]string, 0, len(f.snapshots))
	for k := range f.snapshots {
		keys = append(keys, k)
	}
	return keys
}

func (f *fakeService) GetGames() []models.Game {
	return []models.Game{{GameID: "g1", HomeTeam: "Los Angeles Lakers", AwayTeam: "Boston Celtics"}}
}

const market = "g1:lebron_james:player_points"

func setup() (*gin.Engine, *fakeService) {
	gin.SetMode(gin.TestMode)
	svc := &fakeService{snapshots: map[string]models.OddsSnapshot{
		market: {
			MarketKey: market,
			Consensus: models.Consensus{Line: decimal.RequireFromString("24.5"), OverPrice: -110, UnderPrice: -110, Confidence: 0.98},
		},
	}}
	return NewRouter(svc, nil), svc
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r, _ := setup()
	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestGetSnapshot(t *testing.T) {
	r, _ := setup()

	w := do(r, http.MethodGet, "/v1/snapshots/"+market, "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.OddsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, market, snap.MarketKey)
	assert.Equal(t, "24.5", snap.Consensus.Line.String())
	assert.Equal(t, -110, snap.Consensus.OverPrice)
}

func TestGetSnapshot_Errors(t *testing.T) {
	r, svc := setup()

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/snapshots/g2:x:player_points", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/snapshots/bogus", "").Code)

	svc.failWith = fmt.Errorf("aggregate exploded")
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/v1/snapshots/"+market, "").Code)
}

func TestGetBulk(t *testing.T) {
	r, svc := setup()

	w := do(r, http.MethodPost, "/v1/snapshots/bulk", `{"market_keys":["`+market+`","g2:x:player_points"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Snapshots map[string]models.OddsSnapshot `json:"snapshots"`
		Count     int                            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Contains(t, body.Snapshots, market)
	assert.Len(t, svc.bulkKeys, 2)
}

func TestGetBulk_BadRequest(t *testing.T) {
	r, _ := setup()
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/snapshots/bulk", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/snapshots/bulk", `{}`).Code)

	keys := make([]string, maxBulkKeys+1)
	for i := range keys {
		keys[i] = fmt.Sprintf(`"g%d:a:player_points"`, i)
	}
	body := `{"market_keys":[` + strings.Join(keys, ",") + `]}`
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/snapshots/bulk", body).Code)
}

func TestListMarketsAndGames(t *testing.T) {
	r, _ := setup()

	w := do(r, http.MethodGet, "/v1/markets", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), market)

	w = do(r, http.MethodGet, "/v1/games", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Boston Celtics")
}

func TestStats(t *testing.T) {
	r, _ := setup()

	w := do(r, http.MethodGet, "/v1/stats/cache", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"hits":2`)

	w = do(r, http.MethodGet, "/v1/stats/usage", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total_calls":7`)
}

func TestClearCache(t *testing.T) {
	r, svc := setup()

	w := do(r, http.MethodDelete, "/v1/cache", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":3}`, w.Body.String())
	assert.Equal(t, 1, svc.cleared)
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := setup()
	do(r, http.MethodGet, "/health", "")

	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
}
