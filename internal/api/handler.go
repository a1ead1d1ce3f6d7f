package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/XavierBriggs/Delphi/internal/query"
	"github.com/XavierBriggs/Delphi/pkg/models"
	"github.com/gin-gonic/gin"
)

const maxBulkKeys = 200

// QueryService is the read surface the HTTP handlers expose
type QueryService interface {
	GetSnapshot(ctx context.Context, marketKey string) (models.OddsSnapshot, error)
	GetBulk(ctx context.Context, marketKeys []string) map[string]models.OddsSnapshot
	GetCacheStats() query.CacheStats
	GetUsageStats() query.UsageStats
	ClearCache(ctx context.Context) int
	ListMarkets() []string
	GetGames() []models.Game
}

// Handler serves the query API over HTTP
type Handler struct {
	svc QueryService
	now func() time.Time
}

// NewHandler creates a Handler
func NewHandler(svc QueryService) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

type bulkRequest struct {
	MarketKeys []string `json:"market_keys" binding:"required"`
}

// Health reports liveness
// GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": h.now().UTC()})
}

// GetSnapshot returns one market's consensus snapshot
// GET /v1/snapshots/:marketKey
func (h *Handler) GetSnapshot(c *gin.Context) {
	snap, err := h.svc.GetSnapshot(c.Request.Context(), c.Param("marketKey"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snap)
	case errors.Is(err, models.ErrInvalidMarketKey):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, query.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GetBulk returns snapshots for a list of markets; missing markets are omitted
// POST /v1/snapshots/bulk
func (h *Handler) GetBulk(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.MarketKeys) > maxBulkKeys {
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many market keys"})
		return
	}

	snapshots := h.svc.GetBulk(c.Request.Context(), req.MarketKeys)
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots, "count": len(snapshots)})
}

// ListMarkets returns every market with cached data
// GET /v1/markets
func (h *Handler) ListMarkets(c *gin.Context) {
	markets := h.svc.ListMarkets()
	c.JSON(http.StatusOK, gin.H{"markets": markets, "count": len(markets)})
}

// GetGames returns merged game metadata
// GET /v1/games
func (h *Handler) GetGames(c *gin.Context) {
	games := h.svc.GetGames()
	c.JSON(http.StatusOK, gin.H{"games": games, "count": len(games)})
}

// GetCacheStats
// GET /v1/stats/cache
func (h *Handler) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetCacheStats())
}

// GetUsageStats
// GET /v1/stats/usage
func (h *Handler) GetUsageStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.GetUsageStats())
}

// ClearCache drops every cache entry
// DELETE /v1/cache
func (h *Handler) ClearCache(c *gin.Context) {
	removed := h.svc.ClearCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
