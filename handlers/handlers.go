package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/config"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/syncer"
	"polymarket-copytrader/utils"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests
type Handler struct {
	cfg      *config.Config
	store    storage.DataStore
	client   api.ExchangeClient
	registry *syncer.LeaderRegistry
	monitor  *syncer.TradeMonitor
	engine   *syncer.CopyTradingEngine
}

// NewHandler creates a new handler
func NewHandler(cfg *config.Config, store storage.DataStore, client api.ExchangeClient,
	registry *syncer.LeaderRegistry, monitor *syncer.TradeMonitor, engine *syncer.CopyTradingEngine) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    store,
		client:   client,
		registry: registry,
		monitor:  monitor,
		engine:   engine,
	}
}

func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "local"
}

// SubmitTrade validates and records a direct trade submission.
func (h *Handler) SubmitTrade(c *gin.Context) {
	var req models.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	processed, err := h.engine.ProcessTrade(c.Request.Context(), userID(c), req)
	if err != nil {
		if errors.Is(err, syncer.ErrInvalidTrade) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process trade"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"trade": processed})
}

// GetTrades returns the caller's processed trades, newest first.
func (h *Handler) GetTrades(c *gin.Context) {
	limit := parseLimit(c, 100)

	trades, err := h.store.ListProcessedTrades(c.Request.Context(), userID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// GetCopiedTrades returns the caller's copy-trade submission records.
func (h *Handler) GetCopiedTrades(c *gin.Context) {
	limit := parseLimit(c, 100)

	trades, err := h.store.ListCopiedTrades(c.Request.Context(), userID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load copied trades"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trades": trades,
		"count":  len(trades),
	})
}

// GetLeaders returns the current leader snapshot.
func (h *Handler) GetLeaders(c *gin.Context) {
	leaders := h.registry.Leaders()

	c.JSON(http.StatusOK, gin.H{
		"leaders": leaders,
		"count":   len(leaders),
	})
}

// RefreshLeaders recomputes the leader snapshot from recent trades.
func (h *Handler) RefreshLeaders(c *gin.Context) {
	if err := h.registry.Refresh(c.Request.Context()); err != nil {
		if errors.Is(err, api.ErrUpstreamUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "exchange unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to refresh leaders"})
		return
	}

	leaders := h.registry.Leaders()
	c.JSON(http.StatusOK, gin.H{
		"leaders": leaders,
		"count":   len(leaders),
	})
}

// CreateFollow subscribes the caller to a leader wallet.
func (h *Handler) CreateFollow(c *gin.Context) {
	var body struct {
		LeaderAddress string               `json:"leader_address"`
		Settings      *models.CopySettings `json:"settings"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	address := utils.NormalizeAddress(body.LeaderAddress)
	if address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "leader_address required"})
		return
	}

	settings := models.DefaultCopySettings()
	if body.Settings != nil {
		settings = *body.Settings
		if err := settings.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	follow := models.Follow{
		FollowerID:    userID(c),
		LeaderAddress: address,
		Settings:      settings,
		CreatedAt:     time.Now().UTC(),
	}

	if err := h.store.CreateFollow(c.Request.Context(), follow); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create follow"})
		return
	}

	// Start monitoring the leader if the monitor is running. A follow for
	// an already-monitored leader is a no-op here.
	if h.monitor.Running() {
		pollInterval := time.Duration(h.cfg.Monitor.PollIntervalMS) * time.Millisecond
		if err := h.monitor.AddLeader(address, pollInterval); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to monitor leader"})
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"follow": follow})
}

// DeleteFollow removes the caller's follow of a leader wallet.
func (h *Handler) DeleteFollow(c *gin.Context) {
	address, _ := c.Get("validatedAddress")
	addr, _ := address.(string)
	if addr == "" {
		addr = utils.NormalizeAddress(c.Param("address"))
	}
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "leader address required"})
		return
	}

	if err := h.store.DeleteFollow(c.Request.Context(), userID(c), addr); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete follow"})
		return
	}

	// Stop monitoring only when nobody else follows this leader.
	remaining, err := h.store.FindFollowsByLeader(c.Request.Context(), addr)
	if err == nil && len(remaining) == 0 {
		h.monitor.RemoveLeader(addr)
	}

	c.JSON(http.StatusOK, gin.H{"deleted": addr})
}

// ListFollows returns the caller's follows.
func (h *Handler) ListFollows(c *gin.Context) {
	follows, err := h.store.ListFollowsByFollower(c.Request.Context(), userID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load follows"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"follows": follows,
		"count":   len(follows),
	})
}

// GetCopySettings returns the caller's default copy settings.
func (h *Handler) GetCopySettings(c *gin.Context) {
	settings, err := h.store.GetUserCopySettings(c.Request.Context(), userID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load settings"})
		return
	}
	if settings == nil {
		def := models.DefaultCopySettings()
		settings = &def
	}

	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// UpdateCopySettings replaces the caller's default copy settings.
func (h *Handler) UpdateCopySettings(c *gin.Context) {
	var settings models.CopySettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := settings.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.SetUserCopySettings(c.Request.Context(), userID(c), settings); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save settings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

// GetMonitorStatus reports monitor state and active subscriptions.
func (h *Handler) GetMonitorStatus(c *gin.Context) {
	subs := h.monitor.Subscriptions()

	c.JSON(http.StatusOK, gin.H{
		"running":       h.monitor.Running(),
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// MonitorTopLeaders detects leaders and subscribes to the top n by volume.
func (h *Handler) MonitorTopLeaders(c *gin.Context) {
	var body struct {
		Count        int     `json:"count"`
		MinVolumeUSD float64 `json:"min_volume_usd"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if body.Count <= 0 {
		body.Count = 10
	}
	if body.Count > h.cfg.Monitor.MaxLeaders {
		body.Count = h.cfg.Monitor.MaxLeaders
	}
	if body.MinVolumeUSD <= 0 {
		body.MinVolumeUSD = h.cfg.Detection.MinVolumeUSD
	}

	leaders, err := h.monitor.AddTopLeaders(c.Request.Context(), body.Count, body.MinVolumeUSD)
	if err != nil {
		if errors.Is(err, api.ErrUpstreamUnavailable) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "exchange unavailable"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add leaders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"leaders": leaders,
		"count":   len(leaders),
	})
}

// GetMarkets lists exchange markets.
func (h *Handler) GetMarkets(c *gin.Context) {
	limit := parseLimit(c, 100)

	markets, err := h.client.ListMarkets(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"markets": markets,
		"count":   len(markets),
	})
}

// GetWalletTrades returns recent trades for a wallet.
func (h *Handler) GetWalletTrades(c *gin.Context) {
	address, _ := c.Get("validatedAddress")
	addr, _ := address.(string)
	if addr == "" {
		addr = utils.NormalizeAddress(c.Param("address"))
	}
	if addr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet address required"})
		return
	}

	limit := parseLimit(c, 100)

	trades, err := h.client.GetWalletTrades(c.Request.Context(), addr, limit)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "wallet not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "exchange unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address": addr,
		"trades":  trades,
		"count":   len(trades),
	})
}

// HealthCheck reports process liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"monitor": h.monitor.Running(),
	})
}

func parseLimit(c *gin.Context, def int) int {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return def
	}
	if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 10000 {
		return l
	}
	return def
}
