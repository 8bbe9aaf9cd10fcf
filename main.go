package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/config"
	"polymarket-copytrader/handlers"
	"polymarket-copytrader/middleware"
	"polymarket-copytrader/ratelimit"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/syncer"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("COPYTRADER_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres when configured, local sqlite otherwise.
	var store storage.DataStore
	var pgStore *storage.PostgresStore
	if os.Getenv("POSTGRES_HOST") != "" {
		pgStore, err = storage.NewPostgres()
		if err != nil {
			log.Fatalf("failed to init postgres: %v", err)
		}
		store = pgStore
		log.Println("[main] Using Postgres storage")
	} else {
		store, err = storage.New(cfg.Data.DBPath)
		if err != nil {
			log.Fatalf("failed to init storage: %v", err)
		}
		log.Printf("[main] Using sqlite storage at %s", cfg.Data.DBPath)
	}
	defer store.Close()

	baseURL := os.Getenv("POLYMARKET_API_URL")
	if baseURL == "" {
		baseURL = cfg.Exchange.BaseURL
	}
	apiClient := api.NewClient(baseURL)

	ws := api.NewWSClient(cfg.Exchange.WebsocketURL, nil)
	if err := ws.Connect(ctx); err != nil {
		log.Printf("[main] Push transport unavailable, falling back to polling: %v", err)
	}
	defer ws.Disconnect()

	bus := syncer.NewBus()

	registry := syncer.NewLeaderRegistry(apiClient, bus, cfg.Detection.MinVolumeUSD, cfg.Detection.MinTrades)
	registry.StartRefreshLoop(ctx, time.Duration(cfg.Detection.RefreshMins)*time.Minute)
	defer registry.Stop()

	pollInterval := time.Duration(cfg.Monitor.PollIntervalMS) * time.Millisecond
	monitor := syncer.NewTradeMonitor(apiClient, ws, bus, pollInterval)
	monitor.Start(ctx)
	defer monitor.Stop()

	scheduler := syncer.NewCopyScheduler(store, bus)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	engine := syncer.NewCopyTradingEngine(store, scheduler, bus, syncer.EngineConfig{
		MinAmountUSD: cfg.Copy.MinAmountUSD,
		MaxAmountUSD: cfg.Copy.MaxAmountUSD,
	})
	engine.Start(ctx)
	defer engine.Stop()

	// Redis-backed rate limiting when Postgres is configured, in-memory
	// otherwise.
	var limiter *ratelimit.Limiter
	if pgStore != nil {
		limiter = ratelimit.NewLimiter(ratelimit.NewRedisStore(pgStore.Redis()))
	} else {
		memStore := ratelimit.NewMemoryStore(time.Minute)
		defer memStore.Stop()
		limiter = ratelimit.NewLimiter(memStore)
	}

	// Set up router
	r := gin.Default()

	h := handlers.NewHandler(cfg, store, apiClient, registry, monitor, engine)

	r.GET("/health", h.HealthCheck)

	authed := r.Group("/api")
	authed.Use(middleware.RequireAuth())
	authed.Use(middleware.ValidateQueryParams())

	read := authed.Group("")
	read.Use(ratelimit.Middleware(limiter, ratelimit.CategoryRead))
	{
		read.GET("/leaders", h.GetLeaders)
		read.GET("/markets", h.GetMarkets)
		read.GET("/wallets/:address/trades", middleware.ValidateWalletAddress(), h.GetWalletTrades)
		read.GET("/trades", h.GetTrades)
		read.GET("/trades/copied", h.GetCopiedTrades)
		read.GET("/follows", h.ListFollows)
		read.GET("/settings/copy", h.GetCopySettings)
		read.GET("/monitor/status", h.GetMonitorStatus)
	}

	trade := authed.Group("")
	trade.Use(ratelimit.Middleware(limiter, ratelimit.CategoryTrade))
	{
		trade.POST("/trades", h.SubmitTrade)
	}

	follow := authed.Group("")
	follow.Use(ratelimit.Middleware(limiter, ratelimit.CategoryFollow))
	{
		follow.POST("/follows", h.CreateFollow)
		follow.DELETE("/follows/:address", middleware.ValidateWalletAddress(), h.DeleteFollow)
		follow.PUT("/settings/copy", h.UpdateCopySettings)
		follow.POST("/leaders/refresh", h.RefreshLeaders)
		follow.POST("/monitor/leaders/top", h.MonitorTopLeaders)
	}

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutMS) * time.Millisecond,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[main] Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Server shutdown: %v", err)
	}
}
