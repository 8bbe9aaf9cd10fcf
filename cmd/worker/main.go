package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/config"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/syncer"

	"github.com/joho/godotenv"
)

// Headless copy-trading worker. Runs leader detection, trade monitoring and
// copy synthesis without the HTTP surface.
func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(os.Getenv("COPYTRADER_CONFIG"))
	if err != nil {
		log.Fatalf("[worker] failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var store storage.DataStore
	if os.Getenv("POSTGRES_HOST") != "" {
		store, err = storage.NewPostgres()
		if err != nil {
			log.Fatalf("[worker] failed to init postgres: %v", err)
		}
		log.Println("[worker] PostgreSQL storage initialized")
	} else {
		store, err = storage.New(cfg.Data.DBPath)
		if err != nil {
			log.Fatalf("[worker] failed to init storage: %v", err)
		}
		log.Printf("[worker] sqlite storage initialized at %s", cfg.Data.DBPath)
	}
	defer store.Close()

	// Initialize API client
	baseURL := os.Getenv("POLYMARKET_API_URL")
	if baseURL == "" {
		baseURL = cfg.Exchange.BaseURL
	}
	apiClient := api.NewClient(baseURL)

	ws := api.NewWSClient(cfg.Exchange.WebsocketURL, nil)
	if err := ws.Connect(ctx); err != nil {
		log.Printf("[worker] Push transport unavailable, falling back to polling: %v", err)
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

	// Subscribe either to an explicit leader list or to the top detected
	// leaders by volume.
	if addrs := os.Getenv("WORKER_LEADERS"); addrs != "" {
		for _, addr := range strings.Split(addrs, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			if err := monitor.AddLeader(addr, pollInterval); err != nil {
				log.Printf("[worker] failed to monitor %s: %v", addr, err)
			}
		}
	} else {
		n := getEnvInt("WORKER_TOP_LEADERS", 10)
		leaders, err := monitor.AddTopLeaders(ctx, n, cfg.Detection.MinVolumeUSD)
		if err != nil {
			log.Printf("[worker] leader detection failed: %v", err)
		} else {
			log.Printf("[worker] Monitoring top %d leader(s)", len(leaders))
		}
	}

	log.Println("[worker] Worker is running. Press Ctrl+C to stop.")

	<-ctx.Done()
	log.Println("[worker] Received shutdown signal, stopping gracefully...")
}

// getEnvInt retrieves an int from environment or returns default
func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}
