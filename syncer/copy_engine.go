package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/utils"
)

// Validation and synthesis errors. Checked with errors.Is.
var (
	ErrInvalidTrade    = errors.New("invalid trade")
	ErrInvalidSettings = errors.New("invalid copy settings")
)

// EngineConfig holds direct-submission validation bounds.
type EngineConfig struct {
	MinAmountUSD float64 // default 1
	MaxAmountUSD float64 // 0 = no cap
}

// CopyTradingEngine turns one leader trade into zero or more sized,
// policy-filtered copy-trade requests, one per eligible follower, and
// validates direct trade submissions.
type CopyTradingEngine struct {
	store     storage.DataStore
	scheduler *CopyScheduler
	bus       *Bus
	config    EngineConfig

	mu          sync.Mutex
	unsubscribe func()
}

// NewCopyTradingEngine creates an engine. Zero config values fall back to
// defaults.
func NewCopyTradingEngine(store storage.DataStore, scheduler *CopyScheduler, bus *Bus, config EngineConfig) *CopyTradingEngine {
	if config.MinAmountUSD <= 0 {
		config.MinAmountUSD = 1
	}
	return &CopyTradingEngine{
		store:     store,
		scheduler: scheduler,
		bus:       bus,
		config:    config,
	}
}

// Start subscribes the engine to leader-trade events. Idempotent.
func (e *CopyTradingEngine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unsubscribe != nil {
		return
	}
	e.unsubscribe = e.bus.Subscribe(EventLeaderTrade, func(event Event) {
		trade, ok := event.Payload.(LeaderTradeEvent)
		if !ok {
			return
		}
		e.HandleLeaderTrade(ctx, trade.LeaderAddress, trade.Trade)
	})
	log.Printf("[CopyEngine] Started (minAmount=$%.2f)", e.config.MinAmountUSD)
}

// Stop detaches the engine from the event bus.
func (e *CopyTradingEngine) Stop() {
	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// HandleLeaderTrade fans one leader trade out to every follower of that
// leader. A synthesis failure for one follower is reported and does not
// block the others.
func (e *CopyTradingEngine) HandleLeaderTrade(ctx context.Context, leaderAddress string, trade models.TradeRecord) {
	observedAt := time.Now().UTC()

	follows, err := e.store.FindFollowsByLeader(ctx, leaderAddress)
	if err != nil {
		log.Printf("[CopyEngine] Follow lookup for %s failed: %v", utils.ShortAddress(leaderAddress), err)
		e.bus.Publish(EventError, ErrorEvent{LeaderAddress: leaderAddress, Err: err})
		return
	}
	if len(follows) == 0 {
		return
	}

	queued := 0
	for _, follow := range follows {
		req, skip, err := e.synthesize(ctx, follow, trade, observedAt)
		if err != nil {
			e.bus.Publish(EventError, ErrorEvent{
				LeaderAddress: leaderAddress,
				FollowerID:    follow.FollowerID,
				Err:           err,
			})
			continue
		}
		if skip {
			continue
		}
		if err := e.scheduler.Enqueue(req); err != nil {
			e.bus.Publish(EventError, ErrorEvent{
				LeaderAddress: leaderAddress,
				FollowerID:    follow.FollowerID,
				Err:           err,
			})
			continue
		}
		queued++
	}

	if queued > 0 {
		log.Printf("[CopyEngine] Leader trade %s fanned out to %d/%d followers",
			trade.ID, queued, len(follows))
	}
}

// synthesize applies one follower's copy policy to a leader trade.
// skip=true means the trade is filtered out by policy; err means the
// settings themselves are unusable.
func (e *CopyTradingEngine) synthesize(ctx context.Context, follow models.Follow, trade models.TradeRecord, observedAt time.Time) (models.CopyTradeRequest, bool, error) {
	var none models.CopyTradeRequest

	settings := follow.Settings
	if settings.CopyPercentage == 0 {
		// Follow without an explicit policy inherits the follower's account
		// settings, else the defaults.
		userSettings, err := e.store.GetUserCopySettings(ctx, follow.FollowerID)
		if err == nil && userSettings != nil {
			settings = *userSettings
		} else {
			settings = models.DefaultCopySettings()
		}
	}

	if !settings.Enabled {
		return none, true, nil
	}
	if err := settings.Validate(); err != nil {
		return none, false, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	// Exclusion wins over inclusion when a market appears in both lists.
	if containsString(settings.ExcludeMarkets, trade.MarketID) {
		return none, true, nil
	}
	if len(settings.OnlyMarkets) > 0 && !containsString(settings.OnlyMarkets, trade.MarketID) {
		return none, true, nil
	}
	if len(settings.OnlyOutcomes) > 0 && !containsString(settings.OnlyOutcomes, trade.Outcome) {
		return none, true, nil
	}

	amountUsd := trade.AmountUsd * settings.CopyPercentage / 100
	if settings.MinTradeSize > 0 && amountUsd < settings.MinTradeSize {
		// Too small to execute meaningfully.
		return none, true, nil
	}
	if settings.MaxTradeSize > 0 && amountUsd > settings.MaxTradeSize {
		amountUsd = settings.MaxTradeSize
	}

	return models.CopyTradeRequest{
		FollowerID:      follow.FollowerID,
		OriginalTradeID: trade.ID,
		LeaderAddress:   utils.NormalizeAddress(follow.LeaderAddress),
		MarketID:        trade.MarketID,
		OutcomeIndex:    trade.OutcomeIndex,
		Side:            trade.Side,
		AmountUsd:       amountUsd,
		Price:           trade.Price,
		ObservedAt:      observedAt,
		ScheduledAt:     observedAt.Add(time.Duration(settings.DelayMs) * time.Millisecond),
	}, false, nil
}

// ProcessTrade validates a direct (non-copy) trade submission and computes
// its bookkeeping fields. Failures carry a human-readable reason and wrap
// ErrInvalidTrade.
func (e *CopyTradingEngine) ProcessTrade(ctx context.Context, userID string, req models.TradeRequest) (*models.ProcessedTrade, error) {
	if req.Price <= 0 || req.Price >= 1 {
		return nil, fmt.Errorf("%w: price must be strictly between 0 and 1, got %.4f", ErrInvalidTrade, req.Price)
	}
	if req.Amount < e.config.MinAmountUSD {
		return nil, fmt.Errorf("%w: amount must be at least %.2f, got %.2f", ErrInvalidTrade, e.config.MinAmountUSD, req.Amount)
	}
	if e.config.MaxAmountUSD > 0 && req.Amount > e.config.MaxAmountUSD {
		return nil, fmt.Errorf("%w: amount must be at most %.2f, got %.2f", ErrInvalidTrade, e.config.MaxAmountUSD, req.Amount)
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return nil, fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidTrade, req.Side)
	}
	if req.MarketID == "" {
		return nil, fmt.Errorf("%w: market id is required", ErrInvalidTrade)
	}

	now := time.Now().UTC()
	shares := req.Amount / req.Price
	processed := models.ProcessedTrade{
		ID:           fmt.Sprintf("%s-%d-%s", userID, now.UnixNano(), req.MarketID),
		UserID:       userID,
		MarketID:     req.MarketID,
		OutcomeIndex: req.OutcomeIndex,
		Side:         req.Side,
		Amount:       req.Amount,
		Price:        req.Price,
		Shares:       shares,
		Cost:         shares * req.Price,
		CreatedAt:    now,
	}

	if err := e.store.SaveProcessedTrade(ctx, processed); err != nil {
		return nil, fmt.Errorf("engine: save trade: %w", err)
	}
	return &processed, nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
