package syncer

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
)

func floatEquals(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

func testFollow(followerID string, settings models.CopySettings) models.Follow {
	return models.Follow{
		FollowerID:    followerID,
		LeaderAddress: leaderAddr,
		Settings:      settings,
		CreatedAt:     time.Now().UTC(),
	}
}

func enabledSettings(pct float64) models.CopySettings {
	return models.CopySettings{Enabled: true, CopyPercentage: pct}
}

func TestSynthesizeSizing(t *testing.T) {
	trade := leaderTrade("t1", 1000)
	trade.AmountUsd = 200

	tests := []struct {
		name       string
		settings   models.CopySettings
		wantSkip   bool
		wantAmount float64
	}{
		{
			name:       "percentage sizing",
			settings:   enabledSettings(5),
			wantAmount: 10,
		},
		{
			name: "below minimum is skipped",
			settings: models.CopySettings{
				Enabled: true, CopyPercentage: 1, MinTradeSize: 5,
			},
			wantSkip: true,
		},
		{
			name: "above maximum is clamped",
			settings: models.CopySettings{
				Enabled: true, CopyPercentage: 50, MaxTradeSize: 25,
			},
			wantAmount: 25,
		},
		{
			name:     "disabled settings skip",
			settings: models.CopySettings{Enabled: false, CopyPercentage: 5},
			wantSkip: true,
		},
		{
			name: "excluded market skips",
			settings: models.CopySettings{
				Enabled: true, CopyPercentage: 5,
				ExcludeMarkets: []string{"m1"},
			},
			wantSkip: true,
		},
		{
			name: "exclusion wins over inclusion",
			settings: models.CopySettings{
				Enabled: true, CopyPercentage: 5,
				OnlyMarkets:    []string{"m1"},
				ExcludeMarkets: []string{"m1"},
			},
			wantSkip: true,
		},
		{
			name: "market not in only list skips",
			settings: models.CopySettings{
				Enabled: true, CopyPercentage: 5,
				OnlyMarkets: []string{"other"},
			},
			wantSkip: true,
		},
		{
			name: "outcome not in only list skips",
			settings: models.CopySettings{
				Enabled: true, CopyPercentage: 5,
				OnlyOutcomes: []string{"No"},
			},
			wantSkip: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMockStore()
			engine := NewCopyTradingEngine(store, NewCopyScheduler(store, NewBus()), NewBus(), EngineConfig{})

			req, skip, err := engine.synthesize(context.Background(),
				testFollow("alice", tt.settings), trade, time.Now().UTC())
			if err != nil {
				t.Fatalf("synthesize: %v", err)
			}
			if skip != tt.wantSkip {
				t.Fatalf("skip = %v, want %v", skip, tt.wantSkip)
			}
			if tt.wantSkip {
				return
			}
			if !floatEquals(req.AmountUsd, tt.wantAmount, 0.001) {
				t.Errorf("AmountUsd = %v, want %v", req.AmountUsd, tt.wantAmount)
			}
			if req.Side != trade.Side || req.MarketID != trade.MarketID {
				t.Errorf("request fields not copied from trade: %+v", req)
			}
		})
	}
}

func TestSynthesizeDelayScheduling(t *testing.T) {
	store := storage.NewMockStore()
	engine := NewCopyTradingEngine(store, NewCopyScheduler(store, NewBus()), NewBus(), EngineConfig{})

	settings := enabledSettings(5)
	settings.DelayMs = 1500

	observedAt := time.Now().UTC()
	req, skip, err := engine.synthesize(context.Background(),
		testFollow("alice", settings), leaderTrade("t1", 1000), observedAt)
	if err != nil || skip {
		t.Fatalf("synthesize: skip=%v err=%v", skip, err)
	}

	want := observedAt.Add(1500 * time.Millisecond)
	if !req.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want %v", req.ScheduledAt, want)
	}
	if !req.ObservedAt.Equal(observedAt) {
		t.Errorf("ObservedAt = %v, want %v", req.ObservedAt, observedAt)
	}
}

func TestSynthesizeInheritsUserSettings(t *testing.T) {
	store := storage.NewMockStore()
	engine := NewCopyTradingEngine(store, NewCopyScheduler(store, NewBus()), NewBus(), EngineConfig{})

	userSettings := enabledSettings(20)
	store.SetUserCopySettings(context.Background(), "alice", userSettings)

	trade := leaderTrade("t1", 1000)
	trade.AmountUsd = 100

	// Follow carries no explicit policy.
	req, skip, err := engine.synthesize(context.Background(),
		testFollow("alice", models.CopySettings{}), trade, time.Now().UTC())
	if err != nil || skip {
		t.Fatalf("synthesize: skip=%v err=%v", skip, err)
	}
	if !floatEquals(req.AmountUsd, 20, 0.001) {
		t.Errorf("AmountUsd = %v, want 20 from inherited settings", req.AmountUsd)
	}
}

func TestSynthesizeInvalidSettings(t *testing.T) {
	store := storage.NewMockStore()
	engine := NewCopyTradingEngine(store, NewCopyScheduler(store, NewBus()), NewBus(), EngineConfig{})

	bad := models.CopySettings{Enabled: true, CopyPercentage: 150}
	_, _, err := engine.synthesize(context.Background(),
		testFollow("alice", bad), leaderTrade("t1", 1000), time.Now().UTC())
	if !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("err = %v, want ErrInvalidSettings", err)
	}
}

func TestHandleLeaderTradeFanOutIsolation(t *testing.T) {
	store := storage.NewMockStore()
	bus := NewBus()

	scheduler := NewCopyScheduler(store, bus)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	engine := NewCopyTradingEngine(store, scheduler, bus, EngineConfig{})

	// alice's settings are broken, bob's are fine.
	store.CreateFollow(context.Background(), testFollow("alice",
		models.CopySettings{Enabled: true, CopyPercentage: -5}))
	store.CreateFollow(context.Background(), testFollow("bob", enabledSettings(10)))

	errCh := make(chan ErrorEvent, 4)
	unsubErr := bus.Subscribe(EventError, func(event Event) {
		if payload, ok := event.Payload.(ErrorEvent); ok {
			errCh <- payload
		}
	})
	defer unsubErr()

	queuedCh := make(chan CopyQueuedEvent, 4)
	unsubQueued := bus.Subscribe(EventCopyQueued, func(event Event) {
		if payload, ok := event.Payload.(CopyQueuedEvent); ok {
			queuedCh <- payload
		}
	})
	defer unsubQueued()

	trade := leaderTrade("t1", 1000)
	trade.AmountUsd = 100
	engine.HandleLeaderTrade(context.Background(), leaderAddr, trade)

	select {
	case ev := <-errCh:
		if ev.FollowerID != "alice" {
			t.Errorf("error attributed to %s, want alice", ev.FollowerID)
		}
	case <-time.After(time.Second):
		t.Fatal("no error event for the broken follower")
	}

	select {
	case ev := <-queuedCh:
		if ev.Request.FollowerID != "bob" {
			t.Errorf("queued for %s, want bob", ev.Request.FollowerID)
		}
		if !floatEquals(ev.Request.AmountUsd, 10, 0.001) {
			t.Errorf("AmountUsd = %v, want 10", ev.Request.AmountUsd)
		}
	case <-time.After(time.Second):
		t.Fatal("healthy follower's request never queued")
	}
}

func TestEngineStartStopConcurrent(t *testing.T) {
	store := storage.NewMockStore()
	bus := NewBus()

	scheduler := NewCopyScheduler(store, bus)
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	engine := NewCopyTradingEngine(store, scheduler, bus, EngineConfig{})
	store.CreateFollow(context.Background(), testFollow("bob", enabledSettings(10)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			engine.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			engine.Stop()
		}()
	}
	wg.Wait()

	// Whatever the interleaving left behind, a Stop/Start cycle must land on
	// exactly one live bus subscription.
	engine.Stop()
	engine.Start(context.Background())
	defer engine.Stop()

	queuedCh := make(chan CopyQueuedEvent, 8)
	unsubQueued := bus.Subscribe(EventCopyQueued, func(event Event) {
		if payload, ok := event.Payload.(CopyQueuedEvent); ok {
			queuedCh <- payload
		}
	})
	defer unsubQueued()

	trade := leaderTrade("t1", 1000)
	trade.AmountUsd = 100
	bus.Publish(EventLeaderTrade, LeaderTradeEvent{LeaderAddress: leaderAddr, Trade: trade})

	select {
	case <-queuedCh:
	case <-time.After(time.Second):
		t.Fatal("restarted engine never handled the leader trade")
	}

	select {
	case ev := <-queuedCh:
		t.Fatalf("leader trade handled more than once: extra request for %s", ev.Request.FollowerID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProcessTradeValidation(t *testing.T) {
	tests := []struct {
		name    string
		req     models.TradeRequest
		wantErr bool
	}{
		{
			name: "valid trade",
			req:  models.TradeRequest{MarketID: "m1", Side: models.SideBuy, Amount: 100, Price: 0.5},
		},
		{
			name:    "price zero",
			req:     models.TradeRequest{MarketID: "m1", Side: models.SideBuy, Amount: 100, Price: 0},
			wantErr: true,
		},
		{
			name:    "price one",
			req:     models.TradeRequest{MarketID: "m1", Side: models.SideBuy, Amount: 100, Price: 1},
			wantErr: true,
		},
		{
			name:    "price above one",
			req:     models.TradeRequest{MarketID: "m1", Side: models.SideBuy, Amount: 100, Price: 1.5},
			wantErr: true,
		},
		{
			name:    "amount below minimum",
			req:     models.TradeRequest{MarketID: "m1", Side: models.SideBuy, Amount: 0.5, Price: 0.5},
			wantErr: true,
		},
		{
			name:    "invalid side",
			req:     models.TradeRequest{MarketID: "m1", Side: "HOLD", Amount: 100, Price: 0.5},
			wantErr: true,
		},
		{
			name:    "missing market",
			req:     models.TradeRequest{Side: models.SideSell, Amount: 100, Price: 0.5},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMockStore()
			engine := NewCopyTradingEngine(store, NewCopyScheduler(store, NewBus()), NewBus(), EngineConfig{MinAmountUSD: 1})

			processed, err := engine.ProcessTrade(context.Background(), "alice", tt.req)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTrade) {
					t.Fatalf("err = %v, want ErrInvalidTrade", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ProcessTrade: %v", err)
			}
			if processed.UserID != "alice" {
				t.Errorf("UserID = %s, want alice", processed.UserID)
			}

			saved, _ := store.ListProcessedTrades(context.Background(), "alice", 10)
			if len(saved) != 1 {
				t.Errorf("expected 1 saved trade, got %d", len(saved))
			}
		})
	}
}

func TestProcessTradeSharesAndCost(t *testing.T) {
	store := storage.NewMockStore()
	engine := NewCopyTradingEngine(store, NewCopyScheduler(store, NewBus()), NewBus(), EngineConfig{MinAmountUSD: 1})

	processed, err := engine.ProcessTrade(context.Background(), "alice", models.TradeRequest{
		MarketID: "m1",
		Side:     models.SideBuy,
		Amount:   100,
		Price:    0.5,
	})
	if err != nil {
		t.Fatalf("ProcessTrade: %v", err)
	}

	if !floatEquals(processed.Shares, 200, 0.001) {
		t.Errorf("Shares = %v, want 200", processed.Shares)
	}
	if !floatEquals(processed.Cost, 100, 0.001) {
		t.Errorf("Cost = %v, want 100", processed.Cost)
	}
}

func TestProcessTradeMaxAmount(t *testing.T) {
	store := storage.NewMockStore()
	engine := NewCopyTradingEngine(store, NewCopyScheduler(store, NewBus()), NewBus(), EngineConfig{MinAmountUSD: 1, MaxAmountUSD: 50})

	_, err := engine.ProcessTrade(context.Background(), "alice", models.TradeRequest{
		MarketID: "m1",
		Side:     models.SideBuy,
		Amount:   100,
		Price:    0.5,
	})
	if !errors.Is(err, ErrInvalidTrade) {
		t.Errorf("err = %v, want ErrInvalidTrade for amount above cap", err)
	}
}
