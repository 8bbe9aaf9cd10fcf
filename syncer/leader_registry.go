package syncer

import (
	"context"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// LeaderRegistry holds the current set of wallets classified as leaders.
// Each Refresh produces a fresh snapshot keyed by address; entries never
// persist identity across recomputation.
type LeaderRegistry struct {
	client       api.ExchangeClient
	bus          *Bus
	minVolumeUsd float64
	minTrades    int

	snapshot   map[string]models.LeaderWallet
	snapshotMu sync.RWMutex

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewLeaderRegistry creates a registry. Zero thresholds fall back to the
// canonical defaults.
func NewLeaderRegistry(client api.ExchangeClient, bus *Bus, minVolumeUsd float64, minTrades int) *LeaderRegistry {
	if minVolumeUsd <= 0 {
		minVolumeUsd = api.DefaultMinVolumeUSD
	}
	if minTrades <= 0 {
		minTrades = api.DefaultMinTrades
	}
	return &LeaderRegistry{
		client:       client,
		bus:          bus,
		minVolumeUsd: minVolumeUsd,
		minTrades:    minTrades,
		snapshot:     make(map[string]models.LeaderWallet),
		stopCh:       make(chan struct{}),
	}
}

// Refresh recomputes the leader snapshot from the exchange. Wallets newly
// appearing in the snapshot are announced via EventLeaderDetected.
func (r *LeaderRegistry) Refresh(ctx context.Context) error {
	leaders, err := r.client.DetectLeaderWallets(ctx, r.minVolumeUsd, r.minTrades)
	if err != nil {
		return err
	}

	fresh := make(map[string]models.LeaderWallet, len(leaders))
	for _, leader := range leaders {
		fresh[utils.NormalizeAddress(leader.Address)] = leader
	}

	r.snapshotMu.Lock()
	previous := r.snapshot
	r.snapshot = fresh
	r.snapshotMu.Unlock()

	newCount := 0
	for addr, leader := range fresh {
		if _, known := previous[addr]; !known {
			newCount++
			if r.bus != nil {
				r.bus.Publish(EventLeaderDetected, LeaderDetectedEvent{Leader: leader})
			}
		}
	}

	log.Printf("[LeaderRegistry] Snapshot refreshed: %d leaders (%d new)", len(fresh), newCount)
	return nil
}

// Leaders returns the current snapshot.
func (r *LeaderRegistry) Leaders() []models.LeaderWallet {
	r.snapshotMu.RLock()
	defer r.snapshotMu.RUnlock()
	leaders := make([]models.LeaderWallet, 0, len(r.snapshot))
	for _, leader := range r.snapshot {
		leaders = append(leaders, leader)
	}
	return leaders
}

// Get returns the stats for one leader, if present in the snapshot.
func (r *LeaderRegistry) Get(address string) (models.LeaderWallet, bool) {
	r.snapshotMu.RLock()
	defer r.snapshotMu.RUnlock()
	leader, ok := r.snapshot[utils.NormalizeAddress(address)]
	return leader, ok
}

// IsLeader reports whether a wallet is in the current snapshot.
func (r *LeaderRegistry) IsLeader(address string) bool {
	_, ok := r.Get(address)
	return ok
}

// StartRefreshLoop recomputes the snapshot on a schedule until Stop or
// context cancellation.
func (r *LeaderRegistry) StartRefreshLoop(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					log.Printf("[LeaderRegistry] Refresh failed: %v", err)
				}
			}
		}
	}()
}

// Stop halts the refresh loop.
func (r *LeaderRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	close(r.stopCh)
	r.wg.Wait()
}
