package syncer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"polymarket-copytrader/api"
	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// SubscriptionMode records which transport a subscription uses. The mode is
// chosen when the subscription is created and never changes mid-flight; a
// failed push connection surfaces as a reconnect, not a transport downgrade.
type SubscriptionMode string

const (
	ModePush    SubscriptionMode = "push"
	ModePolling SubscriptionMode = "polling"
)

// Subscription describes one active wallet subscription.
type Subscription struct {
	ID     string           `json:"id"`
	Target string           `json:"target"`
	Mode   SubscriptionMode `json:"mode"`
	Active bool             `json:"active"`
}

// Bounds for the per-wallet delivered-id sets, teacher-style trimming.
const (
	seenHighWater = 1000
	seenLowWater  = 500
)

type walletSub struct {
	sub Subscription

	mu      sync.Mutex
	cancel  func()
	removed bool
}

// setCancel installs the teardown hook once setup completes. If the sub was
// removed while setup was still in flight, the hook runs immediately.
func (ws *walletSub) setCancel(cancel func()) {
	ws.mu.Lock()
	removed := ws.removed
	ws.cancel = cancel
	ws.mu.Unlock()
	if removed {
		cancel()
	}
}

// teardown marks the sub removed and runs the cancel hook if setup has
// already installed it. Safe to call while setup is still in flight.
func (ws *walletSub) teardown() {
	ws.mu.Lock()
	ws.removed = true
	cancel := ws.cancel
	ws.cancel = nil
	ws.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// TradeMonitor keeps a live, deduplicated trade stream per monitored leader
// wallet. Each wallet gets either a push subscription or a polling loop;
// one wallet's failure never stops monitoring of the others.
type TradeMonitor struct {
	client       api.ExchangeClient
	push         api.PushTransport // nil when no push transport is configured
	bus          *Bus
	pollInterval time.Duration

	mu        sync.Mutex
	subs      map[string]*walletSub
	seen      map[string]map[string]struct{} // delivered trade ids, retained across reconnects
	lastSeen  map[string]string              // last delivered trade id per wallet
	nextSubID int
	started   bool
	ctx       context.Context
}

// NewTradeMonitor creates a monitor. push may be nil; every wallet then
// falls back to polling.
func NewTradeMonitor(client api.ExchangeClient, push api.PushTransport, bus *Bus, pollInterval time.Duration) *TradeMonitor {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &TradeMonitor{
		client:       client,
		push:         push,
		bus:          bus,
		pollInterval: pollInterval,
		subs:         make(map[string]*walletSub),
		seen:         make(map[string]map[string]struct{}),
		lastSeen:     make(map[string]string),
	}
}

// Start enables monitoring and registers the push handler. Idempotent.
func (m *TradeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx = ctx
	m.mu.Unlock()

	if m.push != nil {
		m.push.SetTradeHandler(m.handlePushTrade)
	}

	m.bus.Publish(EventStarted, nil)
	log.Printf("[TradeMonitor] Started")
}

// Stop tears down every active subscription and disables monitoring.
// Dedup state is retained so a later restart does not re-emit old trades.
func (m *TradeMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	subs := m.subs
	m.subs = make(map[string]*walletSub)
	m.mu.Unlock()

	for _, ws := range subs {
		ws.teardown()
	}

	m.bus.Publish(EventStopped, nil)
	log.Printf("[TradeMonitor] Stopped (%d subscriptions torn down)", len(subs))
}

// AddLeader begins monitoring a wallet. Push transport is preferred when
// available and connected; the choice sticks for the subscription's
// lifetime. Adding an already-monitored wallet is a no-op.
func (m *TradeMonitor) AddLeader(address string, pollInterval time.Duration) error {
	address = utils.NormalizeAddress(address)
	if address == "" {
		return fmt.Errorf("monitor: empty wallet address")
	}
	if pollInterval <= 0 {
		pollInterval = m.pollInterval
	}

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor: not started")
	}
	if _, exists := m.subs[address]; exists {
		// At most one active subscription per target.
		m.mu.Unlock()
		return nil
	}

	m.nextSubID++
	sub := Subscription{
		ID:     fmt.Sprintf("sub-%d", m.nextSubID),
		Target: address,
		Active: true,
	}

	usePush := m.push != nil && m.push.Connected()
	if usePush {
		sub.Mode = ModePush
	} else {
		sub.Mode = ModePolling
	}

	ws := &walletSub{sub: sub}
	m.subs[address] = ws
	ctx := m.ctx
	m.mu.Unlock()

	if usePush {
		if err := m.push.SubscribeToWalletTrades(address); err != nil {
			m.mu.Lock()
			delete(m.subs, address)
			m.mu.Unlock()
			m.reportError(address, "", fmt.Errorf("monitor: push subscribe %s: %w", address, err))
			return err
		}
		pushTransport := m.push
		ws.setCancel(func() {
			if err := pushTransport.UnsubscribeWalletTrades(address); err != nil {
				log.Printf("[TradeMonitor] Unsubscribe %s: %v", utils.ShortAddress(address), err)
			}
		})
	} else {
		ws.setCancel(m.client.MonitorWalletTrades(ctx, address, func(trade models.TradeRecord) {
			m.deliver(address, trade)
		}, pollInterval))
	}

	log.Printf("[TradeMonitor] Monitoring %s via %s", utils.ShortAddress(address), sub.Mode)
	return nil
}

// RemoveLeader stops monitoring a wallet. Removing an unknown wallet is a
// no-op, so calling it twice has no further effect.
func (m *TradeMonitor) RemoveLeader(address string) {
	address = utils.NormalizeAddress(address)

	m.mu.Lock()
	ws, exists := m.subs[address]
	delete(m.subs, address)
	m.mu.Unlock()

	if !exists {
		return
	}
	ws.teardown()
	log.Printf("[TradeMonitor] Stopped monitoring %s", utils.ShortAddress(address))
}

// AddTopLeaders detects leaders, sorts them by volume and monitors the top n.
func (m *TradeMonitor) AddTopLeaders(ctx context.Context, n int, minVolumeUsd float64) ([]models.LeaderWallet, error) {
	leaders, err := m.client.DetectLeaderWallets(ctx, minVolumeUsd, 0)
	if err != nil {
		return nil, err
	}

	sort.Slice(leaders, func(i, j int) bool {
		return leaders[i].Volume > leaders[j].Volume
	})
	if n > 0 && n < len(leaders) {
		leaders = leaders[:n]
	}

	for _, leader := range leaders {
		if err := m.AddLeader(leader.Address, 0); err != nil {
			m.reportError(leader.Address, "", err)
		}
	}
	return leaders, nil
}

// Subscriptions returns a snapshot of the active subscriptions.
func (m *TradeMonitor) Subscriptions() []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := make([]Subscription, 0, len(m.subs))
	for _, ws := range m.subs {
		subs = append(subs, ws.sub)
	}
	return subs
}

// Running reports whether the monitor is started.
func (m *TradeMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// LastSeenTradeID returns the id of the most recent trade delivered for a
// wallet, if any.
func (m *TradeMonitor) LastSeenTradeID(address string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.lastSeen[utils.NormalizeAddress(address)]
	return id, ok
}

// handlePushTrade routes a push event to the wallet's stream.
func (m *TradeMonitor) handlePushTrade(trade models.TradeRecord) {
	address := utils.NormalizeAddress(trade.WalletAddress)

	m.mu.Lock()
	ws, monitored := m.subs[address]
	started := m.started
	m.mu.Unlock()

	if !started || !monitored || ws.sub.Mode != ModePush {
		return
	}
	m.deliver(address, trade)
}

// deliver emits a trade exactly once per wallet. The delivered-id set is
// retained across reconnects, so an overlapping replay after a reconnect
// does not produce duplicates.
func (m *TradeMonitor) deliver(address string, trade models.TradeRecord) {
	m.mu.Lock()
	ids, ok := m.seen[address]
	if !ok {
		ids = make(map[string]struct{})
		m.seen[address] = ids
	}
	if _, dup := ids[trade.ID]; dup {
		m.mu.Unlock()
		return
	}
	ids[trade.ID] = struct{}{}
	if len(ids) > seenHighWater {
		for k := range ids {
			delete(ids, k)
			if len(ids) <= seenLowWater {
				break
			}
		}
		ids[trade.ID] = struct{}{}
	}
	m.lastSeen[address] = trade.ID
	started := m.started
	m.mu.Unlock()

	if !started {
		return
	}

	m.bus.Publish(EventLeaderTrade, LeaderTradeEvent{
		LeaderAddress: address,
		Trade:         trade,
	})
}

func (m *TradeMonitor) reportError(leader, follower string, err error) {
	log.Printf("[TradeMonitor] Error for %s: %v", utils.ShortAddress(leader), err)
	m.bus.Publish(EventError, ErrorEvent{
		LeaderAddress: leader,
		FollowerID:    follower,
		Err:           err,
	})
}
