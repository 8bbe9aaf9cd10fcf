package api

import (
	"context"
	"sync"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// ExchangeClient defines the market-data surface the core depends on.
// This interface enables dependency injection for testing.
type ExchangeClient interface {
	ListMarkets(ctx context.Context, limit int) ([]models.Market, error)
	GetMarket(ctx context.Context, id string) (*models.Market, error)
	GetMarketTrades(ctx context.Context, marketID string, limit int) ([]models.TradeRecord, error)
	GetWalletTrades(ctx context.Context, address string, limit int) ([]models.TradeRecord, error)
	GetRecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error)
	GetClosedPositions(ctx context.Context, address string, limit int) ([]models.ClosedPosition, error)
	DetectLeaderWallets(ctx context.Context, minVolumeUsd float64, minTrades int) ([]models.LeaderWallet, error)
	MonitorWalletTrades(ctx context.Context, address string, onTrade TradeHandler, interval time.Duration) (cancel func())
}

// PushTransport defines the push-connection surface the core depends on.
type PushTransport interface {
	SetTradeHandler(onTrade TradeHandler)
	Connect(ctx context.Context) error
	Connected() bool
	Disconnect()
	SubscribeToMarketTrades(marketID string) error
	SubscribeToWalletTrades(address string) error
	UnsubscribeMarketTrades(marketID string) error
	UnsubscribeWalletTrades(address string) error
}

// Ensure the real implementations satisfy the interfaces.
var _ ExchangeClient = (*Client)(nil)
var _ PushTransport = (*WSClient)(nil)

// Ensure the mocks satisfy the interfaces.
var _ ExchangeClient = (*MockExchangeClient)(nil)
var _ PushTransport = (*MockPushTransport)(nil)

// MockExchangeClient is a mock exchange client for testing.
type MockExchangeClient struct {
	mu sync.RWMutex

	// Response data
	Markets         []models.Market
	TradesByWallet  map[string][]models.TradeRecord
	TradesByMarket  map[string][]models.TradeRecord
	RecentTrades    []models.TradeRecord
	ClosedPositions map[string][]models.ClosedPosition
	Leaders         []models.LeaderWallet

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error
}

// NewMockExchangeClient creates a mock with empty response data.
func NewMockExchangeClient() *MockExchangeClient {
	return &MockExchangeClient{
		TradesByWallet:  make(map[string][]models.TradeRecord),
		TradesByMarket:  make(map[string][]models.TradeRecord),
		ClosedPositions: make(map[string][]models.ClosedPosition),
		Calls:           make(map[string]int),
		ErrorOnNext:     make(map[string]error),
	}
}

func (m *MockExchangeClient) trackCall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

// SetWalletTrades replaces the trade page for a wallet, newest first.
func (m *MockExchangeClient) SetWalletTrades(address string, trades []models.TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TradesByWallet[utils.NormalizeAddress(address)] = trades
}

func (m *MockExchangeClient) ListMarkets(ctx context.Context, limit int) ([]models.Market, error) {
	if err := m.trackCall("ListMarkets"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit > 0 && limit < len(m.Markets) {
		return m.Markets[:limit], nil
	}
	return m.Markets, nil
}

func (m *MockExchangeClient) GetMarket(ctx context.Context, id string) (*models.Market, error) {
	if err := m.trackCall("GetMarket"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, market := range m.Markets {
		if market.ID == id {
			found := market
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockExchangeClient) GetMarketTrades(ctx context.Context, marketID string, limit int) ([]models.TradeRecord, error) {
	if err := m.trackCall("GetMarketTrades"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clampTrades(m.TradesByMarket[marketID], limit), nil
}

func (m *MockExchangeClient) GetWalletTrades(ctx context.Context, address string, limit int) ([]models.TradeRecord, error) {
	if err := m.trackCall("GetWalletTrades"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clampTrades(m.TradesByWallet[utils.NormalizeAddress(address)], limit), nil
}

func (m *MockExchangeClient) GetRecentTrades(ctx context.Context, limit int) ([]models.TradeRecord, error) {
	if err := m.trackCall("GetRecentTrades"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clampTrades(m.RecentTrades, limit), nil
}

func (m *MockExchangeClient) GetClosedPositions(ctx context.Context, address string, limit int) ([]models.ClosedPosition, error) {
	if err := m.trackCall("GetClosedPositions"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	positions := m.ClosedPositions[utils.NormalizeAddress(address)]
	if limit > 0 && limit < len(positions) {
		positions = positions[:limit]
	}
	return positions, nil
}

func (m *MockExchangeClient) DetectLeaderWallets(ctx context.Context, minVolumeUsd float64, minTrades int) ([]models.LeaderWallet, error) {
	if err := m.trackCall("DetectLeaderWallets"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Leaders != nil {
		return m.Leaders, nil
	}
	// Fall back to the real heuristic over the configured sample.
	candidates := aggregateWallets(m.RecentTrades, minVolumeUsd, minTrades)
	leaders := make([]models.LeaderWallet, 0, len(candidates))
	for _, agg := range candidates {
		leaders = append(leaders, scoreWallet(agg, m.ClosedPositions[agg.address]))
	}
	return leaders, nil
}

// MonitorWalletTrades mirrors the real polling contract against the mock's
// wallet pages.
func (m *MockExchangeClient) MonitorWalletTrades(ctx context.Context, address string, onTrade TradeHandler, interval time.Duration) (cancel func()) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	address = utils.NormalizeAddress(address)

	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		delivered := make(map[string]struct{})
		if trades, err := m.GetWalletTrades(ctx, address, pollFetchLimit); err == nil {
			for _, trade := range trades {
				delivered[trade.ID] = struct{}{}
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				trades, err := m.GetWalletTrades(ctx, address, pollFetchLimit)
				if err != nil {
					continue
				}
				for i := len(trades) - 1; i >= 0; i-- {
					trade := trades[i]
					if _, seen := delivered[trade.ID]; seen {
						continue
					}
					delivered[trade.ID] = struct{}{}
					if onTrade != nil {
						onTrade(trade)
					}
				}
			}
		}
	}()

	return func() {
		once.Do(func() { close(stopCh) })
	}
}

func clampTrades(trades []models.TradeRecord, limit int) []models.TradeRecord {
	if limit > 0 && limit < len(trades) {
		return trades[:limit]
	}
	return trades
}

// MockPushTransport is an in-memory push transport for testing.
type MockPushTransport struct {
	mu sync.RWMutex

	onTrade     TradeHandler
	connected   bool
	ConnectErr  error
	WalletSubs  map[string]bool
	MarketSubs  map[string]bool
	Disconnects int
}

// NewMockPushTransport creates a disconnected mock transport.
func NewMockPushTransport() *MockPushTransport {
	return &MockPushTransport{
		WalletSubs: make(map[string]bool),
		MarketSubs: make(map[string]bool),
	}
}

func (m *MockPushTransport) SetTradeHandler(onTrade TradeHandler) {
	m.mu.Lock()
	m.onTrade = onTrade
	m.mu.Unlock()
}

func (m *MockPushTransport) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

func (m *MockPushTransport) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MockPushTransport) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.Disconnects++
	m.WalletSubs = make(map[string]bool)
	m.MarketSubs = make(map[string]bool)
}

func (m *MockPushTransport) SubscribeToMarketTrades(marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MarketSubs[marketID] = true
	return nil
}

func (m *MockPushTransport) SubscribeToWalletTrades(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WalletSubs[utils.NormalizeAddress(address)] = true
	return nil
}

func (m *MockPushTransport) UnsubscribeMarketTrades(marketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.MarketSubs, marketID)
	return nil
}

func (m *MockPushTransport) UnsubscribeWalletTrades(address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.WalletSubs, utils.NormalizeAddress(address))
	return nil
}

// DeliverTrade pushes a trade event to the registered handler, as the real
// transport would after a subscription fires.
func (m *MockPushTransport) DeliverTrade(trade models.TradeRecord) {
	m.mu.RLock()
	onTrade := m.onTrade
	subscribed := m.WalletSubs[utils.NormalizeAddress(trade.WalletAddress)]
	m.mu.RUnlock()
	if onTrade != nil && subscribed {
		onTrade(trade)
	}
}
