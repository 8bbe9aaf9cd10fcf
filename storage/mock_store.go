package storage

import (
	"context"
	"sync"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// MockStore is an in-memory DataStore for testing, with call tracking and
// error injection.
type MockStore struct {
	mu sync.RWMutex

	follows         map[string]map[string]models.Follow // leader -> follower -> edge
	settings        map[string]models.CopySettings
	copiedTrades    []models.CopiedTrade
	processedTrades []models.ProcessedTrade
	nextCopiedID    int

	// Call tracking
	Calls map[string]int

	// Error injection
	ErrorOnNext map[string]error
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		follows:     make(map[string]map[string]models.Follow),
		settings:    make(map[string]models.CopySettings),
		Calls:       make(map[string]int),
		ErrorOnNext: make(map[string]error),
	}
}

func (m *MockStore) trackCall(name string) error {
	m.Calls[name]++
	if err, ok := m.ErrorOnNext[name]; ok {
		delete(m.ErrorOnNext, name)
		return err
	}
	return nil
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) CreateFollow(ctx context.Context, follow models.Follow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("CreateFollow"); err != nil {
		return err
	}
	leader := utils.NormalizeAddress(follow.LeaderAddress)
	follow.LeaderAddress = leader
	if follow.CreatedAt.IsZero() {
		follow.CreatedAt = time.Now().UTC()
	}
	if m.follows[leader] == nil {
		m.follows[leader] = make(map[string]models.Follow)
	}
	m.follows[leader][follow.FollowerID] = follow
	return nil
}

func (m *MockStore) DeleteFollow(ctx context.Context, followerID, leaderAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("DeleteFollow"); err != nil {
		return err
	}
	delete(m.follows[utils.NormalizeAddress(leaderAddress)], followerID)
	return nil
}

func (m *MockStore) GetFollow(ctx context.Context, followerID, leaderAddress string) (*models.Follow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetFollow"); err != nil {
		return nil, err
	}
	follow, ok := m.follows[utils.NormalizeAddress(leaderAddress)][followerID]
	if !ok {
		return nil, nil
	}
	return &follow, nil
}

func (m *MockStore) FindFollowsByLeader(ctx context.Context, leaderAddress string) ([]models.Follow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("FindFollowsByLeader"); err != nil {
		return nil, err
	}
	var follows []models.Follow
	for _, follow := range m.follows[utils.NormalizeAddress(leaderAddress)] {
		follows = append(follows, follow)
	}
	return follows, nil
}

func (m *MockStore) ListFollowsByFollower(ctx context.Context, followerID string) ([]models.Follow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("ListFollowsByFollower"); err != nil {
		return nil, err
	}
	var follows []models.Follow
	for _, byFollower := range m.follows {
		if follow, ok := byFollower[followerID]; ok {
			follows = append(follows, follow)
		}
	}
	return follows, nil
}

func (m *MockStore) GetUserCopySettings(ctx context.Context, userID string) (*models.CopySettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("GetUserCopySettings"); err != nil {
		return nil, err
	}
	settings, ok := m.settings[userID]
	if !ok {
		return nil, nil
	}
	return &settings, nil
}

func (m *MockStore) SetUserCopySettings(ctx context.Context, userID string, settings models.CopySettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SetUserCopySettings"); err != nil {
		return err
	}
	m.settings[userID] = settings
	return nil
}

func (m *MockStore) CreateCopiedTrade(ctx context.Context, trade models.CopiedTrade) (models.CopiedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("CreateCopiedTrade"); err != nil {
		return trade, err
	}
	m.nextCopiedID++
	trade.ID = m.nextCopiedID
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}
	m.copiedTrades = append(m.copiedTrades, trade)
	return trade, nil
}

func (m *MockStore) ListCopiedTrades(ctx context.Context, followerID string, limit int) ([]models.CopiedTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var trades []models.CopiedTrade
	for i := len(m.copiedTrades) - 1; i >= 0; i-- {
		if m.copiedTrades[i].FollowerID == followerID {
			trades = append(trades, m.copiedTrades[i])
			if limit > 0 && len(trades) >= limit {
				break
			}
		}
	}
	return trades, nil
}

// CopiedTrades returns every copy-trade record in submission order.
func (m *MockStore) CopiedTrades() []models.CopiedTrade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	trades := make([]models.CopiedTrade, len(m.copiedTrades))
	copy(trades, m.copiedTrades)
	return trades
}

func (m *MockStore) SaveProcessedTrade(ctx context.Context, trade models.ProcessedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.trackCall("SaveProcessedTrade"); err != nil {
		return err
	}
	m.processedTrades = append(m.processedTrades, trade)
	return nil
}

func (m *MockStore) ListProcessedTrades(ctx context.Context, userID string, limit int) ([]models.ProcessedTrade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var trades []models.ProcessedTrade
	for i := len(m.processedTrades) - 1; i >= 0; i-- {
		if m.processedTrades[i].UserID == userID {
			trades = append(trades, m.processedTrades[i])
			if limit > 0 && len(trades) >= limit {
				break
			}
		}
	}
	return trades, nil
}
