package storage

import (
	"context"

	"polymarket-copytrader/models"
)

// DataStore defines the persistence-collaborator interface consumed by the
// copy-trading core. The core treats it as a synchronous lookup/append
// surface; retries and transaction semantics are the implementation's
// responsibility.
type DataStore interface {
	Close() error

	// Follow operations
	CreateFollow(ctx context.Context, follow models.Follow) error
	DeleteFollow(ctx context.Context, followerID, leaderAddress string) error
	GetFollow(ctx context.Context, followerID, leaderAddress string) (*models.Follow, error)
	FindFollowsByLeader(ctx context.Context, leaderAddress string) ([]models.Follow, error)
	ListFollowsByFollower(ctx context.Context, followerID string) ([]models.Follow, error)

	// Copy settings
	GetUserCopySettings(ctx context.Context, userID string) (*models.CopySettings, error)
	SetUserCopySettings(ctx context.Context, userID string, settings models.CopySettings) error

	// Copy-trade records
	CreateCopiedTrade(ctx context.Context, trade models.CopiedTrade) (models.CopiedTrade, error)
	ListCopiedTrades(ctx context.Context, followerID string, limit int) ([]models.CopiedTrade, error)

	// Direct trade submissions
	SaveProcessedTrade(ctx context.Context, trade models.ProcessedTrade) error
	ListProcessedTrades(ctx context.Context, userID string, limit int) ([]models.ProcessedTrade, error)
}

// Ensure all implementations satisfy the interface.
var _ DataStore = (*Store)(nil)
var _ DataStore = (*PostgresStore)(nil)
var _ DataStore = (*MockStore)(nil)
