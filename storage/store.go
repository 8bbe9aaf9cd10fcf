package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite persistence for follows, copy settings, and trade
// records. It is the default zero-dependency backend.
type Store struct {
	db *sql.DB
}

// New opens (and creates if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("storage: db path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(dbPath), err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)

	store := &Store{db: db}
	if err := store.runMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) runMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS follows (
			follower_id TEXT NOT NULL,
			leader_address TEXT NOT NULL,
			settings TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (follower_id, leader_address)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_follows_leader ON follows(leader_address)`,
		`CREATE TABLE IF NOT EXISTS copy_settings (
			user_id TEXT PRIMARY KEY,
			settings TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS copied_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			follower_id TEXT NOT NULL,
			original_trade_id TEXT NOT NULL,
			leader_address TEXT NOT NULL,
			market_id TEXT NOT NULL,
			outcome_index INTEGER NOT NULL,
			side TEXT NOT NULL,
			amount_usd REAL NOT NULL,
			status TEXT NOT NULL,
			error_reason TEXT,
			created_at TIMESTAMP NOT NULL,
			submitted_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_copied_trades_follower ON copied_trades(follower_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS processed_trades (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			outcome_index INTEGER NOT NULL,
			side TEXT NOT NULL,
			amount REAL NOT NULL,
			price REAL NOT NULL,
			shares REAL NOT NULL,
			cost REAL NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_trades_user ON processed_trades(user_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migration: %w", err)
		}
	}
	return nil
}

// CreateFollow inserts or replaces a follow edge.
func (s *Store) CreateFollow(ctx context.Context, follow models.Follow) error {
	settings, err := json.Marshal(follow.Settings)
	if err != nil {
		return fmt.Errorf("storage: encode settings: %w", err)
	}
	createdAt := follow.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO follows (follower_id, leader_address, settings, created_at) VALUES (?, ?, ?, ?)`,
		follow.FollowerID, utils.NormalizeAddress(follow.LeaderAddress), string(settings), createdAt)
	if err != nil {
		return fmt.Errorf("storage: create follow: %w", err)
	}
	return nil
}

// DeleteFollow removes a follow edge. Missing rows are a no-op.
func (s *Store) DeleteFollow(ctx context.Context, followerID, leaderAddress string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = ? AND leader_address = ?`,
		followerID, utils.NormalizeAddress(leaderAddress))
	if err != nil {
		return fmt.Errorf("storage: delete follow: %w", err)
	}
	return nil
}

// GetFollow returns one follow edge, or nil when absent.
func (s *Store) GetFollow(ctx context.Context, followerID, leaderAddress string) (*models.Follow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT follower_id, leader_address, settings, created_at FROM follows WHERE follower_id = ? AND leader_address = ?`,
		followerID, utils.NormalizeAddress(leaderAddress))
	follow, err := scanFollow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return follow, nil
}

// FindFollowsByLeader returns every follow edge pointing at a leader.
func (s *Store) FindFollowsByLeader(ctx context.Context, leaderAddress string) ([]models.Follow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT follower_id, leader_address, settings, created_at FROM follows WHERE leader_address = ?`,
		utils.NormalizeAddress(leaderAddress))
	if err != nil {
		return nil, fmt.Errorf("storage: find follows: %w", err)
	}
	defer rows.Close()
	return collectFollows(rows)
}

// ListFollowsByFollower returns every leader a follower copies.
func (s *Store) ListFollowsByFollower(ctx context.Context, followerID string) ([]models.Follow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT follower_id, leader_address, settings, created_at FROM follows WHERE follower_id = ?`,
		followerID)
	if err != nil {
		return nil, fmt.Errorf("storage: list follows: %w", err)
	}
	defer rows.Close()
	return collectFollows(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFollow(row rowScanner) (*models.Follow, error) {
	var follow models.Follow
	var settings string
	if err := row.Scan(&follow.FollowerID, &follow.LeaderAddress, &settings, &follow.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settings), &follow.Settings); err != nil {
		return nil, fmt.Errorf("storage: decode settings: %w", err)
	}
	return &follow, nil
}

func collectFollows(rows *sql.Rows) ([]models.Follow, error) {
	var follows []models.Follow
	for rows.Next() {
		follow, err := scanFollow(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan follow: %w", err)
		}
		follows = append(follows, *follow)
	}
	return follows, rows.Err()
}

// GetUserCopySettings returns a user's account-level copy settings, or nil
// when the user has never customized them.
func (s *Store) GetUserCopySettings(ctx context.Context, userID string) (*models.CopySettings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings FROM copy_settings WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get settings: %w", err)
	}
	var settings models.CopySettings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("storage: decode settings: %w", err)
	}
	return &settings, nil
}

// SetUserCopySettings upserts a user's account-level copy settings.
func (s *Store) SetUserCopySettings(ctx context.Context, userID string, settings models.CopySettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("storage: encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO copy_settings (user_id, settings, updated_at) VALUES (?, ?, ?)`,
		userID, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage: set settings: %w", err)
	}
	return nil
}

// CreateCopiedTrade appends a copy-trade record and returns it with its
// assigned id.
func (s *Store) CreateCopiedTrade(ctx context.Context, trade models.CopiedTrade) (models.CopiedTrade, error) {
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO copied_trades
			(follower_id, original_trade_id, leader_address, market_id, outcome_index, side, amount_usd, status, error_reason, created_at, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.FollowerID, trade.OriginalTradeID, utils.NormalizeAddress(trade.LeaderAddress),
		trade.MarketID, trade.OutcomeIndex, string(trade.Side), trade.AmountUsd,
		trade.Status, trade.ErrorReason, trade.CreatedAt, trade.SubmittedAt)
	if err != nil {
		return trade, fmt.Errorf("storage: create copied trade: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		trade.ID = int(id)
	}
	return trade, nil
}

// ListCopiedTrades returns a follower's copy-trade records, newest first.
func (s *Store) ListCopiedTrades(ctx context.Context, followerID string, limit int) ([]models.CopiedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, follower_id, original_trade_id, leader_address, market_id, outcome_index, side, amount_usd, status, COALESCE(error_reason, ''), created_at, submitted_at
		 FROM copied_trades WHERE follower_id = ? ORDER BY created_at DESC LIMIT ?`,
		followerID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list copied trades: %w", err)
	}
	defer rows.Close()

	var trades []models.CopiedTrade
	for rows.Next() {
		var trade models.CopiedTrade
		var side string
		if err := rows.Scan(&trade.ID, &trade.FollowerID, &trade.OriginalTradeID, &trade.LeaderAddress,
			&trade.MarketID, &trade.OutcomeIndex, &side, &trade.AmountUsd, &trade.Status,
			&trade.ErrorReason, &trade.CreatedAt, &trade.SubmittedAt); err != nil {
			return nil, fmt.Errorf("storage: scan copied trade: %w", err)
		}
		trade.Side = models.Side(side)
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// SaveProcessedTrade persists a validated direct trade submission.
func (s *Store) SaveProcessedTrade(ctx context.Context, trade models.ProcessedTrade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO processed_trades
			(id, user_id, market_id, outcome_index, side, amount, price, shares, cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.UserID, trade.MarketID, trade.OutcomeIndex, string(trade.Side),
		trade.Amount, trade.Price, trade.Shares, trade.Cost, trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: save processed trade: %w", err)
	}
	return nil
}

// ListProcessedTrades returns a user's direct submissions, newest first.
func (s *Store) ListProcessedTrades(ctx context.Context, userID string, limit int) ([]models.ProcessedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, market_id, outcome_index, side, amount, price, shares, cost, created_at
		 FROM processed_trades WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list processed trades: %w", err)
	}
	defer rows.Close()

	var trades []models.ProcessedTrade
	for rows.Next() {
		var trade models.ProcessedTrade
		var side string
		if err := rows.Scan(&trade.ID, &trade.UserID, &trade.MarketID, &trade.OutcomeIndex, &side,
			&trade.Amount, &trade.Price, &trade.Shares, &trade.Cost, &trade.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan processed trade: %w", err)
		}
		trade.Side = models.Side(side)
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}
