package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Cache TTLs for hot read paths. Follow lists sit on the fan-out critical
// path and are read on every leader trade.
const (
	followCacheTTL   = 30 * time.Second
	settingsCacheTTL = 60 * time.Second
)

// PostgresStore wraps PostgreSQL persistence with Redis caching of follow
// lists and copy settings.
type PostgresStore struct {
	pool  *pgxpool.Pool
	redis *redis.Client
}

// NewPostgres creates a PostgreSQL store with connection pooling and a
// Redis cache, configured from the environment.
func NewPostgres() (*PostgresStore, error) {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "copytrader")
	password := getEnv("POSTGRES_PASSWORD", "copytrader")
	dbname := getEnv("POSTGRES_DB", "copytrader")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, password, host, port, dbname)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%s", getEnv("REDIS_HOST", "localhost"), getEnv("REDIS_PORT", "6379")),
		Password:   os.Getenv("REDIS_PASSWORD"),
		DB:         0,
		PoolSize:   20,
		MaxRetries: 3,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	store := &PostgresStore{pool: pool, redis: rdb}
	if err := store.runMigrations(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the pool and the Redis client.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// Redis returns the underlying Redis client, shared with the distributed
// rate-limit store.
func (s *PostgresStore) Redis() *redis.Client {
	return s.redis
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS follows (
			follower_id TEXT NOT NULL,
			leader_address TEXT NOT NULL,
			settings JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (follower_id, leader_address)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_follows_leader ON follows(leader_address)`,
		`CREATE TABLE IF NOT EXISTS copy_settings (
			user_id TEXT PRIMARY KEY,
			settings JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS copied_trades (
			id SERIAL PRIMARY KEY,
			follower_id TEXT NOT NULL,
			original_trade_id TEXT NOT NULL,
			leader_address TEXT NOT NULL,
			market_id TEXT NOT NULL,
			outcome_index INT NOT NULL,
			side TEXT NOT NULL,
			amount_usd DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			error_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			submitted_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_copied_trades_follower ON copied_trades(follower_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS processed_trades (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			outcome_index INT NOT NULL,
			side TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			shares DOUBLE PRECISION NOT NULL,
			cost DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_trades_user ON processed_trades(user_id, created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migration: %w", err)
		}
	}
	return nil
}

func followCacheKey(leaderAddress string) string {
	return "copytrader:follows:" + leaderAddress
}

func settingsCacheKey(userID string) string {
	return "copytrader:settings:" + userID
}

// CreateFollow upserts a follow edge and invalidates the leader's cached
// follow list.
func (s *PostgresStore) CreateFollow(ctx context.Context, follow models.Follow) error {
	settings, err := json.Marshal(follow.Settings)
	if err != nil {
		return fmt.Errorf("postgres: encode settings: %w", err)
	}
	leader := utils.NormalizeAddress(follow.LeaderAddress)
	_, err = s.pool.Exec(ctx,
		`INSERT INTO follows (follower_id, leader_address, settings)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (follower_id, leader_address) DO UPDATE SET settings = EXCLUDED.settings`,
		follow.FollowerID, leader, settings)
	if err != nil {
		return fmt.Errorf("postgres: create follow: %w", err)
	}
	s.invalidate(ctx, followCacheKey(leader))
	return nil
}

// DeleteFollow removes a follow edge and invalidates the cache.
func (s *PostgresStore) DeleteFollow(ctx context.Context, followerID, leaderAddress string) error {
	leader := utils.NormalizeAddress(leaderAddress)
	_, err := s.pool.Exec(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND leader_address = $2`,
		followerID, leader)
	if err != nil {
		return fmt.Errorf("postgres: delete follow: %w", err)
	}
	s.invalidate(ctx, followCacheKey(leader))
	return nil
}

// GetFollow returns one follow edge, or nil when absent.
func (s *PostgresStore) GetFollow(ctx context.Context, followerID, leaderAddress string) (*models.Follow, error) {
	var follow models.Follow
	var settings []byte
	err := s.pool.QueryRow(ctx,
		`SELECT follower_id, leader_address, settings, created_at
		 FROM follows WHERE follower_id = $1 AND leader_address = $2`,
		followerID, utils.NormalizeAddress(leaderAddress)).
		Scan(&follow.FollowerID, &follow.LeaderAddress, &settings, &follow.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get follow: %w", err)
	}
	if err := json.Unmarshal(settings, &follow.Settings); err != nil {
		return nil, fmt.Errorf("postgres: decode settings: %w", err)
	}
	return &follow, nil
}

// FindFollowsByLeader returns every follow edge for a leader, served from
// the Redis cache when fresh.
func (s *PostgresStore) FindFollowsByLeader(ctx context.Context, leaderAddress string) ([]models.Follow, error) {
	leader := utils.NormalizeAddress(leaderAddress)
	key := followCacheKey(leader)

	if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
		var follows []models.Follow
		if json.Unmarshal([]byte(cached), &follows) == nil {
			return follows, nil
		}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT follower_id, leader_address, settings, created_at FROM follows WHERE leader_address = $1`,
		leader)
	if err != nil {
		return nil, fmt.Errorf("postgres: find follows: %w", err)
	}
	follows, err := collectPgFollows(rows)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(follows); err == nil {
		s.redis.Set(ctx, key, data, followCacheTTL)
	}
	return follows, nil
}

// ListFollowsByFollower returns every leader a follower copies.
func (s *PostgresStore) ListFollowsByFollower(ctx context.Context, followerID string) ([]models.Follow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT follower_id, leader_address, settings, created_at FROM follows WHERE follower_id = $1`,
		followerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list follows: %w", err)
	}
	return collectPgFollows(rows)
}

func collectPgFollows(rows pgx.Rows) ([]models.Follow, error) {
	defer rows.Close()
	var follows []models.Follow
	for rows.Next() {
		var follow models.Follow
		var settings []byte
		if err := rows.Scan(&follow.FollowerID, &follow.LeaderAddress, &settings, &follow.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan follow: %w", err)
		}
		if err := json.Unmarshal(settings, &follow.Settings); err != nil {
			return nil, fmt.Errorf("postgres: decode settings: %w", err)
		}
		follows = append(follows, follow)
	}
	return follows, rows.Err()
}

// GetUserCopySettings returns account-level copy settings, cached in Redis.
func (s *PostgresStore) GetUserCopySettings(ctx context.Context, userID string) (*models.CopySettings, error) {
	key := settingsCacheKey(userID)
	if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
		var settings models.CopySettings
		if json.Unmarshal([]byte(cached), &settings) == nil {
			return &settings, nil
		}
	}

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT settings FROM copy_settings WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get settings: %w", err)
	}

	var settings models.CopySettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("postgres: decode settings: %w", err)
	}
	s.redis.Set(ctx, key, raw, settingsCacheTTL)
	return &settings, nil
}

// SetUserCopySettings upserts account-level settings and invalidates the
// cache.
func (s *PostgresStore) SetUserCopySettings(ctx context.Context, userID string, settings models.CopySettings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("postgres: encode settings: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO copy_settings (user_id, settings, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (user_id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = now()`,
		userID, raw)
	if err != nil {
		return fmt.Errorf("postgres: set settings: %w", err)
	}
	s.invalidate(ctx, settingsCacheKey(userID))
	return nil
}

// CreateCopiedTrade appends a copy-trade record.
func (s *PostgresStore) CreateCopiedTrade(ctx context.Context, trade models.CopiedTrade) (models.CopiedTrade, error) {
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO copied_trades
			(follower_id, original_trade_id, leader_address, market_id, outcome_index, side, amount_usd, status, error_reason, created_at, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		trade.FollowerID, trade.OriginalTradeID, utils.NormalizeAddress(trade.LeaderAddress),
		trade.MarketID, trade.OutcomeIndex, string(trade.Side), trade.AmountUsd,
		trade.Status, trade.ErrorReason, trade.CreatedAt, trade.SubmittedAt).Scan(&trade.ID)
	if err != nil {
		return trade, fmt.Errorf("postgres: create copied trade: %w", err)
	}
	return trade, nil
}

// ListCopiedTrades returns a follower's copy-trade records, newest first.
func (s *PostgresStore) ListCopiedTrades(ctx context.Context, followerID string, limit int) ([]models.CopiedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, follower_id, original_trade_id, leader_address, market_id, outcome_index, side, amount_usd, status, COALESCE(error_reason, ''), created_at, submitted_at
		 FROM copied_trades WHERE follower_id = $1 ORDER BY created_at DESC LIMIT $2`,
		followerID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list copied trades: %w", err)
	}
	defer rows.Close()

	var trades []models.CopiedTrade
	for rows.Next() {
		var trade models.CopiedTrade
		var side string
		if err := rows.Scan(&trade.ID, &trade.FollowerID, &trade.OriginalTradeID, &trade.LeaderAddress,
			&trade.MarketID, &trade.OutcomeIndex, &side, &trade.AmountUsd, &trade.Status,
			&trade.ErrorReason, &trade.CreatedAt, &trade.SubmittedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan copied trade: %w", err)
		}
		trade.Side = models.Side(side)
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// SaveProcessedTrade persists a validated direct trade submission.
func (s *PostgresStore) SaveProcessedTrade(ctx context.Context, trade models.ProcessedTrade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_trades
			(id, user_id, market_id, outcome_index, side, amount, price, shares, cost, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO NOTHING`,
		trade.ID, trade.UserID, trade.MarketID, trade.OutcomeIndex, string(trade.Side),
		trade.Amount, trade.Price, trade.Shares, trade.Cost, trade.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save processed trade: %w", err)
	}
	return nil
}

// ListProcessedTrades returns a user's direct submissions, newest first.
func (s *PostgresStore) ListProcessedTrades(ctx context.Context, userID string, limit int) ([]models.ProcessedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, market_id, outcome_index, side, amount, price, shares, cost, created_at
		 FROM processed_trades WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list processed trades: %w", err)
	}
	defer rows.Close()

	var trades []models.ProcessedTrade
	for rows.Next() {
		var trade models.ProcessedTrade
		var side string
		if err := rows.Scan(&trade.ID, &trade.UserID, &trade.MarketID, &trade.OutcomeIndex, &side,
			&trade.Amount, &trade.Price, &trade.Shares, &trade.Cost, &trade.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan processed trade: %w", err)
		}
		trade.Side = models.Side(side)
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) invalidate(ctx context.Context, key string) {
	if err := s.redis.Del(ctx, key).Err(); err != nil {
		log.Printf("[PostgresStore] Cache invalidation %s: %v", key, err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
