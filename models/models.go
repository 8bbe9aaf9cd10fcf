package models

import (
	"fmt"
	"time"
)

// Side represents the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeRecord is a single observed trade, normalized from the exchange API.
// Immutable once observed.
type TradeRecord struct {
	ID            string  `json:"id"`
	MarketID      string  `json:"market_id"`
	WalletAddress string  `json:"wallet_address"`
	Side          Side    `json:"side"`
	OutcomeIndex  int     `json:"outcome_index"`
	Outcome       string  `json:"outcome"`
	Size          float64 `json:"size"`
	Price         float64 `json:"price"`
	AmountUsd     float64 `json:"amount_usd"`
	TimestampMs   int64   `json:"timestamp_ms"`
}

// Time returns the trade timestamp as time.Time.
func (t TradeRecord) Time() time.Time {
	return time.UnixMilli(t.TimestampMs).UTC()
}

// Market represents an exchange market.
type Market struct {
	ID             string   `json:"id"`
	Question       string   `json:"question"`
	Outcomes       []string `json:"outcomes"`
	Resolved       bool     `json:"resolved"`
	WinningOutcome int      `json:"winning_outcome"` // index into Outcomes, -1 while open
	Volume         float64  `json:"volume"`
}

// LeaderWallet is a wallet that cleared the leader-detection thresholds,
// with its computed statistics. Snapshots are recomputed wholesale; entries
// are keyed by address and never persist identity across recomputation.
type LeaderWallet struct {
	Address         string  `json:"address"`
	Volume          float64 `json:"volume"`
	TradeCount      int     `json:"trade_count"`
	ROI             float64 `json:"roi"`      // percent
	WinRate         float64 `json:"win_rate"` // fraction in [0,1]
	AvgTradeSize    float64 `json:"avg_trade_size"`
	LastSeenTradeID string  `json:"last_seen_trade_id"`
}

// ClosedPosition is a resolved position for a wallet, used to compute
// ROI and win rate.
type ClosedPosition struct {
	MarketID    string  `json:"market_id"`
	RealizedPnl float64 `json:"realized_pnl"`
	CapitalUsd  float64 `json:"capital_usd"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// CopySettings holds a follower's per-follow copy policy.
type CopySettings struct {
	Enabled        bool     `json:"enabled"`
	CopyPercentage float64  `json:"copy_percentage"` // (0, 100]
	MinTradeSize   float64  `json:"min_trade_size"`  // USD, 0 = no minimum
	MaxTradeSize   float64  `json:"max_trade_size"`  // USD, 0 = no cap
	OnlyMarkets    []string `json:"only_markets"`
	ExcludeMarkets []string `json:"exclude_markets"`
	OnlyOutcomes   []string `json:"only_outcomes"`
	DelayMs        int64    `json:"delay_ms"`
}

// Validate checks that the settings are internally consistent.
func (s CopySettings) Validate() error {
	if s.CopyPercentage <= 0 || s.CopyPercentage > 100 {
		return fmt.Errorf("copy_percentage must be in (0, 100], got %.2f", s.CopyPercentage)
	}
	if s.MinTradeSize < 0 {
		return fmt.Errorf("min_trade_size must not be negative, got %.2f", s.MinTradeSize)
	}
	if s.MaxTradeSize < 0 {
		return fmt.Errorf("max_trade_size must not be negative, got %.2f", s.MaxTradeSize)
	}
	if s.MaxTradeSize > 0 && s.MinTradeSize > s.MaxTradeSize {
		return fmt.Errorf("min_trade_size %.2f exceeds max_trade_size %.2f", s.MinTradeSize, s.MaxTradeSize)
	}
	if s.DelayMs < 0 {
		return fmt.Errorf("delay_ms must not be negative, got %d", s.DelayMs)
	}
	return nil
}

// DefaultCopySettings returns the settings applied when a follower has not
// customized their policy.
func DefaultCopySettings() CopySettings {
	return CopySettings{
		Enabled:        true,
		CopyPercentage: 5, // 1/20th of the leader's size
		MinTradeSize:   1,
	}
}

// Follow is the edge between a follower identity and a leader wallet.
type Follow struct {
	FollowerID    string       `json:"follower_id"`
	LeaderAddress string       `json:"leader_address"`
	Settings      CopySettings `json:"settings"`
	CreatedAt     time.Time    `json:"created_at"`
}

// CopyTradeRequest is a sized, policy-filtered trade synthesized for one
// follower from one leader trade. Immutable; handed to the execution
// collaborator once its delay window elapses.
type CopyTradeRequest struct {
	FollowerID      string    `json:"follower_id"`
	OriginalTradeID string    `json:"original_trade_id"`
	LeaderAddress   string    `json:"leader_address"`
	MarketID        string    `json:"market_id"`
	OutcomeIndex    int       `json:"outcome_index"`
	Side            Side      `json:"side"`
	AmountUsd       float64   `json:"amount_usd"`
	Price           float64   `json:"price"`
	ObservedAt      time.Time `json:"observed_at"`
	ScheduledAt     time.Time `json:"scheduled_at"`
}

// TradeRequest is a direct (non-copy) trade submission.
type TradeRequest struct {
	MarketID     string  `json:"market_id"`
	OutcomeIndex int     `json:"outcome_index"`
	Side         Side    `json:"side"`
	Amount       float64 `json:"amount"` // USD
	Price        float64 `json:"price"`  // (0, 1) exclusive
}

// ProcessedTrade is a validated trade submission with derived bookkeeping
// fields.
type ProcessedTrade struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	MarketID     string    `json:"market_id"`
	OutcomeIndex int       `json:"outcome_index"`
	Side         Side      `json:"side"`
	Amount       float64   `json:"amount"`
	Price        float64   `json:"price"`
	Shares       float64   `json:"shares"` // amount / price
	Cost         float64   `json:"cost"`   // shares * price
	CreatedAt    time.Time `json:"created_at"`
}

// CopiedTrade is the persisted record of a copy-trade submission attempt.
type CopiedTrade struct {
	ID              int        `json:"id"`
	FollowerID      string     `json:"follower_id"`
	OriginalTradeID string     `json:"original_trade_id"`
	LeaderAddress   string     `json:"leader_address"`
	MarketID        string     `json:"market_id"`
	OutcomeIndex    int        `json:"outcome_index"`
	Side            Side       `json:"side"`
	AmountUsd       float64    `json:"amount_usd"`
	Status          string     `json:"status"` // submitted, failed, cancelled
	ErrorReason     string     `json:"error_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
}
