package api

import (
	"context"
	"log"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// Canonical detection thresholds. Callers may pass stricter values; zero
// falls back to these.
const (
	DefaultMinVolumeUSD = 5000.0
	DefaultMinTrades    = 10
	leaderSampleSize    = 1000
	positionFetchLimit  = 200
)

type walletAggregate struct {
	address     string
	volume      float64
	tradeCount  int
	lastTradeID string
	lastTradeMs int64
}

// DetectLeaderWallets pulls a bounded sample of recent trades across the
// exchange, groups them by wallet, and scores every wallet that clears both
// thresholds. Wallets below either threshold are dropped entirely. Output
// order is unspecified; callers sort.
func (c *Client) DetectLeaderWallets(ctx context.Context, minVolumeUsd float64, minTrades int) ([]models.LeaderWallet, error) {
	if minVolumeUsd <= 0 {
		minVolumeUsd = DefaultMinVolumeUSD
	}
	if minTrades <= 0 {
		minTrades = DefaultMinTrades
	}

	trades, err := c.GetRecentTrades(ctx, leaderSampleSize)
	if err != nil {
		return nil, err
	}

	candidates := aggregateWallets(trades, minVolumeUsd, minTrades)
	leaders := make([]models.LeaderWallet, 0, len(candidates))

	for _, agg := range candidates {
		positions, err := c.GetClosedPositions(ctx, agg.address, positionFetchLimit)
		if err != nil {
			// A wallet whose history cannot be fetched is scored on volume
			// alone rather than failing the whole detection pass.
			log.Printf("[LeaderDetection] Warning: closed positions for %s unavailable: %v",
				utils.ShortAddress(agg.address), err)
			positions = nil
		}
		leaders = append(leaders, scoreWallet(agg, positions))
	}

	return leaders, nil
}

// aggregateWallets groups a trade sample by wallet and keeps only wallets
// meeting both thresholds.
func aggregateWallets(trades []models.TradeRecord, minVolumeUsd float64, minTrades int) []walletAggregate {
	byWallet := make(map[string]*walletAggregate)
	for _, trade := range trades {
		addr := utils.NormalizeAddress(trade.WalletAddress)
		if addr == "" {
			continue
		}
		agg, ok := byWallet[addr]
		if !ok {
			agg = &walletAggregate{address: addr}
			byWallet[addr] = agg
		}
		agg.volume += trade.AmountUsd
		agg.tradeCount++
		if trade.TimestampMs >= agg.lastTradeMs {
			agg.lastTradeMs = trade.TimestampMs
			agg.lastTradeID = trade.ID
		}
	}

	result := make([]walletAggregate, 0, len(byWallet))
	for _, agg := range byWallet {
		if agg.tradeCount < minTrades || agg.volume < minVolumeUsd {
			continue
		}
		result = append(result, *agg)
	}
	return result
}

// scoreWallet computes ROI and win rate from resolved positions. Unresolved
// positions are excluded from the ROI numerator; a wallet with zero resolved
// positions scores winRate = 0, never NaN.
func scoreWallet(agg walletAggregate, positions []models.ClosedPosition) models.LeaderWallet {
	var realized, deployed float64
	var wins, resolved int
	for _, pos := range positions {
		resolved++
		realized += pos.RealizedPnl
		deployed += pos.CapitalUsd
		if pos.RealizedPnl > 0 {
			wins++
		}
	}

	roi := 0.0
	if deployed > 0 {
		roi = realized / deployed * 100
	}
	winRate := 0.0
	if resolved > 0 {
		winRate = float64(wins) / float64(resolved)
	}
	avgSize := 0.0
	if agg.tradeCount > 0 {
		avgSize = agg.volume / float64(agg.tradeCount)
	}

	return models.LeaderWallet{
		Address:         agg.address,
		Volume:          agg.volume,
		TradeCount:      agg.tradeCount,
		ROI:             roi,
		WinRate:         winRate,
		AvgTradeSize:    avgSize,
		LastSeenTradeID: agg.lastTradeID,
	}
}
