package api

import (
	"context"
	"math"
	"testing"

	"polymarket-copytrader/models"
)

func tradeFor(id, wallet string, amountUsd float64, ts int64) models.TradeRecord {
	return models.TradeRecord{
		ID:            id,
		MarketID:      "mkt-1",
		WalletAddress: wallet,
		Side:          models.SideBuy,
		Size:          amountUsd, // price 1.0 keeps the arithmetic readable
		Price:         1.0,
		AmountUsd:     amountUsd,
		TimestampMs:   ts,
	}
}

func TestAggregateWalletsThresholds(t *testing.T) {
	var trades []models.TradeRecord

	// Wallet A: 12 trades of $500 = $6000, clears both thresholds.
	for i := 0; i < 12; i++ {
		trades = append(trades, tradeFor(
			"a-"+string(rune('a'+i)), "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", 500, int64(1000+i)))
	}
	// Wallet B: high volume but only 5 trades, dropped.
	for i := 0; i < 5; i++ {
		trades = append(trades, tradeFor(
			"b-"+string(rune('a'+i)), "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", 3000, int64(2000+i)))
	}
	// Wallet C: many trades but tiny volume, dropped.
	for i := 0; i < 20; i++ {
		trades = append(trades, tradeFor(
			"c-"+string(rune('a'+i)), "0xcccccccccccccccccccccccccccccccccccccccc", 10, int64(3000+i)))
	}

	got := aggregateWallets(trades, 5000, 10)
	if len(got) != 1 {
		t.Fatalf("expected 1 qualifying wallet, got %d", len(got))
	}

	agg := got[0]
	if agg.address != "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
		t.Errorf("address = %s, want normalized wallet A", agg.address)
	}
	if agg.tradeCount != 12 {
		t.Errorf("tradeCount = %d, want 12", agg.tradeCount)
	}
	if !floatEquals(agg.volume, 6000, 0.01) {
		t.Errorf("volume = %v, want 6000", agg.volume)
	}
	if agg.lastTradeID != "a-l" {
		t.Errorf("lastTradeID = %s, want a-l (newest timestamp)", agg.lastTradeID)
	}
}

func TestAggregateWalletsExactThresholds(t *testing.T) {
	// Exactly at both thresholds qualifies; strictly below either does not.
	var trades []models.TradeRecord
	for i := 0; i < 10; i++ {
		trades = append(trades, tradeFor(
			"x-"+string(rune('a'+i)), "0xdddddddddddddddddddddddddddddddddddddddd", 500, int64(i)))
	}

	if got := aggregateWallets(trades, 5000, 10); len(got) != 1 {
		t.Errorf("wallet exactly at thresholds should qualify, got %d wallets", len(got))
	}
	if got := aggregateWallets(trades, 5000.01, 10); len(got) != 0 {
		t.Errorf("wallet below volume threshold should be dropped, got %d wallets", len(got))
	}
	if got := aggregateWallets(trades, 5000, 11); len(got) != 0 {
		t.Errorf("wallet below trade-count threshold should be dropped, got %d wallets", len(got))
	}
}

func TestScoreWallet(t *testing.T) {
	agg := walletAggregate{
		address:     "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		volume:      6000,
		tradeCount:  12,
		lastTradeID: "t-12",
	}

	positions := []models.ClosedPosition{
		{MarketID: "m1", RealizedPnl: 50, CapitalUsd: 100},
		{MarketID: "m2", RealizedPnl: -20, CapitalUsd: 100},
	}

	leader := scoreWallet(agg, positions)

	// realized 30 over 200 deployed = 15%
	if !floatEquals(leader.ROI, 15, 0.001) {
		t.Errorf("ROI = %v, want 15", leader.ROI)
	}
	// 1 win of 2 resolved
	if !floatEquals(leader.WinRate, 0.5, 0.001) {
		t.Errorf("WinRate = %v, want 0.5", leader.WinRate)
	}
	if !floatEquals(leader.AvgTradeSize, 500, 0.001) {
		t.Errorf("AvgTradeSize = %v, want 500", leader.AvgTradeSize)
	}
	if leader.LastSeenTradeID != "t-12" {
		t.Errorf("LastSeenTradeID = %s, want t-12", leader.LastSeenTradeID)
	}
}

func TestScoreWalletNoResolvedPositions(t *testing.T) {
	agg := walletAggregate{address: "0xaaaa", volume: 6000, tradeCount: 12}

	leader := scoreWallet(agg, nil)

	if leader.WinRate != 0 || math.IsNaN(leader.WinRate) {
		t.Errorf("WinRate = %v, want 0 for zero resolved positions", leader.WinRate)
	}
	if leader.ROI != 0 || math.IsNaN(leader.ROI) {
		t.Errorf("ROI = %v, want 0 for zero resolved positions", leader.ROI)
	}
}

func TestMockDetectLeaderWallets(t *testing.T) {
	mock := NewMockExchangeClient()
	for i := 0; i < 15; i++ {
		mock.RecentTrades = append(mock.RecentTrades, tradeFor(
			"t-"+string(rune('a'+i)), "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", 1000, int64(i)))
	}
	mock.ClosedPositions["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"] = []models.ClosedPosition{
		{MarketID: "m1", RealizedPnl: 100, CapitalUsd: 400},
	}

	leaders, err := mock.DetectLeaderWallets(context.Background(), 5000, 10)
	if err != nil {
		t.Fatalf("DetectLeaderWallets: %v", err)
	}
	if len(leaders) != 1 {
		t.Fatalf("expected 1 leader, got %d", len(leaders))
	}
	if !floatEquals(leaders[0].ROI, 25, 0.001) {
		t.Errorf("ROI = %v, want 25", leaders[0].ROI)
	}
	if !floatEquals(leaders[0].WinRate, 1.0, 0.001) {
		t.Errorf("WinRate = %v, want 1.0", leaders[0].WinRate)
	}
}

func floatEquals(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
