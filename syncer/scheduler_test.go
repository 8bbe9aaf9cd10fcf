package syncer

import (
	"context"
	"testing"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
)

func copyRequest(followerID, tradeID string, delay time.Duration) models.CopyTradeRequest {
	now := time.Now().UTC()
	return models.CopyTradeRequest{
		FollowerID:      followerID,
		OriginalTradeID: tradeID,
		LeaderAddress:   leaderAddr,
		MarketID:        "m1",
		Side:            models.SideBuy,
		AmountUsd:       10,
		Price:           0.5,
		ObservedAt:      now,
		ScheduledAt:     now.Add(delay),
	}
}

func waitForCopiedTrades(t *testing.T, store *storage.MockStore, n int, timeout time.Duration) []models.CopiedTrade {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if trades := store.CopiedTrades(); len(trades) >= n {
			return trades
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d copied trades, have %d", n, len(store.CopiedTrades()))
	return nil
}

func TestEnqueueRequiresStart(t *testing.T) {
	store := storage.NewMockStore()
	scheduler := NewCopyScheduler(store, NewBus())

	if err := scheduler.Enqueue(copyRequest("alice", "t1", 0)); err == nil {
		t.Fatal("Enqueue before Start should error")
	}
}

func TestSubmitAfterDelay(t *testing.T) {
	store := storage.NewMockStore()
	store.CreateFollow(context.Background(), testFollow("alice", enabledSettings(5)))

	scheduler := NewCopyScheduler(store, NewBus())
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	if err := scheduler.Enqueue(copyRequest("alice", "t1", 30*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	trades := waitForCopiedTrades(t, store, 1, 2*time.Second)
	if trades[0].OriginalTradeID != "t1" || trades[0].Status != "submitted" {
		t.Errorf("unexpected record: %+v", trades[0])
	}
	if trades[0].SubmittedAt == nil {
		t.Error("SubmittedAt not set")
	}
}

func TestPerFollowerOrdering(t *testing.T) {
	store := storage.NewMockStore()
	store.CreateFollow(context.Background(), testFollow("alice", enabledSettings(5)))

	scheduler := NewCopyScheduler(store, NewBus())
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	// First request has the longer delay; the second, observed later with
	// no delay, must still submit after it.
	if err := scheduler.Enqueue(copyRequest("alice", "t1", 80*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue t1: %v", err)
	}
	if err := scheduler.Enqueue(copyRequest("alice", "t2", 0)); err != nil {
		t.Fatalf("Enqueue t2: %v", err)
	}

	trades := waitForCopiedTrades(t, store, 2, 2*time.Second)
	if trades[0].OriginalTradeID != "t1" || trades[1].OriginalTradeID != "t2" {
		t.Errorf("submission order = [%s %s], want [t1 t2]",
			trades[0].OriginalTradeID, trades[1].OriginalTradeID)
	}
}

func TestIndependentFollowersDoNotBlockEachOther(t *testing.T) {
	store := storage.NewMockStore()
	store.CreateFollow(context.Background(), testFollow("alice", enabledSettings(5)))
	store.CreateFollow(context.Background(), testFollow("bob", enabledSettings(5)))

	scheduler := NewCopyScheduler(store, NewBus())
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	// alice's long delay must not hold up bob's immediate request.
	if err := scheduler.Enqueue(copyRequest("alice", "a1", 500*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue a1: %v", err)
	}
	if err := scheduler.Enqueue(copyRequest("bob", "b1", 0)); err != nil {
		t.Fatalf("Enqueue b1: %v", err)
	}

	trades := waitForCopiedTrades(t, store, 1, 300*time.Millisecond)
	if trades[0].FollowerID != "bob" {
		t.Errorf("first submission from %s, want bob", trades[0].FollowerID)
	}
}

func TestFollowRemovedInsideDelayWindow(t *testing.T) {
	store := storage.NewMockStore()
	store.CreateFollow(context.Background(), testFollow("alice", enabledSettings(5)))

	scheduler := NewCopyScheduler(store, NewBus())
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	if err := scheduler.Enqueue(copyRequest("alice", "t1", 60*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Unfollow before the delay elapses.
	store.DeleteFollow(context.Background(), "alice", leaderAddr)

	time.Sleep(150 * time.Millisecond)
	if trades := store.CopiedTrades(); len(trades) != 0 {
		t.Errorf("expected no submissions after unfollow, got %d", len(trades))
	}
}

func TestFollowDisabledInsideDelayWindow(t *testing.T) {
	store := storage.NewMockStore()
	store.CreateFollow(context.Background(), testFollow("alice", enabledSettings(5)))

	scheduler := NewCopyScheduler(store, NewBus())
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	if err := scheduler.Enqueue(copyRequest("alice", "t1", 60*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	disabled := enabledSettings(5)
	disabled.Enabled = false
	store.CreateFollow(context.Background(), testFollow("alice", disabled))

	time.Sleep(150 * time.Millisecond)
	if trades := store.CopiedTrades(); len(trades) != 0 {
		t.Errorf("expected no submissions for disabled follow, got %d", len(trades))
	}
}

func TestStopCancelsPendingRequests(t *testing.T) {
	store := storage.NewMockStore()
	store.CreateFollow(context.Background(), testFollow("alice", enabledSettings(5)))

	scheduler := NewCopyScheduler(store, NewBus())
	scheduler.Start(context.Background())

	if err := scheduler.Enqueue(copyRequest("alice", "t1", 200*time.Millisecond)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	scheduler.Stop()

	time.Sleep(300 * time.Millisecond)
	if trades := store.CopiedTrades(); len(trades) != 0 {
		t.Errorf("pending request submitted after Stop, got %d records", len(trades))
	}

	if err := scheduler.Enqueue(copyRequest("alice", "t2", 0)); err == nil {
		t.Error("Enqueue after Stop should error")
	}
}
