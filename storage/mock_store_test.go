package storage

import (
	"context"
	"errors"
	"testing"

	"polymarket-copytrader/models"
)

func TestMockStoreErrorInjection(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	injected := errors.New("boom")
	store.ErrorOnNext["CreateFollow"] = injected

	err := store.CreateFollow(ctx, models.Follow{
		FollowerID: "alice", LeaderAddress: testLeader,
	})
	if !errors.Is(err, injected) {
		t.Fatalf("err = %v, want injected error", err)
	}

	// The injection fires once.
	if err := store.CreateFollow(ctx, models.Follow{
		FollowerID: "alice", LeaderAddress: testLeader,
	}); err != nil {
		t.Fatalf("second CreateFollow: %v", err)
	}

	if store.Calls["CreateFollow"] != 2 {
		t.Errorf("Calls = %d, want 2", store.Calls["CreateFollow"])
	}
}

func TestMockStoreFollowSemantics(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	store.CreateFollow(ctx, models.Follow{
		FollowerID: "alice", LeaderAddress: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Settings: models.DefaultCopySettings(),
	})

	got, err := store.GetFollow(ctx, "alice", testLeader)
	if err != nil || got == nil {
		t.Fatalf("GetFollow = %v, %v; want edge under normalized address", got, err)
	}

	follows, _ := store.FindFollowsByLeader(ctx, testLeader)
	if len(follows) != 1 {
		t.Errorf("FindFollowsByLeader = %d edges, want 1", len(follows))
	}

	store.DeleteFollow(ctx, "alice", testLeader)
	if got, _ := store.GetFollow(ctx, "alice", testLeader); got != nil {
		t.Error("edge survived deletion")
	}
}

func TestMockStoreCopiedTradeOrder(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	for _, id := range []string{"t1", "t2", "t3"} {
		store.CreateCopiedTrade(ctx, models.CopiedTrade{
			FollowerID: "alice", OriginalTradeID: id, Status: "submitted",
		})
	}

	trades := store.CopiedTrades()
	if len(trades) != 3 {
		t.Fatalf("expected 3 records, got %d", len(trades))
	}
	for i, want := range []string{"t1", "t2", "t3"} {
		if trades[i].OriginalTradeID != want {
			t.Errorf("submission order[%d] = %s, want %s", i, trades[i].OriginalTradeID, want)
		}
	}
	if trades[0].ID != 1 || trades[2].ID != 3 {
		t.Errorf("ids not assigned sequentially: %d..%d", trades[0].ID, trades[2].ID)
	}
}
