package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-copytrader/models"
)

// wsTestServer upgrades connections and echoes a trade event for every
// wallet subscription it receives.
func wsTestServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var req wsRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Type != "subscribe" || req.Channel != "wallet_trades" {
				continue
			}
			event := wsEvent{
				EventType: "trade",
				Trade: wireTrade{
					ID:          "push-1",
					Market:      "m1",
					ProxyWallet: req.Target,
					Side:        "BUY",
					Size:        100,
					Price:       0.4,
					Timestamp:   1700000000000,
				},
			}
			data, _ := json.Marshal(event)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSClientDeliversSubscribedTrades(t *testing.T) {
	srv := wsTestServer(t)

	ch := make(chan models.TradeRecord, 4)
	client := NewWSClient(wsURL(srv), func(trade models.TradeRecord) {
		ch <- trade
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Disconnect()

	if !client.Connected() {
		t.Fatal("Connected() = false after Connect")
	}

	if err := client.SubscribeToWalletTrades("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); err != nil {
		t.Fatalf("SubscribeToWalletTrades: %v", err)
	}

	select {
	case trade := <-ch:
		if trade.ID != "push-1" {
			t.Errorf("trade.ID = %s, want push-1", trade.ID)
		}
		if trade.WalletAddress != "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" {
			t.Errorf("WalletAddress = %s, want normalized", trade.WalletAddress)
		}
		if !floatEquals(trade.AmountUsd, 40, 0.001) {
			t.Errorf("AmountUsd = %v, want 40", trade.AmountUsd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push trade")
	}
}

func TestWSClientSetTradeHandler(t *testing.T) {
	srv := wsTestServer(t)

	client := NewWSClient(wsURL(srv), nil)

	ch := make(chan models.TradeRecord, 4)
	client.SetTradeHandler(func(trade models.TradeRecord) {
		ch <- trade
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Disconnect()

	if err := client.SubscribeToWalletTrades("0xBBBB"); err != nil {
		t.Fatalf("SubscribeToWalletTrades: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("handler set via SetTradeHandler never invoked")
	}
}

func TestWSClientConnectFailure(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:1/unreachable", nil)
	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected Connect to fail against unreachable endpoint")
	}
	if client.Connected() {
		t.Error("Connected() = true after failed Connect")
	}
}

func TestWSClientDisconnectIdempotent(t *testing.T) {
	srv := wsTestServer(t)

	client := NewWSClient(wsURL(srv), nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	client.Disconnect()
	client.Disconnect() // second call must not panic

	if client.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
}

func TestWSClientSubscribeWhileDisconnectedIsRecorded(t *testing.T) {
	client := NewWSClient("ws://127.0.0.1:1/unreachable", nil)

	// No connection yet; the subscription is recorded for replay and the
	// call does not error.
	if err := client.SubscribeToWalletTrades("0xCCCC"); err != nil {
		t.Fatalf("SubscribeToWalletTrades while disconnected: %v", err)
	}
	if err := client.SubscribeToWalletTrades("0xCCCC"); err != nil {
		t.Fatalf("duplicate subscribe: %v", err)
	}
}
