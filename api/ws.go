package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

// Reconnection and write tuning.
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterPercent  = 0.2
	writeTimeout   = 10 * time.Second
)

// TradeHandler receives normalized trade events from the push transport.
type TradeHandler func(trade models.TradeRecord)

// wsSubscription identifies one push-channel subscription.
type wsSubscription struct {
	Channel string `json:"channel"` // "market_trades" | "wallet_trades"
	Target  string `json:"target"`
}

// wsRequest is the control message sent to the exchange.
type wsRequest struct {
	Type    string `json:"type"` // "subscribe" | "unsubscribe"
	Channel string `json:"channel"`
	Target  string `json:"target"`
}

// wsEvent is the raw event shape delivered by the exchange.
type wsEvent struct {
	EventType string    `json:"event_type"`
	Trade     wireTrade `json:"trade"`
}

// WSClient maintains a persistent connection to the exchange push transport.
// After Connect it delivers trade events asynchronously for every active
// subscription, reconnecting with exponential backoff and resubscribing on
// its own.
type WSClient struct {
	url string

	onTrade   TradeHandler
	handlerMu sync.RWMutex

	conn   *websocket.Conn
	connMu sync.Mutex

	subs   map[wsSubscription]struct{}
	subsMu sync.Mutex

	connected bool
	stateMu   sync.RWMutex

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWSClient creates a push transport client. Events are delivered via
// onTrade after Connect.
func NewWSClient(url string, onTrade TradeHandler) *WSClient {
	return &WSClient{
		url:     url,
		onTrade: onTrade,
		subs:    make(map[wsSubscription]struct{}),
		stopCh:  make(chan struct{}),
	}
}

// SetTradeHandler replaces the event handler. Must be set before Connect
// for events not to be dropped.
func (w *WSClient) SetTradeHandler(onTrade TradeHandler) {
	w.handlerMu.Lock()
	w.onTrade = onTrade
	w.handlerMu.Unlock()
}

// Connect establishes the connection and starts the read/reconnect loop.
func (w *WSClient) Connect(ctx context.Context) error {
	if err := w.dial(); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.runLoop(ctx)
	return nil
}

// Connected reports whether the transport currently has a live connection.
func (w *WSClient) Connected() bool {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.connected
}

// Disconnect tears down the connection and drops every subscription
// atomically. Safe to call multiple times.
func (w *WSClient) Disconnect() {
	w.once.Do(func() {
		close(w.stopCh)
	})

	w.subsMu.Lock()
	w.subs = make(map[wsSubscription]struct{})
	w.subsMu.Unlock()

	w.closeConn()
	w.wg.Wait()
}

// SubscribeToMarketTrades subscribes to all trades on a market.
func (w *WSClient) SubscribeToMarketTrades(marketID string) error {
	return w.subscribe(wsSubscription{Channel: "market_trades", Target: marketID})
}

// SubscribeToWalletTrades subscribes to all trades by a wallet.
func (w *WSClient) SubscribeToWalletTrades(address string) error {
	return w.subscribe(wsSubscription{Channel: "wallet_trades", Target: utils.NormalizeAddress(address)})
}

// UnsubscribeWalletTrades drops a wallet subscription. A second call for the
// same wallet is a no-op.
func (w *WSClient) UnsubscribeWalletTrades(address string) error {
	return w.unsubscribe(wsSubscription{Channel: "wallet_trades", Target: utils.NormalizeAddress(address)})
}

// UnsubscribeMarketTrades drops a market subscription.
func (w *WSClient) UnsubscribeMarketTrades(marketID string) error {
	return w.unsubscribe(wsSubscription{Channel: "market_trades", Target: marketID})
}

func (w *WSClient) subscribe(sub wsSubscription) error {
	w.subsMu.Lock()
	if _, exists := w.subs[sub]; exists {
		w.subsMu.Unlock()
		return nil
	}
	w.subs[sub] = struct{}{}
	w.subsMu.Unlock()

	return w.send(wsRequest{Type: "subscribe", Channel: sub.Channel, Target: sub.Target})
}

func (w *WSClient) unsubscribe(sub wsSubscription) error {
	w.subsMu.Lock()
	_, exists := w.subs[sub]
	delete(w.subs, sub)
	w.subsMu.Unlock()

	if !exists {
		return nil
	}
	return w.send(wsRequest{Type: "unsubscribe", Channel: sub.Channel, Target: sub.Target})
}

func (w *WSClient) dial() error {
	conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
	if err != nil {
		return fmt.Errorf("ws: dial %s: %v: %w", w.url, err, ErrUpstreamUnavailable)
	}

	w.connMu.Lock()
	w.conn = conn
	w.connMu.Unlock()

	w.setConnected(true)
	log.Printf("[WSClient] Connected to %s", w.url)
	return nil
}

func (w *WSClient) runLoop(ctx context.Context) {
	defer w.wg.Done()

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		if !w.Connected() {
			if err := w.dial(); err != nil {
				log.Printf("[WSClient] Reconnect failed: %v (retry in %s)", err, backoff)
				if !w.waitBackoff(ctx, backoff) {
					return
				}
				backoff = nextBackoff(backoff)
				continue
			}
			backoff = initialBackoff
			w.resubscribeAll()
		}

		if err := w.readLoop(ctx); err != nil {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			default:
			}
			log.Printf("[WSClient] Connection lost: %v", err)
			w.closeConn()
		}
	}
}

func (w *WSClient) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		default:
		}

		w.connMu.Lock()
		conn := w.conn
		w.connMu.Unlock()
		if conn == nil {
			return fmt.Errorf("ws: no connection")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		w.handleMessage(data)
	}
}

func (w *WSClient) handleMessage(data []byte) {
	var event wsEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return
	}
	if event.EventType != "trade" {
		return
	}
	w.handlerMu.RLock()
	onTrade := w.onTrade
	w.handlerMu.RUnlock()
	if onTrade != nil {
		onTrade(event.Trade.toModel())
	}
}

// resubscribeAll replays the subscription set after a reconnect.
func (w *WSClient) resubscribeAll() {
	w.subsMu.Lock()
	subs := make([]wsSubscription, 0, len(w.subs))
	for sub := range w.subs {
		subs = append(subs, sub)
	}
	w.subsMu.Unlock()

	for _, sub := range subs {
		if err := w.send(wsRequest{Type: "subscribe", Channel: sub.Channel, Target: sub.Target}); err != nil {
			log.Printf("[WSClient] Resubscribe %s/%s failed: %v", sub.Channel, sub.Target, err)
		}
	}
	if len(subs) > 0 {
		log.Printf("[WSClient] Resubscribed to %d channels", len(subs))
	}
}

func (w *WSClient) send(req wsRequest) error {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	if w.conn == nil {
		// Subscription is recorded; it will be replayed on (re)connect.
		return nil
	}
	w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := w.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("ws: send %s: %w", req.Type, err)
	}
	return nil
}

func (w *WSClient) closeConn() {
	w.connMu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connMu.Unlock()
	w.setConnected(false)
}

func (w *WSClient) setConnected(v bool) {
	w.stateMu.Lock()
	w.connected = v
	w.stateMu.Unlock()
}

// waitBackoff sleeps for d unless cancelled. Returns false when stopping.
func (w *WSClient) waitBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > maxBackoff {
		next = maxBackoff
	}
	jitter := time.Duration(rand.Float64() * jitterPercent * float64(next))
	return next + jitter
}
