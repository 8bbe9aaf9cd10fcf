package api

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/utils"
)

const pollFetchLimit = 50

// maxTrackedTradeIDs bounds the per-wallet dedup set. When exceeded the set
// is rebuilt from the most recent page, which always covers the overlap
// window of the next poll.
const maxTrackedTradeIDs = 1000

// MonitorWalletTrades polls a wallet's trade history every interval and
// invokes onTrade for each trade not yet delivered, oldest first. Delivery
// is deduplicated by trade id, not timestamp, so clock skew and
// same-millisecond trades are tolerated. The returned cancel function stops
// the loop and is safe to call multiple times.
func (c *Client) MonitorWalletTrades(ctx context.Context, address string, onTrade TradeHandler, interval time.Duration) (cancel func()) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	address = utils.NormalizeAddress(address)

	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		delivered := make(map[string]struct{})

		// Seed with the current page so only trades observed after the
		// monitor starts are delivered.
		if trades, err := c.GetWalletTrades(ctx, address, pollFetchLimit); err == nil {
			for _, trade := range trades {
				delivered[trade.ID] = struct{}{}
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				c.pollOnce(ctx, address, onTrade, delivered)
			}
		}
	}()

	return func() {
		once.Do(func() { close(stopCh) })
	}
}

func (c *Client) pollOnce(ctx context.Context, address string, onTrade TradeHandler, delivered map[string]struct{}) {
	trades, err := c.GetWalletTrades(ctx, address, pollFetchLimit)
	if err != nil {
		// Upstream outages degrade to "no new data"; the next tick retries.
		if !errors.Is(err, ErrUpstreamUnavailable) {
			log.Printf("[Polling] %s: %v", utils.ShortAddress(address), err)
		}
		return
	}

	// Trades arrive newest first; walk backwards to deliver in stream order.
	fresh := make([]models.TradeRecord, 0, len(trades))
	for i := len(trades) - 1; i >= 0; i-- {
		trade := trades[i]
		if _, seen := delivered[trade.ID]; seen {
			continue
		}
		delivered[trade.ID] = struct{}{}
		fresh = append(fresh, trade)
	}

	if len(delivered) > maxTrackedTradeIDs {
		for k := range delivered {
			delete(delivered, k)
		}
		for _, trade := range trades {
			delivered[trade.ID] = struct{}{}
		}
	}

	for _, trade := range fresh {
		if onTrade != nil {
			onTrade(trade)
		}
	}
}
