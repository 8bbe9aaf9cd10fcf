package syncer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/utils"
)

// followerQueueSize bounds each follower's pending queue. A full queue
// rejects new requests (reported via EventError) instead of blocking the
// monitoring pipeline.
const followerQueueSize = 256

// CopyScheduler holds synthesized copy-trade requests through their delay
// window and submits them to the persistence collaborator in observation
// order, one FIFO queue per follower. A later-observed trade with a shorter
// delay never overtakes an earlier one for the same follower.
type CopyScheduler struct {
	store storage.DataStore
	bus   *Bus

	mu      sync.Mutex
	queues  map[string]chan models.CopyTradeRequest
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCopyScheduler creates a scheduler backed by the given store.
func NewCopyScheduler(store storage.DataStore, bus *Bus) *CopyScheduler {
	return &CopyScheduler{
		store:  store,
		bus:    bus,
		queues: make(map[string]chan models.CopyTradeRequest),
	}
}

// Start enables the scheduler. Idempotent.
func (s *CopyScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Stop cancels every pending request and waits for the queue workers.
// Requests still inside their delay window are not submitted.
func (s *CopyScheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	s.queues = make(map[string]chan models.CopyTradeRequest)
	s.mu.Unlock()

	s.wg.Wait()
	log.Printf("[CopyScheduler] Stopped")
}

// Enqueue adds a request to its follower's queue. Returns an error when the
// scheduler is stopped or the follower's queue is full.
func (s *CopyScheduler) Enqueue(req models.CopyTradeRequest) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: not started")
	}
	queue, ok := s.queues[req.FollowerID]
	if !ok {
		queue = make(chan models.CopyTradeRequest, followerQueueSize)
		s.queues[req.FollowerID] = queue
		s.wg.Add(1)
		go s.drainQueue(s.ctx, req.FollowerID, queue)
	}
	s.mu.Unlock()

	select {
	case queue <- req:
		s.bus.Publish(EventCopyQueued, CopyQueuedEvent{Request: req})
		return nil
	default:
		return fmt.Errorf("scheduler: queue full for follower %s", req.FollowerID)
	}
}

// drainQueue submits one follower's requests in arrival order, waiting out
// each request's delay before submission.
func (s *CopyScheduler) drainQueue(ctx context.Context, followerID string, queue chan models.CopyTradeRequest) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-queue:
			if !s.waitUntil(ctx, req.ScheduledAt) {
				return
			}
			s.submit(ctx, req)
		}
	}
}

// waitUntil blocks until t or cancellation. Returns false when cancelled.
func (s *CopyScheduler) waitUntil(ctx context.Context, t time.Time) bool {
	delay := time.Until(t)
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// submit re-checks the follow edge and hands the request to the persistence
// collaborator. A follow removed or disabled inside the delay window is
// dropped, never submitted.
func (s *CopyScheduler) submit(ctx context.Context, req models.CopyTradeRequest) {
	follow, err := s.store.GetFollow(ctx, req.FollowerID, req.LeaderAddress)
	if err != nil {
		s.reportError(req, fmt.Errorf("scheduler: follow lookup: %w", err))
		return
	}
	if follow == nil || !follow.Settings.Enabled {
		log.Printf("[CopyScheduler] Dropping pending copy for %s: follow removed or disabled",
			req.FollowerID)
		return
	}

	now := time.Now().UTC()
	record := models.CopiedTrade{
		FollowerID:      req.FollowerID,
		OriginalTradeID: req.OriginalTradeID,
		LeaderAddress:   req.LeaderAddress,
		MarketID:        req.MarketID,
		OutcomeIndex:    req.OutcomeIndex,
		Side:            req.Side,
		AmountUsd:       req.AmountUsd,
		Status:          "submitted",
		SubmittedAt:     &now,
	}
	if _, err := s.store.CreateCopiedTrade(ctx, record); err != nil {
		s.reportError(req, fmt.Errorf("scheduler: submit: %w", err))
		return
	}

	log.Printf("[CopyScheduler] Submitted copy: follower=%s leader=%s market=%s %s $%.2f",
		req.FollowerID, utils.ShortAddress(req.LeaderAddress), req.MarketID, req.Side, req.AmountUsd)
}

func (s *CopyScheduler) reportError(req models.CopyTradeRequest, err error) {
	log.Printf("[CopyScheduler] %v", err)
	s.bus.Publish(EventError, ErrorEvent{
		LeaderAddress: req.LeaderAddress,
		FollowerID:    req.FollowerID,
		Err:           err,
	})
}
