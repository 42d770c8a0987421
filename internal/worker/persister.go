package worker

import (
	"context"
	"sync"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/util"

	"go.uber.org/zap"
)

// DeltaStore applies stock deltas to the durable store.
type DeltaStore interface {
	ApplyVariantStockDelta(ctx context.Context, productID, variantID string, delta int) error
	ApplyFlashSaleStockDelta(ctx context.Context, productID, variantID string, delta int) error
}

// IdempotencyClaimer marks a delta's idempotency key as consumed. A false
// return means another apply already claimed it.
type IdempotencyClaimer interface {
	ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

const (
	defaultPersisterWorkers   = 4
	defaultPersisterQueueSize = 1024
	idempotencyClaimTTL       = 24 * time.Hour
	applyTimeout              = 10 * time.Second
)

// Persister drains reserved/cancelled stock deltas into the durable store
// in the background. The hot path never waits on it: scheduling is
// non-blocking and a full queue drops the delta. The reconciliation sweep
// and the restart warm-up bound the drift a dropped delta can cause.
type Persister struct {
	store  DeltaStore
	claims IdempotencyClaimer
	logger *zap.Logger

	jobs    chan models.StockDelta
	workers int
	wg      sync.WaitGroup
}

// NewPersister creates a persister with the given worker count and queue
// capacity. Zero or negative values fall back to defaults.
func NewPersister(store DeltaStore, claims IdempotencyClaimer, workers, queueSize int) *Persister {
	if workers <= 0 {
		workers = defaultPersisterWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultPersisterQueueSize
	}
	return &Persister{
		store:   store,
		claims:  claims,
		logger:  util.GetLogger(),
		jobs:    make(chan models.StockDelta, queueSize),
		workers: workers,
	}
}

// Start launches the worker pool. Workers exit when the context is
// cancelled or Stop closes the queue.
func (p *Persister) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
	p.logger.Info("Stock persister started",
		zap.Int("workers", p.workers), zap.Int("queue_size", cap(p.jobs)))
}

// Stop closes the queue and waits for in-flight deltas to finish.
func (p *Persister) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("Stock persister stopped")
}

// ScheduleDelta enqueues a delta without blocking. When the queue is full
// the delta is dropped and counted; durability catches up via reconciliation.
func (p *Persister) ScheduleDelta(delta models.StockDelta) {
	select {
	case p.jobs <- delta:
		util.PersisterJobsTotal.WithLabelValues(delta.Channel).Inc()
	default:
		util.PersisterDroppedTotal.Inc()
		p.logger.Warn("Persister queue full, dropping delta",
			zap.String("product_id", delta.ProductID),
			zap.String("variant_id", delta.VariantID),
			zap.Int("quantity", delta.Quantity),
			zap.String("channel", delta.Channel))
	}
}

func (p *Persister) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delta, ok := <-p.jobs:
			if !ok {
				return
			}
			p.apply(delta)
		}
	}
}

// apply is fire-and-forget: failures are logged and counted, never retried
// here. Each delta gets its own timeout so a slow database cannot wedge a
// worker past shutdown.
func (p *Persister) apply(delta models.StockDelta) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	if delta.IdempotencyKey != "" {
		claimed, err := p.claims.ClaimIdempotency(ctx, delta.IdempotencyKey, idempotencyClaimTTL)
		if err != nil {
			util.PersisterFailedTotal.Inc()
			p.logger.Error("Idempotency claim failed",
				zap.String("key", delta.IdempotencyKey), zap.Error(err))
			return
		}
		if !claimed {
			p.logger.Debug("Skipping already-applied delta",
				zap.String("key", delta.IdempotencyKey))
			return
		}
	}

	var err error
	switch delta.Channel {
	case models.ChannelFlashSale:
		err = p.store.ApplyFlashSaleStockDelta(ctx, delta.ProductID, delta.VariantID, delta.Quantity)
	default:
		err = p.store.ApplyVariantStockDelta(ctx, delta.ProductID, delta.VariantID, delta.Quantity)
	}
	if err != nil {
		util.PersisterFailedTotal.Inc()
		p.logger.Error("Failed to persist stock delta",
			zap.String("product_id", delta.ProductID),
			zap.String("variant_id", delta.VariantID),
			zap.Int("quantity", delta.Quantity),
			zap.String("channel", delta.Channel),
			zap.Error(err))
	}
}
