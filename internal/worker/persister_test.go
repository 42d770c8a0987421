package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"stock-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memDeltaStore struct {
	mu      sync.Mutex
	regular map[string]int
	flash   map[string]int
}

func newMemDeltaStore() *memDeltaStore {
	return &memDeltaStore{
		regular: make(map[string]int),
		flash:   make(map[string]int),
	}
}

func (s *memDeltaStore) ApplyVariantStockDelta(ctx context.Context, productID, variantID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regular[productID+":"+variantID] += delta
	return nil
}

func (s *memDeltaStore) ApplyFlashSaleStockDelta(ctx context.Context, productID, variantID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flash[productID+":"+variantID] += delta
	return nil
}

func (s *memDeltaStore) regularDelta(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regular[key]
}

func (s *memDeltaStore) flashDelta(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flash[key]
}

type memClaims struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newMemClaims() *memClaims {
	return &memClaims{claimed: make(map[string]bool)}
}

func (c *memClaims) ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimed[key] {
		return false, nil
	}
	c.claimed[key] = true
	return true, nil
}

func TestPersisterAppliesDeltasPerChannel(t *testing.T) {
	store := newMemDeltaStore()
	p := NewPersister(store, newMemClaims(), 2, 16)
	p.Start(context.Background())

	p.ScheduleDelta(models.StockDelta{ProductID: "p1", VariantID: "v1", Quantity: -3, Channel: models.ChannelRegular})
	p.ScheduleDelta(models.StockDelta{ProductID: "p1", VariantID: "v1", Quantity: -2, Channel: models.ChannelFlashSale})
	p.Stop()

	assert.Equal(t, -3, store.regularDelta("p1:v1"))
	assert.Equal(t, -2, store.flashDelta("p1:v1"))
}

func TestPersisterSkipsDuplicateIdempotencyKeys(t *testing.T) {
	store := newMemDeltaStore()
	p := NewPersister(store, newMemClaims(), 1, 16)
	p.Start(context.Background())

	delta := models.StockDelta{
		ProductID:      "p1",
		VariantID:      "v1",
		Quantity:       -5,
		Channel:        models.ChannelRegular,
		IdempotencyKey: "o1:p1:v1",
	}
	p.ScheduleDelta(delta)
	p.ScheduleDelta(delta)
	p.Stop()

	assert.Equal(t, -5, store.regularDelta("p1:v1"), "duplicate delta must apply once")
}

func TestPersisterDropsWhenQueueFull(t *testing.T) {
	store := newMemDeltaStore()
	// No workers started: nothing drains the queue.
	p := NewPersister(store, newMemClaims(), 1, 2)

	for i := 0; i < 5; i++ {
		p.ScheduleDelta(models.StockDelta{ProductID: "p1", VariantID: "v1", Quantity: -1, Channel: models.ChannelRegular})
	}
	require.Len(t, p.jobs, 2, "overflow beyond capacity is dropped, not blocked on")

	p.Start(context.Background())
	p.Stop()
	assert.Equal(t, -2, store.regularDelta("p1:v1"))
}

func TestPersisterStopDrainsQueuedDeltas(t *testing.T) {
	store := newMemDeltaStore()
	p := NewPersister(store, newMemClaims(), 4, 64)
	p.Start(context.Background())

	for i := 0; i < 20; i++ {
		p.ScheduleDelta(models.StockDelta{ProductID: "p1", VariantID: "v1", Quantity: -1, Channel: models.ChannelRegular})
	}
	p.Stop()

	assert.Equal(t, -20, store.regularDelta("p1:v1"))
}
