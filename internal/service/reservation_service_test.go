package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"stock-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReservationService(cache *memCache, durable map[string]int) (*ReservationService, *memPersister) {
	persister := &memPersister{}
	svc := NewReservationService(
		cache, &memLocker{}, newMemStockReader(durable), persister, &memPublisher{},
		time.Minute, time.Second)
	return svc, persister
}

func TestReserveDecrementsStockAndSchedulesDelta(t *testing.T) {
	cache := newMemCache()
	cache.stock["p1:v1"] = 10
	svc, persister := newTestReservationService(cache, nil)

	result, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 3)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StatusReserved, result.Status)
	assert.Equal(t, 3, result.ReservedQuantity)
	assert.Equal(t, 7, cache.stock["p1:v1"])

	deltas := persister.all()
	require.Len(t, deltas, 1)
	assert.Equal(t, -3, deltas[0].Quantity)
	assert.Equal(t, models.ChannelRegular, deltas[0].Channel)
	assert.Equal(t, "o1:p1:v1", deltas[0].IdempotencyKey)
}

func TestReserveInsufficientStock(t *testing.T) {
	cache := newMemCache()
	cache.stock["p1:v1"] = 2
	svc, persister := newTestReservationService(cache, nil)

	result, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 5)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, StatusInsufficientStock, result.Status)
	assert.Equal(t, 2, cache.stock["p1:v1"], "counter must be untouched")
	assert.Empty(t, persister.all())
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	svc, _ := newTestReservationService(newMemCache(), nil)

	_, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 0)
	assert.Error(t, err)

	_, err = svc.Reserve(context.Background(), "o1", "p1", "v1", -4)
	assert.Error(t, err)
}

func TestReserveWarmsUpColdCacheAndRetries(t *testing.T) {
	cache := newMemCache()
	svc, _ := newTestReservationService(cache, map[string]int{"p1:v1": 20})

	result, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 5)
	require.NoError(t, err)

	assert.Equal(t, StatusReserved, result.Status)
	assert.Equal(t, 15, cache.stock["p1:v1"])
}

func TestReserveLockTimeoutOnColdCacheFailsClean(t *testing.T) {
	cache := newMemCache()
	svc, persister := newTestReservationService(cache, map[string]int{"p1:v1": 20})
	svc.locks = &timeoutLocker{}

	result, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 5)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, StatusStockNotFound, result.Status)
	assert.NotContains(t, cache.stock, "p1:v1", "timed-out warm-up must not seed the counter")
	assert.Empty(t, persister.all())
}

func TestReserveLockTimeoutAfterCompetingWarmUp(t *testing.T) {
	cache := newMemCache()
	svc, persister := newTestReservationService(cache, map[string]int{"p1:v1": 20})
	svc.locks = &timeoutLocker{seed: func(ctx context.Context) {
		cache.SetStockNX(ctx, "p1", "v1", 20)
	}}

	result, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 5)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StatusReserved, result.Status)
	assert.Equal(t, 15, cache.stock["p1:v1"])
	require.Len(t, persister.all(), 1)
}

func TestReserveUnknownVariant(t *testing.T) {
	svc, _ := newTestReservationService(newMemCache(), nil)

	result, err := svc.Reserve(context.Background(), "o1", "p1", "ghost", 1)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, StatusStockNotFound, result.Status)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	cache := newMemCache()
	cache.stock["p1:v1"] = 10
	svc, _ := newTestReservationService(cache, nil)

	results := make([]*ReserveResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := svc.Reserve(context.Background(), "o"+string(rune('1'+i)), "p1", "v1", 6)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	reserved := 0
	for _, r := range results {
		if r.Status == StatusReserved {
			reserved++
		} else {
			assert.Equal(t, StatusInsufficientStock, r.Status)
		}
	}
	assert.Equal(t, 1, reserved, "exactly one of two competing 6-unit holds fits in 10")
	assert.Equal(t, 4, cache.stock["p1:v1"])
}

func TestCancelRestoresReservedQuantity(t *testing.T) {
	cache := newMemCache()
	cache.stock["p1:v1"] = 10
	svc, persister := newTestReservationService(cache, nil)

	_, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 4)
	require.NoError(t, err)
	require.Equal(t, 6, cache.stock["p1:v1"])

	rolledBack, err := svc.Cancel(context.Background(), "o1", "p1", "v1")
	require.NoError(t, err)

	assert.Equal(t, 4, rolledBack)
	assert.Equal(t, 10, cache.stock["p1:v1"])

	deltas := persister.all()
	require.Len(t, deltas, 2)
	assert.Equal(t, 4, deltas[1].Quantity)
	assert.Equal(t, "cancel:o1:p1:v1", deltas[1].IdempotencyKey)
}

func TestCancelAfterConfirmIsNoOp(t *testing.T) {
	cache := newMemCache()
	cache.stock["p1:v1"] = 10
	svc, _ := newTestReservationService(cache, nil)

	_, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 4)
	require.NoError(t, err)

	require.NoError(t, svc.Confirm(context.Background(), "o1", "p1", "v1"))

	rolledBack, err := svc.Cancel(context.Background(), "o1", "p1", "v1")
	require.NoError(t, err)

	assert.Equal(t, 0, rolledBack)
	assert.Equal(t, 6, cache.stock["p1:v1"], "confirmed units stay sold")
}

func TestConfirmIsIdempotent(t *testing.T) {
	cache := newMemCache()
	cache.stock["p1:v1"] = 10
	svc, _ := newTestReservationService(cache, nil)

	_, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 2)
	require.NoError(t, err)

	require.NoError(t, svc.Confirm(context.Background(), "o1", "p1", "v1"))
	require.NoError(t, svc.Confirm(context.Background(), "o1", "p1", "v1"))
	assert.Equal(t, 8, cache.stock["p1:v1"])
}

func TestWarmUpCacheIsNonDestructive(t *testing.T) {
	cache := newMemCache()
	cache.stock["p1:v1"] = 3 // live counter with in-flight sales
	svc, _ := newTestReservationService(cache, map[string]int{
		"p1:v1": 50,
		"p2:v9": 7,
	})

	seeded, err := svc.WarmUpCache(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, seeded, "only the cold key p2:v9 is seeded")
	assert.Equal(t, 3, cache.stock["p1:v1"], "warm key keeps its live value")
	assert.Equal(t, 7, cache.stock["p2:v9"])
}

func TestRestoreStockCreditsCounterAndDurable(t *testing.T) {
	cache := newMemCache()
	cache.stock["p1:v1"] = 5
	svc, persister := newTestReservationService(cache, nil)

	require.NoError(t, svc.RestoreStock(context.Background(), "p1", "v1", 3))

	assert.Equal(t, 8, cache.stock["p1:v1"])
	deltas := persister.all()
	require.Len(t, deltas, 1)
	assert.Equal(t, 3, deltas[0].Quantity)
	assert.Equal(t, models.ChannelRegular, deltas[0].Channel)
}

func TestForceRollbackByKey(t *testing.T) {
	cache := newMemCache()
	cache.stock["p1:v1"] = 10
	svc, _ := newTestReservationService(cache, nil)

	_, err := svc.Reserve(context.Background(), "o1", "p1", "v1", 4)
	require.NoError(t, err)

	rolledBack, err := svc.ForceRollback(context.Background(), "reserve:o1:p1:v1")
	require.NoError(t, err)

	assert.Equal(t, 4, rolledBack)
	assert.Equal(t, 10, cache.stock["p1:v1"])
}

func TestForceRollbackRejectsFlashSaleKeys(t *testing.T) {
	svc, _ := newTestReservationService(newMemCache(), nil)

	_, err := svc.ForceRollback(context.Background(), "flashsale:reserve:o1:p1:v1")
	assert.Error(t, err)
}
