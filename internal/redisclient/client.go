package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/cancel_reservation.lua
var cancelReservationScript string

//go:embed scripts/flashsale_reserve.lua
var flashReserveScript string

//go:embed scripts/flashsale_cancel.lua
var flashCancelScript string

// Script result sentinels shared by the reserve scripts.
const (
	ReserveOK            = 1
	ReserveInsufficient  = 0
	ReserveStockMissing  = -1
	ReserveLimitExceeded = -2
)

// StockNotCached is returned by counter lookups when the key is absent.
// Absence is a frequent, valid state (cold cache), not an error.
const StockNotCached = -1

// Client is the atomic stock store. Every mutation of a counter goes
// through a Lua script so check-then-decrement never interleaves.
type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	cancelScript  *redis.Script
	flashReserve  *redis.Script
	flashCancel   *redis.Script
}

// NewClient connects to Redis and prepares the Lua scripts.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		cancelScript:  redis.NewScript(cancelReservationScript),
		flashReserve:  redis.NewScript(flashReserveScript),
		flashCancel:   redis.NewScript(flashCancelScript),
	}, nil
}

// GetClient returns the underlying Redis client.
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// ReserveStock atomically decrements the regular counter and writes the
// reservation record with a TTL. Returns one of the Reserve* sentinels.
func (c *Client) ReserveStock(ctx context.Context, orderID, productID, variantID string, quantity int, ttl time.Duration) (int, error) {
	keys := []string{
		StockKey(productID, variantID),
		ReserveKey(orderID, productID, variantID),
	}

	result, err := c.reserveScript.Run(ctx, c.rdb, keys, quantity, int(ttl.Seconds())).Int()
	if err != nil {
		return 0, fmt.Errorf("reserve script failed: %w", err)
	}
	return result, nil
}

// ConfirmReservation deletes the reservation record. The counter was
// already decremented at reserve time. Deleting an absent key is a no-op.
func (c *Client) ConfirmReservation(ctx context.Context, orderID, productID, variantID string) error {
	return c.rdb.Del(ctx, ReserveKey(orderID, productID, variantID)).Err()
}

// CancelReservation restores the reserved quantity to the regular counter
// and deletes the record in one atomic step. Returns the rolled-back
// quantity, 0 when the reservation no longer exists.
func (c *Client) CancelReservation(ctx context.Context, orderID, productID, variantID string) (int, error) {
	keys := []string{
		StockKey(productID, variantID),
		ReserveKey(orderID, productID, variantID),
	}

	rolledBack, err := c.cancelScript.Run(ctx, c.rdb, keys).Int()
	if err != nil {
		return 0, fmt.Errorf("cancel script failed: %w", err)
	}
	return rolledBack, nil
}

// GetStock reads the regular counter. Returns StockNotCached when absent.
func (c *Client) GetStock(ctx context.Context, productID, variantID string) (int, error) {
	return c.getCounter(ctx, StockKey(productID, variantID))
}

// SetStock unconditionally overwrites the regular counter. Used by
// administrative adjustments and the approval path.
func (c *Client) SetStock(ctx context.Context, productID, variantID string, stock int) error {
	return c.rdb.Set(ctx, StockKey(productID, variantID), stock, 0).Err()
}

// SetStockNX writes the regular counter only if it does not exist yet.
// Warm-up must never clobber a counter with in-flight sales on it.
func (c *Client) SetStockNX(ctx context.Context, productID, variantID string, stock int) (bool, error) {
	return c.rdb.SetNX(ctx, StockKey(productID, variantID), stock, 0).Result()
}

// IncrementStock credits the regular counter. Used for post-confirm stock
// restoration where no reservation record remains to cancel.
func (c *Client) IncrementStock(ctx context.Context, productID, variantID string, quantity int) error {
	return c.rdb.IncrBy(ctx, StockKey(productID, variantID), int64(quantity)).Err()
}

// ReserveFlashSaleStock is ReserveStock for the flash-sale channel. The
// script additionally enforces the per-user cumulative cap (limit 0 =
// unlimited) and mutates the bought counter in the same atomic step.
func (c *Client) ReserveFlashSaleStock(ctx context.Context, orderID, productID, variantID, userID string, quantity, limit int, ttl time.Duration) (int, error) {
	keys := []string{
		FlashStockKey(productID, variantID),
		FlashBoughtKey(userID, productID),
		FlashReserveKey(orderID, productID, variantID),
	}

	result, err := c.flashReserve.Run(ctx, c.rdb, keys,
		quantity, limit, int(ttl.Seconds()), int(boughtKeyTTL.Seconds())).Int()
	if err != nil {
		return 0, fmt.Errorf("flash-sale reserve script failed: %w", err)
	}
	return result, nil
}

// CancelFlashSaleReservation rolls back a flash-sale reservation. The
// bought counter is always decremented; the stock counter is credited only
// when restoreStock is set, since a lapsed session must restore to regular
// inventory instead. Returns the rolled-back quantity, 0 when absent.
func (c *Client) CancelFlashSaleReservation(ctx context.Context, orderID, productID, variantID, userID string, restoreStock bool) (int, error) {
	keys := []string{
		FlashStockKey(productID, variantID),
		FlashBoughtKey(userID, productID),
		FlashReserveKey(orderID, productID, variantID),
	}

	restore := 0
	if restoreStock {
		restore = 1
	}

	rolledBack, err := c.flashCancel.Run(ctx, c.rdb, keys, restore).Int()
	if err != nil {
		return 0, fmt.Errorf("flash-sale cancel script failed: %w", err)
	}
	return rolledBack, nil
}

// ConfirmFlashSaleReservation deletes the flash-sale reservation record.
func (c *Client) ConfirmFlashSaleReservation(ctx context.Context, orderID, productID, variantID string) error {
	return c.rdb.Del(ctx, FlashReserveKey(orderID, productID, variantID)).Err()
}

// GetFlashSaleStock reads the flash-sale counter. StockNotCached when absent.
func (c *Client) GetFlashSaleStock(ctx context.Context, productID, variantID string) (int, error) {
	return c.getCounter(ctx, FlashStockKey(productID, variantID))
}

// SetFlashSaleStockNX seeds the flash-sale counter only if absent, with a
// TTL derived from the owning session's remaining lifetime.
func (c *Client) SetFlashSaleStockNX(ctx context.Context, productID, variantID string, stock int, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, FlashStockKey(productID, variantID), stock, ttl).Result()
}

// IncrementFlashSaleStock credits the flash-sale counter without touching
// its TTL.
func (c *Client) IncrementFlashSaleStock(ctx context.Context, productID, variantID string, quantity int) error {
	return c.rdb.IncrBy(ctx, FlashStockKey(productID, variantID), int64(quantity)).Err()
}

// ListReservationKeys scans both reservation key spaces. Used by the
// reconciliation sweeper, never by the hot path.
func (c *Client) ListReservationKeys(ctx context.Context) ([]string, error) {
	var keys []string
	for _, pattern := range []string{reserveKeyPrefix + "*", flashReserveKeyPrefix + "*"} {
		iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("reservation scan failed: %w", err)
		}
	}
	return keys, nil
}

// ReservationTTL returns the remaining TTL of a reservation key.
func (c *Client) ReservationTTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

// ClaimIdempotency marks key as processed. Returns false when a previous
// claim exists, so durable writes are applied at most once per key.
func (c *Client) ClaimIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "idempotency:"+key, 1, ttl).Result()
}

func (c *Client) getCounter(ctx context.Context, key string) (int, error) {
	value, err := c.rdb.Get(ctx, key).Int()
	if err == redis.Nil {
		return StockNotCached, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter read failed: %w", err)
	}
	return value, nil
}
