package redisclient

import (
	"fmt"
	"strings"
	"time"
)

// Cache key space. Regular counters live forever; flash-sale counters carry
// a TTL bounded by their session, reservations carry the reservation TTL.
//
//	stock:{productId}:{variantId}                         -> int
//	reserve:{orderId}:{productId}:{variantId}             -> int, TTL
//	flashsale:stock:{productId}:{variantId}               -> int, TTL
//	flashsale:bought:{userId}:{productId}                 -> int, TTL
//	flashsale:reserve:{orderId}:{productId}:{variantId}   -> int, TTL
//	lock:{stockKey}                                       -> token, TTL
const (
	stockKeyPrefix        = "stock:"
	reserveKeyPrefix      = "reserve:"
	flashStockKeyPrefix   = "flashsale:stock:"
	flashBoughtKeyPrefix  = "flashsale:bought:"
	flashReserveKeyPrefix = "flashsale:reserve:"
	lockKeyPrefix         = "lock:"
)

// TTL policy.
const (
	// DefaultReserveTTL bounds how long an unconfirmed reservation holds stock.
	DefaultReserveTTL = 15 * time.Minute

	// FallbackSessionTTL is used for flash-sale counters when the owning
	// session end time is unavailable.
	FallbackSessionTTL = time.Hour

	// LapsedSessionTTL is used when the session has already ended but a
	// counter still has to exist briefly for in-flight cancels.
	LapsedSessionTTL = 5 * time.Minute

	// boughtKeyTTL bounds per-user purchase counters.
	boughtKeyTTL = 24 * time.Hour
)

// StockKey returns the regular stock counter key for a variant.
func StockKey(productID, variantID string) string {
	return stockKeyPrefix + productID + ":" + variantID
}

// ReserveKey returns the reservation record key for one order line.
func ReserveKey(orderID, productID, variantID string) string {
	return reserveKeyPrefix + orderID + ":" + productID + ":" + variantID
}

// FlashStockKey returns the flash-sale channel stock counter key.
func FlashStockKey(productID, variantID string) string {
	return flashStockKeyPrefix + productID + ":" + variantID
}

// FlashBoughtKey returns the per-user cumulative purchase counter key.
func FlashBoughtKey(userID, productID string) string {
	return flashBoughtKeyPrefix + userID + ":" + productID
}

// FlashReserveKey returns the flash-sale reservation record key.
func FlashReserveKey(orderID, productID, variantID string) string {
	return flashReserveKeyPrefix + orderID + ":" + productID + ":" + variantID
}

// LockKey returns the stampede-guard lock key protecting a stock key.
func LockKey(stockKey string) string {
	return lockKeyPrefix + stockKey
}

// ParseReserveKey splits a regular or flash-sale reservation key back into
// its parts. Used by the admin force-rollback path and the sweeper.
func ParseReserveKey(key string) (orderID, productID, variantID string, err error) {
	trimmed := key
	switch {
	case strings.HasPrefix(key, flashReserveKeyPrefix):
		trimmed = strings.TrimPrefix(key, flashReserveKeyPrefix)
	case strings.HasPrefix(key, reserveKeyPrefix):
		trimmed = strings.TrimPrefix(key, reserveKeyPrefix)
	default:
		return "", "", "", fmt.Errorf("not a reservation key: %s", key)
	}

	parts := strings.Split(trimmed, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed reservation key: %s", key)
	}
	return parts[0], parts[1], parts[2], nil
}

// IsFlashReserveKey reports whether key belongs to the flash-sale channel.
func IsFlashReserveKey(key string) bool {
	return strings.HasPrefix(key, flashReserveKeyPrefix)
}
