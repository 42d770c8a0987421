package redisclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "stock:p1:v1", StockKey("p1", "v1"))
	assert.Equal(t, "reserve:o1:p1:v1", ReserveKey("o1", "p1", "v1"))
	assert.Equal(t, "flashsale:stock:p1:v1", FlashStockKey("p1", "v1"))
	assert.Equal(t, "flashsale:bought:u1:p1", FlashBoughtKey("u1", "p1"))
	assert.Equal(t, "flashsale:reserve:o1:p1:v1", FlashReserveKey("o1", "p1", "v1"))
	assert.Equal(t, "lock:stock:p1:v1", LockKey(StockKey("p1", "v1")))
}

func TestParseReserveKey(t *testing.T) {
	orderID, productID, variantID, err := ParseReserveKey("reserve:o1:p1:v1")
	require.NoError(t, err)
	assert.Equal(t, "o1", orderID)
	assert.Equal(t, "p1", productID)
	assert.Equal(t, "v1", variantID)

	orderID, productID, variantID, err = ParseReserveKey("flashsale:reserve:o2:p2:v2")
	require.NoError(t, err)
	assert.Equal(t, "o2", orderID)
	assert.Equal(t, "p2", productID)
	assert.Equal(t, "v2", variantID)
}

func TestParseReserveKeyRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"stock:p1:v1",
		"reserve:o1:p1",
		"reserve:o1:p1:v1:extra",
		"reserve:::",
		"flashsale:stock:p1:v1",
	}
	for _, key := range cases {
		_, _, _, err := ParseReserveKey(key)
		assert.Error(t, err, "key %q must not parse", key)
	}
}

func TestIsFlashReserveKey(t *testing.T) {
	assert.True(t, IsFlashReserveKey("flashsale:reserve:o1:p1:v1"))
	assert.False(t, IsFlashReserveKey("reserve:o1:p1:v1"))
	assert.False(t, IsFlashReserveKey("flashsale:stock:p1:v1"))
}
