package models

import (
	"database/sql"
	"time"
)

// Variant represents one sellable variant (size/color) of a product.
// Stock here is the durable regular-inventory count; the Redis counter
// is the authoritative value on the hot path.
type Variant struct {
	ID        string    `db:"id" json:"id"`
	ProductID string    `db:"product_id" json:"product_id"`
	Name      string    `db:"name" json:"name"`
	Stock     int       `db:"stock" json:"stock"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// VariantStock is a flat (product, variant, stock) row used for cache warm-up.
type VariantStock struct {
	ProductID string `db:"product_id" json:"product_id"`
	VariantID string `db:"variant_id" json:"variant_id"`
	Stock     int    `db:"stock" json:"stock"`
}

// FlashSaleSession is a time-boxed container for flash-sale registrations.
type FlashSaleSession struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	StartTime   time.Time `db:"start_time" json:"start_time"`
	EndTime     time.Time `db:"end_time" json:"end_time"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// IsRunning reports whether the session is ACTIVE and now falls in [start, end).
func (s *FlashSaleSession) IsRunning(now time.Time) bool {
	return s.Status == SessionStatusActive &&
		!now.Before(s.StartTime) && now.Before(s.EndTime)
}

// FlashSaleRegistration is a shop's request to sell a product at a discount
// during one session. Approval deducts the pledged quantity from regular
// durable stock and seeds the flash-sale cache counters.
type FlashSaleRegistration struct {
	ID              string         `db:"id" json:"id"`
	SessionID       string         `db:"session_id" json:"session_id"`
	ProductID       string         `db:"product_id" json:"product_id"`
	ShopID          string         `db:"shop_id" json:"shop_id"`
	SalePrice       int64          `db:"sale_price" json:"sale_price"`
	QuantityLimit   int            `db:"quantity_limit" json:"quantity_limit"`
	SoldCount       int            `db:"sold_count" json:"sold_count"`
	Status          string         `db:"status" json:"status"`
	RejectionReason sql.NullString `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`

	Variants []FlashSaleVariant `db:"-" json:"variants,omitempty"`
}

// FlashSaleVariant holds the pledged per-variant quantity of a registration.
type FlashSaleVariant struct {
	ID             string `db:"id" json:"id"`
	RegistrationID string `db:"registration_id" json:"registration_id"`
	VariantID      string `db:"variant_id" json:"variant_id"`
	Quantity       int    `db:"quantity" json:"quantity"`
	SoldCount      int    `db:"sold_count" json:"sold_count"`
	SalePrice      int64  `db:"sale_price" json:"sale_price"`
}

// Registration statuses
const (
	RegistrationStatusPending  = "PENDING"
	RegistrationStatusApproved = "APPROVED"
	RegistrationStatusRejected = "REJECTED"
)

// Session statuses
const (
	SessionStatusInactive = "INACTIVE"
	SessionStatusActive   = "ACTIVE"
)

// Stock channels for write-behind deltas
const (
	ChannelRegular   = "regular"
	ChannelFlashSale = "flashsale"
)

// StockDelta is one write-behind mutation of durable stock. Quantity is
// signed: negative for a sale, positive for a restoration. IdempotencyKey,
// when set, guards the durable apply against duplicate scheduling.
type StockDelta struct {
	ProductID      string
	VariantID      string
	Quantity       int
	Channel        string
	IdempotencyKey string
}
