package models

import "time"

// Event types
const (
	EventTypeOrderCompleted    = "ORDER_COMPLETED"
	EventTypeOrderCancelled    = "ORDER_CANCELLED"
	EventTypeStockChanged      = "STOCK_CHANGED"
	EventTypeFlashSaleApproved = "FLASH_SALE_APPROVED"
	EventTypeFlashSaleRejected = "FLASH_SALE_REJECTED"
	EventTypeOrderCompensation = "ORDER_COMPENSATION"
)

// Compensation reasons
const (
	CompensationReasonInsufficientStock = "INSUFFICIENT_STOCK"
	CompensationReasonStockNotFound     = "STOCK_NOT_FOUND"
	CompensationReasonReservationLost   = "RESERVATION_LOST"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderLine is one reserved line item referenced by order lifecycle events.
type OrderLine struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	FlashSale bool   `json:"flash_sale"`
}

// OrderCompletedEvent is consumed when checkout finishes successfully;
// it drives Confirm on every reserved line.
type OrderCompletedEvent struct {
	BaseEvent
	OrderID string      `json:"order_id"`
	UserID  string      `json:"user_id"`
	Items   []OrderLine `json:"items"`
}

// OrderCancelledEvent is consumed when checkout aborts or the order is
// cancelled later; it drives Cancel (and stock restoration) per line.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID string      `json:"order_id"`
	UserID  string      `json:"user_id"`
	Reason  string      `json:"reason,omitempty"`
	Items   []OrderLine `json:"items"`
}

// StockChangedEvent signals downstream caches that a product's stock moved.
type StockChangedEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
}

// FlashSaleStatusEvent is published when a registration is approved or rejected.
type FlashSaleStatusEvent struct {
	BaseEvent
	RegistrationID string `json:"registration_id"`
	SessionID      string `json:"session_id"`
	ProductID      string `json:"product_id"`
	ShopID         string `json:"shop_id"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
}

// OrderCompensationEvent is published when a cancel finds no reservation
// left to roll back, so order orchestration can reconcile on its side.
type OrderCompensationEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}
