package service

import (
	"context"
	"time"

	"stock-service/internal/models"
)

// StockCache is the regular-channel slice of the atomic stock store,
// satisfied by *redisclient.Client.
type StockCache interface {
	ReserveStock(ctx context.Context, orderID, productID, variantID string, quantity int, ttl time.Duration) (int, error)
	ConfirmReservation(ctx context.Context, orderID, productID, variantID string) error
	CancelReservation(ctx context.Context, orderID, productID, variantID string) (int, error)
	GetStock(ctx context.Context, productID, variantID string) (int, error)
	SetStock(ctx context.Context, productID, variantID string, stock int) error
	SetStockNX(ctx context.Context, productID, variantID string, stock int) (bool, error)
	IncrementStock(ctx context.Context, productID, variantID string, quantity int) error
}

// FlashSaleCache is the flash-sale channel slice of the atomic stock store,
// satisfied by *redisclient.Client.
type FlashSaleCache interface {
	ReserveFlashSaleStock(ctx context.Context, orderID, productID, variantID, userID string, quantity, limit int, ttl time.Duration) (int, error)
	CancelFlashSaleReservation(ctx context.Context, orderID, productID, variantID, userID string, restoreStock bool) (int, error)
	ConfirmFlashSaleReservation(ctx context.Context, orderID, productID, variantID string) error
	GetFlashSaleStock(ctx context.Context, productID, variantID string) (int, error)
	SetFlashSaleStockNX(ctx context.Context, productID, variantID string, stock int, ttl time.Duration) (bool, error)
	IncrementFlashSaleStock(ctx context.Context, productID, variantID string, quantity int) error
}

// Locker is the stampede guard used for single-flight cache warm-up.
type Locker interface {
	WithLock(ctx context.Context, key string, wait, ttl time.Duration, fn func(ctx context.Context) error) error
}

// StockReader is the durable-store slice the reservation engine needs for
// warm-up and administrative stock writes.
type StockReader interface {
	GetVariantStock(ctx context.Context, productID, variantID string) (int, error)
	ListVariantStocks(ctx context.Context) ([]models.VariantStock, error)
	SetVariantStock(ctx context.Context, productID, variantID string, stock int) error
}

// FlashSaleStore is the durable-store slice behind sessions, registrations
// and the approval transaction.
type FlashSaleStore interface {
	CreateSession(ctx context.Context, session *models.FlashSaleSession) error
	GetSessionByID(ctx context.Context, id string) (*models.FlashSaleSession, error)
	UpdateSessionStatus(ctx context.Context, id, status string) error
	ListSessionsByStatus(ctx context.Context, status string) ([]models.FlashSaleSession, error)
	ListSessions(ctx context.Context) ([]models.FlashSaleSession, error)
	ListOpenOrUpcomingSessions(ctx context.Context, now, until time.Time) ([]models.FlashSaleSession, error)
	DeleteSession(ctx context.Context, id string) error

	CreateRegistration(ctx context.Context, reg *models.FlashSaleRegistration) error
	GetRegistrationByID(ctx context.Context, id string) (*models.FlashSaleRegistration, error)
	ListRegistrationsBySession(ctx context.Context, sessionID, status string) ([]models.FlashSaleRegistration, error)
	ListApprovedRegistrationsByProduct(ctx context.Context, productID string) ([]models.FlashSaleRegistration, error)
	ListRegistrationsByShop(ctx context.Context, shopID string) ([]models.FlashSaleRegistration, error)
	ApproveRegistration(ctx context.Context, reg *models.FlashSaleRegistration) (map[string]int, error)
	RejectRegistration(ctx context.Context, id, reason string) error
}

// DeltaScheduler is the write-behind persister from the hot path's point of
// view: scheduling never blocks and never fails the caller.
type DeltaScheduler interface {
	ScheduleDelta(delta models.StockDelta)
}

// Publisher pushes stock/flash-sale change notifications to downstream
// caches and order orchestration.
type Publisher interface {
	PublishStockChanged(ctx context.Context, productID string) error
	PublishFlashSaleStatus(ctx context.Context, reg *models.FlashSaleRegistration, status, reason string) error
}
