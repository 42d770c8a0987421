package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/redisclient"
	"stock-service/internal/store"
	"stock-service/internal/util"

	"go.uber.org/zap"
)

const warmupLockTTL = 5 * time.Second

// ReservationService owns the reserve/confirm/cancel state machine for
// regular inventory. The Redis counter is authoritative on the hot path;
// the durable store is mirrored asynchronously through the persister.
type ReservationService struct {
	cache     StockCache
	locks     Locker
	store     StockReader
	persister DeltaScheduler
	publisher Publisher
	logger    *zap.Logger

	reserveTTL time.Duration
	lockWait   time.Duration
}

// NewReservationService creates a new reservation service.
func NewReservationService(
	cache StockCache,
	locks Locker,
	stockStore StockReader,
	persister DeltaScheduler,
	publisher Publisher,
	reserveTTL time.Duration,
	lockWait time.Duration,
) *ReservationService {
	if reserveTTL <= 0 {
		reserveTTL = redisclient.DefaultReserveTTL
	}
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	return &ReservationService{
		cache:      cache,
		locks:      locks,
		store:      stockStore,
		persister:  persister,
		publisher:  publisher,
		logger:     util.GetLogger(),
		reserveTTL: reserveTTL,
		lockWait:   lockWait,
	}
}

// Reserve holds quantity units of a variant for an order. A cold cache
// triggers a single-flight warm-up from the durable store and one retry.
func (s *ReservationService) Reserve(ctx context.Context, orderID, productID, variantID string, quantity int) (*ReserveResult, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Reserve")
	defer span.End()

	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	start := time.Now()
	defer func() {
		util.ReserveLatency.Observe(time.Since(start).Seconds())
	}()

	for attempt := 0; attempt < 2; attempt++ {
		result, err := s.cache.ReserveStock(ctx, orderID, productID, variantID, quantity, s.reserveTTL)
		if err != nil {
			return nil, fmt.Errorf("reserve failed for %s:%s: %w", productID, variantID, err)
		}

		switch result {
		case redisclient.ReserveOK:
			util.ReservationsTotal.WithLabelValues(models.ChannelRegular, string(StatusReserved)).Inc()
			s.logger.Info("Stock reserved",
				zap.String("order_id", orderID),
				zap.String("product_id", productID),
				zap.String("variant_id", variantID),
				zap.Int("quantity", quantity))

			s.persister.ScheduleDelta(models.StockDelta{
				ProductID:      productID,
				VariantID:      variantID,
				Quantity:       -quantity,
				Channel:        models.ChannelRegular,
				IdempotencyKey: reserveIdempotencyKey(orderID, productID, variantID),
			})
			return reservedResult(quantity), nil

		case redisclient.ReserveInsufficient:
			util.ReservationsTotal.WithLabelValues(models.ChannelRegular, string(StatusInsufficientStock)).Inc()
			s.logger.Warn("Insufficient stock",
				zap.String("product_id", productID),
				zap.String("variant_id", variantID),
				zap.Int("quantity", quantity))
			return insufficientStockResult(), nil

		case redisclient.ReserveStockMissing:
			if attempt > 0 || !s.warmUpVariant(ctx, productID, variantID) {
				util.ReservationsTotal.WithLabelValues(models.ChannelRegular, string(StatusStockNotFound)).Inc()
				return stockNotFoundResult(), nil
			}
			// counter seeded, retry once

		default:
			return nil, fmt.Errorf("unexpected reserve script result %d", result)
		}
	}

	util.ReservationsTotal.WithLabelValues(models.ChannelRegular, string(StatusStockNotFound)).Inc()
	return stockNotFoundResult(), nil
}

// Confirm finalizes a reservation by discarding its record; the counter was
// already decremented at reserve time. Idempotent.
func (s *ReservationService) Confirm(ctx context.Context, orderID, productID, variantID string) error {
	ctx, span := util.StartSpan(ctx, "ReservationService.Confirm")
	defer span.End()

	if err := s.cache.ConfirmReservation(ctx, orderID, productID, variantID); err != nil {
		return fmt.Errorf("confirm failed for order %s: %w", orderID, err)
	}

	util.ReservationsConfirmedTotal.WithLabelValues(models.ChannelRegular).Inc()
	s.logger.Info("Reservation confirmed",
		zap.String("order_id", orderID),
		zap.String("product_id", productID),
		zap.String("variant_id", variantID))
	return nil
}

// Cancel rolls back a reservation: the counter is restored by exactly the
// reserved quantity and the record deleted, atomically. Returns 0 when the
// reservation no longer exists (confirmed, cancelled, or expired).
func (s *ReservationService) Cancel(ctx context.Context, orderID, productID, variantID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Cancel")
	defer span.End()

	rolledBack, err := s.cache.CancelReservation(ctx, orderID, productID, variantID)
	if err != nil {
		return 0, fmt.Errorf("cancel failed for order %s: %w", orderID, err)
	}

	if rolledBack > 0 {
		util.ReservationsCancelledTotal.WithLabelValues(models.ChannelRegular).Inc()
		s.persister.ScheduleDelta(models.StockDelta{
			ProductID:      productID,
			VariantID:      variantID,
			Quantity:       rolledBack,
			Channel:        models.ChannelRegular,
			IdempotencyKey: "cancel:" + reserveIdempotencyKey(orderID, productID, variantID),
		})
	}

	s.logger.Info("Reservation cancelled",
		zap.String("order_id", orderID),
		zap.String("product_id", productID),
		zap.String("variant_id", variantID),
		zap.Int("rolled_back", rolledBack))
	return rolledBack, nil
}

// GetStock reads the cached counter. redisclient.StockNotCached means the
// counter has not been warmed yet, which is a valid state, not an error.
func (s *ReservationService) GetStock(ctx context.Context, productID, variantID string) (int, error) {
	return s.cache.GetStock(ctx, productID, variantID)
}

// SetStock overwrites both the cached counter and the durable row.
// Administrative adjustments only; the hot path never calls this.
func (s *ReservationService) SetStock(ctx context.Context, productID, variantID string, stock int) error {
	if stock < 0 {
		return fmt.Errorf("stock must be non-negative, got %d", stock)
	}

	if err := s.store.SetVariantStock(ctx, productID, variantID, stock); err != nil {
		return fmt.Errorf("durable stock update failed: %w", err)
	}
	if err := s.cache.SetStock(ctx, productID, variantID, stock); err != nil {
		return fmt.Errorf("cache stock update failed: %w", err)
	}

	if err := s.publisher.PublishStockChanged(ctx, productID); err != nil {
		s.logger.Error("Failed to publish stock change", zap.Error(err))
	}
	return nil
}

// SetCachedStock refreshes only the cached counter. Used by the flash-sale
// approval path, where the durable deduction already happened in the
// approval transaction.
func (s *ReservationService) SetCachedStock(ctx context.Context, productID, variantID string, stock int) error {
	return s.cache.SetStock(ctx, productID, variantID, stock)
}

// RestoreStock credits the regular channel by quantity, outside any
// reservation. Used after cancelling an already-confirmed order and as the
// fallback branch when a flash-sale session has ended.
func (s *ReservationService) RestoreStock(ctx context.Context, productID, variantID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	if err := s.cache.IncrementStock(ctx, productID, variantID, quantity); err != nil {
		return fmt.Errorf("stock restore failed: %w", err)
	}

	s.persister.ScheduleDelta(models.StockDelta{
		ProductID: productID,
		VariantID: variantID,
		Quantity:  quantity,
		Channel:   models.ChannelRegular,
	})
	return nil
}

// WarmUpCache seeds the regular counter for every known variant, skipping
// counters that already exist. Runs at boot and from the sweeper.
func (s *ReservationService) WarmUpCache(ctx context.Context) (int, error) {
	rows, err := s.store.ListVariantStocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("warm-up listing failed: %w", err)
	}

	seeded := 0
	for _, row := range rows {
		set, err := s.cache.SetStockNX(ctx, row.ProductID, row.VariantID, row.Stock)
		if err != nil {
			s.logger.Error("Warm-up write failed",
				zap.String("product_id", row.ProductID),
				zap.String("variant_id", row.VariantID),
				zap.Error(err))
			continue
		}
		if set {
			seeded++
		}
	}

	util.WarmupsTotal.WithLabelValues(models.ChannelRegular, "bulk").Add(float64(seeded))
	s.logger.Info("Stock cache warm-up complete",
		zap.Int("variants", len(rows)),
		zap.Int("seeded", seeded))
	return seeded, nil
}

// ForceRollback cancels a reservation identified by its raw cache key.
// Admin recovery path for stuck regular reservations; flash-sale keys are
// rejected because their rollback needs the purchasing user.
func (s *ReservationService) ForceRollback(ctx context.Context, reserveKey string) (int, error) {
	if redisclient.IsFlashReserveKey(reserveKey) {
		return 0, fmt.Errorf("flash-sale reservation %s requires the flash-sale cancel path", reserveKey)
	}

	orderID, productID, variantID, err := redisclient.ParseReserveKey(reserveKey)
	if err != nil {
		return 0, err
	}
	return s.Cancel(ctx, orderID, productID, variantID)
}

// warmUpVariant loads the durable count for one variant into the cache,
// single-flight across concurrent callers. Returns true when a retry is
// worthwhile: either the counter was seeded, or the lock timed out and
// another caller may have seeded it.
func (s *ReservationService) warmUpVariant(ctx context.Context, productID, variantID string) bool {
	lockKey := redisclient.LockKey(redisclient.StockKey(productID, variantID))

	err := s.locks.WithLock(ctx, lockKey, s.lockWait, warmupLockTTL, func(ctx context.Context) error {
		// double-check inside the lock
		current, err := s.cache.GetStock(ctx, productID, variantID)
		if err == nil && current != redisclient.StockNotCached {
			return nil
		}

		stock, err := s.store.GetVariantStock(ctx, productID, variantID)
		if err != nil {
			return err
		}

		if _, err := s.cache.SetStockNX(ctx, productID, variantID, stock); err != nil {
			return err
		}

		util.WarmupsTotal.WithLabelValues(models.ChannelRegular, "miss").Inc()
		s.logger.Info("Warmed up stock counter",
			zap.String("product_id", productID),
			zap.String("variant_id", variantID),
			zap.Int("stock", stock))
		return nil
	})

	if err == nil {
		return true
	}
	if errors.Is(err, redisclient.ErrLockTimeout) {
		// Best effort: another holder is warming the key. The retry either
		// finds the counter or fails clean with STOCK_NOT_FOUND.
		util.LockTimeoutsTotal.Inc()
		s.logger.Warn("Warm-up lock wait timed out",
			zap.String("product_id", productID),
			zap.String("variant_id", variantID))
		return true
	}
	if errors.Is(err, store.ErrVariantNotFound) {
		return false
	}

	s.logger.Error("Warm-up failed",
		zap.String("product_id", productID),
		zap.String("variant_id", variantID),
		zap.Error(err))
	return false
}

func reserveIdempotencyKey(orderID, productID, variantID string) string {
	return orderID + ":" + productID + ":" + variantID
}
