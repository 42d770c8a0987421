package worker

import (
	"context"
	"time"

	"stock-service/internal/redisclient"
	"stock-service/internal/util"

	"go.uber.org/zap"
)

// ReservationScanner enumerates live reservation records in the cache.
type ReservationScanner interface {
	ListReservationKeys(ctx context.Context) ([]string, error)
	ReservationTTL(ctx context.Context, key string) (time.Duration, error)
}

// CacheWarmer reseeds cold stock counters from the durable store.
type CacheWarmer interface {
	WarmUpCache(ctx context.Context) (int, error)
}

// Reconciler periodically audits the reservation key space. Expired
// reservations vanish on their own without crediting any counter, so the
// sweep's job is visibility: export how many holds are live, flag the ones
// close to expiry, and reseed counters that Redis evicted.
type Reconciler struct {
	scanner  ReservationScanner
	warmer   CacheWarmer
	logger   *zap.Logger
	interval time.Duration
}

// NewReconciler creates a reconciler sweeping at the given interval.
func NewReconciler(scanner ReservationScanner, warmer CacheWarmer, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reconciler{
		scanner:  scanner,
		warmer:   warmer,
		logger:   util.GetLogger(),
		interval: interval,
	}
}

// Start blocks until the context is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("Reconciler started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	keys, err := r.scanner.ListReservationKeys(ctx)
	if err != nil {
		r.logger.Error("Reservation sweep failed", zap.Error(err))
		return
	}
	util.ActiveReservations.Set(float64(len(keys)))

	expiringSoon := 0
	for _, key := range keys {
		ttl, err := r.scanner.ReservationTTL(ctx, key)
		if err != nil {
			continue
		}
		if ttl > 0 && ttl < r.interval {
			expiringSoon++
			orderID, productID, variantID, perr := redisclient.ParseReserveKey(key)
			if perr != nil {
				continue
			}
			r.logger.Warn("Reservation about to expire unconfirmed",
				zap.String("order_id", orderID),
				zap.String("product_id", productID),
				zap.String("variant_id", variantID),
				zap.Duration("ttl", ttl))
		}
	}

	seeded, err := r.warmer.WarmUpCache(ctx)
	if err != nil {
		r.logger.Error("Cache re-warm failed during sweep", zap.Error(err))
	} else if seeded > 0 {
		r.logger.Info("Re-seeded evicted stock counters", zap.Int("count", seeded))
	}

	if expiringSoon > 0 {
		r.logger.Info("Reservation sweep complete",
			zap.Int("active", len(keys)), zap.Int("expiring_soon", expiringSoon))
	}
}
