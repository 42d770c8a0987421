package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/redisclient"
	"stock-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FlashSaleService layers session-scoped stock pools, per-user purchase
// caps and event-driven warm-up on top of the reservation engine. Counter
// mutation goes through the same atomic primitives as regular stock.
type FlashSaleService struct {
	cache        FlashSaleCache
	locks        Locker
	store        FlashSaleStore
	reservations *ReservationService
	persister    DeltaScheduler
	publisher    Publisher
	logger       *zap.Logger

	reserveTTL time.Duration
	lockWait   time.Duration
	now        func() time.Time
}

// NewFlashSaleService creates a new flash-sale service.
func NewFlashSaleService(
	cache FlashSaleCache,
	locks Locker,
	flashStore FlashSaleStore,
	reservations *ReservationService,
	persister DeltaScheduler,
	publisher Publisher,
	reserveTTL time.Duration,
	lockWait time.Duration,
) *FlashSaleService {
	if reserveTTL <= 0 {
		reserveTTL = redisclient.DefaultReserveTTL
	}
	if lockWait <= 0 {
		lockWait = 2 * time.Second
	}
	return &FlashSaleService{
		cache:        cache,
		locks:        locks,
		store:        flashStore,
		reservations: reservations,
		persister:    persister,
		publisher:    publisher,
		logger:       util.GetLogger(),
		reserveTTL:   reserveTTL,
		lockWait:     lockWait,
		now:          time.Now,
	}
}

// --- Sessions ---

// CreateSession creates a new INACTIVE session.
func (s *FlashSaleService) CreateSession(ctx context.Context, name, description string, start, end time.Time) (*models.FlashSaleSession, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("session end %v must be after start %v", end, start)
	}

	session := &models.FlashSaleSession{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		StartTime:   start,
		EndTime:     end,
		Status:      models.SessionStatusInactive,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// ToggleSessionStatus flips a session between INACTIVE and ACTIVE. An
// activation warms up the session's approved registrations in the
// background so the first buyers do not all hit the durable store.
func (s *FlashSaleService) ToggleSessionStatus(ctx context.Context, sessionID string) (*models.FlashSaleSession, error) {
	session, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	next := models.SessionStatusActive
	if session.Status == models.SessionStatusActive {
		next = models.SessionStatusInactive
	}

	if err := s.store.UpdateSessionStatus(ctx, sessionID, next); err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}
	session.Status = next

	if next == models.SessionStatusActive {
		go func() {
			warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.WarmUpSession(warmCtx, sessionID); err != nil {
				s.logger.Error("Session warm-up failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}()
	}

	return session, nil
}

// DeleteSession removes a non-ACTIVE session.
func (s *FlashSaleService) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == models.SessionStatusActive {
		return fmt.Errorf("cannot delete an ACTIVE session, deactivate it first")
	}
	return s.store.DeleteSession(ctx, sessionID)
}

// GetActiveSession returns the session currently running, if any.
func (s *FlashSaleService) GetActiveSession(ctx context.Context) (*models.FlashSaleSession, error) {
	sessions, err := s.store.ListSessionsByStatus(ctx, models.SessionStatusActive)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range sessions {
		if sessions[i].IsRunning(now) {
			return &sessions[i], nil
		}
	}
	return nil, nil
}

// ListUpcomingSessions returns ACTIVE sessions that have not ended yet,
// ordered by start time.
func (s *FlashSaleService) ListUpcomingSessions(ctx context.Context) ([]models.FlashSaleSession, error) {
	sessions, err := s.store.ListSessionsByStatus(ctx, models.SessionStatusActive)
	if err != nil {
		return nil, err
	}

	now := s.now()
	upcoming := sessions[:0]
	for _, sess := range sessions {
		if sess.EndTime.After(now) {
			upcoming = append(upcoming, sess)
		}
	}
	return upcoming, nil
}

// ListSessions returns every session.
func (s *FlashSaleService) ListSessions(ctx context.Context) ([]models.FlashSaleSession, error) {
	return s.store.ListSessions(ctx)
}

// ExpirePastSessions deactivates ACTIVE sessions whose end time has passed.
// Called periodically by the scheduler.
func (s *FlashSaleService) ExpirePastSessions(ctx context.Context) error {
	sessions, err := s.store.ListSessionsByStatus(ctx, models.SessionStatusActive)
	if err != nil {
		return err
	}

	now := s.now()
	for _, sess := range sessions {
		if sess.EndTime.Before(now) {
			if err := s.store.UpdateSessionStatus(ctx, sess.ID, models.SessionStatusInactive); err != nil {
				s.logger.Error("Failed to expire session",
					zap.String("session_id", sess.ID), zap.Error(err))
				continue
			}
			s.logger.Info("Auto-expired flash-sale session",
				zap.String("session_id", sess.ID), zap.String("name", sess.Name))
		}
	}
	return nil
}

// --- Registrations ---

// RegistrationRequest is a shop's pledge of discounted stock for a session.
type RegistrationRequest struct {
	SessionID     string                       `json:"session_id" binding:"required"`
	ProductID     string                       `json:"product_id" binding:"required"`
	SalePrice     int64                        `json:"sale_price" binding:"required"`
	QuantityLimit int                          `json:"quantity_limit"`
	Variants      []RegistrationVariantRequest `json:"variants" binding:"required,min=1"`
}

// RegistrationVariantRequest pledges per-variant quantity and price.
type RegistrationVariantRequest struct {
	VariantID string `json:"variant_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	SalePrice int64  `json:"sale_price"`
}

// RegisterProduct files a PENDING registration against an ACTIVE session.
func (s *FlashSaleService) RegisterProduct(ctx context.Context, shopID string, req *RegistrationRequest) (*models.FlashSaleRegistration, error) {
	session, err := s.store.GetSessionByID(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusActive {
		return nil, fmt.Errorf("session %s is not open for registration", req.SessionID)
	}

	reg := &models.FlashSaleRegistration{
		ID:            uuid.New().String(),
		SessionID:     req.SessionID,
		ProductID:     req.ProductID,
		ShopID:        shopID,
		SalePrice:     req.SalePrice,
		QuantityLimit: req.QuantityLimit,
		Status:        models.RegistrationStatusPending,
	}
	for _, v := range req.Variants {
		reg.Variants = append(reg.Variants, models.FlashSaleVariant{
			ID:        uuid.New().String(),
			VariantID: v.VariantID,
			Quantity:  v.Quantity,
			SalePrice: v.SalePrice,
		})
	}

	if err := s.store.CreateRegistration(ctx, reg); err != nil {
		return nil, fmt.Errorf("failed to create registration: %w", err)
	}
	return reg, nil
}

// ApproveRegistration deducts the pledged quantities from regular durable
// stock (failing the approval if any variant falls short), refreshes the
// regular cache, notifies downstream systems, and seeds the flash-sale
// counters right away instead of waiting for the next scheduled warm-up.
func (s *FlashSaleService) ApproveRegistration(ctx context.Context, registrationID string) (*models.FlashSaleRegistration, error) {
	ctx, span := util.StartSpan(ctx, "FlashSaleService.ApproveRegistration")
	defer span.End()

	reg, err := s.store.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if reg.Status != models.RegistrationStatusPending {
		return nil, fmt.Errorf("registration %s is %s, only PENDING can be approved", registrationID, reg.Status)
	}

	remaining, err := s.store.ApproveRegistration(ctx, reg)
	if err != nil {
		return nil, fmt.Errorf("approval failed: %w", err)
	}
	reg.Status = models.RegistrationStatusApproved

	// The post-approval remaining values overwrite the regular counters, even
	// if a racing reserve decremented one first. The durable row still carries
	// that reserve's scheduled delta, so the counters reconverge on the next
	// warm-up.
	for variantID, stock := range remaining {
		if err := s.reservations.SetCachedStock(ctx, reg.ProductID, variantID, stock); err != nil {
			s.logger.Error("Failed to refresh regular cache after approval",
				zap.String("product_id", reg.ProductID),
				zap.String("variant_id", variantID),
				zap.Error(err))
		}
	}

	if err := s.publisher.PublishStockChanged(ctx, reg.ProductID); err != nil {
		s.logger.Error("Failed to publish stock change", zap.Error(err))
	}
	if err := s.publisher.PublishFlashSaleStatus(ctx, reg, models.RegistrationStatusApproved, ""); err != nil {
		s.logger.Error("Failed to publish approval event", zap.Error(err))
	}

	go func() {
		warmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.WarmUpSingle(warmCtx, reg); err != nil {
			s.logger.Error("Event-driven warm-up failed",
				zap.String("registration_id", reg.ID), zap.Error(err))
		}
	}()

	return reg, nil
}

// RejectRegistration marks the registration REJECTED and notifies the shop.
func (s *FlashSaleService) RejectRegistration(ctx context.Context, registrationID, reason string) (*models.FlashSaleRegistration, error) {
	reg, err := s.store.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		return nil, err
	}

	if err := s.store.RejectRegistration(ctx, registrationID, reason); err != nil {
		return nil, fmt.Errorf("rejection failed: %w", err)
	}
	reg.Status = models.RegistrationStatusRejected

	if err := s.publisher.PublishFlashSaleStatus(ctx, reg, models.RegistrationStatusRejected, reason); err != nil {
		s.logger.Error("Failed to publish rejection event", zap.Error(err))
	}
	return reg, nil
}

// ListRegistrationsBySession returns a session's registrations, optionally
// narrowed to one status.
func (s *FlashSaleService) ListRegistrationsBySession(ctx context.Context, sessionID, status string) ([]models.FlashSaleRegistration, error) {
	return s.store.ListRegistrationsBySession(ctx, sessionID, status)
}

// ListRegistrationsByShop returns a shop's registrations across sessions.
func (s *FlashSaleService) ListRegistrationsByShop(ctx context.Context, shopID string) ([]models.FlashSaleRegistration, error) {
	return s.store.ListRegistrationsByShop(ctx, shopID)
}

// FindActiveRegistration resolves the APPROVED registration currently
// applicable to a product: its session must be ACTIVE and now must fall in
// [start, end). Durable-store-backed; this is the single source of truth
// for "is a flash sale running for this product".
func (s *FlashSaleService) FindActiveRegistration(ctx context.Context, productID string) (*models.FlashSaleRegistration, *models.FlashSaleSession, error) {
	regs, err := s.store.ListApprovedRegistrationsByProduct(ctx, productID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	for i := range regs {
		session, err := s.store.GetSessionByID(ctx, regs[i].SessionID)
		if err != nil {
			continue
		}
		if session.IsRunning(now) {
			return &regs[i], session, nil
		}
	}
	return nil, nil, nil
}

// --- Warm-up ---

// WarmUpSession seeds the flash-sale counters of every APPROVED
// registration in the session. Set-if-absent only: overwriting an active
// counter would erase in-flight sales.
func (s *FlashSaleService) WarmUpSession(ctx context.Context, sessionID string) error {
	regs, err := s.store.ListRegistrationsBySession(ctx, sessionID, models.RegistrationStatusApproved)
	if err != nil {
		return err
	}

	for i := range regs {
		if err := s.WarmUpSingle(ctx, &regs[i]); err != nil {
			s.logger.Error("Registration warm-up failed",
				zap.String("registration_id", regs[i].ID), zap.Error(err))
		}
	}
	return nil
}

// WarmUpSingle seeds one registration's counters with TTL bounded by the
// remaining session lifetime.
func (s *FlashSaleService) WarmUpSingle(ctx context.Context, reg *models.FlashSaleRegistration) error {
	session, err := s.store.GetSessionByID(ctx, reg.SessionID)
	if err != nil {
		return err
	}

	ttl := session.EndTime.Sub(s.now())
	if ttl <= 0 {
		ttl = redisclient.FallbackSessionTTL
	}

	for _, v := range reg.Variants {
		available := v.Quantity - v.SoldCount
		if available < 0 {
			available = 0
		}
		set, err := s.cache.SetFlashSaleStockNX(ctx, reg.ProductID, v.VariantID, available, ttl)
		if err != nil {
			return fmt.Errorf("warm-up write failed for %s:%s: %w", reg.ProductID, v.VariantID, err)
		}
		if set {
			util.WarmupsTotal.WithLabelValues(models.ChannelFlashSale, "seed").Inc()
			s.logger.Info("Seeded flash-sale counter",
				zap.String("product_id", reg.ProductID),
				zap.String("variant_id", v.VariantID),
				zap.Int("stock", available))
		}
	}
	return nil
}

// PreloadUpcomingSessions warms every ACTIVE session running now or
// starting within the look-ahead window. Scheduler entry point.
func (s *FlashSaleService) PreloadUpcomingSessions(ctx context.Context, lookAhead time.Duration) error {
	now := s.now()
	sessions, err := s.store.ListOpenOrUpcomingSessions(ctx, now, now.Add(lookAhead))
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if err := s.WarmUpSession(ctx, sess.ID); err != nil {
			s.logger.Error("Preload warm-up failed",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
	return nil
}

// --- Reservations ---

// Reserve holds flash-sale stock for an order, enforcing the per-user
// cumulative cap inside the same atomic script as the decrement.
func (s *FlashSaleService) Reserve(ctx context.Context, orderID, productID, variantID, userID string, quantity int) (*ReserveResult, error) {
	ctx, span := util.StartSpan(ctx, "FlashSaleService.Reserve")
	defer span.End()

	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	reg, session, err := s.FindActiveRegistration(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("registration lookup failed: %w", err)
	}
	if reg == nil {
		util.ReservationsTotal.WithLabelValues(models.ChannelFlashSale, string(StatusStockNotFound)).Inc()
		return stockNotFoundResult(), nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		result, err := s.cache.ReserveFlashSaleStock(ctx, orderID, productID, variantID, userID,
			quantity, reg.QuantityLimit, s.reserveTTL)
		if err != nil {
			return nil, fmt.Errorf("flash-sale reserve failed for %s:%s: %w", productID, variantID, err)
		}

		switch result {
		case redisclient.ReserveOK:
			util.ReservationsTotal.WithLabelValues(models.ChannelFlashSale, string(StatusReserved)).Inc()
			s.logger.Info("Flash-sale stock reserved",
				zap.String("order_id", orderID),
				zap.String("product_id", productID),
				zap.String("variant_id", variantID),
				zap.String("user_id", userID),
				zap.Int("quantity", quantity))

			s.persister.ScheduleDelta(models.StockDelta{
				ProductID:      productID,
				VariantID:      variantID,
				Quantity:       -quantity,
				Channel:        models.ChannelFlashSale,
				IdempotencyKey: reserveIdempotencyKey(orderID, productID, variantID),
			})
			return reservedResult(quantity), nil

		case redisclient.ReserveInsufficient:
			util.ReservationsTotal.WithLabelValues(models.ChannelFlashSale, string(StatusInsufficientStock)).Inc()
			return insufficientStockResult(), nil

		case redisclient.ReserveLimitExceeded:
			util.CapBreachesTotal.Inc()
			util.ReservationsTotal.WithLabelValues(models.ChannelFlashSale, string(StatusLimitExceeded)).Inc()
			s.logger.Warn("Per-user purchase cap reached",
				zap.String("user_id", userID),
				zap.String("product_id", productID),
				zap.Int("limit", reg.QuantityLimit))
			return limitExceededResult(reg.QuantityLimit), nil

		case redisclient.ReserveStockMissing:
			if attempt > 0 || !s.warmUpFlashVariant(ctx, reg, session, variantID) {
				util.ReservationsTotal.WithLabelValues(models.ChannelFlashSale, string(StatusStockNotFound)).Inc()
				return stockNotFoundResult(), nil
			}

		default:
			return nil, fmt.Errorf("unexpected flash-sale reserve result %d", result)
		}
	}

	util.ReservationsTotal.WithLabelValues(models.ChannelFlashSale, string(StatusStockNotFound)).Inc()
	return stockNotFoundResult(), nil
}

// Cancel rolls back a flash-sale reservation. The flash-sale counter is
// only credited while the owning session is still running; otherwise the
// rolled-back units belong to regular inventory and restoredToFlashSale is
// false so the caller takes the explicit fallback branch.
func (s *FlashSaleService) Cancel(ctx context.Context, orderID, productID, variantID, userID string) (rolledBack int, restoredToFlashSale bool, err error) {
	ctx, span := util.StartSpan(ctx, "FlashSaleService.Cancel")
	defer span.End()

	reg, _, err := s.FindActiveRegistration(ctx, productID)
	if err != nil {
		return 0, false, fmt.Errorf("registration lookup failed: %w", err)
	}
	restore := reg != nil

	rolledBack, err = s.cache.CancelFlashSaleReservation(ctx, orderID, productID, variantID, userID, restore)
	if err != nil {
		return 0, false, fmt.Errorf("flash-sale cancel failed for order %s: %w", orderID, err)
	}
	if rolledBack == 0 {
		return 0, false, nil
	}

	util.ReservationsCancelledTotal.WithLabelValues(models.ChannelFlashSale).Inc()
	if restore {
		s.persister.ScheduleDelta(models.StockDelta{
			ProductID:      productID,
			VariantID:      variantID,
			Quantity:       rolledBack,
			Channel:        models.ChannelFlashSale,
			IdempotencyKey: "cancel:" + reserveIdempotencyKey(orderID, productID, variantID),
		})
	}

	s.logger.Info("Flash-sale reservation cancelled",
		zap.String("order_id", orderID),
		zap.String("product_id", productID),
		zap.String("variant_id", variantID),
		zap.Int("rolled_back", rolledBack),
		zap.Bool("restored_to_flash_sale", restore))
	return rolledBack, restore, nil
}

// Confirm discards a flash-sale reservation record. Idempotent.
func (s *FlashSaleService) Confirm(ctx context.Context, orderID, productID, variantID string) error {
	if err := s.cache.ConfirmFlashSaleReservation(ctx, orderID, productID, variantID); err != nil {
		return fmt.Errorf("flash-sale confirm failed for order %s: %w", orderID, err)
	}
	util.ReservationsConfirmedTotal.WithLabelValues(models.ChannelFlashSale).Inc()
	return nil
}

// RestoreStock routes a post-cancel restoration to the right channel: the
// flash-sale pool while its sale is running, regular inventory otherwise.
func (s *FlashSaleService) RestoreStock(ctx context.Context, productID, variantID string, quantity int) (restoredToFlashSale bool, err error) {
	if quantity <= 0 {
		return false, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	reg, _, err := s.FindActiveRegistration(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("registration lookup failed: %w", err)
	}

	if reg == nil {
		return false, s.reservations.RestoreStock(ctx, productID, variantID, quantity)
	}

	if err := s.cache.IncrementFlashSaleStock(ctx, productID, variantID, quantity); err != nil {
		return false, fmt.Errorf("flash-sale restore failed: %w", err)
	}
	s.persister.ScheduleDelta(models.StockDelta{
		ProductID: productID,
		VariantID: variantID,
		Quantity:  quantity,
		Channel:   models.ChannelFlashSale,
	})
	return true, nil
}

// GetStock reads the cached flash-sale counter for a variant.
func (s *FlashSaleService) GetStock(ctx context.Context, productID, variantID string) (int, error) {
	return s.cache.GetFlashSaleStock(ctx, productID, variantID)
}

// warmUpFlashVariant seeds one flash-sale counter after a cache miss,
// single-flight across the stampede. Returns true when a retry may succeed.
func (s *FlashSaleService) warmUpFlashVariant(ctx context.Context, reg *models.FlashSaleRegistration, session *models.FlashSaleSession, variantID string) bool {
	var pledged *models.FlashSaleVariant
	for i := range reg.Variants {
		if reg.Variants[i].VariantID == variantID {
			pledged = &reg.Variants[i]
			break
		}
	}
	if pledged == nil {
		return false
	}

	ttl := session.EndTime.Sub(s.now())
	if ttl <= 0 {
		ttl = redisclient.LapsedSessionTTL
	}

	lockKey := redisclient.LockKey(redisclient.FlashStockKey(reg.ProductID, variantID))
	err := s.locks.WithLock(ctx, lockKey, s.lockWait, warmupLockTTL, func(ctx context.Context) error {
		current, err := s.cache.GetFlashSaleStock(ctx, reg.ProductID, variantID)
		if err == nil && current != redisclient.StockNotCached {
			return nil
		}

		available := pledged.Quantity - pledged.SoldCount
		if available < 0 {
			available = 0
		}
		if _, err := s.cache.SetFlashSaleStockNX(ctx, reg.ProductID, variantID, available, ttl); err != nil {
			return err
		}
		util.WarmupsTotal.WithLabelValues(models.ChannelFlashSale, "miss").Inc()
		return nil
	})

	if err == nil {
		return true
	}
	if errors.Is(err, redisclient.ErrLockTimeout) {
		util.LockTimeoutsTotal.Inc()
		return true
	}

	s.logger.Error("Flash-sale warm-up failed",
		zap.String("product_id", reg.ProductID),
		zap.String("variant_id", variantID),
		zap.Error(err))
	return false
}
