package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/redisclient"
	"stock-service/internal/store"
)

// memCache reproduces the cache contract in memory: every reserve or
// cancel mutates counter and reservation record under one mutex, matching
// the single-threaded script execution of the real backend.
type memCache struct {
	mu                sync.Mutex
	stock             map[string]int
	flashStock        map[string]int
	reservations      map[string]int
	flashReservations map[string]int
	bought            map[string]int
}

func newMemCache() *memCache {
	return &memCache{
		stock:             make(map[string]int),
		flashStock:        make(map[string]int),
		reservations:      make(map[string]int),
		flashReservations: make(map[string]int),
		bought:            make(map[string]int),
	}
}

func ck(productID, variantID string) string { return productID + ":" + variantID }

func rk(orderID, productID, variantID string) string {
	return orderID + ":" + productID + ":" + variantID
}

func (m *memCache) ReserveStock(ctx context.Context, orderID, productID, variantID string, quantity int, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.stock[ck(productID, variantID)]
	if !ok {
		return redisclient.ReserveStockMissing, nil
	}
	if current < quantity {
		return redisclient.ReserveInsufficient, nil
	}
	m.stock[ck(productID, variantID)] = current - quantity
	m.reservations[rk(orderID, productID, variantID)] = quantity
	return redisclient.ReserveOK, nil
}

func (m *memCache) ConfirmReservation(ctx context.Context, orderID, productID, variantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, rk(orderID, productID, variantID))
	return nil
}

func (m *memCache) CancelReservation(ctx context.Context, orderID, productID, variantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rk(orderID, productID, variantID)
	reserved, ok := m.reservations[key]
	if !ok {
		return 0, nil
	}
	m.stock[ck(productID, variantID)] += reserved
	delete(m.reservations, key)
	return reserved, nil
}

func (m *memCache) GetStock(ctx context.Context, productID, variantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.stock[ck(productID, variantID)]
	if !ok {
		return redisclient.StockNotCached, nil
	}
	return current, nil
}

func (m *memCache) SetStock(ctx context.Context, productID, variantID string, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[ck(productID, variantID)] = stock
	return nil
}

func (m *memCache) SetStockNX(ctx context.Context, productID, variantID string, stock int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[ck(productID, variantID)]; ok {
		return false, nil
	}
	m.stock[ck(productID, variantID)] = stock
	return true, nil
}

func (m *memCache) IncrementStock(ctx context.Context, productID, variantID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[ck(productID, variantID)] += quantity
	return nil
}

func (m *memCache) ReserveFlashSaleStock(ctx context.Context, orderID, productID, variantID, userID string, quantity, limit int, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.flashStock[ck(productID, variantID)]
	if !ok {
		return redisclient.ReserveStockMissing, nil
	}
	boughtKey := userID + ":" + productID
	if limit > 0 && m.bought[boughtKey]+quantity > limit {
		return redisclient.ReserveLimitExceeded, nil
	}
	if current < quantity {
		return redisclient.ReserveInsufficient, nil
	}
	m.flashStock[ck(productID, variantID)] = current - quantity
	m.bought[boughtKey] += quantity
	m.flashReservations[rk(orderID, productID, variantID)] = quantity
	return redisclient.ReserveOK, nil
}

func (m *memCache) CancelFlashSaleReservation(ctx context.Context, orderID, productID, variantID, userID string, restoreStock bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rk(orderID, productID, variantID)
	reserved, ok := m.flashReservations[key]
	if !ok {
		return 0, nil
	}
	if restoreStock {
		m.flashStock[ck(productID, variantID)] += reserved
	}
	boughtKey := userID + ":" + productID
	if m.bought[boughtKey] <= reserved {
		delete(m.bought, boughtKey)
	} else {
		m.bought[boughtKey] -= reserved
	}
	delete(m.flashReservations, key)
	return reserved, nil
}

func (m *memCache) ConfirmFlashSaleReservation(ctx context.Context, orderID, productID, variantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.flashReservations, rk(orderID, productID, variantID))
	return nil
}

func (m *memCache) GetFlashSaleStock(ctx context.Context, productID, variantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.flashStock[ck(productID, variantID)]
	if !ok {
		return redisclient.StockNotCached, nil
	}
	return current, nil
}

func (m *memCache) SetFlashSaleStockNX(ctx context.Context, productID, variantID string, stock int, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flashStock[ck(productID, variantID)]; ok {
		return false, nil
	}
	m.flashStock[ck(productID, variantID)] = stock
	return true, nil
}

func (m *memCache) IncrementFlashSaleStock(ctx context.Context, productID, variantID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flashStock[ck(productID, variantID)] += quantity
	return nil
}

// memLocker grants every acquisition immediately; warm-up single-flight is
// still exercised through the double-check inside the critical section.
type memLocker struct {
	mu sync.Mutex
}

func (l *memLocker) WithLock(ctx context.Context, key string, wait, ttl time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(ctx)
}

// timeoutLocker never grants the lock. The optional seed callback models a
// competing holder that finished its warm-up before our wait ran out.
type timeoutLocker struct {
	seed func(ctx context.Context)
}

func (l *timeoutLocker) WithLock(ctx context.Context, key string, wait, ttl time.Duration, fn func(ctx context.Context) error) error {
	if l.seed != nil {
		l.seed(ctx)
	}
	return redisclient.ErrLockTimeout
}

// memStockReader serves durable stock from a map.
type memStockReader struct {
	mu    sync.Mutex
	stock map[string]int
}

func newMemStockReader(stock map[string]int) *memStockReader {
	if stock == nil {
		stock = make(map[string]int)
	}
	return &memStockReader{stock: stock}
}

func (r *memStockReader) GetVariantStock(ctx context.Context, productID, variantID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stock, ok := r.stock[ck(productID, variantID)]
	if !ok {
		return 0, store.ErrVariantNotFound
	}
	return stock, nil
}

func (r *memStockReader) ListVariantStocks(ctx context.Context) ([]models.VariantStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.VariantStock, 0, len(r.stock))
	for key, stock := range r.stock {
		sep := strings.IndexByte(key, ':')
		out = append(out, models.VariantStock{
			ProductID: key[:sep],
			VariantID: key[sep+1:],
			Stock:     stock,
		})
	}
	return out, nil
}

func (r *memStockReader) SetVariantStock(ctx context.Context, productID, variantID string, stock int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[ck(productID, variantID)] = stock
	return nil
}

// memPersister records scheduled deltas.
type memPersister struct {
	mu     sync.Mutex
	deltas []models.StockDelta
}

func (p *memPersister) ScheduleDelta(delta models.StockDelta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deltas = append(p.deltas, delta)
}

func (p *memPersister) all() []models.StockDelta {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.StockDelta, len(p.deltas))
	copy(out, p.deltas)
	return out
}

// memPublisher records published notifications.
type memPublisher struct {
	mu              sync.Mutex
	stockChanged    []string
	statusPublished []string
}

func (p *memPublisher) PublishStockChanged(ctx context.Context, productID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stockChanged = append(p.stockChanged, productID)
	return nil
}

func (p *memPublisher) PublishFlashSaleStatus(ctx context.Context, reg *models.FlashSaleRegistration, status, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusPublished = append(p.statusPublished, reg.ID+":"+status)
	return nil
}

// memFlashStore is an in-memory FlashSaleStore.
type memFlashStore struct {
	mu            sync.Mutex
	sessions      map[string]*models.FlashSaleSession
	registrations map[string]*models.FlashSaleRegistration
	durable       *memStockReader
}

func newMemFlashStore(durable *memStockReader) *memFlashStore {
	return &memFlashStore{
		sessions:      make(map[string]*models.FlashSaleSession),
		registrations: make(map[string]*models.FlashSaleRegistration),
		durable:       durable,
	}
}

func (s *memFlashStore) CreateSession(ctx context.Context, session *models.FlashSaleSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *memFlashStore) GetSessionByID(ctx context.Context, id string) (*models.FlashSaleSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	copied := *session
	return &copied, nil
}

func (s *memFlashStore) UpdateSessionStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	session.Status = status
	return nil
}

func (s *memFlashStore) ListSessionsByStatus(ctx context.Context, status string) ([]models.FlashSaleSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FlashSaleSession
	for _, session := range s.sessions {
		if session.Status == status {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *memFlashStore) ListSessions(ctx context.Context) ([]models.FlashSaleSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FlashSaleSession
	for _, session := range s.sessions {
		out = append(out, *session)
	}
	return out, nil
}

func (s *memFlashStore) ListOpenOrUpcomingSessions(ctx context.Context, now, until time.Time) ([]models.FlashSaleSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FlashSaleSession
	for _, session := range s.sessions {
		if session.Status == models.SessionStatusActive &&
			session.EndTime.After(now) && session.StartTime.Before(until) {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *memFlashStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memFlashStore) CreateRegistration(ctx context.Context, reg *models.FlashSaleRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *reg
	copied.Variants = append([]models.FlashSaleVariant(nil), reg.Variants...)
	s.registrations[reg.ID] = &copied
	return nil
}

func (s *memFlashStore) GetRegistrationByID(ctx context.Context, id string) (*models.FlashSaleRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok {
		return nil, fmt.Errorf("registration %s not found", id)
	}
	copied := *reg
	copied.Variants = append([]models.FlashSaleVariant(nil), reg.Variants...)
	return &copied, nil
}

func (s *memFlashStore) ListRegistrationsBySession(ctx context.Context, sessionID, status string) ([]models.FlashSaleRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FlashSaleRegistration
	for _, reg := range s.registrations {
		if reg.SessionID != sessionID {
			continue
		}
		if status != "" && reg.Status != status {
			continue
		}
		copied := *reg
		copied.Variants = append([]models.FlashSaleVariant(nil), reg.Variants...)
		out = append(out, copied)
	}
	return out, nil
}

func (s *memFlashStore) ListApprovedRegistrationsByProduct(ctx context.Context, productID string) ([]models.FlashSaleRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FlashSaleRegistration
	for _, reg := range s.registrations {
		if reg.ProductID == productID && reg.Status == models.RegistrationStatusApproved {
			copied := *reg
			copied.Variants = append([]models.FlashSaleVariant(nil), reg.Variants...)
			out = append(out, copied)
		}
	}
	return out, nil
}

func (s *memFlashStore) ListRegistrationsByShop(ctx context.Context, shopID string) ([]models.FlashSaleRegistration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.FlashSaleRegistration
	for _, reg := range s.registrations {
		if reg.ShopID == shopID {
			out = append(out, *reg)
		}
	}
	return out, nil
}

func (s *memFlashStore) ApproveRegistration(ctx context.Context, reg *models.FlashSaleRegistration) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.registrations[reg.ID]
	if !ok {
		return nil, fmt.Errorf("registration %s not found", reg.ID)
	}

	s.durable.mu.Lock()
	defer s.durable.mu.Unlock()

	remaining := make(map[string]int, len(stored.Variants))
	for _, v := range stored.Variants {
		key := ck(stored.ProductID, v.VariantID)
		current, ok := s.durable.stock[key]
		if !ok {
			return nil, store.ErrVariantNotFound
		}
		if current < v.Quantity {
			return nil, fmt.Errorf("insufficient regular stock for variant %s: have %d, pledged %d",
				v.VariantID, current, v.Quantity)
		}
		s.durable.stock[key] = current - v.Quantity
		remaining[v.VariantID] = current - v.Quantity
	}
	stored.Status = models.RegistrationStatusApproved
	return remaining, nil
}

func (s *memFlashStore) RejectRegistration(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.registrations[id]
	if !ok {
		return fmt.Errorf("registration %s not found", id)
	}
	reg.Status = models.RegistrationStatusRejected
	return nil
}
