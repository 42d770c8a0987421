package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stock-service/internal/models"
)

// CreateSession inserts a new flash-sale session.
func (s *Store) CreateSession(ctx context.Context, session *models.FlashSaleSession) error {
	query := `
		INSERT INTO flash_sale_sessions (id, name, description, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, session, query,
		session.ID, session.Name, session.Description,
		session.StartTime, session.EndTime, session.Status)
}

// GetSessionByID retrieves a session by ID.
func (s *Store) GetSessionByID(ctx context.Context, id string) (*models.FlashSaleSession, error) {
	var session models.FlashSaleSession
	err := s.db.GetContext(ctx, &session, "SELECT * FROM flash_sale_sessions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateSessionStatus flips a session between INACTIVE and ACTIVE.
func (s *Store) UpdateSessionStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE flash_sale_sessions SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// ListSessionsByStatus returns sessions in the given status.
func (s *Store) ListSessionsByStatus(ctx context.Context, status string) ([]models.FlashSaleSession, error) {
	var sessions []models.FlashSaleSession
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT * FROM flash_sale_sessions WHERE status = $1 ORDER BY start_time", status)
	return sessions, err
}

// ListSessions returns all sessions.
func (s *Store) ListSessions(ctx context.Context) ([]models.FlashSaleSession, error) {
	var sessions []models.FlashSaleSession
	err := s.db.SelectContext(ctx, &sessions,
		"SELECT * FROM flash_sale_sessions ORDER BY start_time DESC")
	return sessions, err
}

// ListOpenOrUpcomingSessions returns ACTIVE sessions still running at now or
// starting before the look-ahead horizon. Feeds the warm-up scheduler.
func (s *Store) ListOpenOrUpcomingSessions(ctx context.Context, now, until time.Time) ([]models.FlashSaleSession, error) {
	var sessions []models.FlashSaleSession
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT * FROM flash_sale_sessions
		WHERE status = $1 AND end_time > $2 AND start_time < $3
		ORDER BY start_time`,
		models.SessionStatusActive, now, until)
	return sessions, err
}

// DeleteSession removes a session. The service layer guarantees only
// non-ACTIVE sessions reach this.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM flash_sale_sessions WHERE id = $1", id)
	return err
}

// CreateRegistration inserts a registration together with its variant rows.
func (s *Store) CreateRegistration(ctx context.Context, reg *models.FlashSaleRegistration) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO flash_sale_registrations
			(id, session_id, product_id, shop_id, sale_price, quantity_limit, sold_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
		RETURNING created_at, updated_at`

	if err := tx.GetContext(ctx, reg, query,
		reg.ID, reg.SessionID, reg.ProductID, reg.ShopID,
		reg.SalePrice, reg.QuantityLimit, reg.Status); err != nil {
		return err
	}

	for i := range reg.Variants {
		v := &reg.Variants[i]
		v.RegistrationID = reg.ID
		_, err := tx.ExecContext(ctx, `
			INSERT INTO flash_sale_variants (id, registration_id, variant_id, quantity, sold_count, sale_price)
			VALUES ($1, $2, $3, $4, 0, $5)`,
			v.ID, v.RegistrationID, v.VariantID, v.Quantity, v.SalePrice)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRegistrationByID retrieves a registration with its variants.
func (s *Store) GetRegistrationByID(ctx context.Context, id string) (*models.FlashSaleRegistration, error) {
	var reg models.FlashSaleRegistration
	err := s.db.GetContext(ctx, &reg, "SELECT * FROM flash_sale_registrations WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("registration not found: %s", id)
	}
	if err != nil {
		return nil, err
	}

	if err := s.attachVariants(ctx, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// ListRegistrationsBySession returns registrations for a session, optionally
// filtered by status (empty status = all).
func (s *Store) ListRegistrationsBySession(ctx context.Context, sessionID, status string) ([]models.FlashSaleRegistration, error) {
	var regs []models.FlashSaleRegistration
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &regs,
			"SELECT * FROM flash_sale_registrations WHERE session_id = $1 ORDER BY created_at", sessionID)
	} else {
		err = s.db.SelectContext(ctx, &regs,
			"SELECT * FROM flash_sale_registrations WHERE session_id = $1 AND status = $2 ORDER BY created_at",
			sessionID, status)
	}
	if err != nil {
		return nil, err
	}

	for i := range regs {
		if err := s.attachVariants(ctx, &regs[i]); err != nil {
			return nil, err
		}
	}
	return regs, nil
}

// ListApprovedRegistrationsByProduct returns APPROVED registrations for a
// product. The flash-sale service narrows these to the running session.
func (s *Store) ListApprovedRegistrationsByProduct(ctx context.Context, productID string) ([]models.FlashSaleRegistration, error) {
	var regs []models.FlashSaleRegistration
	err := s.db.SelectContext(ctx, &regs,
		"SELECT * FROM flash_sale_registrations WHERE product_id = $1 AND status = $2",
		productID, models.RegistrationStatusApproved)
	if err != nil {
		return nil, err
	}

	for i := range regs {
		if err := s.attachVariants(ctx, &regs[i]); err != nil {
			return nil, err
		}
	}
	return regs, nil
}

// ListRegistrationsByShop returns a shop's registrations across sessions.
func (s *Store) ListRegistrationsByShop(ctx context.Context, shopID string) ([]models.FlashSaleRegistration, error) {
	var regs []models.FlashSaleRegistration
	err := s.db.SelectContext(ctx, &regs,
		"SELECT * FROM flash_sale_registrations WHERE shop_id = $1 ORDER BY created_at DESC", shopID)
	if err != nil {
		return nil, err
	}

	for i := range regs {
		if err := s.attachVariants(ctx, &regs[i]); err != nil {
			return nil, err
		}
	}
	return regs, nil
}

// RejectRegistration marks a registration REJECTED with a reason.
func (s *Store) RejectRegistration(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE flash_sale_registrations
		SET status = $1, rejection_reason = $2, updated_at = NOW()
		WHERE id = $3`,
		models.RegistrationStatusRejected, reason, id)
	return err
}

// ApproveRegistration deducts every pledged variant quantity from regular
// durable stock under row locks and marks the registration APPROVED, all in
// one transaction. Insufficient regular stock fails the whole approval.
// Returns the post-deduction regular stock per variant so the caller can
// refresh the regular cache.
func (s *Store) ApproveRegistration(ctx context.Context, reg *models.FlashSaleRegistration) (map[string]int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	remaining := make(map[string]int, len(reg.Variants))
	for _, v := range reg.Variants {
		var stock int
		err := tx.GetContext(ctx, &stock,
			"SELECT stock FROM variants WHERE id = $1 AND product_id = $2 FOR UPDATE",
			v.VariantID, reg.ProductID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrVariantNotFound, v.VariantID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock variant %s: %w", v.VariantID, err)
		}

		if stock < v.Quantity {
			return nil, fmt.Errorf("insufficient regular stock for variant %s: have %d, pledged %d",
				v.VariantID, stock, v.Quantity)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE variants SET stock = stock - $1, updated_at = NOW() WHERE id = $2",
			v.Quantity, v.VariantID)
		if err != nil {
			return nil, fmt.Errorf("failed to deduct variant %s: %w", v.VariantID, err)
		}

		remaining[v.VariantID] = stock - v.Quantity
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE flash_sale_registrations SET status = $1, updated_at = NOW() WHERE id = $2",
		models.RegistrationStatusApproved, reg.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return remaining, nil
}

func (s *Store) attachVariants(ctx context.Context, reg *models.FlashSaleRegistration) error {
	return s.db.SelectContext(ctx, &reg.Variants,
		"SELECT * FROM flash_sale_variants WHERE registration_id = $1", reg.ID)
}
