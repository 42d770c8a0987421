package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"stock-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// ErrVariantNotFound signals that a (product, variant) pair has no durable
// stock row. Warm-up translates it into a STOCK_NOT_FOUND result.
var ErrVariantNotFound = errors.New("store: variant not found")

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetVariantStock reads the durable regular-stock count for one variant.
func (s *Store) GetVariantStock(ctx context.Context, productID, variantID string) (int, error) {
	var stock int
	err := s.db.GetContext(ctx, &stock,
		"SELECT stock FROM variants WHERE id = $1 AND product_id = $2", variantID, productID)
	if err == sql.ErrNoRows {
		return 0, ErrVariantNotFound
	}
	if err != nil {
		return 0, err
	}
	return stock, nil
}

// ListVariantStocks returns every (product, variant, stock) row. Used for
// the boot-time cache warm-up and the periodic re-warm.
func (s *Store) ListVariantStocks(ctx context.Context) ([]models.VariantStock, error) {
	var rows []models.VariantStock
	err := s.db.SelectContext(ctx, &rows,
		"SELECT product_id, id AS variant_id, stock FROM variants ORDER BY product_id, id")
	return rows, err
}

// SetVariantStock overwrites the durable count. Administrative path only.
func (s *Store) SetVariantStock(ctx context.Context, productID, variantID string, stock int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE variants SET stock = $1, updated_at = NOW() WHERE id = $2 AND product_id = $3",
		stock, variantID, productID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrVariantNotFound
	}
	return nil
}

// ApplyVariantStockDelta mirrors a cache-side regular-stock change into the
// durable row. Negative delta is a sale, positive a restoration. The floor
// at zero keeps a lagging mirror from going negative under reordering.
func (s *Store) ApplyVariantStockDelta(ctx context.Context, productID, variantID string, delta int) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE variants SET stock = GREATEST(stock + $1, 0), updated_at = NOW() WHERE id = $2 AND product_id = $3",
		delta, variantID, productID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrVariantNotFound
	}
	return nil
}

// ApplyFlashSaleStockDelta mirrors a flash-sale channel change into the
// approved registration row for the variant: stock moves by delta, sold
// counts move the opposite way.
func (s *Store) ApplyFlashSaleStockDelta(ctx context.Context, productID, variantID string, delta int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var regVariantID string
	err = tx.GetContext(ctx, &regVariantID, `
		SELECT fv.id
		FROM flash_sale_variants fv
		JOIN flash_sale_registrations fr ON fr.id = fv.registration_id
		WHERE fr.product_id = $1 AND fv.variant_id = $2 AND fr.status = $3
		ORDER BY fr.updated_at DESC
		LIMIT 1`,
		productID, variantID, models.RegistrationStatusApproved)
	if err == sql.ErrNoRows {
		return ErrVariantNotFound
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE flash_sale_variants
		SET quantity = GREATEST(quantity + $1, 0),
		    sold_count = GREATEST(sold_count - $1, 0)
		WHERE id = $2`,
		delta, regVariantID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE flash_sale_registrations
		SET sold_count = GREATEST(sold_count - $1, 0), updated_at = NOW()
		WHERE id = (SELECT registration_id FROM flash_sale_variants WHERE id = $2)`,
		delta, regVariantID)
	if err != nil {
		return err
	}

	return tx.Commit()
}
