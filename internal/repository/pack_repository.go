package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wearlab/tryon-server/internal/models"
)

type PackRepository struct {
	db *sql.DB
}

func NewPackRepository(db *sql.DB) *PackRepository {
	return &PackRepository{db: db}
}

func (r *PackRepository) List(ctx context.Context) ([]models.CreditPack, error) {
	const query = `
SELECT id, variant_id, title, currency, price_minor_units, credits, is_active, created_at, updated_at
FROM credit_packs
ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list packs: %w", err)
	}
	defer rows.Close()

	var packs []models.CreditPack
	for rows.Next() {
		var pack models.CreditPack
		if err := rows.Scan(&pack.ID, &pack.VariantID, &pack.Title, &pack.Currency, &pack.PriceMinorUnits, &pack.Credits, &pack.IsActive, &pack.CreatedAt, &pack.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pack: %w", err)
		}
		packs = append(packs, pack)
	}
	return packs, rows.Err()
}

func (r *PackRepository) GetByID(ctx context.Context, id int64) (*models.CreditPack, error) {
	const query = `
SELECT id, variant_id, title, currency, price_minor_units, credits, is_active, created_at, updated_at
FROM credit_packs WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PackRepository) GetByVariant(ctx context.Context, variantID string) (*models.CreditPack, error) {
	const query = `
SELECT id, variant_id, title, currency, price_minor_units, credits, is_active, created_at, updated_at
FROM credit_packs WHERE variant_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, variantID))
}

func (r *PackRepository) scanOne(row *sql.Row) (*models.CreditPack, error) {
	var pack models.CreditPack
	if err := row.Scan(&pack.ID, &pack.VariantID, &pack.Title, &pack.Currency, &pack.PriceMinorUnits, &pack.Credits, &pack.IsActive, &pack.CreatedAt, &pack.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan pack: %w", err)
	}
	return &pack, nil
}

func (r *PackRepository) Create(ctx context.Context, pack *models.CreditPack) (*models.CreditPack, error) {
	const query = `
INSERT INTO credit_packs (variant_id, title, currency, price_minor_units, credits, is_active)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, pack.VariantID, pack.Title, pack.Currency, pack.PriceMinorUnits, pack.Credits, pack.IsActive)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create pack: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("pack last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PackRepository) Update(ctx context.Context, pack *models.CreditPack) (*models.CreditPack, error) {
	const query = `
UPDATE credit_packs
SET variant_id = ?, title = ?, currency = ?, price_minor_units = ?, credits = ?, is_active = ?, updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, pack.VariantID, pack.Title, pack.Currency, pack.PriceMinorUnits, pack.Credits, pack.IsActive, pack.ID); err != nil {
		return nil, fmt.Errorf("update pack: %w", err)
	}
	return r.GetByID(ctx, pack.ID)
}

func (r *PackRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM credit_packs WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete pack: %w", err)
	}
	return nil
}
