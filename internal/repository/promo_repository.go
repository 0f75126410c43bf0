package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wearlab/tryon-server/internal/models"
)

// ErrPromoExhausted reports a promo whose global usage cap is spent.
var ErrPromoExhausted = errors.New("repository: promo code exhausted")

type PromoRepository struct {
	db *sql.DB
}

func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

const promoColumns = `id, code, discount_type, discount_value, max_uses, uses, valid_from, valid_until, created_at`

func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE code = ?`
	return scanPromo(r.db.QueryRowContext(ctx, query, code))
}

func (r *PromoRepository) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes WHERE id = ?`
	return scanPromo(r.db.QueryRowContext(ctx, query, id))
}

func scanPromo(row *sql.Row) (*models.PromoCode, error) {
	var promo models.PromoCode
	var from, until sql.NullTime
	if err := row.Scan(&promo.ID, &promo.Code, &promo.DiscountType, &promo.DiscountValue, &promo.MaxUses, &promo.Uses, &from, &until, &promo.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan promo: %w", err)
	}
	if from.Valid {
		promo.ValidFrom = &from.Time
	}
	if until.Valid {
		promo.ValidUntil = &until.Time
	}
	return &promo, nil
}

func (r *PromoRepository) List(ctx context.Context) ([]models.PromoCode, error) {
	query := `SELECT ` + promoColumns + ` FROM promo_codes ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list promos: %w", err)
	}
	defer rows.Close()

	var promos []models.PromoCode
	for rows.Next() {
		var promo models.PromoCode
		var from, until sql.NullTime
		if err := rows.Scan(&promo.ID, &promo.Code, &promo.DiscountType, &promo.DiscountValue, &promo.MaxUses, &promo.Uses, &from, &until, &promo.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan promo list: %w", err)
		}
		if from.Valid {
			promo.ValidFrom = &from.Time
		}
		if until.Valid {
			promo.ValidUntil = &until.Time
		}
		promos = append(promos, promo)
	}
	return promos, rows.Err()
}

func (r *PromoRepository) Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
INSERT INTO promo_codes (code, discount_type, discount_value, max_uses, uses, valid_from, valid_until)
VALUES (?, ?, ?, ?, 0, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, promo.Code, promo.DiscountType, promo.DiscountValue, promo.MaxUses, promo.ValidFrom, promo.ValidUntil)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create promo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("promo last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *PromoRepository) Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	const query = `
UPDATE promo_codes
SET code = ?, discount_type = ?, discount_value = ?, max_uses = ?, uses = ?, valid_from = ?, valid_until = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, promo.Code, promo.DiscountType, promo.DiscountValue, promo.MaxUses, promo.Uses, promo.ValidFrom, promo.ValidUntil, promo.ID); err != nil {
		return nil, fmt.Errorf("update promo: %w", err)
	}
	return r.GetByID(ctx, promo.ID)
}

func (r *PromoRepository) Delete(ctx context.Context, id int64) error {
	const query = `DELETE FROM promo_codes WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete promo: %w", err)
	}
	return nil
}

// Claim records a one-per-user claim and bumps the usage counter under a row
// lock; a credit-grant promo credits the balance in the same transaction.
// ErrDuplicate reports a repeated claim, ErrPromoExhausted a spent cap.
func (r *PromoRepository) Claim(ctx context.Context, userID string, promoID int64, creditGrant int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	var uses, maxUses int
	row := tx.QueryRowContext(ctx, `SELECT uses, max_uses FROM promo_codes WHERE id = ? FOR UPDATE`, promoID)
	if err := row.Scan(&uses, &maxUses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("claim: promo %d not found", promoID)
		}
		return fmt.Errorf("lock promo: %w", err)
	}
	if uses >= maxUses {
		return ErrPromoExhausted
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO promo_claims (user_id, promo_code_id) VALUES (?, ?)`, userID, promoID); err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert claim: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE promo_codes SET uses = uses + 1 WHERE id = ?`, promoID); err != nil {
		return fmt.Errorf("increment promo uses: %w", err)
	}

	if creditGrant > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET credits = credits + ?, updated_at = NOW() WHERE id = ?`, creditGrant, userID); err != nil {
			return fmt.Errorf("grant promo credits: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit claim tx: %w", err)
	}
	return nil
}

func (r *PromoRepository) GetClaim(ctx context.Context, userID string, promoID int64) (*models.PromoClaim, error) {
	const query = `
SELECT id, user_id, promo_code_id, used, created_at, used_at
FROM promo_claims WHERE user_id = ? AND promo_code_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID, promoID)
	var claim models.PromoClaim
	var usedAt sql.NullTime
	if err := row.Scan(&claim.ID, &claim.UserID, &claim.PromoCodeID, &claim.Used, &claim.CreatedAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan claim: %w", err)
	}
	if usedAt.Valid {
		claim.UsedAt = &usedAt.Time
	}
	return &claim, nil
}

// MarkClaimUsed flips an unused claim exactly once; the conditional update
// is the guard, the bool the verdict.
func (r *PromoRepository) MarkClaimUsed(ctx context.Context, userID string, promoID int64) (bool, error) {
	const query = `
UPDATE promo_claims SET used = 1, used_at = NOW()
WHERE user_id = ? AND promo_code_id = ? AND used = 0`
	res, err := r.db.ExecContext(ctx, query, userID, promoID)
	if err != nil {
		return false, fmt.Errorf("mark claim used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return affected > 0, nil
}
