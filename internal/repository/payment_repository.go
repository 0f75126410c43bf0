package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wearlab/tryon-server/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) ExistsOrder(ctx context.Context, orderID string) (bool, error) {
	const query = `SELECT 1 FROM payments WHERE order_id = ?`
	row := r.db.QueryRowContext(ctx, query, orderID)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check payment: %w", err)
	}
	return true, nil
}

// ApplyOrder records the payment and credits the user's balance in one
// transaction. The unique key on order_id is the authoritative idempotency
// guard: a replayed order id rolls everything back and reports ErrDuplicate,
// so at-least-once webhook delivery can never credit twice.
func (r *PaymentRepository) ApplyOrder(ctx context.Context, payment *models.Payment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payment tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO payments (order_id, user_id, variant_id, credits) VALUES (?, ?, ?, ?)`,
		payment.OrderID, payment.UserID, payment.VariantID, payment.Credits)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("payment last insert id: %w", err)
	}
	payment.ID = id

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET credits = credits + ?, updated_at = NOW() WHERE id = ?`,
		payment.Credits, payment.UserID); err != nil {
		return fmt.Errorf("credit user for payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment tx: %w", err)
	}
	return nil
}

func (r *PaymentRepository) List(ctx context.Context, limit int) ([]models.Payment, error) {
	const query = `
SELECT id, order_id, user_id, variant_id, credits, created_at
FROM payments ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.UserID, &p.VariantID, &p.Credits, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
