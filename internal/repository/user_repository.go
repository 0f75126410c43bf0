package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wearlab/tryon-server/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, credits, created_at, updated_at FROM users WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var u models.User
	if err := row.Scan(&u.ID, &u.Credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// Ensure creates the balance row for a first-seen user with the signup bonus.
// A concurrent first request may win the insert; the loser re-reads.
func (r *UserRepository) Ensure(ctx context.Context, id string, signupBonus int) (*models.User, bool, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}

	const query = `INSERT INTO users (id, credits) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, id, signupBonus); err != nil {
		if isDuplicateKey(err) {
			existing, ferr := r.FindByID(ctx, id)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert user: %w", err)
	}
	created, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (r *UserRepository) Balance(ctx context.Context, id string) (int, error) {
	const query = `SELECT credits FROM users WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var credits int
	if err := row.Scan(&credits); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan balance: %w", err)
	}
	return credits, nil
}

// Reserve atomically debits amount if the balance covers it. The returned
// bool is the verdict; a false means the balance was left untouched.
func (r *UserRepository) Reserve(ctx context.Context, id string, amount int) (bool, error) {
	const query = `
UPDATE users SET credits = credits - ?, updated_at = NOW()
WHERE id = ? AND credits >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, id, amount)
	if err != nil {
		return false, fmt.Errorf("reserve credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve rows affected: %w", err)
	}
	return affected > 0, nil
}

// Credit applies an additive adjustment. Negative deltas (admin overrides)
// are floored at zero.
func (r *UserRepository) Credit(ctx context.Context, id string, delta int) error {
	const query = `UPDATE users SET credits = GREATEST(credits + ?, 0), updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, delta, id); err != nil {
		return fmt.Errorf("credit user: %w", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, limit int) ([]models.User, error) {
	const query = `SELECT id, credits, created_at, updated_at FROM users ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Credits, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user list: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
