package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wearlab/tryon-server/internal/models"
)

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Bind records ownership of a freshly accepted vendor task and appends the
// matching usage-history row in one transaction, so a retry keyed by the
// same task id cannot double-write.
func (r *TaskRepository) Bind(ctx context.Context, task models.Task) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bind tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (task_id, user_id, mode, credits_charged) VALUES (?, ?, ?, ?)`,
		task.TaskID, task.UserID, task.Mode, task.CreditsCharged); err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert task: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO usage_records (user_id, task_id, mode, credits) VALUES (?, ?, ?, ?)`,
		task.UserID, task.TaskID, task.Mode, task.CreditsCharged); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bind tx: %w", err)
	}
	return nil
}

// Owner returns the user a task belongs to, or "" when the task is unknown.
func (r *TaskRepository) Owner(ctx context.Context, taskID string) (string, error) {
	const query = `SELECT user_id FROM tasks WHERE task_id = ?`
	row := r.db.QueryRowContext(ctx, query, taskID)
	var userID string
	if err := row.Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("scan task owner: %w", err)
	}
	return userID, nil
}

// Rebind adds an ownership row for the second-phase task id under the same
// owner and repoints the usage-history row, so history converges on the
// final artifact instead of the intermediate one.
func (r *TaskRepository) Rebind(ctx context.Context, oldTaskID, newTaskID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebind tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT user_id, mode FROM tasks WHERE task_id = ?`, oldTaskID)
	var userID string
	var mode models.TryOnMode
	if err := row.Scan(&userID, &mode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("rebind: task %s not found", oldTaskID)
		}
		return fmt.Errorf("scan rebind source: %w", err)
	}

	// Phase two is covered by the cost reserved at start; charge nothing here.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (task_id, user_id, mode, credits_charged) VALUES (?, ?, ?, 0)`,
		newTaskID, userID, mode); err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert second-phase task: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE usage_records SET task_id = ? WHERE task_id = ?`,
		newTaskID, oldTaskID); err != nil {
		return fmt.Errorf("repoint usage record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebind tx: %w", err)
	}
	return nil
}

// PruneUsage drops a user's history rows older than the retention window.
func (r *TaskRepository) PruneUsage(ctx context.Context, userID string, olderThan time.Time) error {
	const query = `DELETE FROM usage_records WHERE user_id = ? AND created_at < ?`
	if _, err := r.db.ExecContext(ctx, query, userID, olderThan); err != nil {
		return fmt.Errorf("prune usage records: %w", err)
	}
	return nil
}

func (r *TaskRepository) UsageForUser(ctx context.Context, userID string, limit int) ([]models.UsageRecord, error) {
	const query = `
SELECT id, user_id, task_id, mode, credits, created_at
FROM usage_records WHERE user_id = ?
ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.TaskID, &rec.Mode, &rec.Credits, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
