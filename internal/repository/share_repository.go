package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wearlab/tryon-server/internal/models"
)

type ShareRepository struct {
	db *sql.DB
}

func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

const shareColumns = `id, code, user_id, task_id, clicks, reward_given, reward_credits, created_at`

func (r *ShareRepository) GetByCode(ctx context.Context, code string) (*models.ShareLink, error) {
	query := `SELECT ` + shareColumns + ` FROM share_links WHERE code = ?`
	return scanShareLink(r.db.QueryRowContext(ctx, query, code))
}

func (r *ShareRepository) GetByTask(ctx context.Context, taskID string) (*models.ShareLink, error) {
	query := `SELECT ` + shareColumns + ` FROM share_links WHERE task_id = ?`
	return scanShareLink(r.db.QueryRowContext(ctx, query, taskID))
}

func scanShareLink(row *sql.Row) (*models.ShareLink, error) {
	var link models.ShareLink
	if err := row.Scan(&link.ID, &link.Code, &link.UserID, &link.TaskID, &link.Clicks, &link.RewardGiven, &link.RewardCredits, &link.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan share link: %w", err)
	}
	return &link, nil
}

// Create inserts a share link; ErrDuplicate means the task already has one
// (the caller should re-read instead).
func (r *ShareRepository) Create(ctx context.Context, link *models.ShareLink) (*models.ShareLink, error) {
	const query = `
INSERT INTO share_links (code, user_id, task_id, reward_credits)
VALUES (?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, link.Code, link.UserID, link.TaskID, link.RewardCredits); err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create share link: %w", err)
	}
	return r.GetByTask(ctx, link.TaskID)
}

// InsertClick records a visitor fingerprint for a link. The unique key on
// (link, fingerprint) makes repeat visitors a no-op; the bool reports whether
// this fingerprint was new.
func (r *ShareRepository) InsertClick(ctx context.Context, linkID int64, fingerprint string) (bool, error) {
	const query = `INSERT INTO share_clicks (share_link_id, fingerprint) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, linkID, fingerprint); err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert share click: %w", err)
	}
	return true, nil
}

// IncrementClicks bumps the counter and returns the new value.
func (r *ShareRepository) IncrementClicks(ctx context.Context, linkID int64) (int, error) {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE share_links SET clicks = clicks + 1 WHERE id = ?`, linkID); err != nil {
		return 0, fmt.Errorf("increment clicks: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `SELECT clicks FROM share_links WHERE id = ?`, linkID)
	var clicks int
	if err := row.Scan(&clicks); err != nil {
		return 0, fmt.Errorf("scan clicks: %w", err)
	}
	return clicks, nil
}

// MarkRewardGiven flips the one-time reward flag; false means another click
// already claimed it.
func (r *ShareRepository) MarkRewardGiven(ctx context.Context, linkID int64) (bool, error) {
	const query = `UPDATE share_links SET reward_given = 1 WHERE id = ? AND reward_given = 0`
	res, err := r.db.ExecContext(ctx, query, linkID)
	if err != nil {
		return false, fmt.Errorf("mark reward given: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reward rows affected: %w", err)
	}
	return affected > 0, nil
}
