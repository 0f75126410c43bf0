package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/repository"
)

// ShareStore persists share links and per-visitor clicks.
type ShareStore interface {
	GetByCode(ctx context.Context, code string) (*models.ShareLink, error)
	GetByTask(ctx context.Context, taskID string) (*models.ShareLink, error)
	Create(ctx context.Context, link *models.ShareLink) (*models.ShareLink, error)
	InsertClick(ctx context.Context, linkID int64, fingerprint string) (bool, error)
	IncrementClicks(ctx context.Context, linkID int64) (int, error)
	MarkRewardGiven(ctx context.Context, linkID int64) (bool, error)
}

// TaskOwnership is the slice of the registry the tracker needs to confirm a
// share belongs to the sharing user.
type TaskOwnership interface {
	Owner(ctx context.Context, taskID string) (string, error)
}

type ClickResult struct {
	Clicks      int
	RewardGiven bool
}

// ReferralService counts distinct visitor clicks on per-task share links and
// grants the one-time credit reward at the threshold.
type ReferralService struct {
	log       *slog.Logger
	shares    ShareStore
	tasks     TaskOwnership
	credits   CreditStore
	threshold int
	reward    int
}

func NewReferralService(log *slog.Logger, shares ShareStore, tasks TaskOwnership, credits CreditStore, threshold, reward int) *ReferralService {
	return &ReferralService{
		log:       log,
		shares:    shares,
		tasks:     tasks,
		credits:   credits,
		threshold: threshold,
		reward:    reward,
	}
}

// EnsureLink returns the task's share link, creating it on the first share
// action. The sharer must own the task.
func (s *ReferralService) EnsureLink(ctx context.Context, userID, taskID string) (*models.ShareLink, error) {
	owner, err := s.tasks.Owner(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("lookup task owner: %w", err)
	}
	if owner == "" {
		return nil, ErrTaskNotFound
	}
	if owner != userID {
		return nil, ErrTaskForbidden
	}

	link, err := s.shares.GetByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if link != nil {
		return link, nil
	}

	created, err := s.shares.Create(ctx, &models.ShareLink{
		Code:          newShareCode(),
		UserID:        userID,
		TaskID:        taskID,
		RewardCredits: s.reward,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// A concurrent share action created it first.
		return s.shares.GetByTask(ctx, taskID)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RecordClick counts a visitor at most once per link. The click that first
// reaches the threshold flips the reward flag and credits the link's owner
// exactly once; everything after that, and every repeat fingerprint, is a
// read-only report of the current state.
func (s *ReferralService) RecordClick(ctx context.Context, code, fingerprint string) (*ClickResult, error) {
	code = strings.TrimSpace(code)
	if code == "" || strings.TrimSpace(fingerprint) == "" {
		return nil, fmt.Errorf("%w: share_code and visitor_fingerprint are required", ErrValidation)
	}

	link, err := s.shares.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, ErrShareNotFound
	}

	inserted, err := s.shares.InsertClick(ctx, link.ID, fingerprint)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &ClickResult{Clicks: link.Clicks, RewardGiven: link.RewardGiven}, nil
	}

	clicks, err := s.shares.IncrementClicks(ctx, link.ID)
	if err != nil {
		return nil, err
	}

	rewardGiven := link.RewardGiven
	if clicks >= s.threshold && !rewardGiven {
		won, err := s.shares.MarkRewardGiven(ctx, link.ID)
		if err != nil {
			return nil, err
		}
		if won {
			if err := s.credits.Credit(ctx, link.UserID, link.RewardCredits); err != nil {
				s.log.Error("grant referral reward", "link", link.Code, "user", link.UserID, "err", err)
			}
		}
		rewardGiven = true
	}

	return &ClickResult{Clicks: clicks, RewardGiven: rewardGiven}, nil
}

func newShareCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
