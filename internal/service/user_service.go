package service

import (
	"context"
	"fmt"

	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/repository"
)

// UserService fronts the balance and history reads plus admin overrides.
type UserService struct {
	users *repository.UserRepository
	tasks *repository.TaskRepository
}

func NewUserService(users *repository.UserRepository, tasks *repository.TaskRepository) *UserService {
	return &UserService{users: users, tasks: tasks}
}

// Ensure creates the balance row on first contact, applying the signup bonus.
func (s *UserService) Ensure(ctx context.Context, userID string, signupBonus int) (*models.User, bool, error) {
	user, created, err := s.users.Ensure(ctx, userID, signupBonus)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return user, created, nil
}

// Profile is the /api/me view: the balance plus recent usage history.
type Profile struct {
	User  *models.User
	Usage []models.UsageRecord
}

func (s *UserService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, _, err := s.Ensure(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	usage, err := s.tasks.UsageForUser(ctx, userID, 50)
	if err != nil {
		return nil, fmt.Errorf("load usage history: %w", err)
	}
	return &Profile{User: user, Usage: usage}, nil
}

// AdjustCredits applies an admin override, positive or negative. Negative
// deltas bottom out at zero.
func (s *UserService) AdjustCredits(ctx context.Context, userID string, delta int) (*models.User, error) {
	if err := s.users.Credit(ctx, userID, delta); err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.users.List(ctx, limit)
}
