package service

import (
	"context"
	"fmt"

	"github.com/wearlab/tryon-server/internal/config"
	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/repository"
)

// PackService owns the credit-pack catalog: the mapping from the payment
// provider's variant ids to credit amounts, seeded from deployment config
// and editable through the admin surface.
type PackService struct {
	cfg  config.Config
	repo *repository.PackRepository
}

func NewPackService(cfg config.Config, repo *repository.PackRepository) *PackService {
	return &PackService{cfg: cfg, repo: repo}
}

// EnsureConfiguredPacks seeds catalog rows for every configured variant that
// does not have one yet. Existing rows are left alone so admin edits survive
// restarts.
func (s *PackService) EnsureConfiguredPacks(ctx context.Context) error {
	for variantID, credits := range s.cfg.VariantCredits {
		existing, err := s.repo.GetByVariant(ctx, variantID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		_, err = s.repo.Create(ctx, &models.CreditPack{
			VariantID: variantID,
			Title:     fmt.Sprintf("%d credits", credits),
			Currency:  "USD",
			Credits:   credits,
			IsActive:  true,
		})
		if err != nil && err != repository.ErrDuplicate {
			return fmt.Errorf("seed pack for variant %s: %w", variantID, err)
		}
	}
	return nil
}

// CreditsForVariant resolves a purchased variant to its credit amount; the
// bool reports whether an active pack exists for it.
func (s *PackService) CreditsForVariant(ctx context.Context, variantID string) (int, bool, error) {
	pack, err := s.repo.GetByVariant(ctx, variantID)
	if err != nil {
		return 0, false, err
	}
	if pack == nil || !pack.IsActive {
		return 0, false, nil
	}
	return pack.Credits, true, nil
}

func (s *PackService) List(ctx context.Context) ([]models.CreditPack, error) {
	return s.repo.List(ctx)
}

type CreatePackInput struct {
	VariantID       string
	Title           string
	Currency        string
	PriceMinorUnits int
	Credits         int
	IsActive        *bool
}

func (s *PackService) Create(ctx context.Context, input CreatePackInput) (*models.CreditPack, error) {
	if input.VariantID == "" {
		return nil, fmt.Errorf("variant_id is required")
	}
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if input.Credits <= 0 {
		return nil, fmt.Errorf("credits must be positive")
	}
	if input.Currency == "" {
		input.Currency = "USD"
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	pack, err := s.repo.Create(ctx, &models.CreditPack{
		VariantID:       input.VariantID,
		Title:           input.Title,
		Currency:        input.Currency,
		PriceMinorUnits: input.PriceMinorUnits,
		Credits:         input.Credits,
		IsActive:        isActive,
	})
	if err == repository.ErrDuplicate {
		return nil, fmt.Errorf("variant %q already has a pack", input.VariantID)
	}
	return pack, err
}

type UpdatePackInput struct {
	VariantID       *string
	Title           *string
	Currency        *string
	PriceMinorUnits *int
	Credits         *int
	IsActive        *bool
}

func (s *PackService) Update(ctx context.Context, id int64, input UpdatePackInput) (*models.CreditPack, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("pack not found")
	}
	if input.VariantID != nil && *input.VariantID != "" {
		existing.VariantID = *input.VariantID
	}
	if input.Title != nil && *input.Title != "" {
		existing.Title = *input.Title
	}
	if input.Currency != nil && *input.Currency != "" {
		existing.Currency = *input.Currency
	}
	if input.PriceMinorUnits != nil && *input.PriceMinorUnits >= 0 {
		existing.PriceMinorUnits = *input.PriceMinorUnits
	}
	if input.Credits != nil && *input.Credits > 0 {
		existing.Credits = *input.Credits
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	return s.repo.Update(ctx, existing)
}

func (s *PackService) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}
