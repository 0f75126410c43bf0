package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/repository"
)

// PromoStore persists promo codes and per-user claims.
type PromoStore interface {
	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	GetByID(ctx context.Context, id int64) (*models.PromoCode, error)
	List(ctx context.Context) ([]models.PromoCode, error)
	Create(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error)
	Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error)
	Delete(ctx context.Context, id int64) error
	Claim(ctx context.Context, userID string, promoID int64, creditGrant int) error
	GetClaim(ctx context.Context, userID string, promoID int64) (*models.PromoClaim, error)
	MarkClaimUsed(ctx context.Context, userID string, promoID int64) (bool, error)
}

type PromoService struct {
	promos PromoStore
}

func NewPromoService(promos PromoStore) *PromoService {
	return &PromoService{promos: promos}
}

// ClaimOutcome reports what a successful claim did; credit-grant codes apply
// their credits immediately, discount codes wait for a purchase.
type ClaimOutcome struct {
	Promo          *models.PromoCode
	CreditsGranted int
}

// Claim validates the code's window and caps and records a one-per-user
// claim. A repeated claim by the same user fails without any state change.
func (s *PromoService) Claim(ctx context.Context, userID, code string) (*ClaimOutcome, error) {
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return nil, ErrPromoInvalid
	}

	now := time.Now()
	if promo.ValidFrom != nil && now.Before(*promo.ValidFrom) {
		return nil, ErrPromoInvalid
	}
	if promo.ValidUntil != nil && now.After(*promo.ValidUntil) {
		return nil, ErrPromoExpired
	}
	if promo.Uses >= promo.MaxUses {
		return nil, ErrPromoExhausted
	}

	grant := 0
	if promo.DiscountType == models.DiscountCredits {
		grant = promo.DiscountValue
	}

	err = s.promos.Claim(ctx, userID, promo.ID, grant)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return nil, ErrPromoAlreadyClaimed
	case errors.Is(err, repository.ErrPromoExhausted):
		return nil, ErrPromoExhausted
	case err != nil:
		return nil, err
	}

	return &ClaimOutcome{Promo: promo, CreditsGranted: grant}, nil
}

// MarkUsed flips a claimed-and-unused code to used, exactly once.
func (s *PromoService) MarkUsed(ctx context.Context, userID string, promoID int64) error {
	flipped, err := s.promos.MarkClaimUsed(ctx, userID, promoID)
	if err != nil {
		return err
	}
	if flipped {
		return nil
	}
	claim, err := s.promos.GetClaim(ctx, userID, promoID)
	if err != nil {
		return err
	}
	if claim == nil {
		return ErrPromoInvalid
	}
	return ErrPromoAlreadyUsed
}

func (s *PromoService) List(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos.List(ctx)
}

func (s *PromoService) GetByID(ctx context.Context, id int64) (*models.PromoCode, error) {
	return s.promos.GetByID(ctx, id)
}

type CreatePromoInput struct {
	Code          string
	DiscountType  models.DiscountType
	DiscountValue int
	MaxUses       int
	ValidFrom     *time.Time
	ValidUntil    *time.Time
}

func (s *PromoService) Create(ctx context.Context, input CreatePromoInput) (*models.PromoCode, error) {
	if input.Code == "" {
		return nil, fmt.Errorf("code is required")
	}
	switch input.DiscountType {
	case models.DiscountPercent, models.DiscountFixed, models.DiscountCredits:
	default:
		return nil, fmt.Errorf("unsupported discount type: %s", input.DiscountType)
	}
	if input.DiscountValue <= 0 {
		return nil, fmt.Errorf("discount value must be positive")
	}
	if input.MaxUses <= 0 {
		return nil, fmt.Errorf("max uses must be positive")
	}
	promo, err := s.promos.Create(ctx, &models.PromoCode{
		Code:          input.Code,
		DiscountType:  input.DiscountType,
		DiscountValue: input.DiscountValue,
		MaxUses:       input.MaxUses,
		ValidFrom:     input.ValidFrom,
		ValidUntil:    input.ValidUntil,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, fmt.Errorf("promo code %q already exists", input.Code)
	}
	return promo, err
}

func (s *PromoService) Update(ctx context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	existing, err := s.promos.GetByID(ctx, promo.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("promo not found")
	}
	if promo.Uses > promo.MaxUses {
		return nil, fmt.Errorf("uses cannot exceed max_uses")
	}
	return s.promos.Update(ctx, promo)
}

func (s *PromoService) Delete(ctx context.Context, id int64) error {
	return s.promos.Delete(ctx, id)
}
