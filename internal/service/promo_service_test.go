package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/repository"
)

type fakePromoStore struct {
	nextID int64
	promos map[int64]*models.PromoCode
	claims map[string]*models.PromoClaim
	grants map[string]int
}

func newFakePromoStore() *fakePromoStore {
	return &fakePromoStore{
		promos: map[int64]*models.PromoCode{},
		claims: map[string]*models.PromoClaim{},
		grants: map[string]int{},
	}
}

func claimKey(userID string, promoID int64) string {
	return fmt.Sprintf("%s/%d", userID, promoID)
}

func (f *fakePromoStore) add(promo models.PromoCode) *models.PromoCode {
	f.nextID++
	promo.ID = f.nextID
	f.promos[promo.ID] = &promo
	return &promo
}

func (f *fakePromoStore) GetByCode(_ context.Context, code string) (*models.PromoCode, error) {
	for _, promo := range f.promos {
		if promo.Code == code {
			copied := *promo
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakePromoStore) GetByID(_ context.Context, id int64) (*models.PromoCode, error) {
	promo, ok := f.promos[id]
	if !ok {
		return nil, nil
	}
	copied := *promo
	return &copied, nil
}

func (f *fakePromoStore) List(_ context.Context) ([]models.PromoCode, error) {
	var out []models.PromoCode
	for _, promo := range f.promos {
		out = append(out, *promo)
	}
	return out, nil
}

func (f *fakePromoStore) Create(_ context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	for _, existing := range f.promos {
		if existing.Code == promo.Code {
			return nil, repository.ErrDuplicate
		}
	}
	return f.add(*promo), nil
}

func (f *fakePromoStore) Update(_ context.Context, promo *models.PromoCode) (*models.PromoCode, error) {
	copied := *promo
	f.promos[promo.ID] = &copied
	return promo, nil
}

func (f *fakePromoStore) Delete(_ context.Context, id int64) error {
	delete(f.promos, id)
	return nil
}

func (f *fakePromoStore) Claim(_ context.Context, userID string, promoID int64, creditGrant int) error {
	key := claimKey(userID, promoID)
	if _, ok := f.claims[key]; ok {
		return repository.ErrDuplicate
	}
	promo := f.promos[promoID]
	if promo.Uses >= promo.MaxUses {
		return repository.ErrPromoExhausted
	}
	promo.Uses++
	f.claims[key] = &models.PromoClaim{UserID: userID, PromoCodeID: promoID}
	f.grants[userID] += creditGrant
	return nil
}

func (f *fakePromoStore) GetClaim(_ context.Context, userID string, promoID int64) (*models.PromoClaim, error) {
	claim, ok := f.claims[claimKey(userID, promoID)]
	if !ok {
		return nil, nil
	}
	copied := *claim
	return &copied, nil
}

func (f *fakePromoStore) MarkClaimUsed(_ context.Context, userID string, promoID int64) (bool, error) {
	claim, ok := f.claims[claimKey(userID, promoID)]
	if !ok || claim.Used {
		return false, nil
	}
	claim.Used = true
	return true, nil
}

func TestPromoClaimGrantsCredits(t *testing.T) {
	store := newFakePromoStore()
	store.add(models.PromoCode{Code: "WELCOME5", DiscountType: models.DiscountCredits, DiscountValue: 5, MaxUses: 10})
	svc := NewPromoService(store)

	outcome, err := svc.Claim(context.Background(), "user-1", "WELCOME5")
	require.NoError(t, err)
	require.Equal(t, 5, outcome.CreditsGranted)
	require.Equal(t, 5, store.grants["user-1"])
}

func TestPromoClaimDiscountCodeGrantsNothingUpfront(t *testing.T) {
	store := newFakePromoStore()
	store.add(models.PromoCode{Code: "HALFOFF", DiscountType: models.DiscountPercent, DiscountValue: 50, MaxUses: 10})
	svc := NewPromoService(store)

	outcome, err := svc.Claim(context.Background(), "user-1", "HALFOFF")
	require.NoError(t, err)
	require.Equal(t, 0, outcome.CreditsGranted)
	require.Equal(t, 0, store.grants["user-1"])
}

func TestPromoClaimOncePerUser(t *testing.T) {
	store := newFakePromoStore()
	store.add(models.PromoCode{Code: "ONCE", DiscountType: models.DiscountCredits, DiscountValue: 2, MaxUses: 10})
	svc := NewPromoService(store)

	_, err := svc.Claim(context.Background(), "user-1", "ONCE")
	require.NoError(t, err)

	_, err = svc.Claim(context.Background(), "user-1", "ONCE")
	require.ErrorIs(t, err, ErrPromoAlreadyClaimed)
	require.Equal(t, 2, store.grants["user-1"], "the failed repeat claim must not grant again")
}

func TestPromoClaimValidatesWindowAndCaps(t *testing.T) {
	store := newFakePromoStore()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	store.add(models.PromoCode{Code: "EXPIRED", DiscountType: models.DiscountPercent, DiscountValue: 10, MaxUses: 10, ValidUntil: &past})
	store.add(models.PromoCode{Code: "NOTYET", DiscountType: models.DiscountPercent, DiscountValue: 10, MaxUses: 10, ValidFrom: &future})
	store.add(models.PromoCode{Code: "FULL", DiscountType: models.DiscountPercent, DiscountValue: 10, MaxUses: 1, Uses: 1})
	svc := NewPromoService(store)

	_, err := svc.Claim(context.Background(), "user-1", "EXPIRED")
	require.ErrorIs(t, err, ErrPromoExpired)

	_, err = svc.Claim(context.Background(), "user-1", "NOTYET")
	require.ErrorIs(t, err, ErrPromoInvalid)

	_, err = svc.Claim(context.Background(), "user-1", "FULL")
	require.ErrorIs(t, err, ErrPromoExhausted)

	_, err = svc.Claim(context.Background(), "user-1", "NO-SUCH-CODE")
	require.ErrorIs(t, err, ErrPromoInvalid)
}

func TestPromoMarkUsedOnce(t *testing.T) {
	store := newFakePromoStore()
	promo := store.add(models.PromoCode{Code: "DEAL", DiscountType: models.DiscountPercent, DiscountValue: 20, MaxUses: 10})
	svc := NewPromoService(store)

	_, err := svc.Claim(context.Background(), "user-1", "DEAL")
	require.NoError(t, err)

	require.NoError(t, svc.MarkUsed(context.Background(), "user-1", promo.ID))
	require.ErrorIs(t, svc.MarkUsed(context.Background(), "user-1", promo.ID), ErrPromoAlreadyUsed)
	require.ErrorIs(t, svc.MarkUsed(context.Background(), "stranger", promo.ID), ErrPromoInvalid)
}

func TestPromoCreateValidation(t *testing.T) {
	svc := NewPromoService(newFakePromoStore())

	_, err := svc.Create(context.Background(), CreatePromoInput{DiscountType: models.DiscountPercent, DiscountValue: 10, MaxUses: 5})
	require.Error(t, err)

	_, err = svc.Create(context.Background(), CreatePromoInput{Code: "X", DiscountType: "bogus", DiscountValue: 10, MaxUses: 5})
	require.Error(t, err)

	_, err = svc.Create(context.Background(), CreatePromoInput{Code: "X", DiscountType: models.DiscountCredits, DiscountValue: 3, MaxUses: 5})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), CreatePromoInput{Code: "X", DiscountType: models.DiscountCredits, DiscountValue: 3, MaxUses: 5})
	require.Error(t, err, "duplicate code must be rejected")
}
