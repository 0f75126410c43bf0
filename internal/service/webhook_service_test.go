package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/repository"
)

type fakePayments struct {
	orders   map[string]bool
	applied  []models.Payment
	applyErr error
}

func newFakePayments() *fakePayments {
	return &fakePayments{orders: map[string]bool{}}
}

func (f *fakePayments) ExistsOrder(_ context.Context, orderID string) (bool, error) {
	return f.orders[orderID], nil
}

func (f *fakePayments) ApplyOrder(_ context.Context, payment *models.Payment) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	if f.orders[payment.OrderID] {
		return repository.ErrDuplicate
	}
	f.orders[payment.OrderID] = true
	f.applied = append(f.applied, *payment)
	return nil
}

type fakePacks struct {
	credits map[string]int
}

func (f *fakePacks) CreditsForVariant(_ context.Context, variantID string) (int, bool, error) {
	credits, ok := f.credits[variantID]
	return credits, ok, nil
}

type fakePromoMarker struct {
	marked  []int64
	markErr error
}

func (f *fakePromoMarker) MarkUsed(_ context.Context, _ string, promoID int64) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, promoID)
	return nil
}

const webhookSecret = "shhh"

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func orderBody(orderID, userID, promoID string) []byte {
	body := `{"meta":{"event_name":"order_created","custom_data":{"user_id":"` + userID + `"`
	if promoID != "" {
		body += `,"promo_id":"` + promoID + `"`
	}
	body += `}},"data":{"id":"` + orderID + `","attributes":{"first_order_item":{"variant_id":101}}}}`
	return []byte(body)
}

func newWebhookService(payments *fakePayments, promos *fakePromoMarker) *WebhookService {
	packs := &fakePacks{credits: map[string]int{"101": 8}}
	return NewWebhookService(webhookSecret, testLogger(), payments, packs, promos)
}

func TestWebhookCreditsOrder(t *testing.T) {
	payments := newFakePayments()
	promos := &fakePromoMarker{}
	svc := newWebhookService(payments, promos)

	body := orderBody("ord-1", "user-1", "")
	result, err := svc.HandleOrderWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, 8, result.CreditsAdded)
	require.Len(t, payments.applied, 1)
	require.Equal(t, "user-1", payments.applied[0].UserID)
	require.Equal(t, "101", payments.applied[0].VariantID)
	require.Empty(t, promos.marked)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	payments := newFakePayments()
	svc := newWebhookService(payments, &fakePromoMarker{})

	body := orderBody("ord-1", "user-1", "")
	_, err := svc.HandleOrderWebhook(context.Background(), body, "deadbeef")
	require.ErrorIs(t, err, ErrBadSignature)

	_, err = svc.HandleOrderWebhook(context.Background(), body, "")
	require.ErrorIs(t, err, ErrBadSignature)
	require.Empty(t, payments.applied)
}

func TestWebhookIgnoresOtherEvents(t *testing.T) {
	payments := newFakePayments()
	svc := newWebhookService(payments, &fakePromoMarker{})

	body := []byte(`{"meta":{"event_name":"subscription_updated"},"data":{"id":"ord-1"}}`)
	result, err := svc.HandleOrderWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, "Event ignored", result.Message)
	require.Empty(t, payments.applied)
}

func TestWebhookDuplicateOrderCreditsOnce(t *testing.T) {
	payments := newFakePayments()
	svc := newWebhookService(payments, &fakePromoMarker{})

	body := orderBody("ord-1", "user-1", "")
	first, err := svc.HandleOrderWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, 8, first.CreditsAdded)

	second, err := svc.HandleOrderWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, "Already processed", second.Message)
	require.Equal(t, 0, second.CreditsAdded)
	require.Len(t, payments.applied, 1)
}

func TestWebhookDuplicateRaceLosesGracefully(t *testing.T) {
	// ExistsOrder says no, then the insert collides with a concurrent delivery.
	payments := newFakePayments()
	payments.applyErr = repository.ErrDuplicate
	svc := newWebhookService(payments, &fakePromoMarker{})

	body := orderBody("ord-1", "user-1", "")
	result, err := svc.HandleOrderWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, "Already processed", result.Message)
}

func TestWebhookRejectsMalformedPayloads(t *testing.T) {
	svc := newWebhookService(newFakePayments(), &fakePromoMarker{})

	bad := []byte(`{"meta":{"event_name":"order_created","custom_data":{}},"data":{"id":"ord-1","attributes":{"first_order_item":{"variant_id":101}}}}`)
	_, err := svc.HandleOrderWebhook(context.Background(), bad, sign(bad))
	require.ErrorIs(t, err, ErrBadWebhook)

	noOrder := []byte(`{"meta":{"event_name":"order_created","custom_data":{"user_id":"u"}},"data":{"attributes":{"first_order_item":{"variant_id":101}}}}`)
	_, err = svc.HandleOrderWebhook(context.Background(), noOrder, sign(noOrder))
	require.ErrorIs(t, err, ErrBadWebhook)

	unknownVariant := []byte(`{"meta":{"event_name":"order_created","custom_data":{"user_id":"u"}},"data":{"id":"ord-9","attributes":{"first_order_item":{"variant_id":999}}}}`)
	_, err = svc.HandleOrderWebhook(context.Background(), unknownVariant, sign(unknownVariant))
	require.ErrorIs(t, err, ErrBadWebhook)
}

func TestWebhookMarksPromoUsed(t *testing.T) {
	payments := newFakePayments()
	promos := &fakePromoMarker{}
	svc := newWebhookService(payments, promos)

	body := orderBody("ord-1", "user-1", "7")
	result, err := svc.HandleOrderWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, 8, result.CreditsAdded)
	require.Equal(t, []int64{7}, promos.marked)
}

func TestWebhookPromoFailureDoesNotUnwindPayment(t *testing.T) {
	payments := newFakePayments()
	promos := &fakePromoMarker{markErr: ErrPromoAlreadyUsed}
	svc := newWebhookService(payments, promos)

	body := orderBody("ord-1", "user-1", "7")
	result, err := svc.HandleOrderWebhook(context.Background(), body, sign(body))
	require.NoError(t, err)
	require.Equal(t, 8, result.CreditsAdded)
	require.Len(t, payments.applied, 1)
}
