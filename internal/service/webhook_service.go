package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/wearlab/tryon-server/internal/models"
	"github.com/wearlab/tryon-server/internal/repository"
)

// PaymentApplier records an order and credits its user atomically;
// repository.ErrDuplicate reports a replayed order id.
type PaymentApplier interface {
	ExistsOrder(ctx context.Context, orderID string) (bool, error)
	ApplyOrder(ctx context.Context, payment *models.Payment) error
}

// PackCatalog maps the payment provider's variant ids to credit amounts.
type PackCatalog interface {
	CreditsForVariant(ctx context.Context, variantID string) (int, bool, error)
}

// PromoMarker flips a claimed promo to used after a purchase lands.
type PromoMarker interface {
	MarkUsed(ctx context.Context, userID string, promoID int64) error
}

// WebhookResult is the gate's verdict: either credits were added, or the
// event was deliberately a no-op (ignored type, replayed order).
type WebhookResult struct {
	CreditsAdded int
	Message      string
}

// WebhookService processes payment provider notifications exactly once per
// external order id. Safe under at-least-once delivery.
type WebhookService struct {
	secret   string
	log      *slog.Logger
	payments PaymentApplier
	packs    PackCatalog
	promos   PromoMarker
}

func NewWebhookService(secret string, log *slog.Logger, payments PaymentApplier, packs PackCatalog, promos PromoMarker) *WebhookService {
	return &WebhookService{
		secret:   secret,
		log:      log,
		payments: payments,
		packs:    packs,
		promos:   promos,
	}
}

type orderEvent struct {
	Meta struct {
		EventName  string `json:"event_name"`
		CustomData struct {
			UserID  string `json:"user_id"`
			PromoID string `json:"promo_id"`
		} `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			FirstOrderItem struct {
				VariantID json.Number `json:"variant_id"`
			} `json:"first_order_item"`
		} `json:"attributes"`
	} `json:"data"`
}

// HandleOrderWebhook verifies, filters, extracts, deduplicates and applies
// one inbound notification. The signature is hex HMAC-SHA256 over the raw
// body with the shared secret.
func (s *WebhookService) HandleOrderWebhook(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	if err := s.verifySignature(rawBody, signature); err != nil {
		return nil, err
	}

	var evt orderEvent
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWebhook, err)
	}

	if evt.Meta.EventName != "order_created" {
		// Answer success so the provider does not retry event types we
		// deliberately skip.
		return &WebhookResult{Message: "Event ignored"}, nil
	}

	userID := evt.Meta.CustomData.UserID
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user_id in custom data", ErrBadWebhook)
	}
	orderID := evt.Data.ID
	if orderID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrBadWebhook)
	}
	variantID := evt.Data.Attributes.FirstOrderItem.VariantID.String()
	credits, found, err := s.packs.CreditsForVariant(ctx, variantID)
	if err != nil {
		return nil, fmt.Errorf("resolve variant %s: %w", variantID, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: unrecognized variant %q", ErrBadWebhook, variantID)
	}

	processed, err := s.payments.ExistsOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("check order: %w", err)
	}
	if processed {
		return &WebhookResult{Message: "Already processed"}, nil
	}

	err = s.payments.ApplyOrder(ctx, &models.Payment{
		OrderID:   orderID,
		UserID:    userID,
		VariantID: variantID,
		Credits:   credits,
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// Lost the race against a concurrent delivery of the same order.
		return &WebhookResult{Message: "Already processed"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("apply order %s: %w", orderID, err)
	}

	s.log.Info("order credited", "order_id", orderID, "user", userID, "credits", credits)

	// The credit has landed; a failure to mark the promo used is reported
	// but never unwinds the payment.
	if promoRaw := evt.Meta.CustomData.PromoID; promoRaw != "" {
		promoID, convErr := strconv.ParseInt(promoRaw, 10, 64)
		if convErr != nil {
			s.log.Error("invalid promo_id in webhook", "promo_id", promoRaw, "order_id", orderID)
		} else if markErr := s.promos.MarkUsed(ctx, userID, promoID); markErr != nil {
			s.log.Error("mark promo used", "promo_id", promoID, "user", userID, "err", markErr)
		}
	}

	return &WebhookResult{CreditsAdded: credits}, nil
}

func (s *WebhookService) verifySignature(rawBody []byte, signature string) error {
	if s.secret == "" || signature == "" {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
