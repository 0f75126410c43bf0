package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation wraps request problems caught before any credit movement
	// or vendor call.
	ErrValidation = errors.New("invalid request")

	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskForbidden = errors.New("task belongs to another user")

	ErrPromoInvalid        = errors.New("promo code invalid")
	ErrPromoExpired        = errors.New("promo code expired")
	ErrPromoExhausted      = errors.New("promo code exhausted")
	ErrPromoAlreadyClaimed = errors.New("promo code already claimed")
	ErrPromoAlreadyUsed    = errors.New("promo code already used")

	ErrShareNotFound = errors.New("share link not found")

	ErrBadSignature = errors.New("webhook signature mismatch")
	ErrBadWebhook   = errors.New("webhook payload invalid")
)

// InsufficientCreditsError carries the numbers the purchase call-to-action
// needs; the HTTP layer maps it to a 402.
type InsufficientCreditsError struct {
	Required int
	Current  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, have %d", e.Required, e.Current)
}
