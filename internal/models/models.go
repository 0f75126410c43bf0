package models

import "time"

type TryOnMode string

const (
	ModeTop    TryOnMode = "top"
	ModeBottom TryOnMode = "bottom"
	ModeFull   TryOnMode = "full"
)

// FullVariant selects how a full-outfit job is executed: one combined vendor
// call or two sequential calls (top first, then bottom on top's output).
type FullVariant string

const (
	FullVariantSingle   FullVariant = "single"
	FullVariantSeparate FullVariant = "separate"
)

// TaskStatus is the local view of a vendor job state. The vendor reports a
// small integer code; it is translated into this enum once, at the client
// boundary, and never matched on elsewhere.
type TaskStatus int

const (
	StatusPending TaskStatus = iota
	StatusSucceeded
	StatusFailed
)

func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
	DiscountCredits DiscountType = "credits"
)

// User holds the per-user credit balance. The id is the auth provider's
// subject (a UUID string), not a local auto-increment.
type User struct {
	ID        string
	Credits   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task binds a vendor-issued job id to the user allowed to read its result.
type Task struct {
	TaskID         string
	UserID         string
	Mode           TryOnMode
	CreditsCharged int
	CreatedAt      time.Time
}

// UsageRecord is one row of the user-visible generation history. For a
// two-phase full job the row is repointed to the second-phase task id once
// that phase starts, so history converges on the final artifact.
type UsageRecord struct {
	ID        int64
	UserID    string
	TaskID    string
	Mode      TryOnMode
	Credits   int
	CreatedAt time.Time
}

// Payment is the idempotency record for a processed order webhook, keyed by
// the payment provider's order id.
type Payment struct {
	ID        int64
	OrderID   string
	UserID    string
	VariantID string
	Credits   int
	CreatedAt time.Time
}

type CreditPack struct {
	ID              int64
	VariantID       string
	Title           string
	Currency        string
	PriceMinorUnits int
	Credits         int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type PromoCode struct {
	ID            int64
	Code          string
	DiscountType  DiscountType
	DiscountValue int
	MaxUses       int
	Uses          int
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	CreatedAt     time.Time
}

type PromoClaim struct {
	ID          int64
	UserID      string
	PromoCodeID int64
	Used        bool
	CreatedAt   time.Time
	UsedAt      *time.Time
}

type ShareLink struct {
	ID            int64
	Code          string
	UserID        string
	TaskID        string
	Clicks        int
	RewardGiven   bool
	RewardCredits int
	CreatedAt     time.Time
}
