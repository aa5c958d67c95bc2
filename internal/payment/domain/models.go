package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	"gorm.io/datatypes"
)

type Method = eventdomain.PaymentMethod

const (
	MethodOnline = eventdomain.PaymentMethodOnline
	MethodCash   = eventdomain.PaymentMethodCash
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusReceived Status = "received"
	StatusRefunded Status = "refunded"
	StatusWaived   Status = "waived"
	StatusCanceled Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusReceived, StatusRefunded, StatusWaived, StatusCanceled:
		return true
	default:
		return false
	}
}

// Open statuses may still turn into a collected payment.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusFailed
}

// Collected statuses mean the fee has been settled.
func (s Status) Collected() bool {
	return s == StatusPaid || s == StatusReceived || s == StatusWaived
}

// SetsPaidAt reports whether entering s stamps the payment time.
func (s Status) SetsPaidAt() bool {
	return s == StatusPaid || s == StatusReceived
}

type Payment struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	AttendanceID      snowflake.ID `gorm:"not null;index" json:"attendance_id"`
	EventID           snowflake.ID `gorm:"not null" json:"event_id"`
	Method            Method       `gorm:"not null" json:"method"`
	Amount            int64        `gorm:"not null" json:"amount"`
	Status            Status       `gorm:"not null" json:"status"`
	PaidAt            *time.Time   `json:"paid_at"`
	Version           int64        `gorm:"not null;default:1" json:"version"`
	IdempotencyKey    *string      `json:"-"`
	ProviderSessionID *string      `json:"provider_session_id,omitempty"`
	CheckoutURL       *string      `json:"checkout_url,omitempty"`
	PlatformFee       int64        `gorm:"not null;default:0" json:"platform_fee"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// SelectCurrent returns the payment that represents the attendance's
// payment state: latest paid first, then latest created, then latest
// updated. Rows without a paid time sort after rows with one.
func SelectCurrent(payments []Payment) *Payment {
	if len(payments) == 0 {
		return nil
	}
	sorted := make([]Payment, len(payments))
	copy(sorted, payments)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if (a.PaidAt == nil) != (b.PaidAt == nil) {
			return a.PaidAt != nil
		}
		if a.PaidAt != nil && !a.PaidAt.Equal(*b.PaidAt) {
			return a.PaidAt.After(*b.PaidAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	current := sorted[0]
	return &current
}

// PayoutAccount links an organizer to the connected provider account that
// receives event payouts.
type PayoutAccount struct {
	OwnerID           snowflake.ID `gorm:"primaryKey" json:"owner_id"`
	ProviderAccountID string       `gorm:"not null" json:"provider_account_id"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"not null" json:"updated_at"`
}

func (PayoutAccount) TableName() string { return "payout_accounts" }

type EligibilityChecks struct {
	IsAttending          bool `json:"is_attending"`
	IsPaidEvent          bool `json:"is_paid_event"`
	IsUpcoming           bool `json:"is_upcoming"`
	IsBeforeDeadline     bool `json:"is_before_deadline"`
	IsValidMethod        bool `json:"is_valid_method"`
	IsValidPaymentStatus bool `json:"is_valid_payment_status"`
}

type EligibilityResult struct {
	Eligible bool              `json:"eligible"`
	Reason   *string           `json:"reason"`
	Checks   EligibilityChecks `json:"checks"`
}

// SessionRef is the hosted checkout handed back to the payer.
type SessionRef struct {
	PaymentID      snowflake.ID `json:"payment_id"`
	SessionID      string       `json:"session_id"`
	URL            string       `json:"url"`
	IdempotencyKey string       `json:"-"`
	Amount         int64        `json:"amount"`
	PlatformFee    int64        `json:"platform_fee"`
}

// TransitionSource tells provider callbacks apart from organizer actions.
type TransitionSource string

const (
	SourceProvider TransitionSource = "provider"
	SourceManual   TransitionSource = "manual"
)

type TransitionRequest struct {
	PaymentID snowflake.ID
	To        Status
	// ExpectedVersion, when set, must match the stored version.
	ExpectedVersion *int64
	Source          TransitionSource
}

type ManualPaymentRequest struct {
	AttendanceID snowflake.ID
	Status       Status
	// Amount overrides the event fee for a newly recorded payment.
	Amount *int64
}

// ProviderEvent is a verified provider callback reduced to what
// reconciliation needs.
type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	PaymentID       snowflake.ID
	SessionID       string
	OccurredAt      time.Time
	Payload         []byte
}

const (
	ProviderEventCheckoutCompleted = "checkout_completed"
	ProviderEventCheckoutExpired   = "checkout_expired"
	ProviderEventPaymentFailed     = "payment_failed"
	ProviderEventRefunded          = "refunded"
)

// TargetStatus maps a provider event type to the payment status it implies.
func TargetStatus(eventType string) (Status, bool) {
	switch eventType {
	case ProviderEventCheckoutCompleted:
		return StatusPaid, true
	case ProviderEventCheckoutExpired, ProviderEventPaymentFailed:
		return StatusFailed, true
	case ProviderEventRefunded:
		return StatusRefunded, true
	default:
		return "", false
	}
}

// EventRecord is a received provider callback, kept for deduplication.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"not null" json:"provider"`
	ProviderEventID string         `gorm:"not null" json:"provider_event_id"`
	EventType       string         `gorm:"not null" json:"event_type"`
	PaymentID       *snowflake.ID  `json:"payment_id"`
	Payload         datatypes.JSON `gorm:"type:text;not null" json:"payload"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }
