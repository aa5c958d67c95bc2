package domain

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MaxPaymentWindow bounds every payment deadline relative to the scheduled start.
const MaxPaymentWindow = 30 * 24 * time.Hour

type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusOngoing  Status = "ongoing"
	StatusPast     Status = "past"
	StatusCanceled Status = "canceled"
)

type PaymentMethod string

const (
	PaymentMethodOnline PaymentMethod = "online"
	PaymentMethodCash   PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodOnline, PaymentMethodCash:
		return true
	default:
		return false
	}
}

// PaymentMethods is the set of accepted payment methods, stored as a sorted
// JSON array.
type PaymentMethods []PaymentMethod

func NewPaymentMethods(methods ...PaymentMethod) PaymentMethods {
	return PaymentMethods(methods).Normalize()
}

// Normalize removes duplicates and sorts the set.
func (p PaymentMethods) Normalize() PaymentMethods {
	seen := make(map[PaymentMethod]struct{}, len(p))
	out := make(PaymentMethods, 0, len(p))
	for _, m := range p {
		m = PaymentMethod(strings.ToLower(strings.TrimSpace(string(m))))
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p PaymentMethods) Contains(method PaymentMethod) bool {
	for _, m := range p {
		if m == method {
			return true
		}
	}
	return false
}

func (p PaymentMethods) Equal(other PaymentMethods) bool {
	a, b := p.Normalize(), other.Normalize()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (p PaymentMethods) Value() (driver.Value, error) {
	return datatypes.NewJSONSlice([]PaymentMethod(p.Normalize())).Value()
}

func (p *PaymentMethods) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = PaymentMethods{}
		return nil
	case string:
		if v == "" {
			*p = PaymentMethods{}
			return nil
		}
	case []byte:
		if len(v) == 0 {
			*p = PaymentMethods{}
			return nil
		}
	}
	var stored datatypes.JSONSlice[PaymentMethod]
	if err := stored.Scan(src); err != nil {
		return fmt.Errorf("payment methods: %w", err)
	}
	*p = PaymentMethods(stored).Normalize()
	return nil
}

type Event struct {
	ID                        snowflake.ID   `gorm:"primaryKey" json:"id"`
	OwnerID                   snowflake.ID   `gorm:"not null;index" json:"owner_id"`
	Title                     string         `gorm:"not null" json:"title"`
	ScheduledAt               time.Time      `gorm:"not null" json:"scheduled_at"`
	Fee                       int64          `gorm:"not null;default:0" json:"fee"`
	Capacity                  *int           `json:"capacity"`
	PaymentMethods            PaymentMethods `gorm:"type:text;not null;default:'[]'" json:"payment_methods"`
	RegistrationDeadline      time.Time      `gorm:"not null" json:"registration_deadline"`
	OnlinePaymentDeadline     *time.Time     `json:"online_payment_deadline"`
	AllowPaymentAfterDeadline bool           `gorm:"not null;default:false" json:"allow_payment_after_deadline"`
	GracePeriodDays           int            `gorm:"not null;default:0" json:"grace_period_days"`
	CanceledAt                *time.Time     `json:"canceled_at"`
	CancellationNote          *string        `json:"cancellation_note,omitempty"`
	RosterVersion             int64          `gorm:"not null;default:0" json:"-"`
	CreatedAt                 time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt                 time.Time      `gorm:"not null" json:"updated_at"`
}

func (Event) TableName() string { return "events" }

// IsFree reports whether the event never requires a payment.
func (e Event) IsFree() bool {
	return e.Fee <= 0
}

// GraceDeadline is the last instant an online payment may be accepted when
// paying after the deadline is allowed. Nil when no online deadline exists.
func (e Event) GraceDeadline() *time.Time {
	if e.OnlinePaymentDeadline == nil {
		return nil
	}
	deadline := *e.OnlinePaymentDeadline
	if e.AllowPaymentAfterDeadline {
		deadline = deadline.AddDate(0, 0, e.GracePeriodDays)
	}
	return &deadline
}
