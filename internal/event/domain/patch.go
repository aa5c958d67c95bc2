package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Optional carries a nullable field in a patch: Set distinguishes "leave as
// is" from "set to Value", where a nil Value clears the field.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// UnmarshalJSON runs only for keys present in the payload, so an absent key
// keeps Set false and an explicit null clears the field.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}

func SetTo[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

func Clear[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// EventPatch is a proposed edit. Every field is optional; nil means untouched.
type EventPatch struct {
	Title                     *string             `json:"title" validate:"omitempty,min=1,max=200"`
	ScheduledAt               *time.Time          `json:"scheduled_at"`
	Fee                       *int64              `json:"fee" validate:"omitempty,min=0,max=10000000"`
	Capacity                  Optional[int]       `json:"capacity" validate:"-"`
	PaymentMethods            *PaymentMethods     `json:"payment_methods" validate:"omitempty,dive,oneof=online cash"`
	RegistrationDeadline      *time.Time          `json:"registration_deadline"`
	OnlinePaymentDeadline     Optional[time.Time] `json:"online_payment_deadline" validate:"-"`
	AllowPaymentAfterDeadline *bool               `json:"allow_payment_after_deadline"`
	GracePeriodDays           *int                `json:"grace_period_days" validate:"omitempty,min=0,max=30"`
}

// IsEmpty reports whether the patch touches no field.
func (p EventPatch) IsEmpty() bool {
	return p.Title == nil &&
		p.ScheduledAt == nil &&
		p.Fee == nil &&
		!p.Capacity.Set &&
		p.PaymentMethods == nil &&
		p.RegistrationDeadline == nil &&
		!p.OnlinePaymentDeadline.Set &&
		p.AllowPaymentAfterDeadline == nil &&
		p.GracePeriodDays == nil
}

// TouchesSchedule reports whether any date related field is part of the patch.
func (p EventPatch) TouchesSchedule() bool {
	return p.ScheduledAt != nil ||
		p.RegistrationDeadline != nil ||
		p.OnlinePaymentDeadline.Set ||
		p.AllowPaymentAfterDeadline != nil ||
		p.GracePeriodDays != nil
}

// TouchesPricing reports whether the patch attempts to set the fee or the
// accepted payment methods, regardless of the proposed values.
func (p EventPatch) TouchesPricing() bool {
	return p.Fee != nil || p.PaymentMethods != nil
}

// Fields lists the patched field names in a stable order.
func (p EventPatch) Fields() []string {
	var out []string
	if p.Title != nil {
		out = append(out, FieldTitle)
	}
	if p.ScheduledAt != nil {
		out = append(out, FieldScheduledAt)
	}
	if p.Fee != nil {
		out = append(out, FieldFee)
	}
	if p.Capacity.Set {
		out = append(out, FieldCapacity)
	}
	if p.PaymentMethods != nil {
		out = append(out, FieldPaymentMethods)
	}
	if p.RegistrationDeadline != nil {
		out = append(out, FieldRegistrationDeadline)
	}
	if p.OnlinePaymentDeadline.Set {
		out = append(out, FieldOnlinePaymentDeadline)
	}
	if p.AllowPaymentAfterDeadline != nil {
		out = append(out, FieldAllowPaymentAfterDeadline)
	}
	if p.GracePeriodDays != nil {
		out = append(out, FieldGracePeriodDays)
	}
	return out
}

// Apply returns the event with every patched field replaced. No
// normalization or validation happens here.
func (p EventPatch) Apply(e Event) Event {
	out := e
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.ScheduledAt != nil {
		out.ScheduledAt = p.ScheduledAt.UTC()
	}
	if p.Fee != nil {
		out.Fee = *p.Fee
	}
	if p.Capacity.Set {
		out.Capacity = copyPtr(p.Capacity.Value)
	}
	if p.PaymentMethods != nil {
		out.PaymentMethods = p.PaymentMethods.Normalize()
	}
	if p.RegistrationDeadline != nil {
		out.RegistrationDeadline = p.RegistrationDeadline.UTC()
	}
	if p.OnlinePaymentDeadline.Set {
		if p.OnlinePaymentDeadline.Value == nil {
			out.OnlinePaymentDeadline = nil
		} else {
			v := p.OnlinePaymentDeadline.Value.UTC()
			out.OnlinePaymentDeadline = &v
		}
	}
	if p.AllowPaymentAfterDeadline != nil {
		out.AllowPaymentAfterDeadline = *p.AllowPaymentAfterDeadline
	}
	if p.GracePeriodDays != nil {
		out.GracePeriodDays = *p.GracePeriodDays
	}
	return out
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

type CreateEventRequest struct {
	OwnerID                   snowflake.ID   `json:"owner_id" validate:"required"`
	Title                     string         `json:"title" validate:"required,min=1,max=200"`
	ScheduledAt               time.Time      `json:"scheduled_at" validate:"required"`
	Fee                       int64          `json:"fee" validate:"min=0,max=10000000"`
	Capacity                  *int           `json:"capacity" validate:"omitempty,min=1"`
	PaymentMethods            PaymentMethods `json:"payment_methods" validate:"dive,oneof=online cash"`
	RegistrationDeadline      time.Time      `json:"registration_deadline" validate:"required"`
	OnlinePaymentDeadline     *time.Time     `json:"online_payment_deadline"`
	AllowPaymentAfterDeadline bool           `json:"allow_payment_after_deadline"`
	GracePeriodDays           int            `json:"grace_period_days" validate:"min=0,max=30"`
}

type UpdateEventRequest struct {
	ID    snowflake.ID
	Patch EventPatch
}

type UpdateEventResponse struct {
	Event      Event       `json:"event"`
	Advisories []Violation `json:"advisories,omitempty"`
}

// Field names used in violations and validation errors.
const (
	FieldTitle                     = "title"
	FieldScheduledAt               = "scheduled_at"
	FieldFee                       = "fee"
	FieldCapacity                  = "capacity"
	FieldPaymentMethods            = "payment_methods"
	FieldRegistrationDeadline      = "registration_deadline"
	FieldOnlinePaymentDeadline     = "online_payment_deadline"
	FieldAllowPaymentAfterDeadline = "allow_payment_after_deadline"
	FieldGracePeriodDays           = "grace_period_days"
	FieldEvent                     = "event"
)
