package restriction

import (
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/eventpay/internal/event/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

func paidEvent() domain.Event {
	online := start.Add(-24 * time.Hour)
	capacity := 5
	return domain.Event{
		ID:                    1,
		Title:                 "Meetup",
		ScheduledAt:           start,
		Fee:                   1000,
		Capacity:              &capacity,
		PaymentMethods:        domain.NewPaymentMethods(domain.PaymentMethodOnline, domain.PaymentMethodCash),
		RegistrationDeadline:  start.Add(-48 * time.Hour),
		OnlinePaymentDeadline: &online,
	}
}

func blockingFields(ev Evaluation) map[string]domain.ViolationLevel {
	out := map[string]domain.ViolationLevel{}
	for _, v := range ev.Blocking() {
		out[v.Field] = v.Level
	}
	return out
}

func TestFeeLockedAfterOnlinePayment(t *testing.T) {
	fee := int64(2000)
	ev := Evaluate(paidEvent(), domain.EventPatch{Fee: &fee}, Context{AttendeeCount: 1, HasCompletedOnlinePayment: true})

	require.False(t, ev.Allowed())
	assert.Equal(t, map[string]domain.ViolationLevel{domain.FieldFee: domain.LevelStructural}, blockingFields(ev))

	err := ev.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEditRestricted))
	var rerr *domain.RestrictionError
	require.ErrorAs(t, err, &rerr)
	assert.Len(t, rerr.Violations, 1)
}

func TestPricingLockAppliesToUnchangedValues(t *testing.T) {
	current := paidEvent()
	fee := current.Fee
	methods := current.PaymentMethods

	ev := Evaluate(current, domain.EventPatch{Fee: &fee, PaymentMethods: &methods}, Context{HasCompletedOnlinePayment: true})

	assert.Equal(t, map[string]domain.ViolationLevel{
		domain.FieldFee:            domain.LevelStructural,
		domain.FieldPaymentMethods: domain.LevelStructural,
	}, blockingFields(ev))
}

func TestPricingEditableWithoutOnlinePayment(t *testing.T) {
	fee := int64(2000)
	ev := Evaluate(paidEvent(), domain.EventPatch{Fee: &fee}, Context{AttendeeCount: 2})

	assert.True(t, ev.Allowed())
	assert.NoError(t, ev.Err())
	assert.Equal(t, int64(2000), ev.Proposed.Fee)
	require.Len(t, ev.Advisories(), 1)
	assert.Equal(t, domain.FieldEvent, ev.Advisories()[0].Field)
}

func TestTitleEditAllowedAfterOnlinePayment(t *testing.T) {
	title := "Renamed"
	ev := Evaluate(paidEvent(), domain.EventPatch{Title: &title}, Context{AttendeeCount: 3, HasCompletedOnlinePayment: true})

	assert.True(t, ev.Allowed())
	assert.Equal(t, "Renamed", ev.Proposed.Title)
}

func TestCapacityReduction(t *testing.T) {
	ctx := Context{AttendeeCount: 3}

	tests := []struct {
		name    string
		patch   domain.Optional[int]
		allowed bool
	}{
		{name: "below attending", patch: domain.SetTo(2), allowed: false},
		{name: "equal to attending", patch: domain.SetTo(3), allowed: true},
		{name: "above attending", patch: domain.SetTo(10), allowed: true},
		{name: "unlimited", patch: domain.Clear[int](), allowed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(paidEvent(), domain.EventPatch{Capacity: tt.patch}, ctx)
			assert.Equal(t, tt.allowed, ev.Allowed())
			if !tt.allowed {
				assert.Equal(t, map[string]domain.ViolationLevel{domain.FieldCapacity: domain.LevelConditional}, blockingFields(ev))
			}
		})
	}
}

func TestNoAdvisoryWithoutAttendees(t *testing.T) {
	title := "Quiet"
	ev := Evaluate(paidEvent(), domain.EventPatch{Title: &title}, Context{})

	assert.Empty(t, ev.Violations)
	assert.True(t, ev.Allowed())
}

func TestFreeEventNormalization(t *testing.T) {
	fee := int64(0)
	ev := Evaluate(paidEvent(), domain.EventPatch{Fee: &fee}, Context{})

	require.True(t, ev.Allowed())
	assert.Empty(t, ev.Proposed.PaymentMethods)
	assert.Nil(t, ev.Proposed.OnlinePaymentDeadline)
	assert.False(t, ev.Proposed.AllowPaymentAfterDeadline)
	assert.Zero(t, ev.Proposed.GracePeriodDays)
}

func TestFreeEventIgnoresPaymentSettings(t *testing.T) {
	current := paidEvent()
	current.Fee = 0
	current.PaymentMethods = domain.PaymentMethods{}
	current.OnlinePaymentDeadline = nil

	late := start.Add(90 * 24 * time.Hour)
	methods := domain.NewPaymentMethods(domain.PaymentMethodOnline)
	ev := Evaluate(current, domain.EventPatch{
		OnlinePaymentDeadline: domain.SetTo(late),
		PaymentMethods:        &methods,
	}, Context{})

	assert.True(t, ev.Allowed())
	assert.Nil(t, ev.Proposed.OnlinePaymentDeadline)
	assert.Empty(t, ev.Proposed.PaymentMethods)
}

func TestPaidEventRequiresMethod(t *testing.T) {
	empty := domain.PaymentMethods{}
	ev := Evaluate(paidEvent(), domain.EventPatch{PaymentMethods: &empty}, Context{})

	require.False(t, ev.Allowed())
	err := ev.Err()
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Equal(t, domain.FieldPaymentMethods, ev.Invalid.Errors[0].Field)
}

func TestScheduleRevalidation(t *testing.T) {
	tests := []struct {
		name  string
		patch domain.EventPatch
		field string
	}{
		{
			name:  "registration after start",
			patch: domain.EventPatch{RegistrationDeadline: ptr(start.Add(time.Hour))},
			field: domain.FieldRegistrationDeadline,
		},
		{
			name:  "start moved before online deadline window",
			patch: domain.EventPatch{ScheduledAt: ptr(start.Add(-72 * time.Hour))},
			field: domain.FieldRegistrationDeadline,
		},
		{
			name:  "online deadline before registration",
			patch: domain.EventPatch{OnlinePaymentDeadline: domain.SetTo(start.Add(-72 * time.Hour))},
			field: domain.FieldOnlinePaymentDeadline,
		},
		{
			name:  "online deadline beyond window",
			patch: domain.EventPatch{OnlinePaymentDeadline: domain.SetTo(start.Add(31 * 24 * time.Hour))},
			field: domain.FieldOnlinePaymentDeadline,
		},
		{
			name: "grace beyond window",
			patch: domain.EventPatch{
				OnlinePaymentDeadline:     domain.SetTo(start.Add(25 * 24 * time.Hour)),
				AllowPaymentAfterDeadline: ptr(true),
				GracePeriodDays:           ptr(10),
			},
			field: domain.FieldGracePeriodDays,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(paidEvent(), tt.patch, Context{})
			require.False(t, ev.Allowed())
			require.NotNil(t, ev.Invalid)
			assert.Equal(t, tt.field, ev.Invalid.Errors[0].Field)
		})
	}
}

func TestGraceIgnoredWhenNotAllowed(t *testing.T) {
	ev := Evaluate(paidEvent(), domain.EventPatch{
		OnlinePaymentDeadline: domain.SetTo(start.Add(29 * 24 * time.Hour)),
		GracePeriodDays:       ptr(10),
	}, Context{})

	assert.True(t, ev.Allowed())
	assert.Zero(t, ev.Proposed.GracePeriodDays)
}

func TestRejectedEditCarriesEveryViolation(t *testing.T) {
	fee := int64(3000)
	ev := Evaluate(paidEvent(), domain.EventPatch{
		Fee:      &fee,
		Capacity: domain.SetTo(1),
	}, Context{AttendeeCount: 4, HasCompletedOnlinePayment: true})

	assert.Equal(t, map[string]domain.ViolationLevel{
		domain.FieldFee:      domain.LevelStructural,
		domain.FieldCapacity: domain.LevelConditional,
	}, blockingFields(ev))
	assert.Len(t, ev.Advisories(), 1)
}

func TestEvaluateNew(t *testing.T) {
	event := paidEvent()
	_, err := EvaluateNew(event)
	require.NoError(t, err)

	event.RegistrationDeadline = start.Add(time.Minute)
	_, err = EvaluateNew(event)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func ptr[T any](v T) *T { return &v }
