// Package eligibility decides whether an online payment may be started for
// an attendance.
package eligibility

import (
	"time"

	attendancedomain "github.com/smallbiznis/eventpay/internal/attendance/domain"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	"github.com/smallbiznis/eventpay/internal/event/lifecycle"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
)

const (
	ReasonNotAttending   = "only attendees marked as attending can pay"
	ReasonFreeEvent      = "this event is free"
	ReasonNotUpcoming    = "payments are closed because the event is not upcoming"
	ReasonPastDeadline   = "the online payment deadline has passed"
	ReasonOnlineMissing  = "this event does not accept online payment"
	ReasonAlreadySettled = "the payment for this attendance is already settled"
)

// Evaluate runs every check and reports the first failure as the reason.
// current is the attendance's current payment, or nil.
func Evaluate(attendance attendancedomain.Attendance, current *domain.Payment, event eventdomain.Event, now time.Time) domain.EligibilityResult {
	checks := domain.EligibilityChecks{
		IsAttending:          attendance.Status == attendancedomain.StatusAttending,
		IsPaidEvent:          !event.IsFree(),
		IsUpcoming:           lifecycle.Of(event, now) == eventdomain.StatusUpcoming,
		IsBeforeDeadline:     BeforeDeadline(event, now),
		IsValidMethod:        event.PaymentMethods.Contains(eventdomain.PaymentMethodOnline),
		IsValidPaymentStatus: current == nil || !blocksNewSession(current.Status),
	}

	result := domain.EligibilityResult{Checks: checks}
	ordered := []struct {
		ok     bool
		reason string
	}{
		{checks.IsAttending, ReasonNotAttending},
		{checks.IsPaidEvent, ReasonFreeEvent},
		{checks.IsUpcoming, ReasonNotUpcoming},
		{checks.IsBeforeDeadline, ReasonPastDeadline},
		{checks.IsValidMethod, ReasonOnlineMissing},
		{checks.IsValidPaymentStatus, ReasonAlreadySettled},
	}
	for _, c := range ordered {
		if !c.ok {
			reason := c.reason
			result.Reason = &reason
			return result
		}
	}
	result.Eligible = true
	return result
}

// BeforeDeadline passes when no online deadline is set, when now is not past
// it, or when late payment is allowed and now is within the grace period.
func BeforeDeadline(event eventdomain.Event, now time.Time) bool {
	if event.OnlinePaymentDeadline == nil {
		return true
	}
	if !now.After(*event.OnlinePaymentDeadline) {
		return true
	}
	if !event.AllowPaymentAfterDeadline {
		return false
	}
	grace := event.GraceDeadline()
	return grace != nil && !now.After(*grace)
}

// A canceled current payment does not block: it was never collected and a
// new attempt starts a new row.
func blocksNewSession(status domain.Status) bool {
	return status.Collected() || status == domain.StatusRefunded
}
