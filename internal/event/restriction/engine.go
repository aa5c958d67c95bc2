package restriction

import (
	"fmt"

	"github.com/smallbiznis/eventpay/internal/event/domain"
)

// Context is the roster and ledger state an edit is judged against.
type Context struct {
	// AttendeeCount counts attending rows only.
	AttendeeCount int
	// HasCompletedOnlinePayment is true once any online payment for the
	// event reached paid or refunded. Cash completions never set it.
	HasCompletedOnlinePayment bool
}

type Evaluation struct {
	// Proposed is the normalized event the patch would produce.
	Proposed   domain.Event
	Violations []domain.Violation
	Invalid    *domain.ValidationErrors
}

func (e Evaluation) Blocking() []domain.Violation {
	var out []domain.Violation
	for _, v := range e.Violations {
		if v.Level.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

func (e Evaluation) Advisories() []domain.Violation {
	var out []domain.Violation
	for _, v := range e.Violations {
		if v.Level == domain.LevelAdvisory {
			out = append(out, v)
		}
	}
	return out
}

func (e Evaluation) Allowed() bool {
	return e.Invalid.Empty() && len(e.Blocking()) == 0
}

// Err returns the error that must reject the whole write, or nil.
func (e Evaluation) Err() error {
	if !e.Invalid.Empty() {
		return e.Invalid
	}
	if blocking := e.Blocking(); len(blocking) > 0 {
		return &domain.RestrictionError{Violations: blocking}
	}
	return nil
}

// Evaluate classifies a proposed edit against the current event. It never
// mutates its inputs.
func Evaluate(current domain.Event, patch domain.EventPatch, ctx Context) Evaluation {
	proposed := Normalize(patch.Apply(current))
	eval := Evaluation{Proposed: proposed}

	if ctx.HasCompletedOnlinePayment {
		if patch.Fee != nil {
			eval.Violations = append(eval.Violations, domain.Violation{
				Field:   domain.FieldFee,
				Level:   domain.LevelStructural,
				Message: "fee cannot be changed after an online payment has been completed",
			})
		}
		if patch.PaymentMethods != nil {
			eval.Violations = append(eval.Violations, domain.Violation{
				Field:   domain.FieldPaymentMethods,
				Level:   domain.LevelStructural,
				Message: "payment methods cannot be changed after an online payment has been completed",
			})
		}
	}

	if patch.Capacity.Set && patch.Capacity.Value != nil && *patch.Capacity.Value < ctx.AttendeeCount {
		eval.Violations = append(eval.Violations, domain.Violation{
			Field: domain.FieldCapacity,
			Level: domain.LevelConditional,
			Message: fmt.Sprintf("capacity %d is below the current attending count %d",
				*patch.Capacity.Value, ctx.AttendeeCount),
		})
	}

	if ctx.AttendeeCount > 0 && !patch.IsEmpty() {
		eval.Violations = append(eval.Violations, domain.Violation{
			Field:   domain.FieldEvent,
			Level:   domain.LevelAdvisory,
			Message: "this change may affect people who already responded",
		})
	}

	invalid := &domain.ValidationErrors{}
	if patch.TouchesSchedule() {
		merge(invalid, ValidateSchedule(proposed))
	}
	if patch.TouchesPricing() {
		merge(invalid, ValidatePricing(proposed))
	}
	if !invalid.Empty() {
		eval.Invalid = invalid
	}

	return eval
}

// EvaluateNew validates a brand new event after normalization.
func EvaluateNew(event domain.Event) (domain.Event, error) {
	proposed := Normalize(event)
	invalid := &domain.ValidationErrors{}
	merge(invalid, ValidateSchedule(proposed))
	merge(invalid, ValidatePricing(proposed))
	if !invalid.Empty() {
		return proposed, invalid
	}
	return proposed, nil
}

// Normalize clears the settings a free event cannot carry.
func Normalize(event domain.Event) domain.Event {
	out := event
	out.PaymentMethods = event.PaymentMethods.Normalize()
	if out.IsFree() {
		out.Fee = 0
		out.PaymentMethods = domain.PaymentMethods{}
		out.OnlinePaymentDeadline = nil
		out.AllowPaymentAfterDeadline = false
		out.GracePeriodDays = 0
	}
	if !out.AllowPaymentAfterDeadline {
		out.GracePeriodDays = 0
	}
	return out
}

// ValidateSchedule checks the date invariants using effective values.
func ValidateSchedule(event domain.Event) *domain.ValidationErrors {
	errs := &domain.ValidationErrors{}
	limit := event.ScheduledAt.Add(domain.MaxPaymentWindow)

	if event.RegistrationDeadline.After(event.ScheduledAt) {
		errs.Add(domain.FieldRegistrationDeadline, "after_scheduled_at",
			"registration deadline must not be after the event start")
	}

	if online := event.OnlinePaymentDeadline; online != nil {
		if online.Before(event.RegistrationDeadline) {
			errs.Add(domain.FieldOnlinePaymentDeadline, "before_registration_deadline",
				"online payment deadline must not be before the registration deadline")
		}
		if online.After(limit) {
			errs.Add(domain.FieldOnlinePaymentDeadline, "exceeds_payment_window",
				"online payment deadline must be within 30 days after the event start")
		}
		if event.AllowPaymentAfterDeadline {
			if grace := event.GraceDeadline(); grace != nil && grace.After(limit) {
				errs.Add(domain.FieldGracePeriodDays, "exceeds_payment_window",
					"grace period must end within 30 days after the event start")
			}
		}
	}

	if errs.Empty() {
		return nil
	}
	return errs
}

// ValidatePricing checks that a paid event accepts at least one method.
func ValidatePricing(event domain.Event) *domain.ValidationErrors {
	if event.IsFree() || len(event.PaymentMethods) > 0 {
		return nil
	}
	errs := &domain.ValidationErrors{}
	errs.Add(domain.FieldPaymentMethods, "required", "a paid event must accept at least one payment method")
	return errs
}

func merge(dst, src *domain.ValidationErrors) {
	if src.Empty() {
		return
	}
	dst.Errors = append(dst.Errors, src.Errors...)
}
