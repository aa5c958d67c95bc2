package domain

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func fieldValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidatePatch checks field level constraints of a patch. Cross field rules
// are left to the restriction engine.
func ValidatePatch(p EventPatch) error {
	errs := &ValidationErrors{}
	collect(errs, fieldValidator().Struct(p))

	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		errs.Add(FieldTitle, "required", "title must not be blank")
	}
	if p.Capacity.Set && p.Capacity.Value != nil && *p.Capacity.Value < 1 {
		errs.Add(FieldCapacity, "min", "capacity must be at least 1 or null")
	}
	if p.ScheduledAt != nil && p.ScheduledAt.IsZero() {
		errs.Add(FieldScheduledAt, "required", "scheduled_at must be set")
	}
	if p.RegistrationDeadline != nil && p.RegistrationDeadline.IsZero() {
		errs.Add(FieldRegistrationDeadline, "required", "registration_deadline must be set")
	}
	if p.OnlinePaymentDeadline.Set && p.OnlinePaymentDeadline.Value != nil && p.OnlinePaymentDeadline.Value.IsZero() {
		errs.Add(FieldOnlinePaymentDeadline, "invalid", "online_payment_deadline must be a valid time or null")
	}

	if errs.Empty() {
		return nil
	}
	return errs
}

func ValidateCreate(req CreateEventRequest) error {
	errs := &ValidationErrors{}
	collect(errs, fieldValidator().Struct(req))

	if strings.TrimSpace(req.Title) == "" && !hasField(errs, FieldTitle) {
		errs.Add(FieldTitle, "required", "title must not be blank")
	}

	if errs.Empty() {
		return nil
	}
	return errs
}

func collect(errs *ValidationErrors, err error) {
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs.Add("request", "invalid_request", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		field := fe.Field()
		if idx := strings.Index(field, "["); idx > 0 {
			field = field[:idx]
		}
		errs.Add(field, fe.Tag(), messageFor(field, fe))
	}
}

func messageFor(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must be at least " + fe.Param()
	case "max":
		return field + " must be at most " + fe.Param()
	case "oneof":
		return field + " must be one of: " + fe.Param()
	default:
		return field + " is invalid"
	}
}

func hasField(errs *ValidationErrors, field string) bool {
	for _, e := range errs.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}
