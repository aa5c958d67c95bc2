package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	attendancedomain "github.com/smallbiznis/eventpay/internal/attendance/domain"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	paymentdomain "github.com/smallbiznis/eventpay/internal/payment/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details any               `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var limited *paymentdomain.RateLimitedError
		if errors.As(lastErr.Err, &limited) && limited.RetryAfter > 0 {
			seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.Itoa(seconds))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var fieldErrs *eventdomain.ValidationErrors
	if errors.As(err, &fieldErrs) && fieldErrs != nil {
		out := make([]ValidationError, 0, len(fieldErrs.Errors))
		for _, fe := range fieldErrs.Errors {
			out = append(out, ValidationError{Field: fe.Field, Code: fe.Code, Message: fe.Message})
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  out,
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: "invalid value",
				},
			},
		}
	}

	var restricted *eventdomain.RestrictionError
	if errors.As(err, &restricted) {
		return http.StatusConflict, errorPayload{
			Type:    "edit_restricted",
			Message: "the edit conflicts with existing attendees or payments",
			Details: gin.H{"violations": restricted.Violations},
		}
	}

	var exceeded *attendancedomain.CapacityExceededError
	if errors.As(err, &exceeded) {
		return http.StatusConflict, errorPayload{
			Type:    "capacity_exceeded",
			Message: "the event is full",
			Details: gin.H{"capacity": exceeded.Capacity, "current": exceeded.Current},
		}
	}

	var ineligible *paymentdomain.IneligibleError
	if errors.As(err, &ineligible) {
		message := "online payment is not available"
		if ineligible.Result.Reason != nil {
			message = *ineligible.Result.Reason
		}
		return http.StatusConflict, errorPayload{
			Type:    "payment_ineligible",
			Message: message,
			Details: ineligible.Result,
		}
	}

	switch {
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isUnavailableError(err):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and a stable code for request
// logs. Internal errors never expose their message.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status == http.StatusInternalServerError {
		return payload.Type, "internal_error"
	}
	var code error = err
	for {
		next := errors.Unwrap(code)
		if next == nil {
			break
		}
		code = next
	}
	return payload.Type, code.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, eventdomain.ErrInvalidID),
		errors.Is(err, eventdomain.ErrInvalidOwner),
		errors.Is(err, attendancedomain.ErrInvalidID),
		errors.Is(err, attendancedomain.ErrInvalidEvent),
		errors.Is(err, attendancedomain.ErrInvalidName),
		errors.Is(err, attendancedomain.ErrInvalidStatus),
		errors.Is(err, attendancedomain.ErrInvalidSource),
		errors.Is(err, attendancedomain.ErrInvalidGuestToken),
		errors.Is(err, paymentdomain.ErrInvalidID),
		errors.Is(err, paymentdomain.ErrInvalidStatus),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, eventdomain.ErrEventCanceled),
		errors.Is(err, eventdomain.ErrAlreadyCanceled),
		errors.Is(err, eventdomain.ErrHasParticipants),
		errors.Is(err, eventdomain.ErrConcurrentUpdate),
		errors.Is(err, eventdomain.ErrEditRestricted),
		errors.Is(err, attendancedomain.ErrCapacityExceeded),
		errors.Is(err, attendancedomain.ErrRegistrationClosed),
		errors.Is(err, attendancedomain.ErrConcurrentUpdate),
		errors.Is(err, paymentdomain.ErrIneligible),
		errors.Is(err, paymentdomain.ErrInvalidTransition),
		errors.Is(err, paymentdomain.ErrVersionConflict),
		errors.Is(err, paymentdomain.ErrSessionInProgress):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, eventdomain.ErrNotFound),
		errors.Is(err, attendancedomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isUnavailableError(err error) bool {
	switch {
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, paymentdomain.ErrRateLimited),
		errors.Is(err, paymentdomain.ErrPayoutAccountMissing),
		errors.Is(err, paymentdomain.ErrPayoutAccountNotReady),
		errors.Is(err, paymentdomain.ErrProviderUnavailable):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}
