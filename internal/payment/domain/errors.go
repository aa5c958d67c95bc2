package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidID             = errors.New("invalid_id")
	ErrInvalidStatus         = errors.New("invalid_payment_status")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrNotFound              = errors.New("payment_not_found")
	ErrIneligible            = errors.New("payment_ineligible")
	ErrInvalidTransition     = errors.New("invalid_payment_transition")
	ErrVersionConflict       = errors.New("payment_version_conflict")
	ErrSessionInProgress     = errors.New("payment_session_in_progress")
	ErrRateLimited           = errors.New("payment_rate_limited")
	ErrPayoutAccountMissing  = errors.New("payout_account_missing")
	ErrPayoutAccountNotReady = errors.New("payout_account_not_ready")
	ErrProviderUnavailable   = errors.New("payment_provider_unavailable")

	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrEventStale            = errors.New("event_stale")
)

// IneligibleError carries the evaluation that refused a payment start. It
// matches ErrIneligible.
type IneligibleError struct {
	Result EligibilityResult
}

func (e *IneligibleError) Error() string {
	if e.Result.Reason != nil {
		return "payment ineligible: " + *e.Result.Reason
	}
	return "payment ineligible"
}

func (e *IneligibleError) Is(target error) bool {
	return target == ErrIneligible
}

// RateLimitedError matches ErrRateLimited. RetryAfter is zero when the
// limiter gave no hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("payment rate limited, retry after %s", e.RetryAfter)
	}
	return "payment rate limited"
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
