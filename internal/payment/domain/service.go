package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
)

type SessionService interface {
	Eligibility(ctx context.Context, attendanceID snowflake.ID) (EligibilityResult, error)
	Start(ctx context.Context, attendanceID snowflake.ID) (SessionRef, error)
}

type ReconcileService interface {
	Transition(ctx context.Context, req TransitionRequest) (Payment, error)
	RecordManual(ctx context.Context, req ManualPaymentRequest) (Payment, error)
	ApplyProviderEvent(ctx context.Context, event ProviderEvent) (Payment, error)
	ListByAttendance(ctx context.Context, attendanceID snowflake.ID) ([]Payment, error)
}

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

type PayoutService interface {
	RegisterPayoutAccount(ctx context.Context, ownerID snowflake.ID, providerAccountID string) (PayoutAccount, error)
}
