package domain

import (
	"context"
	"net/http"
)

type CheckoutRequest struct {
	Amount             int64
	Currency           string
	Description        string
	DestinationAccount string
	PlatformFee        int64
	CustomerRef        string
	SuccessURL         string
	CancelURL          string
	IdempotencyKey     string
	Metadata           map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Provider is the payment provider as seen by the session manager.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	PayoutAccountReady(ctx context.Context, accountID string) (bool, error)
}

// SessionExpirer closes a hosted checkout session so it can no longer be
// paid.
type SessionExpirer interface {
	ExpireCheckoutSession(ctx context.Context, sessionID string) error
}

// WebhookAdapter verifies and decodes provider callbacks.
type WebhookAdapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ProviderEvent, error)
}
