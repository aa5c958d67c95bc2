package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/config"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const signatureTolerance = 300 * time.Second

// WebhookAdapter verifies Stripe-Signature headers and reduces events to
// the ones reconciliation acts on.
type WebhookAdapter struct {
	secret string
}

func NewWebhookAdapter(cfg config.Config) domain.WebhookAdapter {
	return &WebhookAdapter{secret: strings.TrimSpace(cfg.Stripe.WebhookSecret)}
}

func (a *WebhookAdapter) Provider() string {
	return ProviderName
}

func (a *WebhookAdapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.secret == "" {
		return domain.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, a.secret, signatureTolerance); err != nil {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *WebhookAdapter) Parse(ctx context.Context, payload []byte) (*domain.ProviderEvent, error) {
	var event stripego.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, domain.ErrInvalidEvent
	}

	out := &domain.ProviderEvent{
		Provider:        ProviderName,
		ProviderEventID: event.ID,
		OccurredAt:      timestamp(event.Created),
		Payload:         payload,
	}

	switch string(event.Type) {
	case "checkout.session.completed":
		session, err := decodeSession(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		// Delayed payment methods complete the session before the money
		// moves; those settle through the async events.
		if session.PaymentStatus != stripego.CheckoutSessionPaymentStatusPaid {
			return nil, domain.ErrEventIgnored
		}
		return fillSession(out, domain.ProviderEventCheckoutCompleted, session)
	case "checkout.session.async_payment_succeeded":
		session, err := decodeSession(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		return fillSession(out, domain.ProviderEventCheckoutCompleted, session)
	case "checkout.session.expired":
		session, err := decodeSession(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		return fillSession(out, domain.ProviderEventCheckoutExpired, session)
	case "checkout.session.async_payment_failed":
		session, err := decodeSession(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		return fillSession(out, domain.ProviderEventPaymentFailed, session)
	case "charge.refunded":
		var charge stripego.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, domain.ErrInvalidPayload
		}
		id, ok := paymentID(charge.Metadata)
		if !ok {
			return nil, domain.ErrInvalidEvent
		}
		out.Type = domain.ProviderEventRefunded
		out.PaymentID = id
		return out, nil
	default:
		return nil, domain.ErrEventIgnored
	}
}

func decodeSession(raw json.RawMessage) (*stripego.CheckoutSession, error) {
	var session stripego.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	return &session, nil
}

func fillSession(out *domain.ProviderEvent, eventType string, session *stripego.CheckoutSession) (*domain.ProviderEvent, error) {
	out.Type = eventType
	out.SessionID = session.ID
	if id, ok := paymentID(session.Metadata); ok {
		out.PaymentID = id
	}
	return out, nil
}

func paymentID(metadata map[string]string) (snowflake.ID, bool) {
	raw := strings.TrimSpace(metadata["payment_id"])
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func timestamp(created int64) time.Time {
	if created == 0 {
		return time.Now().UTC()
	}
	return time.Unix(created, 0).UTC()
}
