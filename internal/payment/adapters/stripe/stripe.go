// Package stripe connects checkout sessions, connected payout accounts and
// webhooks to Stripe.
package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/eventpay/internal/config"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

const ProviderName = "stripe"

var ErrNotConfigured = errors.New("stripe_not_configured")

type checkoutAPI interface {
	New(params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
	Expire(id string, params *stripego.CheckoutSessionExpireParams) (*stripego.CheckoutSession, error)
}

type accountAPI interface {
	GetByID(id string, params *stripego.AccountParams) (*stripego.Account, error)
}

// Provider creates destination-charge checkout sessions on behalf of
// organizers' connected accounts.
type Provider struct {
	log      *zap.Logger
	sessions checkoutAPI
	accounts accountAPI
}

func NewProvider(cfg config.Config, log *zap.Logger) domain.Provider {
	log = log.Named("payment.stripe")
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		log.Warn("stripe secret key not set, online checkout is unavailable")
		return &Provider{log: log}
	}
	api := client.New(key, nil)
	return &Provider{
		log:      log,
		sessions: api.CheckoutSessions,
		accounts: api.Accounts,
	}
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	if p.sessions == nil {
		return domain.CheckoutSession{}, ErrNotConfigured
	}
	if req.IdempotencyKey == "" {
		return domain.CheckoutSession{}, errors.New("idempotency key is required")
	}

	params := &stripego.CheckoutSessionParams{
		Mode: stripego.String(string(stripego.CheckoutSessionModePayment)),
		LineItems: []*stripego.CheckoutSessionLineItemParams{{
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripego.String(strings.ToLower(req.Currency)),
				UnitAmount: stripego.Int64(req.Amount),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(req.Description),
				},
			},
			Quantity: stripego.Int64(1),
		}},
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
			TransferData: &stripego.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripego.String(req.DestinationAccount),
			},
			Metadata: req.Metadata,
		},
		SuccessURL:        stripego.String(req.SuccessURL),
		CancelURL:         stripego.String(req.CancelURL),
		ClientReferenceID: stripego.String(req.CustomerRef),
	}
	if req.PlatformFee > 0 {
		params.PaymentIntentData.ApplicationFeeAmount = stripego.Int64(req.PlatformFee)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	session, err := p.sessions.New(params)
	if err != nil {
		return domain.CheckoutSession{}, err
	}
	p.log.Debug("checkout session created",
		zap.String("session_id", session.ID),
		zap.String("idempotency_key", req.IdempotencyKey),
	)
	return domain.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ExpireCheckoutSession closes an open hosted session. A session that
// already completed or expired cannot be expired and yields an error.
func (p *Provider) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	if p.sessions == nil {
		return ErrNotConfigured
	}
	params := &stripego.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := p.sessions.Expire(sessionID, params); err != nil {
		return err
	}
	p.log.Info("checkout session expired", zap.String("session_id", sessionID))
	return nil
}

// PayoutAccountReady reports whether the connected account can take charges
// and receive payouts.
func (p *Provider) PayoutAccountReady(ctx context.Context, accountID string) (bool, error) {
	if p.accounts == nil {
		return false, ErrNotConfigured
	}
	account, err := p.accounts.GetByID(accountID, nil)
	if err != nil {
		var stripeErr *stripego.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == 404 {
			return false, nil
		}
		return false, err
	}
	return account.ChargesEnabled && account.PayoutsEnabled, nil
}
