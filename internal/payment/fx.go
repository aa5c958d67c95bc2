package payment

import (
	"github.com/smallbiznis/eventpay/internal/config"
	"github.com/smallbiznis/eventpay/internal/payment/adapters/stripe"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	"github.com/smallbiznis/eventpay/internal/payment/reconcile"
	"github.com/smallbiznis/eventpay/internal/payment/repository"
	"github.com/smallbiznis/eventpay/internal/payment/session"
	"github.com/smallbiznis/eventpay/internal/payment/webhook"
	"github.com/smallbiznis/eventpay/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(config.NewFeeScheduleHolder),
	fx.Provide(stripe.NewProvider),
	fx.Provide(func(p domain.Provider) domain.SessionExpirer {
		if expirer, ok := p.(domain.SessionExpirer); ok {
			return expirer
		}
		return nil
	}),
	fx.Provide(func(cfg config.Config) []domain.WebhookAdapter {
		return []domain.WebhookAdapter{stripe.NewWebhookAdapter(cfg)}
	}),
	fx.Provide(func(l *ratelimit.CheckoutLimiter) session.Limiter { return l }),
	fx.Provide(session.New),
	fx.Provide(func(m *session.Manager) domain.SessionService { return m }),
	fx.Provide(func(m *session.Manager) domain.PayoutService { return m }),
	fx.Provide(reconcile.New),
	fx.Provide(webhook.NewService),
)
