package notification

import (
	"context"
	"strings"

	"github.com/smallbiznis/eventpay/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("notification",
	fx.Provide(NewPublisher),
)

func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	n := cfg.Notification
	if !n.Enabled || strings.TrimSpace(n.AMQPURL) == "" {
		return NewLogPublisher(log)
	}

	publisher := NewAMQPPublisher(n.AMQPURL, n.Exchange, n.PublishTimeout, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			publisher.Close()
			return nil
		},
	})
	log.Info("notification publisher enabled", zap.String("exchange", n.Exchange))
	return publisher
}
