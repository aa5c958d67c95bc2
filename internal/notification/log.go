package notification

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher records messages in the log instead of delivering them. Used
// when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("notification.log")}
}

func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	p.log.Info("notification",
		zap.String("topic", msg.Topic),
		zap.String("deduplication_id", msg.DeduplicationID),
		zap.ByteString("payload", msg.Payload),
	)
	return nil
}
