// Package notification publishes fire-and-forget downstream messages. Every
// message carries a deduplication id so consumers can collapse repeats of the
// same logical event into one delivery.
package notification

import (
	"context"
	"errors"
	"strings"
)

const TopicEventCanceled = "event.canceled"

var ErrInvalidMessage = errors.New("invalid_notification_message")

type Message struct {
	Topic           string
	Payload         []byte
	DeduplicationID string
	// Retries is the number of extra publish attempts after the first one.
	Retries int
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.Topic) == "" || strings.TrimSpace(m.DeduplicationID) == "" {
		return ErrInvalidMessage
	}
	return nil
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}
