// Package cancellation marks events canceled exactly once and announces the
// first successful cancellation downstream.
package cancellation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/clock"
	"github.com/smallbiznis/eventpay/internal/config"
	"github.com/smallbiznis/eventpay/internal/event/domain"
	"github.com/smallbiznis/eventpay/internal/notification"
	"github.com/smallbiznis/eventpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNoteLength = 1000

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      domain.Repository
	Publisher notification.Publisher
	Cfg       config.Config
	Metrics   *metrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      domain.Repository
	publisher notification.Publisher
	retries   int
	timeout   time.Duration
	metrics   *metrics.Metrics

	inflight sync.WaitGroup
}

func New(lc fx.Lifecycle, p Params) *Dispatcher {
	d := &Dispatcher{
		db:        p.DB,
		log:       p.Log.Named("event.cancellation"),
		clock:     p.Clock,
		repo:      p.Repo,
		publisher: p.Publisher,
		retries:   p.Cfg.Notification.Retries,
		timeout:   p.Cfg.Notification.PublishTimeout,
		metrics:   p.Metrics,
	}
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				d.Wait()
				return nil
			},
		})
	}
	return d
}

type canceledPayload struct {
	EventID    string    `json:"event_id"`
	OwnerID    string    `json:"owner_id"`
	Title      string    `json:"title"`
	CanceledAt time.Time `json:"canceled_at"`
	Note       *string   `json:"note,omitempty"`
}

// DeduplicationID depends on the event id only, so every cancel attempt for
// the same event maps to the same downstream message.
func DeduplicationID(eventID snowflake.ID) string {
	return fmt.Sprintf("event-canceled:%s", eventID)
}

// Cancel returns ErrAlreadyCanceled for every call after the first
// successful one. The notification is published in the background and its
// outcome never changes the result.
func (d *Dispatcher) Cancel(ctx context.Context, eventID snowflake.ID, note *string) (domain.Event, error) {
	if eventID == 0 {
		return domain.Event{}, domain.ErrInvalidID
	}
	note, err := normalizeNote(note)
	if err != nil {
		return domain.Event{}, err
	}

	now := d.clock.Now()
	ok, err := d.repo.MarkCanceled(ctx, d.db, eventID, now, note)
	if err != nil {
		return domain.Event{}, err
	}
	if !ok {
		existing, err := d.repo.FindByID(ctx, d.db, eventID)
		if err != nil {
			return domain.Event{}, err
		}
		if existing == nil {
			return domain.Event{}, domain.ErrNotFound
		}
		d.metrics.Cancellation(ctx, "already_canceled")
		return *existing, domain.ErrAlreadyCanceled
	}

	event, err := d.repo.FindByID(ctx, d.db, eventID)
	if err != nil {
		return domain.Event{}, err
	}
	if event == nil {
		return domain.Event{}, domain.ErrNotFound
	}

	d.metrics.Cancellation(ctx, "canceled")
	d.log.Info("event canceled", zap.String("event_id", eventID.String()))

	d.notify(*event)
	return *event, nil
}

// Wait blocks until every background notification has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) notify(event domain.Event) {
	if d.publisher == nil {
		return
	}

	canceledAt := d.clock.Now()
	if event.CanceledAt != nil {
		canceledAt = *event.CanceledAt
	}
	payload, err := json.Marshal(canceledPayload{
		EventID:    event.ID.String(),
		OwnerID:    event.OwnerID.String(),
		Title:      event.Title,
		CanceledAt: canceledAt.UTC(),
		Note:       event.CancellationNote,
	})
	if err != nil {
		d.log.Warn("encode cancellation notification", zap.String("event_id", event.ID.String()), zap.Error(err))
		return
	}

	msg := notification.Message{
		Topic:           notification.TopicEventCanceled,
		Payload:         payload,
		DeduplicationID: DeduplicationID(event.ID),
		Retries:         d.retries,
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()

		timeout := d.timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		// Retries share one deadline.
		ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Duration(msg.Retries+1))
		defer cancel()

		if err := d.publisher.Publish(ctx, msg); err != nil {
			d.metrics.Notification(ctx, msg.Topic, "failed")
			d.log.Warn("cancellation notification failed",
				zap.String("event_id", event.ID.String()),
				zap.String("deduplication_id", msg.DeduplicationID),
				zap.Error(err),
			)
			return
		}
		d.metrics.Notification(ctx, msg.Topic, "published")
	}()
}

func normalizeNote(note *string) (*string, error) {
	if note == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil, nil
	}
	if len([]rune(trimmed)) > maxNoteLength {
		errs := &domain.ValidationErrors{}
		errs.Add("note", "max", fmt.Sprintf("must be at most %d characters", maxNoteLength))
		return nil, errs
	}
	return &trimmed, nil
}
