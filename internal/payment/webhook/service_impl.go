package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/clock"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Reconcile domain.ReconcileService
	Adapters  []domain.WebhookAdapter
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	reconcile domain.ReconcileService
	adapters  map[string]domain.WebhookAdapter
}

func NewService(p Params) domain.WebhookService {
	adapters := make(map[string]domain.WebhookAdapter, len(p.Adapters))
	for _, adapter := range p.Adapters {
		adapters[strings.ToLower(adapter.Provider())] = adapter
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("payment.webhook"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		reconcile: p.Reconcile,
		adapters:  adapters,
	}
}

// IngestWebhook verifies a provider callback, records it once and applies
// it. A redelivered event that was already processed is acknowledged
// without being applied again.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, ok := s.adapters[provider]
	if !ok {
		return domain.ErrInvalidEvent
	}
	if !json.Valid(payload) {
		return domain.ErrInvalidPayload
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			return nil
		}
		return err
	}

	record, err := s.record(ctx, event)
	if err != nil {
		return err
	}
	if record.ProcessedAt != nil {
		s.log.Debug("duplicate provider event",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	}

	payment, err := s.reconcile.ApplyProviderEvent(ctx, *event)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrEventStale):
		// Out of order delivery, e.g. an expiry arriving after completion,
		// or a callback for a session that was replaced.
	case errors.Is(err, domain.ErrNotFound):
		// Redelivery would never find it either.
		s.log.Warn("provider event for unknown payment",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("session_id", event.SessionID),
		)
	default:
		return err
	}

	if err := s.repo.MarkEventProcessed(ctx, s.db, record.ID, s.clock.Now()); err != nil {
		return err
	}
	if payment.ID != 0 {
		s.log.Info("provider event applied",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
			zap.String("payment_id", payment.ID.String()),
			zap.String("status", string(payment.Status)),
		)
	}
	return nil
}

func (s *Service) record(ctx context.Context, event *domain.ProviderEvent) (*domain.EventRecord, error) {
	record := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.Payload),
		ReceivedAt:      s.clock.Now(),
	}
	if event.PaymentID != 0 {
		id := event.PaymentID
		record.PaymentID = &id
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return nil, err
	}
	if inserted {
		return &record, nil
	}

	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrInvalidEvent
	}
	return existing, nil
}
