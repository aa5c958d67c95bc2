package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/clock"
	"github.com/smallbiznis/eventpay/internal/event/domain"
	"github.com/smallbiznis/eventpay/internal/event/restriction"
	"github.com/smallbiznis/eventpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("event.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateEventRequest) (domain.Event, error) {
	if req.OwnerID == 0 {
		return domain.Event{}, domain.ErrInvalidOwner
	}
	if err := domain.ValidateCreate(req); err != nil {
		return domain.Event{}, err
	}

	now := s.clock.Now()
	onlineDeadline := req.OnlinePaymentDeadline
	if onlineDeadline != nil {
		v := onlineDeadline.UTC()
		onlineDeadline = &v
	}

	event, err := restriction.EvaluateNew(domain.Event{
		ID:                        s.genID.Generate(),
		OwnerID:                   req.OwnerID,
		Title:                     strings.TrimSpace(req.Title),
		ScheduledAt:               req.ScheduledAt.UTC(),
		Fee:                       req.Fee,
		Capacity:                  req.Capacity,
		PaymentMethods:            req.PaymentMethods,
		RegistrationDeadline:      req.RegistrationDeadline.UTC(),
		OnlinePaymentDeadline:     onlineDeadline,
		AllowPaymentAfterDeadline: req.AllowPaymentAfterDeadline,
		GracePeriodDays:           req.GracePeriodDays,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	})
	if err != nil {
		return domain.Event{}, err
	}

	if err := s.repo.Insert(ctx, s.db, &event); err != nil {
		return domain.Event{}, err
	}

	s.log.Info("event created",
		zap.String("event_id", event.ID.String()),
		zap.String("owner_id", event.OwnerID.String()),
		zap.Int64("fee", event.Fee),
	)
	return event, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Event, error) {
	if id == 0 {
		return domain.Event{}, domain.ErrInvalidID
	}
	event, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Event{}, err
	}
	if event == nil {
		return domain.Event{}, domain.ErrNotFound
	}
	return *event, nil
}

// Update applies a patch only if the restriction engine allows it. The
// roster is evaluated once up front and again inside the write transaction,
// which narrows but does not close the window against concurrent sign-ups.
func (s *Service) Update(ctx context.Context, req domain.UpdateEventRequest) (domain.UpdateEventResponse, error) {
	if req.ID == 0 {
		return domain.UpdateEventResponse{}, domain.ErrInvalidID
	}
	if err := domain.ValidatePatch(req.Patch); err != nil {
		return domain.UpdateEventResponse{}, err
	}

	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return domain.UpdateEventResponse{}, err
	}
	if current.CanceledAt != nil {
		return domain.UpdateEventResponse{}, domain.ErrEventCanceled
	}

	eval, err := s.evaluate(ctx, s.db, current, req.Patch)
	if err != nil {
		return domain.UpdateEventResponse{}, err
	}
	if err := eval.Err(); err != nil {
		s.rejected(ctx, current.ID, eval)
		return domain.UpdateEventResponse{}, err
	}
	if req.Patch.IsEmpty() {
		return domain.UpdateEventResponse{Event: current}, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := s.repo.FindByID(ctx, tx, req.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return domain.ErrNotFound
		}
		if fresh.CanceledAt != nil {
			return domain.ErrEventCanceled
		}

		eval, err = s.evaluate(ctx, tx, *fresh, req.Patch)
		if err != nil {
			return err
		}
		if err := eval.Err(); err != nil {
			return err
		}

		eval.Proposed.UpdatedAt = s.clock.Now()
		updated, err := s.repo.Update(ctx, tx, &eval.Proposed)
		if err != nil {
			return err
		}
		if !updated {
			return domain.ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		var rerr *domain.RestrictionError
		if errors.As(err, &rerr) {
			s.rejected(ctx, req.ID, eval)
		}
		return domain.UpdateEventResponse{}, err
	}

	s.log.Info("event updated",
		zap.String("event_id", req.ID.String()),
		zap.Strings("fields", req.Patch.Fields()),
		zap.Int("advisories", len(eval.Advisories())),
	)
	return domain.UpdateEventResponse{
		Event:      eval.Proposed,
		Advisories: eval.Advisories(),
	}, nil
}

// Delete removes an event that nobody has responded to and that has no
// payment history. Declined responses are removed with it.
func (s *Service) Delete(ctx context.Context, id snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidID
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.LockRoster(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}

		participants, err := s.repo.CountParticipants(ctx, tx, id)
		if err != nil {
			return err
		}
		payments, err := s.repo.CountPayments(ctx, tx, id)
		if err != nil {
			return err
		}
		if participants > 0 || payments > 0 {
			return domain.ErrHasParticipants
		}

		if err := s.repo.DeleteDeclined(ctx, tx, id); err != nil {
			return err
		}
		return s.repo.Delete(ctx, tx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info("event deleted", zap.String("event_id", id.String()))
	return nil
}

func (s *Service) evaluate(ctx context.Context, db *gorm.DB, current domain.Event, patch domain.EventPatch) (restriction.Evaluation, error) {
	attending, err := s.repo.CountAttending(ctx, db, current.ID)
	if err != nil {
		return restriction.Evaluation{}, err
	}
	completed, err := s.repo.HasCompletedOnlinePayment(ctx, db, current.ID)
	if err != nil {
		return restriction.Evaluation{}, err
	}
	return restriction.Evaluate(current, patch, restriction.Context{
		AttendeeCount:             attending,
		HasCompletedOnlinePayment: completed,
	}), nil
}

func (s *Service) rejected(ctx context.Context, id snowflake.ID, eval restriction.Evaluation) {
	for _, v := range eval.Blocking() {
		s.log.Info("event edit rejected",
			zap.String("event_id", id.String()),
			zap.String("field", v.Field),
			zap.String("level", string(v.Level)),
		)
		s.metrics.RestrictionRejected(ctx, string(v.Level), v.Field)
	}
}
