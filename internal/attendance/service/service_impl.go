package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/attendance/domain"
	"github.com/smallbiznis/eventpay/internal/clock"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	"github.com/smallbiznis/eventpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNameLength = 100

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	EventRepo eventdomain.Repository
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	eventRepo eventdomain.Repository
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("attendance.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		eventRepo: p.EventRepo,
		metrics:   p.Metrics,
	}
}

// Admit runs the capacity check and the insert as one unit. Bumping the
// event's roster version takes the event row lock first, so concurrent
// admissions to the same event queue behind each other while admissions to
// other events proceed.
func (s *Service) Admit(ctx context.Context, req domain.AdmitRequest) (domain.AdmitResult, error) {
	if req.EventID == 0 {
		return domain.AdmitResult{}, domain.ErrInvalidEvent
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len([]rune(name)) > maxNameLength {
		return domain.AdmitResult{}, domain.ErrInvalidName
	}
	status := req.Status
	if status == "" {
		status = domain.StatusAttending
	}
	if !status.Valid() {
		return domain.AdmitResult{}, domain.ErrInvalidStatus
	}
	source := req.Source
	if source == "" {
		source = domain.SourceGuest
	}
	if !source.Valid() {
		return domain.AdmitResult{}, domain.ErrInvalidSource
	}
	bypass := req.Bypass && source == domain.SourceAdmin

	token, hash, err := domain.NewGuestToken()
	if err != nil {
		return domain.AdmitResult{}, err
	}

	now := s.clock.Now()
	attendance := domain.Attendance{
		ID:                 s.genID.Generate(),
		EventID:            req.EventID,
		Name:               name,
		Status:             status,
		Source:             source,
		GuestTokenHash:     hash,
		GuestTokenIssuedAt: &now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var outcome domain.CapacityOutcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := s.lockOpenRoster(ctx, tx, req.EventID, source, now)
		if err != nil {
			return err
		}

		outcome, err = s.guard(ctx, tx, *event, status, bypass)
		if err != nil {
			return err
		}

		return s.repo.Insert(ctx, tx, &attendance)
	})
	if err != nil {
		s.observeRefusal(ctx, err, bypass)
		var exceeded *domain.CapacityExceededError
		if errors.As(err, &exceeded) {
			s.log.Info("admission refused",
				zap.String("event_id", req.EventID.String()),
				zap.Int("capacity", exceeded.Capacity),
				zap.Int("current", exceeded.Current),
			)
			return domain.AdmitResult{Outcome: outcome}, err
		}
		return domain.AdmitResult{}, err
	}

	s.metrics.Admission(ctx, "admitted", bypass)
	s.log.Info("attendance admitted",
		zap.String("event_id", req.EventID.String()),
		zap.String("attendance_id", attendance.ID.String()),
		zap.String("status", string(status)),
		zap.String("source", string(source)),
		zap.Bool("bypass", bypass),
		zap.Int("current", outcome.Current),
	)

	return domain.AdmitResult{
		Attendance: attendance,
		Outcome:    outcome,
		GuestToken: token,
	}, nil
}

// ChangeStatus moves an attendance to a new status. A move into attending
// passes through the same capacity guard as an admission.
func (s *Service) ChangeStatus(ctx context.Context, req domain.ChangeStatusRequest) (domain.ChangeStatusResult, error) {
	if req.ID == 0 {
		return domain.ChangeStatusResult{}, domain.ErrInvalidID
	}
	if !req.Status.Valid() {
		return domain.ChangeStatusResult{}, domain.ErrInvalidStatus
	}
	source := req.Source
	if source == "" {
		source = domain.SourceGuest
	}
	if !source.Valid() {
		return domain.ChangeStatusResult{}, domain.ErrInvalidSource
	}
	bypass := req.Bypass && source == domain.SourceAdmin

	current, err := s.Get(ctx, req.ID)
	if err != nil {
		return domain.ChangeStatusResult{}, err
	}
	if current.Status == req.Status {
		return domain.ChangeStatusResult{Attendance: current, Outcome: domain.CapacityOutcome{Admitted: true}}, nil
	}

	now := s.clock.Now()
	var outcome domain.CapacityOutcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := s.lockOpenRoster(ctx, tx, current.EventID, source, now)
		if err != nil {
			return err
		}

		outcome, err = s.guard(ctx, tx, *event, req.Status, bypass)
		if err != nil {
			return err
		}

		ok, err := s.repo.UpdateStatus(ctx, tx, current.ID, current.Status, req.Status, now)
		if err != nil {
			return err
		}
		if !ok {
			// status moved since it was read
			return domain.ErrConcurrentUpdate
		}
		return nil
	})
	if err != nil {
		s.observeRefusal(ctx, err, bypass)
		var exceeded *domain.CapacityExceededError
		if errors.As(err, &exceeded) {
			return domain.ChangeStatusResult{Attendance: current, Outcome: outcome}, err
		}
		return domain.ChangeStatusResult{}, err
	}

	if req.Status == domain.StatusAttending {
		s.metrics.Admission(ctx, "admitted", bypass)
	}
	s.log.Info("attendance status changed",
		zap.String("attendance_id", current.ID.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(req.Status)),
		zap.Bool("bypass", bypass),
	)

	current.Status = req.Status
	current.UpdatedAt = now
	return domain.ChangeStatusResult{Attendance: current, Outcome: outcome}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Attendance, error) {
	if id == 0 {
		return domain.Attendance{}, domain.ErrInvalidID
	}
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Attendance{}, err
	}
	if item == nil {
		return domain.Attendance{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) GetByGuestToken(ctx context.Context, token string) (domain.Attendance, error) {
	if strings.TrimSpace(token) == "" {
		return domain.Attendance{}, domain.ErrInvalidGuestToken
	}
	item, err := s.repo.FindByGuestTokenHash(ctx, s.db, domain.HashGuestToken(token))
	if err != nil {
		return domain.Attendance{}, err
	}
	if item == nil {
		return domain.Attendance{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) ListByEvent(ctx context.Context, eventID snowflake.ID) ([]domain.Attendance, error) {
	if eventID == 0 {
		return nil, domain.ErrInvalidEvent
	}
	return s.repo.ListByEvent(ctx, s.db, eventID)
}

// ReissueGuestToken replaces the stored token hash; the previous token stops
// working immediately.
func (s *Service) ReissueGuestToken(ctx context.Context, id snowflake.ID) (domain.ReissueTokenResult, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return domain.ReissueTokenResult{}, err
	}

	token, hash, err := domain.NewGuestToken()
	if err != nil {
		return domain.ReissueTokenResult{}, err
	}
	now := s.clock.Now()
	if err := s.repo.UpdateGuestToken(ctx, s.db, item.ID, hash, now); err != nil {
		return domain.ReissueTokenResult{}, err
	}

	item.GuestTokenHash = hash
	item.GuestTokenIssuedAt = &now
	item.UpdatedAt = now
	return domain.ReissueTokenResult{Attendance: item, GuestToken: token}, nil
}

// lockOpenRoster takes the per-event roster lock and rejects events that no
// longer accept roster changes from the given source.
func (s *Service) lockOpenRoster(ctx context.Context, tx *gorm.DB, eventID snowflake.ID, source domain.Source, now time.Time) (*eventdomain.Event, error) {
	ok, err := s.eventRepo.LockRoster(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, eventdomain.ErrNotFound
	}

	event, err := s.eventRepo.FindByID(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, eventdomain.ErrNotFound
	}
	if event.CanceledAt != nil {
		return nil, eventdomain.ErrEventCanceled
	}
	if source == domain.SourceGuest && now.After(event.RegistrationDeadline) {
		return nil, domain.ErrRegistrationClosed
	}
	return event, nil
}

// guard must run inside the transaction that holds the roster lock.
func (s *Service) guard(ctx context.Context, tx *gorm.DB, event eventdomain.Event, status domain.Status, bypass bool) (domain.CapacityOutcome, error) {
	current, err := s.eventRepo.CountAttending(ctx, tx, event.ID)
	if err != nil {
		return domain.CapacityOutcome{}, err
	}

	outcome := domain.CapacityOutcome{Capacity: event.Capacity, Current: current}
	if status != domain.StatusAttending {
		outcome.Admitted = true
		return outcome, nil
	}

	if event.Capacity != nil && !bypass && current >= *event.Capacity {
		return outcome, &domain.CapacityExceededError{Capacity: *event.Capacity, Current: current}
	}

	outcome.Admitted = true
	outcome.Current = current + 1
	return outcome, nil
}

func (s *Service) observeRefusal(ctx context.Context, err error, bypass bool) {
	switch {
	case errors.Is(err, domain.ErrCapacityExceeded):
		s.metrics.Admission(ctx, "capacity_exceeded", bypass)
	case errors.Is(err, domain.ErrRegistrationClosed):
		s.metrics.Admission(ctx, "registration_closed", bypass)
	case errors.Is(err, eventdomain.ErrEventCanceled):
		s.metrics.Admission(ctx, "event_canceled", bypass)
	}
}
