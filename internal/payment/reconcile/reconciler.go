// Package reconcile applies payment status changes coming from the provider
// and from organizers, through the transition table and a version check.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	attendancedomain "github.com/smallbiznis/eventpay/internal/attendance/domain"
	"github.com/smallbiznis/eventpay/internal/clock"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	"github.com/smallbiznis/eventpay/internal/observability/metrics"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Repo           domain.Repository
	AttendanceRepo attendancedomain.Repository
	EventRepo      eventdomain.Repository
	Expirer        domain.SessionExpirer `optional:"true"`
	Metrics        *metrics.Metrics      `optional:"true"`
}

type Reconciler struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	attendanceRepo attendancedomain.Repository
	eventRepo      eventdomain.Repository
	expirer        domain.SessionExpirer
	metrics        *metrics.Metrics
}

func New(p Params) domain.ReconcileService {
	return &Reconciler{
		db:             p.DB,
		log:            p.Log.Named("payment.reconcile"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		attendanceRepo: p.AttendanceRepo,
		eventRepo:      p.EventRepo,
		expirer:        p.Expirer,
		metrics:        p.Metrics,
	}
}

// Transition moves a payment to req.To. Asking for the status the payment
// already has is a no-op that returns the stored row.
func (r *Reconciler) Transition(ctx context.Context, req domain.TransitionRequest) (domain.Payment, error) {
	if req.PaymentID == 0 {
		return domain.Payment{}, domain.ErrInvalidID
	}
	if !req.To.Valid() {
		return domain.Payment{}, domain.ErrInvalidStatus
	}
	source := req.Source
	if source == "" {
		source = domain.SourceManual
	}

	current, err := r.repo.FindByID(ctx, r.db, req.PaymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if current == nil {
		return domain.Payment{}, domain.ErrNotFound
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != current.Version {
		return domain.Payment{}, domain.ErrVersionConflict
	}
	return r.apply(ctx, *current, req.To, source)
}

func (r *Reconciler) apply(ctx context.Context, current domain.Payment, to domain.Status, source domain.TransitionSource) (domain.Payment, error) {
	return r.write(ctx, current, to, source, nil)
}

// write applies the transition and, when sessionID is set, repoints the row
// at that provider session in the same guarded update.
func (r *Reconciler) write(ctx context.Context, current domain.Payment, to domain.Status, source domain.TransitionSource, sessionID *string) (domain.Payment, error) {
	if current.Status == to {
		return current, nil
	}
	if !domain.CanTransition(current.Status, to, source) {
		return domain.Payment{}, domain.ErrInvalidTransition
	}

	now := r.clock.Now()
	method := current.Method
	if source == domain.SourceManual && (to == domain.StatusReceived || to == domain.StatusWaived) {
		method = domain.MethodCash
	}
	var paidAt *time.Time
	if to.SetsPaidAt() {
		paidAt = &now
	}

	ok, err := r.repo.UpdateStatus(ctx, r.db, domain.StatusUpdate{
		ID:              current.ID,
		ExpectedVersion: current.Version,
		From:            current.Status,
		To:              to,
		Method:          method,
		PaidAt:          paidAt,
		UpdatedAt:       now,

		ProviderSessionID: sessionID,
	})
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		return domain.Payment{}, domain.ErrVersionConflict
	}

	r.metrics.PaymentTransition(ctx, string(current.Status), string(to), string(source))
	r.log.Info("payment status changed",
		zap.String("payment_id", current.ID.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
		zap.String("source", string(source)),
	)

	current.Status = to
	current.Method = method
	current.Version++
	current.UpdatedAt = now
	if paidAt != nil {
		current.PaidAt = paidAt
	}
	if sessionID != nil {
		current.ProviderSessionID = sessionID
	}
	return current, nil
}

// RecordManual marks an attendance's fee as received in cash or waived. An
// open online attempt is converted in place; otherwise a new cash row is
// written.
func (r *Reconciler) RecordManual(ctx context.Context, req domain.ManualPaymentRequest) (domain.Payment, error) {
	if req.AttendanceID == 0 {
		return domain.Payment{}, domain.ErrInvalidID
	}
	if req.Status != domain.StatusReceived && req.Status != domain.StatusWaived {
		return domain.Payment{}, domain.ErrInvalidStatus
	}
	if req.Amount != nil && *req.Amount < 0 {
		return domain.Payment{}, domain.ErrInvalidAmount
	}

	attendance, err := r.attendanceRepo.FindByID(ctx, r.db, req.AttendanceID)
	if err != nil {
		return domain.Payment{}, err
	}
	if attendance == nil {
		return domain.Payment{}, attendancedomain.ErrNotFound
	}
	event, err := r.eventRepo.FindByID(ctx, r.db, attendance.EventID)
	if err != nil {
		return domain.Payment{}, err
	}
	if event == nil {
		return domain.Payment{}, eventdomain.ErrNotFound
	}

	payments, err := r.repo.ListByAttendance(ctx, r.db, attendance.ID)
	if err != nil {
		return domain.Payment{}, err
	}
	if current := domain.SelectCurrent(payments); current != nil && current.Status.Collected() {
		return domain.Payment{}, domain.ErrInvalidTransition
	}

	open, err := r.repo.FindOpen(ctx, r.db, attendance.ID)
	if err != nil {
		return domain.Payment{}, err
	}
	if open != nil {
		return r.apply(ctx, *open, req.Status, domain.SourceManual)
	}

	amount := event.Fee
	if req.Amount != nil {
		amount = *req.Amount
	}
	now := r.clock.Now()
	payment := domain.Payment{
		ID:           r.genID.Generate(),
		AttendanceID: attendance.ID,
		EventID:      event.ID,
		Method:       domain.MethodCash,
		Amount:       amount,
		Status:       req.Status,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.Status.SetsPaidAt() {
		payment.PaidAt = &now
	}
	if err := r.repo.Insert(ctx, r.db, &payment); err != nil {
		return domain.Payment{}, err
	}

	r.metrics.PaymentTransition(ctx, "", string(req.Status), string(domain.SourceManual))
	r.log.Info("manual payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("attendance_id", attendance.ID.String()),
		zap.String("status", string(req.Status)),
		zap.Int64("amount", amount),
	)
	return payment, nil
}

// ApplyProviderEvent resolves the payment named by a verified provider
// callback and moves it to the status the callback implies.
func (r *Reconciler) ApplyProviderEvent(ctx context.Context, event domain.ProviderEvent) (domain.Payment, error) {
	to, ok := domain.TargetStatus(event.Type)
	if !ok {
		return domain.Payment{}, domain.ErrEventIgnored
	}

	payment, err := r.resolve(ctx, event)
	if err != nil {
		return domain.Payment{}, err
	}
	if replaced(*payment, event) {
		return r.applyReplaced(ctx, *payment, event, to)
	}
	updated, err := r.apply(ctx, *payment, to, domain.SourceProvider)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			r.log.Info("provider event does not apply",
				zap.String("provider_event_id", event.ProviderEventID),
				zap.String("payment_id", payment.ID.String()),
				zap.String("status", string(payment.Status)),
				zap.String("type", event.Type),
			)
		}
		return domain.Payment{}, err
	}
	return updated, nil
}

// replaced reports a callback for a session the payment no longer points
// at, because a newer checkout was opened on the same row.
func replaced(payment domain.Payment, event domain.ProviderEvent) bool {
	if event.SessionID == "" || payment.ProviderSessionID == nil {
		return false
	}
	return *payment.ProviderSessionID != event.SessionID
}

// applyReplaced handles callbacks for a replaced session. Anything other
// than a payment leaves the row alone, since the live session is still
// payable. Money collected on the replaced session settles an open row and
// the live session is expired so it cannot collect a second time. When the
// row was already settled the collection is a duplicate and is flagged for
// refund.
func (r *Reconciler) applyReplaced(ctx context.Context, current domain.Payment, event domain.ProviderEvent, to domain.Status) (domain.Payment, error) {
	live := *current.ProviderSessionID
	fields := []zap.Field{
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("payment_id", current.ID.String()),
		zap.String("type", event.Type),
		zap.String("event_session_id", event.SessionID),
		zap.String("live_session_id", live),
		zap.String("status", string(current.Status)),
	}

	if to != domain.StatusPaid {
		r.log.Info("provider event for replaced session ignored", fields...)
		return domain.Payment{}, domain.ErrEventStale
	}
	if !current.Status.Open() {
		r.metrics.DuplicateCollection(ctx)
		r.log.Error("duplicate collection on replaced session, refund required", fields...)
		return domain.Payment{}, domain.ErrEventStale
	}

	sessionID := event.SessionID
	updated, err := r.write(ctx, current, domain.StatusPaid, domain.SourceProvider, &sessionID)
	if err != nil {
		return domain.Payment{}, err
	}

	if r.expirer == nil {
		r.log.Warn("live checkout session left open, no provider to expire it", fields...)
		return updated, nil
	}
	if err := r.expirer.ExpireCheckoutSession(ctx, live); err != nil {
		// a later payment on it is caught as a duplicate collection
		r.log.Error("expire live checkout session", append(fields, zap.Error(err))...)
	}
	return updated, nil
}

func (r *Reconciler) resolve(ctx context.Context, event domain.ProviderEvent) (*domain.Payment, error) {
	if event.PaymentID != 0 {
		payment, err := r.repo.FindByID(ctx, r.db, event.PaymentID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}
	if event.SessionID != "" {
		payment, err := r.repo.FindByProviderSessionID(ctx, r.db, event.SessionID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *Reconciler) ListByAttendance(ctx context.Context, attendanceID snowflake.ID) ([]domain.Payment, error) {
	if attendanceID == 0 {
		return nil, domain.ErrInvalidID
	}
	return r.repo.ListByAttendance(ctx, r.db, attendanceID)
}
