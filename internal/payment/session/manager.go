// Package session starts hosted online checkouts without ever opening a
// second provider session for the same logical attempt.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	attendancedomain "github.com/smallbiznis/eventpay/internal/attendance/domain"
	"github.com/smallbiznis/eventpay/internal/clock"
	"github.com/smallbiznis/eventpay/internal/config"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	"github.com/smallbiznis/eventpay/internal/observability/metrics"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	"github.com/smallbiznis/eventpay/internal/payment/eligibility"
	"github.com/smallbiznis/eventpay/internal/payment/fee"
	"github.com/smallbiznis/eventpay/internal/ratelimit"
	"github.com/smallbiznis/eventpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Limiter is the rate limit decision and per-attendance lease consumed by
// the manager.
type Limiter interface {
	AllowCheckout(ctx context.Context, attendanceID snowflake.ID) (ratelimit.Decision, error)
	LockCheckout(ctx context.Context, attendanceID snowflake.ID) (string, bool, error)
	UnlockCheckout(ctx context.Context, attendanceID snowflake.ID, token string) error
}

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Cfg            config.Config
	Repo           domain.Repository
	AttendanceRepo attendancedomain.Repository
	EventRepo      eventdomain.Repository
	Provider       domain.Provider
	Limiter        Limiter
	Fees           *config.FeeScheduleHolder
	Metrics        *metrics.Metrics `optional:"true"`
}

type Manager struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	attendanceRepo attendancedomain.Repository
	eventRepo      eventdomain.Repository
	provider       domain.Provider
	limiter        Limiter
	fees           *config.FeeScheduleHolder
	metrics        *metrics.Metrics

	currency   string
	successURL string
	cancelURL  string
}

func New(p Params) *Manager {
	return &Manager{
		db:             p.DB,
		log:            p.Log.Named("payment.session"),
		genID:          p.GenID,
		clock:          p.Clock,
		repo:           p.Repo,
		attendanceRepo: p.AttendanceRepo,
		eventRepo:      p.EventRepo,
		provider:       p.Provider,
		limiter:        p.Limiter,
		fees:           p.Fees,
		metrics:        p.Metrics,
		currency:       p.Cfg.Stripe.Currency,
		successURL:     p.Cfg.Stripe.SuccessURL,
		cancelURL:      p.Cfg.Stripe.CancelURL,
	}
}

type snapshot struct {
	attendance attendancedomain.Attendance
	event      eventdomain.Event
	current    *domain.Payment
}

func (m *Manager) load(ctx context.Context, attendanceID snowflake.ID) (snapshot, error) {
	if attendanceID == 0 {
		return snapshot{}, domain.ErrInvalidID
	}
	attendance, err := m.attendanceRepo.FindByID(ctx, m.db, attendanceID)
	if err != nil {
		return snapshot{}, err
	}
	if attendance == nil {
		return snapshot{}, attendancedomain.ErrNotFound
	}
	event, err := m.eventRepo.FindByID(ctx, m.db, attendance.EventID)
	if err != nil {
		return snapshot{}, err
	}
	if event == nil {
		return snapshot{}, eventdomain.ErrNotFound
	}
	payments, err := m.repo.ListByAttendance(ctx, m.db, attendanceID)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{
		attendance: *attendance,
		event:      *event,
		current:    domain.SelectCurrent(payments),
	}, nil
}

func (m *Manager) Eligibility(ctx context.Context, attendanceID snowflake.ID) (domain.EligibilityResult, error) {
	snap, err := m.load(ctx, attendanceID)
	if err != nil {
		return domain.EligibilityResult{}, err
	}
	return eligibility.Evaluate(snap.attendance, snap.current, snap.event, m.clock.Now()), nil
}

// Start opens (or resumes) the hosted checkout for an attendance. Repeated
// calls while the row stays pending reuse its idempotency key, so the
// provider hands back the same session.
func (m *Manager) Start(ctx context.Context, attendanceID snowflake.ID) (domain.SessionRef, error) {
	ref, err := m.start(ctx, attendanceID)
	if err != nil {
		m.metrics.PaymentSession(ctx, sessionOutcome(err))
		return domain.SessionRef{}, err
	}
	m.metrics.PaymentSession(ctx, "created")
	return ref, nil
}

func (m *Manager) start(ctx context.Context, attendanceID snowflake.ID) (domain.SessionRef, error) {
	snap, err := m.load(ctx, attendanceID)
	if err != nil {
		return domain.SessionRef{}, err
	}

	result := eligibility.Evaluate(snap.attendance, snap.current, snap.event, m.clock.Now())
	if !result.Eligible {
		return domain.SessionRef{}, &domain.IneligibleError{Result: result}
	}

	decision, err := m.limiter.AllowCheckout(ctx, attendanceID)
	if err != nil {
		return domain.SessionRef{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if !decision.Allowed {
		m.metrics.RateLimitDenied(ctx, "checkout")
		return domain.SessionRef{}, &domain.RateLimitedError{RetryAfter: decision.RetryAfter}
	}

	token, locked, err := m.limiter.LockCheckout(ctx, attendanceID)
	if err != nil {
		return domain.SessionRef{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if !locked {
		return domain.SessionRef{}, domain.ErrSessionInProgress
	}
	defer func() {
		if err := m.limiter.UnlockCheckout(context.WithoutCancel(ctx), attendanceID, token); err != nil {
			m.log.Warn("release checkout lock", zap.String("attendance_id", attendanceID.String()), zap.Error(err))
		}
	}()

	open, err := m.repo.FindOpen(ctx, m.db, attendanceID)
	if err != nil {
		return domain.SessionRef{}, err
	}
	amount := snap.event.Fee
	if open != nil {
		amount = open.Amount
	}

	destination, err := m.payoutDestination(ctx, snap.event.OwnerID)
	if err != nil {
		return domain.SessionRef{}, err
	}

	if open == nil {
		open, err = m.ensureOpen(ctx, snap, amount)
		if err != nil {
			return domain.SessionRef{}, err
		}
		amount = open.Amount
	}

	platformFee := fee.Compute(amount, m.fees.Get())
	key := m.idempotencyKey(*open)
	if open.Status == domain.StatusPending && open.IdempotencyKey != nil && *open.IdempotencyKey == key && open.ProviderSessionID != nil {
		// The provider replays the stored key, so the request must match
		// the original one.
		platformFee = open.PlatformFee
	}

	session, err := m.provider.CreateCheckoutSession(ctx, domain.CheckoutRequest{
		Amount:             amount,
		Currency:           m.currency,
		Description:        snap.event.Title,
		DestinationAccount: destination,
		PlatformFee:        platformFee,
		CustomerRef:        attendanceID.String(),
		SuccessURL:         expandURL(m.successURL, snap.event.ID, attendanceID),
		CancelURL:          expandURL(m.cancelURL, snap.event.ID, attendanceID),
		IdempotencyKey:     key,
		Metadata: map[string]string{
			"payment_id":    open.ID.String(),
			"attendance_id": attendanceID.String(),
			"event_id":      snap.event.ID.String(),
		},
	})
	if err != nil {
		m.log.Warn("create checkout session",
			zap.String("attendance_id", attendanceID.String()),
			zap.String("payment_id", open.ID.String()),
			zap.Error(err),
		)
		return domain.SessionRef{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	ok, err := m.repo.UpdateSession(ctx, m.db, domain.SessionUpdate{
		ID:                open.ID,
		ExpectedVersion:   open.Version,
		Amount:            amount,
		PlatformFee:       platformFee,
		IdempotencyKey:    key,
		ProviderSessionID: session.ID,
		CheckoutURL:       session.URL,
		UpdatedAt:         m.clock.Now(),
	})
	if err != nil {
		return domain.SessionRef{}, err
	}
	if !ok {
		m.log.Info("checkout session lost version race",
			zap.String("payment_id", open.ID.String()),
			zap.Int64("expected_version", open.Version),
		)
		return domain.SessionRef{}, domain.ErrVersionConflict
	}

	m.log.Info("checkout session started",
		zap.String("attendance_id", attendanceID.String()),
		zap.String("payment_id", open.ID.String()),
		zap.String("session_id", session.ID),
		zap.Int64("amount", amount),
		zap.Int64("platform_fee", platformFee),
	)
	return domain.SessionRef{
		PaymentID:      open.ID,
		SessionID:      session.ID,
		URL:            session.URL,
		IdempotencyKey: key,
		Amount:         amount,
		PlatformFee:    platformFee,
	}, nil
}

// idempotencyKey keeps a pending row's stored key. A failed row gets a key
// bound to its version so the next attempt is a new provider session.
func (m *Manager) idempotencyKey(p domain.Payment) string {
	if p.Status == domain.StatusPending && p.IdempotencyKey != nil && *p.IdempotencyKey != "" {
		return *p.IdempotencyKey
	}
	if p.Status == domain.StatusFailed {
		return domain.IdempotencyKey(p.AttendanceID, p.ID, p.Version)
	}
	return domain.IdempotencyKey(p.AttendanceID, p.ID, 0)
}

// ensureOpen inserts the pending row for a first attempt. When a concurrent
// start already inserted one, that row is used instead.
func (m *Manager) ensureOpen(ctx context.Context, snap snapshot, amount int64) (*domain.Payment, error) {
	now := m.clock.Now()
	payment := domain.Payment{
		ID:           m.genID.Generate(),
		AttendanceID: snap.attendance.ID,
		EventID:      snap.event.ID,
		Method:       domain.MethodOnline,
		Amount:       amount,
		Status:       domain.StatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := m.repo.Insert(ctx, m.db, &payment)
	if err == nil {
		return &payment, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, err
	}

	open, err := m.repo.FindOpen(ctx, m.db, snap.attendance.ID)
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, domain.ErrVersionConflict
	}
	return open, nil
}

func (m *Manager) payoutDestination(ctx context.Context, ownerID snowflake.ID) (string, error) {
	account, err := m.repo.FindPayoutAccount(ctx, m.db, ownerID)
	if err != nil {
		return "", err
	}
	if account == nil || strings.TrimSpace(account.ProviderAccountID) == "" {
		return "", domain.ErrPayoutAccountMissing
	}
	ready, err := m.provider.PayoutAccountReady(ctx, account.ProviderAccountID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	if !ready {
		return "", domain.ErrPayoutAccountNotReady
	}
	return account.ProviderAccountID, nil
}

// RegisterPayoutAccount links an organizer to a connected provider account.
func (m *Manager) RegisterPayoutAccount(ctx context.Context, ownerID snowflake.ID, providerAccountID string) (domain.PayoutAccount, error) {
	providerAccountID = strings.TrimSpace(providerAccountID)
	if ownerID == 0 || providerAccountID == "" {
		return domain.PayoutAccount{}, domain.ErrInvalidID
	}
	now := m.clock.Now()
	account := domain.PayoutAccount{
		OwnerID:           ownerID,
		ProviderAccountID: providerAccountID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.repo.UpsertPayoutAccount(ctx, m.db, &account); err != nil {
		return domain.PayoutAccount{}, err
	}
	m.log.Info("payout account registered", zap.String("owner_id", ownerID.String()))
	return account, nil
}

func expandURL(template string, eventID, attendanceID snowflake.ID) string {
	return strings.NewReplacer(
		"{event_id}", eventID.String(),
		"{attendance_id}", attendanceID.String(),
	).Replace(template)
}

func sessionOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrIneligible):
		return "ineligible"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrSessionInProgress):
		return "conflict"
	case errors.Is(err, domain.ErrPayoutAccountMissing), errors.Is(err, domain.ErrPayoutAccountNotReady):
		return "payout_unavailable"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "provider_error"
	default:
		return "error"
	}
}
