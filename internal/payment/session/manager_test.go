package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	attendancedomain "github.com/smallbiznis/eventpay/internal/attendance/domain"
	attendancerepository "github.com/smallbiznis/eventpay/internal/attendance/repository"
	"github.com/smallbiznis/eventpay/internal/clock"
	"github.com/smallbiznis/eventpay/internal/config"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	eventrepository "github.com/smallbiznis/eventpay/internal/event/repository"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	"github.com/smallbiznis/eventpay/internal/payment/eligibility"
	"github.com/smallbiznis/eventpay/internal/payment/repository"
	"github.com/smallbiznis/eventpay/internal/ratelimit"
	"github.com/smallbiznis/eventpay/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

const ownerID snowflake.ID = 42

type stubProvider struct {
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession
	requests []domain.CheckoutRequest
	ready    bool
	err      error
	onCreate func()
}

func newStubProvider() *stubProvider {
	return &stubProvider{sessions: map[string]domain.CheckoutSession{}, ready: true}
}

func (p *stubProvider) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return domain.CheckoutSession{}, p.err
	}
	if p.onCreate != nil {
		p.onCreate()
	}
	if session, ok := p.sessions[req.IdempotencyKey]; ok {
		return session, nil
	}
	id := fmt.Sprintf("cs_test_%d", len(p.sessions)+1)
	session := domain.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}
	p.sessions[req.IdempotencyKey] = session
	return session, nil
}

func (p *stubProvider) PayoutAccountReady(ctx context.Context, accountID string) (bool, error) {
	return p.ready, nil
}

type stubLimiter struct {
	decision ratelimit.Decision
	locked   bool
	released int
}

func (l *stubLimiter) AllowCheckout(ctx context.Context, attendanceID snowflake.ID) (ratelimit.Decision, error) {
	return l.decision, nil
}

func (l *stubLimiter) LockCheckout(ctx context.Context, attendanceID snowflake.ID) (string, bool, error) {
	if l.locked {
		return "", false, nil
	}
	return "token", true, nil
}

func (l *stubLimiter) UnlockCheckout(ctx context.Context, attendanceID snowflake.ID, token string) error {
	l.released++
	return nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	repo     domain.Repository
	provider *stubProvider
	limiter  *stubLimiter
	manager  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storetest.NewDB(t)
	node := storetest.NewNode(t)
	fc := clock.NewFakeClock(now)
	repo := repository.Provide()
	provider := newStubProvider()
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: true}}

	cfg := config.Config{}
	cfg.Stripe.Currency = "usd"
	cfg.Stripe.SuccessURL = "https://app.test/events/{event_id}/paid"
	cfg.Stripe.CancelURL = "https://app.test/events/{event_id}"

	manager := New(Params{
		DB:             db,
		Log:            zap.NewNop(),
		GenID:          node,
		Clock:          fc,
		Cfg:            cfg,
		Repo:           repo,
		AttendanceRepo: attendancerepository.Provide(),
		EventRepo:      eventrepository.Provide(),
		Provider:       provider,
		Limiter:        limiter,
		Fees:           config.NewStaticFeeSchedule(config.FeeSchedule{BasisPoints: 500, Fixed: 30}),
	})
	return &fixture{db: db, node: node, clock: fc, repo: repo, provider: provider, limiter: limiter, manager: manager}
}

func (f *fixture) seed(t *testing.T, status attendancedomain.Status) (eventdomain.Event, attendancedomain.Attendance) {
	t.Helper()
	ctx := context.Background()
	event := eventdomain.Event{
		ID:                   f.node.Generate(),
		OwnerID:              ownerID,
		Title:                "Pottery class",
		ScheduledAt:          now.Add(7 * 24 * time.Hour),
		Fee:                  1000,
		PaymentMethods:       eventdomain.NewPaymentMethods(eventdomain.PaymentMethodOnline, eventdomain.PaymentMethodCash),
		RegistrationDeadline: now.Add(6 * 24 * time.Hour),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, eventrepository.Provide().Insert(ctx, f.db, &event))

	id := f.node.Generate()
	attendance := attendancedomain.Attendance{
		ID:             id,
		EventID:        event.ID,
		Name:           "Ana",
		Status:         status,
		Source:         attendancedomain.SourceGuest,
		GuestTokenHash: "hash-" + id.String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, attendancerepository.Provide().Insert(ctx, f.db, &attendance))
	return event, attendance
}

func (f *fixture) registerPayout(t *testing.T) {
	t.Helper()
	_, err := f.manager.RegisterPayoutAccount(context.Background(), ownerID, "acct_123")
	require.NoError(t, err)
}

func TestStartIsIdempotentWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event, attendance := f.seed(t, attendancedomain.StatusAttending)
	f.registerPayout(t)

	first, err := f.manager.Start(ctx, attendance.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first.Amount)
	assert.Equal(t, int64(80), first.PlatformFee)
	assert.Equal(t, domain.IdempotencyKey(attendance.ID, first.PaymentID, 0), first.IdempotencyKey)

	second, err := f.manager.Start(ctx, attendance.ID)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)

	payments, err := f.repo.ListByAttendance(ctx, f.db, attendance.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.StatusPending, payments[0].Status)
	assert.Equal(t, domain.MethodOnline, payments[0].Method)
	require.NotNil(t, payments[0].ProviderSessionID)
	assert.Equal(t, first.SessionID, *payments[0].ProviderSessionID)

	require.Len(t, f.provider.requests, 2)
	req := f.provider.requests[0]
	assert.Equal(t, "acct_123", req.DestinationAccount)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, "https://app.test/events/"+event.ID.String()+"/paid", req.SuccessURL)
	assert.Equal(t, first.PaymentID.String(), req.Metadata["payment_id"])
	assert.Equal(t, 2, f.limiter.released)
}

func TestStartAfterFailureOpensNewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, attendance := f.seed(t, attendancedomain.StatusAttending)
	f.registerPayout(t)

	first, err := f.manager.Start(ctx, attendance.ID)
	require.NoError(t, err)

	stored, err := f.repo.FindByID(ctx, f.db, first.PaymentID)
	require.NoError(t, err)
	ok, err := f.repo.UpdateStatus(ctx, f.db, domain.StatusUpdate{
		ID:              stored.ID,
		ExpectedVersion: stored.Version,
		From:            domain.StatusPending,
		To:              domain.StatusFailed,
		Method:          stored.Method,
		UpdatedAt:       now,
	})
	require.NoError(t, err)
	require.True(t, ok)

	retry, err := f.manager.Start(ctx, attendance.ID)
	require.NoError(t, err)
	assert.Equal(t, first.PaymentID, retry.PaymentID)
	assert.NotEqual(t, first.SessionID, retry.SessionID)
	assert.Equal(t, domain.IdempotencyKey(attendance.ID, first.PaymentID, stored.Version+1), retry.IdempotencyKey)

	current, err := f.repo.FindByID(ctx, f.db, first.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, current.Status)
	assert.Equal(t, stored.Version+2, current.Version)
}

func TestStartRejectsIneligibleAttendance(t *testing.T) {
	f := newFixture(t)
	_, attendance := f.seed(t, attendancedomain.StatusMaybe)
	f.registerPayout(t)

	_, err := f.manager.Start(context.Background(), attendance.ID)
	require.ErrorIs(t, err, domain.ErrIneligible)
	var ineligible *domain.IneligibleError
	require.ErrorAs(t, err, &ineligible)
	require.NotNil(t, ineligible.Result.Reason)
	assert.Equal(t, eligibility.ReasonNotAttending, *ineligible.Result.Reason)
	assert.Empty(t, f.provider.requests)
}

func TestStartPayoutAccountChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, attendance := f.seed(t, attendancedomain.StatusAttending)

	_, err := f.manager.Start(ctx, attendance.ID)
	assert.ErrorIs(t, err, domain.ErrPayoutAccountMissing)

	f.registerPayout(t)
	f.provider.ready = false
	_, err = f.manager.Start(ctx, attendance.ID)
	assert.ErrorIs(t, err, domain.ErrPayoutAccountNotReady)

	payments, err := f.repo.ListByAttendance(ctx, f.db, attendance.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestStartRateLimitedAndInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, attendance := f.seed(t, attendancedomain.StatusAttending)
	f.registerPayout(t)

	f.limiter.decision = ratelimit.Decision{Allowed: false, RetryAfter: 3 * time.Second}
	_, err := f.manager.Start(ctx, attendance.ID)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	var limited *domain.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 3*time.Second, limited.RetryAfter)

	f.limiter.decision = ratelimit.Decision{Allowed: true}
	f.limiter.locked = true
	_, err = f.manager.Start(ctx, attendance.ID)
	assert.ErrorIs(t, err, domain.ErrSessionInProgress)
	assert.Equal(t, 0, f.limiter.released)
}

func TestStartProviderFailureKeepsRowReusable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, attendance := f.seed(t, attendancedomain.StatusAttending)
	f.registerPayout(t)

	f.provider.err = errors.New("stripe down")
	_, err := f.manager.Start(ctx, attendance.ID)
	require.ErrorIs(t, err, domain.ErrProviderUnavailable)

	f.provider.err = nil
	ref, err := f.manager.Start(ctx, attendance.ID)
	require.NoError(t, err)

	payments, err := f.repo.ListByAttendance(ctx, f.db, attendance.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, ref.PaymentID, payments[0].ID)
}

func TestStartLosesVersionRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, attendance := f.seed(t, attendancedomain.StatusAttending)
	f.registerPayout(t)

	f.provider.onCreate = func() {
		open, err := f.repo.FindOpen(ctx, f.db, attendance.ID)
		require.NoError(t, err)
		require.NoError(t, f.db.Exec(`UPDATE payments SET version = version + 1 WHERE id = ?`, open.ID).Error)
	}
	_, err := f.manager.Start(ctx, attendance.ID)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}

func TestEligibilityAfterCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event, attendance := f.seed(t, attendancedomain.StatusAttending)

	result, err := f.manager.Eligibility(ctx, attendance.ID)
	require.NoError(t, err)
	assert.True(t, result.Eligible)
	assert.Nil(t, result.Reason)

	paidAt := now
	require.NoError(t, f.repo.Insert(ctx, f.db, &domain.Payment{
		ID:           f.node.Generate(),
		AttendanceID: attendance.ID,
		EventID:      event.ID,
		Method:       domain.MethodCash,
		Amount:       1000,
		Status:       domain.StatusReceived,
		PaidAt:       &paidAt,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	result, err = f.manager.Eligibility(ctx, attendance.ID)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	require.NotNil(t, result.Reason)
	assert.Equal(t, eligibility.ReasonAlreadySettled, *result.Reason)
	assert.False(t, result.Checks.IsValidPaymentStatus)
	assert.True(t, result.Checks.IsAttending)

	_, err = f.manager.Eligibility(ctx, 999)
	assert.ErrorIs(t, err, attendancedomain.ErrNotFound)
}

func TestRegisterPayoutAccountUpserts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.RegisterPayoutAccount(ctx, ownerID, "acct_1")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.manager.RegisterPayoutAccount(ctx, ownerID, "acct_2")
	require.NoError(t, err)

	account, err := f.repo.FindPayoutAccount(ctx, f.db, ownerID)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "acct_2", account.ProviderAccountID)

	_, err = f.manager.RegisterPayoutAccount(ctx, ownerID, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}
