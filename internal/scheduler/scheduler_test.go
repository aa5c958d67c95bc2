package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	attendancedomain "github.com/smallbiznis/eventpay/internal/attendance/domain"
	attendancerepository "github.com/smallbiznis/eventpay/internal/attendance/repository"
	"github.com/smallbiznis/eventpay/internal/clock"
	eventdomain "github.com/smallbiznis/eventpay/internal/event/domain"
	eventrepository "github.com/smallbiznis/eventpay/internal/event/repository"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	"github.com/smallbiznis/eventpay/internal/payment/reconcile"
	"github.com/smallbiznis/eventpay/internal/payment/repository"
	"github.com/smallbiznis/eventpay/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	repo  domain.Repository
	event eventdomain.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:    storetest.NewDB(t),
		node:  storetest.NewNode(t),
		clock: clock.NewFakeClock(now),
		repo:  repository.Provide(),
	}
	f.event = eventdomain.Event{
		ID:                   f.node.Generate(),
		OwnerID:              1,
		Title:                "Meetup",
		ScheduledAt:          now.Add(7 * 24 * time.Hour),
		Fee:                  1500,
		PaymentMethods:       eventdomain.NewPaymentMethods(eventdomain.PaymentMethodOnline, eventdomain.PaymentMethodCash),
		RegistrationDeadline: now.Add(6 * 24 * time.Hour),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, eventrepository.Provide().Insert(context.Background(), f.db, &f.event))
	return f
}

func (f *fixture) scheduler(t *testing.T, reconciler domain.ReconcileService, batchSize int) *Scheduler {
	t.Helper()
	if reconciler == nil {
		reconciler = reconcile.New(reconcile.Params{
			DB:             f.db,
			Log:            zap.NewNop(),
			GenID:          f.node,
			Clock:          f.clock,
			Repo:           f.repo,
			AttendanceRepo: attendancerepository.Provide(),
			EventRepo:      eventrepository.Provide(),
		})
	}
	sched, err := New(Params{
		DB:        f.db,
		Log:       zap.NewNop(),
		GenID:     f.node,
		Clock:     f.clock,
		Repo:      f.repo,
		Reconcile: reconciler,
		Config:    Config{Enabled: true, BatchSize: batchSize, StaleSessionAfter: 24 * time.Hour},
	})
	require.NoError(t, err)
	return sched
}

func (f *fixture) seedPayment(t *testing.T, method domain.Method, status domain.Status, updatedAt time.Time) domain.Payment {
	t.Helper()
	ctx := context.Background()
	id := f.node.Generate()
	attendance := attendancedomain.Attendance{
		ID:             id,
		EventID:        f.event.ID,
		Name:           "guest",
		Status:         attendancedomain.StatusAttending,
		Source:         attendancedomain.SourceGuest,
		GuestTokenHash: "hash-" + id.String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, attendancerepository.Provide().Insert(ctx, f.db, &attendance))

	payment := domain.Payment{
		ID:           f.node.Generate(),
		AttendanceID: attendance.ID,
		EventID:      f.event.ID,
		Method:       method,
		Amount:       1500,
		Status:       status,
		Version:      2,
		CreatedAt:    now,
		UpdatedAt:    updatedAt,
	}
	require.NoError(t, f.repo.Insert(ctx, f.db, &payment))
	return payment
}

func (f *fixture) status(t *testing.T, id snowflake.ID) domain.Status {
	t.Helper()
	payment, err := f.repo.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, payment)
	return payment.Status
}

func TestExpireStaleSessions(t *testing.T) {
	f := newFixture(t)

	stale := f.seedPayment(t, domain.MethodOnline, domain.StatusPending, now)
	fresh := f.seedPayment(t, domain.MethodOnline, domain.StatusPending, now.Add(3*time.Hour))
	cash := f.seedPayment(t, domain.MethodCash, domain.StatusPending, now)
	paid := f.seedPayment(t, domain.MethodOnline, domain.StatusPaid, now)

	f.clock.Set(now.Add(26 * time.Hour))
	require.NoError(t, f.scheduler(t, nil, 10).RunOnce(context.Background()))

	assert.Equal(t, domain.StatusFailed, f.status(t, stale.ID))
	assert.Equal(t, domain.StatusPending, f.status(t, fresh.ID))
	assert.Equal(t, domain.StatusPending, f.status(t, cash.ID))
	assert.Equal(t, domain.StatusPaid, f.status(t, paid.ID))

	expired, err := f.repo.FindByID(context.Background(), f.db, stale.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, expired.Version)
}

func TestExpireStaleSessionsWalksBatches(t *testing.T) {
	f := newFixture(t)

	var ids []snowflake.ID
	for i := 0; i < 5; i++ {
		ids = append(ids, f.seedPayment(t, domain.MethodOnline, domain.StatusPending, now.Add(time.Duration(i)*time.Minute)).ID)
	}

	f.clock.Set(now.Add(48 * time.Hour))
	require.NoError(t, f.scheduler(t, nil, 2).ExpireStaleSessionsJob(context.Background()))

	for _, id := range ids {
		assert.Equal(t, domain.StatusFailed, f.status(t, id))
	}
}

type conflictingReconciler struct {
	domain.ReconcileService
	calls int
}

func (c *conflictingReconciler) Transition(context.Context, domain.TransitionRequest) (domain.Payment, error) {
	c.calls++
	return domain.Payment{}, domain.ErrVersionConflict
}

func TestExpireSkipsRowsThatChanged(t *testing.T) {
	f := newFixture(t)
	f.seedPayment(t, domain.MethodOnline, domain.StatusPending, now)
	f.seedPayment(t, domain.MethodOnline, domain.StatusPending, now)

	reconciler := &conflictingReconciler{}
	f.clock.Set(now.Add(48 * time.Hour))
	require.NoError(t, f.scheduler(t, reconciler, 10).ExpireStaleSessionsJob(context.Background()))
	assert.Equal(t, 2, reconciler.calls)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 25*time.Hour, cfg.StaleSessionAfter)
}
