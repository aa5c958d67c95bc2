package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/event/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const eventColumns = `id, owner_id, title, scheduled_at, fee, capacity, payment_methods,
	registration_deadline, online_payment_deadline, allow_payment_after_deadline,
	grace_period_days, canceled_at, cancellation_note, roster_version, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.OwnerID,
		event.Title,
		event.ScheduledAt,
		event.Fee,
		event.Capacity,
		event.PaymentMethods,
		event.RegistrationDeadline,
		event.OnlinePaymentDeadline,
		event.AllowPaymentAfterDeadline,
		event.GracePeriodDays,
		event.CanceledAt,
		event.CancellationNote,
		event.RosterVersion,
		event.CreatedAt,
		event.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Event, error) {
	var event domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM events WHERE id = ?`,
		id,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, event *domain.Event) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE events
		 SET title = ?, scheduled_at = ?, fee = ?, capacity = ?, payment_methods = ?,
		     registration_deadline = ?, online_payment_deadline = ?,
		     allow_payment_after_deadline = ?, grace_period_days = ?, updated_at = ?
		 WHERE id = ? AND canceled_at IS NULL`,
		event.Title,
		event.ScheduledAt,
		event.Fee,
		event.Capacity,
		event.PaymentMethods,
		event.RegistrationDeadline,
		event.OnlinePaymentDeadline,
		event.AllowPaymentAfterDeadline,
		event.GracePeriodDays,
		event.UpdatedAt,
		event.ID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) LockRoster(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE events SET roster_version = roster_version + 1 WHERE id = ?`,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCanceled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, note *string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE events SET canceled_at = ?, cancellation_note = ?, updated_at = ?
		 WHERE id = ? AND canceled_at IS NULL`,
		at,
		note,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM events WHERE id = ?`, id).Error
}

func (r *repo) CountAttending(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM attendances WHERE event_id = ? AND status = 'attending'`,
		eventID,
	).Scan(&count).Error
	return int(count), err
}

func (r *repo) CountParticipants(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM attendances WHERE event_id = ? AND status IN ('attending', 'maybe')`,
		eventID,
	).Scan(&count).Error
	return int(count), err
}

func (r *repo) CountPayments(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payments WHERE event_id = ?`,
		eventID,
	).Scan(&count).Error
	return int(count), err
}

func (r *repo) HasCompletedOnlinePayment(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM payments
		 WHERE event_id = ? AND method = 'online' AND status IN ('paid', 'refunded')`,
		eventID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) DeleteDeclined(ctx context.Context, db *gorm.DB, eventID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM attendances WHERE event_id = ? AND status = 'not_attending'`,
		eventID,
	).Error
}
