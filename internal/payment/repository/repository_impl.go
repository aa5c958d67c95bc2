package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, attendance_id, event_id, method, amount, status, paid_at, version,
	idempotency_key, provider_session_id, checkout_url, platform_fee, created_at, updated_at`

// currentOrder puts the row that represents the attendance's payment state
// first: latest paid, then latest created, then latest updated.
const currentOrder = `ORDER BY (CASE WHEN paid_at IS NULL THEN 1 ELSE 0 END) ASC,
	paid_at DESC, created_at DESC, updated_at DESC`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.AttendanceID,
		payment.EventID,
		payment.Method,
		payment.Amount,
		payment.Status,
		payment.PaidAt,
		payment.Version,
		payment.IdempotencyKey,
		payment.ProviderSessionID,
		payment.CheckoutURL,
		payment.PlatformFee,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db, `WHERE id = ?`, id)
}

func (r *repo) FindByProviderSessionID(ctx context.Context, db *gorm.DB, sessionID string) (*domain.Payment, error) {
	return r.findOne(ctx, db, `WHERE provider_session_id = ?`, sessionID)
}

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, attendanceID snowflake.ID) (*domain.Payment, error) {
	return r.findOne(ctx, db,
		`WHERE attendance_id = ? AND status IN ('pending', 'failed') `+currentOrder+` LIMIT 1`,
		attendanceID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, args ...any) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(`SELECT `+paymentColumns+` FROM payments `+where, args...).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByAttendance(ctx context.Context, db *gorm.DB, attendanceID snowflake.ID) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments WHERE attendance_id = ? `+currentOrder,
		attendanceID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListStalePending(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+` FROM payments
		 WHERE status = 'pending' AND method = 'online' AND updated_at < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		cutoff,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateSession turns an open row into a pending online checkout. It only
// applies while the stored version still matches.
func (r *repo) UpdateSession(ctx context.Context, db *gorm.DB, update domain.SessionUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET method = 'online', status = 'pending', amount = ?, platform_fee = ?,
		     idempotency_key = ?, provider_session_id = ?, checkout_url = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND status IN ('pending', 'failed')`,
		update.Amount,
		update.PlatformFee,
		update.IdempotencyKey,
		update.ProviderSessionID,
		update.CheckoutURL,
		update.UpdatedAt,
		update.ID,
		update.ExpectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, update domain.StatusUpdate) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, method = ?, paid_at = COALESCE(?, paid_at),
		     provider_session_id = COALESCE(?, provider_session_id),
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND status = ?`,
		update.To,
		update.Method,
		update.PaidAt,
		update.ProviderSessionID,
		update.UpdatedAt,
		update.ID,
		update.ExpectedVersion,
		update.From,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) FindPayoutAccount(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) (*domain.PayoutAccount, error) {
	var item domain.PayoutAccount
	err := db.WithContext(ctx).Raw(
		`SELECT owner_id, provider_account_id, created_at, updated_at
		 FROM payout_accounts
		 WHERE owner_id = ?`,
		ownerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.OwnerID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpsertPayoutAccount(ctx context.Context, db *gorm.DB, account *domain.PayoutAccount) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payout_accounts (owner_id, provider_account_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (owner_id) DO UPDATE
		 SET provider_account_id = excluded.provider_account_id, updated_at = excluded.updated_at`,
		account.OwnerID,
		account.ProviderAccountID,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, payment_id,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.PaymentID,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, payment_id,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
