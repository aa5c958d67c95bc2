package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/eventpay/internal/attendance/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const attendanceColumns = `id, event_id, name, status, source, guest_token_hash,
	guest_token_issued_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, attendance *domain.Attendance) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO attendances (`+attendanceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attendance.ID,
		attendance.EventID,
		attendance.Name,
		attendance.Status,
		attendance.Source,
		attendance.GuestTokenHash,
		attendance.GuestTokenIssuedAt,
		attendance.CreatedAt,
		attendance.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Attendance, error) {
	var attendance domain.Attendance
	err := db.WithContext(ctx).Raw(
		`SELECT `+attendanceColumns+` FROM attendances WHERE id = ?`,
		id,
	).Scan(&attendance).Error
	if err != nil {
		return nil, err
	}
	if attendance.ID == 0 {
		return nil, nil
	}
	return &attendance, nil
}

func (r *repo) FindByGuestTokenHash(ctx context.Context, db *gorm.DB, hash string) (*domain.Attendance, error) {
	var attendance domain.Attendance
	err := db.WithContext(ctx).Raw(
		`SELECT `+attendanceColumns+` FROM attendances WHERE guest_token_hash = ?`,
		hash,
	).Scan(&attendance).Error
	if err != nil {
		return nil, err
	}
	if attendance.ID == 0 {
		return nil, nil
	}
	return &attendance, nil
}

func (r *repo) ListByEvent(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]domain.Attendance, error) {
	var items []domain.Attendance
	err := db.WithContext(ctx).Raw(
		`SELECT `+attendanceColumns+` FROM attendances
		 WHERE event_id = ? ORDER BY created_at ASC, id ASC`,
		eventID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE attendances SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to,
		at,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) UpdateGuestToken(ctx context.Context, db *gorm.DB, id snowflake.ID, hash string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE attendances SET guest_token_hash = ?, guest_token_issued_at = ?, updated_at = ? WHERE id = ?`,
		hash,
		at,
		at,
		id,
	).Error
}
