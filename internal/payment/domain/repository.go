package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// SessionUpdate is a version gated write of a checkout attempt.
type SessionUpdate struct {
	ID                snowflake.ID
	ExpectedVersion   int64
	Amount            int64
	PlatformFee       int64
	IdempotencyKey    string
	ProviderSessionID string
	CheckoutURL       string
	UpdatedAt         time.Time
}

// StatusUpdate is a version gated status change.
type StatusUpdate struct {
	ID              snowflake.ID
	ExpectedVersion int64
	From            Status
	To              Status
	Method          Method
	PaidAt          *time.Time
	UpdatedAt       time.Time

	// ProviderSessionID, when set, replaces the stored session reference.
	ProviderSessionID *string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByProviderSessionID(ctx context.Context, db *gorm.DB, sessionID string) (*Payment, error)
	FindOpen(ctx context.Context, db *gorm.DB, attendanceID snowflake.ID) (*Payment, error)
	ListByAttendance(ctx context.Context, db *gorm.DB, attendanceID snowflake.ID) ([]Payment, error)
	// ListStalePending returns pending online rows last touched before cutoff,
	// oldest first.
	ListStalePending(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]Payment, error)
	UpdateSession(ctx context.Context, db *gorm.DB, update SessionUpdate) (bool, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, update StatusUpdate) (bool, error)

	FindPayoutAccount(ctx context.Context, db *gorm.DB, ownerID snowflake.ID) (*PayoutAccount, error)
	UpsertPayoutAccount(ctx context.Context, db *gorm.DB, account *PayoutAccount) error

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
