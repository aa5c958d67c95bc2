package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *Event) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Event, error)
	// Update writes the editable fields of an event that is not canceled.
	// It reports false when no such row exists.
	Update(ctx context.Context, db *gorm.DB, event *Event) (bool, error)
	// LockRoster bumps the roster version, serializing every roster write
	// for the event until the surrounding transaction ends.
	LockRoster(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	MarkCanceled(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time, note *string) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error

	CountAttending(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (int, error)
	CountParticipants(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (int, error)
	CountPayments(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (int, error)
	HasCompletedOnlinePayment(ctx context.Context, db *gorm.DB, eventID snowflake.ID) (bool, error)
	DeleteDeclined(ctx context.Context, db *gorm.DB, eventID snowflake.ID) error
}
