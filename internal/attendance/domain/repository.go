package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, attendance *Attendance) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Attendance, error)
	FindByGuestTokenHash(ctx context.Context, db *gorm.DB, hash string) (*Attendance, error)
	ListByEvent(ctx context.Context, db *gorm.DB, eventID snowflake.ID) ([]Attendance, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, at time.Time) (bool, error)
	UpdateGuestToken(ctx context.Context, db *gorm.DB, id snowflake.ID, hash string, at time.Time) error
}
