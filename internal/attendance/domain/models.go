package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusAttending    Status = "attending"
	StatusMaybe        Status = "maybe"
	StatusNotAttending Status = "not_attending"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAttending, StatusMaybe, StatusNotAttending:
		return true
	default:
		return false
	}
}

// Source records who created the attendance. Guests are bound by the
// registration deadline and can never bypass capacity.
type Source string

const (
	SourceGuest Source = "guest"
	SourceAdmin Source = "admin"
)

func (s Source) Valid() bool {
	return s == SourceGuest || s == SourceAdmin
}

type Attendance struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	EventID            snowflake.ID `gorm:"not null;index" json:"event_id"`
	Name               string       `gorm:"not null" json:"name"`
	Status             Status       `gorm:"not null" json:"status"`
	Source             Source       `gorm:"not null" json:"source"`
	GuestTokenHash     string       `gorm:"uniqueIndex" json:"-"`
	GuestTokenIssuedAt *time.Time   `json:"guest_token_issued_at,omitempty"`
	CreatedAt          time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null" json:"updated_at"`
}

func (Attendance) TableName() string { return "attendances" }

// CapacityOutcome reports the roster state observed by the capacity guard.
// Capacity is nil for unlimited events.
type CapacityOutcome struct {
	Admitted bool `json:"admitted"`
	Capacity *int `json:"capacity"`
	Current  int  `json:"current"`
}

type AdmitRequest struct {
	EventID snowflake.ID
	Name    string
	Status  Status
	Source  Source
	// Bypass admits past the capacity ceiling. Ignored for guests.
	Bypass bool
}

type AdmitResult struct {
	Attendance Attendance      `json:"attendance"`
	Outcome    CapacityOutcome `json:"outcome"`
	// GuestToken is the raw access secret. Only its hash is stored, so it
	// is returned here exactly once.
	GuestToken string `json:"guest_token"`
}

type ChangeStatusRequest struct {
	ID     snowflake.ID
	Status Status
	Source Source
	Bypass bool
}

type ChangeStatusResult struct {
	Attendance Attendance      `json:"attendance"`
	Outcome    CapacityOutcome `json:"outcome"`
}

type ReissueTokenResult struct {
	Attendance Attendance `json:"attendance"`
	GuestToken string     `json:"guest_token"`
}
