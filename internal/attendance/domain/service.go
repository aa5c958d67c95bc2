package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Admit inserts an attendance through the capacity guard.
	Admit(ctx context.Context, req AdmitRequest) (AdmitResult, error)
	ChangeStatus(ctx context.Context, req ChangeStatusRequest) (ChangeStatusResult, error)
	Get(ctx context.Context, id snowflake.ID) (Attendance, error)
	GetByGuestToken(ctx context.Context, token string) (Attendance, error)
	ListByEvent(ctx context.Context, eventID snowflake.ID) ([]Attendance, error)
	ReissueGuestToken(ctx context.Context, id snowflake.ID) (ReissueTokenResult, error)
}
