package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, req CreateEventRequest) (Event, error)
	Get(ctx context.Context, id snowflake.ID) (Event, error)
	Update(ctx context.Context, req UpdateEventRequest) (UpdateEventResponse, error)
	Delete(ctx context.Context, id snowflake.ID) error
}
