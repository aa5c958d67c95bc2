package lifecycle

import (
	"time"

	"github.com/smallbiznis/eventpay/internal/event/domain"
)

// DeriveStatus maps a scheduled start and a cancellation marker to a
// lifecycle status. Cancellation wins over any date comparison.
//
// Only a start time is modeled, so StatusOngoing is never returned: the
// instant the event starts it is reported as past.
func DeriveStatus(scheduledAt time.Time, canceledAt *time.Time, now time.Time) domain.Status {
	if canceledAt != nil {
		return domain.StatusCanceled
	}
	if now.Before(scheduledAt) {
		return domain.StatusUpcoming
	}
	return domain.StatusPast
}

func Of(event domain.Event, now time.Time) domain.Status {
	return DeriveStatus(event.ScheduledAt, event.CanceledAt, now)
}

// IsOpen reports whether the event still accepts changes to its roster.
func IsOpen(event domain.Event, now time.Time) bool {
	return Of(event, now) == domain.StatusUpcoming
}
