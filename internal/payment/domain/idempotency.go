package domain

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IdempotencyKey derives the provider idempotency key for a checkout
// attempt. Attempt zero is the first session for the payment row; a retry
// after a failed session passes the row version so the provider opens a
// fresh session instead of replaying the failed one.
func IdempotencyKey(attendanceID, paymentID snowflake.ID, attempt int64) string {
	if attempt <= 0 {
		return fmt.Sprintf("checkout:%s:%s", attendanceID, paymentID)
	}
	return fmt.Sprintf("checkout:%s:%s:%d", attendanceID, paymentID, attempt)
}
