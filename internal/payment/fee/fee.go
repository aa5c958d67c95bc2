// Package fee computes the platform fee taken from an online payment.
package fee

import "github.com/smallbiznis/eventpay/internal/config"

// Compute applies amount*bps/10000 + fixed, raises it to the schedule
// minimum and caps it at the amount itself.
func Compute(amount int64, schedule config.FeeSchedule) int64 {
	if amount <= 0 {
		return 0
	}
	fee := amount*schedule.BasisPoints/10000 + schedule.Fixed
	if fee < schedule.Minimum {
		fee = schedule.Minimum
	}
	if fee < 0 {
		fee = 0
	}
	if fee > amount {
		fee = amount
	}
	return fee
}
