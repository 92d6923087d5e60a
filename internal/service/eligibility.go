package service

import (
	"fmt"
	"time"

	"prediction-bot/internal/models"
)

// Reason explains why a grant was rejected.
type Reason string

const (
	ReasonCooldown            Reason = "cooldown"
	ReasonInsufficientBalance Reason = "insufficient_balance"
)

// Decision is the outcome of an eligibility check.
type Decision struct {
	Eligible   bool
	Reason     Reason
	RetryAfter time.Duration
}

// Evaluate decides whether a user may receive a prediction at now.
// The cooldown check runs first: when both cooldown and balance would
// block, cooldown is the reported reason. A user whose cooldown elapsed
// exactly is eligible.
func Evaluate(user *models.User, now time.Time, cooldown time.Duration, cost int64) Decision {
	if user.LastPredictionAt != nil {
		elapsed := now.Sub(*user.LastPredictionAt)
		if elapsed < cooldown {
			return Decision{Reason: ReasonCooldown, RetryAfter: cooldown - elapsed}
		}
	}

	if user.Stars < cost {
		return Decision{Reason: ReasonInsufficientBalance}
	}

	return Decision{Eligible: true}
}

// FormatRetryAfter renders a remaining wait as "X ч. Y мин.", clamped
// at zero.
func FormatRetryAfter(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int(d%time.Hour) / int(time.Minute)
	return fmt.Sprintf("%d ч. %d мин.", hours, minutes)
}
