package models

import (
	"time"
)

// StarPayment records a single star credit. Reference is unique, so a
// redelivered payment confirmation cannot credit twice.
type StarPayment struct {
	ID         uint   `gorm:"primaryKey"`
	TelegramID int64  `gorm:"not null;index"`
	Amount     int64  `gorm:"not null"`
	Reference  string `gorm:"size:255;uniqueIndex;not null"`
	CreatedAt  time.Time
}
