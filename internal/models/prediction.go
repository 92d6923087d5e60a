package models

import (
	"time"
)

// PredictionEvent is the append-only history of issued predictions.
// User balance and counters live on User; losing an event does not
// affect them.
type PredictionEvent struct {
	ID         uint   `gorm:"primaryKey"`
	TelegramID int64  `gorm:"not null;index"`
	Text       string `gorm:"not null"`
	IssuedAt   time.Time
}
