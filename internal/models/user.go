package models

import (
	"time"
)

type User struct {
	ID               uint   `gorm:"primaryKey"`
	TelegramID       int64  `gorm:"uniqueIndex;not null"`
	Username         string `gorm:"size:255"`
	Stars            int64  `gorm:"not null;default:0"`
	PredictionCount  int64  `gorm:"not null;default:0"`
	LastPredictionAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
