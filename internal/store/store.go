// Package store owns all durable user state: star balance, cooldown
// timestamp, prediction counters and the grant history. Every balance
// mutation goes through here, serialized per user.
package store

import (
	"context"
	"errors"
	"time"

	"prediction-bot/internal/models"
)

var (
	// ErrNotFound is returned for lookups of users that were never created.
	ErrNotFound = errors.New("user not found")
	// ErrInsufficientBalance is returned by mutations that would drive a
	// balance below zero.
	ErrInsufficientBalance = errors.New("insufficient star balance")
)

// LeaderboardRow is one line of the rating, ordered by prediction count.
type LeaderboardRow struct {
	TelegramID      int64
	Username        string
	PredictionCount int64
}

// UserStore is the single authority over user records.
//
// UpdateUser runs fn against the freshly loaded record with all other
// mutations of the same user excluded; fn returning an error aborts the
// update with no state change. Credit is idempotent per reference: a
// replayed reference credits nothing and reports applied=false.
type UserStore interface {
	GetOrCreate(ctx context.Context, telegramID int64, username string) (*models.User, error)
	Get(ctx context.Context, telegramID int64) (*models.User, error)
	UpdateUser(ctx context.Context, telegramID int64, fn func(*models.User) error) (*models.User, error)
	Credit(ctx context.Context, telegramID int64, amount int64, reference string) (*models.User, bool, error)
	Top(ctx context.Context, limit int) ([]LeaderboardRow, error)
	RankOf(ctx context.Context, telegramID int64) (int, error)
	RecordPrediction(ctx context.Context, telegramID int64, text string, issuedAt time.Time) error
	History(ctx context.Context, telegramID int64, limit int) ([]models.PredictionEvent, error)
}
