package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"prediction-bot/internal/models"
)

// Storage is the Postgres-backed UserStore. Per-user serialization is
// row-level: mutations lock the user row with SELECT ... FOR UPDATE.
type Storage struct {
	db *gorm.DB
}

func NewStorage(db *gorm.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) GetOrCreate(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where(models.User{TelegramID: telegramID}).
		Attrs(models.User{Username: username}).
		FirstOrCreate(&user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a concurrent-create race; the row exists now.
		return s.Get(ctx, telegramID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get/create user %d: %w", telegramID, err)
	}

	// Keep the display name fresh; it carries no invariants.
	if username != "" && user.Username != username {
		user.Username = username
		if err := s.db.WithContext(ctx).Model(&user).Update("username", username).Error; err != nil {
			return nil, fmt.Errorf("failed to update username for %d: %w", telegramID, err)
		}
	}

	return &user, nil
}

func (s *Storage) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", telegramID, err)
	}
	return &user, nil
}

func (s *Storage) UpdateUser(ctx context.Context, telegramID int64, fn func(*models.User) error) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("telegram_id = ?", telegramID).
			First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := fn(&user); err != nil {
			return err
		}
		if user.Stars < 0 {
			return ErrInsufficientBalance
		}

		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Storage) Credit(ctx context.Context, telegramID int64, amount int64, reference string) (*models.User, bool, error) {
	var user models.User
	errDuplicate := errors.New("duplicate payment reference")

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("telegram_id = ?", telegramID).
			First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		payment := models.StarPayment{
			TelegramID: telegramID,
			Amount:     amount,
			Reference:  reference,
		}
		if err := tx.Create(&payment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errDuplicate
			}
			return err
		}

		user.Stars += amount
		return tx.Save(&user).Error
	})
	if errors.Is(err, errDuplicate) {
		// Replayed confirmation: report the unchanged record.
		current, getErr := s.Get(ctx, telegramID)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &user, true, nil
}

func (s *Storage) Top(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	var rows []LeaderboardRow
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Select("telegram_id", "username", "prediction_count").
		Order("prediction_count DESC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	return rows, nil
}

func (s *Storage) RankOf(ctx context.Context, telegramID int64) (int, error) {
	user, err := s.Get(ctx, telegramID)
	if err != nil {
		return 0, err
	}

	var ahead int64
	err = s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("prediction_count > ?", user.PredictionCount).
		Count(&ahead).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count rank for %d: %w", telegramID, err)
	}
	return int(ahead) + 1, nil
}

func (s *Storage) RecordPrediction(ctx context.Context, telegramID int64, text string, issuedAt time.Time) error {
	event := models.PredictionEvent{
		TelegramID: telegramID,
		Text:       text,
		IssuedAt:   issuedAt,
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("failed to record prediction for %d: %w", telegramID, err)
	}
	return nil
}

func (s *Storage) History(ctx context.Context, telegramID int64, limit int) ([]models.PredictionEvent, error) {
	var events []models.PredictionEvent
	err := s.db.WithContext(ctx).
		Where("telegram_id = ?", telegramID).
		Order("issued_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %d: %w", telegramID, err)
	}
	return events, nil
}
