// Package service is the single authority for the prediction business
// rules: eligibility, the atomic grant transaction, star credits and
// the leaderboard. Every transport adapter (Telegram bot, web API)
// consumes it and adds presentation only.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"prediction-bot/internal/models"
	"prediction-bot/internal/predictions"
	"prediction-bot/internal/store"
)

// errRejected aborts the store transaction of a blocked grant; nothing
// was mutated at that point.
var errRejected = errors.New("grant rejected")

// GrantResult is the outcome of a grant attempt. Either Granted is set
// with the prediction and fresh counters, or Reason explains the
// rejection (RetryAfter only for cooldown).
type GrantResult struct {
	Granted    bool
	Text       string
	NewBalance int64
	NewCount   int64
	Reason     Reason
	RetryAfter time.Duration
}

// Service wires the user store and the prediction corpus together.
type Service struct {
	store    store.UserStore
	corpus   predictions.Picker
	log      *slog.Logger
	cost     int64
	cooldown time.Duration
}

func New(st store.UserStore, corpus predictions.Picker, log *slog.Logger, cost int64, cooldown time.Duration) *Service {
	return &Service{
		store:    st,
		corpus:   corpus,
		log:      log,
		cost:     cost,
		cooldown: cooldown,
	}
}

func (s *Service) Cost() int64 {
	return s.cost
}

// RegisterUser lazily creates the user record for an incoming identity.
func (s *Service) RegisterUser(ctx context.Context, telegramID int64, username string) (*models.User, error) {
	return s.store.GetOrCreate(ctx, telegramID, username)
}

// Grant attempts to issue a prediction. Eligibility is re-evaluated
// against the locked record inside the store transaction, so two
// concurrent attempts can never both commit against one balance or one
// cooldown window.
func (s *Service) Grant(ctx context.Context, telegramID int64, now time.Time) (*GrantResult, error) {
	if _, err := s.store.GetOrCreate(ctx, telegramID, ""); err != nil {
		return nil, fmt.Errorf("failed to initialize user %d: %w", telegramID, err)
	}

	var rejected *GrantResult
	var text string
	user, err := s.store.UpdateUser(ctx, telegramID, func(u *models.User) error {
		decision := Evaluate(u, now, s.cooldown, s.cost)
		if !decision.Eligible {
			rejected = &GrantResult{Reason: decision.Reason, RetryAfter: decision.RetryAfter}
			return errRejected
		}

		u.Stars -= s.cost
		issuedAt := now
		u.LastPredictionAt = &issuedAt
		u.PredictionCount++
		text = s.corpus.Pick()
		return nil
	})
	if errors.Is(err, errRejected) {
		s.log.Info("grant rejected",
			slog.Int64("telegram_id", telegramID),
			slog.String("reason", string(rejected.Reason)))
		return rejected, nil
	}
	if err != nil {
		return nil, fmt.Errorf("grant failed for %d: %w", telegramID, err)
	}

	// History is best effort: a lost event never touches balance or count.
	if err := s.store.RecordPrediction(ctx, telegramID, text, now); err != nil {
		s.log.Warn("failed to record prediction event",
			slog.Int64("telegram_id", telegramID), slog.Any("err", err))
	}

	s.log.Info("prediction granted",
		slog.Int64("telegram_id", telegramID),
		slog.Int64("balance", user.Stars),
		slog.Int64("count", user.PredictionCount))

	return &GrantResult{
		Granted:    true,
		Text:       text,
		NewBalance: user.Stars,
		NewCount:   user.PredictionCount,
	}, nil
}

// CreditStars adds stars to a user's balance. The reference deduplicates
// redelivered payment confirmations; callers without one get a generated
// reference and therefore no replay protection of their own.
func (s *Service) CreditStars(ctx context.Context, telegramID int64, amount int64, reference string) (*models.User, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	if reference == "" {
		reference = uuid.NewString()
	}

	if _, err := s.store.GetOrCreate(ctx, telegramID, ""); err != nil {
		return nil, fmt.Errorf("failed to initialize user %d: %w", telegramID, err)
	}

	user, applied, err := s.store.Credit(ctx, telegramID, amount, reference)
	if err != nil {
		return nil, fmt.Errorf("credit failed for %d: %w", telegramID, err)
	}

	if applied {
		s.log.Info("stars credited",
			slog.Int64("telegram_id", telegramID),
			slog.Int64("amount", amount),
			slog.Int64("balance", user.Stars))
	} else {
		s.log.Info("star credit replay ignored",
			slog.Int64("telegram_id", telegramID),
			slog.String("reference", reference))
	}

	return user, nil
}

// Balance returns the stored record without creating one.
func (s *Service) Balance(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.store.Get(ctx, telegramID)
}

// Profile returns the (lazily created) record together with its rank.
func (s *Service) Profile(ctx context.Context, telegramID int64, username string) (*models.User, int, error) {
	user, err := s.store.GetOrCreate(ctx, telegramID, username)
	if err != nil {
		return nil, 0, err
	}
	rank, err := s.store.RankOf(ctx, telegramID)
	if err != nil {
		return nil, 0, err
	}
	return user, rank, nil
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]store.LeaderboardRow, error) {
	return s.store.Top(ctx, limit)
}

func (s *Service) Rank(ctx context.Context, telegramID int64) (int, error) {
	return s.store.RankOf(ctx, telegramID)
}

func (s *Service) History(ctx context.Context, telegramID int64, limit int) ([]models.PredictionEvent, error) {
	return s.store.History(ctx, telegramID, limit)
}
