package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"prediction-bot/internal/models"
)

// MemoryStorage is an in-process UserStore with the same contract as the
// Postgres one: per-user mutations are serialized by a per-record mutex.
// It backs tests and single-node deployments without a database.
type MemoryStorage struct {
	mu       sync.RWMutex
	users    map[int64]*memoryUser
	nextID   uint
	refsMu   sync.Mutex
	refs     map[string]struct{}
	eventsMu sync.Mutex
	events   []models.PredictionEvent
}

type memoryUser struct {
	mu   sync.Mutex
	user models.User
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users: make(map[int64]*memoryUser),
		refs:  make(map[string]struct{}),
	}
}

func (s *MemoryStorage) GetOrCreate(_ context.Context, telegramID int64, username string) (*models.User, error) {
	s.mu.Lock()
	entry, ok := s.users[telegramID]
	if !ok {
		s.nextID++
		now := time.Now()
		entry = &memoryUser{user: models.User{
			ID:         s.nextID,
			TelegramID: telegramID,
			Username:   username,
			CreatedAt:  now,
			UpdatedAt:  now,
		}}
		s.users[telegramID] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if username != "" && entry.user.Username != username {
		entry.user.Username = username
	}
	user := entry.user
	return &user, nil
}

func (s *MemoryStorage) Get(_ context.Context, telegramID int64) (*models.User, error) {
	entry, err := s.lookup(telegramID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	user := entry.user
	return &user, nil
}

func (s *MemoryStorage) UpdateUser(_ context.Context, telegramID int64, fn func(*models.User) error) (*models.User, error) {
	entry, err := s.lookup(telegramID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	updated := entry.user
	if err := fn(&updated); err != nil {
		return nil, err
	}
	if updated.Stars < 0 {
		return nil, ErrInsufficientBalance
	}

	updated.UpdatedAt = time.Now()
	entry.user = updated
	user := updated
	return &user, nil
}

func (s *MemoryStorage) Credit(_ context.Context, telegramID int64, amount int64, reference string) (*models.User, bool, error) {
	entry, err := s.lookup(telegramID)
	if err != nil {
		return nil, false, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	s.refsMu.Lock()
	_, seen := s.refs[reference]
	if !seen {
		s.refs[reference] = struct{}{}
	}
	s.refsMu.Unlock()

	if seen {
		user := entry.user
		return &user, false, nil
	}

	entry.user.Stars += amount
	entry.user.UpdatedAt = time.Now()
	user := entry.user
	return &user, true, nil
}

func (s *MemoryStorage) Top(_ context.Context, limit int) ([]LeaderboardRow, error) {
	users := s.snapshot()

	sort.Slice(users, func(i, j int) bool {
		if users[i].PredictionCount != users[j].PredictionCount {
			return users[i].PredictionCount > users[j].PredictionCount
		}
		return users[i].ID < users[j].ID
	})

	if limit > len(users) {
		limit = len(users)
	}
	rows := make([]LeaderboardRow, 0, limit)
	for _, u := range users[:limit] {
		rows = append(rows, LeaderboardRow{
			TelegramID:      u.TelegramID,
			Username:        u.Username,
			PredictionCount: u.PredictionCount,
		})
	}
	return rows, nil
}

func (s *MemoryStorage) RankOf(ctx context.Context, telegramID int64) (int, error) {
	target, err := s.Get(ctx, telegramID)
	if err != nil {
		return 0, err
	}

	rank := 1
	for _, u := range s.snapshot() {
		if u.PredictionCount > target.PredictionCount {
			rank++
		}
	}
	return rank, nil
}

func (s *MemoryStorage) RecordPrediction(_ context.Context, telegramID int64, text string, issuedAt time.Time) error {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, models.PredictionEvent{
		ID:         uint(len(s.events) + 1),
		TelegramID: telegramID,
		Text:       text,
		IssuedAt:   issuedAt,
	})
	return nil
}

func (s *MemoryStorage) History(_ context.Context, telegramID int64, limit int) ([]models.PredictionEvent, error) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	var events []models.PredictionEvent
	for i := len(s.events) - 1; i >= 0 && len(events) < limit; i-- {
		if s.events[i].TelegramID == telegramID {
			events = append(events, s.events[i])
		}
	}
	return events, nil
}

func (s *MemoryStorage) lookup(telegramID int64) (*memoryUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.users[telegramID]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *MemoryStorage) snapshot() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, entry := range s.users {
		entry.mu.Lock()
		users = append(users, entry.user)
		entry.mu.Unlock()
	}
	return users
}
