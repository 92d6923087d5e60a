package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prediction-bot/internal/models"
	"prediction-bot/internal/service"
	"prediction-bot/internal/store"
)

type guardMock struct {
	keys map[string]struct{}
	down bool
}

func newGuardMock() *guardMock {
	return &guardMock{keys: make(map[string]struct{})}
}

func (g *guardMock) Exists(_ context.Context, keys ...string) *redis.IntCmd {
	if g.down {
		return redis.NewIntResult(0, errors.New("redis unavailable"))
	}
	if _, ok := g.keys[keys[0]]; ok {
		return redis.NewIntResult(1, nil)
	}
	return redis.NewIntResult(0, nil)
}

func (g *guardMock) SetNX(_ context.Context, key string, _ interface{}, _ time.Duration) *redis.BoolCmd {
	if g.down {
		return redis.NewBoolResult(false, errors.New("redis unavailable"))
	}
	_, ok := g.keys[key]
	g.keys[key] = struct{}{}
	return redis.NewBoolResult(!ok, nil)
}

// flakyStore fails a configured number of Credit calls before behaving
// like the wrapped store.
type flakyStore struct {
	store.UserStore
	failures int
}

func (s *flakyStore) Credit(ctx context.Context, telegramID int64, amount int64, reference string) (*models.User, bool, error) {
	if s.failures > 0 {
		s.failures--
		return nil, false, errors.New("storage unavailable")
	}
	return s.UserStore.Credit(ctx, telegramID, amount, reference)
}

func newCreditsWith(st store.UserStore, guard *guardMock) *Credits {
	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	svc := service.New(st, staticPicker{}, log, 100, 24*time.Hour)
	return NewCredits(svc, guard, log)
}

type staticPicker struct{}

func (staticPicker) Pick() string { return "Вас ждет удача." }

func starsPayment(reference string) *telego.SuccessfulPayment {
	return &telego.SuccessfulPayment{
		Currency:                Currency,
		TotalAmount:             100,
		TelegramPaymentChargeID: reference,
	}
}

func TestHandleSuccessfulPaymentCreditsOnce(t *testing.T) {
	ctx := context.Background()
	credits := newCreditsWith(store.NewMemoryStorage(), newGuardMock())

	user, err := credits.HandleSuccessfulPayment(ctx, 1, starsPayment("charge-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Stars)

	// Redelivered confirmation hits the guard and credits nothing.
	user, err = credits.HandleSuccessfulPayment(ctx, 1, starsPayment("charge-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Stars)

	user, err = credits.HandleSuccessfulPayment(ctx, 1, starsPayment("charge-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), user.Stars)
}

func TestHandleSuccessfulPaymentRetriesAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{UserStore: store.NewMemoryStorage(), failures: 1}
	credits := newCreditsWith(flaky, newGuardMock())

	// First delivery dies in the store; no guard key may be left behind.
	_, err := credits.HandleSuccessfulPayment(ctx, 1, starsPayment("charge-1"))
	require.Error(t, err)

	// Telegram redelivers once the store is healthy again.
	user, err := credits.HandleSuccessfulPayment(ctx, 1, starsPayment("charge-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Stars)
}

func TestHandleSuccessfulPaymentSurvivesGuardOutage(t *testing.T) {
	ctx := context.Background()
	guard := newGuardMock()
	guard.down = true
	credits := newCreditsWith(store.NewMemoryStorage(), guard)

	// The guard is advisory: with Redis down the credit still lands and
	// replays fall through to the store's reference dedup.
	user, err := credits.HandleSuccessfulPayment(ctx, 1, starsPayment("charge-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Stars)

	user, err = credits.HandleSuccessfulPayment(ctx, 1, starsPayment("charge-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.Stars)
}
