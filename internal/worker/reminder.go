package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"prediction-bot/internal/models"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const scanInterval = 15 * time.Minute

// Reminder notifies users whose prediction cooldown has just elapsed.
// Redis keys keyed by (user, last grant) make each grant produce at most
// one reminder even across restarts.
type Reminder struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Bot      *telego.Bot
	Log      *slog.Logger
	Cooldown time.Duration
}

func NewReminder(db *gorm.DB, rdb *redis.Client, bot *telego.Bot, log *slog.Logger, cooldown time.Duration) *Reminder {
	return &Reminder{
		DB:       db,
		Redis:    rdb,
		Bot:      bot,
		Log:      log,
		Cooldown: cooldown,
	}
}

func (r *Reminder) Start() {
	ticker := time.NewTicker(scanInterval)
	r.Log.Info("cooldown reminder worker started")

	r.checkReady()

	for range ticker.C {
		r.checkReady()
	}
}

// reminderWindow bounds the last-grant timestamps whose cooldown
// elapsed within the last two scan intervals: old enough that the
// cooldown has passed, recent enough that the previous scan could have
// missed it.
func reminderWindow(now time.Time, cooldown time.Duration) (start, end time.Time) {
	return now.Add(-cooldown - 2*scanInterval), now.Add(-cooldown)
}

func (r *Reminder) checkReady() {
	ctx := context.Background()
	start, end := reminderWindow(time.Now(), r.Cooldown)

	var users []models.User
	if err := r.DB.Where("last_prediction_at BETWEEN ? AND ?", start, end).Find(&users).Error; err != nil {
		r.Log.Error("failed to query users for reminders", slog.Any("err", err))
		return
	}

	for _, user := range users {
		key := fmt.Sprintf("prediction_ready_%d_%d", user.TelegramID, user.LastPredictionAt.Unix())
		exists, err := r.Redis.Exists(ctx, key).Result()
		if err != nil {
			r.Log.Warn("redis reminder guard unavailable", slog.Any("err", err))
			continue
		}
		if exists != 0 {
			continue
		}

		_, err = r.Bot.SendMessage(ctx, tu.Message(
			tu.ID(user.TelegramID),
			"🔮 Кулдаун прошёл — вас ждёт новое предсказание!",
		))
		if err != nil {
			r.Log.Warn("failed to send reminder",
				slog.Int64("telegram_id", user.TelegramID), slog.Any("err", err))
			continue
		}

		r.Redis.Set(ctx, key, "true", 48*time.Hour)
		r.Log.Info("sent cooldown reminder", slog.Int64("telegram_id", user.TelegramID))
	}
}
