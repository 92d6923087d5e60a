// Package payment handles the Telegram Stars (XTR) side of the bot:
// building invoices and crediting balances from successful payments.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"

	"prediction-bot/internal/models"
	"prediction-bot/internal/service"
)

// Currency is the Telegram Stars currency code.
const Currency = "XTR"

const guardTTL = 48 * time.Hour

// ReplayGuard is the slice of the Redis client used to short-circuit
// redelivered payment confirmations.
type ReplayGuard interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Credits turns successful Telegram Stars payments into balance credits.
type Credits struct {
	Service *service.Service
	Redis   ReplayGuard
	Log     *slog.Logger
}

func NewCredits(svc *service.Service, rdb ReplayGuard, log *slog.Logger) *Credits {
	return &Credits{
		Service: svc,
		Redis:   rdb,
		Log:     log,
	}
}

// InvoiceParams builds a Stars invoice. Stars invoices carry no provider
// token; amount is the star price.
func InvoiceParams(chatID int64, title, description, payload string, amount int64) *telego.SendInvoiceParams {
	return &telego.SendInvoiceParams{
		ChatID:      tu.ID(chatID),
		Title:       title,
		Description: description,
		Payload:     payload,
		Currency:    Currency,
		Prices: []telego.LabeledPrice{
			{Label: title, Amount: int(amount)},
		},
	}
}

// HandleSuccessfulPayment credits the paid stars to the payer. The
// telegram_payment_charge_id is the dedup reference: Telegram may
// redeliver the confirmation, so the Redis guard short-circuits known
// replays and the unique reference in the store blocks the rest. The
// guard key is written only after the credit committed, so a transient
// store failure leaves the redelivery path open until a retry lands.
func (c *Credits) HandleSuccessfulPayment(ctx context.Context, telegramID int64, sp *telego.SuccessfulPayment) (*models.User, error) {
	reference := sp.TelegramPaymentChargeID

	var key string
	if reference != "" {
		key = fmt.Sprintf("star_payment_%s", reference)
		exists, err := c.Redis.Exists(ctx, key).Result()
		if err != nil {
			c.Log.Warn("redis payment guard unavailable", slog.Any("err", err))
		} else if exists != 0 {
			c.Log.Info("payment confirmation replayed, skipping",
				slog.Int64("telegram_id", telegramID),
				slog.String("reference", reference))
			return c.Service.Balance(ctx, telegramID)
		}
	}

	user, err := c.Service.CreditStars(ctx, telegramID, int64(sp.TotalAmount), reference)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if err := c.Redis.SetNX(ctx, key, "true", guardTTL).Err(); err != nil {
			c.Log.Warn("failed to set payment guard", slog.Any("err", err))
		}
	}

	return user, nil
}
