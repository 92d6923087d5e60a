package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"prediction-bot/internal/payment"
	"prediction-bot/internal/service"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
)

type Bot struct {
	Instance         *telego.Bot
	Service          *service.Service
	Credits          *payment.Credits
	Log              *slog.Logger
	LeaderboardLimit int
}

func NewBot(token string, svc *service.Service, credits *payment.Credits, log *slog.Logger, leaderboardLimit int) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		Instance:         tgBot,
		Service:          svc,
		Credits:          credits,
		Log:              log,
		LeaderboardLimit: leaderboardLimit,
	}, nil
}

func (b *Bot) Start() {
	updates, _ := b.Instance.UpdatesViaLongPolling(context.Background(), nil)

	handler, _ := th.NewBotHandler(b.Instance, updates)

	// /start command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		telegramID := message.From.ID

		if _, err := b.Service.RegisterUser(ctx.Context(), telegramID, message.From.Username); err != nil {
			b.Log.Error("failed to register user", slog.Int64("telegram_id", telegramID), slog.Any("err", err))
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("Привет, %s! 👋\n\nЯ бот предсказаний. Нажмите кнопку ниже, чтобы получить предсказание!", message.From.FirstName),
		).WithReplyMarkup(b.mainKeyboard()))
		return nil
	}, th.CommandEqual("start"))

	// /paysupport command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(update.Message.Chat.ID),
			"Добровольные пожертвования не подразумевают возврат средств, "+
				"однако, если вы очень хотите вернуть средства - свяжитесь с нами.",
		))
		return nil
	}, th.CommandEqual("paysupport"))

	// Callback for requesting a prediction
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		result, err := b.Service.Grant(ctx.Context(), telegramID, time.Now())
		if err != nil {
			b.Log.Error("grant failed", slog.Int64("telegram_id", telegramID), slog.Any("err", err))
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Произошла ошибка. Попробуйте позже."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		switch {
		case result.Granted:
			msg := fmt.Sprintf("✨ Ваше предсказание:\n\n%s\n\n⭐ Баланс: %d\n🔮 Всего предсказаний: %d",
				result.Text, result.NewBalance, result.NewCount)
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), msg))

		case result.Reason == service.ReasonCooldown:
			msg := fmt.Sprintf("⏳ Следующее предсказание будет доступно через %s",
				service.FormatRetryAfter(result.RetryAfter))
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), msg))

		default:
			keyboard := tu.InlineKeyboard(
				tu.InlineKeyboardRow(
					tu.InlineKeyboardButton("⭐ Пополнить звёзды").WithCallbackData("topup_stars"),
				),
			)
			msg := fmt.Sprintf("❌ Недостаточно звёзд.\nСтоимость предсказания: %d ⭐", b.Service.Cost())
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), msg).WithReplyMarkup(keyboard))
		}

		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("get_prediction"))

	// Callback for the rating
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		rows, err := b.Service.Leaderboard(ctx.Context(), b.LeaderboardLimit)
		if err != nil {
			b.Log.Error("failed to load leaderboard", slog.Any("err", err))
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Произошла ошибка. Попробуйте позже."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		if len(rows) == 0 {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "Пока нет данных для рейтинга"))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		var sb strings.Builder
		sb.WriteString("📊 Топ пользователей:\n\n")
		for i, row := range rows {
			name := row.Username
			if name == "" {
				name = fmt.Sprintf("id%d", row.TelegramID)
			}
			sb.WriteString(fmt.Sprintf("%d. @%s: %d предсказаний\n", i+1, name, row.PredictionCount))
		}

		keyboard := tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("« Назад").WithCallbackData("start_back"),
			),
		)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), sb.String()).WithReplyMarkup(keyboard))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("show_rating"))

	// Callback for the profile
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		user, rank, err := b.Service.Profile(ctx.Context(), telegramID, callback.From.Username)
		if err != nil {
			b.Log.Error("failed to load profile", slog.Int64("telegram_id", telegramID), slog.Any("err", err))
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Произошла ошибка. Попробуйте позже."))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		lastDate := "Нет"
		if user.LastPredictionAt != nil {
			lastDate = user.LastPredictionAt.Format("02.01.2006 15:04")
		}

		msg := fmt.Sprintf("👤 *Профиль:*\n\n🔹 ID: `%d`\n⭐ Баланс: %d\n🔮 Предсказаний: %d\n🏆 Место в рейтинге: %d\n📅 Последнее предсказание: %s",
			telegramID, user.Stars, user.PredictionCount, rank, lastDate)

		keyboard := tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("⭐ Пополнить звёзды").WithCallbackData("topup_stars"),
			),
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("« Назад").WithCallbackData("start_back"),
			),
		)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), msg).WithParseMode(telego.ModeMarkdown).WithReplyMarkup(keyboard))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("profile"))

	// Callback for topping up stars: send an XTR invoice
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		invoice := payment.InvoiceParams(
			telegramID,
			"Предсказание",
			"Получите ваше предсказание",
			"prediction_stars",
			b.Service.Cost(),
		)
		if _, err := ctx.Bot().SendInvoice(ctx.Context(), invoice); err != nil {
			b.Log.Error("failed to send invoice", slog.Int64("telegram_id", telegramID), slog.Any("err", err))
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Не удалось выставить счёт. Попробуйте позже."))
		}

		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("topup_stars"))

	// Back to the start menu
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(callback.From.ID),
			"Нажмите кнопку ниже, чтобы получить предсказание!",
		).WithReplyMarkup(b.mainKeyboard()))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("start_back"))

	// Pre-checkout: always confirm, Telegram holds the money either way
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		query := update.PreCheckoutQuery
		err := ctx.Bot().AnswerPreCheckoutQuery(ctx.Context(), &telego.AnswerPreCheckoutQueryParams{
			PreCheckoutQueryID: query.ID,
			Ok:                 true,
		})
		if err != nil {
			b.Log.Error("failed to answer pre-checkout query", slog.Any("err", err))
		}
		return nil
	}, func(ctx context.Context, update telego.Update) bool {
		return update.PreCheckoutQuery != nil
	})

	// Successful payment: credit stars to the payer
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		telegramID := message.From.ID

		user, err := b.Credits.HandleSuccessfulPayment(ctx.Context(), telegramID, message.SuccessfulPayment)
		if err != nil {
			b.Log.Error("failed to credit payment", slog.Int64("telegram_id", telegramID), slog.Any("err", err))
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID),
				"❌ Произошла ошибка при обработке платежа. Пожалуйста, обратитесь в поддержку."))
			return nil
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID),
			fmt.Sprintf("✅ Баланс пополнен!\n⭐ Текущий баланс: %d\n\nНажмите «Получить предсказание»!", user.Stars),
		).WithReplyMarkup(b.mainKeyboard()))
		return nil
	}, func(ctx context.Context, update telego.Update) bool {
		return update.Message != nil && update.Message.SuccessfulPayment != nil
	})

	handler.Start()
}

func (b *Bot) mainKeyboard() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🔮 Получить предсказание").WithCallbackData("get_prediction"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("📊 Рейтинг").WithCallbackData("show_rating"),
			tu.InlineKeyboardButton("👤 Профиль").WithCallbackData("profile"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("⭐ Пополнить звёзды").WithCallbackData("topup_stars"),
		),
	)
}
