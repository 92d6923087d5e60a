package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"prediction-bot/internal/bot"
	"prediction-bot/internal/config"
	"prediction-bot/internal/database"
	"prediction-bot/internal/payment"
	"prediction-bot/internal/predictions"
	"prediction-bot/internal/service"
	"prediction-bot/internal/store"
	"prediction-bot/internal/webapp"
	"prediction-bot/internal/worker"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()

	logger := setupLogger(os.Getenv("ENV"))

	// Connect to Database
	db, err := database.ConnectPostgres(cfg)
	if err != nil {
		log.Fatalf("Could not connect to database: %v", err)
	}

	// Connect to Redis
	rdb, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Could not connect to redis: %v", err)
	}

	// Load prediction corpus
	corpus, err := predictions.Load(cfg.PredictionsPath)
	if err != nil {
		log.Fatalf("Could not load predictions: %v", err)
	}
	logger.Info("loaded prediction corpus", slog.Int("size", corpus.Len()))

	userStore := store.NewStorage(db)
	svc := service.New(userStore, corpus, logger, cfg.PredictionCost, cfg.Cooldown)

	credits := payment.NewCredits(svc, rdb, logger)

	tgBot, err := bot.NewBot(cfg.BotToken, svc, credits, logger, cfg.LeaderboardLimit)
	if err != nil {
		log.Fatalf("Could not create bot: %v", err)
	}

	// Web API for the Telegram WebApp front-end
	web := webapp.New(logger, svc, cfg.LeaderboardLimit, cfg.CreditAllowedCIDRs)
	go func() {
		logger.Info("web API listening", slog.String("addr", cfg.HTTPAddr))
		if err := http.ListenAndServe(cfg.HTTPAddr, web.Router()); err != nil {
			log.Fatalf("Web server failed: %v", err)
		}
	}()

	// Cooldown reminder worker
	reminder := worker.NewReminder(db, rdb, tgBot.Instance, logger, cfg.Cooldown)
	go reminder.Start()

	logger.Info("service started successfully")

	tgBot.Start()
}

func setupLogger(env string) *slog.Logger {
	switch env {
	case "prod":
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
